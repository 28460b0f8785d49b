package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/arre-io/arre/pkg/types"
)

// alertmanagerWebhook is the Grafana/Prometheus Alertmanager webhook
// envelope: a top-level alerts array, each entry carrying its own
// labels and annotations.
type alertmanagerWebhook struct {
	Alerts []alertmanagerAlert `json:"alerts"`
}

type alertmanagerAlert struct {
	Status      string            `json:"status"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"startsAt"`
	EndsAt      time.Time         `json:"endsAt"`
	Fingerprint string            `json:"fingerprint"`
}

// GrafanaParser recognizes the Grafana/Prometheus Alertmanager webhook
// shape: a top-level "alerts" array whose entries carry
// "labels.alertname".
type GrafanaParser struct{}

func (p *GrafanaParser) Detect(raw []byte) bool {
	var probe struct {
		Alerts []struct {
			Labels map[string]string `json:"labels"`
		} `json:"alerts"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	if len(probe.Alerts) == 0 {
		return false
	}
	_, ok := probe.Alerts[0].Labels["alertname"]
	return ok
}

func (p *GrafanaParser) Parse(raw []byte) (*types.NormalizedAlert, error) {
	var webhook alertmanagerWebhook
	if err := json.Unmarshal(raw, &webhook); err != nil {
		return nil, fmt.Errorf("decode grafana webhook: %w", err)
	}
	if len(webhook.Alerts) == 0 {
		return nil, fmt.Errorf("grafana webhook carries no alerts")
	}

	// Alertmanager can batch several alerts into one webhook call, but
	// Normalize produces exactly one NormalizedAlert per raw payload and
	// no caller splits a batch before calling it: only the first entry
	// is processed, and any further alerts in the same payload are
	// silently dropped. A grouped Alertmanager route (group_by) can
	// produce multi-alert batches routinely, so this is a real gap, not
	// just a theoretical one.
	first := webhook.Alerts[0]

	alertName := first.Labels["alertname"]
	if alertName == "" {
		return nil, fmt.Errorf("grafana alert missing labels.alertname")
	}

	status := types.AlertStatusFiring
	if first.Status == "resolved" {
		status = types.AlertStatusResolved
	}

	var endsAt *time.Time
	if !first.EndsAt.IsZero() {
		ends := first.EndsAt
		endsAt = &ends
	}

	return &types.NormalizedAlert{
		Source:      TitleCase("grafana"),
		AlertName:   alertName,
		Status:      status,
		Severity:    severityFromLabel(first.Labels["severity"]),
		Fingerprint: first.Fingerprint,
		Labels:      first.Labels,
		Annotations: first.Annotations,
		StartsAt:    first.StartsAt,
		EndsAt:      endsAt,
		RawPayload:  json.RawMessage(raw),
	}, nil
}

func severityFromLabel(s string) types.Severity {
	switch s {
	case "critical":
		return types.SeverityCritical
	case "warning":
		return types.SeverityWarning
	case "info":
		return types.SeverityInfo
	default:
		return types.SeverityUnknown
	}
}
