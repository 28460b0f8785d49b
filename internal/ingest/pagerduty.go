package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/arre-io/arre/pkg/types"
)

// pagerdutyWebhook is PagerDuty's v3 webhook envelope: an event_type
// of the form "incident.<verb>" wrapping an incident object.
type pagerdutyWebhook struct {
	EventType string `json:"event_type"`
	Incident  struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Status   string `json:"status"`
		Urgency  string `json:"urgency"`
		CreateAt string `json:"created_at"`
		Body     struct {
			Details string `json:"details"`
		} `json:"body"`
	} `json:"incident"`
}

// PagerdutyParser recognizes PagerDuty's incident.* event envelope.
type PagerdutyParser struct{}

func (p *PagerdutyParser) Detect(raw []byte) bool {
	var probe struct {
		EventType string      `json:"event_type"`
		Incident  interface{} `json:"incident"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return strings.HasPrefix(probe.EventType, "incident.") && probe.Incident != nil
}

func (p *PagerdutyParser) Parse(raw []byte) (*types.NormalizedAlert, error) {
	var webhook pagerdutyWebhook
	if err := json.Unmarshal(raw, &webhook); err != nil {
		return nil, fmt.Errorf("decode pagerduty webhook: %w", err)
	}
	if webhook.Incident.Title == "" {
		return nil, fmt.Errorf("pagerduty incident missing title")
	}

	status := types.AlertStatusFiring
	if webhook.Incident.Status == "resolved" {
		status = types.AlertStatusResolved
	}

	startsAt := time.Now()
	if parsed, err := time.Parse(time.RFC3339, webhook.Incident.CreateAt); err == nil {
		startsAt = parsed
	}

	return &types.NormalizedAlert{
		Source:    TitleCase("pagerduty"),
		AlertName: webhook.Incident.Title,
		Status:    status,
		Severity:  severityFromUrgency(webhook.Incident.Urgency),
		Labels: map[string]string{
			"incident_id": webhook.Incident.ID,
			"event_type":  webhook.EventType,
		},
		Annotations: map[string]string{
			"summary":     webhook.Incident.Title,
			"description": webhook.Incident.Body.Details,
		},
		StartsAt:   startsAt,
		RawPayload: json.RawMessage(raw),
	}, nil
}

func severityFromUrgency(urgency string) types.Severity {
	switch urgency {
	case "high":
		return types.SeverityCritical
	case "low":
		return types.SeverityWarning
	default:
		return types.SeverityUnknown
	}
}
