package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"

	"github.com/arre-io/arre/pkg/types"
)

// DatadogParser recognizes a Datadog event envelope: a loosely
// structured JSON object carrying "alert_type" and "title" fields that
// does not match the stricter Alertmanager or PagerDuty shapes. Fields
// are pulled out with gojq rather than a hand-rolled map walker since
// Datadog's envelope shape varies across monitor types.
type DatadogParser struct{}

var (
	datadogTitleQuery = mustParseJQ(".title // .alert.title // empty")
	datadogTypeQuery  = mustParseJQ(".alert_type // .alert.alert_type // empty")
	datadogTextQuery  = mustParseJQ(".text // .alert.text // empty")
	datadogTagsQuery  = mustParseJQ("(.tags // .alert.tags // []) | join(\",\")")
	datadogIDQuery    = mustParseJQ(".id // .alert.id // empty | tostring")
	datadogDateQuery  = mustParseJQ(".date // .alert.date // empty")
)

func mustParseJQ(expr string) *gojq.Query {
	q, err := gojq.Parse(expr)
	if err != nil {
		panic(fmt.Sprintf("ingest: invalid embedded jq expression %q: %v", expr, err))
	}
	return q
}

func jqFirstString(query *gojq.Query, input any) string {
	iter := query.Run(input)
	v, ok := iter.Next()
	if !ok {
		return ""
	}
	if _, isErr := v.(error); isErr {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return fmt.Sprintf("%v", val)
	default:
		return ""
	}
}

func (p *DatadogParser) Detect(raw []byte) bool {
	var input any
	if err := json.Unmarshal(raw, &input); err != nil {
		return false
	}
	title := jqFirstString(datadogTitleQuery, input)
	alertType := jqFirstString(datadogTypeQuery, input)
	return title != "" && alertType != ""
}

func (p *DatadogParser) Parse(raw []byte) (*types.NormalizedAlert, error) {
	var input any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("decode datadog event: %w", err)
	}

	title := jqFirstString(datadogTitleQuery, input)
	if title == "" {
		return nil, fmt.Errorf("datadog event missing title")
	}
	alertType := jqFirstString(datadogTypeQuery, input)
	text := jqFirstString(datadogTextQuery, input)
	tags := jqFirstString(datadogTagsQuery, input)
	id := jqFirstString(datadogIDQuery, input)
	dateStr := jqFirstString(datadogDateQuery, input)

	startsAt := time.Now()
	if dateStr != "" {
		if unixSeconds, err := time.Parse(time.RFC3339, dateStr); err == nil {
			startsAt = unixSeconds
		}
	}

	return &types.NormalizedAlert{
		Source:    TitleCase("datadog"),
		AlertName: title,
		Status:    statusFromDatadogAlertType(alertType),
		Severity:  severityFromDatadogAlertType(alertType),
		Labels: map[string]string{
			"event_id": id,
			"tags":     tags,
		},
		Annotations: map[string]string{
			"summary":     title,
			"description": text,
		},
		StartsAt:   startsAt,
		RawPayload: json.RawMessage(raw),
	}, nil
}

func statusFromDatadogAlertType(alertType string) types.AlertStatus {
	if alertType == "success" || alertType == "recovery" {
		return types.AlertStatusResolved
	}
	return types.AlertStatusFiring
}

func severityFromDatadogAlertType(alertType string) types.Severity {
	switch alertType {
	case "error", "critical":
		return types.SeverityCritical
	case "warning":
		return types.SeverityWarning
	case "info", "success", "recovery":
		return types.SeverityInfo
	default:
		return types.SeverityUnknown
	}
}
