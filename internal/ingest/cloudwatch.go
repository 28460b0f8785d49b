package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/arre-io/arre/pkg/types"
)

// CloudWatchParser recognizes an SNS envelope wrapping a CloudWatch
// alarm state-change message. SNS nests the alarm payload as a JSON
// string inside the "Message" field, so detection and extraction both
// require unmarshalling twice; gojq pulls the fields out of the inner
// document once decoded.
type CloudWatchParser struct{}

var (
	cloudwatchAlarmNameQuery = mustParseJQ(".AlarmName // empty")
	cloudwatchNewStateQuery  = mustParseJQ(".NewStateValue // empty")
	cloudwatchReasonQuery    = mustParseJQ(".NewStateReason // empty")
	cloudwatchTimeQuery      = mustParseJQ(".StateChangeTime // empty")
	cloudwatchRegionQuery    = mustParseJQ(".Region // empty")
)

type snsEnvelope struct {
	Type             string `json:"Type"`
	TopicArn         string `json:"TopicArn"`
	Message          string `json:"Message"`
	MessageStructure string `json:"MessageStructure,omitempty"`
}

func (p *CloudWatchParser) Detect(raw []byte) bool {
	var envelope snsEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return false
	}
	if envelope.Type != "Notification" || envelope.Message == "" {
		return false
	}
	var inner any
	if err := json.Unmarshal([]byte(envelope.Message), &inner); err != nil {
		return false
	}
	return jqFirstString(cloudwatchAlarmNameQuery, inner) != ""
}

func (p *CloudWatchParser) Parse(raw []byte) (*types.NormalizedAlert, error) {
	var envelope snsEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode sns envelope: %w", err)
	}

	var inner any
	if err := json.Unmarshal([]byte(envelope.Message), &inner); err != nil {
		return nil, fmt.Errorf("decode cloudwatch alarm message: %w", err)
	}

	alarmName := jqFirstString(cloudwatchAlarmNameQuery, inner)
	if alarmName == "" {
		return nil, fmt.Errorf("cloudwatch alarm missing AlarmName")
	}
	newState := jqFirstString(cloudwatchNewStateQuery, inner)
	reason := jqFirstString(cloudwatchReasonQuery, inner)
	region := jqFirstString(cloudwatchRegionQuery, inner)
	changeTime := jqFirstString(cloudwatchTimeQuery, inner)

	status := types.AlertStatusFiring
	if newState == "OK" {
		status = types.AlertStatusResolved
	}

	startsAt := time.Now()
	if parsed, err := time.Parse(time.RFC3339, changeTime); err == nil {
		startsAt = parsed
	}

	var severity types.Severity
	switch newState {
	case "ALARM":
		severity = types.SeverityCritical
	case "INSUFFICIENT_DATA":
		severity = types.SeverityWarning
	default:
		severity = types.SeverityUnknown
	}

	return &types.NormalizedAlert{
		Source:    TitleCase("cloudwatch"),
		AlertName: alarmName,
		Status:    status,
		Severity:  severity,
		Labels: map[string]string{
			"region":    region,
			"new_state": newState,
			"topic_arn": envelope.TopicArn,
		},
		Annotations: map[string]string{
			"summary":     alarmName,
			"description": reason,
		},
		StartsAt:   startsAt,
		RawPayload: json.RawMessage(raw),
	}, nil
}
