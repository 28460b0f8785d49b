package ingest

import (
	"errors"
	"testing"

	"github.com/arre-io/arre/pkg/types"
)

func TestNormalize_Grafana(t *testing.T) {
	payload := []byte(`{
		"alerts": [{
			"status": "firing",
			"labels": {"alertname": "HighCPUUsage", "severity": "warning"},
			"annotations": {"summary": "CPU high", "description": "CPU above 90%"},
			"startsAt": "2026-07-30T10:00:00Z",
			"endsAt": "0001-01-01T00:00:00Z",
			"fingerprint": "abc123"
		}]
	}`)

	n := New()
	alert, err := n.Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if alert.Source != "Grafana" {
		t.Errorf("expected source Grafana, got %s", alert.Source)
	}
	if alert.AlertName != "HighCPUUsage" {
		t.Errorf("expected alert name HighCPUUsage, got %s", alert.AlertName)
	}
	if alert.Status != types.AlertStatusFiring {
		t.Errorf("expected firing, got %s", alert.Status)
	}
	if alert.Severity != types.SeverityWarning {
		t.Errorf("expected warning, got %s", alert.Severity)
	}
	if alert.Fingerprint != "abc123" {
		t.Errorf("expected preserved fingerprint abc123, got %s", alert.Fingerprint)
	}
	if alert.ReceivedAt.IsZero() {
		t.Error("expected ReceivedAt to be stamped")
	}
}

func TestNormalize_Grafana_BatchPayloadOnlyProcessesFirstAlert(t *testing.T) {
	payload := []byte(`{
		"alerts": [
			{"status": "firing", "labels": {"alertname": "HighCPUUsage", "severity": "warning"}},
			{"status": "firing", "labels": {"alertname": "DiskFull", "severity": "critical"}}
		]
	}`)

	n := New()
	alert, err := n.Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if alert.AlertName != "HighCPUUsage" {
		t.Errorf("expected only the first alert in a batch to be processed, got %s", alert.AlertName)
	}
}

func TestNormalize_Grafana_ComputesFingerprintWhenAbsent(t *testing.T) {
	payload := []byte(`{
		"alerts": [{
			"status": "firing",
			"labels": {"alertname": "DiskFull"},
			"annotations": {},
			"startsAt": "2026-07-30T10:00:00Z"
		}]
	}`)

	n := New()
	alert, err := n.Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if alert.Fingerprint == "" {
		t.Error("expected computed fingerprint")
	}
}

func TestNormalize_GrafanaSourceIsTitleCased(t *testing.T) {
	payload := []byte(`{"alerts":[{"status":"firing","labels":{"alertname":"X"},"annotations":{},"startsAt":"2026-07-30T10:00:00Z"}]}`)
	n := New()
	alert, err := n.Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if alert.Source != "Grafana" {
		t.Errorf("expected TitleCased source Grafana, got %q", alert.Source)
	}
}

func TestNormalize_Pagerduty(t *testing.T) {
	payload := []byte(`{
		"event_type": "incident.trigger",
		"incident": {
			"id": "PINC123",
			"title": "Database connection pool exhausted",
			"status": "triggered",
			"urgency": "high",
			"created_at": "2026-07-30T10:00:00Z",
			"body": {"details": "pool at 100% capacity"}
		}
	}`)

	n := New()
	alert, err := n.Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if alert.Source != "Pagerduty" {
		t.Errorf("expected source Pagerduty, got %s", alert.Source)
	}
	if alert.AlertName != "Database connection pool exhausted" {
		t.Errorf("unexpected alert name: %s", alert.AlertName)
	}
	if alert.Severity != types.SeverityCritical {
		t.Errorf("expected critical from high urgency, got %s", alert.Severity)
	}
}

func TestNormalize_Datadog(t *testing.T) {
	payload := []byte(`{
		"id": 98765,
		"title": "Elevated error rate on checkout-service",
		"alert_type": "error",
		"text": "5xx rate above 5% for 10 minutes",
		"tags": ["service:checkout", "env:prod"],
		"date": "2026-07-30T10:00:00Z"
	}`)

	n := New()
	alert, err := n.Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if alert.Source != "Datadog" {
		t.Errorf("expected source Datadog, got %s", alert.Source)
	}
	if alert.Severity != types.SeverityCritical {
		t.Errorf("expected critical from error alert_type, got %s", alert.Severity)
	}
	if alert.Labels["tags"] != "service:checkout,env:prod" {
		t.Errorf("unexpected joined tags: %s", alert.Labels["tags"])
	}
}

func TestNormalize_CloudWatch(t *testing.T) {
	inner := `{"AlarmName":"prod-api-latency-p99","NewStateValue":"ALARM","NewStateReason":"Threshold crossed","StateChangeTime":"2026-07-30T10:00:00Z","Region":"us-east-1"}`
	payload := []byte(`{"Type":"Notification","TopicArn":"arn:aws:sns:us-east-1:123:alarms","Message":` + quoteJSON(inner) + `}`)

	n := New()
	alert, err := n.Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if alert.Source != "Cloudwatch" {
		t.Errorf("expected source Cloudwatch, got %s", alert.Source)
	}
	if alert.AlertName != "prod-api-latency-p99" {
		t.Errorf("unexpected alert name: %s", alert.AlertName)
	}
	if alert.Status != types.AlertStatusFiring {
		t.Errorf("expected firing for ALARM state, got %s", alert.Status)
	}
}

func TestNormalize_CloudWatch_OKStateResolves(t *testing.T) {
	inner := `{"AlarmName":"prod-api-latency-p99","NewStateValue":"OK","NewStateReason":"Back to normal","StateChangeTime":"2026-07-30T10:05:00Z","Region":"us-east-1"}`
	payload := []byte(`{"Type":"Notification","TopicArn":"arn:aws:sns:us-east-1:123:alarms","Message":` + quoteJSON(inner) + `}`)

	n := New()
	alert, err := n.Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if alert.Status != types.AlertStatusResolved {
		t.Errorf("expected resolved for OK state, got %s", alert.Status)
	}
}

func TestNormalize_Unparseable(t *testing.T) {
	n := New()
	_, err := n.Normalize([]byte(`{"nonsense": true}`))
	if !errors.Is(err, ErrUnparseable) {
		t.Fatalf("expected ErrUnparseable, got %v", err)
	}
}

func TestTitleCase(t *testing.T) {
	cases := map[string]string{
		"grafana":   "Grafana",
		"PAGERDUTY": "Pagerduty",
		"DataDog":   "Datadog",
		"":          "",
	}
	for in, want := range cases {
		if got := TitleCase(in); got != want {
			t.Errorf("TitleCase(%q) = %q, want %q", in, got, want)
		}
	}
}

// quoteJSON turns a raw JSON string into a JSON-quoted string literal,
// mimicking how SNS nests the alarm document as a string.
func quoteJSON(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	for _, r := range s {
		if r == '"' {
			out = append(out, '\\', '"')
		} else {
			out = append(out, byte(r))
		}
	}
	out = append(out, '"')
	return string(out)
}
