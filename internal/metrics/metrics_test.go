package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordDispatch(t *testing.T) {
	m := New()

	m.RecordDispatch("deterministic", "success", 120*time.Millisecond)

	got := testutil.ToFloat64(m.DispatchesTotal.WithLabelValues("deterministic", "success"))
	if got != 1 {
		t.Errorf("DispatchesTotal = %v, want 1", got)
	}

	count := testutil.CollectAndCount(m.DispatchDuration)
	if count == 0 {
		t.Error("expected DispatchDuration to have observations")
	}
}

func TestRecordTaskExecution(t *testing.T) {
	m := New()

	m.RecordTaskExecution("executed")
	m.RecordTaskExecution("executed")
	m.RecordTaskExecution("suppressed")

	if got := testutil.ToFloat64(m.TasksExecutedTotal.WithLabelValues("executed")); got != 2 {
		t.Errorf("executed count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.TasksExecutedTotal.WithLabelValues("suppressed")); got != 1 {
		t.Errorf("suppressed count = %v, want 1", got)
	}
}

func TestRecordDedupCheck(t *testing.T) {
	m := New()

	m.RecordDedupCheck("fired")
	m.RecordDedupCheck("suppressed")
	m.RecordDedupCheck("suppressed")

	if got := testutil.ToFloat64(m.DedupChecksTotal.WithLabelValues("fired")); got != 1 {
		t.Errorf("fired count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.DedupChecksTotal.WithLabelValues("suppressed")); got != 2 {
		t.Errorf("suppressed count = %v, want 2", got)
	}
}

func TestRecordJobSubmit(t *testing.T) {
	m := New()

	m.RecordJobSubmit("success", 50*time.Millisecond, 2)

	if got := testutil.ToFloat64(m.JobSubmitRetries); got != 2 {
		t.Errorf("JobSubmitRetries = %v, want 2", got)
	}
	count := testutil.CollectAndCount(m.JobSubmitDuration)
	if count == 0 {
		t.Error("expected JobSubmitDuration to have observations")
	}
}

func TestRecordJobSubmit_NoRetriesLeavesCounterUntouched(t *testing.T) {
	m := New()

	m.RecordJobSubmit("success", 10*time.Millisecond, 0)

	if got := testutil.ToFloat64(m.JobSubmitRetries); got != 0 {
		t.Errorf("JobSubmitRetries = %v, want 0", got)
	}
}

func TestRecordAIConfidence(t *testing.T) {
	m := New()

	m.RecordAIConfidence("ai_selected", 0.82)

	count := testutil.CollectAndCount(m.AIConfidence.WithLabelValues("ai_selected"))
	if count != 1 {
		t.Errorf("AIConfidence observation count = %v, want 1", count)
	}
}

func TestSetAlertsInFlight(t *testing.T) {
	m := New()

	m.SetAlertsInFlight(3)
	if got := testutil.ToFloat64(m.AlertsInFlight); got != 3 {
		t.Errorf("AlertsInFlight = %v, want 3", got)
	}

	m.SetAlertsInFlight(0)
	if got := testutil.ToFloat64(m.AlertsInFlight); got != 0 {
		t.Errorf("AlertsInFlight = %v, want 0", got)
	}
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	m := New()
	m.RecordDispatch("deterministic", "success", time.Second)

	if m.Handler() == nil {
		t.Fatal("expected a non-nil metrics handler")
	}
}
