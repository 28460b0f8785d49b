package dispatcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/arre-io/arre/internal/aiselect"
	"github.com/arre-io/arre/internal/ingest"
	"github.com/arre-io/arre/internal/launcher"
	"github.com/arre-io/arre/internal/taskstore"
	"github.com/arre-io/arre/pkg/types"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeMatcher struct {
	tasks []types.TaskRef
	err   error
}

func (f *fakeMatcher) Match(ctx context.Context, alert *types.NormalizedAlert) ([]types.TaskRef, error) {
	return f.tasks, f.err
}

// fakeDedup reproduces just enough of the real window's contract for
// dispatcher tests: the first CheckAndMark for a given key fires, and
// any later call for the same key within the interval is suppressed.
type fakeDedup struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	err   error
	calls int
}

func newFakeDedup() *fakeDedup {
	return &fakeDedup{seen: make(map[string]time.Time)}
}

func (f *fakeDedup) CheckAndMark(ctx context.Context, taskID string, key types.TriggerKey, fingerprint string, interval time.Duration) (types.DedupResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if interval <= 0 {
		return types.DedupFired, nil
	}
	compound := taskID + "|" + key.Source + "|" + key.AlertName + "|" + fingerprint
	if last, ok := f.seen[compound]; ok && time.Since(last) < interval {
		return types.DedupSuppressed, nil
	}
	f.seen[compound] = time.Now()
	return types.DedupFired, nil
}

type fakeFlags struct {
	mode types.SelectionMode
}

func (f *fakeFlags) Get() types.Flags {
	return types.Flags{IncidentResponseMode: f.mode}
}

type fakeAISelector struct {
	outcome aiselect.Outcome
}

func (f *fakeAISelector) Select(ctx context.Context, alert *types.NormalizedAlert) aiselect.Outcome {
	return f.outcome
}

type fakeLauncher struct {
	result       launcher.Result
	err          error
	gotWorkspace string
}

func (f *fakeLauncher) Launch(ctx context.Context, alert *types.NormalizedAlert, workspace string) (launcher.Result, error) {
	f.gotWorkspace = workspace
	return f.result, f.err
}

type fakeJobSubmitter struct {
	mu      sync.Mutex
	jobID   string
	err     error
	calls   int
	lastReq taskstore.SubmitJobRequest
}

func (f *fakeJobSubmitter) Submit(ctx context.Context, req taskstore.SubmitJobRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return "", f.err
	}
	return f.jobID, nil
}

type fakeStore struct {
	mu      sync.Mutex
	records []*types.AlertRecord
}

func (f *fakeStore) CreateAlertRecord(ctx context.Context, record *types.AlertRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func grafanaPayload(alertName string) []byte {
	return []byte(`{"alerts":[{"status":"firing","labels":{"alertname":"` + alertName + `","severity":"critical"},"annotations":{"summary":"cpu high","description":"server CPU at 95%"}}]}`)
}

// =============================================================================
// Scenario A: deterministic match
// =============================================================================

func TestDispatch_ScenarioA_DeterministicMatch(t *testing.T) {
	task := types.TaskRef{
		ID: "task-1",
		TriggerOnAlerts: []types.TriggerRule{
			{Source: "Grafana", AlertName: "HighCPUUsage", DedupInterval: 5 * time.Minute},
		},
	}
	jobsAdapter := &fakeJobSubmitter{jobID: "job-1"}
	d := New(
		ingest.New(),
		&fakeMatcher{tasks: []types.TaskRef{task}},
		newFakeDedup(),
		&fakeFlags{mode: types.SelectionDeterministic},
		&fakeAISelector{},
		&fakeLauncher{},
		jobsAdapter,
		&fakeStore{},
		testLogger(),
	)

	result, err := d.Dispatch(context.Background(), grafanaPayload("HighCPUUsage"), "team-platform")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("expected success, got %s", result.Status)
	}
	rec := result.Record
	if rec.Source != "Grafana" || rec.AlertName != "HighCPUUsage" {
		t.Errorf("unexpected alert identity: %+v", rec)
	}
	if rec.TasksExecuted != 1 {
		t.Errorf("expected tasks_executed=1, got %d", rec.TasksExecuted)
	}
	if rec.SelectionMode != types.SelectionDeterministic {
		t.Errorf("expected deterministic selection mode, got %s", rec.SelectionMode)
	}
	if len(rec.ExecutedTasks) != 1 || rec.ExecutedTasks[0].TaskID != "task-1" || rec.ExecutedTasks[0].JobID == "" {
		t.Fatalf("unexpected executed tasks: %+v", rec.ExecutedTasks)
	}
	if jobsAdapter.lastReq.Workspace != "team-platform" {
		t.Errorf("expected workspace forwarded to job submission, got %q", jobsAdapter.lastReq.Workspace)
	}
}

// =============================================================================
// Scenario B: deterministic mismatch
// =============================================================================

func TestDispatch_ScenarioB_DeterministicMismatch(t *testing.T) {
	d := New(
		ingest.New(),
		&fakeMatcher{tasks: nil},
		newFakeDedup(),
		&fakeFlags{mode: types.SelectionDeterministic},
		&fakeAISelector{},
		&fakeLauncher{},
		&fakeJobSubmitter{},
		&fakeStore{},
		testLogger(),
	)

	result, err := d.Dispatch(context.Background(), grafanaPayload("UnknownAlert"), "")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	rec := result.Record
	if rec.TasksExecuted != 0 {
		t.Errorf("expected tasks_executed=0, got %d", rec.TasksExecuted)
	}
	if rec.IncidentResponseMode != types.SelectionDeterministic {
		t.Errorf("expected configured mode deterministic, got %s", rec.IncidentResponseMode)
	}
}

// =============================================================================
// Scenario C: AI-selected finds a tooltask
// =============================================================================

func TestDispatch_ScenarioC_AISelectedFindsToolTask(t *testing.T) {
	outcome := aiselect.Outcome{
		Found:        true,
		TaskID:       "tooltask-1",
		Confidence:   0.9,
		Reasoning:    "matches CPU investigation runbook",
		CandidateIDs: []string{"tooltask-1"},
	}
	d := New(
		ingest.New(),
		&fakeMatcher{tasks: nil},
		newFakeDedup(),
		&fakeFlags{mode: types.SelectionAISelected},
		&fakeAISelector{outcome: outcome},
		&fakeLauncher{},
		&fakeJobSubmitter{jobID: "job-2"},
		&fakeStore{},
		testLogger(),
	)

	result, err := d.Dispatch(context.Background(), grafanaPayload("CPUSpike"), "")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	rec := result.Record
	if rec.TasksExecuted != 1 {
		t.Errorf("expected tasks_executed=1, got %d", rec.TasksExecuted)
	}
	if rec.SelectionMode != types.SelectionAISelected {
		t.Errorf("expected ai_selected mode, got %s", rec.SelectionMode)
	}
	if rec.AIConfidence < 0.89 || rec.AIConfidence > 0.91 {
		t.Errorf("expected ai_confidence~=0.9, got %v", rec.AIConfidence)
	}
	if rec.AIReasoning == "" {
		t.Error("expected non-empty ai_reasoning")
	}
	if len(rec.ExecutedTasks) != 1 || rec.ExecutedTasks[0].TaskID != "tooltask-1" {
		t.Fatalf("unexpected executed tasks: %+v", rec.ExecutedTasks)
	}
}

// =============================================================================
// Scenario D: AI-selected, no similar task
// =============================================================================

func TestDispatch_ScenarioD_AISelectedNoCandidate(t *testing.T) {
	d := New(
		ingest.New(),
		&fakeMatcher{tasks: nil},
		newFakeDedup(),
		&fakeFlags{mode: types.SelectionAISelected},
		&fakeAISelector{outcome: aiselect.Outcome{}},
		&fakeLauncher{},
		&fakeJobSubmitter{},
		&fakeStore{},
		testLogger(),
	)

	result, err := d.Dispatch(context.Background(), grafanaPayload("CPUSpike"), "")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	rec := result.Record
	if rec.TasksExecuted != 0 {
		t.Errorf("expected tasks_executed=0, got %d", rec.TasksExecuted)
	}
	if !rec.AIAttempted {
		t.Error("expected ai_attempted=true")
	}
	if rec.AIConfidence != 0 {
		t.Errorf("expected ai_confidence=0, got %v", rec.AIConfidence)
	}
}

// =============================================================================
// Scenario E: autonomous
// =============================================================================

func TestDispatch_ScenarioE_Autonomous(t *testing.T) {
	result := launcher.Result{
		RunbookTaskID: "runbook-1",
		ChildTaskID:   "child-1",
		JobID:         "job-3",
		Confidence:    1.0,
	}
	fakeLaunch := &fakeLauncher{result: result}
	d := New(
		ingest.New(),
		&fakeMatcher{tasks: nil},
		newFakeDedup(),
		&fakeFlags{mode: types.SelectionAutonomous},
		&fakeAISelector{},
		fakeLaunch,
		&fakeJobSubmitter{},
		&fakeStore{},
		testLogger(),
	)

	dispatchResult, err := d.Dispatch(context.Background(), grafanaPayload("DBSlowness"), "team-platform")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if fakeLaunch.gotWorkspace != "team-platform" {
		t.Errorf("expected workspace forwarded to launcher, got %q", fakeLaunch.gotWorkspace)
	}
	rec := dispatchResult.Record
	if rec.TasksExecuted < 1 {
		t.Errorf("expected tasks_executed>=1, got %d", rec.TasksExecuted)
	}
	if rec.RunbookTaskID == nil || *rec.RunbookTaskID != "runbook-1" {
		t.Errorf("expected runbook_task_id=runbook-1, got %v", rec.RunbookTaskID)
	}
	if rec.ChildTaskID == nil || *rec.ChildTaskID != "child-1" {
		t.Errorf("expected child_task_id=child-1, got %v", rec.ChildTaskID)
	}
	if rec.SelectionMode != types.SelectionAutonomous {
		t.Errorf("expected autonomous selection mode, got %s", rec.SelectionMode)
	}
}

// =============================================================================
// Scenario F: dedup
// =============================================================================

func TestDispatch_ScenarioF_DedupSuppressesSecondPost(t *testing.T) {
	task := types.TaskRef{
		ID: "task-1",
		TriggerOnAlerts: []types.TriggerRule{
			{Source: "Grafana", AlertName: "HighCPUUsage", DedupInterval: 30 * time.Second},
		},
	}
	jobs := &fakeJobSubmitter{jobID: "job-1"}
	d := New(
		ingest.New(),
		&fakeMatcher{tasks: []types.TaskRef{task}},
		newFakeDedup(),
		&fakeFlags{mode: types.SelectionDeterministic},
		&fakeAISelector{},
		&fakeLauncher{},
		jobs,
		&fakeStore{},
		testLogger(),
	)

	payload := grafanaPayload("HighCPUUsage")

	first, err := d.Dispatch(context.Background(), payload, "")
	if err != nil {
		t.Fatalf("first Dispatch: %v", err)
	}
	second, err := d.Dispatch(context.Background(), payload, "")
	if err != nil {
		t.Fatalf("second Dispatch: %v", err)
	}

	if first.Status != StatusSuccess || second.Status != StatusSuccess {
		t.Fatalf("expected both dispatches to succeed, got %s and %s", first.Status, second.Status)
	}
	if jobs.calls != 1 {
		t.Errorf("expected exactly one job submission, got %d", jobs.calls)
	}
	if first.Record.TasksExecuted != 1 {
		t.Errorf("expected first dispatch to execute 1 task, got %d", first.Record.TasksExecuted)
	}
	if second.Record.TasksExecuted != 0 {
		t.Errorf("expected second dispatch to execute 0 tasks, got %d", second.Record.TasksExecuted)
	}
	if len(second.Record.ExecutedTasks) != 1 || second.Record.ExecutedTasks[0].ExecutionStatus != types.ExecutionSuppressed {
		t.Fatalf("expected second dispatch's task marked suppressed, got %+v", second.Record.ExecutedTasks)
	}
}

// =============================================================================
// Additional edge cases
// =============================================================================

func TestDispatch_UnparseablePayloadPersistsMinimalRecord(t *testing.T) {
	store := &fakeStore{}
	d := New(
		ingest.New(),
		&fakeMatcher{},
		newFakeDedup(),
		&fakeFlags{mode: types.SelectionDeterministic},
		&fakeAISelector{},
		&fakeLauncher{},
		&fakeJobSubmitter{},
		store,
		testLogger(),
	)

	result, err := d.Dispatch(context.Background(), []byte(`{"not":"a recognized shape"}`), "")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.Status != StatusUnparseable {
		t.Fatalf("expected unparseable, got %s", result.Status)
	}
	if result.Record.SelectionMode != types.SelectionNone {
		t.Errorf("expected selection_mode=none, got %s", result.Record.SelectionMode)
	}
	if len(store.records) != 1 {
		t.Fatalf("expected exactly one persisted record, got %d", len(store.records))
	}
}

func TestDispatch_MatcherFailureIsTransientAndNotPersisted(t *testing.T) {
	store := &fakeStore{}
	d := New(
		ingest.New(),
		&fakeMatcher{err: errors.New("task store unreachable")},
		newFakeDedup(),
		&fakeFlags{mode: types.SelectionDeterministic},
		&fakeAISelector{},
		&fakeLauncher{},
		&fakeJobSubmitter{},
		store,
		testLogger(),
	)

	result, err := d.Dispatch(context.Background(), grafanaPayload("HighCPUUsage"), "")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.Status != StatusTransient {
		t.Fatalf("expected transient, got %s", result.Status)
	}
	if result.Record != nil {
		t.Error("expected no record on transient failure")
	}
	if len(store.records) != 0 {
		t.Errorf("expected nothing persisted, got %d", len(store.records))
	}
}

func TestDispatch_DedupStoreFailureFailsOpen(t *testing.T) {
	task := types.TaskRef{
		ID: "task-1",
		TriggerOnAlerts: []types.TriggerRule{
			{Source: "Grafana", AlertName: "HighCPUUsage", DedupInterval: 5 * time.Minute},
		},
	}
	d := New(
		ingest.New(),
		&fakeMatcher{tasks: []types.TaskRef{task}},
		&fakeDedup{err: errors.New("redis unreachable")},
		&fakeFlags{mode: types.SelectionDeterministic},
		&fakeAISelector{},
		&fakeLauncher{},
		&fakeJobSubmitter{jobID: "job-1"},
		&fakeStore{},
		testLogger(),
	)

	result, err := d.Dispatch(context.Background(), grafanaPayload("HighCPUUsage"), "")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.Record.TasksExecuted != 1 {
		t.Errorf("expected dedup failure to fail open and still execute, got %d", result.Record.TasksExecuted)
	}
}

func TestDispatch_JobSubmissionFailureDoesNotAbortSiblings(t *testing.T) {
	tasks := []types.TaskRef{
		{ID: "task-1", TriggerOnAlerts: []types.TriggerRule{{Source: "Grafana", AlertName: "HighCPUUsage"}}},
		{ID: "task-2", TriggerOnAlerts: []types.TriggerRule{{Source: "Grafana", AlertName: "HighCPUUsage"}}},
	}
	d := New(
		ingest.New(),
		&fakeMatcher{tasks: tasks},
		newFakeDedup(),
		&fakeFlags{mode: types.SelectionDeterministic},
		&fakeAISelector{},
		&fakeLauncher{},
		&fakeJobSubmitter{err: errors.New("task store unavailable")},
		&fakeStore{},
		testLogger(),
	)

	result, err := d.Dispatch(context.Background(), grafanaPayload("HighCPUUsage"), "")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(result.Record.ExecutedTasks) != 2 {
		t.Fatalf("expected both sibling dispatches recorded, got %d", len(result.Record.ExecutedTasks))
	}
	for _, et := range result.Record.ExecutedTasks {
		if et.ExecutionStatus != types.ExecutionFailed || et.Error == "" {
			t.Errorf("expected failed status with error message, got %+v", et)
		}
	}
}

func TestDispatch_AutonomousLaunchFailureRecordsNoneAndAttempted(t *testing.T) {
	d := New(
		ingest.New(),
		&fakeMatcher{tasks: nil},
		newFakeDedup(),
		&fakeFlags{mode: types.SelectionAutonomous},
		&fakeAISelector{},
		&fakeLauncher{err: errors.New("llm unavailable")},
		&fakeJobSubmitter{},
		&fakeStore{},
		testLogger(),
	)

	result, err := d.Dispatch(context.Background(), grafanaPayload("DBSlowness"), "")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	rec := result.Record
	if rec.SelectionMode != types.SelectionNone {
		t.Errorf("expected selection_mode=none after launch failure, got %s", rec.SelectionMode)
	}
	if !rec.AIAttempted {
		t.Error("expected ai_attempted=true")
	}
}
