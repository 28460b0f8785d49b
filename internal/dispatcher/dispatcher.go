// Package dispatcher implements the alert-to-task state machine: given
// a raw webhook payload, normalize it, attempt a deterministic match,
// fall through to the configured AI mode when nothing matches, dedup
// every candidate dispatch, submit jobs, and persist exactly one
// AlertRecord describing the outcome.
//
// Every branch returns a typed Result rather than propagating an error
// for control flow; the API layer maps Result.Status to an HTTP code.
// The one exception is the TransientFailure/timeout boundary itself,
// which the dispatcher also expresses as a Result field rather than an
// error, so a caller never needs to type-switch on err to learn what
// happened to an alert it submitted.
package dispatcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arre-io/arre/internal/aiselect"
	"github.com/arre-io/arre/internal/config"
	"github.com/arre-io/arre/internal/launcher"
	"github.com/arre-io/arre/internal/taskstore"
	"github.com/arre-io/arre/pkg/types"
)

// Status is the typed outcome of a dispatch attempt, used by the API
// layer to pick an HTTP status code without inspecting an error.
type Status string

const (
	// StatusSuccess covers every outcome the dispatcher fully handled,
	// including zero tasks executed: an unmatched alert is not a
	// failure.
	StatusSuccess Status = "success"

	// StatusUnparseable means no registered parser recognized the
	// payload; a minimal record is still persisted.
	StatusUnparseable Status = "unparseable"

	// StatusTransient means a downstream dependency failed in a way
	// that was not safe to record as a definitive outcome; no record
	// is persisted.
	StatusTransient Status = "transient"

	// StatusTimeout means the alert's deadline elapsed mid-dispatch. A
	// best-effort record is persisted with execution_status=timeout.
	StatusTimeout Status = "timeout"
)

// Result is the dispatcher's typed outcome for one processAlert call.
type Result struct {
	Status Status
	Record *types.AlertRecord // nil only for StatusTransient
}

// Matcher is the deterministic trigger matcher; satisfied by
// *matcher.Matcher.
type Matcher interface {
	Match(ctx context.Context, alert *types.NormalizedAlert) ([]types.TaskRef, error)
}

// Deduper is the dedup window; satisfied by *dedup.Window.
type Deduper interface {
	CheckAndMark(ctx context.Context, taskID string, key types.TriggerKey, fingerprint string, interval time.Duration) (types.DedupResult, error)
}

// FlagsReader is the subset of the flag store the dispatcher reads;
// satisfied by *flags.Store.
type FlagsReader interface {
	Get() types.Flags
}

// AISelector is the AI-selected mode composer; satisfied by
// *aiselect.Selector.
type AISelector interface {
	Select(ctx context.Context, alert *types.NormalizedAlert) aiselect.Outcome
}

// Launcher is the autonomous-mode composer; satisfied by
// *launcher.Launcher.
type Launcher interface {
	Launch(ctx context.Context, alert *types.NormalizedAlert, workspace string) (launcher.Result, error)
}

// JobSubmitter is the narrow job-submission interface; satisfied by
// *jobs.Adapter.
type JobSubmitter interface {
	Submit(ctx context.Context, req taskstore.SubmitJobRequest) (string, error)
}

// AlertRecorder persists the append-only alert record; satisfied by
// *store.Store.
type AlertRecorder interface {
	CreateAlertRecord(ctx context.Context, record *types.AlertRecord) error
}

// Normalizer converts a raw webhook payload into a NormalizedAlert;
// satisfied by *ingest.Normalizer.
type Normalizer interface {
	Normalize(raw []byte) (*types.NormalizedAlert, error)
}

// Dispatcher wires together every collaborator the state machine
// needs. Each field is a narrow interface so tests substitute fakes
// without depending on any concrete package.
type Dispatcher struct {
	normalizer Normalizer
	matcher    Matcher
	dedup      Deduper
	flags      FlagsReader
	aiselect   AISelector
	launcher   Launcher
	jobs       JobSubmitter
	store      AlertRecorder
	logger     *slog.Logger
}

// New returns a Dispatcher over the given collaborators.
func New(normalizer Normalizer, matcher Matcher, dedup Deduper, flags FlagsReader, selector AISelector, launcher Launcher, jobs JobSubmitter, store AlertRecorder, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		normalizer: normalizer,
		matcher:    matcher,
		dedup:      dedup,
		flags:      flags,
		aiselect:   selector,
		launcher:   launcher,
		jobs:       jobs,
		store:      store,
		logger:     logger.With("component", "dispatcher"),
	}
}

// accum threads the state-machine's progress through the step*
// methods so a timeout can still produce a best-known partial record.
type accum struct {
	alert                *types.NormalizedAlert
	workspace            string
	configuredMode       types.SelectionMode
	selectionMode        types.SelectionMode
	aiAttempted          bool
	aiConfidence         float64
	aiReasoning          string
	aiCandidateToolTasks []string
	runbookTaskID        *string
	childTaskID          *string
	primaryJobID         *string
	executedTasks        []types.ExecutedTask
}

// Dispatch runs the full S0-S6 state machine for one raw alert
// payload under a request-scoped deadline: 60s by default, extended to
// 120s when the configured mode is autonomous. workspace is an opaque
// deployment-routing hint forwarded to every job submission the
// dispatch produces; Dispatch never interprets it.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte, workspace string) (Result, error) {
	// S0: Received.
	alert, err := d.normalizer.Normalize(raw)
	if err != nil {
		d.logger.Warn("unparseable alert payload", "error", err)
		return d.recordUnparseable(ctx, raw), nil
	}

	flagSnapshot := d.flags.Get()
	deadline := config.AlertDeadlineDefault
	if flagSnapshot.IncidentResponseMode == types.SelectionAutonomous {
		deadline = config.AlertDeadlineAutonomous
	}
	dctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	state := &accum{alert: alert, workspace: workspace, configuredMode: flagSnapshot.IncidentResponseMode}

	// S1: DeterministicAttempt.
	matches, err := d.matcher.Match(dctx, alert)
	if err != nil {
		d.logger.Error("deterministic matcher failed", "source", alert.Source, "alert_name", alert.AlertName, "error", err)
		return Result{Status: StatusTransient}, nil
	}

	if len(matches) > 0 {
		d.stepDeterministicDispatch(dctx, state, matches)
	} else {
		d.stepModeBranch(dctx, state, flagSnapshot)
	}

	if dctx.Err() != nil {
		return d.recordTimeout(ctx, state), nil
	}

	record := d.buildRecord(state, executionStatusForResult(state))
	if err := d.store.CreateAlertRecord(ctx, record); err != nil {
		d.logger.Error("failed to persist alert record", "error", err)
		return Result{Status: StatusTransient}, nil
	}
	return Result{Status: StatusSuccess, Record: record}, nil
}

// stepDeterministicDispatch implements S2: dedup and submit every
// matched task, in the ascending-id order the matcher already
// returned them in. selection_mode is deterministic regardless of
// whether any individual dispatch fired or was suppressed.
func (d *Dispatcher) stepDeterministicDispatch(ctx context.Context, state *accum, matches []types.TaskRef) {
	state.selectionMode = types.SelectionDeterministic

	for _, task := range matches {
		if ctx.Err() != nil {
			return
		}
		d.dispatchTask(ctx, state, task.ID, ruleInterval(task, state.alert))
	}
}

// stepModeBranch implements S3 through S6: no deterministic rule
// matched, so branch on the configured mode.
func (d *Dispatcher) stepModeBranch(ctx context.Context, state *accum, flagSnapshot types.Flags) {
	switch flagSnapshot.IncidentResponseMode {
	case types.SelectionAISelected:
		d.stepAIAssistedSelection(ctx, state)
	case types.SelectionAutonomous:
		d.stepAutonomousLaunch(ctx, state)
	default:
		state.selectionMode = types.SelectionNone
	}
}

// stepAIAssistedSelection implements S4.
func (d *Dispatcher) stepAIAssistedSelection(ctx context.Context, state *accum) {
	state.aiAttempted = true

	outcome := d.aiselect.Select(ctx, state.alert)
	state.aiCandidateToolTasks = outcome.CandidateIDs
	state.aiReasoning = outcome.Reasoning
	state.aiConfidence = outcome.Confidence

	if !outcome.Found {
		state.selectionMode = types.SelectionNone
		return
	}

	state.selectionMode = types.SelectionAISelected

	// An AI-selected dispatch has no trigger rule to source a dedup
	// interval from; fall back to config.DedupIntervalDefault.
	d.dispatchTask(ctx, state, outcome.TaskID, config.DedupIntervalDefault)
}

// stepAutonomousLaunch implements S5.
func (d *Dispatcher) stepAutonomousLaunch(ctx context.Context, state *accum) {
	state.aiAttempted = true

	result, err := d.launcher.Launch(ctx, state.alert, state.workspace)
	if err != nil {
		d.logger.Error("autonomous launch failed", "error", err)
		state.selectionMode = types.SelectionNone
		return
	}

	state.selectionMode = types.SelectionAutonomous
	state.aiConfidence = result.Confidence
	state.runbookTaskID = &result.RunbookTaskID
	state.childTaskID = &result.ChildTaskID
	state.primaryJobID = &result.JobID
	state.executedTasks = append(state.executedTasks, types.ExecutedTask{
		TaskID:          result.RunbookTaskID,
		JobID:           result.JobID,
		ExecutionStatus: types.ExecutionStarted,
	})
}

// dispatchTask runs the shared dedup-then-submit path used by both
// deterministic dispatch (S2) and a confirmed AI selection (S4). A
// dedup-store failure fails open: the dispatch proceeds as if fired,
// since a missed execution is worse than a redundant one.
func (d *Dispatcher) dispatchTask(ctx context.Context, state *accum, taskID string, dedupInterval time.Duration) {
	key := types.KeyFor(state.alert)
	result, err := d.dedup.CheckAndMark(ctx, taskID, key, state.alert.Fingerprint, dedupInterval)
	if err != nil {
		d.logger.Warn("dedup check failed, failing open", "task_id", taskID, "error", err)
		result = types.DedupFired
	}

	if result == types.DedupSuppressed {
		state.executedTasks = append(state.executedTasks, types.ExecutedTask{
			TaskID:          taskID,
			ExecutionStatus: types.ExecutionSuppressed,
		})
		return
	}

	jobID, err := d.jobs.Submit(ctx, taskstore.SubmitJobRequest{
		TaskID: taskID,
		AlertContext: map[string]any{
			"source":     state.alert.Source,
			"alert_name": state.alert.AlertName,
			"severity":   string(state.alert.Severity),
		},
		Workspace: state.workspace,
	})
	if err != nil {
		d.logger.Error("job submission failed", "task_id", taskID, "error", err)
		state.executedTasks = append(state.executedTasks, types.ExecutedTask{
			TaskID:          taskID,
			ExecutionStatus: types.ExecutionFailed,
			Error:           err.Error(),
		})
		return
	}

	if state.primaryJobID == nil {
		id := jobID
		state.primaryJobID = &id
	}
	state.executedTasks = append(state.executedTasks, types.ExecutedTask{
		TaskID:          taskID,
		JobID:           jobID,
		ExecutionStatus: types.ExecutionStarted,
	})
}

// ruleInterval finds the dedup interval of the trigger rule on task
// that matched alert. A task may carry several rules; the first one
// matching the alert's (source, alert_name) governs its interval.
func ruleInterval(task types.TaskRef, alert *types.NormalizedAlert) time.Duration {
	for _, rule := range task.TriggerOnAlerts {
		if rule.Source == alert.Source && rule.AlertName == alert.AlertName {
			return rule.DedupInterval
		}
	}
	return 0
}

// tasksExecuted counts dispatches that actually started, i.e. were
// neither suppressed nor failed.
func tasksExecuted(tasks []types.ExecutedTask) int {
	n := 0
	for _, t := range tasks {
		if t.ExecutionStatus == types.ExecutionStarted {
			n++
		}
	}
	return n
}

// executionStatusForResult derives the top-level execution_status
// recorded on the AlertRecord from the accumulated per-task outcomes.
func executionStatusForResult(state *accum) string {
	if len(state.executedTasks) == 0 {
		return "none"
	}
	for _, t := range state.executedTasks {
		if t.ExecutionStatus == types.ExecutionStarted {
			return "started"
		}
	}
	return string(state.executedTasks[len(state.executedTasks)-1].ExecutionStatus)
}

func (d *Dispatcher) buildRecord(state *accum, executionStatus string) *types.AlertRecord {
	return &types.AlertRecord{
		ID:                   uuid.New().String(),
		NormalizedAlert:      *state.alert,
		SelectionMode:        state.selectionMode,
		IncidentResponseMode: state.configuredMode,
		RunbookTaskID:        state.runbookTaskID,
		PrimaryJobID:         state.primaryJobID,
		ChildTaskID:          state.childTaskID,
		AIAttempted:          state.aiAttempted,
		AIConfidence:         state.aiConfidence,
		AIReasoning:          state.aiReasoning,
		AICandidateToolTasks: state.aiCandidateToolTasks,
		ExecutionStatus:      executionStatus,
		TasksExecuted:        tasksExecuted(state.executedTasks),
		ExecutedTasks:        state.executedTasks,
		CreatedAt:            time.Now(),
	}
}

// recordUnparseable builds and persists the minimal record required
// when no parser recognized the payload: S0's failure path never
// crashes the dispatcher and never leaves the attempt unaudited.
func (d *Dispatcher) recordUnparseable(ctx context.Context, raw []byte) Result {
	record := &types.AlertRecord{
		ID: uuid.New().String(),
		NormalizedAlert: types.NormalizedAlert{
			RawPayload: raw,
			ReceivedAt: time.Now(),
		},
		SelectionMode:   types.SelectionNone,
		ExecutionStatus: "unparseable",
		CreatedAt:       time.Now(),
	}
	if err := d.store.CreateAlertRecord(ctx, record); err != nil {
		d.logger.Error("failed to persist unparseable alert record", "error", err)
	}
	return Result{Status: StatusUnparseable, Record: record}
}

// recordTimeout persists a best-known partial record once the
// per-alert deadline has elapsed, using a fresh context since the one
// that expired is no longer usable for the write. Any job already
// submitted is left in place: it is externally owned once accepted.
func (d *Dispatcher) recordTimeout(ctx context.Context, state *accum) Result {
	writeCtx, cancel := context.WithTimeout(detachDeadline(ctx), 5*time.Second)
	defer cancel()

	record := d.buildRecord(state, "timeout")
	if err := d.store.CreateAlertRecord(writeCtx, record); err != nil {
		d.logger.Error("failed to persist timeout alert record", "error", err)
	}
	return Result{Status: StatusTimeout, Record: record}
}

// detachDeadline strips any deadline from ctx while preserving its
// values, so a best-effort write after a timeout is not itself
// immediately cancelled.
func detachDeadline(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
