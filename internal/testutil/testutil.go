// Package testutil provides testing utilities and fixtures for the
// alert routing and response engine.
//
// This package contains:
//   - Test helper functions (loggers)
//   - Fixture factories for domain types (alerts, tasks, flags)
//   - Common test patterns and utilities
//
// # Usage
//
// Fixtures use functional options for customization:
//
//	alert := testutil.FixtureNormalizedAlert()
//	alert := testutil.FixtureNormalizedAlert(func(a *types.NormalizedAlert) {
//		a.Source = "Pagerduty"
//		a.Severity = types.SeverityCritical
//	})
package testutil

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/arre-io/arre/pkg/types"
)

// NewTestLogger returns a logger that discards all output.
// Use for tests where logging output is not needed.
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewVerboseTestLogger returns a logger that writes to stderr.
// Use for debugging test failures.
func NewVerboseTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// =============================================================================
// NORMALIZED ALERT FIXTURES
// =============================================================================

// FixtureNormalizedAlert creates a test alert with sensible defaults.
// Use overrides to customize specific fields.
func FixtureNormalizedAlert(overrides ...func(*types.NormalizedAlert)) *types.NormalizedAlert {
	alert := &types.NormalizedAlert{
		Source:      "Grafana",
		AlertName:   "HighCPUUsage",
		Status:      types.AlertStatusFiring,
		Severity:    types.SeverityWarning,
		Fingerprint: uuid.New().String(),
		Labels:      map[string]string{"alertname": "HighCPUUsage"},
		Annotations: map[string]string{"summary": "CPU usage above threshold"},
		StartsAt:    time.Now(),
		RawPayload:  json.RawMessage(`{}`),
		ReceivedAt:  time.Now(),
	}

	for _, override := range overrides {
		override(alert)
	}

	return alert
}

// FixtureResolvedAlert creates an alert in the resolved state.
func FixtureResolvedAlert(overrides ...func(*types.NormalizedAlert)) *types.NormalizedAlert {
	return FixtureNormalizedAlert(append([]func(*types.NormalizedAlert){
		func(a *types.NormalizedAlert) {
			a.Status = types.AlertStatusResolved
			ends := time.Now()
			a.EndsAt = &ends
		},
	}, overrides...)...)
}

// =============================================================================
// TASK FIXTURES
// =============================================================================

// FixtureTaskRef creates a task with a single trigger rule matching
// the given source/alert name.
func FixtureTaskRef(source, alertName string, overrides ...func(*types.TaskRef)) *types.TaskRef {
	task := &types.TaskRef{
		ID:          uuid.New().String(),
		Title:       "test-task-" + uuid.New().String()[:8],
		Description: "A test remediation task",
		Tags:        []string{"test"},
		IsToolTask:  false,
		TriggerOnAlerts: []types.TriggerRule{
			{Source: source, AlertName: alertName, DedupInterval: 5 * time.Minute},
		},
	}

	for _, override := range overrides {
		override(task)
	}

	return task
}

// FixtureToolTask creates a tooltask with no trigger rules, eligible
// for AI-selected mode.
func FixtureToolTask(overrides ...func(*types.TaskRef)) *types.TaskRef {
	task := &types.TaskRef{
		ID:          uuid.New().String(),
		Title:       "CPU performance investigation",
		Description: "Investigates elevated CPU utilization on a host",
		Tags:        []string{"cpu", "performance"},
		IsToolTask:  true,
	}

	for _, override := range overrides {
		override(task)
	}

	return task
}

// =============================================================================
// ALERT RECORD FIXTURES
// =============================================================================

// FixtureAlertRecord creates a persisted alert record with sensible
// defaults.
func FixtureAlertRecord(overrides ...func(*types.AlertRecord)) *types.AlertRecord {
	record := &types.AlertRecord{
		ID:                   uuid.New().String(),
		NormalizedAlert:      *FixtureNormalizedAlert(),
		SelectionMode:        types.SelectionDeterministic,
		IncidentResponseMode: types.SelectionDeterministic,
		ExecutionStatus:      "started",
		TasksExecuted:        1,
		ExecutedTasks: []types.ExecutedTask{
			{TaskID: uuid.New().String(), JobID: uuid.New().String(), ExecutionStatus: types.ExecutionStarted},
		},
		CreatedAt: time.Now(),
	}

	for _, override := range overrides {
		override(record)
	}

	return record
}

// =============================================================================
// FLAGS FIXTURES
// =============================================================================

// FixtureFlags creates a flag snapshot with sensible defaults.
func FixtureFlags(overrides ...func(*types.Flags)) *types.Flags {
	flags := &types.Flags{
		IncidentResponseMode: types.SelectionDeterministic,
		UpdatedAt:            time.Now(),
	}

	for _, override := range overrides {
		override(flags)
	}

	return flags
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Ptr returns a pointer to the given value.
// Useful for setting optional fields in fixtures.
func Ptr[T any](v T) *T {
	return &v
}

// TimeAgo returns a time in the past by the given duration.
func TimeAgo(d time.Duration) time.Time {
	return time.Now().Add(-d)
}

// TimeAgoPtr returns a pointer to a time in the past.
func TimeAgoPtr(d time.Duration) *time.Time {
	t := time.Now().Add(-d)
	return &t
}
