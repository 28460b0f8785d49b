// Package launcher implements autonomous mode: when no deterministic
// rule matches and the active mode demands a full investigation, plan
// a runbook task, create it and a child investigation task, and
// submit a job against the runbook.
//
// Partial failure rolls back every task already created in the
// attempt through a single scoped cleanup path rather than cleanup
// logic repeated at each call site.
package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arre-io/arre/internal/config"
	"github.com/arre-io/arre/internal/llm"
	"github.com/arre-io/arre/internal/taskstore"
	"github.com/arre-io/arre/pkg/types"
)

// TaskCreator is the narrow task-store interface this package needs
// for creating and rolling back tasks; satisfied by *taskstore.Client.
type TaskCreator interface {
	CreateTask(ctx context.Context, req taskstore.CreateTaskRequest) (string, error)
	DeleteTask(ctx context.Context, id string) error
}

// JobSubmitter is the narrow job-submission interface this package
// needs; satisfied by *jobs.Adapter.
type JobSubmitter interface {
	Submit(ctx context.Context, req taskstore.SubmitJobRequest) (string, error)
}

// Result is a successful autonomous launch.
type Result struct {
	RunbookTaskID string
	ChildTaskID   string
	JobID         string
	Confidence    float64
}

// Launcher plans and launches autonomous investigations.
type Launcher struct {
	tasks   TaskCreator
	jobs    JobSubmitter
	planner llm.Planner
	logger  *slog.Logger
}

// New returns a Launcher over the given collaborators.
func New(tasks TaskCreator, jobSubmitter JobSubmitter, planner llm.Planner, logger *slog.Logger) *Launcher {
	return &Launcher{tasks: tasks, jobs: jobSubmitter, planner: planner, logger: logger}
}

// Launch plans a runbook for alert, creates the runbook and child
// investigation tasks, and submits the runbook job. Any failure after
// the plan step rolls back every task already created. workspace is
// an opaque deployment-routing hint forwarded to the job submission;
// Launch never interprets it.
func (l *Launcher) Launch(ctx context.Context, alert *types.NormalizedAlert, workspace string) (Result, error) {
	plan, err := l.planner.Plan(ctx, alert.SearchText())
	if err != nil {
		return Result{}, fmt.Errorf("launcher: plan runbook: %w", err)
	}

	var created []string
	rollback := true
	defer func() {
		if !rollback || len(created) == 0 {
			return
		}
		cleanupCtx := context.Background()
		for _, id := range created {
			if err := l.tasks.DeleteTask(cleanupCtx, id); err != nil {
				l.logger.Error("launcher: rollback failed to delete task", "task_id", id, "error", err)
			}
		}
	}()

	runbookID, err := l.tasks.CreateTask(ctx, taskstore.CreateTaskRequest{
		Title:       plan.Title,
		Description: plan.Description,
		Tags:        []string{"runbook", "autonomous"},
		ScriptPlan:  strings.Join(plan.Steps, "\n"),
	})
	if err != nil {
		return Result{}, fmt.Errorf("launcher: create runbook task: %w", err)
	}
	created = append(created, runbookID)

	childID, err := l.tasks.CreateTask(ctx, taskstore.CreateTaskRequest{
		Title:        "Investigation: " + plan.Title,
		Description:  "Child investigation task for runbook " + runbookID,
		Tags:         []string{"investigation", "autonomous"},
		ParentTaskID: runbookID,
	})
	if err != nil {
		return Result{}, fmt.Errorf("launcher: create child investigation task: %w", err)
	}
	created = append(created, childID)

	jobID, err := l.jobs.Submit(ctx, taskstore.SubmitJobRequest{
		TaskID: runbookID,
		AlertContext: map[string]any{
			"source":     alert.Source,
			"alert_name": alert.AlertName,
			"severity":   string(alert.Severity),
		},
		Workspace: workspace,
	})
	if err != nil {
		return Result{}, fmt.Errorf("launcher: submit runbook job: %w", err)
	}

	rollback = false
	return Result{
		RunbookTaskID: runbookID,
		ChildTaskID:   childID,
		JobID:         jobID,
		Confidence:    config.AutonomousConfidence,
	}, nil
}
