// Package aiselect implements AI-selected mode: composing a vector
// search over the tooltask index with an LLM arbitration pass to
// choose, at most, one existing tooltask to run against an alert that
// no deterministic trigger rule matched.
//
// The selector never executes anything; it returns an Outcome for the
// dispatcher to dedup and submit.
package aiselect

import (
	"context"
	"log/slog"

	"github.com/arre-io/arre/internal/config"
	"github.com/arre-io/arre/internal/llm"
	"github.com/arre-io/arre/internal/vectorsearch"
	"github.com/arre-io/arre/pkg/types"
)

// VectorSearcher is the narrow interface aiselect needs from
// internal/vectorsearch; satisfied by *vectorsearch.Client.
type VectorSearcher interface {
	SearchToolTasks(ctx context.Context, queryText string) ([]vectorsearch.Candidate, error)
}

// TaskFetcher resolves a candidate's full metadata for the LLM
// arbitration prompt; satisfied by *taskstore.Client.
type TaskFetcher interface {
	GetTask(ctx context.Context, id string) (*types.TaskRef, error)
}

// Outcome is the result of one AI-selected attempt.
type Outcome struct {
	// Found reports whether the LLM confirmed a candidate above the
	// confidence floor.
	Found bool

	TaskID     string
	Confidence float64
	Reasoning  string

	// CandidateIDs is every tooltask id considered, for the
	// ai_candidate_tooltasks audit field, regardless of outcome.
	CandidateIDs []string
}

// Selector composes vector search and LLM arbitration.
type Selector struct {
	vectors VectorSearcher
	llm     llm.Selector
	tasks   TaskFetcher
	logger  *slog.Logger
}

// New returns a Selector over the given vector search, LLM, and
// task-store collaborators.
func New(vectors VectorSearcher, selector llm.Selector, tasks TaskFetcher, logger *slog.Logger) *Selector {
	return &Selector{vectors: vectors, llm: selector, tasks: tasks, logger: logger}
}

// Select runs the full AI-selected algorithm for one alert. A
// vector-search or LLM failure is treated as NoCandidate rather than
// propagated, per the dispatcher's "fall through to S6 with
// ai_attempted=true" contract; the caller distinguishes "attempted and
// found nothing" from "never attempted" by calling Select at all.
func (s *Selector) Select(ctx context.Context, alert *types.NormalizedAlert) Outcome {
	queryText := alert.SearchText()

	candidates, err := s.vectors.SearchToolTasks(ctx, queryText)
	if err != nil {
		s.logger.Warn("aiselect: vector search failed, treating as no candidate", "error", err)
		return Outcome{}
	}
	if len(candidates) == 0 {
		return Outcome{}
	}

	candidateIDs := make([]string, len(candidates))
	llmCandidates := make([]llm.Candidate, 0, len(candidates))
	for i, cand := range candidates {
		candidateIDs[i] = cand.TaskID
		task, err := s.tasks.GetTask(ctx, cand.TaskID)
		if err != nil {
			s.logger.Warn("aiselect: failed to resolve candidate metadata, skipping candidate", "task_id", cand.TaskID, "error", err)
			continue
		}
		llmCandidates = append(llmCandidates, llm.Candidate{
			TaskID:      task.ID,
			Title:       task.Title,
			Description: task.Description,
			Tags:        task.Tags,
		})
	}
	if len(llmCandidates) == 0 {
		return Outcome{CandidateIDs: candidateIDs}
	}

	decision, err := s.llm.Select(ctx, queryText, llmCandidates)
	if err != nil {
		s.logger.Warn("aiselect: llm arbitration failed, treating as no candidate", "error", err)
		return Outcome{CandidateIDs: candidateIDs}
	}
	if decision.SelectedTaskID == nil {
		return Outcome{CandidateIDs: candidateIDs, Reasoning: decision.Reasoning}
	}
	if decision.Confidence < config.AISelectorConfidenceFloor {
		return Outcome{CandidateIDs: candidateIDs, Reasoning: decision.Reasoning}
	}

	return Outcome{
		Found:        true,
		TaskID:       *decision.SelectedTaskID,
		Confidence:   decision.Confidence,
		Reasoning:    decision.Reasoning,
		CandidateIDs: candidateIDs,
	}
}
