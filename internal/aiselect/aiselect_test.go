package aiselect

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/arre-io/arre/internal/llm"
	"github.com/arre-io/arre/internal/vectorsearch"
	"github.com/arre-io/arre/pkg/types"
)

type fakeVectorSearcher struct {
	candidates []vectorsearch.Candidate
	err        error
}

func (f *fakeVectorSearcher) SearchToolTasks(ctx context.Context, queryText string) ([]vectorsearch.Candidate, error) {
	return f.candidates, f.err
}

type fakeTaskFetcher struct {
	tasks map[string]*types.TaskRef
}

func (f *fakeTaskFetcher) GetTask(ctx context.Context, id string) (*types.TaskRef, error) {
	task, ok := f.tasks[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return task, nil
}

type fakeLLMSelector struct {
	decision llm.Decision
	err      error
}

func (f *fakeLLMSelector) Select(ctx context.Context, alertSummary string, candidates []llm.Candidate) (llm.Decision, error) {
	return f.decision, f.err
}

func newTestAlert() *types.NormalizedAlert {
	return &types.NormalizedAlert{
		Source:    "Grafana",
		AlertName: "CPUSpike",
		Annotations: map[string]string{
			"description": "Server CPU at 95%",
		},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }

func TestSelect_FindsConfirmedCandidate(t *testing.T) {
	vectors := &fakeVectorSearcher{candidates: []vectorsearch.Candidate{{TaskID: "t-1", Similarity: 0.85}}}
	tasks := &fakeTaskFetcher{tasks: map[string]*types.TaskRef{
		"t-1": {ID: "t-1", Title: "CPU performance investigation"},
	}}
	llmClient := &fakeLLMSelector{decision: llm.Decision{SelectedTaskID: strPtr("t-1"), Confidence: 0.9, Reasoning: "matches CPU symptoms"}}

	s := New(vectors, llmClient, tasks, testLogger())
	outcome := s.Select(context.Background(), newTestAlert())

	if !outcome.Found {
		t.Fatal("expected a confirmed outcome")
	}
	if outcome.TaskID != "t-1" {
		t.Errorf("unexpected task id: %s", outcome.TaskID)
	}
	if outcome.Confidence != 0.9 {
		t.Errorf("unexpected confidence: %v", outcome.Confidence)
	}
	if len(outcome.CandidateIDs) != 1 || outcome.CandidateIDs[0] != "t-1" {
		t.Errorf("unexpected candidate ids: %v", outcome.CandidateIDs)
	}
}

func TestSelect_NoVectorCandidates(t *testing.T) {
	vectors := &fakeVectorSearcher{candidates: nil}
	s := New(vectors, &fakeLLMSelector{}, &fakeTaskFetcher{}, testLogger())

	outcome := s.Select(context.Background(), newTestAlert())
	if outcome.Found {
		t.Fatal("expected NoCandidate outcome")
	}
	if len(outcome.CandidateIDs) != 0 {
		t.Errorf("expected empty candidate ids, got %v", outcome.CandidateIDs)
	}
}

func TestSelect_VectorSearchFailureIsNoCandidate(t *testing.T) {
	vectors := &fakeVectorSearcher{err: errors.New("milvus unreachable")}
	s := New(vectors, &fakeLLMSelector{}, &fakeTaskFetcher{}, testLogger())

	outcome := s.Select(context.Background(), newTestAlert())
	if outcome.Found {
		t.Fatal("expected NoCandidate outcome on vector search failure")
	}
}

func TestSelect_LLMDeclinesAllCandidates(t *testing.T) {
	vectors := &fakeVectorSearcher{candidates: []vectorsearch.Candidate{{TaskID: "t-1", Similarity: 0.75}}}
	tasks := &fakeTaskFetcher{tasks: map[string]*types.TaskRef{"t-1": {ID: "t-1", Title: "unrelated task"}}}
	llmClient := &fakeLLMSelector{decision: llm.Decision{SelectedTaskID: nil, Reasoning: "no good match"}}

	s := New(vectors, llmClient, tasks, testLogger())
	outcome := s.Select(context.Background(), newTestAlert())

	if outcome.Found {
		t.Fatal("expected NoCandidate when the model declines")
	}
	if len(outcome.CandidateIDs) != 1 {
		t.Errorf("expected candidate ids retained for audit, got %v", outcome.CandidateIDs)
	}
}

func TestSelect_LLMConfidenceBelowFloorIsNoCandidate(t *testing.T) {
	vectors := &fakeVectorSearcher{candidates: []vectorsearch.Candidate{{TaskID: "t-1", Similarity: 0.80}}}
	tasks := &fakeTaskFetcher{tasks: map[string]*types.TaskRef{"t-1": {ID: "t-1", Title: "maybe relevant"}}}
	llmClient := &fakeLLMSelector{decision: llm.Decision{SelectedTaskID: strPtr("t-1"), Confidence: 0.2, Reasoning: "weak match"}}

	s := New(vectors, llmClient, tasks, testLogger())
	outcome := s.Select(context.Background(), newTestAlert())

	if outcome.Found {
		t.Fatal("expected NoCandidate when confidence is below the floor")
	}
}

func TestSelect_LLMFailureIsNoCandidate(t *testing.T) {
	vectors := &fakeVectorSearcher{candidates: []vectorsearch.Candidate{{TaskID: "t-1", Similarity: 0.80}}}
	tasks := &fakeTaskFetcher{tasks: map[string]*types.TaskRef{"t-1": {ID: "t-1", Title: "some task"}}}
	llmClient := &fakeLLMSelector{err: errors.New("llm timeout")}

	s := New(vectors, llmClient, tasks, testLogger())
	outcome := s.Select(context.Background(), newTestAlert())

	if outcome.Found {
		t.Fatal("expected NoCandidate on llm failure")
	}
}

func TestSelect_UnresolvableCandidateMetadataIsSkipped(t *testing.T) {
	vectors := &fakeVectorSearcher{candidates: []vectorsearch.Candidate{{TaskID: "ghost", Similarity: 0.9}}}
	tasks := &fakeTaskFetcher{tasks: map[string]*types.TaskRef{}}

	s := New(vectors, &fakeLLMSelector{}, tasks, testLogger())
	outcome := s.Select(context.Background(), newTestAlert())

	if outcome.Found {
		t.Fatal("expected NoCandidate when no candidate metadata resolves")
	}
	if len(outcome.CandidateIDs) != 1 {
		t.Errorf("expected the ghost id retained for audit, got %v", outcome.CandidateIDs)
	}
}
