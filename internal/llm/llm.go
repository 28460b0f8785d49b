// Package llm wraps the Anthropic SDK for the two narrow roles the
// alert routing engine needs from a language model: arbitrating
// between AI-selected tooltask candidates, and planning a runbook for
// autonomous investigation. Neither caller needs the full chat/tool
// surface the SDK exposes, so this package exposes only Select and
// Plan and keeps the prompt construction and response parsing private.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/arre-io/arre/internal/config"
)

// Candidate is one tooltask's metadata as shown to the LLM for
// arbitration: id, title, description, tags.
type Candidate struct {
	TaskID      string
	Title       string
	Description string
	Tags        []string
}

// Decision is the LLM's arbitration result for AI-selected mode. A nil
// SelectedTaskID means the model declined every candidate.
type Decision struct {
	SelectedTaskID *string
	Confidence     float64
	Reasoning      string
}

// RunbookPlan is the LLM's plan for an autonomous-mode runbook task.
type RunbookPlan struct {
	Title       string
	Description string
	Steps       []string
}

// Config configures the Anthropic-backed client.
type Config struct {
	APIKey string
	Model  string
}

// Selector is satisfied by Client; the AI selector depends on this
// interface rather than the concrete type so tests can substitute a
// fake arbiter.
type Selector interface {
	Select(ctx context.Context, alertSummary string, candidates []Candidate) (Decision, error)
}

// Planner is satisfied by Client; the autonomous launcher depends on
// this interface for the same reason.
type Planner interface {
	Plan(ctx context.Context, alertSummary string) (RunbookPlan, error)
}

// Client arbitrates AI-selected candidates and plans autonomous
// runbooks via the Anthropic API.
type Client struct {
	anthropic anthropic.Client
	model     anthropic.Model
	logger    *slog.Logger
}

// New returns a Client backed by the given API key.
func New(cfg Config, logger *slog.Logger) *Client {
	model := cfg.Model
	if model == "" {
		model = string(anthropic.ModelClaude3_5SonnetLatest)
	}
	return &Client{
		anthropic: anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     anthropic.Model(model),
		logger:    logger,
	}
}

// Select asks the model to arbitrate between candidate tooltasks for
// the given alert summary. The call is bounded by
// config.AISelectorLLMTimeout regardless of the caller's own context
// deadline, since this decision must not stall a request-scoped alert
// deadline indefinitely.
func (c *Client) Select(ctx context.Context, alertSummary string, candidates []Candidate) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, config.AISelectorLLMTimeout)
	defer cancel()

	prompt := buildSelectPrompt(alertSummary, candidates)
	text, err := c.complete(ctx, prompt)
	if err != nil {
		return Decision{}, fmt.Errorf("llm: select: %w", err)
	}

	var raw struct {
		SelectedTaskID *string `json:"selected_task_id"`
		Confidence     float64 `json:"confidence"`
		Reasoning      string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &raw); err != nil {
		return Decision{}, fmt.Errorf("llm: select: parse model response: %w", err)
	}

	return Decision{
		SelectedTaskID: raw.SelectedTaskID,
		Confidence:     raw.Confidence,
		Reasoning:      raw.Reasoning,
	}, nil
}

// Plan asks the model to produce a runbook title, description, and
// ordered investigation steps for an alert headed to autonomous mode.
func (c *Client) Plan(ctx context.Context, alertSummary string) (RunbookPlan, error) {
	ctx, cancel := context.WithTimeout(ctx, config.AISelectorLLMTimeout)
	defer cancel()

	prompt := buildPlanPrompt(alertSummary)
	text, err := c.complete(ctx, prompt)
	if err != nil {
		return RunbookPlan{}, fmt.Errorf("llm: plan: %w", err)
	}

	var raw struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Steps       []string `json:"steps"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &raw); err != nil {
		return RunbookPlan{}, fmt.Errorf("llm: plan: parse model response: %w", err)
	}
	if raw.Title == "" {
		return RunbookPlan{}, fmt.Errorf("llm: plan: model returned empty title")
	}

	return RunbookPlan{Title: raw.Title, Description: raw.Description, Steps: raw.Steps}, nil
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	message, err := c.anthropic.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, block := range message.Content {
		b.WriteString(block.Text)
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("empty response content")
	}
	return b.String(), nil
}

func buildSelectPrompt(alertSummary string, candidates []Candidate) string {
	var b strings.Builder
	b.WriteString("An alert fired and vector search found these candidate tasks. ")
	b.WriteString("Pick the single best match, or decline all of them.\n\n")
	fmt.Fprintf(&b, "Alert: %s\n\nCandidates:\n", alertSummary)
	for _, cand := range candidates {
		fmt.Fprintf(&b, "- id=%s title=%q description=%q tags=%v\n", cand.TaskID, cand.Title, cand.Description, cand.Tags)
	}
	b.WriteString("\nRespond with JSON only, either " +
		`{"selected_task_id":"<id>","confidence":0.0-1.0,"reasoning":"..."}` +
		" or " + `{"selected_task_id":null,"reasoning":"..."}` + ".")
	return b.String()
}

func buildPlanPrompt(alertSummary string) string {
	var b strings.Builder
	b.WriteString("No existing task matches this alert. Plan a runbook investigation.\n\n")
	fmt.Fprintf(&b, "Alert: %s\n\n", alertSummary)
	b.WriteString("Respond with JSON only: " +
		`{"title":"...","description":"...","steps":["...","..."]}` + ".")
	return b.String()
}

// extractJSON trims any prose the model wraps around the JSON object,
// returning the substring from the first '{' to the last '}'.
func extractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}
