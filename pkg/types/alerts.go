// Package types holds the canonical data model shared by every ARRE
// component: the normalized alert shape produced by the ingestion
// pipeline, the read-only projection of externally-owned tasks, and the
// persisted alert record written by the dispatcher.
//
// # Selection modes
//
// Every processed alert is tagged with exactly one selection mode:
//
//	deterministic  a trigger rule matched the alert directly
//	ai_selected    vector search + LLM arbitration chose a tooltask
//	autonomous     the LLM planned and launched an investigation
//	none           nothing matched, or every candidate was declined
//
// A deterministic match always pre-empts the other two, regardless of
// the configured incident_response_mode (see internal/dispatcher).
package types

import (
	"encoding/json"
	"time"
)

// =============================================================================
// NORMALIZED ALERT
// =============================================================================

// Severity is the normalized urgency level of an alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
	SeverityUnknown  Severity = "unknown"
)

// IsValid reports whether s is one of the recognized severity values.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityWarning, SeverityInfo, SeverityUnknown:
		return true
	default:
		return false
	}
}

// Level returns a numeric rank for comparison (higher = more severe).
func (s Severity) Level() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// AlertStatus is the firing/resolved state carried on a NormalizedAlert.
type AlertStatus string

const (
	AlertStatusFiring   AlertStatus = "firing"
	AlertStatusResolved AlertStatus = "resolved"
)

// IsValid reports whether s is a recognized alert status.
func (s AlertStatus) IsValid() bool {
	return s == AlertStatusFiring || s == AlertStatusResolved
}

// NormalizedAlert is the canonical representation produced by the
// normalizer (internal/ingest) from any recognized source format.
//
// Source is always derived from the payload's structure, never taken
// from a caller-supplied field, and is always TitleCased: "grafana" ->
// "Grafana". No lowercase or mixed-case source ever reaches a component
// downstream of the normalizer.
type NormalizedAlert struct {
	Source      string            `json:"source"`
	AlertName   string            `json:"alert_name"`
	Status      AlertStatus       `json:"status"`
	Severity    Severity          `json:"severity"`
	Fingerprint string            `json:"fingerprint"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"starts_at"`
	EndsAt      *time.Time        `json:"ends_at,omitempty"`
	RawPayload  json.RawMessage   `json:"raw_payload"`
	ReceivedAt  time.Time         `json:"received_at"`
}

// SearchText joins the fields the AI selector embeds into a query:
// alert name, annotation summary, annotation description.
func (a *NormalizedAlert) SearchText() string {
	text := a.AlertName
	if s := a.Annotations["summary"]; s != "" {
		text += " " + s
	}
	if d := a.Annotations["description"]; d != "" {
		text += " " + d
	}
	return text
}

// TriggerKey is the (source, alert_name) tuple the deterministic
// matcher indexes on.
type TriggerKey struct {
	Source    string
	AlertName string
}

// KeyFor derives the TriggerKey for an alert.
func KeyFor(a *NormalizedAlert) TriggerKey {
	return TriggerKey{Source: a.Source, AlertName: a.AlertName}
}

// =============================================================================
// TASK (external, read-only from ARRE's perspective)
// =============================================================================

// TriggerRule is a task-side declaration of which alerts should fire
// the task. A rule matches iff both fields compare equal, literally,
// to the alert's Source/AlertName. No wildcards, no regex.
type TriggerRule struct {
	Source        string        `json:"source"`
	AlertName     string        `json:"alert_name"`
	DedupInterval time.Duration `json:"dedup_interval"`
}

// TaskRef is the minimal projection of a task ARRE needs: enough to
// match, rank, and submit a job against it. ARRE never reads a task's
// script body — that is the task store's and the job runtime's concern.
type TaskRef struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	Tags            []string      `json:"tags,omitempty"`
	IsToolTask      bool          `json:"is_tooltask"`
	TriggerOnAlerts []TriggerRule `json:"trigger_on_alerts,omitempty"`
}

// Matches reports whether any of the task's trigger rules fires for
// the given alert.
func (t *TaskRef) Matches(a *NormalizedAlert) bool {
	for _, rule := range t.TriggerOnAlerts {
		if rule.Source == a.Source && rule.AlertName == a.AlertName {
			return true
		}
	}
	return false
}

// =============================================================================
// DEDUPLICATION
// =============================================================================

// DedupEntry is the (task, trigger key, fingerprint) -> last-fired-at
// record maintained by the dedup window. Keyed per task, not just per
// trigger key, because a single trigger key may match several tasks
// and §4.4's policy requires each to dedup independently. Retained at
// least as long as the largest active dedup interval referencing the
// key.
type DedupEntry struct {
	TaskID      string
	TriggerKey  TriggerKey
	Fingerprint string
	LastFiredAt time.Time
}

// DedupResult is the typed outcome of a dedup check, used instead of a
// sentinel error so callers branch on a value.
type DedupResult string

const (
	DedupFired     DedupResult = "fired"
	DedupSuppressed DedupResult = "suppressed"
)

// =============================================================================
// SELECTION / EXECUTION OUTCOME
// =============================================================================

// SelectionMode identifies which response policy produced a dispatch.
type SelectionMode string

const (
	SelectionDeterministic SelectionMode = "deterministic"
	SelectionAISelected    SelectionMode = "ai_selected"
	SelectionAutonomous    SelectionMode = "autonomous"
	SelectionNone          SelectionMode = "none"
)

// IsValid reports whether m is a recognized incident_response_mode
// value. Note SelectionNone is a valid outcome but never a settable
// configuration value (see ValidIncidentResponseMode).
func (m SelectionMode) IsValid() bool {
	switch m {
	case SelectionDeterministic, SelectionAISelected, SelectionAutonomous, SelectionNone:
		return true
	default:
		return false
	}
}

// ExecutionStatus is the per-task-dispatch outcome recorded on an
// ExecutedTask.
type ExecutionStatus string

const (
	ExecutionStarted    ExecutionStatus = "started"
	ExecutionFailed     ExecutionStatus = "failed"
	ExecutionTimeout    ExecutionStatus = "timeout"
	ExecutionSuppressed ExecutionStatus = "suppressed"
)

// ExecutedTask records the outcome of dispatching one task against one
// alert: the submitted job id on success, or the reason it was not
// submitted (suppressed by dedup, or failed with an error).
type ExecutedTask struct {
	TaskID          string          `json:"task_id"`
	JobID           string          `json:"job_id,omitempty"`
	ExecutionStatus ExecutionStatus `json:"execution_status"`
	Error           string          `json:"error,omitempty"`
}

// =============================================================================
// ALERT RECORD (persisted)
// =============================================================================

// AlertRecord is the immutable, append-only record of one processed
// alert: the normalized alert plus the full selection and execution
// outcome. Exactly one AlertRecord is persisted per successfully
// processed alert; a record is never mutated after it is written.
type AlertRecord struct {
	ID          string `json:"id"`
	NormalizedAlert

	SelectionMode         SelectionMode `json:"selection_mode"`
	IncidentResponseMode  SelectionMode `json:"incident_response_mode"`

	RunbookTaskID *string `json:"runbook_task_id,omitempty"`
	PrimaryJobID  *string `json:"primary_job_id,omitempty"`
	ChildTaskID   *string `json:"child_task_id,omitempty"`

	AIAttempted           bool     `json:"ai_attempted"`
	AIConfidence          float64  `json:"ai_confidence"`
	AIReasoning           string   `json:"ai_reasoning,omitempty"`
	AICandidateToolTasks  []string `json:"ai_candidate_tooltasks,omitempty"`

	ExecutionStatus string         `json:"execution_status"`
	TasksExecuted   int            `json:"tasks_executed"`
	ExecutedTasks   []ExecutedTask `json:"executed_tasks,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// AlertFilter is the query filter for the alert store's search
// operation.
type AlertFilter struct {
	Source        *string        `json:"source,omitempty"`
	AlertName     *string        `json:"alert_name,omitempty"`
	SelectionMode *SelectionMode `json:"selection_mode,omitempty"`
	Severity      *Severity      `json:"severity,omitempty"`
	Status        *AlertStatus   `json:"status,omitempty"`
	Query         string         `json:"query,omitempty"` // free text over alert name/AI reasoning
	Since         *time.Time     `json:"since,omitempty"`
	Limit         int            `json:"limit,omitempty"`
	Offset        int            `json:"offset,omitempty"`
}

// AlertStats aggregates alert counts by selection mode.
type AlertStats struct {
	Total          int                   `json:"total"`
	BySelectionMode map[SelectionMode]int `json:"by_selection_mode"`
}

// =============================================================================
// FLAG STORE
// =============================================================================

// Flags is the process-wide administrative configuration snapshot:
// loaded at boot, mutated by an admin operation, read on every alert.
type Flags struct {
	IncidentResponseMode SelectionMode `json:"incident_response_mode"`

	// AcceptTrustedPrincipalHeader gates whether the deployment trusts
	// an upstream-verified principal header in lieu of a bearer token.
	AcceptTrustedPrincipalHeader bool `json:"accept_trusted_principal_header"`

	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

// DefaultFlags returns the flag snapshot used on first boot.
func DefaultFlags() Flags {
	return Flags{
		IncidentResponseMode: SelectionDeterministic,
		UpdatedAt:            time.Time{},
	}
}

// FlagsUpdate is a partial update accepted by set_flags; nil fields are
// left unchanged.
type FlagsUpdate struct {
	IncidentResponseMode         *SelectionMode `json:"incident_response_mode,omitempty"`
	AcceptTrustedPrincipalHeader *bool          `json:"accept_trusted_principal_header,omitempty"`
}

// settableIncidentResponseModes excludes SelectionNone: it is a valid
// outcome of a dispatch but never a mode an admin may configure.
func settableIncidentResponseModes() []SelectionMode {
	return []SelectionMode{SelectionDeterministic, SelectionAISelected, SelectionAutonomous}
}

// ValidIncidentResponseMode reports whether m may be written via
// set_flags.
func ValidIncidentResponseMode(m SelectionMode) bool {
	for _, v := range settableIncidentResponseModes() {
		if v == m {
			return true
		}
	}
	return false
}
