// Package config provides configuration constants for the alert routing
// and response engine.
//
// This package centralizes hardcoded values that were previously scattered
// throughout the codebase, making them easier to find, modify, and test.
package config

import "time"

// Alert processing deadlines.
const (
	// AlertDeadlineDefault bounds how long a single alert may occupy the
	// dispatcher state machine before the caller observes a timeout.
	AlertDeadlineDefault = 60 * time.Second

	// AlertDeadlineAutonomous extends the deadline for autonomous mode,
	// which plans a runbook and launches an investigation before
	// returning.
	AlertDeadlineAutonomous = 120 * time.Second
)

// Deduplication window defaults.
const (
	// DedupIntervalDefault is the dedup interval applied to an
	// AI-selected dispatch, which has no trigger rule to take one from.
	// A trigger rule that omits its own dedup_interval carries zero,
	// which disables deduplication for that rule.
	DedupIntervalDefault = 5 * time.Minute
)

// AI selector defaults (vector search + LLM arbitration).
const (
	// AISelectorK is the default number of top candidates requested
	// from the vector index.
	AISelectorK = 3

	// AISelectorCandidatePoolSize bounds how many candidates the vector
	// index is asked to rank before truncating to AISelectorK.
	AISelectorCandidatePoolSize = 10

	// AISelectorSimilarityFloor is the minimum cosine similarity for a
	// vector-search result to be considered a candidate at all.
	AISelectorSimilarityFloor = 0.70

	// AISelectorConfidenceFloor is the minimum LLM-reported confidence
	// required to accept a selection.
	AISelectorConfidenceFloor = 0.5

	// AISelectorLLMTimeout bounds the LLM arbitration call.
	AISelectorLLMTimeout = 20 * time.Second

	// AutonomousConfidence is the fixed ai_confidence value recorded for
	// autonomous-mode launches (a full investigation is always launched
	// when the mode demands it, so confidence is not a graded signal).
	AutonomousConfidence = 1.0
)

// Job submission retry policy.
const (
	// JobSubmitMaxRetries bounds retries of a Transient job-submission
	// failure.
	JobSubmitMaxRetries = 2

	// JobSubmitBackoffInitial is the delay before the first retry.
	JobSubmitBackoffInitial = 200 * time.Millisecond

	// JobSubmitBackoffSecond is the delay before the second retry.
	JobSubmitBackoffSecond = 600 * time.Millisecond
)

// Matcher index refresh.
const (
	// MatcherRefreshInterval is how often the deterministic matcher
	// reloads its trigger-key index from the task store.
	MatcherRefreshInterval = 30 * time.Second

	// MatcherStalenessWindow bounds how long a stale index may be
	// trusted as authoritative for a miss before falling through to a
	// direct task-store query by key.
	MatcherStalenessWindow = 60 * time.Second
)

// Pagination defaults for API list endpoints.
const (
	// DefaultPaginationLimit is the default number of items returned
	// when no limit is specified.
	DefaultPaginationLimit = 50

	// MaxPaginationLimit is the maximum number of items that can be
	// requested in a single API call.
	MaxPaginationLimit = 500
)

// HTTP client timeouts.
const (
	// DefaultHTTPTimeout is the default timeout for outbound HTTP
	// client requests (task store, vector search).
	DefaultHTTPTimeout = 30 * time.Second
)

// Cache TTLs for API response caching.
const (
	// CacheTTLFlagsSnapshot is a TTL for caching the admin flags
	// snapshot. Nothing reads it: getAdminSettingsFlags is served from
	// the flag store's in-process snapshot, not from the response cache.
	CacheTTLFlagsSnapshot = 10 * time.Second

	// CacheTTLAlertStats is the TTL for the cached alert-stats
	// aggregate.
	CacheTTLAlertStats = 30 * time.Second
)

// Database connection configuration.
const (
	// DatabasePingTimeout is the timeout for database connectivity checks.
	DatabasePingTimeout = 5 * time.Second

	// RedisConnectionTimeout is the timeout for Redis connectivity checks.
	RedisConnectionTimeout = 5 * time.Second
)
