// Package dedup implements the alert deduplication window: suppressing
// re-execution of the same task for the same alert fingerprint within
// a configured interval.
//
// The window is Redis-backed, reusing the same client the rest of the
// service already depends on for response caching. A single `SET key
// value NX PX interval` command gives the atomicity the contract
// requires: Redis executes commands on one thread, so of any number of
// concurrent callers racing the same key, at most one SETNX succeeds.
// Redis's own TTL expiry then implements "entry expired, overwrite and
// return fired" for free — there is no separate sweep.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arre-io/arre/pkg/types"
)

const keyPrefix = "arre:dedup:"

// Window is the Redis-backed dedup window.
type Window struct {
	client *redis.Client
	logger *slog.Logger
}

// New creates a dedup window over an existing Redis client.
func New(client *redis.Client, logger *slog.Logger) *Window {
	return &Window{client: client, logger: logger}
}

// NewFromURL parses redisURL and dials a dedicated client for the
// window.
func NewFromURL(redisURL string, logger *slog.Logger) (*Window, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return New(client, logger), nil
}

// CheckAndMark is the dedup window's sole operation: given the task
// being dispatched, its trigger key, the alert fingerprint, and the
// dedup interval from the matching trigger rule, it returns DedupFired
// the first time the triple is seen within the window and
// DedupSuppressed on every subsequent call until the interval elapses.
//
// Entries are keyed per task, not just per trigger key: a trigger key
// can match several tasks, and each must dedup independently.
//
// interval <= 0 disables deduplication entirely: every call returns
// fired and no entry is written.
func (w *Window) CheckAndMark(ctx context.Context, taskID string, key types.TriggerKey, fingerprint string, interval time.Duration) (types.DedupResult, error) {
	if interval <= 0 {
		return types.DedupFired, nil
	}

	redisKey := w.redisKey(taskID, key, fingerprint)
	ok, err := w.client.SetNX(ctx, redisKey, time.Now().UTC().Format(time.RFC3339Nano), interval).Result()
	if err != nil {
		return "", fmt.Errorf("dedup check_and_mark: %w", err)
	}
	if ok {
		return types.DedupFired, nil
	}
	return types.DedupSuppressed, nil
}

func (w *Window) redisKey(taskID string, key types.TriggerKey, fingerprint string) string {
	return keyPrefix + taskID + ":" + key.Source + ":" + key.AlertName + ":" + fingerprint
}

// Close releases the underlying Redis client.
func (w *Window) Close() error {
	return w.client.Close()
}
