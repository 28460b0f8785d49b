// Package matcher implements the deterministic trigger matcher: given
// a normalized alert, it returns the ordered set of tasks whose
// trigger_on_alerts contains a rule matching the alert.
//
// The matcher keeps an in-memory TriggerKey -> []TaskRef index,
// refreshed periodically from the task store on a ticker. Readers
// never block a refresh and a refresh never blocks readers: the index
// is swapped behind an atomic.Pointer, the same double-buffered
// approach the control plane already uses for its background
// refreshers.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/arre-io/arre/pkg/types"
)

// TaskStore is the subset of the task store the matcher depends on.
type TaskStore interface {
	// ListTriggerTasks returns every task carrying at least one trigger
	// rule, used to rebuild the full index.
	ListTriggerTasks(ctx context.Context) ([]types.TaskRef, error)

	// GetTasksByTriggerKey queries the task store directly for a single
	// key, used when the index cannot be trusted as authoritative for
	// a miss.
	GetTasksByTriggerKey(ctx context.Context, key types.TriggerKey) ([]types.TaskRef, error)
}

// Config configures refresh cadence and staleness tolerance.
type Config struct {
	// RefreshInterval is how often the index is rebuilt from the task
	// store.
	RefreshInterval time.Duration

	// StalenessWindow bounds how long since the last successful refresh
	// a miss may be treated as authoritative. Once the index is older
	// than this, a miss falls through to a direct task-store query.
	StalenessWindow time.Duration
}

// Matcher is the deterministic trigger-key matcher.
type Matcher struct {
	store  TaskStore
	config Config
	logger *slog.Logger

	index       atomic.Pointer[map[types.TriggerKey][]types.TaskRef]
	lastRefresh atomic.Pointer[time.Time]

	stopCh chan struct{}
}

// New creates a matcher over the given task store.
func New(store TaskStore, config Config, logger *slog.Logger) *Matcher {
	m := &Matcher{
		store:  store,
		config: config,
		logger: logger.With("component", "matcher"),
		stopCh: make(chan struct{}),
	}
	empty := make(map[types.TriggerKey][]types.TaskRef)
	m.index.Store(&empty)
	return m
}

// Start refreshes the index once synchronously, then continues
// refreshing on a ticker in a background goroutine until Stop is
// called or ctx is cancelled.
func (m *Matcher) Start(ctx context.Context) error {
	if err := m.refresh(ctx); err != nil {
		return fmt.Errorf("matcher: initial index refresh: %w", err)
	}
	go m.run(ctx)
	return nil
}

// Stop signals the background refresher to stop.
func (m *Matcher) Stop() {
	close(m.stopCh)
}

func (m *Matcher) run(ctx context.Context) {
	m.logger.Info("matcher refresher started", "interval", m.config.RefreshInterval)

	ticker := time.NewTicker(m.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("matcher refresher stopping (context cancelled)")
			return
		case <-m.stopCh:
			m.logger.Info("matcher refresher stopping (stop signal)")
			return
		case <-ticker.C:
			if err := m.refresh(ctx); err != nil {
				m.logger.Error("index refresh failed", "error", err)
			}
		}
	}
}

func (m *Matcher) refresh(ctx context.Context) error {
	tasks, err := m.store.ListTriggerTasks(ctx)
	if err != nil {
		return err
	}

	index := make(map[types.TriggerKey][]types.TaskRef)
	for _, task := range tasks {
		for _, rule := range task.TriggerOnAlerts {
			key := types.TriggerKey{Source: rule.Source, AlertName: rule.AlertName}
			index[key] = append(index[key], task)
		}
	}
	for key := range index {
		sort.Slice(index[key], func(i, j int) bool {
			return index[key][i].ID < index[key][j].ID
		})
	}

	m.index.Store(&index)
	now := time.Now()
	m.lastRefresh.Store(&now)

	m.logger.Debug("index refreshed", "trigger_keys", len(index), "tasks", len(tasks))
	return nil
}

// Match returns the ordered set of tasks matching the alert's
// (source, alert_name). An index hit (including an explicit empty
// match) is returned as-is. An index miss is authoritative only while
// the index was refreshed within the configured staleness window;
// otherwise the matcher falls through to a direct task-store query by
// key.
func (m *Matcher) Match(ctx context.Context, alert *types.NormalizedAlert) ([]types.TaskRef, error) {
	key := types.KeyFor(alert)
	index := *m.index.Load()

	if tasks, ok := index[key]; ok {
		return tasks, nil
	}

	lastRefresh := m.lastRefresh.Load()
	if lastRefresh != nil && time.Since(*lastRefresh) <= m.config.StalenessWindow {
		return nil, nil
	}

	tasks, err := m.store.GetTasksByTriggerKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("matcher: direct task-store query fell back and failed: %w", err)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}
