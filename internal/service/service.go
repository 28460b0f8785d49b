// Package service contains the business logic for the alert routing
// and response engine's API layer. It aggregates the dispatcher,
// the flag store, and the alert store behind a single handle the
// HTTP server holds.
package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/arre-io/arre/internal/cache"
	"github.com/arre-io/arre/internal/dispatcher"
	"github.com/arre-io/arre/internal/flags"
	"github.com/arre-io/arre/internal/metrics"
	"github.com/arre-io/arre/internal/store"
	"github.com/arre-io/arre/pkg/types"
)

// Service provides the operations the API layer calls.
type Service struct {
	store      *store.Store
	flags      *flags.Store
	dispatcher *dispatcher.Dispatcher
	metrics    *metrics.Metrics
	cache      *cache.Cache
	logger     *slog.Logger

	inFlight atomic.Int64
}

// NewService creates a new service. metrics and c may both be nil, in
// which case dispatch outcomes simply aren't recorded and alert stats
// queries always hit the store directly.
func NewService(st *store.Store, fl *flags.Store, d *dispatcher.Dispatcher, m *metrics.Metrics, c *cache.Cache, logger *slog.Logger) *Service {
	return &Service{
		store:      st,
		flags:      fl,
		dispatcher: d,
		metrics:    m,
		cache:      c,
		logger:     logger.With("component", "service"),
	}
}

// Store returns the underlying store for direct access. The auth
// middleware does not call it; principals come from request headers.
func (s *Service) Store() *store.Store {
	return s.store
}

// ProcessAlert runs one inbound webhook payload through the
// dispatcher and returns its typed result. workspace is an opaque
// deployment-routing hint forwarded to any downstream job submission;
// ProcessAlert never interprets it.
func (s *Service) ProcessAlert(ctx context.Context, raw []byte, workspace string) (dispatcher.Result, error) {
	if s.metrics != nil {
		s.metrics.SetAlertsInFlight(int(s.inFlight.Add(1)))
		defer func() {
			s.metrics.SetAlertsInFlight(int(s.inFlight.Add(-1)))
		}()
	}

	start := time.Now()
	result, err := s.dispatcher.Dispatch(ctx, raw, workspace)
	duration := time.Since(start)

	if s.metrics != nil && err == nil {
		selectionMode := "none"
		if result.Record != nil {
			selectionMode = string(result.Record.SelectionMode)
			for _, task := range result.Record.ExecutedTasks {
				s.metrics.RecordTaskExecution(string(task.ExecutionStatus))
			}
			if result.Record.AIAttempted {
				s.metrics.RecordAIConfidence(selectionMode, result.Record.AIConfidence)
			}
		}
		s.metrics.RecordDispatch(selectionMode, string(result.Status), duration)
	}

	return result, err
}

// =============================================================================
// FLAG OPERATIONS
// =============================================================================

// GetFlags returns the current administrative flag snapshot.
func (s *Service) GetFlags() types.Flags {
	return s.flags.Get()
}

// SetFlags applies a partial flag update on behalf of actor.
func (s *Service) SetFlags(ctx context.Context, actor flags.Actor, update types.FlagsUpdate, updatedBy string) (types.Flags, error) {
	return s.flags.Set(ctx, actor, update, updatedBy)
}
