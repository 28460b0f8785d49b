// Package flags implements the administrative flag store: a
// single-row durable snapshot in Postgres, mirrored in an in-process
// atomic pointer so that every alert-processing goroutine can read the
// current incident_response_mode without touching the database or
// blocking a concurrent writer. Writes are gated by an embedded OPA
// policy evaluated against the calling actor.
package flags

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/arre-io/arre/pkg/types"
)

// ErrInvalidValue is returned when a FlagsUpdate carries a value
// outside the enumerated set (e.g. an incident_response_mode other
// than deterministic/ai_selected/autonomous).
var ErrInvalidValue = errors.New("flags: invalid value")

// ErrPermissionDenied is returned when the calling actor is not
// authorized to write the flag snapshot, per policy evaluation.
var ErrPermissionDenied = errors.New("flags: permission denied")

// DurableStore is the subset of persistence flags depends on.
type DurableStore interface {
	GetFlags(ctx context.Context) (*types.Flags, error)
	UpsertFlags(ctx context.Context, flags *types.Flags) error
}

// Actor identifies the caller attempting to write flags, evaluated
// against the admission policy.
type Actor struct {
	Role      string
	Suspended bool
}

// Store is the administrative flag store.
type Store struct {
	db     DurableStore
	policy *Policy
	logger *slog.Logger

	snapshot atomic.Pointer[types.Flags]
}

// New creates a flag store and loads the current snapshot from the
// database, falling back to types.DefaultFlags if no row exists yet.
func New(ctx context.Context, db DurableStore, policy *Policy, logger *slog.Logger) (*Store, error) {
	s := &Store{db: db, policy: policy, logger: logger.With("component", "flags")}

	current, err := db.GetFlags(ctx)
	if err != nil {
		return nil, fmt.Errorf("flags: load initial snapshot: %w", err)
	}
	if current == nil {
		defaults := types.DefaultFlags()
		current = &defaults
	}
	s.snapshot.Store(current)
	return s, nil
}

// Get returns the current flag snapshot. Safe for concurrent callers;
// never blocks on the database.
func (s *Store) Get() types.Flags {
	return *s.snapshot.Load()
}

// Set applies a partial update after checking the update's values are
// valid and the actor is authorized, then durably persists the new
// snapshot before swapping the in-memory pointer.
func (s *Store) Set(ctx context.Context, actor Actor, update types.FlagsUpdate, updatedBy string) (types.Flags, error) {
	if update.IncidentResponseMode != nil && !types.ValidIncidentResponseMode(*update.IncidentResponseMode) {
		return types.Flags{}, fmt.Errorf("%w: incident_response_mode %q", ErrInvalidValue, *update.IncidentResponseMode)
	}

	allowed, err := s.policy.Allow(ctx, actor)
	if err != nil {
		return types.Flags{}, fmt.Errorf("flags: policy evaluation: %w", err)
	}
	if !allowed {
		return types.Flags{}, fmt.Errorf("%w: role %q", ErrPermissionDenied, actor.Role)
	}

	next := s.Get()
	if update.IncidentResponseMode != nil {
		next.IncidentResponseMode = *update.IncidentResponseMode
	}
	if update.AcceptTrustedPrincipalHeader != nil {
		next.AcceptTrustedPrincipalHeader = *update.AcceptTrustedPrincipalHeader
	}
	next.UpdatedAt = time.Now()
	next.UpdatedBy = updatedBy

	if err := s.db.UpsertFlags(ctx, &next); err != nil {
		return types.Flags{}, fmt.Errorf("flags: persist update: %w", err)
	}

	s.snapshot.Store(&next)
	s.logger.Info("flags updated", "updated_by", updatedBy, "incident_response_mode", next.IncidentResponseMode)
	return next, nil
}
