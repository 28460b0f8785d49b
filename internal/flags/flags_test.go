package flags

import (
	"context"
	"errors"
	"testing"

	"github.com/arre-io/arre/internal/testutil"
	"github.com/arre-io/arre/pkg/types"
)

type fakeDurableStore struct {
	stored  *types.Flags
	getErr  error
	putErr  error
	upserts int
}

func (f *fakeDurableStore) GetFlags(ctx context.Context) (*types.Flags, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.stored, nil
}

func (f *fakeDurableStore) UpsertFlags(ctx context.Context, flags *types.Flags) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.upserts++
	snapshot := *flags
	f.stored = &snapshot
	return nil
}

func newTestStore(t *testing.T, db DurableStore) *Store {
	t.Helper()
	policy, err := NewPolicy(context.Background())
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	s, err := New(context.Background(), db, policy, testutil.NewTestLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNew_FallsBackToDefaultsWhenNoRow(t *testing.T) {
	s := newTestStore(t, &fakeDurableStore{})
	got := s.Get()
	if got.IncidentResponseMode != types.SelectionDeterministic {
		t.Errorf("expected default mode %s, got %s", types.SelectionDeterministic, got.IncidentResponseMode)
	}
}

func TestSet_AdminAllowed(t *testing.T) {
	db := &fakeDurableStore{}
	s := newTestStore(t, db)

	mode := types.SelectionAutonomous
	updated, err := s.Set(context.Background(), Actor{Role: "admin"}, types.FlagsUpdate{IncidentResponseMode: &mode}, "alice")
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if updated.IncidentResponseMode != types.SelectionAutonomous {
		t.Errorf("expected autonomous, got %s", updated.IncidentResponseMode)
	}
	if db.upserts != 1 {
		t.Errorf("expected 1 upsert, got %d", db.upserts)
	}
	if s.Get().IncidentResponseMode != types.SelectionAutonomous {
		t.Error("expected in-memory snapshot to reflect the write")
	}
}

func TestSet_NonAdminDenied(t *testing.T) {
	db := &fakeDurableStore{}
	s := newTestStore(t, db)

	mode := types.SelectionAutonomous
	_, err := s.Set(context.Background(), Actor{Role: "viewer"}, types.FlagsUpdate{IncidentResponseMode: &mode}, "mallory")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if db.upserts != 0 {
		t.Errorf("expected no upsert on denied write, got %d", db.upserts)
	}
}

func TestSet_SuspendedAdminDenied(t *testing.T) {
	db := &fakeDurableStore{}
	s := newTestStore(t, db)

	mode := types.SelectionAutonomous
	_, err := s.Set(context.Background(), Actor{Role: "admin", Suspended: true}, types.FlagsUpdate{IncidentResponseMode: &mode}, "bob")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestSet_InvalidValueRejectedBeforePolicy(t *testing.T) {
	db := &fakeDurableStore{}
	s := newTestStore(t, db)

	bogus := types.SelectionMode("not_a_real_mode")
	_, err := s.Set(context.Background(), Actor{Role: "viewer"}, types.FlagsUpdate{IncidentResponseMode: &bogus}, "mallory")
	if !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
}

func TestSet_NoneIsNotSettable(t *testing.T) {
	db := &fakeDurableStore{}
	s := newTestStore(t, db)

	none := types.SelectionNone
	_, err := s.Set(context.Background(), Actor{Role: "admin"}, types.FlagsUpdate{IncidentResponseMode: &none}, "alice")
	if !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue for SelectionNone, got %v", err)
	}
}

func TestSet_PartialUpdateLeavesOtherFieldUnchanged(t *testing.T) {
	db := &fakeDurableStore{}
	s := newTestStore(t, db)

	trusted := true
	_, err := s.Set(context.Background(), Actor{Role: "admin"}, types.FlagsUpdate{AcceptTrustedPrincipalHeader: &trusted}, "alice")
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if s.Get().IncidentResponseMode != types.SelectionDeterministic {
		t.Errorf("expected untouched mode to remain deterministic, got %s", s.Get().IncidentResponseMode)
	}
	if !s.Get().AcceptTrustedPrincipalHeader {
		t.Error("expected AcceptTrustedPrincipalHeader to be set")
	}
}
