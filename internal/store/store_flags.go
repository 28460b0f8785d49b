package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/arre-io/arre/pkg/types"
)

// GetFlags retrieves the single row of administrative flags. Returns
// nil, nil if the row has never been written (callers fall back to
// types.DefaultFlags).
func (s *Store) GetFlags(ctx context.Context) (*types.Flags, error) {
	var flags types.Flags
	err := s.pool.QueryRow(ctx, `
		SELECT incident_response_mode, accept_trusted_principal_header, updated_at, updated_by
		FROM flags WHERE id = 1
	`).Scan(&flags.IncidentResponseMode, &flags.AcceptTrustedPrincipalHeader, &flags.UpdatedAt, &flags.UpdatedBy)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get flags: %w", err)
	}
	return &flags, nil
}

// UpsertFlags writes the single row of administrative flags,
// overwriting whatever was previously stored.
func (s *Store) UpsertFlags(ctx context.Context, flags *types.Flags) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO flags (id, incident_response_mode, accept_trusted_principal_header, updated_at, updated_by)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			incident_response_mode = EXCLUDED.incident_response_mode,
			accept_trusted_principal_header = EXCLUDED.accept_trusted_principal_header,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
	`, flags.IncidentResponseMode, flags.AcceptTrustedPrincipalHeader, flags.UpdatedAt, flags.UpdatedBy)
	if err != nil {
		return fmt.Errorf("upsert flags: %w", err)
	}
	return nil
}
