package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arre-io/arre/pkg/types"
)

// =============================================================================
// ALERT RECORDS - APPEND-ONLY
// =============================================================================

// CreateAlertRecord inserts a new alert record. Alert records are never
// updated after insert; reprocessing an alert produces a new record.
func (s *Store) CreateAlertRecord(ctx context.Context, record *types.AlertRecord) error {
	labelsJSON, err := json.Marshal(record.Labels)
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}
	annotationsJSON, err := json.Marshal(record.Annotations)
	if err != nil {
		return fmt.Errorf("marshal annotations: %w", err)
	}
	candidatesJSON, err := json.Marshal(record.AICandidateToolTasks)
	if err != nil {
		return fmt.Errorf("marshal ai candidate tooltasks: %w", err)
	}
	executedJSON, err := json.Marshal(record.ExecutedTasks)
	if err != nil {
		return fmt.Errorf("marshal executed tasks: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO alert_records (
			id, source, alert_name, status, severity, fingerprint,
			labels, annotations, starts_at, ends_at, raw_payload, received_at,
			selection_mode, incident_response_mode,
			runbook_task_id, primary_job_id, child_task_id,
			ai_attempted, ai_confidence, ai_reasoning, ai_candidate_tooltasks,
			execution_status, tasks_executed, executed_tasks,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14,
			$15, $16, $17,
			$18, $19, $20, $21,
			$22, $23, $24,
			$25
		)
	`,
		record.ID, record.Source, record.AlertName, record.Status, record.Severity, record.Fingerprint,
		labelsJSON, annotationsJSON, record.StartsAt, record.EndsAt, []byte(record.RawPayload), record.ReceivedAt,
		record.SelectionMode, record.IncidentResponseMode,
		record.RunbookTaskID, record.PrimaryJobID, record.ChildTaskID,
		record.AIAttempted, record.AIConfidence, record.AIReasoning, candidatesJSON,
		record.ExecutionStatus, record.TasksExecuted, executedJSON,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert alert record: %w", err)
	}
	return nil
}

// GetAlertRecord retrieves a single alert record by id. Returns nil, nil
// if no record exists with that id.
func (s *Store) GetAlertRecord(ctx context.Context, id string) (*types.AlertRecord, error) {
	row := s.pool.QueryRow(ctx, alertRecordSelectColumns+`
		FROM alert_records WHERE id = $1
	`, id)

	record, err := scanAlertRecord(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get alert record: %w", err)
	}
	return record, nil
}

const alertRecordSelectColumns = `
	SELECT
		id, source, alert_name, status, severity, fingerprint,
		labels, annotations, starts_at, ends_at, raw_payload, received_at,
		selection_mode, incident_response_mode,
		runbook_task_id, primary_job_id, child_task_id,
		ai_attempted, ai_confidence, ai_reasoning, ai_candidate_tooltasks,
		execution_status, tasks_executed, executed_tasks,
		created_at
`

type scanner interface {
	Scan(dest ...any) error
}

func scanAlertRecord(row scanner) (*types.AlertRecord, error) {
	var record types.AlertRecord
	var labelsJSON, annotationsJSON, candidatesJSON, executedJSON, rawPayload []byte

	err := row.Scan(
		&record.ID, &record.Source, &record.AlertName, &record.Status, &record.Severity, &record.Fingerprint,
		&labelsJSON, &annotationsJSON, &record.StartsAt, &record.EndsAt, &rawPayload, &record.ReceivedAt,
		&record.SelectionMode, &record.IncidentResponseMode,
		&record.RunbookTaskID, &record.PrimaryJobID, &record.ChildTaskID,
		&record.AIAttempted, &record.AIConfidence, &record.AIReasoning, &candidatesJSON,
		&record.ExecutionStatus, &record.TasksExecuted, &executedJSON,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(labelsJSON) > 0 {
		if err := json.Unmarshal(labelsJSON, &record.Labels); err != nil {
			return nil, fmt.Errorf("unmarshal labels: %w", err)
		}
	}
	if len(annotationsJSON) > 0 {
		if err := json.Unmarshal(annotationsJSON, &record.Annotations); err != nil {
			return nil, fmt.Errorf("unmarshal annotations: %w", err)
		}
	}
	if len(candidatesJSON) > 0 {
		if err := json.Unmarshal(candidatesJSON, &record.AICandidateToolTasks); err != nil {
			return nil, fmt.Errorf("unmarshal ai candidate tooltasks: %w", err)
		}
	}
	if len(executedJSON) > 0 {
		if err := json.Unmarshal(executedJSON, &record.ExecutedTasks); err != nil {
			return nil, fmt.Errorf("unmarshal executed tasks: %w", err)
		}
	}
	record.RawPayload = rawPayload

	return &record, nil
}

// SearchAlertRecords lists alert records matching filter, newest first.
func (s *Store) SearchAlertRecords(ctx context.Context, filter types.AlertFilter) ([]types.AlertRecord, error) {
	where := "1=1"
	args := []any{}
	argNum := 1

	if filter.Source != nil {
		where += fmt.Sprintf(" AND source = $%d", argNum)
		args = append(args, *filter.Source)
		argNum++
	}
	if filter.AlertName != nil {
		where += fmt.Sprintf(" AND alert_name = $%d", argNum)
		args = append(args, *filter.AlertName)
		argNum++
	}
	if filter.SelectionMode != nil {
		where += fmt.Sprintf(" AND selection_mode = $%d", argNum)
		args = append(args, *filter.SelectionMode)
		argNum++
	}
	if filter.Severity != nil {
		where += fmt.Sprintf(" AND severity = $%d", argNum)
		args = append(args, *filter.Severity)
		argNum++
	}
	if filter.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, *filter.Status)
		argNum++
	}
	if filter.Since != nil {
		where += fmt.Sprintf(" AND created_at >= $%d", argNum)
		args = append(args, *filter.Since)
		argNum++
	}
	if filter.Query != "" {
		where += fmt.Sprintf(" AND (alert_name ILIKE $%d OR ai_reasoning ILIKE $%d)", argNum, argNum)
		args = append(args, "%"+filter.Query+"%")
		argNum++
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := fmt.Sprintf(alertRecordSelectColumns+`
		FROM alert_records
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, argNum, argNum+1)
	args = append(args, limit, filter.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search alert records: %w", err)
	}
	defer rows.Close()

	var records []types.AlertRecord
	for rows.Next() {
		record, err := scanAlertRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert record: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// GetAlertStats aggregates alert record counts by selection mode since
// the given time (zero value for all-time).
func (s *Store) GetAlertStats(ctx context.Context, since time.Time) (*types.AlertStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT selection_mode, count(*)
		FROM alert_records
		WHERE created_at >= $1
		GROUP BY selection_mode
	`, since)
	if err != nil {
		return nil, fmt.Errorf("get alert stats: %w", err)
	}
	defer rows.Close()

	stats := &types.AlertStats{BySelectionMode: map[types.SelectionMode]int{}}
	for rows.Next() {
		var mode types.SelectionMode
		var count int
		if err := rows.Scan(&mode, &count); err != nil {
			return nil, fmt.Errorf("scan alert stats row: %w", err)
		}
		stats.BySelectionMode[mode] = count
		stats.Total += count
	}
	return stats, rows.Err()
}
