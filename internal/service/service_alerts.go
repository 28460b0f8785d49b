package service

import (
	"context"
	"fmt"
	"time"

	"github.com/arre-io/arre/internal/config"
	"github.com/arre-io/arre/pkg/types"
)

// =============================================================================
// ALERT RECORD QUERIES
// =============================================================================

// ListAlerts returns alert records matching the given filter.
func (s *Service) ListAlerts(ctx context.Context, filter types.AlertFilter) ([]types.AlertRecord, error) {
	return s.store.SearchAlertRecords(ctx, filter)
}

// GetAlert retrieves a single alert record by id.
func (s *Service) GetAlert(ctx context.Context, id string) (*types.AlertRecord, error) {
	return s.store.GetAlertRecord(ctx, id)
}

// GetAlertStats aggregates alert counts by selection mode since the
// given time. A zero value covers all time. Results are cached for
// config.CacheTTLAlertStats, keyed by since, since this aggregates
// over the full alert_records table and is hit on every dashboard
// refresh.
func (s *Service) GetAlertStats(ctx context.Context, since time.Time) (*types.AlertStats, error) {
	if s.cache == nil {
		return s.store.GetAlertStats(ctx, since)
	}

	cacheKey := fmt.Sprintf("alert_stats:%d", since.Unix())

	var stats types.AlertStats
	hit, err := s.cache.GetJSON(ctx, cacheKey, &stats)
	if err != nil {
		s.logger.Warn("alert stats cache read failed", "error", err)
	} else if hit {
		return &stats, nil
	}

	result, err := s.store.GetAlertStats(ctx, since)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetJSON(ctx, cacheKey, result, config.CacheTTLAlertStats); err != nil {
		s.logger.Warn("alert stats cache write failed", "error", err)
	}

	return result, nil
}
