// Package derived populates order_phases' derived columns (event_time,
// duration_seconds, is_open, is_done) after a merge, and bumps the cache
// version every downstream reader keys its invalidation off.
package derived

import (
	"context"
	"fmt"

	"github.com/nikuframedia/production-core/internal/storage"
)

// maxDurationSeconds caps a pathological duration (a finished_at far in the
// future of started_at, or a data-entry error spanning years) so a single
// bad row cannot blow out the NUMERIC column or skew the daily aggregates.
const maxDurationSeconds = 99999999.99

// Populator derives order_phases' computed columns and advances the cache
// version.
type Populator struct {
	conn *storage.Connection
}

// NewPopulator wraps a pooled connection for the derived-column pass.
func NewPopulator(conn *storage.Connection) *Populator {
	return &Populator{conn: conn}
}

// PopulateOrderPhases is idempotent: the WHERE clause only touches rows
// where a derived column has never been computed, so re-running it after a
// merge that added zero new order_phases rows is a no-op scan.
func (p *Populator) PopulateOrderPhases(ctx context.Context) (int64, error) {
	res, err := p.conn.ExecContext(ctx, fmt.Sprintf(`
		UPDATE order_phases
		SET
		  event_time = COALESCE(finished_at, started_at, planned_date),
		  duration_seconds = CASE
		    WHEN finished_at IS NOT NULL AND started_at IS NOT NULL
		    THEN LEAST(EXTRACT(EPOCH FROM (finished_at - started_at))::numeric, %s)
		    ELSE NULL
		  END,
		  is_open = (started_at IS NOT NULL AND finished_at IS NULL),
		  is_done = (finished_at IS NOT NULL)
		WHERE event_time IS NULL OR is_open IS NULL OR is_done IS NULL`,
		formatCap(maxDurationSeconds),
	))
	if err != nil {
		return 0, fmt.Errorf("populating order_phases derived columns: %w", err)
	}

	return res.RowsAffected()
}

// BumpCacheVersion increments cache_version.version by one, signaling every
// downstream reader that agg_* tables moved forward.
func (p *Populator) BumpCacheVersion(ctx context.Context) (int64, error) {
	var version int64

	err := p.conn.QueryRowContext(ctx, `UPDATE cache_version SET version = version + 1 RETURNING version`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("bumping cache_version: %w", err)
	}

	return version, nil
}

func formatCap(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
