// Package aggregate implements the Incremental Aggregate Engine: watermark-
// driven, monoid-combining daily aggregates over order_phases/orders/errors
// (§4.3). Every aggregate except agg_wip_current is a partial that combines
// associatively via ON CONFLICT DO UPDATE, so summing two disjoint time
// windows equals recomputing the union in one pass.
package aggregate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nikuframedia/production-core/internal/storage"
)

// Watermark is the last event_time (and the run that advanced it) a given
// materialized view has incorporated.
type Watermark struct {
	MVName    string
	LastTS    *time.Time
	LastRunID string
}

// mvName mirrors the original implementation's "<table>.<column>" naming so
// an operator reading the watermarks table recognizes at a glance which
// column each row tracks.
func mvName(table, column string) string {
	return table + "." + column
}

// GetWatermark reads the current watermark for table.column, returning the
// zero Watermark (LastTS nil) if the view has never been advanced.
func GetWatermark(ctx context.Context, conn *storage.Connection, table, column string) (Watermark, error) {
	name := mvName(table, column)

	var (
		lastTS    sql.NullTime
		lastRunID sql.NullString
	)

	err := conn.QueryRowContext(ctx,
		`SELECT last_ts, last_run_id FROM watermarks WHERE mv_name = $1`,
		name,
	).Scan(&lastTS, &lastRunID)

	if err == sql.ErrNoRows {
		return Watermark{MVName: name}, nil
	}

	if err != nil {
		return Watermark{}, fmt.Errorf("reading watermark %s: %w", name, err)
	}

	w := Watermark{MVName: name}
	if lastTS.Valid {
		w.LastTS = &lastTS.Time
	}

	if lastRunID.Valid {
		w.LastRunID = lastRunID.String
	}

	return w, nil
}

// AdvanceWatermark upserts the watermark for table.column to ts/runID. Callers
// must only advance a watermark after the corresponding combine has
// committed (§4.3: the watermark advances only after the day's aggregates
// are written).
func AdvanceWatermark(ctx context.Context, conn *storage.Connection, table, column string, ts time.Time, runID string) error {
	_, err := conn.ExecContext(ctx,
		`INSERT INTO watermarks (mv_name, last_ts, last_run_id) VALUES ($1, $2, $3)
		 ON CONFLICT (mv_name) DO UPDATE SET last_ts = EXCLUDED.last_ts, last_run_id = EXCLUDED.last_run_id`,
		mvName(table, column), ts, runID,
	)
	if err != nil {
		return fmt.Errorf("advancing watermark %s.%s: %w", table, column, err)
	}

	return nil
}
