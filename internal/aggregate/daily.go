package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/nikuframedia/production-core/internal/storage"
)

// DayResult reports how many aggregate rows one table's compute-for-day pass
// touched.
type DayResult struct {
	Table string
	Rows  int64
}

// computePhaseStatsDaily combines order_phases durations into
// agg_phase_stats_daily for snapshotDate, scoped to event_time in
// (since, dayEnd]. since may be nil, meaning "no floor".
func computePhaseStatsDaily(ctx context.Context, conn *storage.Connection, snapshotDate time.Time, since *time.Time) (int64, error) {
	args := []interface{}{snapshotDate}

	where := `DATE(op.event_time) = $1
		AND op.duration_seconds IS NOT NULL
		AND op.duration_seconds > 0`

	if since != nil {
		where += " AND op.event_time > $2"
		args = append(args, *since)
	}

	stmt := fmt.Sprintf(`
		INSERT INTO agg_phase_stats_daily (date, product_id, phase_id, n, sum_dur, sum_dur_sq, min_dur, max_dur)
		SELECT
		  $1,
		  o.product_id,
		  op.phase_id,
		  COUNT(*),
		  SUM(op.duration_seconds),
		  SUM(op.duration_seconds * op.duration_seconds),
		  MIN(op.duration_seconds),
		  MAX(op.duration_seconds)
		FROM order_phases op
		JOIN orders o ON o.order_id = op.order_id
		WHERE %s
		GROUP BY o.product_id, op.phase_id
		ON CONFLICT (date, product_id, phase_id) DO UPDATE SET
		  n = agg_phase_stats_daily.n + EXCLUDED.n,
		  sum_dur = agg_phase_stats_daily.sum_dur + EXCLUDED.sum_dur,
		  sum_dur_sq = agg_phase_stats_daily.sum_dur_sq + EXCLUDED.sum_dur_sq,
		  min_dur = LEAST(agg_phase_stats_daily.min_dur, EXCLUDED.min_dur),
		  max_dur = GREATEST(agg_phase_stats_daily.max_dur, EXCLUDED.max_dur)`,
		where,
	)

	res, err := conn.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("computing agg_phase_stats_daily for %s: %w", snapshotDate.Format("2006-01-02"), err)
	}

	return res.RowsAffected()
}

// computeOrderStatsDaily combines order lead times into agg_order_stats_daily
// for snapshotDate, scoped to finished_at in (since, dayEnd].
func computeOrderStatsDaily(ctx context.Context, conn *storage.Connection, snapshotDate time.Time, since *time.Time) (int64, error) {
	args := []interface{}{snapshotDate}

	where := `DATE(o.finished_at) = $1
		AND o.created_at IS NOT NULL
		AND o.finished_at IS NOT NULL
		AND o.finished_at >= o.created_at`

	if since != nil {
		where += " AND o.finished_at > $2"
		args = append(args, *since)
	}

	stmt := fmt.Sprintf(`
		INSERT INTO agg_order_stats_daily (date, product_id, n, sum_leadtime, sum_leadtime_sq, on_time, late)
		SELECT
		  $1,
		  o.product_id,
		  COUNT(*),
		  SUM(EXTRACT(EPOCH FROM (o.finished_at - o.created_at))),
		  SUM(EXTRACT(EPOCH FROM (o.finished_at - o.created_at)) * EXTRACT(EPOCH FROM (o.finished_at - o.created_at))),
		  COUNT(*) FILTER (WHERE o.transport_at IS NOT NULL AND o.finished_at <= o.transport_at),
		  COUNT(*) FILTER (WHERE o.transport_at IS NOT NULL AND o.finished_at > o.transport_at)
		FROM orders o
		WHERE %s
		GROUP BY o.product_id
		ON CONFLICT (date, product_id) DO UPDATE SET
		  n = agg_order_stats_daily.n + EXCLUDED.n,
		  sum_leadtime = agg_order_stats_daily.sum_leadtime + EXCLUDED.sum_leadtime,
		  sum_leadtime_sq = agg_order_stats_daily.sum_leadtime_sq + EXCLUDED.sum_leadtime_sq,
		  on_time = agg_order_stats_daily.on_time + EXCLUDED.on_time,
		  late = agg_order_stats_daily.late + EXCLUDED.late`,
		where,
	)

	res, err := conn.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("computing agg_order_stats_daily for %s: %w", snapshotDate.Format("2006-01-02"), err)
	}

	return res.RowsAffected()
}

// computeQualityDaily combines errors into agg_quality_daily for
// snapshotDate. errors has no event_time column of its own, so the date
// scope and watermark both ride the owning order's finished_at: §9 treats
// eval_phase_event_id/blamed_phase_event_id as opaque strings, so no join is
// attempted against order_phases to resolve a more precise timestamp.
func computeQualityDaily(ctx context.Context, conn *storage.Connection, snapshotDate time.Time, since *time.Time) (int64, error) {
	args := []interface{}{snapshotDate}

	where := `DATE(o.finished_at) = $1 AND e.evaluation_phase_id IS NOT NULL`

	if since != nil {
		where += " AND o.finished_at > $2"
		args = append(args, *since)
	}

	stmt := fmt.Sprintf(`
		INSERT INTO agg_quality_daily (date, product_id, eval_phase_id, blamed_phase_key, n_errors, sum_severity, affected_orders)
		SELECT
		  $1,
		  o.product_id,
		  e.evaluation_phase_id,
		  COALESCE(e.blamed_phase_event_id, ''),
		  COUNT(*),
		  SUM(COALESCE(NULLIF(e.severity, '')::int, 0)),
		  COUNT(DISTINCT e.order_id)
		FROM errors e
		JOIN orders o ON o.order_id = e.order_id
		WHERE %s
		GROUP BY o.product_id, e.evaluation_phase_id, COALESCE(e.blamed_phase_event_id, '')
		ON CONFLICT (date, product_id, eval_phase_id, blamed_phase_key) DO UPDATE SET
		  n_errors = agg_quality_daily.n_errors + EXCLUDED.n_errors,
		  sum_severity = agg_quality_daily.sum_severity + EXCLUDED.sum_severity,
		  affected_orders = GREATEST(agg_quality_daily.affected_orders, EXCLUDED.affected_orders)`,
		where,
	)

	res, err := conn.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("computing agg_quality_daily for %s: %w", snapshotDate.Format("2006-01-02"), err)
	}

	return res.RowsAffected()
}

// computeWIPCurrent fully recomputes agg_wip_current. Unlike the three daily
// aggregates, this is a snapshot rather than a monoid partial (§4.3: "not
// incremental: it is recomputed in full each cycle"), so every row is
// overwritten rather than combined.
func computeWIPCurrent(ctx context.Context, conn *storage.Connection, asOf time.Time) (int64, error) {
	res, err := conn.ExecContext(ctx, `
		INSERT INTO agg_wip_current (phase_id, product_id, count, sum_age, sum_age_sq, min_age, max_age, oldest_event_time)
		SELECT
		  op.phase_id,
		  o.product_id,
		  COUNT(*),
		  SUM(EXTRACT(EPOCH FROM ($1 - op.started_at))),
		  SUM(EXTRACT(EPOCH FROM ($1 - op.started_at)) * EXTRACT(EPOCH FROM ($1 - op.started_at))),
		  MIN(EXTRACT(EPOCH FROM ($1 - op.started_at))),
		  MAX(EXTRACT(EPOCH FROM ($1 - op.started_at))),
		  MIN(op.started_at)
		FROM order_phases op
		JOIN orders o ON o.order_id = op.order_id
		WHERE op.is_open
		GROUP BY op.phase_id, o.product_id
		ON CONFLICT (phase_id, product_id) DO UPDATE SET
		  count = EXCLUDED.count,
		  sum_age = EXCLUDED.sum_age,
		  sum_age_sq = EXCLUDED.sum_age_sq,
		  min_age = EXCLUDED.min_age,
		  max_age = EXCLUDED.max_age,
		  oldest_event_time = EXCLUDED.oldest_event_time`,
		asOf,
	)
	if err != nil {
		return 0, fmt.Errorf("computing agg_wip_current: %w", err)
	}

	return res.RowsAffected()
}

// maxEventTime returns the greatest event_time/finished_at value on date for
// column, or nil if no row exists for that date. Callers use this value as
// the new watermark floor once the corresponding daily aggregate has been
// combined.
func maxEventTime(ctx context.Context, conn *storage.Connection, table, column string, snapshotDate time.Time) (*time.Time, error) {
	var t interface{}

	err := conn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT MAX(%s) FROM %s WHERE DATE(%s) = $1`, column, table, column), //nolint:gosec // table/column are fixed internal identifiers, not user input
		snapshotDate,
	).Scan(&t)
	if err != nil {
		return nil, fmt.Errorf("finding max %s.%s for %s: %w", table, column, snapshotDate.Format("2006-01-02"), err)
	}

	if t == nil {
		return nil, nil
	}

	ts, ok := t.(time.Time)
	if !ok {
		return nil, fmt.Errorf("unexpected type for max %s.%s", table, column)
	}

	return &ts, nil
}
