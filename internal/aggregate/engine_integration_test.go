package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/nikuframedia/production-core/internal/config"
	"github.com/nikuframedia/production-core/internal/storage"
)

func seedPhaseStatsFixture(t *testing.T, conn *storage.Connection, ctx context.Context) {
	t.Helper()

	_, err := conn.ExecContext(ctx, `INSERT INTO products (product_id, name) VALUES ('P1', 'Hull')`)
	require.NoError(t, err)

	_, err = conn.ExecContext(ctx, `INSERT INTO phases (phase_id, name, sequence) VALUES ('F1', 'Demold', 1)`)
	require.NoError(t, err)

	_, err = conn.ExecContext(ctx, `
		INSERT INTO orders (order_id, created_at, product_id) VALUES ('OF1', now() - interval '10 days', 'P1')`)
	require.NoError(t, err)

	day1 := time.Now().UTC().AddDate(0, 0, -2).Truncate(24 * time.Hour)
	day2 := time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour)

	insertEvent := `
		INSERT INTO order_phases (phase_event_id, order_id, started_at, finished_at, phase_id, event_time, duration_seconds, is_open, is_done)
		VALUES ($1, 'OF1', $2, $3, 'F1', $3, $4, false, true)`

	_, err = conn.ExecContext(ctx, insertEvent, "E1", day1.Add(9*time.Hour), day1.Add(11*time.Hour), 7200)
	require.NoError(t, err)

	_, err = conn.ExecContext(ctx, insertEvent, "E2", day2.Add(9*time.Hour), day2.Add(13*time.Hour), 14400)
	require.NoError(t, err)
}

// TestIncrementalEqualsFullRecompute exercises P8: one cycle whose window
// covers both event days combines each day separately, and the per-day
// partials summed must equal the two events counted exactly once each.
func TestIncrementalEqualsFullRecompute(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	conn := &storage.Connection{DB: testDB.Connection}
	seedPhaseStatsFixture(t, conn, ctx)

	engine := NewEngine(conn)

	_, err := engine.RunCycle(ctx, "run-1", 3, time.Now().UTC())
	require.NoError(t, err)

	// Two separate days produce two separate rows; summed across both days
	// the totals must equal the two events combined exactly once each.
	rows, err := conn.QueryContext(ctx, `SELECT n, sum_dur, sum_dur_sq FROM agg_phase_stats_daily WHERE product_id = 'P1' AND phase_id = 'F1'`)
	require.NoError(t, err)

	defer rows.Close()

	var totalN int64

	var totalDur, totalDurSq float64

	for rows.Next() {
		var rn int64

		var rd, rdsq float64

		require.NoError(t, rows.Scan(&rn, &rd, &rdsq))

		totalN += rn
		totalDur += rd
		totalDurSq += rdsq
	}

	require.Equal(t, int64(2), totalN)
	require.InDelta(t, 21600.0, totalDur, 0.01)
	require.InDelta(t, 7200.0*7200.0+14400.0*14400.0, totalDurSq, 0.01)

	// Re-running the same cycle must be a no-op: the watermark has already
	// advanced past both events, so totals stay exactly where they were.
	_, err = engine.RunCycle(ctx, "run-2", 3, time.Now().UTC())
	require.NoError(t, err)

	rows2, err := conn.QueryContext(ctx, `SELECT n FROM agg_phase_stats_daily WHERE product_id = 'P1' AND phase_id = 'F1'`)
	require.NoError(t, err)

	defer rows2.Close()

	var rerunTotal int64
	for rows2.Next() {
		var rn int64
		require.NoError(t, rows2.Scan(&rn))
		rerunTotal += rn
	}

	require.Equal(t, totalN, rerunTotal)
}
