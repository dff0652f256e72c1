package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/nikuframedia/production-core/internal/storage"
)

// DefaultWindowDays bounds how many trailing days the engine revisits on
// each cycle (§4.3: "a bounded window (default last 7 days)").
const DefaultWindowDays = 7

// source pairs the three incremental aggregates with the watermark they
// advance. agg_wip_current has no entry here: it is a full snapshot
// recompute every cycle, not watermark-driven.
//
// wmTable/wmColumn name the watermark row (mvName key); tsTable/tsColumn name
// the real column maxEventTime reads to find the new high-water mark. These
// differ for the quality aggregate: errors carries no event-time column of
// its own (§9), so it rides the owning order's finished_at for both date
// scoping and watermark advancement, under a watermark name of its own so it
// doesn't share state with the order-stats source that tracks the same
// column.
type source struct {
	wmTable, wmColumn string
	tsTable, tsColumn string
	compute           func(ctx context.Context, conn *storage.Connection, snapshotDate time.Time, since *time.Time) (int64, error)
}

var sources = []source{
	{wmTable: "order_phases", wmColumn: "event_time", tsTable: "order_phases", tsColumn: "event_time", compute: computePhaseStatsDaily},
	{wmTable: "orders", wmColumn: "finished_at", tsTable: "orders", tsColumn: "finished_at", compute: computeOrderStatsDaily},
	{wmTable: "errors", wmColumn: "quality_eval", tsTable: "orders", tsColumn: "finished_at", compute: computeQualityDaily},
}

// Report summarizes one engine cycle across every aggregate and candidate
// day in the window.
type Report struct {
	RunID       string
	WindowDays  int
	PerTable    map[string]int64
	WIPRows     int64
}

// Engine runs the Incremental Aggregate Engine's combine-then-advance cycle
// against one pooled connection.
type Engine struct {
	conn *storage.Connection
}

// NewEngine wraps a pooled connection for aggregate computation.
func NewEngine(conn *storage.Connection) *Engine {
	return &Engine{conn: conn}
}

// RunCycle recomputes every incremental aggregate for each candidate day in
// the trailing windowDays (defaulting to DefaultWindowDays when <= 0),
// advancing each source's watermark only after its combine for that day
// commits, then fully recomputes the current-WIP snapshot.
//
// §9: reprocessing a day without resetting its prior watermark would
// double-count sum-of-squares, so a day already covered by a watermark past
// its own end is skipped rather than recombined.
func (e *Engine) RunCycle(ctx context.Context, runID string, windowDays int, asOf time.Time) (Report, error) {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}

	report := Report{RunID: runID, WindowDays: windowDays, PerTable: map[string]int64{}}

	today := asOf.UTC().Truncate(24 * time.Hour)

	for _, src := range sources {
		wm, err := GetWatermark(ctx, e.conn, src.wmTable, src.wmColumn)
		if err != nil {
			return Report{}, err
		}

		var total int64

		for offset := windowDays - 1; offset >= 0; offset-- {
			day := today.AddDate(0, 0, -offset)

			dayEnd := day.AddDate(0, 0, 1)
			if wm.LastTS != nil && !wm.LastTS.Before(dayEnd) {
				continue // this day's watermark already advanced past its own end
			}

			n, err := src.compute(ctx, e.conn, day, wm.LastTS)
			if err != nil {
				return Report{}, err
			}

			total += n

			maxTS, err := maxEventTime(ctx, e.conn, src.tsTable, src.tsColumn, day)
			if err != nil {
				return Report{}, err
			}

			if maxTS == nil {
				continue // no rows for this day; watermark stays put
			}

			if err := AdvanceWatermark(ctx, e.conn, src.wmTable, src.wmColumn, *maxTS, runID); err != nil {
				return Report{}, err
			}

			wm.LastTS = maxTS
		}

		report.PerTable[fmt.Sprintf("%s.%s", src.wmTable, src.wmColumn)] = total
	}

	wipRows, err := computeWIPCurrent(ctx, e.conn, asOf)
	if err != nil {
		return Report{}, err
	}

	report.WIPRows = wipRows

	return report, nil
}
