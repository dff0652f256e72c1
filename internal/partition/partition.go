// Package partition implements ahead-of-time partition maintenance for
// order_phases (§5: "Partition maintenance... must be scheduled ahead of the
// ingestion window or COPY will fail with 'no partition for given value'.
// The reference horizon is six months ahead of today"). Grounded in
// original_source/app/workers/jobs_partitions.py's ensure_partitions_ahead
// and partition_health_report, translated from SQLAlchemy Core to
// database/sql and from the original's monthly fases_ordem_fabrico_p_YYYY_MM
// naming to this schema's order_phases_yYYYYmMM convention
// (cmd/migrate/003_order_phases.up.sql).
package partition

import (
	"context"
	"fmt"
	"time"

	"github.com/nikuframedia/production-core/internal/storage"
)

// horizonDays mirrors the original's six-month lookahead.
const horizonDays = 180

// parentTable is the only RANGE-partitioned table this package maintains;
// phase_workers and errors are HASH-partitioned at a fixed modulus and need
// no ahead-of-time creation (§3).
const parentTable = "order_phases"

// EnsureResult reports which monthly partitions a maintenance pass created.
type EnsureResult struct {
	Horizon           time.Time
	CreatedPartitions []string
}

// Maintainer creates and reports on order_phases' monthly RANGE partitions
// against one pooled connection.
type Maintainer struct {
	conn *storage.Connection
}

// New wraps a pooled connection for partition maintenance.
func New(conn *storage.Connection) *Maintainer {
	return &Maintainer{conn: conn}
}

// EnsureAhead creates any order_phases monthly partition missing between the
// latest existing partition (or the current month, if none exist) and the
// six-month horizon from asOf. Each CREATE TABLE is idempotent
// (IF NOT EXISTS), so a racing second caller never fails, it just finds
// nothing left to create.
func (m *Maintainer) EnsureAhead(ctx context.Context, asOf time.Time) (EnsureResult, error) {
	today := asOf.UTC()
	horizon := today.AddDate(0, 0, horizonDays)

	last, err := m.latestPartitionMonth(ctx)
	if err != nil {
		return EnsureResult{}, err
	}

	start := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	if last != nil {
		start = last.AddDate(0, 1, 0)
	}

	var created []string

	for month := start; !month.After(horizon); month = month.AddDate(0, 1, 0) {
		name, err := m.ensureMonth(ctx, month)
		if err != nil {
			return EnsureResult{}, err
		}

		if name != "" {
			created = append(created, name)
		}
	}

	return EnsureResult{Horizon: horizon, CreatedPartitions: created}, nil
}

// latestPartitionMonth finds the newest dated child partition of
// order_phases via pg_inherits/pg_class, skipping order_phases_default
// (which carries no date to parse).
func (m *Maintainer) latestPartitionMonth(ctx context.Context) (*time.Time, error) {
	rows, err := m.conn.QueryContext(ctx, `
		SELECT c.relname
		FROM pg_inherits i
		JOIN pg_class c ON i.inhrelid = c.oid
		JOIN pg_class p ON i.inhparent = p.oid
		WHERE p.relname = $1
		ORDER BY c.relname DESC`,
		parentTable,
	)
	if err != nil {
		return nil, fmt.Errorf("listing %s partitions: %w", parentTable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning partition name: %w", err)
		}

		if month, ok := parsePartitionMonth(name); ok {
			return &month, nil
		}
	}

	return nil, rows.Err()
}

// ensureMonth creates order_phases_yYYYYmMM for the given month if it does
// not already exist, returning the partition name it created (or "" if it
// already existed).
func (m *Maintainer) ensureMonth(ctx context.Context, month time.Time) (string, error) {
	name := partitionName(month)

	existed, err := m.partitionExists(ctx, name)
	if err != nil {
		return "", err
	}

	if existed {
		return "", nil
	}

	next := month.AddDate(0, 1, 0)

	_, err = m.conn.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES FROM ('%s') TO ('%s')`,
		name, parentTable, month.Format("2006-01-02"), next.Format("2006-01-02"),
	)) //nolint:gosec // name/parentTable are derived from a fixed internal naming scheme, not user input
	if err != nil {
		return "", fmt.Errorf("creating partition %s: %w", name, err)
	}

	return name, nil
}

func (m *Maintainer) partitionExists(ctx context.Context, name string) (bool, error) {
	var count int

	err := m.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pg_class WHERE relname = $1`,
		name,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking existence of partition %s: %w", name, err)
	}

	return count > 0, nil
}

func partitionName(month time.Time) string {
	return fmt.Sprintf("%s_y%04dm%02d", parentTable, month.Year(), int(month.Month()))
}

func parsePartitionMonth(relname string) (time.Time, bool) {
	t, err := time.Parse(parentTable+"_y2006m01", relname)
	if err != nil {
		return time.Time{}, false
	}

	return t, true
}
