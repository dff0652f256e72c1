package partition

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// healthMonitoredTables mirrors the original's three monitored parents
// (fases_ordem_fabrico, funcionarios_fase_ordem_fabrico,
// erros_ordem_fabrico), renamed to this schema's order_phases,
// phase_workers, errors.
var healthMonitoredTables = []string{"order_phases", "phase_workers", "errors"}

// PartitionStats is one partition's size and row-count snapshot.
type PartitionStats struct {
	Table       string `json:"table"`
	Partition   string `json:"partition"`
	SizeBytes   int64  `json:"size_bytes"`
	IndexCount  int    `json:"index_count"`
	RowEstimate int64  `json:"row_estimate"`
}

// HealthReport is the partition_health_report document: per-partition
// stats plus the partitions pg_stat_user_tables shows rows in but
// pg_indexes shows no index for (a query with no usable access path).
type HealthReport struct {
	GeneratedAt     time.Time        `json:"generated_at"`
	Partitions      []PartitionStats `json:"partitions"`
	MissingIndexes  []string         `json:"missing_indexes"`
	TotalPartitions int              `json:"total_partitions"`
	TotalSizeBytes  int64            `json:"total_size_bytes"`
}

// Health builds the partition health report across order_phases,
// phase_workers, and errors, grounded in
// original_source/app/workers/jobs_partitions.py's partition_health_report:
// pg_total_relation_size for size, pg_stat_user_tables.n_live_tup for the
// cheap row estimate (an exact COUNT(*) would defeat the point of a health
// check meant to run often), and a per-partition pg_indexes count to flag
// partitions with data and no index.
func (m *Maintainer) Health(ctx context.Context) (HealthReport, error) {
	rows, err := m.conn.QueryContext(ctx, `
		SELECT
		  p.relname AS parent_table,
		  c.relname AS partition_name,
		  pg_total_relation_size(c.oid) AS size_bytes,
		  (SELECT COUNT(*) FROM pg_indexes WHERE tablename = c.relname) AS index_count,
		  COALESCE((SELECT n_live_tup FROM pg_stat_user_tables WHERE relname = c.relname), 0) AS row_estimate
		FROM pg_inherits i
		JOIN pg_class c ON i.inhrelid = c.oid
		JOIN pg_class p ON i.inhparent = p.oid
		WHERE p.relname = ANY($1)
		ORDER BY p.relname, c.relname`,
		pq.Array(healthMonitoredTables),
	)
	if err != nil {
		return HealthReport{}, fmt.Errorf("querying partition health: %w", err)
	}
	defer rows.Close()

	report := HealthReport{GeneratedAt: time.Now().UTC()}

	for rows.Next() {
		var (
			parent    string
			stats     PartitionStats
			indexCnt  int
			rowEst    int64
			sizeBytes int64
		)

		if err := rows.Scan(&parent, &stats.Partition, &sizeBytes, &indexCnt, &rowEst); err != nil {
			return HealthReport{}, fmt.Errorf("scanning partition health row: %w", err)
		}

		stats.Table = parent
		stats.SizeBytes = sizeBytes
		stats.IndexCount = indexCnt
		stats.RowEstimate = rowEst

		report.Partitions = append(report.Partitions, stats)
		report.TotalSizeBytes += sizeBytes

		if indexCnt == 0 && rowEst > 0 {
			report.MissingIndexes = append(report.MissingIndexes, stats.Partition)
		}
	}

	if err := rows.Err(); err != nil {
		return HealthReport{}, err
	}

	report.TotalPartitions = len(report.Partitions)

	return report, nil
}
