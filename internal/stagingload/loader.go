// Package stagingload implements the load phase of the Turbo Ingestion
// Pipeline: bulk-loading extracted CSV.gz files into the UNLOGGED staging
// tables using PostgreSQL's COPY protocol, the fastest path lib/pq exposes
// for getting rows into the database (§4.2.2).
package stagingload

import (
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lib/pq"

	"github.com/nikuframedia/production-core/internal/ingestmap"
	"github.com/nikuframedia/production-core/internal/storage"
)

// Session tuning applied for the lifetime of the load transaction only
// (SET LOCAL), matching the bulk-load session settings a one-shot batch
// load needs and nothing the rest of the connection pool should inherit.
const (
	sessionSynchronousCommitOff = "SET LOCAL synchronous_commit = off"
	sessionMaintenanceWorkMem   = "SET LOCAL maintenance_work_mem = '256MB'"
	sessionWorkMem              = "SET LOCAL work_mem = '64MB'"
	sessionStatementTimeout     = "SET LOCAL statement_timeout = '1h'"
)

// Result reports how one sheet's staging load went.
type Result struct {
	SheetName            string
	StagingTable         string
	RowCount             int64
	ElapsedSeconds       float64
	ThroughputRowsPerSec float64
}

// Loader bulk-loads CSV.gz files produced by internal/extract into staging
// tables described by an ingestmap.Manifest.
type Loader struct {
	conn *storage.Connection
}

// NewLoader wraps a pooled connection for staging loads.
func NewLoader(conn *storage.Connection) *Loader {
	return &Loader{conn: conn}
}

// LoadSheet truncates the staging table and COPYs every row of csvGzPath
// into it inside one transaction, so a failed load never leaves the table
// half-populated.
func (l *Loader) LoadSheet(ctx context.Context, sheetName, csvGzPath string, cfg ingestmap.SheetConfig) (Result, error) {
	start := time.Now()

	tx, err := l.conn.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("starting load transaction for %s: %w", sheetName, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	for _, stmt := range []string{sessionSynchronousCommitOff, sessionMaintenanceWorkMem, sessionWorkMem, sessionStatementTimeout} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return Result{}, fmt.Errorf("tuning load session for %s: %w", sheetName, err)
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s", cfg.StagingTable)); err != nil {
		return Result{}, fmt.Errorf("truncating %s: %w", cfg.StagingTable, err)
	}

	rowCount, err := copyRows(ctx, tx, cfg, csvGzPath)
	if err != nil {
		return Result{}, err
	}

	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("committing load for %s: %w", sheetName, err)
	}

	elapsed := time.Since(start).Seconds()

	throughput := 0.0
	if elapsed > 0 {
		throughput = float64(rowCount) / elapsed
	}

	return Result{
		SheetName:            sheetName,
		StagingTable:         cfg.StagingTable,
		RowCount:             rowCount,
		ElapsedSeconds:       elapsed,
		ThroughputRowsPerSec: throughput,
	}, nil
}

// copyRows streams csvGzPath through a pq.CopyIn prepared statement. lib/pq
// does not expose raw COPY FROM STDIN text framing, so the CSV is decoded
// row by row and re-encoded as COPY's binary wire protocol by the driver,
// which still vastly outperforms row-at-a-time INSERTs for this volume.
//
// Column order comes from the CSV header itself rather than manifest map
// iteration (which Go does not order), validated against the sheet's
// declared column_mapping so an unexpected header fails the load instead
// of silently COPYing into the wrong column.
func copyRows(ctx context.Context, tx *sql.Tx, cfg ingestmap.SheetConfig, csvGzPath string) (int64, error) {
	f, err := os.Open(csvGzPath)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", csvGzPath, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("opening gzip reader for %s: %w", csvGzPath, err)
	}
	defer gz.Close()

	r := csv.NewReader(gz)
	r.FieldsPerRecord = -1 // staging schemas can be wider than a given export; COPY ignores extras by column list

	header, err := r.Read()
	if err != nil {
		return 0, fmt.Errorf("reading header of %s: %w", csvGzPath, err)
	}

	columns := make([]string, len(header))
	for i, col := range header {
		if _, known := cfg.ColumnMapping[col]; !known {
			return 0, fmt.Errorf("%s: unrecognized source column %q for sheet %s", csvGzPath, col, cfg.SheetName)
		}

		columns[i] = col
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(cfg.StagingTable, columns...))
	if err != nil {
		return 0, fmt.Errorf("preparing COPY into %s: %w", cfg.StagingTable, err)
	}
	defer stmt.Close()

	var rowCount int64

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}

		if err != nil {
			return 0, fmt.Errorf("reading row %d of %s: %w", rowCount+1, csvGzPath, err)
		}

		args := make([]interface{}, len(columns))
		for i := range columns {
			if i < len(record) {
				args[i] = record[i]
			} else {
				args[i] = nil
			}
		}

		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("copying row %d into %s: %w", rowCount+1, cfg.StagingTable, err)
		}

		rowCount++
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		return 0, fmt.Errorf("flushing COPY into %s: %w", cfg.StagingTable, err)
	}

	return rowCount, nil
}
