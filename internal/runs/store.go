package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nikuframedia/production-core/internal/storage"
)

// sourceHashMarker separates the human-readable source path from the
// content hash persisted alongside it in ingestion_runs.source_path. The
// schema carries no dedicated hash column, so the idempotency key (§4.2.1:
// "the file-level SHA is the key of the ingestion run") rides along in the
// same column it was always meant to qualify.
const sourceHashMarker = "::sha256="

// ErrRunNotFound is returned when a run lookup finds no matching row.
var ErrRunNotFound = errors.New("ingestion run not found")

// Store persists ingestion_runs and ingestion_sheet_runs rows.
type Store struct {
	conn *storage.Connection
}

// NewStore wraps a pooled connection for run lifecycle persistence.
func NewStore(conn *storage.Connection) *Store {
	return &Store{conn: conn}
}

func encodeSourcePath(path, hash string) string {
	return path + sourceHashMarker + hash
}

func splitSourcePath(encoded string) (path, hash string) {
	idx := strings.LastIndex(encoded, sourceHashMarker)
	if idx == -1 {
		return encoded, ""
	}

	return encoded[:idx], encoded[idx+len(sourceHashMarker):]
}

// CreateRun inserts a new ingestion_runs row in StatusPending and returns the
// populated domain model with a freshly generated RunID.
func (s *Store) CreateRun(ctx context.Context, sourcePath, sourceHash string) (*Run, error) {
	run := &Run{
		RunID:      uuid.NewString(),
		SourcePath: sourcePath,
		SourceHash: sourceHash,
		StartedAt:  time.Now().UTC(),
		Status:     StatusPending,
	}

	if err := run.Validate(); err != nil {
		return nil, err
	}

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO ingestion_runs (run_id, source_path, started_at, status) VALUES ($1, $2, $3, $4)`,
		run.RunID, encodeSourcePath(sourcePath, sourceHash), run.StartedAt, string(run.Status),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ingestion run: %w", err)
	}

	return run, nil
}

// FindCompletedRunBySourceHash implements the idempotency short-circuit
// (P7): a prior run that reached merge_done with the same content hash
// means the caller can skip extract/load/merge entirely.
func (s *Store) FindCompletedRunBySourceHash(ctx context.Context, sourceHash string) (*Run, bool, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT run_id, source_path, started_at, finished_at, status,
		        rows_extracted, rows_loaded, rows_merged, rows_rejected, error_message
		 FROM ingestion_runs
		 WHERE status = $1 AND source_path LIKE '%' || $2
		 ORDER BY started_at DESC
		 LIMIT 1`,
		string(StatusMergeDone), sourceHashMarker+sourceHash,
	)
	if err != nil {
		return nil, false, fmt.Errorf("querying ingestion runs by source hash: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, false, nil
	}

	run, err := scanRun(rows)
	if err != nil {
		return nil, false, err
	}

	return run, true, nil
}

// UpdateStatus advances a run's status, validating the transition first, and
// sets finished_at when the new status is terminal.
func (s *Store) UpdateStatus(ctx context.Context, run *Run, to Status, errMessage string) error {
	if err := ValidateStateTransition(run.Status, to); err != nil {
		return err
	}

	now := time.Now().UTC()

	var finishedAt interface{}
	if to.IsTerminal() {
		finishedAt = now
	}

	_, err := s.conn.ExecContext(ctx,
		`UPDATE ingestion_runs SET status = $1, error_message = NULLIF($2, ''), finished_at = COALESCE($3, finished_at) WHERE run_id = $4`,
		string(to), errMessage, finishedAt, run.RunID,
	)
	if err != nil {
		return fmt.Errorf("updating ingestion run status: %w", err)
	}

	run.Status = to
	run.ErrorMessage = errMessage

	if to.IsTerminal() {
		run.FinishedAt = &now
	}

	return nil
}

// UpdateTotals persists the running row counters on ingestion_runs.
func (s *Store) UpdateTotals(ctx context.Context, runID string, extracted, loaded, merged, rejected int64) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE ingestion_runs SET rows_extracted = $1, rows_loaded = $2, rows_merged = $3, rows_rejected = $4 WHERE run_id = $5`,
		extracted, loaded, merged, rejected, runID,
	)
	if err != nil {
		return fmt.Errorf("updating ingestion run totals: %w", err)
	}

	return nil
}

// UpsertSheetRun inserts or updates an ingestion_sheet_runs row for the
// (run_id, sheet_name) pair.
func (s *Store) UpsertSheetRun(ctx context.Context, sr *SheetRun) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO ingestion_sheet_runs
		   (run_id, sheet_name, rows_extracted, rows_loaded, rows_merged, rows_rejected, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (run_id, sheet_name) DO UPDATE SET
		   rows_extracted = EXCLUDED.rows_extracted,
		   rows_loaded = EXCLUDED.rows_loaded,
		   rows_merged = EXCLUDED.rows_merged,
		   rows_rejected = EXCLUDED.rows_rejected,
		   finished_at = EXCLUDED.finished_at`,
		sr.RunID, sr.SheetName, sr.RowsExtracted, sr.RowsLoaded, sr.RowsMerged, sr.RowsRejected,
		sr.StartedAt, sr.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting sheet run %s: %w", sr.SheetName, err)
	}

	return nil
}

// GetRun loads a single ingestion_runs row by id.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT run_id, source_path, started_at, finished_at, status,
		        rows_extracted, rows_loaded, rows_merged, rows_rejected, error_message
		 FROM ingestion_runs WHERE run_id = $1`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying ingestion run %s: %w", runID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrRunNotFound
	}

	return scanRun(rows)
}

// LatestRun loads the most recently started ingestion_runs row, regardless
// of status. The release gate uses this to re-validate counts against the
// run the last pipeline invocation actually produced.
func (s *Store) LatestRun(ctx context.Context) (*Run, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT run_id, source_path, started_at, finished_at, status,
		        rows_extracted, rows_loaded, rows_merged, rows_rejected, error_message
		 FROM ingestion_runs ORDER BY started_at DESC LIMIT 1`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying latest ingestion run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrRunNotFound
	}

	return scanRun(rows)
}

func scanRun(rows *sql.Rows) (*Run, error) {
	var (
		run          Run
		encodedPath  string
		finishedAt   sql.NullTime
		status       string
		errorMessage sql.NullString
	)

	if err := rows.Scan(
		&run.RunID, &encodedPath, &run.StartedAt, &finishedAt, &status,
		&run.RowsExtracted, &run.RowsLoaded, &run.RowsMerged, &run.RowsRejected, &errorMessage,
	); err != nil {
		return nil, fmt.Errorf("scanning ingestion run row: %w", err)
	}

	run.SourcePath, run.SourceHash = splitSourcePath(encodedPath)
	run.Status = Status(status)

	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}

	if errorMessage.Valid {
		run.ErrorMessage = errorMessage.String
	}

	return &run, nil
}
