package merge

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/nikuframedia/production-core/internal/canonicalization"
	"github.com/nikuframedia/production-core/internal/cast"
	"github.com/nikuframedia/production-core/internal/ingestmap"
	"github.com/nikuframedia/production-core/internal/storage"
)

// Result reports how one sheet's merge went: how many staging rows existed,
// how many were upserted into core, and how many were classified as rejects.
type Result struct {
	SheetName      string
	StagingCount   int64
	Processed      int64
	Rejected       int64
	ElapsedSeconds float64
}

// Report is the full merge_all outcome across every sheet in a run.
type Report struct {
	RunID          string
	Results        []Result
	TotalProcessed int64
	TotalRejected  int64
}

// Merger applies the merge phase against one pooled connection.
type Merger struct {
	conn *storage.Connection

	digestChecked   bool
	digestAvailable bool
}

// NewMerger wraps a pooled connection for the merge phase.
func NewMerger(conn *storage.Connection) *Merger {
	return &Merger{conn: conn}
}

// MergeAll merges every sheet declared in the manifest, in manifest order, so
// reference catalogs land before the fact tables that reference them. A
// failure on one sheet stops the run; sheets already merged keep their
// committed rows (each sheet merges in its own transaction).
func (m *Merger) MergeAll(ctx context.Context, manifest *ingestmap.Manifest, runID string) (Report, error) {
	report := Report{RunID: runID}

	for _, sheet := range manifest.OrderedSheets() {
		res, err := m.MergeSheet(ctx, sheet, runID)
		if err != nil {
			return report, fmt.Errorf("merging sheet %s: %w", sheet.SheetName, err)
		}

		report.Results = append(report.Results, res)
		report.TotalProcessed += res.Processed
		report.TotalRejected += res.Rejected
	}

	return report, nil
}

// MergeSheet resolves the staging/core tables and ON CONFLICT target for one
// sheet, runs the reject-classification cascade, and upserts the surviving
// rows, all inside a single transaction.
func (m *Merger) MergeSheet(ctx context.Context, sheet ingestmap.SheetConfig, runID string) (Result, error) {
	start := time.Now()

	tx, err := m.conn.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("starting merge transaction for %s: %w", sheet.SheetName, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	if _, err := tx.ExecContext(ctx, `SET search_path TO public, staging`); err != nil {
		return Result{}, fmt.Errorf("setting search_path: %w", err)
	}

	stagingQ, err := resolveTable(ctx, tx, sheet.StagingTable, []string{"staging"})
	if err != nil {
		return Result{}, err
	}

	coreQ, err := resolveTable(ctx, tx, sheet.CoreTable, []string{"public"})
	if err != nil {
		return Result{}, err
	}

	rejectsQ, err := resolveRejectsTable(ctx, tx, coreQ)
	if err != nil {
		return Result{}, err
	}

	var stagingCount int64
	if err := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", stagingQ)).Scan(&stagingCount); err != nil {
		return Result{}, fmt.Errorf("counting %s: %w", stagingQ, err)
	}

	conflictCols, err := resolveConflictTarget(ctx, tx, coreQ, sheet.ConflictColumns)
	if err != nil {
		return Result{}, err
	}

	coreTypes, err := coreColumnTypes(ctx, tx, coreQ)
	if err != nil {
		return Result{}, err
	}

	var processed, rejected int64

	if sheet.IsErrors {
		processed, rejected, err = m.mergeErrors(ctx, tx, sheet, stagingQ, coreQ, rejectsQ, conflictCols, runID)
	} else {
		processed, rejected, err = mergeStandard(ctx, tx, sheet, stagingQ, coreQ, rejectsQ, conflictCols, coreTypes, runID)
	}

	if err != nil {
		return Result{}, err
	}

	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("committing merge for %s: %w", sheet.SheetName, err)
	}

	return Result{
		SheetName:      sheet.SheetName,
		StagingCount:   stagingCount,
		Processed:      processed,
		Rejected:       rejected,
		ElapsedSeconds: time.Since(start).Seconds(),
	}, nil
}

// resolveRejectsTable finds the already-migrated <entity>_rejects table for
// coreQ. Every entity's rejects table is declared up front in the schema
// migrations, so merge only needs to resolve the name, never create it.
func resolveRejectsTable(ctx context.Context, tx *sql.Tx, coreQ string) (string, error) {
	schema, rel := splitQualified(coreQ)
	want := fmt.Sprintf("%s.%s_rejects", schema, rel)

	got, err := toRegclass(ctx, tx, want)
	if err != nil {
		return "", err
	}

	if got == "" {
		return "", fmt.Errorf("rejects table %s does not exist; run migrations first", want)
	}

	return want, nil
}

// insertRejects copies every staging row matching whereSQL into the rejects
// table as a JSONB payload, tagged with the reject's reason, and returns how
// many rows were classified.
func insertRejects(ctx context.Context, tx *sql.Tx, rejectsQ, stagingQ, sheet, runID, code, detail, whereSQL string) (int64, error) {
	res, err := tx.ExecContext(ctx,
		fmt.Sprintf(
			`INSERT INTO %s (run_id, sheet_name, row_number, reason_code, reason_detail, payload)
			 SELECT $1, $2, row_number() OVER (), $3, $4, to_jsonb(t)
			 FROM %s t
			 WHERE %s`,
			rejectsQ, stagingQ, whereSQL,
		),
		runID, sheet, code, detail,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting %s rejects for %s: %w", code, sheet, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting %s rejects for %s: %w", code, sheet, err)
	}

	return n, nil
}

func reverseMapping(columnMapping map[string]string) map[string]string {
	rev := make(map[string]string, len(columnMapping))
	for stg, core := range columnMapping {
		rev[core] = stg
	}

	return rev
}

// mergeStandard runs the ordered reject-classification cascade for every
// non-errors entity, then DISTINCT ON-dedups and upserts whatever survives.
// Each cascade step both records rejects and narrows the WHERE predicate the
// next step (and the final insert) sees, so a row rejected for one reason is
// never double-counted under a later one.
func mergeStandard(
	ctx context.Context, tx *sql.Tx, sheet ingestmap.SheetConfig,
	stagingQ, coreQ, rejectsQ string, conflictCols []string, coreTypes map[string]columnInfo, runID string,
) (int64, int64, error) {
	rev := reverseMapping(sheet.ColumnMapping)

	var rejected int64

	whereValid := "TRUE"

	var nullChecks []string
	for _, c := range conflictCols {
		if stg, ok := rev[c]; ok {
			nullChecks = append(nullChecks, fmt.Sprintf("t.%s IS NULL OR trim(t.%s) = '' OR upper(trim(t.%s)) = 'NULL'", stg, stg, stg))
		}
	}

	if len(nullChecks) > 0 {
		n, err := insertRejects(ctx, tx, rejectsQ, stagingQ, sheet.SheetName, runID,
			"NULL_CONFLICT_KEY",
			fmt.Sprintf("invalid conflict keys: %s", strings.Join(conflictCols, ", ")),
			strings.Join(nullChecks, " OR "),
		)
		if err != nil {
			return 0, 0, err
		}

		rejected += n

		var negated []string
		for _, c := range nullChecks {
			negated = append(negated, fmt.Sprintf("NOT (%s)", c))
		}

		whereValid = strings.Join(negated, " AND ")
	}

	isConflictCol := map[string]bool{}
	for _, c := range conflictCols {
		isConflictCol[c] = true
	}

	for core, info := range coreTypes {
		if info.Nullable || isConflictCol[core] {
			continue
		}

		stg, ok := rev[core]
		if !ok {
			continue
		}

		castExpr := cast.BareExpr(stg, info.UDT)

		n, err := insertRejects(ctx, tx, rejectsQ, stagingQ, sheet.SheetName, runID,
			"NULL_REQUIRED_FIELD",
			fmt.Sprintf("required field %s would be NULL after cast", core),
			fmt.Sprintf("%s AND (%s) IS NULL", whereValid, castExpr),
		)
		if err != nil {
			return 0, 0, err
		}

		rejected += n
		whereValid = fmt.Sprintf("%s AND (%s) IS NOT NULL", whereValid, castExpr)
	}

	_, relName := splitQualified(coreQ)

	// order_phases: a phase-event's finish cannot precede its start.
	if relName == "order_phases" {
		if startStg, ok := rev["started_at"]; ok {
			if endStg, ok2 := rev["finished_at"]; ok2 {
				startCast := cast.BareExpr(startStg, "timestamptz")
				endCast := cast.BareExpr(endStg, "timestamptz")

				n, err := insertRejects(ctx, tx, rejectsQ, stagingQ, sheet.SheetName, runID,
					"INVALID_TIME_RANGE",
					"finished_at precedes started_at",
					fmt.Sprintf("%s AND %s IS NOT NULL AND %s IS NOT NULL AND %s < %s", whereValid, endCast, startCast, endCast, startCast),
				)
				if err != nil {
					return 0, 0, err
				}

				rejected += n
				whereValid = fmt.Sprintf("%s AND (%s IS NULL OR %s IS NULL OR %s >= %s)", whereValid, endCast, startCast, endCast, startCast)
			}
		}
	}

	// phase_workers: worker_id must reference an existing worker.
	if relName == "phase_workers" {
		if fkStg, ok := rev["worker_id"]; ok {
			fkUDT := "text"
			if info, ok2 := coreTypes["worker_id"]; ok2 {
				fkUDT = info.UDT
			}

			fkCast := cast.BareExpr(fkStg, fkUDT)

			n, err := insertRejects(ctx, tx, rejectsQ, stagingQ, sheet.SheetName, runID,
				"FOREIGN_KEY_VIOLATION",
				"worker_id does not exist in workers",
				fmt.Sprintf("%s AND %s IS NOT NULL AND NOT EXISTS (SELECT 1 FROM workers w WHERE w.worker_id = %s)", whereValid, fkCast, fkCast),
			)
			if err != nil {
				return 0, 0, err
			}

			rejected += n
			whereValid = fmt.Sprintf("%s AND (%s IS NULL OR EXISTS (SELECT 1 FROM workers w WHERE w.worker_id = %s))", whereValid, fkCast, fkCast)
		}
	}

	stagingCols := make([]string, 0, len(sheet.ColumnMapping))
	for stg := range sheet.ColumnMapping {
		stagingCols = append(stagingCols, stg)
	}

	coreCols := make([]string, 0, len(sheet.ColumnMapping))
	selectExprs := make([]string, 0, len(sheet.ColumnMapping))

	for stg, core := range sheet.ColumnMapping {
		udt := "text"
		if info, ok := coreTypes[core]; ok {
			udt = info.UDT
		}

		coreCols = append(coreCols, core)
		selectExprs = append(selectExprs, cast.Expr(stg, core, udt))
	}

	var updateSet []string
	for _, c := range coreCols {
		if !isConflictCol[c] {
			updateSet = append(updateSet, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
	}

	if len(updateSet) == 0 {
		// Every core column is part of the conflict target: keep the
		// statement a valid upsert by touching the first one with itself.
		updateSet = append(updateSet, fmt.Sprintf("%s = EXCLUDED.%s", conflictCols[0], conflictCols[0]))
	}

	var distinctOn []string
	for _, c := range conflictCols {
		if stg, ok := rev[c]; ok {
			distinctOn = append(distinctOn, "t."+stg)
		}
	}

	orderBy := "t.ctid"
	if len(distinctOn) > 0 {
		orderBy = strings.Join(distinctOn, ", ") + ", t.ctid"
	}

	stmt := fmt.Sprintf(
		`INSERT INTO %s (%s)
		 SELECT DISTINCT ON (%s) %s
		 FROM %s t
		 WHERE %s
		 ORDER BY %s
		 ON CONFLICT (%s) DO UPDATE SET %s`,
		coreQ, strings.Join(coreCols, ", "),
		strings.Join(distinctOn, ", "), strings.Join(selectExprs, ", "),
		stagingQ, whereValid, orderBy,
		strings.Join(conflictCols, ", "), strings.Join(updateSet, ", "),
	)

	res, err := tx.ExecContext(ctx, stmt)
	if err != nil {
		return 0, 0, fmt.Errorf("upserting %s into %s: %w", sheet.SheetName, coreQ, err)
	}

	processed, err := res.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("counting processed rows for %s: %w", sheet.SheetName, err)
	}

	return processed, rejected, nil
}

// mergeErrors runs the errors-entity special case: a required-fields reject,
// a domain (severity-membership) reject, then an idempotent upsert keyed by
// the fingerprint computed over six normalized fields (invariant I8).
func (m *Merger) mergeErrors(
	ctx context.Context, tx *sql.Tx, sheet ingestmap.SheetConfig,
	stagingQ, coreQ, rejectsQ string, conflictCols []string, runID string,
) (int64, int64, error) {
	var rejected int64

	n, err := insertRejects(ctx, tx, rejectsQ, stagingQ, sheet.SheetName, runID,
		"NULL_REQUIRED_FIELD",
		"description or order_id is NULL",
		"t.description IS NULL OR t.order_id IS NULL OR trim(t.order_id) = '' OR upper(trim(t.order_id)) = 'NULL'",
	)
	if err != nil {
		return 0, 0, err
	}
	rejected += n

	n, err = insertRejects(ctx, tx, rejectsQ, stagingQ, sheet.SheetName, runID,
		"INVALID_GRAVIDADE",
		"severity outside {1,2,3}",
		"t.severity IS NOT NULL AND upper(trim(t.severity)) != 'NULL' AND trim(t.severity) NOT IN ('1','2','3')",
	)
	if err != nil {
		return 0, 0, err
	}
	rejected += n

	whereValid := `t.description IS NOT NULL
		AND t.order_id IS NOT NULL AND trim(t.order_id) != '' AND upper(trim(t.order_id)) != 'NULL'
		AND EXISTS (SELECT 1 FROM orders o WHERE o.order_id = trim(t.order_id))
		AND (t.severity IS NULL OR upper(trim(t.severity)) = 'NULL' OR trim(t.severity) IN ('1','2','3'))`

	digestAvailable, err := m.pgcryptoAvailable(ctx, tx)
	if err != nil {
		return 0, 0, err
	}

	if digestAvailable {
		processed, err := mergeErrorsViaDigest(ctx, tx, stagingQ, coreQ, conflictCols, whereValid)
		return processed, rejected, err
	}

	processed, err := mergeErrorsInGo(ctx, tx, stagingQ, coreQ, conflictCols, whereValid)
	return processed, rejected, err
}

// pgcryptoAvailable probes pg_proc for digest() rather than attempting
// CREATE EXTENSION on every merge: a connection without CREATEDB/superuser
// privilege on the pgcrypto extension can still merge, just via the slower
// Go-computed fallback. Cached on the Merger after the first check so every
// subsequent sheet (including every errors-entity batch within a run) skips
// the catalog round-trip.
func (m *Merger) pgcryptoAvailable(ctx context.Context, tx *sql.Tx) (bool, error) {
	if m.digestChecked {
		return m.digestAvailable, nil
	}

	var exists bool

	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_proc p JOIN pg_namespace n ON p.pronamespace = n.oid WHERE p.proname = 'digest')`,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("probing pgcrypto digest(): %w", err)
	}

	m.digestChecked = true
	m.digestAvailable = exists

	return exists, nil
}

func mergeErrorsViaDigest(ctx context.Context, tx *sql.Tx, stagingQ, coreQ string, conflictCols []string, whereValid string) (int64, error) {
	const normalize = `regexp_replace(lower(trim(coalesce(%s, ''))), '\s+', ' ', 'g')`

	fingerprint := fmt.Sprintf(
		`encode(digest(%s || '|' || %s || '|' || %s || '|' || %s || '|' || %s || '|' || %s, 'sha256'), 'hex')`,
		fmt.Sprintf(normalize, "t.description"),
		fmt.Sprintf(normalize, "t.order_id"),
		fmt.Sprintf(normalize, "t.evaluation_phase_id"),
		fmt.Sprintf(normalize, "t.severity"),
		fmt.Sprintf(normalize, "t.eval_phase_event_id"),
		fmt.Sprintf(normalize, "t.blamed_phase_event_id"),
	)

	stmt := fmt.Sprintf(
		`INSERT INTO %s (description, order_id, evaluation_phase_id, severity, eval_phase_event_id, blamed_phase_event_id, fingerprint)
		 SELECT
		   %s,
		   trim(t.order_id),
		   %s,
		   %s,
		   %s,
		   %s,
		   %s
		 FROM %s t
		 WHERE %s
		 ON CONFLICT (%s) DO UPDATE SET
		   description = EXCLUDED.description,
		   evaluation_phase_id = EXCLUDED.evaluation_phase_id,
		   severity = EXCLUDED.severity,
		   eval_phase_event_id = EXCLUDED.eval_phase_event_id,
		   blamed_phase_event_id = EXCLUDED.blamed_phase_event_id,
		   fingerprint = EXCLUDED.fingerprint`,
		coreQ,
		cast.Nullify("t.description"),
		cast.Nullify("t.evaluation_phase_id"),
		cast.Nullify("t.severity"),
		cast.Nullify("t.eval_phase_event_id"),
		cast.Nullify("t.blamed_phase_event_id"),
		fingerprint,
		stagingQ, whereValid,
		strings.Join(conflictCols, ", "),
	)

	res, err := tx.ExecContext(ctx, stmt)
	if err != nil {
		return 0, fmt.Errorf("upserting errors via digest(): %w", err)
	}

	return res.RowsAffected()
}

// mergeErrorsInGo is the fallback path when pgcrypto is unavailable: the
// candidate rows are read into Go, fingerprinted with
// internal/canonicalization.Fingerprint (byte-identical to the SQL digest()
// path for the same six fields), and upserted in batches.
func mergeErrorsInGo(ctx context.Context, tx *sql.Tx, stagingQ, coreQ string, conflictCols []string, whereValid string) (int64, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(
		`SELECT t.description, t.order_id, t.evaluation_phase_id, t.severity, t.eval_phase_event_id, t.blamed_phase_event_id
		 FROM %s t WHERE %s`,
		stagingQ, whereValid,
	))
	if err != nil {
		return 0, fmt.Errorf("selecting candidate errors rows: %w", err)
	}
	defer rows.Close()

	type row struct {
		description, orderID, evalPhaseID, severity, evalEventID, blamedEventID string
	}

	var candidates []row

	for rows.Next() {
		var (
			description, orderID                                        string
			evalPhaseID, severity, evalEventID, blamedEventID sql.NullString
		)

		if err := rows.Scan(&description, &orderID, &evalPhaseID, &severity, &evalEventID, &blamedEventID); err != nil {
			return 0, fmt.Errorf("scanning candidate errors row: %w", err)
		}

		candidates = append(candidates, row{
			description:   description,
			orderID:       strings.TrimSpace(orderID),
			evalPhaseID:   evalPhaseID.String,
			severity:      severity.String,
			evalEventID:   evalEventID.String,
			blamedEventID: blamedEventID.String,
		})
	}

	if err := rows.Err(); err != nil {
		return 0, err
	}

	if len(candidates) == 0 {
		return 0, nil
	}

	const batchSize = 5000

	var total int64

	for start := 0; start < len(candidates); start += batchSize {
		end := start + batchSize
		if end > len(candidates) {
			end = len(candidates)
		}

		batch := candidates[start:end]

		var (
			placeholders []string
			args         []interface{}
		)

		for i, c := range batch {
			fp := canonicalization.Fingerprint(c.description, c.orderID, c.evalPhaseID, c.severity, c.evalEventID, c.blamedEventID)

			base := i * 7
			placeholders = append(placeholders, fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d)",
				base+1, base+2, base+3, base+4, base+5, base+6, base+7))
			args = append(args, c.description, c.orderID, nullableArg(c.evalPhaseID), nullableArg(c.severity),
				nullableArg(c.evalEventID), nullableArg(c.blamedEventID), fp)
		}

		stmt := fmt.Sprintf(
			`INSERT INTO %s (description, order_id, evaluation_phase_id, severity, eval_phase_event_id, blamed_phase_event_id, fingerprint)
			 VALUES %s
			 ON CONFLICT (%s) DO UPDATE SET
			   description = EXCLUDED.description,
			   evaluation_phase_id = EXCLUDED.evaluation_phase_id,
			   severity = EXCLUDED.severity,
			   eval_phase_event_id = EXCLUDED.eval_phase_event_id,
			   blamed_phase_event_id = EXCLUDED.blamed_phase_event_id,
			   fingerprint = EXCLUDED.fingerprint`,
			coreQ, strings.Join(placeholders, ", "), strings.Join(conflictCols, ", "),
		)

		res, err := tx.ExecContext(ctx, stmt, args...)
		if err != nil {
			return 0, fmt.Errorf("upserting errors batch via Go fingerprint: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("counting errors batch upsert: %w", err)
		}

		total += n
	}

	return total, nil
}

func nullableArg(s string) interface{} {
	if s == "" {
		return nil
	}

	return s
}
