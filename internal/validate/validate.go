// Package validate implements the Count Validator (§4.4): the data
// contract that expected == core_count + reject_count holds, within
// tolerance, for every sheet declared in the ingestion manifest. On
// mismatch it writes reports/CRITICAL_MISMATCHES.md naming every failing
// sheet, grounded in original_source/app/ingestion/validate_counts.py.
package validate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nikuframedia/production-core/internal/ingestmap"
	"github.com/nikuframedia/production-core/internal/storage"
)

// Tolerance is the fraction of the expected count a sheet's
// core+rejects total may deviate by before the contract is violated (§4.4:
// "asserts |diff| ≤ 1% × expected").
const Tolerance = 0.01

// SheetResult is one sheet's count-reconciliation outcome.
type SheetResult struct {
	SheetName      string
	Table          string
	Expected       int64
	CoreCount      int64
	RejectedCount  int64
	TotalCount     int64
	Diff           int64
	DiffPct        float64
	Valid          bool
	PossibleCauses []string
}

// Report is the full validate_all outcome across every declared sheet.
type Report struct {
	GeneratedAt time.Time
	Results     []SheetResult
	AllValid    bool
}

// Validator reconciles core+reject counts against manifest-declared
// expectations.
type Validator struct {
	conn *storage.Connection
}

// NewValidator wraps a pooled connection for count validation.
func NewValidator(conn *storage.Connection) *Validator {
	return &Validator{conn: conn}
}

// ValidateAll checks every sheet in the manifest and returns the full
// reconciliation report (P1, I6).
func (v *Validator) ValidateAll(ctx context.Context, manifest *ingestmap.Manifest, runID string) (Report, error) {
	report := Report{GeneratedAt: time.Now().UTC(), AllValid: true}

	for _, sheet := range manifest.OrderedSheets() {
		res, err := v.validateSheet(ctx, sheet, runID)
		if err != nil {
			return Report{}, err
		}

		if !res.Valid {
			report.AllValid = false
		}

		report.Results = append(report.Results, res)
	}

	return report, nil
}

func (v *Validator) validateSheet(ctx context.Context, sheet ingestmap.SheetConfig, runID string) (SheetResult, error) {
	_, coreTable := schemaAndTable(sheet.CoreTable)

	coreCount, err := v.coreCount(ctx, coreTable)
	if err != nil {
		return SheetResult{}, err
	}

	rejectedCount, err := v.rejectedCount(ctx, coreTable, runID)
	if err != nil {
		return SheetResult{}, err
	}

	totalCount := coreCount + rejectedCount
	diff := totalCount - sheet.ExpectedCount

	var diffPct float64
	if sheet.ExpectedCount > 0 {
		diffPct = float64(diff) / float64(sheet.ExpectedCount) * 100
	}

	tolerance := float64(sheet.ExpectedCount) * Tolerance
	valid := float64(abs64(diff)) <= tolerance

	res := SheetResult{
		SheetName:     sheet.SheetName,
		Table:         coreTable,
		Expected:      sheet.ExpectedCount,
		CoreCount:     coreCount,
		RejectedCount: rejectedCount,
		TotalCount:    totalCount,
		Diff:          diff,
		DiffPct:       diffPct,
		Valid:         valid,
	}

	if !valid {
		res.PossibleCauses = suggestCauses(sheet.SheetName, diff, rejectedCount)
	}

	return res, nil
}

func (v *Validator) coreCount(ctx context.Context, table string) (int64, error) {
	var n int64

	err := v.conn.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n) //nolint:gosec // table is a fixed internal identifier
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}

	return n, nil
}

func (v *Validator) rejectedCount(ctx context.Context, table, runID string) (int64, error) {
	rejectsTable := table + "_rejects"

	var exists bool

	err := v.conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`,
		rejectsTable,
	).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("checking for %s: %w", rejectsTable, err)
	}

	if !exists {
		return 0, nil
	}

	var n int64

	err = v.conn.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE run_id = $1", rejectsTable), //nolint:gosec // rejectsTable is derived from a fixed internal identifier
		runID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting %s for run %s: %w", rejectsTable, runID, err)
	}

	return n, nil
}

func suggestCauses(sheetName string, diff, rejected int64) []string {
	var causes []string

	switch {
	case diff < 0:
		causes = append(causes, fmt.Sprintf("missing %d rows - possible ingestion errors or data quality issues", -diff))

		if rejected > 0 {
			causes = append(causes, fmt.Sprintf("%d rows rejected - check %s_rejects table", rejected, strings.ToLower(sheetName)))
		}
	case diff > 0:
		causes = append(causes, fmt.Sprintf("%d extra rows - possible duplicates or data corruption", diff))
	}

	causes = append(causes,
		"check ingestion_report.json for the latest run",
		"verify the source file's SHA-256 hasn't changed since the expected count was set",
	)

	return causes
}

func schemaAndTable(qualified string) (schema, table string) {
	if idx := strings.LastIndex(qualified, "."); idx != -1 {
		return qualified[:idx], qualified[idx+1:]
	}

	return "public", qualified
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}

	return n
}
