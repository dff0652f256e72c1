package validate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultReportPath is where the mismatch report lands, per §6.
const DefaultReportPath = "reports/CRITICAL_MISMATCHES.md"

// WriteCriticalMismatches writes DefaultReportPath when the report contains
// at least one mismatch, returning whether it wrote anything. A clean report
// writes nothing and leaves any file from a prior failing run in place;
// nothing removes it.
func WriteCriticalMismatches(path string, report Report) (bool, error) {
	var mismatches []SheetResult

	for _, r := range report.Results {
		if !r.Valid {
			mismatches = append(mismatches, r)
		}
	}

	if len(mismatches) == 0 {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}

	var b strings.Builder

	fmt.Fprintf(&b, "# CRITICAL MISMATCHES - ACTION REQUIRED\n\n")
	fmt.Fprintf(&b, "**Generated at**: %s\n", report.GeneratedAt.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Fprintf(&b, "**Status**: count contract violated for %d sheet(s)\n\n", len(mismatches))
	fmt.Fprintf(&b, "## Mismatches\n")

	for _, m := range mismatches {
		fmt.Fprintf(&b, "\n### %s -> %s\n\n", m.SheetName, m.Table)
		fmt.Fprintf(&b, "- Expected: %d\n", m.Expected)
		fmt.Fprintf(&b, "- Core: %d\n", m.CoreCount)
		fmt.Fprintf(&b, "- Rejected: %d\n", m.RejectedCount)
		fmt.Fprintf(&b, "- Total (core + rejects): %d\n", m.TotalCount)
		fmt.Fprintf(&b, "- Diff: %d (%.2f%%)\n\n", m.Diff, m.DiffPct)
		fmt.Fprintf(&b, "Possible causes:\n")

		for _, c := range m.PossibleCauses {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}

	fmt.Fprintf(&b, "\n## Remediation\n\n")
	fmt.Fprintf(&b, "1. Check `ingestion_runs` and the matching `<table>_rejects` rows for the latest run.\n")
	fmt.Fprintf(&b, "2. Confirm the source file's SHA-256 has not drifted from the expected count's baseline.\n")
	fmt.Fprintf(&b, "3. Re-run `ingest-turbo` if a transient failure is suspected.\n")
	fmt.Fprintf(&b, "4. If the difference persists, investigate per-sheet causes above before promoting this release.\n\n")
	fmt.Fprintf(&b, "**This release must not be promoted until every mismatch above is resolved or the expected count is knowingly refreshed.**\n")

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return false, fmt.Errorf("writing %s: %w", path, err)
	}

	return true, nil
}
