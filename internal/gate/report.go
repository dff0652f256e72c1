package gate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultReportPath is where the blocked-release document lands (§6, §12).
const DefaultReportPath = "reports/RELEASE_BLOCKED.md"

// WriteBlocked writes DefaultReportPath naming every failing check when
// report.ReleaseOK is false, returning whether it wrote anything. A passing
// report writes nothing, and a RELEASE_BLOCKED.md left by a prior failure
// stays in place, matching internal/validate's CRITICAL_MISMATCHES.md
// convention: nothing in this package removes it.
func WriteBlocked(path string, report Report) (bool, error) {
	if report.ReleaseOK {
		return false, nil
	}

	var failing []Check

	for _, c := range report.Checks {
		if !c.Passed {
			failing = append(failing, c)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}

	var b strings.Builder

	fmt.Fprintf(&b, "# RELEASE BLOCKED\n\n")
	fmt.Fprintf(&b, "**Generated at**: %s\n", report.GeneratedAt.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Fprintf(&b, "**Status**: %d of %d checks failed\n\n", len(failing), len(report.Checks))
	fmt.Fprintf(&b, "## Failing checks\n\n")

	for _, c := range failing {
		fmt.Fprintf(&b, "- **%s**: %s\n", c.Name, c.Detail)
	}

	fmt.Fprintf(&b, "\n## Passing checks\n\n")

	for _, c := range report.Checks {
		if c.Passed {
			fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.Detail)
		}
	}

	fmt.Fprintf(&b, "\n## Remediation\n\n")
	fmt.Fprintf(&b, "1. Re-run `migrate up` if migration_head is behind or dirty.\n")
	fmt.Fprintf(&b, "2. Run the `partition` maintenance job if a partition check is short.\n")
	fmt.Fprintf(&b, "3. Investigate `reports/CRITICAL_MISMATCHES.md` if count_validator failed.\n")
	fmt.Fprintf(&b, "4. Re-run the inspector and `evaluate-feature-gates` if feature_gates failed.\n")
	fmt.Fprintf(&b, "5. Publish the missing benchmark artifact if benchmark_artifacts failed.\n\n")
	fmt.Fprintf(&b, "**This release must not be promoted until every failing check above passes.**\n")

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return false, fmt.Errorf("writing %s: %w", path, err)
	}

	return true, nil
}
