package featuregate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultReportPath is where the feature-gate document lands (§4.5, §12).
const DefaultReportPath = "reports/FEATURE_GATES.json"

// WriteReport writes report as indented JSON to path, creating parent
// directories as needed. Downstream services read this file directly to
// decide whether to short-circuit a gated endpoint (§4.5).
func WriteReport(path string, report Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling feature gate report: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	return nil
}

// AnyDisabled reports whether at least one gate whose feature is in
// criticalFeatures is disabled; gates of other features are not considered.
// The release gate treats this as a blocking condition.
func (r Report) AnyDisabled(criticalFeatures map[string]bool) bool {
	for feature, gate := range r.Gates {
		if criticalFeatures[feature] && !gate.Enabled {
			return true
		}
	}

	return false
}
