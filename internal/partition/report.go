package partition

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultHealthReportPath is where the partition health document lands.
const DefaultHealthReportPath = "reports/PARTITION_HEALTH.json"

// WriteHealthReport writes report as indented JSON to path.
func WriteHealthReport(path string, report HealthReport) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling partition health report: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	return nil
}
