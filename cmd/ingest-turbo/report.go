package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nikuframedia/production-core/internal/aggregate"
	"github.com/nikuframedia/production-core/internal/extract"
	"github.com/nikuframedia/production-core/internal/merge"
	"github.com/nikuframedia/production-core/internal/stagingload"
	"github.com/nikuframedia/production-core/internal/validate"
)

// reportDir is where every per-stage JSON report this pipeline writes
// lands (§6: reports/extraction_report.json, load_report.json,
// merge_report.json, ingestion_report.json).
const reportDir = "reports"

// ingestionReport is the top-level ingestion_report.json document: one
// run's outcome across every stage, for an operator who wants the whole
// story without opening four separate files.
type ingestionReport struct {
	RunID       string                `json:"run_id"`
	GeneratedAt time.Time             `json:"generated_at"`
	Extract     *extract.Report       `json:"extract"`
	Load        stagingload.AllResult `json:"load"`
	Merge       merge.Report          `json:"merge"`
	Aggregate   aggregate.Report      `json:"aggregate"`
	Validation  validate.Report       `json:"validation"`
}

func writeJSONReport(name string, v interface{}) error {
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", reportDir, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", name, err)
	}

	path := filepath.Join(reportDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	return nil
}
