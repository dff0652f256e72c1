package inspector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Default report paths (§4.1, §12).
const (
	DataDictionaryPath      = "reports/DATA_DICTIONARY.md"
	ProfileReportPath       = "reports/PROFILE_REPORT.json"
	RelationshipsReportPath = "reports/RELATIONSHIPS_REPORT.json"
)

// ProfileReport is PROFILE_REPORT.json's shape.
type ProfileReport struct {
	GeneratedAt  time.Time               `json:"generated_at"`
	SourcePath   string                  `json:"source_path"`
	SourceSHA256 string                  `json:"source_sha256"`
	Sheets       map[string]SheetProfile `json:"sheets"`
}

// RelationshipsReport is RELATIONSHIPS_REPORT.json's shape, keyed the same
// way internal/featuregate.LoadRelationshipsReport expects to read it.
type RelationshipsReport struct {
	GeneratedAt   time.Time                     `json:"generated_at"`
	Relationships map[string]RelationshipResult `json:"relationships"`
	Summary       RelationshipsSummary          `json:"summary"`
}

// RelationshipsSummary mirrors the original's coarse pass/fail counters.
type RelationshipsSummary struct {
	TotalRelationships int `json:"total_relationships"`
	Validated          int `json:"validated"`
	HighMatchRate      int `json:"high_match_rate"`
	LowMatchRate       int `json:"low_match_rate"`
}

// WriteProfileReport writes PROFILE_REPORT.json.
func WriteProfileReport(path, sourcePath, sourceSHA256 string, sheets map[string]SheetProfile) error {
	report := ProfileReport{
		GeneratedAt:  time.Now().UTC(),
		SourcePath:   sourcePath,
		SourceSHA256: sourceSHA256,
		Sheets:       sheets,
	}

	return writeJSON(path, report)
}

// WriteRelationshipsReport writes RELATIONSHIPS_REPORT.json with the same
// high/low match-rate summary the original script reported.
func WriteRelationshipsReport(path string, relationships map[string]RelationshipResult) error {
	summary := RelationshipsSummary{TotalRelationships: len(relationships), Validated: len(relationships)}

	for _, r := range relationships {
		switch {
		case r.MatchRate > 0.99:
			summary.HighMatchRate++
		case r.MatchRate < 0.9:
			summary.LowMatchRate++
		}
	}

	report := RelationshipsReport{
		GeneratedAt:   time.Now().UTC(),
		Relationships: relationships,
		Summary:       summary,
	}

	return writeJSON(path, report)
}

// WriteDataDictionary writes DATA_DICTIONARY.md, a human-readable walk
// through every sheet's columns: the same table shape
// ExcelInspector._generate_data_dictionary produces.
func WriteDataDictionary(path, sourcePath string, sheets map[string]SheetProfile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}

	var b strings.Builder

	fmt.Fprintf(&b, "# Data Dictionary\n\n")
	fmt.Fprintf(&b, "**Generated at**: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "**Source file**: %s\n\n---\n\n", sourcePath)

	names := make([]string, 0, len(sheets))
	for name := range sheets {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		sheet := sheets[name]

		fmt.Fprintf(&b, "## Sheet: `%s`\n\n", name)
		fmt.Fprintf(&b, "- **Row count**: %d\n", sheet.RowCount)
		fmt.Fprintf(&b, "- **Column count**: %d\n\n", sheet.ColumnCount)

		if len(sheet.PKCandidates) > 0 {
			fmt.Fprintf(&b, "- **Primary key candidates**: %s\n\n", strings.Join(sheet.PKCandidates, ", "))
		}

		fmt.Fprintf(&b, "### Columns\n\n")
		fmt.Fprintf(&b, "| Column | Type | Null Rate | Null Count | Cardinality | Cardinality Rate | Examples |\n")
		fmt.Fprintf(&b, "|---|---|---|---|---|---|---|\n")

		for _, col := range sheet.Headers {
			c := sheet.Columns[col]
			examples := strings.Join(c.Examples, ", ")

			fmt.Fprintf(&b, "| `%s` | %s | %.2f%% | %d | %d | %.2f%% | %s |\n",
				col, c.InferredType, c.NullRate*100, c.NullCount, c.Cardinality, c.CardinalityRate*100, examples)
		}

		fmt.Fprintf(&b, "\n---\n\n")
	}

	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func writeJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	return nil
}
