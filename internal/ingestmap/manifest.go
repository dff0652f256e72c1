// Package ingestmap loads the declarative per-sheet ingestion manifest that
// drives the staging loader, the core merger, the count validator, and the
// feature-gate evaluator. Keeping this configuration in YAML instead of Go
// literals lets an operator add a sheet, adjust a conflict key, or refresh
// an expected row count without a recompile.
package ingestmap

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the manifest lives relative to the repo root.
const DefaultPath = "config/ingestion_map.yaml"

type (
	// Manifest is the full declarative ingestion configuration: one entry
	// per sheet plus the statically declared cross-sheet relationships
	// consulted by the inspector and the feature-gate evaluator.
	Manifest struct {
		Sheets        []SheetConfig  `yaml:"sheets"`
		Relationships []Relationship `yaml:"relationships"`
	}

	// SheetConfig describes how one source sheet maps onto a staging table
	// and a core table. Mirrors the original merger's MergeConfig shape:
	// sheet name, staging/core table, preferred conflict columns, column
	// mapping, and the errors-entity fingerprint flag.
	SheetConfig struct {
		SheetName       string            `yaml:"sheet_name"`
		StagingTable    string            `yaml:"staging_table"`
		CoreTable       string            `yaml:"core_table"`
		ConflictColumns []string          `yaml:"conflict_columns"`
		ColumnMapping   map[string]string `yaml:"column_mapping"`
		IsErrors        bool              `yaml:"is_errors"`
		ExpectedCount   int64             `yaml:"expected_count"`
	}

	// Relationship is a statically declared foreign-key pair. The inspector
	// measures its match rate; the feature-gate evaluator compares that
	// match rate against Threshold/SoftThreshold to decide Feature's state.
	Relationship struct {
		Name          string  `yaml:"name"`
		FromSheet     string  `yaml:"from_sheet"`
		FromColumn    string  `yaml:"from_column"`
		ToSheet       string  `yaml:"to_sheet"`
		ToColumn      string  `yaml:"to_column"`
		Critical      bool    `yaml:"critical"`
		Feature       string  `yaml:"feature"`
		Threshold     float64 `yaml:"threshold"`
		SoftThreshold float64 `yaml:"soft_threshold"`
	}
)

// ErrNoSheets is returned by Validate when a manifest declares zero sheets.
var ErrNoSheets = errors.New("ingestion manifest declares no sheets")

// Load reads and parses the ingestion manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ingestion manifest %s: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing ingestion manifest %s: %w", path, err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks that every sheet declares at least one conflict column and
// a non-empty column mapping, and that the manifest declares at least one
// sheet at all.
func (m *Manifest) Validate() error {
	if len(m.Sheets) == 0 {
		return ErrNoSheets
	}

	for _, s := range m.Sheets {
		if len(s.ConflictColumns) == 0 {
			return fmt.Errorf("sheet %s: no conflict_columns declared", s.SheetName)
		}

		if len(s.ColumnMapping) == 0 {
			return fmt.Errorf("sheet %s: no column_mapping declared", s.SheetName)
		}
	}

	return nil
}

// SheetByName returns the sheet config with the given name, or false if no
// such sheet is declared.
func (m *Manifest) SheetByName(name string) (SheetConfig, bool) {
	for _, s := range m.Sheets {
		if s.SheetName == name {
			return s, true
		}
	}

	return SheetConfig{}, false
}

// OrderedSheets returns sheets in manifest declaration order. The merger
// relies on that order to respect catalog-before-fact dependency ordering
// (reference catalogs, then orders, then order_phases/phase_workers/errors).
func (m *Manifest) OrderedSheets() []SheetConfig {
	return m.Sheets
}

// CriticalRelationships returns only the relationships flagged critical for
// feature gating.
func (m *Manifest) CriticalRelationships() []Relationship {
	var out []Relationship

	for _, r := range m.Relationships {
		if r.Critical {
			out = append(out, r)
		}
	}

	return out
}
