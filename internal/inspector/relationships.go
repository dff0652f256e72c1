package inspector

import (
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nikuframedia/production-core/internal/ingestmap"
)

// maxRelationshipRows caps how many rows of each sheet are read when
// building a relationship's value sets, matching ExcelInspector.validate_relationships'
// min(sheet.max_row, 100000).
const maxRelationshipRows = 100000

// maxOrphans bounds how many orphan values a relationship result reports.
const maxOrphans = 100

// RelationshipResult is one declared relationship's measured match rate.
type RelationshipResult struct {
	Name        string   `json:"name"`
	FromSheet   string   `json:"from_sheet"`
	FromColumn  string   `json:"from_column"`
	ToSheet     string   `json:"to_sheet"`
	ToColumn    string   `json:"to_column"`
	MatchRate   float64  `json:"match_rate"`
	TotalFrom   int      `json:"total_from"`
	TotalTo     int      `json:"total_to"`
	Matches     int      `json:"matches"`
	OrphanCount int      `json:"orphan_count"`
	Orphans     []string `json:"orphans"`
	Critical    bool     `json:"critical"`
	Feature     string   `json:"feature"`
}

// EvaluateRelationships measures every relationship declared in the
// manifest (§4.1: "compute set-intersection match rate |A ∩ B| / |A|,
// treating values as trimmed strings"). Orphans are the from-side values
// with no match on the to side: the child rows an FK-style join would
// drop.
func (i *Inspector) EvaluateRelationships(manifest *ingestmap.Manifest) (map[string]RelationshipResult, error) {
	columnSetCache := map[string]map[string]struct{}{}

	results := make(map[string]RelationshipResult, len(manifest.Relationships))

	for _, rel := range manifest.Relationships {
		fromValues, err := i.columnValueSet(columnSetCache, rel.FromSheet, rel.FromColumn)
		if err != nil {
			return nil, err
		}

		toValues, err := i.columnValueSet(columnSetCache, rel.ToSheet, rel.ToColumn)
		if err != nil {
			return nil, err
		}

		matches := 0

		var orphans []string

		for v := range fromValues {
			if _, ok := toValues[v]; ok {
				matches++
			} else if len(orphans) < maxOrphans {
				orphans = append(orphans, v)
			}
		}

		sort.Strings(orphans)

		var matchRate float64
		if len(fromValues) > 0 {
			matchRate = float64(matches) / float64(len(fromValues))
		}

		results[rel.Name] = RelationshipResult{
			Name:        rel.Name,
			FromSheet:   rel.FromSheet,
			FromColumn:  rel.FromColumn,
			ToSheet:     rel.ToSheet,
			ToColumn:    rel.ToColumn,
			MatchRate:   round4(matchRate),
			TotalFrom:   len(fromValues),
			TotalTo:     len(toValues),
			Matches:     matches,
			OrphanCount: len(fromValues) - matches,
			Orphans:     orphans,
			Critical:    rel.Critical,
			Feature:     rel.Feature,
		}
	}

	return results, nil
}

// columnValueSet reads and caches the distinct trimmed-string values of one
// sheet's column, so a column referenced by multiple relationships (Orders'
// product_id, say) is only read from disk once.
func (i *Inspector) columnValueSet(cache map[string]map[string]struct{}, sheetName, column string) (map[string]struct{}, error) {
	key := sheetName + "." + column

	if set, ok := cache[key]; ok {
		return set, nil
	}

	path := filepath.Join(i.extractDir, sheetName+".csv.gz")

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("INSPECTOR_READ: opening %s: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("INSPECTOR_READ: %s is not gzip: %w", path, err)
	}
	defer gz.Close()

	r := csv.NewReader(gz)
	r.FieldsPerRecord = -1

	headers, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("INSPECTOR_READ: %s has no header row: %w", path, err)
	}

	colIdx := -1

	for idx, h := range headers {
		if h == column {
			colIdx = idx
			break
		}
	}

	if colIdx == -1 {
		return nil, fmt.Errorf("INSPECTOR_READ: column %s not found in sheet %s", column, sheetName)
	}

	set := map[string]struct{}{}

	for rows := 0; rows < maxRelationshipRows; rows++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("INSPECTOR_READ: reading %s: %w", path, err)
		}

		if colIdx >= len(record) {
			continue
		}

		v := strings.TrimSpace(record[colIdx])
		if v == "" {
			continue
		}

		set[v] = struct{}{}
	}

	cache[key] = set

	return set, nil
}
