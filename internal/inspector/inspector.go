// Package inspector implements the Inspector (§4.1): profiles each sheet of
// the source workbook (read from the gzipped CSVs internal/extract
// produces) and measures pairwise relationship match rates, emitting a
// human-readable data dictionary plus two JSON reports. Grounded in
// original_source/app/ingestion/inspector.py's ExcelInspector, translated
// from in-memory openpyxl rows to streamed CSV rows.
package inspector

import (
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// maxSampleRows bounds how many rows of a sheet are held in memory for
// per-column profiling, matching ExcelInspector.inspect_sheet's max_sample_rows.
const maxSampleRows = 10000

// topValuesCardinalityRate is the cardinality-rate ceiling under which a
// column is considered categorical enough to report top-10 frequencies.
const topValuesCardinalityRate = 0.1

// pkNullRateCeiling/pkCardinalityRateFloor are the PK-candidate heuristic's
// thresholds (§4.1: "null-rate < 1% and distinct-rate > 95%").
const (
	pkNullRateCeiling      = 0.01
	pkCardinalityRateFloor = 0.95
)

// dateInferenceThreshold/numericInferenceThreshold/intInferenceThreshold
// mirror the original's majority-vote cutoffs for type inference.
const (
	dateInferenceThreshold    = 0.8
	numericInferenceThreshold = 0.8
	intInferenceThreshold     = 0.9
)

// ValueCount is one entry of a column's top-10 most frequent values.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// ColumnProfile is one column's full profiling result.
type ColumnProfile struct {
	InferredType    string       `json:"inferred_type"`
	NullRate        float64      `json:"null_rate"`
	NullCount       int64        `json:"null_count"`
	Cardinality     int64        `json:"cardinality"`
	CardinalityRate float64      `json:"cardinality_rate"`
	Examples        []string     `json:"examples"`
	MinDate         *string      `json:"min_date,omitempty"`
	MaxDate         *string      `json:"max_date,omitempty"`
	TopValues       []ValueCount `json:"top_values,omitempty"`
}

// SheetProfile is one sheet's full inspection result.
type SheetProfile struct {
	SheetName    string                   `json:"sheet_name"`
	Headers      []string                 `json:"headers"`
	RowCount     int64                    `json:"row_count"`
	ColumnCount  int                      `json:"column_count"`
	Columns      map[string]ColumnProfile `json:"columns"`
	PKCandidates []string                 `json:"pk_candidates"`
}

// Inspector profiles sheets extracted to gzipped CSVs under extractDir
// (internal/extract's output directory), the same files the staging loader
// bulk-loads from.
type Inspector struct {
	extractDir string
}

// New wraps an extraction output directory for inspection.
func New(extractDir string) *Inspector {
	return &Inspector{extractDir: extractDir}
}

// InspectSheet reads <extractDir>/<sheetName>.csv.gz and profiles it.
func (i *Inspector) InspectSheet(sheetName string) (SheetProfile, error) {
	path := filepath.Join(i.extractDir, sheetName+".csv.gz")

	f, err := os.Open(path)
	if err != nil {
		return SheetProfile{}, fmt.Errorf("INSPECTOR_READ: opening %s: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return SheetProfile{}, fmt.Errorf("INSPECTOR_READ: %s is not gzip: %w", path, err)
	}
	defer gz.Close()

	r := csv.NewReader(gz)
	r.FieldsPerRecord = -1

	headers, err := r.Read()
	if err != nil {
		return SheetProfile{}, fmt.Errorf("INSPECTOR_READ: %s has no header row: %w", path, err)
	}

	columnValues := make([][]string, len(headers))

	var rowCount int64

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}

		if err != nil {
			return SheetProfile{}, fmt.Errorf("INSPECTOR_READ: reading %s: %w", path, err)
		}

		rowCount++

		if rowCount > maxSampleRows {
			continue // keep counting rows, stop retaining values once sampled enough
		}

		for col := range headers {
			var val string
			if col < len(record) {
				val = record[col]
			}

			columnValues[col] = append(columnValues[col], val)
		}
	}

	columns := make(map[string]ColumnProfile, len(headers))

	for col, header := range headers {
		columns[header] = profileColumn(columnValues[col])
	}

	pkCandidates := pkCandidates(headers, columns)

	return SheetProfile{
		SheetName:    sheetName,
		Headers:      headers,
		RowCount:     rowCount,
		ColumnCount:  len(headers),
		Columns:      columns,
		PKCandidates: pkCandidates,
	}, nil
}

// InspectAll profiles every named sheet.
func (i *Inspector) InspectAll(sheetNames []string) (map[string]SheetProfile, error) {
	profiles := make(map[string]SheetProfile, len(sheetNames))

	for _, name := range sheetNames {
		p, err := i.InspectSheet(name)
		if err != nil {
			return nil, err
		}

		profiles[name] = p
	}

	return profiles, nil
}

func profileColumn(values []string) ColumnProfile {
	var nonNull []string

	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			nonNull = append(nonNull, v)
		}
	}

	nullCount := int64(len(values) - len(nonNull))

	var nullRate float64
	if len(values) > 0 {
		nullRate = float64(nullCount) / float64(len(values))
	}

	inferredType, minDate, maxDate := inferType(nonNull)

	unique := make(map[string]struct{}, len(nonNull))
	for _, v := range nonNull {
		unique[strings.TrimSpace(v)] = struct{}{}
	}

	cardinality := int64(len(unique))

	var cardinalityRate float64
	if len(nonNull) > 0 {
		cardinalityRate = float64(cardinality) / float64(len(nonNull))
	}

	examples := make([]string, 0, 5)

	for v := range unique {
		if len(examples) == 5 {
			break
		}

		examples = append(examples, v)
	}

	sort.Strings(examples)

	var topValues []ValueCount
	if cardinalityRate < topValuesCardinalityRate && len(nonNull) > 0 {
		topValues = topNValues(nonNull, 10)
	}

	return ColumnProfile{
		InferredType:    inferredType,
		NullRate:        round4(nullRate),
		NullCount:       nullCount,
		Cardinality:     cardinality,
		CardinalityRate: round4(cardinalityRate),
		Examples:        examples,
		MinDate:         minDate,
		MaxDate:         maxDate,
		TopValues:       topValues,
	}
}

// inferType applies the date > integer > float > string majority-vote
// priority (§4.1) over up to 1000 sampled values, matching the original's
// sample cap.
func inferType(nonNull []string) (inferredType string, minDate, maxDate *string) {
	sample := nonNull
	if len(sample) > 1000 {
		sample = sample[:1000]
	}

	var (
		dateCount, numericCount, intCount int
		dates                             []time.Time
	)

	for _, v := range sample {
		if t, ok := parseDate(v); ok {
			dateCount++

			dates = append(dates, t)

			continue
		}

		if f, ok := parseFloat(v); ok {
			numericCount++

			if f == math.Trunc(f) {
				intCount++
			}
		}
	}

	n := len(sample)
	if n == 0 {
		return "string", nil, nil
	}

	switch {
	case float64(dateCount) > float64(n)*dateInferenceThreshold:
		inferredType = "date"

		if len(dates) > 0 {
			min, max := dates[0], dates[0]

			for _, d := range dates[1:] {
				if d.Before(min) {
					min = d
				}

				if d.After(max) {
					max = d
				}
			}

			minStr := min.Format(time.RFC3339)
			maxStr := max.Format(time.RFC3339)
			minDate, maxDate = &minStr, &maxStr
		}
	case float64(numericCount) > float64(n)*numericInferenceThreshold:
		if float64(intCount) > float64(numericCount)*intInferenceThreshold {
			inferredType = "integer"
		} else {
			inferredType = "float"
		}
	default:
		inferredType = "string"
	}

	return inferredType, minDate, maxDate
}

func parseDate(v string) (time.Time, bool) {
	layouts := []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02", "2006-01-02T15:04:05"}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}

func parseFloat(v string) (float64, bool) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}

	return f, true
}

func topNValues(values []string, n int) []ValueCount {
	counts := make(map[string]int, len(values))

	for _, v := range values {
		counts[strings.TrimSpace(v)]++
	}

	out := make([]ValueCount, 0, len(counts))
	for v, c := range counts {
		out = append(out, ValueCount{Value: v, Count: c})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}

		return out[i].Value < out[j].Value
	})

	if len(out) > n {
		out = out[:n]
	}

	return out
}

func pkCandidates(headers []string, columns map[string]ColumnProfile) []string {
	var out []string

	for _, h := range headers {
		c := columns[h]
		if c.NullRate < pkNullRateCeiling && c.CardinalityRate > pkCardinalityRateFloor {
			out = append(out, h)
		}
	}

	return out
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}
