// Package extract implements the first stage of the Turbo Ingestion
// Pipeline: converting the inbound workbook into one gzip-compressed CSV
// per sheet, streamed rather than buffered whole, alongside the checksums
// the rest of the pipeline uses for idempotency and audit (§4.2.1).
package extract

import (
	"compress/gzip"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
)

// SheetResult describes one extracted sheet.
type SheetResult struct {
	SheetName  string
	FilePath   string
	RowCount   int64
	Checksum   string
	FileSizeMB float64
}

// Report summarizes a full workbook extraction, mirroring the JSON report
// the pipeline persists for operators to inspect after a run.
type Report struct {
	ExcelPath          string
	ExcelChecksum      string
	PerSheetSHA256     map[string]string
	Sheets             map[string]SheetResult
	TotalRowsExtracted int64
	ExtractedAt        time.Time
}

// Extractor streams sheets out of a single workbook.
type Extractor struct {
	excelPath string
	outputDir string
	f         *excelize.File
}

// Open loads the workbook and prepares the output directory for CSV.gz
// files. Callers must Close the returned Extractor.
func Open(excelPath, outputDir string) (*Extractor, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating extract output dir %s: %w", outputDir, err)
	}

	f, err := excelize.OpenFile(excelPath)
	if err != nil {
		return nil, fmt.Errorf("opening workbook %s: %w", excelPath, err)
	}

	return &Extractor{excelPath: excelPath, outputDir: outputDir, f: f}, nil
}

// Close releases the underlying workbook handle.
func (e *Extractor) Close() error {
	return e.f.Close()
}

// ExtractSheet streams one sheet to <outputDir>/<sheetName>.csv.gz using
// excelize's row cursor, so a sheet with hundreds of thousands of rows
// never needs to sit fully in memory at once.
func (e *Extractor) ExtractSheet(sheetName string) (SheetResult, error) {
	rows, err := e.f.Rows(sheetName)
	if err != nil {
		return SheetResult{}, fmt.Errorf("opening row cursor for sheet %s: %w", sheetName, err)
	}
	defer rows.Close()

	csvPath := filepath.Join(e.outputDir, sheetName+".csv.gz")

	out, err := os.Create(csvPath)
	if err != nil {
		return SheetResult{}, fmt.Errorf("creating %s: %w", csvPath, err)
	}
	defer out.Close()

	gz, err := gzip.NewWriterLevel(out, gzip.DefaultCompression)
	if err != nil {
		return SheetResult{}, fmt.Errorf("initializing gzip writer: %w", err)
	}
	defer gz.Close()

	w := csv.NewWriter(gz)
	sum := sha256.New()

	var (
		rowCount  int64
		sawHeader bool
	)

	for rows.Next() {
		cells, err := rows.Columns()
		if err != nil {
			return SheetResult{}, fmt.Errorf("reading row %d of sheet %s: %w", rowCount, sheetName, err)
		}

		if !sawHeader {
			header := normalizeHeader(cells)
			if err := writeNormalizedRow(w, sum, header); err != nil {
				return SheetResult{}, err
			}

			sawHeader = true

			continue
		}

		normalized := normalizeRow(cells)
		if err := writeNormalizedRow(w, sum, normalized); err != nil {
			return SheetResult{}, err
		}

		rowCount++
	}

	if err := rows.Error(); err != nil {
		return SheetResult{}, fmt.Errorf("iterating sheet %s: %w", sheetName, err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return SheetResult{}, fmt.Errorf("flushing csv writer for sheet %s: %w", sheetName, err)
	}

	if err := gz.Close(); err != nil {
		return SheetResult{}, fmt.Errorf("closing gzip writer for sheet %s: %w", sheetName, err)
	}

	info, err := out.Stat()
	if err != nil {
		return SheetResult{}, fmt.Errorf("stating %s: %w", csvPath, err)
	}

	return SheetResult{
		SheetName:  sheetName,
		FilePath:   csvPath,
		RowCount:   rowCount,
		Checksum:   hex.EncodeToString(sum.Sum(nil)),
		FileSizeMB: float64(info.Size()) / (1024 * 1024),
	}, nil
}

// writeNormalizedRow writes a row to the CSV writer and folds it into the
// running checksum, matching the header being hashed too so the sheet
// checksum changes if a column is renamed.
func writeNormalizedRow(w *csv.Writer, sum interface{ Write([]byte) (int, error) }, fields []string) error {
	if err := w.Write(fields); err != nil {
		return fmt.Errorf("writing csv row: %w", err)
	}

	for i, f := range fields {
		if i > 0 {
			sum.Write([]byte(","))
		}

		sum.Write([]byte(f))
	}

	sum.Write([]byte("\n"))

	return nil
}

// normalizeHeader assigns a positional placeholder to any blank header
// cell so every extracted column still has a name to map against in
// config/ingestion_map.yaml.
func normalizeHeader(cells []string) []string {
	out := make([]string, len(cells))

	for i, c := range cells {
		if c == "" {
			out[i] = "col_" + strconv.Itoa(i+1)
			continue
		}

		out[i] = c
	}

	return out
}

// normalizeRow passes values through unchanged: excelize already renders
// cell values (including dates, per the cell's number format) as display
// strings, so there is no None/Optional distinction left to collapse.
func normalizeRow(cells []string) []string {
	out := make([]string, len(cells))
	copy(out, cells)

	return out
}

// ExtractAll extracts every sheet in the workbook and assembles the
// extraction report, including the whole-file checksum used as the
// ingestion run's idempotency key.
func (e *Extractor) ExtractAll() (*Report, error) {
	sheets := e.f.GetSheetList()

	results := make(map[string]SheetResult, len(sheets))
	perSheetSHA := make(map[string]string, len(sheets))

	var total int64

	for _, name := range sheets {
		res, err := e.ExtractSheet(name)
		if err != nil {
			return nil, err
		}

		results[name] = res
		perSheetSHA[name] = res.Checksum
		total += res.RowCount
	}

	checksum, err := HashFile(e.excelPath)
	if err != nil {
		return nil, err
	}

	return &Report{
		ExcelPath:          e.excelPath,
		ExcelChecksum:      checksum,
		PerSheetSHA256:     perSheetSHA,
		Sheets:             results,
		TotalRowsExtracted: total,
		ExtractedAt:        time.Now().UTC(),
	}, nil
}

// HashFile computes the whole-file SHA-256 of the workbook without
// opening it as a spreadsheet, so the pipeline can check for a completed
// prior run before paying the cost of parsing the workbook at all.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
