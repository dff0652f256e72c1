package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T) string {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	sheet := "Phases"
	f.SetSheetName("Sheet1", sheet)
	f.SetCellValue(sheet, "A1", "phase_id")
	f.SetCellValue(sheet, "B1", "name")
	f.SetCellValue(sheet, "A2", "P1")
	f.SetCellValue(sheet, "B2", "Cut")
	f.SetCellValue(sheet, "A3", "P2")
	f.SetCellValue(sheet, "B3", "")

	path := filepath.Join(t.TempDir(), "workbook.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs() error: %v", err)
	}

	return path
}

func TestExtractSheet_WritesRowsAndChecksum(t *testing.T) {
	path := buildWorkbook(t)
	outDir := t.TempDir()

	ex, err := Open(path, outDir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer ex.Close()

	res, err := ex.ExtractSheet("Phases")
	if err != nil {
		t.Fatalf("ExtractSheet() error: %v", err)
	}

	if res.RowCount != 2 {
		t.Errorf("RowCount = %d, want 2", res.RowCount)
	}

	if res.Checksum == "" {
		t.Error("expected non-empty checksum")
	}

	if _, err := os.Stat(res.FilePath); err != nil {
		t.Errorf("expected output file to exist: %v", err)
	}
}

func TestExtractAll_ReportsTotals(t *testing.T) {
	path := buildWorkbook(t)
	outDir := t.TempDir()

	ex, err := Open(path, outDir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer ex.Close()

	report, err := ex.ExtractAll()
	if err != nil {
		t.Fatalf("ExtractAll() error: %v", err)
	}

	if report.TotalRowsExtracted != 2 {
		t.Errorf("TotalRowsExtracted = %d, want 2", report.TotalRowsExtracted)
	}

	if report.ExcelChecksum == "" {
		t.Error("expected non-empty excel checksum")
	}

	if _, ok := report.Sheets["Phases"]; !ok {
		t.Error("expected Phases sheet in report")
	}
}

func TestHashFile_Deterministic(t *testing.T) {
	path := buildWorkbook(t)

	h1, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile() error: %v", err)
	}

	h2, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile() error: %v", err)
	}

	if h1 != h2 {
		t.Errorf("HashFile() not deterministic: %s != %s", h1, h2)
	}
}

func TestNormalizeHeader_FillsBlankColumns(t *testing.T) {
	got := normalizeHeader([]string{"phase_id", ""})
	want := []string{"phase_id", "col_2"}

	for i := range want {
		if got[i] != want[i] {
			t.Errorf("normalizeHeader()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
