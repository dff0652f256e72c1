package ingestmap

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ingestion_map.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	return path
}

func TestLoad_ValidManifest(t *testing.T) {
	path := writeManifest(t, `
sheets:
  - sheet_name: Orders
    staging_table: staging.orders_raw
    core_table: public.orders
    conflict_columns: [order_id]
    expected_count: 100
    column_mapping:
      order_id: order_id
relationships:
  - name: orders_to_products
    from_sheet: Orders
    from_column: product_id
    to_sheet: Products
    to_column: product_id
    critical: true
    threshold: 0.9
`)

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	if len(m.Sheets) != 1 {
		t.Fatalf("expected 1 sheet, got %d", len(m.Sheets))
	}

	if len(m.CriticalRelationships()) != 1 {
		t.Fatalf("expected 1 critical relationship")
	}

	sheet, ok := m.SheetByName("Orders")
	if !ok {
		t.Fatal("expected to find Orders sheet")
	}

	if sheet.ExpectedCount != 100 {
		t.Fatalf("ExpectedCount = %d, want 100", sheet.ExpectedCount)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected error for missing manifest file")
	}
}

func TestLoad_NoSheets(t *testing.T) {
	path := writeManifest(t, "sheets: []\n")

	_, err := Load(path)
	if !errors.Is(err, ErrNoSheets) {
		t.Fatalf("Load() error = %v, want %v", err, ErrNoSheets)
	}
}

func TestLoad_MissingConflictColumns(t *testing.T) {
	path := writeManifest(t, `
sheets:
  - sheet_name: Orders
    staging_table: staging.orders_raw
    core_table: public.orders
    column_mapping:
      order_id: order_id
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for sheet with no conflict columns")
	}
}

func TestSheetByName_NotFound(t *testing.T) {
	m := &Manifest{Sheets: []SheetConfig{{SheetName: "Orders"}}}

	_, ok := m.SheetByName("NoSuchSheet")
	if ok {
		t.Fatal("expected SheetByName to report not found")
	}
}
