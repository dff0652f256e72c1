package validate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCriticalMismatchesNoopWhenClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "CRITICAL_MISMATCHES.md")

	wrote, err := WriteCriticalMismatches(path, Report{AllValid: true, Results: []SheetResult{{SheetName: "Orders", Valid: true}}})
	require.NoError(t, err)
	assert.False(t, wrote)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestWriteCriticalMismatchesOnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs", "CRITICAL_MISMATCHES.md")

	report := Report{
		GeneratedAt: time.Now().UTC(),
		AllValid:    false,
		Results: []SheetResult{
			{
				SheetName: "Orders", Table: "orders", Expected: 28000, CoreCount: 27000,
				RejectedCount: 200, TotalCount: 27200, Diff: -800, DiffPct: -2.86, Valid: false,
				PossibleCauses: []string{"missing 800 rows"},
			},
		},
	}

	wrote, err := WriteCriticalMismatches(path, report)
	require.NoError(t, err)
	assert.True(t, wrote)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "Orders -> orders")
	assert.Contains(t, string(content), "missing 800 rows")
}
