package featuregate

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikuframedia/production-core/internal/ingestmap"
)

func TestVerdictWord(t *testing.T) {
	assert.Equal(t, "meets", verdictWord(true))
	assert.Equal(t, "below", verdictWord(false))
}

func testManifest() *ingestmap.Manifest {
	return &ingestmap.Manifest{
		Relationships: []ingestmap.Relationship{
			{
				Name: "order_phases_to_orders", Critical: true,
				Feature: "order_phase_history", Threshold: 0.95, SoftThreshold: 0.98,
			},
			{
				Name: "orders_to_products", Critical: false,
				Feature: "produto_join", Threshold: 0.90, SoftThreshold: 0.95,
			},
		},
	}
}

// TestEvaluateAllMatchesS5 exercises S5: a critical relationship at 32.3%
// match rate comes back with its feature disabled.
func TestEvaluateAllMatchesS5(t *testing.T) {
	manifest := testManifest()

	matchRates := map[string]MatchRate{
		"order_phases_to_orders": {MatchRate: 0.323, OrphanCount: 1200},
		"orders_to_products":     {MatchRate: 0.93, OrphanCount: 40},
	}

	report := EvaluateAll(manifest, matchRates)

	history := report.Gates["order_phase_history"]
	assert.False(t, history.Enabled)
	assert.True(t, history.Degraded)
	assert.Equal(t, 1200, history.OrphanCount)

	produto := report.Gates["produto_join"]
	assert.True(t, produto.Enabled)
	assert.True(t, produto.Degraded, "0.93 is below the 0.95 soft threshold")
}

func TestEvaluateAllMissingRelationshipDefaultsToDisabled(t *testing.T) {
	report := EvaluateAll(testManifest(), map[string]MatchRate{})

	gate := report.Gates["order_phase_history"]
	assert.Equal(t, 0.0, gate.MatchRate)
	assert.False(t, gate.Enabled)
	assert.True(t, gate.Degraded)
}

func TestLoadRelationshipsReportMissingFileIsEmptyNotError(t *testing.T) {
	rates, err := LoadRelationshipsReport(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Empty(t, rates)
}

func TestAnyDisabledOnlyFlagsCriticalFeatures(t *testing.T) {
	report := Report{Gates: map[string]Gate{
		"order_phase_history": {Enabled: false},
		"produto_join":        {Enabled: false},
	}}

	critical := map[string]bool{"order_phase_history": true}

	assert.True(t, report.AnyDisabled(critical))
	assert.False(t, report.AnyDisabled(map[string]bool{"produto_join": false}))
}

func TestAnyDisabledCleanWhenAllEnabled(t *testing.T) {
	report := Report{Gates: map[string]Gate{
		"order_phase_history": {Enabled: true},
	}}

	assert.False(t, report.AnyDisabled(map[string]bool{"order_phase_history": true}))
}
