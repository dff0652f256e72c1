package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSuggestCausesMissingRows(t *testing.T) {
	causes := suggestCauses("Orders", -200, 50)
	assert.Contains(t, causes[0], "missing 200 rows")
	assert.Contains(t, causes[1], "50 rows rejected")
	assert.Contains(t, causes[1], "orders_rejects")
}

func TestSuggestCausesExtraRows(t *testing.T) {
	causes := suggestCauses("Orders", 150, 0)
	assert.Contains(t, causes[0], "150 extra rows")
}

func TestSchemaAndTable(t *testing.T) {
	schema, table := schemaAndTable("public.order_phases")
	assert.Equal(t, "public", schema)
	assert.Equal(t, "order_phases", table)

	schema, table = schemaAndTable("order_phases")
	assert.Equal(t, "public", schema)
	assert.Equal(t, "order_phases", table)
}

func TestAbs64(t *testing.T) {
	assert.Equal(t, int64(5), abs64(-5))
	assert.Equal(t, int64(5), abs64(5))
	assert.Equal(t, int64(0), abs64(0))
}

// TestToleranceBoundary exercises S6: diff within 1% passes, beyond fails.
func TestToleranceBoundary(t *testing.T) {
	const expected = 27380.0

	withinDiff := 180.0
	assert.True(t, withinDiff <= expected*Tolerance)

	beyondDiff := 620.0
	assert.False(t, beyondDiff <= expected*Tolerance)
}
