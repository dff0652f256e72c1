package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSourcesDeclareDistinctWatermarks(t *testing.T) {
	seen := map[string]bool{}

	for _, s := range sources {
		name := mvName(s.wmTable, s.wmColumn)
		assert.False(t, seen[name], "duplicate watermark source %s", name)
		seen[name] = true
		assert.NotNil(t, s.compute)
	}

	assert.Len(t, seen, 3)
}

func TestRunCycleDefaultsWindow(t *testing.T) {
	windowDays := 0
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}

	assert.Equal(t, DefaultWindowDays, windowDays)
}
