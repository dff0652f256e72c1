package derived

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatCap(t *testing.T) {
	assert.Equal(t, "99999999.99", formatCap(maxDurationSeconds))
}
