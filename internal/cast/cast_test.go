package cast

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNullify(t *testing.T) {
	out := Nullify("t.severity")
	assert.Contains(t, out, "upper(trim(t.severity)) IN ('NULL','NONE','NIL')")
	assert.Contains(t, out, "trim(t.severity) = ''")
}

func TestExprInteger(t *testing.T) {
	out := Expr("sequence", "sequence", "int4")
	assert.True(t, strings.HasSuffix(out, "AS sequence"))
	assert.Contains(t, out, "~ '^[0-9]+$'")
	assert.Contains(t, out, "::bigint")
}

func TestExprBoolean(t *testing.T) {
	out := Expr("active", "active", "bool")
	assert.Contains(t, out, "'TRUE','T','1','YES','Y'")
	assert.Contains(t, out, "'FALSE','F','0','NO','N'")
}

func TestExprNumericTimestampDate(t *testing.T) {
	assert.Contains(t, Expr("mass", "mass", "numeric"), "::numeric")
	assert.Contains(t, Expr("started_at", "started_at", "timestamptz"), "::timestamptz")
	assert.Contains(t, Expr("since_date", "since_date", "date"), "::date")
}

func TestExprText(t *testing.T) {
	out := Expr("name", "name", "text")
	assert.NotContains(t, out, "::")
	assert.True(t, strings.HasSuffix(out, "AS name"))
}

func TestBareExprHasNoAliasSuffix(t *testing.T) {
	out := BareExpr("shift", "text")
	assert.NotContains(t, out, " AS ")
}
