// Package cast builds the SQL expressions that turn an all-TEXT staging
// column into a typed core column. Staging holds raw CSV text; core holds
// PostgreSQL's native types, so every merge INSERT...SELECT goes through one
// of these cast expressions rather than relying on an implicit cast.
package cast

import "fmt"

// Nullify wraps a staging column reference in a CASE that maps the empty
// string and the common textual NULL spellings a spreadsheet export
// produces ("NULL", "NONE", "NIL", case-insensitive) to SQL NULL before any
// further cast is attempted.
func Nullify(expr string) string {
	return fmt.Sprintf(
		"CASE WHEN %s IS NULL THEN NULL WHEN trim(%s) = '' THEN NULL WHEN upper(trim(%s)) IN ('NULL','NONE','NIL') THEN NULL ELSE trim(%s) END",
		expr, expr, expr, expr,
	)
}

// Expr builds the "<expression> AS <core column>" fragment that casts
// stagingCol (referenced as t.<stagingCol>) into coreUDT, the PostgreSQL
// udt_name of coreCol as reported by information_schema.columns.
func Expr(stagingCol, coreCol, coreUDT string) string {
	return fmt.Sprintf("%s AS %s", bareExpr(stagingCol, coreUDT), coreCol)
}

// BareExpr is Expr without the trailing "AS <core column>", for use inside
// a WHERE predicate that needs to test a cast result directly (for example,
// rejecting rows where a required column would cast to NULL).
func BareExpr(stagingCol, coreUDT string) string {
	return bareExpr(stagingCol, coreUDT)
}

func bareExpr(stagingCol, coreUDT string) string {
	e := fmt.Sprintf("t.%s", stagingCol)
	n := Nullify(e)

	switch coreUDT {
	case "int2", "int4", "int8":
		// Only a bare unsigned-integer literal casts; anything else (a
		// decimal point, a stray letter) is treated as unparseable and
		// nullified rather than erroring the whole merge statement.
		return fmt.Sprintf(
			"CASE WHEN %s IS NULL THEN NULL WHEN trim(%s) = '' THEN NULL WHEN upper(trim(%s)) IN ('NULL','NONE','NIL') THEN NULL WHEN trim(%s) ~ '^[0-9]+$' THEN (trim(%s))::bigint ELSE NULL END",
			e, e, e, e, e,
		)
	case "numeric", "float4", "float8":
		return fmt.Sprintf("(%s)::numeric", n)
	case "date":
		return fmt.Sprintf("(%s)::date", n)
	case "timestamp":
		return fmt.Sprintf("(%s)::timestamp", n)
	case "timestamptz":
		return fmt.Sprintf("(%s)::timestamptz", n)
	case "bool":
		return fmt.Sprintf(
			"CASE WHEN %s IS NULL THEN NULL WHEN upper(trim(%s)) IN ('TRUE','T','1','YES','Y') THEN true WHEN upper(trim(%s)) IN ('FALSE','F','0','NO','N') THEN false ELSE NULL END",
			e, e, e,
		)
	default:
		// text/varchar/uuid and anything else: nullified, trimmed text.
		return n
	}
}
