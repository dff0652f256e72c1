// Package merge implements the merge phase of the Turbo Ingestion Pipeline:
// typed casts from all-TEXT staging tables into the core schema, the ordered
// reject-classification cascade, and the upsert that makes re-running a file
// idempotent (§4.2.3).
package merge

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// toRegclass resolves a possibly-unqualified relation name the way
// PostgreSQL itself would look it up on the search_path, returning "" if no
// such relation exists. Used instead of querying information_schema.tables
// so the same function also confirms the name parses as a valid identifier.
func toRegclass(ctx context.Context, tx *sql.Tx, qualified string) (string, error) {
	var name sql.NullString

	if err := tx.QueryRowContext(ctx, `SELECT to_regclass($1)::text`, qualified).Scan(&name); err != nil {
		return "", fmt.Errorf("resolving %s: %w", qualified, err)
	}

	if !name.Valid {
		return "", nil
	}

	return name.String, nil
}

// resolveTable finds raw (bare or schema-qualified) among schemas in order,
// returning the first schema-qualified name that actually exists. A bare
// name that is already resolvable on its own (e.g. it lives in a schema on
// the connection's default search_path) is accepted as-is.
func resolveTable(ctx context.Context, tx *sql.Tx, raw string, schemas []string) (string, error) {
	if containsDot(raw) {
		got, err := toRegclass(ctx, tx, raw)
		if err != nil {
			return "", err
		}

		if got == "" {
			return "", fmt.Errorf("table does not exist: %s", raw)
		}

		return raw, nil
	}

	for _, s := range schemas {
		q := s + "." + raw

		got, err := toRegclass(ctx, tx, q)
		if err != nil {
			return "", err
		}

		if got != "" {
			return q, nil
		}
	}

	got, err := toRegclass(ctx, tx, raw)
	if err != nil {
		return "", err
	}

	if got != "" {
		return raw, nil
	}

	return "", fmt.Errorf("table does not exist in %v: %s", schemas, raw)
}

func containsDot(s string) bool {
	for _, r := range s {
		if r == '.' {
			return true
		}
	}

	return false
}

func splitQualified(qualified string) (schema, relation string) {
	for i := 0; i < len(qualified); i++ {
		if qualified[i] == '.' {
			return qualified[:i], qualified[i+1:]
		}
	}

	return "public", qualified
}

// columnInfo is one information_schema.columns row: the PostgreSQL udt_name
// drives internal/cast's per-type expression builder, and nullable drives
// the NULL_REQUIRED_FIELD reject check.
type columnInfo struct {
	UDT      string
	Nullable bool
}

func coreColumnTypes(ctx context.Context, tx *sql.Tx, qualifiedCore string) (map[string]columnInfo, error) {
	schema, rel := splitQualified(qualifiedCore)

	rows, err := tx.QueryContext(ctx,
		`SELECT column_name, udt_name, is_nullable
		 FROM information_schema.columns
		 WHERE table_schema = $1 AND table_name = $2
		 ORDER BY ordinal_position`,
		schema, rel,
	)
	if err != nil {
		return nil, fmt.Errorf("reading column types of %s: %w", qualifiedCore, err)
	}
	defer rows.Close()

	out := map[string]columnInfo{}

	for rows.Next() {
		var (
			name, udt, nullable string
		)

		if err := rows.Scan(&name, &udt, &nullable); err != nil {
			return nil, fmt.Errorf("scanning column type of %s: %w", qualifiedCore, err)
		}

		out[name] = columnInfo{UDT: udt, Nullable: nullable == "YES"}
	}

	return out, rows.Err()
}

// uniqueSet is one candidate ON CONFLICT target: a primary key, a UNIQUE
// constraint, or a unique index, each with its ordered column list.
type uniqueSet struct {
	Kind    string
	Columns []string
}

func uniqueSets(ctx context.Context, tx *sql.Tx, qualifiedCore string) ([]uniqueSet, error) {
	schema, rel := splitQualified(qualifiedCore)

	var out []uniqueSet

	constraintRows, err := tx.QueryContext(ctx,
		`SELECT c.contype, array_agg(a.attname ORDER BY array_position(c.conkey, a.attnum))
		 FROM pg_constraint c
		 JOIN pg_class t ON c.conrelid = t.oid
		 JOIN pg_namespace n ON t.relnamespace = n.oid
		 JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(c.conkey)
		 WHERE n.nspname = $1 AND t.relname = $2 AND c.contype IN ('p', 'u')
		 GROUP BY c.contype, c.conkey`,
		schema, rel,
	)
	if err != nil {
		return nil, fmt.Errorf("reading constraints of %s: %w", qualifiedCore, err)
	}

	for constraintRows.Next() {
		var (
			contype string
			cols    []byte
		)

		if err := constraintRows.Scan(&contype, &cols); err != nil {
			constraintRows.Close()
			return nil, fmt.Errorf("scanning constraint of %s: %w", qualifiedCore, err)
		}

		kind := "UNIQUE"
		if contype == "p" {
			kind = "PK"
		}

		out = append(out, uniqueSet{Kind: kind, Columns: parsePGTextArray(string(cols))})
	}

	if err := constraintRows.Err(); err != nil {
		constraintRows.Close()
		return nil, err
	}
	constraintRows.Close()

	indexRows, err := tx.QueryContext(ctx,
		`SELECT array_agg(a.attname ORDER BY array_position(i.indkey, a.attnum))
		 FROM pg_index i
		 JOIN pg_class t ON i.indrelid = t.oid
		 JOIN pg_namespace n ON t.relnamespace = n.oid
		 JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(i.indkey)
		 WHERE n.nspname = $1 AND t.relname = $2 AND i.indisunique = true
		 GROUP BY i.indkey`,
		schema, rel,
	)
	if err != nil {
		return nil, fmt.Errorf("reading unique indexes of %s: %w", qualifiedCore, err)
	}
	defer indexRows.Close()

	for indexRows.Next() {
		var cols []byte
		if err := indexRows.Scan(&cols); err != nil {
			return nil, fmt.Errorf("scanning unique index of %s: %w", qualifiedCore, err)
		}

		if parsed := parsePGTextArray(string(cols)); len(parsed) > 0 {
			out = append(out, uniqueSet{Kind: "UNIQUE_INDEX", Columns: parsed})
		}
	}

	return out, indexRows.Err()
}

// parsePGTextArray parses the lib/pq wire form of a text[] (e.g.
// "{order_id,finished_at}") into its elements. lib/pq decodes array_agg
// results as driver.Value bytes rather than []string, so the braces and
// commas are split by hand here.
func parsePGTextArray(raw string) []string {
	raw = trimBraces(raw)
	if raw == "" {
		return nil
	}

	var out []string

	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			out = append(out, raw[start:i])
			start = i + 1
		}
	}

	return out
}

func trimBraces(s string) string {
	if len(s) >= 2 && s[0] == '{' && s[len(s)-1] == '}' {
		return s[1 : len(s)-1]
	}

	return s
}

// resolveConflictTarget prefers the unique set matching preferred exactly
// (the manifest's declared conflict_columns); failing that, it falls back to
// the table's primary key, matching the original merger's behavior of never
// refusing to merge a table just because its natural key was renamed.
func resolveConflictTarget(ctx context.Context, tx *sql.Tx, qualifiedCore string, preferred []string) ([]string, error) {
	sets, err := uniqueSets(ctx, tx, qualifiedCore)
	if err != nil {
		return nil, err
	}

	wanted := append([]string(nil), preferred...)
	sort.Strings(wanted)

	for _, s := range sets {
		cols := append([]string(nil), s.Columns...)
		sort.Strings(cols)

		if equalStrings(cols, wanted) {
			return s.Columns, nil
		}
	}

	for _, s := range sets {
		if s.Kind == "PK" {
			return s.Columns, nil
		}
	}

	return nil, fmt.Errorf("no ON CONFLICT target for %s matching %v, and no primary key", qualifiedCore, preferred)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
