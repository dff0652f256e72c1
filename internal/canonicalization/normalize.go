// Package canonicalization provides text normalization and fingerprinting for
// the merger's errors-entity dedup key.
//
// This package provides pure utility functions that operate on primitives (strings)
// rather than domain types, so the same normalization rules back both the SQL
// digest() path and the application-code fallback described in the merger's
// design notes.
package canonicalization

import "strings"

// Normalize lowercases, trims, and collapses interior whitespace runs to a
// single space. Applied to every fingerprint field before hashing and to
// every conflict-key column before a nullify/equality check, so that
// "Bearing  Worn", "bearing worn", and " BEARING WORN " all compare equal.
func Normalize(field string) string {
	fields := strings.Fields(field)

	return strings.ToLower(strings.Join(fields, " "))
}
