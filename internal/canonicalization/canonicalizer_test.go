package canonicalization

import "testing"

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint("Bearing worn", "OF1", "F3", "2", "E10", "E9")
	b := Fingerprint("Bearing worn", "OF1", "F3", "2", "E10", "E9")

	if a != b {
		t.Errorf("Fingerprint() is not deterministic: %q vs %q", a, b)
	}

	if len(a) != 64 {
		t.Errorf("Fingerprint() returned %d chars, expected 64", len(a))
	}
}

func TestFingerprint_CaseAndWhitespaceInsensitive(t *testing.T) {
	a := Fingerprint("Bearing  worn", "OF1", "F3", "2", "E10", "E9")
	b := Fingerprint("  bearing worn  ", "of1", "f3", "2", "e10", "e9")

	if a != b {
		t.Errorf("Fingerprint() should be case/whitespace insensitive: %q vs %q", a, b)
	}
}

func TestFingerprint_FieldOrderMatters(t *testing.T) {
	a := Fingerprint("Bearing worn", "OF1", "F3", "2", "E10", "E9")
	b := Fingerprint("Bearing worn", "OF1", "F3", "2", "E9", "E10")

	if a == b {
		t.Error("Fingerprint() should differ when eval/blamed phase event ids are swapped")
	}
}

func TestFingerprint_EachFieldContributes(t *testing.T) {
	base := Fingerprint("Bearing worn", "OF1", "F3", "2", "E10", "E9")

	variants := []string{
		Fingerprint("Different", "OF1", "F3", "2", "E10", "E9"),
		Fingerprint("Bearing worn", "OF2", "F3", "2", "E10", "E9"),
		Fingerprint("Bearing worn", "OF1", "F4", "2", "E10", "E9"),
		Fingerprint("Bearing worn", "OF1", "F3", "3", "E10", "E9"),
		Fingerprint("Bearing worn", "OF1", "F3", "2", "E11", "E9"),
		Fingerprint("Bearing worn", "OF1", "F3", "2", "E10", "E8"),
	}

	for i, v := range variants {
		if v == base {
			t.Errorf("Fingerprint() did not change when field %d changed", i)
		}
	}
}

func TestFingerprint_EmptyFields(t *testing.T) {
	f := Fingerprint("", "", "", "", "", "")
	if len(f) != 64 {
		t.Errorf("Fingerprint() should still return a 64-char hash for empty fields, got %d", len(f))
	}
}
