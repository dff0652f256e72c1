package canonicalization

import "testing"

func Benchmark_Normalize(b *testing.B) {
	if !testing.Short() {
		b.Skip("skipping benchmark in non-short mode")
	}

	fields := []string{
		"  Bearing  worn  ",
		"Gel leak - hull",
		"",
		"FOREIGN OBJECT DAMAGE",
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		for _, f := range fields {
			_ = Normalize(f)
		}
	}
}

func Benchmark_Fingerprint(b *testing.B) {
	if !testing.Short() {
		b.Skip("skipping benchmark in non-short mode")
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = Fingerprint("Bearing worn", "OF1", "F3", "2", "E10", "E9")
	}
}
