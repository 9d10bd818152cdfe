package realmforge_test

import (
	"path/filepath"
	"testing"

	"github.com/CreditWorthy/realmforge"
)

const benchRecords = 1024

func benchRealm(b *testing.B) *realmforge.Realm {
	b.Helper()
	r, err := realmforge.Open(realmforge.Config{
		Path:   filepath.Join(b.TempDir(), "bench.realm"),
		Fields: testFields(),
	})
	if err != nil {
		b.Fatalf("Open: %v", err)
	}
	for i := 0; i < benchRecords; i++ {
		if _, err := r.Append(); err != nil {
			b.Fatalf("Append: %v", err)
		}
	}
	b.Cleanup(func() { _ = r.Close() })
	return r
}

func BenchmarkRealm_SetUint64(b *testing.B) {
	r := benchRealm(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := r.SetUint64(i%benchRecords, "id", uint64(i)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRealm_Uint64(b *testing.B) {
	r := benchRealm(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := r.Uint64(i%benchRecords, "id"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRealm_String(b *testing.B) {
	r := benchRealm(b)
	if err := r.SetString(0, "name", "benchmark"); err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := r.String(0, "name"); err != nil {
			b.Fatal(err)
		}
	}
}
