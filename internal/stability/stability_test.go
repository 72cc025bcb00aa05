package stability

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEmptyCacheReportsStable(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "stability.json"))
	if store.ParallelUnstable("samtools") {
		t.Fatal("empty cache reported a package as unstable")
	}
}

func TestMarkAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stability.json")
	store := NewStore(path)

	if err := store.MarkParallelUnstable("samtools"); err != nil {
		t.Fatalf("MarkParallelUnstable: %v", err)
	}

	if !store.ParallelUnstable("samtools") {
		t.Fatal("flag not visible after write")
	}
	if store.ParallelUnstable("bcftools") {
		t.Fatal("unrelated package flagged")
	}

	// A fresh store over the same file sees the persisted flag.
	if !NewStore(path).ParallelUnstable("samtools") {
		t.Fatal("flag not persisted across stores")
	}

	entries, err := store.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	e, ok := entries["samtools"]
	if !ok || !e.ParallelUnstable || e.UpdatedAt.IsZero() {
		t.Fatalf("entry = %+v", e)
	}
}

func TestMarkPreservesOtherEntries(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "stability.json"))

	if err := store.MarkParallelUnstable("a"); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkParallelUnstable("b"); err != nil {
		t.Fatal(err)
	}
	if !store.ParallelUnstable("a") || !store.ParallelUnstable("b") {
		t.Fatal("second write clobbered the first entry")
	}
}

func TestCorruptCacheReadsAsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stability.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewStore(path)
	if store.ParallelUnstable("samtools") {
		t.Fatal("corrupt cache reported a package as unstable")
	}
	if _, err := store.Entries(); err == nil {
		t.Fatal("Entries hid the parse error")
	}
}
