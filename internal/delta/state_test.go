package delta

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsEmptyState(t *testing.T) {
	st, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatal(err)
	}
	if st.FileHashes == nil || len(st.FileHashes) != 0 {
		t.Errorf("expected empty FileHashes, got %v", st.FileHashes)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingest_state.json")
	st := State{
		Repository:    "cortex",
		Branch:        "main",
		IndexedCommit: "abc123",
		FileHashes:    map[string]string{"/repo/a.go": "hash1"},
	}
	if err := Save(path, st); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.IndexedCommit != "abc123" || loaded.FileHashes["/repo/a.go"] != "hash1" {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.IndexedAt == "" {
		t.Error("expected IndexedAt to be stamped")
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ingest_state.json")
	if err := Save(path, State{Repository: "r"}); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected exactly the target file, got %d entries", len(entries))
	}
}

func TestLoadMigratesLegacyFlatFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingest_state.json")
	legacy := map[string]string{"/repo/a.go": "hash1", "/repo/b.go": "hash2"}
	data, _ := json.Marshal(legacy)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	st, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(st.FileHashes) != 2 || st.FileHashes["/repo/a.go"] != "hash1" {
		t.Errorf("migrated state = %+v", st)
	}
}
