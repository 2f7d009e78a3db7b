// Package delta persists per-repository ingestion state: the last indexed
// commit, the time it was indexed, and a content hash per tracked file.
package delta

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// State is the structured persistence shape from the data model.
type State struct {
	Repository    string            `json:"repository"`
	Branch        string            `json:"branch"`
	IndexedCommit string            `json:"indexed_commit"`
	IndexedAt     string            `json:"indexed_at"`
	FileHashes    map[string]string `json:"file_hashes"`
}

// Load reads state from path. A missing file returns a zero-value State
// (empty FileHashes, no error) — first ingest of a repository. A legacy
// flat {path: hash} layout is detected and migrated in place.
func Load(path string) (State, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return State{FileHashes: map[string]string{}}, nil
	}
	if err != nil {
		return State{}, err
	}

	var st State
	if err := json.Unmarshal(data, &st); err == nil && st.FileHashes != nil {
		return st, nil
	}

	// Legacy flat format: {"path": "hash", ...} with no wrapper fields.
	var flat map[string]string
	if err := json.Unmarshal(data, &flat); err != nil {
		return State{}, err
	}
	return State{FileHashes: flat}, nil
}

// Save writes state atomically: write to a temporary sibling file, fsync,
// then rename over the target, so a reader never observes a partial write.
func Save(path string, st State) error {
	if st.FileHashes == nil {
		st.FileHashes = map[string]string{}
	}
	if st.IndexedAt == "" {
		st.IndexedAt = time.Now().UTC().Format(time.RFC3339)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
