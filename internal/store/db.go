// Package store is the persistent typed-document collection: vector +
// metadata + text, upserted and queried by filter. Embeddings are produced
// by an injected embedder, not by this package.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/cortexmemory/cortex/internal/config"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// DB wraps a SQLite connection holding the documents table, its sqlite-vec
// companion, and the schema_meta bookkeeping table.
type DB struct {
	conn *sql.DB
	mu   sync.Mutex // serializes writes; sqlite3 driver is not safe for concurrent writers
	dim  int
}

// Open opens or creates the database at the configured path with the given
// embedding dimension.
func Open(dim int) (*DB, error) {
	return OpenPath(config.DBPath(), dim)
}

// OpenPath opens or creates the database at path.
func OpenPath(path string, dim int) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	var vecVersion string
	if err := conn.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite-vec not available: %w", err)
	}

	if dim <= 0 {
		dim = config.DefaultEmbeddingDim
	}
	db := &DB{conn: conn, dim: dim}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// OpenMemory opens an in-memory database, for tests.
func OpenMemory(dim int) (*DB, error) {
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, err
	}
	if dim <= 0 {
		dim = config.DefaultEmbeddingDim
	}
	db := &DB{conn: conn, dim: dim}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error { return db.conn.Close() }

// Conn returns the underlying sql.DB for callers that need direct queries
// (e.g. the BM25 index rebuild, which scans all document text).
func (db *DB) Conn() *sql.DB { return db.conn }

// Dim returns the embedding dimension the vector table was created with.
func (db *DB) Dim() int { return db.dim }

func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		// documents is the single logical collection described in the data
		// model: every kind (code, note, insight, initiative, ...) lives
		// here. Scalar columns are promoted out of metadata for the
		// filters the search pipeline and ingest GC run constantly
		// (type/repository/branch/file_path); everything else stays in
		// the metadata JSON blob and is reached via json_extract.
		`CREATE TABLE IF NOT EXISTS documents (
			rowid       INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT UNIQUE NOT NULL,
			text        TEXT NOT NULL DEFAULT '',
			metadata    TEXT NOT NULL DEFAULT '{}',
			type        TEXT NOT NULL DEFAULT '',
			repository  TEXT NOT NULL DEFAULT '',
			branch      TEXT NOT NULL DEFAULT '',
			file_path   TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL DEFAULT '',
			updated_at  TEXT NOT NULL DEFAULT '',
			has_embedding INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(type)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_repository ON documents(repository)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_type_repo ON documents(type, repository)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_file_path ON documents(file_path)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_repo_branch ON documents(repository, branch)`,

		fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS documents_vec USING vec0(
			doc_rowid INTEGER PRIMARY KEY,
			embedding float[%d]
		)`, db.dim),

		`CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
			text, content=documents, content_rowid=rowid
		)`,

		// Async task queue persistence lives in its own table so
		// reindex/capture workers never contend with document writes.
		`CREATE TABLE IF NOT EXISTS tasks (
			id          TEXT PRIMARY KEY,
			queue       TEXT NOT NULL,
			kind        TEXT NOT NULL,
			status      TEXT NOT NULL,
			payload     TEXT NOT NULL DEFAULT '{}',
			progress    TEXT NOT NULL DEFAULT '{}',
			error       TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_queue_status ON tasks(queue, status)`,
	}

	for _, m := range migrations {
		if _, err := db.conn.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}

	currentVersion := db.SchemaVersion()
	versionedMigrations := []struct {
		version int
		fn      func() error
	}{
		{1, db.migrateV1}, // baseline
	}
	for _, m := range versionedMigrations {
		if currentVersion < m.version {
			if err := m.fn(); err != nil {
				return fmt.Errorf("migration v%d: %w", m.version, err)
			}
			if err := db.SetMeta("schema_version", strconv.Itoa(m.version)); err != nil {
				return fmt.Errorf("record migration v%d: %w", m.version, err)
			}
		}
	}
	return nil
}

func (db *DB) migrateV1() error { return nil }

// SchemaVersion returns the current schema version (0 if unset).
func (db *DB) SchemaVersion() int {
	v, ok := db.GetMeta("schema_version")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// GetMeta reads a value from schema_meta. Returns ("", false) if not found.
func (db *DB) GetMeta(key string) (string, bool) {
	var value string
	err := db.conn.QueryRow(`SELECT value FROM schema_meta WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return "", false
	}
	return value, true
}

// SetMeta writes a key-value pair to schema_meta.
func (db *DB) SetMeta(key, value string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.Exec(
		`INSERT INTO schema_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// hasColumn reports whether a table currently has a column.
func (db *DB) hasColumn(table, column string) bool {
	rows, err := db.conn.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid      int
			name     string
			colType  string
			notNull  int
			defaultV sql.NullString
			primaryK int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultV, &primaryK); err != nil {
			continue
		}
		if strings.EqualFold(name, column) {
			return true
		}
	}
	return false
}

// SetEmbeddingMeta records the provider/model/dims last used to populate
// embeddings, so a later mismatch can be detected instead of silently
// serving garbage nearest-neighbor results.
func (db *DB) SetEmbeddingMeta(provider, model string, dims int) error {
	if err := db.SetMeta("embed_provider", provider); err != nil {
		return err
	}
	if err := db.SetMeta("embed_model", model); err != nil {
		return err
	}
	return db.SetMeta("embed_dims", strconv.Itoa(dims))
}

// CheckEmbeddingMeta compares the given embedding config against what was
// last recorded. nil means compatible (including "nothing recorded yet").
func (db *DB) CheckEmbeddingMeta(provider, model string, dims int) error {
	storedProvider, hasProvider := db.GetMeta("embed_provider")
	storedModel, hasModel := db.GetMeta("embed_model")
	storedDimsStr, hasDims := db.GetMeta("embed_dims")

	if !hasProvider && !hasModel && !hasDims {
		return nil
	}
	storedDims, _ := strconv.Atoi(storedDimsStr)

	if hasDims && dims > 0 && storedDims > 0 && storedDims != dims {
		return fmt.Errorf("embedding dimensions changed from %d to %d — run ingest with force_full to rebuild", storedDims, dims)
	}
	if hasProvider && hasModel && (storedProvider != provider || storedModel != model) {
		return fmt.Errorf("embedding model changed from %s/%s to %s/%s — run ingest with force_full to rebuild",
			storedProvider, storedModel, provider, model)
	}
	return nil
}

// IntegrityCheck runs PRAGMA integrity_check and returns an error if
// corruption is detected.
func (db *DB) IntegrityCheck() error {
	var result string
	if err := db.conn.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// RebuildFTS rebuilds the FTS5 index from the documents table. Called after
// bulk writes (e.g. a full reindex) where per-row sync would be wasteful.
func (db *DB) RebuildFTS() error {
	_, err := db.conn.Exec(`INSERT INTO documents_fts(documents_fts) VALUES('rebuild')`)
	return err
}
