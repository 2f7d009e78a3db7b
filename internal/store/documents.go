package store

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// Document is one row of the collection described in the data model: id,
// indexable text, dense embedding, and a flat metadata map.
type Document struct {
	ID        string
	Text      string
	Metadata  map[string]any
	Embedding []float32
}

// Include selects which fields Get/Query populate beyond ids.
type Include struct {
	Text       bool
	Metadata   bool
	Embeddings bool
	Distances  bool
}

// QueryResult is the parallel-array return shape of Get/Query.
type QueryResult struct {
	IDs        []string
	Texts      []string
	Metadatas  []map[string]any
	Embeddings [][]float32
	Distances  []float64 // cosine distance; only set by Query
}

func requiredMetaString(meta map[string]any, key string) string {
	if v, ok := meta[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Upsert inserts or replaces a document by id. Metadata is stamped with
// created_at on first insert and updated_at on every write; both must
// already be present in meta for an explicit stamp (callers writing new
// documents should set them before calling Upsert).
func (db *DB) Upsert(doc Document) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	typ := requiredMetaString(doc.Metadata, "type")
	repo := requiredMetaString(doc.Metadata, "repository")
	branch := requiredMetaString(doc.Metadata, "branch")
	filePath := requiredMetaString(doc.Metadata, "file_path")
	createdAt := requiredMetaString(doc.Metadata, "created_at")
	updatedAt := requiredMetaString(doc.Metadata, "updated_at")
	if updatedAt == "" {
		updatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if createdAt == "" {
		createdAt = updatedAt
	}

	hasEmbedding := 0
	if len(doc.Embedding) > 0 {
		hasEmbedding = 1
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO documents (id, text, metadata, type, repository, branch, file_path, created_at, updated_at, has_embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			metadata = excluded.metadata,
			type = excluded.type,
			repository = excluded.repository,
			branch = excluded.branch,
			file_path = excluded.file_path,
			updated_at = excluded.updated_at,
			has_embedding = excluded.has_embedding`,
		doc.ID, doc.Text, string(metaJSON), typ, repo, branch, filePath, createdAt, updatedAt, hasEmbedding,
	)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}

	var rowid int64
	if err := tx.QueryRow(`SELECT rowid FROM documents WHERE id = ?`, doc.ID).Scan(&rowid); err != nil {
		return fmt.Errorf("lookup rowid: %w", err)
	}

	// fts5 is a virtual table; there's no ON CONFLICT upsert, so clear any
	// prior row for this rowid before inserting the current text.
	if _, err := tx.Exec(`DELETE FROM documents_fts WHERE rowid = ?`, rowid); err != nil {
		return fmt.Errorf("clear fts row: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO documents_fts(rowid, text) VALUES (?, ?)`, rowid, doc.Text); err != nil {
		return fmt.Errorf("insert fts row: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM documents_vec WHERE doc_rowid = ?`, rowid); err != nil {
		return fmt.Errorf("clear prior embedding: %w", err)
	}
	if hasEmbedding == 1 {
		vecData, err := sqlite_vec.SerializeFloat32(doc.Embedding)
		if err != nil {
			return fmt.Errorf("serialize embedding: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO documents_vec (doc_rowid, embedding) VALUES (?, ?)`, rowid, vecData); err != nil {
			return fmt.Errorf("insert embedding: %w", err)
		}
	}

	return tx.Commit()
}

// Get returns documents matching ids (if non-empty) or the where filter.
func (db *DB) Get(ids []string, where Filter, include Include) (QueryResult, error) {
	clause, args := "1=1", []any{}
	if len(ids) > 0 {
		placeholders := ""
		for i, id := range ids {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, id)
		}
		clause = fmt.Sprintf("id IN (%s)", placeholders)
	} else {
		c, a, err := compileFilter(where)
		if err != nil {
			return QueryResult{}, err
		}
		clause, args = c, a
	}

	rows, err := db.conn.Query(fmt.Sprintf(`SELECT rowid, id, text, metadata FROM documents WHERE %s ORDER BY rowid`, clause), args...)
	if err != nil {
		return QueryResult{}, fmt.Errorf("get query: %w", err)
	}
	defer rows.Close()

	var result QueryResult
	var rowids []int64
	for rows.Next() {
		var rowid int64
		var id, text, metaJSON string
		if err := rows.Scan(&rowid, &id, &text, &metaJSON); err != nil {
			return QueryResult{}, err
		}
		result.IDs = append(result.IDs, id)
		if include.Text {
			result.Texts = append(result.Texts, text)
		}
		if include.Metadata {
			meta := map[string]any{}
			_ = json.Unmarshal([]byte(metaJSON), &meta)
			result.Metadatas = append(result.Metadatas, meta)
		}
		rowids = append(rowids, rowid)
	}

	if include.Embeddings {
		for _, rowid := range rowids {
			emb, _ := db.embeddingForRowid(rowid)
			result.Embeddings = append(result.Embeddings, emb)
		}
	}

	return result, nil
}

func (db *DB) embeddingForRowid(rowid int64) ([]float32, error) {
	var raw []byte
	err := db.conn.QueryRow(`SELECT embedding FROM documents_vec WHERE doc_rowid = ?`, rowid).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return deserializeFloat32(raw)
}

// deserializeFloat32 reads the little-endian float32 vector sqlite-vec
// stores back into a Go slice.
func deserializeFloat32(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("malformed embedding blob: %d bytes", len(raw))
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		bits := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
		out[i] = math.Float32frombits(bits)
	}
	return out, nil
}

// Query performs approximate nearest-neighbor search by cosine distance,
// optionally pre-filtered. queryVec must already be computed by the
// embedder; this package has no notion of how text becomes a vector.
func (db *DB) Query(queryVec []float32, topK int, where Filter, include Include) (QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}
	clause, args, err := compileFilter(where)
	if err != nil {
		return QueryResult{}, err
	}

	vecData, err := sqlite_vec.SerializeFloat32(queryVec)
	if err != nil {
		return QueryResult{}, fmt.Errorf("serialize query vector: %w", err)
	}

	// Pre-filtering inside a vec0 MATCH isn't portable across sqlite-vec
	// versions, so over-fetch from the ANN index and apply the metadata
	// filter as a join predicate; fetchK keeps headroom for filtered-out
	// rows without unbounded scanning.
	fetchK := topK * 5
	if fetchK > 2000 {
		fetchK = 2000
	}

	queryArgs := append([]any{vecData, fetchK}, args...)
	sqlText := fmt.Sprintf(`
		SELECT v.distance, d.rowid, d.id, d.text, d.metadata
		FROM documents_vec v
		JOIN documents d ON d.rowid = v.doc_rowid
		WHERE v.embedding MATCH ? AND k = ? AND (%s)
		ORDER BY v.distance
		LIMIT %d`, clause, topK)

	rows, err := db.conn.Query(sqlText, queryArgs...)
	if err != nil {
		return QueryResult{}, fmt.Errorf("vector query: %w", err)
	}
	defer rows.Close()

	var result QueryResult
	var rowids []int64
	for rows.Next() {
		var distance float64
		var rowid int64
		var id, text, metaJSON string
		if err := rows.Scan(&distance, &rowid, &id, &text, &metaJSON); err != nil {
			return QueryResult{}, err
		}
		result.IDs = append(result.IDs, id)
		result.Distances = append(result.Distances, distance)
		if include.Text {
			result.Texts = append(result.Texts, text)
		}
		if include.Metadata {
			meta := map[string]any{}
			_ = json.Unmarshal([]byte(metaJSON), &meta)
			result.Metadatas = append(result.Metadatas, meta)
		}
		rowids = append(rowids, rowid)
	}

	if include.Embeddings {
		for _, rowid := range rowids {
			emb, _ := db.embeddingForRowid(rowid)
			result.Embeddings = append(result.Embeddings, emb)
		}
	}

	return result, nil
}

// Delete removes documents by id list or where filter.
func (db *DB) Delete(ids []string, where Filter) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	clause, args := "1=1", []any{}
	if len(ids) > 0 {
		placeholders := ""
		for i, id := range ids {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, id)
		}
		clause = fmt.Sprintf("id IN (%s)", placeholders)
	} else {
		c, a, err := compileFilter(where)
		if err != nil {
			return 0, err
		}
		clause, args = c, a
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(fmt.Sprintf(`SELECT rowid FROM documents WHERE %s`, clause), args...)
	if err != nil {
		return 0, fmt.Errorf("delete select: %w", err)
	}
	var rowids []int64
	for rows.Next() {
		var r int64
		if err := rows.Scan(&r); err != nil {
			rows.Close()
			return 0, err
		}
		rowids = append(rowids, r)
	}
	rows.Close()

	for _, rowid := range rowids {
		if _, err := tx.Exec(`DELETE FROM documents_vec WHERE doc_rowid = ?`, rowid); err != nil {
			return 0, err
		}
		if _, err := tx.Exec(`DELETE FROM documents_fts WHERE rowid = ?`, rowid); err != nil {
			return 0, err
		}
	}

	res, err := tx.Exec(fmt.Sprintf(`DELETE FROM documents WHERE %s`, clause), args...)
	if err != nil {
		return 0, fmt.Errorf("delete documents: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// Count returns the total number of documents, optionally filtered.
func (db *DB) Count(where Filter) (int64, error) {
	clause, args, err := compileFilter(where)
	if err != nil {
		return 0, err
	}
	var n int64
	err = db.conn.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM documents WHERE %s`, clause), args...).Scan(&n)
	return n, err
}
