package bm25

import "github.com/cortexmemory/cortex/internal/store"

// BuildFromStore rebuilds the index from every document matching where.
// Called by the search pipeline whenever a write has happened since the
// last rebuild; the model is rebuild-from-scratch rather than incremental.
func BuildFromStore(db *store.DB, where store.Filter) (*Index, error) {
	res, err := db.Get(nil, where, store.Include{Text: true, Metadata: true})
	if err != nil {
		return nil, err
	}
	docs := make([]Doc, len(res.IDs))
	for i, id := range res.IDs {
		docs[i] = Doc{ID: id, Text: res.Texts[i], Meta: res.Metadatas[i]}
	}
	return Build(docs), nil
}
