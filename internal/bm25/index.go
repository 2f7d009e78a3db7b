package bm25

import (
	"math"
	"sort"
)

const (
	k1      = 1.5
	b       = 0.75
	epsilon = 0.25
)

// Doc is one entry in the index: an opaque id/text/meta triple plus its
// score once a query has been run.
type Doc struct {
	ID    string
	Text  string
	Meta  map[string]any
	Score float64
}

// Index is an Okapi BM25 structure built from a snapshot of documents.
// Rebuild-from-scratch model: every write triggers a full rebuild rather
// than incremental maintenance, since the corpus is small enough (a
// repository's worth of chunks plus memory documents) that rebuilding is
// cheap relative to keeping per-document IDF state consistent.
type Index struct {
	docs       []Doc
	tokenized  [][]string
	docFreqs   []map[string]int
	idf        map[string]float64
	docLen     []int
	avgDocLen  float64
}

// Build constructs a BM25 index from documents. An empty slice yields an
// index whose Search always returns nil.
func Build(docs []Doc) *Index {
	idx := &Index{docs: docs}
	if len(docs) == 0 {
		return idx
	}

	idx.tokenized = make([][]string, len(docs))
	idx.docFreqs = make([]map[string]int, len(docs))
	idx.docLen = make([]int, len(docs))

	totalLen := 0
	termDocCount := map[string]int{}

	for i, d := range docs {
		tokens := Tokenize(d.Text)
		idx.tokenized[i] = tokens
		idx.docLen[i] = len(tokens)
		totalLen += len(tokens)

		freqs := map[string]int{}
		for _, t := range tokens {
			freqs[t]++
		}
		idx.docFreqs[i] = freqs
		for t := range freqs {
			termDocCount[t]++
		}
	}
	idx.avgDocLen = float64(totalLen) / float64(len(docs))

	idx.idf = make(map[string]float64, len(termDocCount))
	var idfSum float64
	var negativeTerms []string
	n := float64(len(docs))
	for term, freq := range termDocCount {
		f := float64(freq)
		v := math.Log(n-f+0.5) - math.Log(f+0.5)
		idx.idf[term] = v
		idfSum += v
		if v < 0 {
			negativeTerms = append(negativeTerms, term)
		}
	}
	if len(idx.idf) > 0 {
		avgIDF := idfSum / float64(len(idx.idf))
		floor := epsilon * avgIDF
		for _, term := range negativeTerms {
			idx.idf[term] = floor
		}
	}

	return idx
}

// Search scores every document against query's tokens and returns the
// topK highest-scoring documents, descending. An empty or unbuilt index
// returns nil.
func (idx *Index) Search(query string, topK int) []Doc {
	if idx == nil || len(idx.docs) == 0 {
		return nil
	}
	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}

	scores := make([]float64, len(idx.docs))
	for _, qt := range queryTokens {
		termIDF, ok := idx.idf[qt]
		if !ok {
			continue
		}
		for i := range idx.docs {
			freq := float64(idx.docFreqs[i][qt])
			if freq == 0 {
				continue
			}
			denom := freq + k1*(1-b+b*float64(idx.docLen[i])/idx.avgDocLen)
			scores[i] += termIDF * (freq * (k1 + 1) / denom)
		}
	}

	out := make([]Doc, len(idx.docs))
	for i, d := range idx.docs {
		d.Score = scores[i]
		out[i] = d
	}
	sortByScoreDesc(out)

	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

func sortByScoreDesc(docs []Doc) {
	sort.Slice(docs, func(i, j int) bool { return docs[i].Score > docs[j].Score })
}
