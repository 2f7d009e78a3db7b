package search

// rankedCandidate is one hit from a single retrieval list (vector or
// BM25), in that list's rank order.
type rankedCandidate struct {
	id   string
	text string
	meta map[string]any
}

// rrfFuse combines any number of ranked candidate lists by reciprocal rank
// fusion: rrf_score = sum(1 / (k + rank)) across every list a doc appears
// in, rank starting at 1. Ties are broken by first-seen order. Duplicate
// ids across lists keep the first-seen text/meta.
func rrfFuse(k int, lists ...[]rankedCandidate) []fusedDoc {
	scores := map[string]float64{}
	order := []string{}
	docs := map[string]rankedCandidate{}

	for _, list := range lists {
		for rank, c := range list {
			scores[c.id] += 1.0 / float64(k+rank+1)
			if _, seen := docs[c.id]; !seen {
				docs[c.id] = c
				order = append(order, c.id)
			}
		}
	}

	out := make([]fusedDoc, len(order))
	for i, id := range order {
		c := docs[id]
		out[i] = fusedDoc{id: c.id, text: c.text, meta: c.meta, score: scores[id],
			typeBoost: 1, recencyBoost: 1, initiativeBoost: 1}
	}
	resortDesc(out)
	return out
}
