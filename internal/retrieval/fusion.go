package retrieval

import "sort"

// DefaultRRFK is the reciprocal-rank-fusion constant used unless a bot
// overrides it.
const DefaultRRFK = 60

// Fuse merges one or more ranked result lists via reciprocal rank fusion:
// score(doc) = sum over lists of 1/(k+rank). Returns the fused list sorted
// descending by score, truncated to limit (0 = no truncation).
func Fuse(k int, limit int, lists ...[]ScoredResult) []ScoredResult {
	if k <= 0 {
		k = DefaultRRFK
	}
	scores := make(map[string]float64)
	order := make([]string, 0)
	seen := make(map[string]bool)

	for _, list := range lists {
		for _, r := range list {
			if !seen[r.DocumentID] {
				seen[r.DocumentID] = true
				order = append(order, r.DocumentID)
			}
			scores[r.DocumentID] += 1.0 / float64(k+r.Rank)
		}
	}

	fused := make([]ScoredResult, 0, len(order))
	for _, id := range order {
		fused = append(fused, ScoredResult{DocumentID: id, Score: scores[id]})
	}
	sort.Slice(fused, func(i, j int) bool { return fused[i].Score > fused[j].Score })
	if limit > 0 && len(fused) > limit {
		fused = fused[:limit]
	}
	for i := range fused {
		fused[i].Rank = i + 1
	}
	return fused
}

// HybridSearcher runs the sparse and dense retrievers for one bot and fuses
// their output, or falls through to dense-only when BM25 is disabled.
type HybridSearcher struct {
	Sparse *SparseIndex
	Dense  *DenseRetriever
	RRFK   int
}

// SparseQuery abstracts over the caller's query representation: plain text
// for BM25, a pre-computed embedding for the dense retriever.
type SparseQuery struct {
	Text   string
	Vector []float32
	Limit  int
}
