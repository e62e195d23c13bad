package retrieval

import (
	"context"
	"fmt"
)

// Search runs both retrievers (when BM25 is enabled) and fuses the
// results. If BM25 is disabled, dense results are returned directly.
func (h *HybridSearcher) Search(ctx context.Context, q SparseQuery) ([]ScoredResult, error) {
	dense, err := h.Dense.Search(ctx, q.Vector, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("dense search: %w", err)
	}

	if h.Sparse == nil || !h.Sparse.cfg.Enabled {
		return dense, nil
	}

	sparse := h.Sparse.Search(q.Text, q.Limit)
	return Fuse(h.RRFK, q.Limit, sparse, dense), nil
}
