package index

import (
	"context"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/carbonview/cbam-cli/internal/model"
	"github.com/carbonview/cbam-cli/pkg/embedding"
)

// Retriever embeds a query and runs nearest-neighbor search against the
// published index. The index pointer is swapped atomically on rebuild, so
// concurrent retrievals always see a complete index or none.
type Retriever struct {
	embedder embedding.Client
	idx      atomic.Pointer[SearchIndex]
}

// NewRetriever creates a Retriever with no index published yet.
func NewRetriever(embedder embedding.Client) *Retriever {
	return &Retriever{embedder: embedder}
}

// Publish swaps in a freshly built index.
func (r *Retriever) Publish(idx *SearchIndex) {
	r.idx.Store(idx)
}

// Ready reports whether an index has been published.
func (r *Retriever) Ready() bool {
	return r.idx.Load() != nil
}

// Retrieve returns the top k chunks most similar to the query, ordered by
// non-increasing score. It returns model.ErrIndexNotReady before the first
// successful build.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]model.ScoredChunk, error) {
	if k < 1 {
		return nil, eris.Errorf("retrieve: k must be >= 1, got %d", k)
	}

	idx := r.idx.Load()
	if idx == nil {
		return nil, model.ErrIndexNotReady
	}

	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, eris.Wrap(err, "retrieve: embed query")
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, eris.New("retrieve: embedder returned no vector for query")
	}

	hits := idx.Search(vecs[0], k)
	zap.L().Debug("retrieval complete",
		zap.String("query", query),
		zap.Int("k", k),
		zap.Int("hits", len(hits)),
	)
	return hits, nil
}
