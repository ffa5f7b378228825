package index

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/carbonview/cbam-cli/internal/model"
	"github.com/carbonview/cbam-cli/pkg/embedding"
)

// embedBatchSize caps how many chunk texts go into one embedding request.
const embedBatchSize = 64

// Builder ingests documents into a SearchIndex: split into chunks, embed
// every chunk, publish nothing unless the whole build succeeds.
type Builder struct {
	embedder embedding.Client
	splitter Splitter
	workers  int
}

// NewBuilder creates a Builder. workers bounds concurrent embedding requests.
func NewBuilder(embedder embedding.Client, splitter Splitter, workers int) *Builder {
	if workers <= 0 {
		workers = 4
	}
	return &Builder{embedder: embedder, splitter: splitter, workers: workers}
}

// Build chunks and embeds the given documents. The build is atomic: an
// embedding failure for any chunk aborts with IndexBuildError and the
// partial index is discarded.
func (b *Builder) Build(ctx context.Context, docs []model.Document) (*SearchIndex, error) {
	var chunks []model.Chunk
	for i, doc := range docs {
		chunks = append(chunks, b.splitter.Split(doc, i)...)
	}

	zap.L().Info("index build started",
		zap.Int("documents", len(docs)),
		zap.Int("chunks", len(chunks)),
	)

	if len(chunks) == 0 {
		return NewSearchIndex(b.embedder.Dimension(), nil), nil
	}

	vectors := make([][]float32, len(chunks))
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)

	for batchStart := 0; batchStart < len(chunks); batchStart += embedBatchSize {
		batchEnd := batchStart + embedBatchSize
		if batchEnd > len(chunks) {
			batchEnd = len(chunks)
		}
		start, end := batchStart, batchEnd

		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, c := range chunks[start:end] {
				texts = append(texts, c.Text)
			}

			vecs, err := b.embedder.Embed(gCtx, texts)
			if err != nil {
				return &model.IndexBuildError{
					DocID:   chunks[start].DocID,
					ChunkID: chunks[start].ID,
					Err:     err,
				}
			}

			dim := b.embedder.Dimension()
			for i, v := range vecs {
				if len(v) != dim {
					return &model.IndexBuildError{
						DocID:   chunks[start+i].DocID,
						ChunkID: chunks[start+i].ID,
						Err:     errDimension(dim, len(v)),
					}
				}
			}

			mu.Lock()
			copy(vectors[start:end], vecs)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		zap.L().Error("index build aborted", zap.Error(err))
		return nil, err
	}

	entries := make([]Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = Entry{Chunk: c, Vector: vectors[i]}
	}

	idx := NewSearchIndex(b.embedder.Dimension(), entries)
	zap.L().Info("index build complete", zap.Int("chunks", idx.Len()))
	return idx, nil
}

func errDimension(want, got int) error {
	return eris.Errorf("embedding dimension mismatch: want %d, got %d", want, got)
}
