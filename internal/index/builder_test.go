package index

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbonview/cbam-cli/internal/model"
)

func TestBuild_Success(t *testing.T) {
	t.Parallel()

	b := NewBuilder(newFakeEmbedder(), NewSplitter(100, 20), 2)
	docs := []model.Document{
		doc("d1", "steel emission factors"),
		doc("d2", "cement clinker rules"),
	}

	idx, err := b.Build(context.Background(), docs)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, 3, idx.Dimension())
}

func TestBuild_EmbeddingFailureAborts(t *testing.T) {
	t.Parallel()

	emb := newFakeEmbedder()
	emb.err = eris.New("service down")
	b := NewBuilder(emb, NewSplitter(100, 20), 2)

	idx, err := b.Build(context.Background(), []model.Document{doc("d1", "text")})

	require.Error(t, err)
	assert.Nil(t, idx, "partial index must not be published")

	var ibe *model.IndexBuildError
	require.True(t, errors.As(err, &ibe))
	assert.Equal(t, "d1", ibe.DocID)
}

func TestBuild_DimensionMismatchAborts(t *testing.T) {
	t.Parallel()

	b := NewBuilder(&mismatchEmbedder{dim: 5}, NewSplitter(100, 20), 1)
	idx, err := b.Build(context.Background(), []model.Document{doc("d1", "text")})

	require.Error(t, err)
	assert.Nil(t, idx)

	var ibe *model.IndexBuildError
	require.True(t, errors.As(err, &ibe))
}

func TestBuild_NoDocuments(t *testing.T) {
	t.Parallel()

	b := NewBuilder(newFakeEmbedder(), NewSplitter(100, 20), 2)
	idx, err := b.Build(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
}

func TestBuild_ManyChunksBatched(t *testing.T) {
	t.Parallel()

	emb := newFakeEmbedder()
	b := NewBuilder(emb, NewSplitter(40, 10), 2)
	long := strings.Repeat("steel product benchmark values ", 200)

	idx, err := b.Build(context.Background(), []model.Document{doc("d1", long)})
	require.NoError(t, err)
	assert.Greater(t, idx.Len(), embedBatchSize, "expected multiple embed batches")
	assert.Greater(t, emb.call, 1)
}

// mismatchEmbedder reports one dimension but emits another.
type mismatchEmbedder struct{ dim int }

func (m *mismatchEmbedder) Dimension() int { return m.dim }

func (m *mismatchEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}
