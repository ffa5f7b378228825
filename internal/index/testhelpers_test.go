package index

import (
	"context"
	"strings"
)

// fakeEmbedder maps texts onto a tiny keyword space so tests can steer
// similarity without a live embedding service.
type fakeEmbedder struct {
	dim  int
	err  error
	call int
}

func newFakeEmbedder() *fakeEmbedder { return &fakeEmbedder{dim: 3} }

func (f *fakeEmbedder) Dimension() int { return f.dim }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.call++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = keywordVector(t, f.dim)
	}
	return out, nil
}

func keywordVector(text string, dim int) []float32 {
	v := make([]float32, dim)
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "steel"):
		v[0] = 1
	case strings.Contains(lower, "cement"):
		v[1] = 1
	default:
		v[dim-1] = 1
	}
	return v
}
