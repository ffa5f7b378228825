// Package embedding defines the embed capability and its OpenAI-backed
// implementation. The indexer and retriever depend only on the Client
// interface so the embedding provider stays swappable.
package embedding

import (
	"context"

	"github.com/rotisserie/eris"
	openai "github.com/sashabaranov/go-openai"
)

// Client produces fixed-dimension embedding vectors for text.
type Client interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension is the vector dimension this client produces.
	Dimension() int
}

// Known model dimensions.
const dimensionSmall3 = 1536

// Option configures the OpenAI embedding client.
type Option func(*openaiClient)

// WithModel selects the embedding model (default text-embedding-3-small).
func WithModel(model string) Option {
	return func(c *openaiClient) {
		c.model = openai.EmbeddingModel(model)
	}
}

// WithBaseURL points the client at a different API endpoint (for testing).
func WithBaseURL(url string) Option {
	return func(c *openaiClient) {
		c.baseURL = url
	}
}

type openaiClient struct {
	api     *openai.Client
	model   openai.EmbeddingModel
	baseURL string
	dim     int
}

// NewOpenAI creates an embedding client backed by the OpenAI embeddings API.
func NewOpenAI(apiKey string, opts ...Option) Client {
	c := &openaiClient{
		model: openai.SmallEmbedding3,
		dim:   dimensionSmall3,
	}
	for _, opt := range opts {
		opt(c)
	}

	cfg := openai.DefaultConfig(apiKey)
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}
	c.api = openai.NewClientWithConfig(cfg)

	return c
}

func (c *openaiClient) Dimension() int { return c.dim }

func (c *openaiClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: c.model,
	})
	if err != nil {
		return nil, eris.Wrap(err, "embedding: create embeddings")
	}

	if len(resp.Data) != len(texts) {
		return nil, eris.Errorf("embedding: expected %d vectors, got %d", len(texts), len(resp.Data))
	}

	// The API may return vectors out of order; respect the index field.
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, eris.Errorf("embedding: vector index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}

	for i, v := range out {
		if len(v) == 0 {
			return nil, eris.Errorf("embedding: missing vector for input %d", i)
		}
	}

	return out, nil
}
