// Package index builds and queries the semantic search index over policy
// document chunks.
package index

import (
	"math"
	"sort"

	"github.com/carbonview/cbam-cli/internal/model"
)

// Entry pairs a chunk with its embedding vector.
type Entry struct {
	Chunk  model.Chunk
	Vector []float32
}

// SearchIndex holds the (chunk, embedding) pairs for one wholesale build.
// It is immutable after construction and safe for concurrent reads.
type SearchIndex struct {
	dim     int
	entries []Entry
}

// NewSearchIndex constructs an index from entries. Entries are expected in
// ingestion order (document order, then chunk order); that order breaks
// score ties during search.
func NewSearchIndex(dim int, entries []Entry) *SearchIndex {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Chunk, sorted[j].Chunk
		if a.DocOrdinal != b.DocOrdinal {
			return a.DocOrdinal < b.DocOrdinal
		}
		return a.Ordinal < b.Ordinal
	})
	return &SearchIndex{dim: dim, entries: sorted}
}

// Len returns the number of indexed chunks.
func (idx *SearchIndex) Len() int { return len(idx.entries) }

// Dimension returns the embedding dimension of this index instance.
func (idx *SearchIndex) Dimension() int { return idx.dim }

// Entries returns the indexed entries in ingestion order.
func (idx *SearchIndex) Entries() []Entry { return idx.entries }

// Search returns the top k chunks by cosine similarity to the query vector,
// ordered by non-increasing score. Ties keep ingestion order (stable).
// Fewer than k results are returned only when the index holds fewer chunks.
func (idx *SearchIndex) Search(query []float32, k int) []model.ScoredChunk {
	if k <= 0 || len(idx.entries) == 0 {
		return nil
	}

	scored := make([]model.ScoredChunk, 0, len(idx.entries))
	for _, e := range idx.entries {
		scored = append(scored, model.ScoredChunk{
			Chunk: e.Chunk,
			Score: cosineSimilarity(query, e.Vector),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// cosineSimilarity computes cosine similarity between two vectors. Mismatched
// or zero-norm vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
