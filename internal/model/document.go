package model

import "time"

// Document is an immutable source text with identifying metadata. Documents
// are created at ingestion and never mutated; re-ingestion produces a new
// document set and a wholesale index rebuild.
type Document struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Jurisdiction string    `json:"jurisdiction,omitempty"`
	PublishedAt  time.Time `json:"published_at,omitempty"`
	SourceURI    string    `json:"source_uri,omitempty"`
	Text         string    `json:"text"`
}

// Chunk is a bounded span of a Document used as a retrieval unit. The
// document reference is for citation display only; chunks do not control
// document lifetime.
type Chunk struct {
	ID       string `json:"id"`
	DocID    string `json:"doc_id"`
	DocTitle string `json:"doc_title"`
	// DocOrdinal and Ordinal record the position of the source document in
	// the ingested sequence and of the chunk within its document. They break
	// retrieval-score ties deterministically.
	DocOrdinal int    `json:"doc_ordinal"`
	Ordinal    int    `json:"ordinal"`
	Text       string `json:"text"`
	Start      int    `json:"start"` // rune offset into the document text
	End        int    `json:"end"`
}

// Embedding is the fixed-dimension vector for one chunk. Every indexed chunk
// has exactly one embedding; the dimension is fixed per index instance.
type Embedding struct {
	ChunkID string    `json:"chunk_id"`
	Vector  []float32 `json:"vector"`
}

// ScoredChunk is a retrieval hit: a chunk with its similarity score.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}
