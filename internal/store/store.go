// Package store persists index snapshots, price quotes and conversation
// turns. Two backends: SQLite for single-user CLI use, Postgres for shared
// deployments.
package store

import (
	"context"

	"github.com/carbonview/cbam-cli/internal/model"
)

// IndexSnapshot is everything needed to rebuild the in-memory search index
// without re-embedding. Saved wholesale on each rebuild.
type IndexSnapshot struct {
	Documents  []model.Document  `json:"documents"`
	Chunks     []model.Chunk     `json:"chunks"`
	Embeddings []model.Embedding `json:"embeddings"`
}

// Store defines the persistence interface for the assistant.
type Store interface {
	// Index snapshot. SaveIndex replaces any previous snapshot atomically;
	// LoadIndex returns nil when no snapshot has been saved.
	SaveIndex(ctx context.Context, snap IndexSnapshot) error
	LoadIndex(ctx context.Context) (*IndexSnapshot, error)

	// Price quote cache.
	SavePriceQuote(ctx context.Context, quote model.PriceQuote) error
	LatestPriceQuote(ctx context.Context) (*model.PriceQuote, error)

	// Conversation log. ListTurns returns the most recent limit turns for
	// the session, oldest first.
	SaveTurn(ctx context.Context, turn model.ConversationTurn) error
	ListTurns(ctx context.Context, sessionID string, limit int) ([]model.ConversationTurn, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
