package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/carbonview/cbam-cli/internal/calc"
	"github.com/carbonview/cbam-cli/internal/compose"
	"github.com/carbonview/cbam-cli/internal/index"
	"github.com/carbonview/cbam-cli/internal/pricefeed"
	"github.com/carbonview/cbam-cli/internal/session"
	"github.com/carbonview/cbam-cli/internal/store"
	anthropicpkg "github.com/carbonview/cbam-cli/pkg/anthropic"
	"github.com/carbonview/cbam-cli/pkg/embedding"
	"github.com/carbonview/cbam-cli/pkg/etsprice"
)

// appEnv holds the initialized store, clients and pipeline components
// shared by the index/ask/calc/price/serve commands.
type appEnv struct {
	Store      store.Store
	Builder    *index.Builder
	Retriever  *index.Retriever
	Feed       *pricefeed.Feed
	Calculator *calc.Calculator
	Orch       *session.Orchestrator
}

// Close releases resources held by the environment.
func (ae *appEnv) Close() {
	if ae.Store != nil {
		_ = ae.Store.Close()
	}
}

// initApp sets up the store, API clients and the turn pipeline. Callers
// should defer env.Close().
func initApp(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	embedOpts := []embedding.Option{embedding.WithModel(cfg.Embedding.Model)}
	if cfg.Embedding.BaseURL != "" {
		embedOpts = append(embedOpts, embedding.WithBaseURL(cfg.Embedding.BaseURL))
	}
	embedder := embedding.NewOpenAI(cfg.Embedding.Key, embedOpts...)

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	priceClient := etsprice.NewClient(cfg.Price.FeedURL, cfg.Price.Key)

	table := calc.DefaultEmissionsTable()
	if path := cfg.Calc.ReferenceTable; path != "" {
		table, err = loadReferenceTable(path)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		zap.L().Info("reference table loaded",
			zap.String("path", path),
			zap.String("version", table.Version()),
		)
	}

	splitter := index.NewSplitter(cfg.Index.ChunkSize, cfg.Index.ChunkOverlap)
	builder := index.NewBuilder(embedder, splitter, cfg.Index.EmbedWorkers)
	retriever := index.NewRetriever(embedder)

	// Restore the last index snapshot so queries work without re-ingesting.
	if snap, err := st.LoadIndex(ctx); err != nil {
		zap.L().Warn("load index snapshot", zap.Error(err))
	} else if snap != nil {
		retriever.Publish(snapshotToIndex(snap))
		zap.L().Info("index restored from snapshot",
			zap.Int("documents", len(snap.Documents)),
			zap.Int("chunks", len(snap.Chunks)),
		)
	}

	feed := pricefeed.New(priceClient, cfg.Price, st)
	feed.Warm(ctx)

	calculator := calc.NewCalculator(table)
	composer := compose.New(anthropicClient, cfg.Anthropic, cfg.Compose, table)
	orch := session.NewOrchestrator(
		session.NewClassifier(table.Products()),
		retriever,
		feed,
		calculator,
		composer,
		st,
		cfg.Index,
		cfg.Compose,
	)

	return &appEnv{
		Store:      st,
		Builder:    builder,
		Retriever:  retriever,
		Feed:       feed,
		Calculator: calculator,
		Orch:       orch,
	}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func loadReferenceTable(path string) (*calc.EmissionsTable, error) {
	if isXLSX(path) {
		return calc.LoadEmissionsTableXLSX(path)
	}
	return calc.LoadEmissionsTable(path)
}

func isXLSX(path string) bool {
	return len(path) > 5 && path[len(path)-5:] == ".xlsx"
}

// snapshotToIndex reassembles a persisted snapshot into a searchable index.
func snapshotToIndex(snap *store.IndexSnapshot) *index.SearchIndex {
	vectors := make(map[string][]float32, len(snap.Embeddings))
	for _, e := range snap.Embeddings {
		vectors[e.ChunkID] = e.Vector
	}

	dim := 0
	entries := make([]index.Entry, 0, len(snap.Chunks))
	for _, c := range snap.Chunks {
		v, ok := vectors[c.ID]
		if !ok {
			zap.L().Warn("snapshot chunk has no embedding, skipping", zap.String("chunk_id", c.ID))
			continue
		}
		if dim == 0 {
			dim = len(v)
		}
		entries = append(entries, index.Entry{Chunk: c, Vector: v})
	}
	return index.NewSearchIndex(dim, entries)
}
