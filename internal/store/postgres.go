package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/carbonview/cbam-cli/internal/db"
	"github.com/carbonview/cbam-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot store operations.
var preparedStatements = map[string]string{
	"save_price_quote":   `INSERT INTO price_quotes (id, price, currency, source, fetched_at) VALUES ($1, $2, $3, $4, $5)`,
	"latest_price_quote": `SELECT price, currency, source, fetched_at FROM price_quotes ORDER BY fetched_at DESC LIMIT 1`,
	"save_turn":          `INSERT INTO turns (id, session_id, query, intent, state, evidence, calculation, answer, citations, degraded, error, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
	"list_turns":         `SELECT id, session_id, query, intent, state, evidence, calculation, answer, citations, degraded, error, created_at FROM turns WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY,
	ordinal      INTEGER NOT NULL,
	title        TEXT NOT NULL,
	jurisdiction TEXT,
	published_at TIMESTAMPTZ,
	source_uri   TEXT,
	body         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	id          TEXT PRIMARY KEY,
	doc_id      TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	doc_title   TEXT NOT NULL,
	doc_ordinal INTEGER NOT NULL,
	ordinal     INTEGER NOT NULL,
	body        TEXT NOT NULL,
	start_off   INTEGER NOT NULL,
	end_off     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS embeddings (
	chunk_id TEXT PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
	vector   JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS price_quotes (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	price      DOUBLE PRECISION NOT NULL,
	currency   TEXT NOT NULL,
	source     TEXT NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS turns (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	query       TEXT NOT NULL,
	intent      TEXT NOT NULL,
	state       TEXT NOT NULL,
	evidence    JSONB,
	calculation JSONB,
	answer      TEXT NOT NULL,
	citations   JSONB,
	degraded    BOOLEAN NOT NULL DEFAULT false,
	error       TEXT,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_doc_id ON chunks(doc_id);
CREATE INDEX IF NOT EXISTS idx_price_quotes_fetched_at ON price_quotes(fetched_at DESC);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) SaveIndex(ctx context.Context, snap IndexSnapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin snapshot tx")
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{"embeddings", "chunks", "documents"} {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
			return eris.Wrapf(err, "postgres: clear %s", table)
		}
	}

	docRows := make([][]any, len(snap.Documents))
	for i, d := range snap.Documents {
		docRows[i] = []any{d.ID, i, d.Title, d.Jurisdiction, nullableTime(d.PublishedAt), d.SourceURI, d.Text}
	}
	if _, err := db.CopyFrom(ctx, tx, "documents",
		[]string{"id", "ordinal", "title", "jurisdiction", "published_at", "source_uri", "body"},
		docRows); err != nil {
		return err
	}

	chunkRows := make([][]any, len(snap.Chunks))
	for i, c := range snap.Chunks {
		chunkRows[i] = []any{c.ID, c.DocID, c.DocTitle, c.DocOrdinal, c.Ordinal, c.Text, c.Start, c.End}
	}
	if _, err := db.CopyFrom(ctx, tx, "chunks",
		[]string{"id", "doc_id", "doc_title", "doc_ordinal", "ordinal", "body", "start_off", "end_off"},
		chunkRows); err != nil {
		return err
	}

	embRows := make([][]any, len(snap.Embeddings))
	for i, e := range snap.Embeddings {
		vec, err := json.Marshal(e.Vector)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal vector %s", e.ChunkID)
		}
		embRows[i] = []any{e.ChunkID, vec}
	}
	if _, err := db.CopyFrom(ctx, tx, "embeddings", []string{"chunk_id", "vector"}, embRows); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit snapshot")
}

func (s *PostgresStore) LoadIndex(ctx context.Context) (*IndexSnapshot, error) {
	var snap IndexSnapshot

	rows, err := s.pool.Query(ctx,
		`SELECT id, title, jurisdiction, published_at, source_uri, body FROM documents ORDER BY ordinal`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load documents")
	}
	defer rows.Close()
	for rows.Next() {
		var d model.Document
		var jurisdiction, sourceURI *string
		var publishedAt *time.Time
		if err := rows.Scan(&d.ID, &d.Title, &jurisdiction, &publishedAt, &sourceURI, &d.Text); err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		if jurisdiction != nil {
			d.Jurisdiction = *jurisdiction
		}
		if sourceURI != nil {
			d.SourceURI = *sourceURI
		}
		if publishedAt != nil {
			d.PublishedAt = *publishedAt
		}
		snap.Documents = append(snap.Documents, d)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate documents")
	}
	if len(snap.Documents) == 0 {
		return nil, nil
	}

	chunkRows, err := s.pool.Query(ctx,
		`SELECT id, doc_id, doc_title, doc_ordinal, ordinal, body, start_off, end_off
		 FROM chunks ORDER BY doc_ordinal, ordinal`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load chunks")
	}
	defer chunkRows.Close()
	for chunkRows.Next() {
		var c model.Chunk
		if err := chunkRows.Scan(&c.ID, &c.DocID, &c.DocTitle, &c.DocOrdinal, &c.Ordinal, &c.Text, &c.Start, &c.End); err != nil {
			return nil, eris.Wrap(err, "postgres: scan chunk")
		}
		snap.Chunks = append(snap.Chunks, c)
	}
	if err := chunkRows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate chunks")
	}

	embRows, err := s.pool.Query(ctx, `SELECT chunk_id, vector FROM embeddings`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load embeddings")
	}
	defer embRows.Close()
	for embRows.Next() {
		var e model.Embedding
		var vec []byte
		if err := embRows.Scan(&e.ChunkID, &vec); err != nil {
			return nil, eris.Wrap(err, "postgres: scan embedding")
		}
		if err := json.Unmarshal(vec, &e.Vector); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal vector %s", e.ChunkID)
		}
		snap.Embeddings = append(snap.Embeddings, e)
	}
	if err := embRows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate embeddings")
	}

	return &snap, nil
}

func (s *PostgresStore) SavePriceQuote(ctx context.Context, quote model.PriceQuote) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_quotes (id, price, currency, source, fetched_at) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New().String(), quote.Price, quote.Currency, string(quote.Source), quote.FetchedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: save price quote")
}

func (s *PostgresStore) LatestPriceQuote(ctx context.Context) (*model.PriceQuote, error) {
	var q model.PriceQuote
	var source string

	err := s.pool.QueryRow(ctx,
		`SELECT price, currency, source, fetched_at FROM price_quotes ORDER BY fetched_at DESC LIMIT 1`,
	).Scan(&q.Price, &q.Currency, &source, &q.FetchedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: latest price quote")
	}
	q.Source = model.PriceSource(source)
	return &q, nil
}

func (s *PostgresStore) SaveTurn(ctx context.Context, turn model.ConversationTurn) error {
	evidence, err := marshalNullable(turn.Evidence)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal evidence")
	}
	calculation, err := marshalNullable(turn.Calculation)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal calculation")
	}
	citations, err := marshalNullable(turn.Citations)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal citations")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO turns (id, session_id, query, intent, state, evidence, calculation, answer, citations, degraded, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		turn.ID, turn.SessionID, turn.Query, string(turn.Intent), string(turn.State),
		evidence, calculation, turn.Answer, citations,
		turn.Degraded, nullableString(turn.Error), turn.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save turn %s", turn.ID)
}

func (s *PostgresStore) ListTurns(ctx context.Context, sessionID string, limit int) ([]model.ConversationTurn, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, query, intent, state, evidence, calculation, answer, citations, degraded, error, created_at
		 FROM turns WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list turns")
	}
	defer rows.Close()

	var turns []model.ConversationTurn
	for rows.Next() {
		var t model.ConversationTurn
		var intent, state string
		var evidence, calculation, citations []byte
		var errMsg *string

		if err := rows.Scan(&t.ID, &t.SessionID, &t.Query, &intent, &state,
			&evidence, &calculation, &t.Answer, &citations, &t.Degraded, &errMsg, &t.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan turn")
		}

		t.Intent = model.Intent(intent)
		t.State = model.TurnState(state)
		if errMsg != nil {
			t.Error = *errMsg
		}
		if evidence != nil {
			if err := json.Unmarshal(evidence, &t.Evidence); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal evidence")
			}
		}
		if calculation != nil {
			t.Calculation = &model.CalculationResult{}
			if err := json.Unmarshal(calculation, t.Calculation); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal calculation")
			}
		}
		if citations != nil {
			if err := json.Unmarshal(citations, &t.Citations); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal citations")
			}
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list turns iterate")
	}

	reverseTurns(turns)
	return turns, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
