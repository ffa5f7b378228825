package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/carbonview/cbam-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY,
	ordinal      INTEGER NOT NULL,
	title        TEXT NOT NULL,
	jurisdiction TEXT,
	published_at DATETIME,
	source_uri   TEXT,
	body         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	id          TEXT PRIMARY KEY,
	doc_id      TEXT NOT NULL REFERENCES documents(id),
	doc_title   TEXT NOT NULL,
	doc_ordinal INTEGER NOT NULL,
	ordinal     INTEGER NOT NULL,
	body        TEXT NOT NULL,
	start_off   INTEGER NOT NULL,
	end_off     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS embeddings (
	chunk_id TEXT PRIMARY KEY REFERENCES chunks(id),
	vector   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS price_quotes (
	id         TEXT PRIMARY KEY,
	price      REAL NOT NULL,
	currency   TEXT NOT NULL,
	source     TEXT NOT NULL,
	fetched_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS turns (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	query       TEXT NOT NULL,
	intent      TEXT NOT NULL,
	state       TEXT NOT NULL,
	evidence    TEXT,
	calculation TEXT,
	answer      TEXT NOT NULL,
	citations   TEXT,
	degraded    INTEGER NOT NULL DEFAULT 0,
	error       TEXT,
	created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_doc_id ON chunks(doc_id);
CREATE INDEX IF NOT EXISTS idx_price_quotes_fetched_at ON price_quotes(fetched_at);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveIndex(ctx context.Context, snap IndexSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin snapshot tx")
	}
	defer tx.Rollback()

	// Wholesale replace: the snapshot is the index.
	for _, table := range []string{"embeddings", "chunks", "documents"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return eris.Wrapf(err, "sqlite: clear %s", table)
		}
	}

	for i, d := range snap.Documents {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO documents (id, ordinal, title, jurisdiction, published_at, source_uri, body)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			d.ID, i, d.Title, d.Jurisdiction, d.PublishedAt, d.SourceURI, d.Text,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert document %s", d.ID)
		}
	}

	for _, c := range snap.Chunks {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (id, doc_id, doc_title, doc_ordinal, ordinal, body, start_off, end_off)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.DocID, c.DocTitle, c.DocOrdinal, c.Ordinal, c.Text, c.Start, c.End,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert chunk %s", c.ID)
		}
	}

	for _, e := range snap.Embeddings {
		vec, err := json.Marshal(e.Vector)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal vector %s", e.ChunkID)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO embeddings (chunk_id, vector) VALUES (?, ?)`,
			e.ChunkID, string(vec),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert embedding %s", e.ChunkID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit snapshot")
}

func (s *SQLiteStore) LoadIndex(ctx context.Context) (*IndexSnapshot, error) {
	var snap IndexSnapshot

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, jurisdiction, published_at, source_uri, body FROM documents ORDER BY ordinal`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load documents")
	}
	defer rows.Close()
	for rows.Next() {
		var d model.Document
		var jurisdiction, sourceURI sql.NullString
		var publishedAt sql.NullTime
		if err := rows.Scan(&d.ID, &d.Title, &jurisdiction, &publishedAt, &sourceURI, &d.Text); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		d.Jurisdiction = jurisdiction.String
		d.SourceURI = sourceURI.String
		if publishedAt.Valid {
			d.PublishedAt = publishedAt.Time
		}
		snap.Documents = append(snap.Documents, d)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate documents")
	}
	if len(snap.Documents) == 0 {
		return nil, nil
	}

	chunkRows, err := s.db.QueryContext(ctx,
		`SELECT id, doc_id, doc_title, doc_ordinal, ordinal, body, start_off, end_off
		 FROM chunks ORDER BY doc_ordinal, ordinal`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load chunks")
	}
	defer chunkRows.Close()
	for chunkRows.Next() {
		var c model.Chunk
		if err := chunkRows.Scan(&c.ID, &c.DocID, &c.DocTitle, &c.DocOrdinal, &c.Ordinal, &c.Text, &c.Start, &c.End); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan chunk")
		}
		snap.Chunks = append(snap.Chunks, c)
	}
	if err := chunkRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate chunks")
	}

	embRows, err := s.db.QueryContext(ctx, `SELECT chunk_id, vector FROM embeddings`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load embeddings")
	}
	defer embRows.Close()
	for embRows.Next() {
		var e model.Embedding
		var vec string
		if err := embRows.Scan(&e.ChunkID, &vec); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan embedding")
		}
		if err := json.Unmarshal([]byte(vec), &e.Vector); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal vector %s", e.ChunkID)
		}
		snap.Embeddings = append(snap.Embeddings, e)
	}
	if err := embRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate embeddings")
	}

	return &snap, nil
}

func (s *SQLiteStore) SavePriceQuote(ctx context.Context, quote model.PriceQuote) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_quotes (id, price, currency, source, fetched_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), quote.Price, quote.Currency, string(quote.Source), quote.FetchedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: save price quote")
}

func (s *SQLiteStore) LatestPriceQuote(ctx context.Context) (*model.PriceQuote, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT price, currency, source, fetched_at FROM price_quotes ORDER BY fetched_at DESC LIMIT 1`,
	)

	var q model.PriceQuote
	var source string
	err := row.Scan(&q.Price, &q.Currency, &source, &q.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest price quote")
	}
	q.Source = model.PriceSource(source)
	return &q, nil
}

func (s *SQLiteStore) SaveTurn(ctx context.Context, turn model.ConversationTurn) error {
	evidence, err := marshalNullable(turn.Evidence)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal evidence")
	}
	calculation, err := marshalNullable(turn.Calculation)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal calculation")
	}
	citations, err := marshalNullable(turn.Citations)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal citations")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO turns (id, session_id, query, intent, state, evidence, calculation, answer, citations, degraded, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.SessionID, turn.Query, string(turn.Intent), string(turn.State),
		evidence, calculation, turn.Answer, citations,
		boolToInt(turn.Degraded), nullableString(turn.Error), turn.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save turn %s", turn.ID)
}

func (s *SQLiteStore) ListTurns(ctx context.Context, sessionID string, limit int) ([]model.ConversationTurn, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, query, intent, state, evidence, calculation, answer, citations, degraded, error, created_at
		 FROM turns WHERE session_id = ? ORDER BY created_at DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list turns")
	}
	defer rows.Close()

	var turns []model.ConversationTurn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list turns iterate")
	}

	reverseTurns(turns)
	return turns, nil
}

// helpers

func scanTurn(rows *sql.Rows) (*model.ConversationTurn, error) {
	var t model.ConversationTurn
	var intent, state string
	var evidence, calculation, citations, errMsg sql.NullString
	var degraded int

	err := rows.Scan(&t.ID, &t.SessionID, &t.Query, &intent, &state,
		&evidence, &calculation, &t.Answer, &citations, &degraded, &errMsg, &t.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan turn")
	}

	t.Intent = model.Intent(intent)
	t.State = model.TurnState(state)
	t.Degraded = degraded != 0
	t.Error = errMsg.String

	if evidence.Valid {
		if err := json.Unmarshal([]byte(evidence.String), &t.Evidence); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal evidence")
		}
	}
	if calculation.Valid {
		t.Calculation = &model.CalculationResult{}
		if err := json.Unmarshal([]byte(calculation.String), t.Calculation); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal calculation")
		}
	}
	if citations.Valid {
		if err := json.Unmarshal([]byte(citations.String), &t.Citations); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal citations")
		}
	}
	return &t, nil
}

// marshalNullable returns NULL for nil/empty values so the column stays
// NULL rather than holding "null".
func marshalNullable(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []model.ScoredChunk:
		if len(val) == 0 {
			return nil, nil
		}
	case []model.Citation:
		if len(val) == 0 {
			return nil, nil
		}
	case *model.CalculationResult:
		if val == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func reverseTurns(turns []model.ConversationTurn) {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
}
