package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbonview/cbam-cli/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresFromPool(mock), mock
}

func TestPostgres_SavePriceQuote(t *testing.T) {
	s, mock := newMockStore(t)

	quote := model.PriceQuote{Price: 78.54, Currency: "EUR", Source: model.PriceSourceLive, FetchedAt: time.Now()}
	mock.ExpectExec("INSERT INTO price_quotes").
		WithArgs(pgxmock.AnyArg(), quote.Price, "EUR", "live", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SavePriceQuote(context.Background(), quote))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LatestPriceQuote(t *testing.T) {
	s, mock := newMockStore(t)

	fetched := time.Now().UTC()
	mock.ExpectQuery("SELECT price, currency, source, fetched_at FROM price_quotes").
		WillReturnRows(pgxmock.NewRows([]string{"price", "currency", "source", "fetched_at"}).
			AddRow(78.54, "EUR", "live", fetched))

	q, err := s.LatestPriceQuote(context.Background())
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.InDelta(t, 78.54, q.Price, 0.001)
	assert.Equal(t, model.PriceSourceLive, q.Source)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LatestPriceQuoteEmpty(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT price, currency, source, fetched_at FROM price_quotes").
		WillReturnError(pgx.ErrNoRows)

	q, err := s.LatestPriceQuote(context.Background())
	require.NoError(t, err)
	assert.Nil(t, q)
}

func TestPostgres_SaveTurn(t *testing.T) {
	s, mock := newMockStore(t)

	turn := model.ConversationTurn{
		ID:        "t1",
		SessionID: "s1",
		Query:     "what is cbam?",
		Intent:    model.IntentInformational,
		State:     model.TurnStateDone,
		Answer:    "an import levy",
		CreatedAt: time.Now(),
	}

	mock.ExpectExec("INSERT INTO turns").
		WithArgs("t1", "s1", "what is cbam?", "informational", "done",
			nil, nil, "an import levy", nil, false, nil, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SaveTurn(context.Background(), turn))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListTurnsOldestFirst(t *testing.T) {
	s, mock := newMockStore(t)

	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{
		"id", "session_id", "query", "intent", "state",
		"evidence", "calculation", "answer", "citations", "degraded", "error", "created_at",
	}).
		AddRow("t2", "s1", "second", "informational", "done",
			[]byte(nil), []byte(nil), "b", []byte(nil), false, (*string)(nil), now).
		AddRow("t1", "s1", "first", "informational", "done",
			[]byte(nil), []byte(nil), "a", []byte(nil), false, (*string)(nil), now.Add(-time.Minute))

	mock.ExpectQuery("SELECT (.+) FROM turns WHERE session_id").
		WithArgs("s1", 5).
		WillReturnRows(rows)

	turns, err := s.ListTurns(context.Background(), "s1", 5)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "first", turns[0].Query)
	assert.Equal(t, "second", turns[1].Query)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveIndexWholesaleReplace(t *testing.T) {
	s, mock := newMockStore(t)

	snap := testSnapshot()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM embeddings").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("DELETE FROM chunks").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("DELETE FROM documents").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"documents"},
		[]string{"id", "ordinal", "title", "jurisdiction", "published_at", "source_uri", "body"}).
		WillReturnResult(2)
	mock.ExpectCopyFrom(pgx.Identifier{"chunks"},
		[]string{"id", "doc_id", "doc_title", "doc_ordinal", "ordinal", "body", "start_off", "end_off"}).
		WillReturnResult(2)
	mock.ExpectCopyFrom(pgx.Identifier{"embeddings"}, []string{"chunk_id", "vector"}).
		WillReturnResult(2)
	mock.ExpectCommit()
	mock.ExpectRollback()

	require.NoError(t, s.SaveIndex(context.Background(), snap))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveIndexAbortsOnClearFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM embeddings").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := s.SaveIndex(context.Background(), testSnapshot())
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Migrate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS documents").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
