package pricefeed

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbonview/cbam-cli/internal/config"
	"github.com/carbonview/cbam-cli/internal/model"
	"github.com/carbonview/cbam-cli/pkg/etsprice"
)

type fakePriceClient struct {
	quote *etsprice.Quote
	err   error
	calls int
}

func (f *fakePriceClient) CurrentPrice(ctx context.Context) (*etsprice.Quote, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.quote, nil
}

type memCache struct {
	saved []model.PriceQuote
}

func (m *memCache) SavePriceQuote(_ context.Context, q model.PriceQuote) error {
	m.saved = append(m.saved, q)
	return nil
}

func (m *memCache) LatestPriceQuote(_ context.Context) (*model.PriceQuote, error) {
	if len(m.saved) == 0 {
		return nil, nil
	}
	q := m.saved[len(m.saved)-1]
	return &q, nil
}

func testCfg() config.PriceConfig {
	return config.PriceConfig{
		FetchTimeoutSecs: 1,
		CacheTTLMins:     15,
		MaxStaleHours:    24,
		DefaultPrice:     78.54,
		HistoricPrices: map[string]float64{
			"2025-10-31": 78.54,
			"2025-09-01": 73.20,
		},
	}
}

func TestCurrent_LiveFetch(t *testing.T) {
	t.Parallel()

	client := &fakePriceClient{quote: &etsprice.Quote{Price: 81.10, Currency: "EUR"}}
	cache := &memCache{}
	f := New(client, testCfg(), cache)

	q := f.Current(context.Background())

	assert.Equal(t, model.PriceSourceLive, q.Source)
	assert.InDelta(t, 81.10, q.Price, 0.001)
	require.Len(t, cache.saved, 1)
}

func TestCurrent_FreshCacheSkipsFetch(t *testing.T) {
	t.Parallel()

	client := &fakePriceClient{quote: &etsprice.Quote{Price: 81.10, Currency: "EUR"}}
	f := New(client, testCfg(), nil)

	first := f.Current(context.Background())
	second := f.Current(context.Background())

	assert.Equal(t, model.PriceSourceLive, first.Source)
	assert.Equal(t, model.PriceSourceCached, second.Source)
	assert.InDelta(t, first.Price, second.Price, 0.001)
	assert.Equal(t, 1, client.calls)
}

func TestCurrent_FetchFailureFallsBackToCached(t *testing.T) {
	t.Parallel()

	client := &fakePriceClient{quote: &etsprice.Quote{Price: 80.00, Currency: "EUR"}}
	f := New(client, testCfg(), nil)

	_ = f.Current(context.Background()) // prime the cache

	// Age the cached quote past the freshness window but inside max stale.
	f.mu.Lock()
	f.last.FetchedAt = time.Now().Add(-2 * time.Hour)
	f.mu.Unlock()
	client.err = &model.PriceFetchError{Err: eris.New("feed down")}

	q := f.Current(context.Background())
	assert.Equal(t, model.PriceSourceCached, q.Source)
	assert.InDelta(t, 80.00, q.Price, 0.001)
}

func TestCurrent_FetchFailureNoCacheUsesDefault(t *testing.T) {
	t.Parallel()

	client := &fakePriceClient{err: &model.PriceFetchError{Err: eris.New("feed down")}}
	f := New(client, testCfg(), nil)

	q := f.Current(context.Background())
	assert.Equal(t, model.PriceSourceDefault, q.Source)
	assert.InDelta(t, 78.54, q.Price, 0.001)
}

func TestCurrent_StaleCacheBeyondCutoffUsesDefault(t *testing.T) {
	t.Parallel()

	client := &fakePriceClient{quote: &etsprice.Quote{Price: 80.00, Currency: "EUR"}}
	f := New(client, testCfg(), nil)
	_ = f.Current(context.Background())

	f.mu.Lock()
	f.last.FetchedAt = time.Now().Add(-48 * time.Hour)
	f.mu.Unlock()
	client.err = &model.PriceFetchError{Err: eris.New("feed down")}

	q := f.Current(context.Background())
	assert.Equal(t, model.PriceSourceDefault, q.Source)
}

func TestOverride_WinsOverEverything(t *testing.T) {
	t.Parallel()

	client := &fakePriceClient{quote: &etsprice.Quote{Price: 80.00, Currency: "EUR"}}
	f := New(client, testCfg(), nil)

	require.NoError(t, f.Override(95.50))
	q := f.Current(context.Background())

	assert.Equal(t, model.PriceSourceOverride, q.Source)
	assert.InDelta(t, 95.50, q.Price, 0.001)
	assert.Equal(t, 0, client.calls)
}

func TestOverride_RejectsNonPositive(t *testing.T) {
	t.Parallel()

	f := New(&fakePriceClient{}, testCfg(), nil)
	require.Error(t, f.Override(0))
	require.Error(t, f.Override(-10))
}

func TestHistoric_SelectsConfiguredDate(t *testing.T) {
	t.Parallel()

	f := New(&fakePriceClient{}, testCfg(), nil)

	require.NoError(t, f.Historic("2025-09-01"))
	q := f.Current(context.Background())

	assert.Equal(t, model.PriceSourceHistoric, q.Source)
	assert.InDelta(t, 73.20, q.Price, 0.001)
}

func TestHistoric_UnknownDate(t *testing.T) {
	t.Parallel()

	f := New(&fakePriceClient{}, testCfg(), nil)
	require.Error(t, f.Historic("1999-01-01"))
}

func TestReset_ClearsSelection(t *testing.T) {
	t.Parallel()

	client := &fakePriceClient{quote: &etsprice.Quote{Price: 82.00, Currency: "EUR"}}
	f := New(client, testCfg(), nil)

	require.NoError(t, f.Override(95.50))
	f.Reset()

	q := f.Current(context.Background())
	assert.Equal(t, model.PriceSourceLive, q.Source)
}

func TestWarm_LoadsPersistedQuote(t *testing.T) {
	t.Parallel()

	cache := &memCache{saved: []model.PriceQuote{{
		Price:     77.00,
		Currency:  "EUR",
		Source:    model.PriceSourceLive,
		FetchedAt: time.Now().Add(-time.Minute),
	}}}
	client := &fakePriceClient{err: &model.PriceFetchError{Err: eris.New("down")}}
	f := New(client, testCfg(), cache)

	f.Warm(context.Background())
	q := f.Current(context.Background())

	assert.Equal(t, model.PriceSourceCached, q.Source)
	assert.InDelta(t, 77.00, q.Price, 0.001)
	assert.Equal(t, 0, client.calls, "fresh warmed cache should skip fetch")
}
