// Package pricefeed resolves the current EU ETS carbon price. Live fetches
// degrade to the last cached quote, and cached quotes degrade to a
// configured default; callers always get a usable, source-flagged quote.
package pricefeed

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/carbonview/cbam-cli/internal/config"
	"github.com/carbonview/cbam-cli/internal/model"
	"github.com/carbonview/cbam-cli/pkg/etsprice"
)

// QuoteCache persists the last-known quote across restarts. Implemented by
// the store; nil disables persistence.
type QuoteCache interface {
	SavePriceQuote(ctx context.Context, quote model.PriceQuote) error
	LatestPriceQuote(ctx context.Context) (*model.PriceQuote, error)
}

// Feed serves carbon price quotes. Reads are concurrent; the fetch path is
// single-writer and the most recent successful fetch wins.
type Feed struct {
	client etsprice.Client
	cfg    config.PriceConfig
	cache  QuoteCache

	mu       sync.RWMutex
	last     *model.PriceQuote // last successful live fetch
	override *float64
	historic string // selected historic date, "" if none

	now func() time.Time
}

// New creates a Feed. cache may be nil.
func New(client etsprice.Client, cfg config.PriceConfig, cache QuoteCache) *Feed {
	return &Feed{client: client, cfg: cfg, cache: cache, now: time.Now}
}

// Warm loads a persisted quote into the in-memory cache, if one exists.
func (f *Feed) Warm(ctx context.Context) {
	if f.cache == nil {
		return
	}
	q, err := f.cache.LatestPriceQuote(ctx)
	if err != nil {
		zap.L().Warn("price feed: load persisted quote", zap.Error(err))
		return
	}
	if q == nil {
		return
	}
	f.mu.Lock()
	f.last = q
	f.mu.Unlock()
	zap.L().Info("price feed: warmed from persisted quote",
		zap.Float64("price", q.Price),
		zap.Time("fetched_at", q.FetchedAt),
	)
}

// Override pins the price to a user-supplied value until Reset.
func (f *Feed) Override(price float64) error {
	if price <= 0 {
		return eris.Errorf("price feed: override must be positive, got %v", price)
	}
	f.mu.Lock()
	f.override = &price
	f.historic = ""
	f.mu.Unlock()
	return nil
}

// Historic pins the price to a configured historic date until Reset.
func (f *Feed) Historic(date string) error {
	if _, ok := f.cfg.HistoricPrices[date]; !ok {
		return eris.Errorf("price feed: no historic price for %s", date)
	}
	f.mu.Lock()
	f.historic = date
	f.override = nil
	f.mu.Unlock()
	return nil
}

// Reset clears any override or historic selection.
func (f *Feed) Reset() {
	f.mu.Lock()
	f.override = nil
	f.historic = ""
	f.mu.Unlock()
}

// Current returns the carbon price to use right now. It never fails:
// override > historic selection > fresh cache > live fetch > stale cache
// within the staleness cutoff > configured default.
func (f *Feed) Current(ctx context.Context) model.PriceQuote {
	now := f.now()

	f.mu.RLock()
	if f.override != nil {
		q := model.PriceQuote{Price: *f.override, Currency: "EUR", Source: model.PriceSourceOverride, FetchedAt: now}
		f.mu.RUnlock()
		return q
	}
	if f.historic != "" {
		q := model.PriceQuote{Price: f.cfg.HistoricPrices[f.historic], Currency: "EUR", Source: model.PriceSourceHistoric, FetchedAt: now}
		f.mu.RUnlock()
		return q
	}
	if f.last != nil && now.Sub(f.last.FetchedAt) < f.cfg.CacheTTL() {
		q := *f.last
		q.Source = model.PriceSourceCached
		f.mu.RUnlock()
		return q
	}
	f.mu.RUnlock()

	return f.refresh(ctx, now)
}

// refresh attempts a live fetch and falls back per the degradation policy.
func (f *Feed) refresh(ctx context.Context, now time.Time) model.PriceQuote {
	fetchCtx, cancel := context.WithTimeout(ctx, f.cfg.FetchTimeout())
	defer cancel()

	raw, err := f.client.CurrentPrice(fetchCtx)
	if err == nil {
		quote := model.PriceQuote{
			Price:     raw.Price,
			Currency:  raw.Currency,
			Source:    model.PriceSourceLive,
			FetchedAt: now,
		}

		f.mu.Lock()
		// Last successful fetch wins on concurrent refreshes.
		if f.last == nil || !quote.FetchedAt.Before(f.last.FetchedAt) {
			stored := quote
			f.last = &stored
		}
		f.mu.Unlock()

		if f.cache != nil {
			if err := f.cache.SavePriceQuote(ctx, quote); err != nil {
				zap.L().Warn("price feed: persist quote", zap.Error(err))
			}
		}
		return quote
	}

	// Fetch failure degrades, never surfaces.
	zap.L().Warn("price feed: live fetch failed", zap.Error(err))

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.last != nil && now.Sub(f.last.FetchedAt) < f.cfg.MaxStale() {
		q := *f.last
		q.Source = model.PriceSourceCached
		return q
	}

	return model.PriceQuote{
		Price:     f.cfg.DefaultPrice,
		Currency:  "EUR",
		Source:    model.PriceSourceDefault,
		FetchedAt: now,
	}
}
