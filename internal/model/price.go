package model

import "time"

// PriceSource records where a carbon price value came from.
type PriceSource string

const (
	PriceSourceLive     PriceSource = "live"
	PriceSourceCached   PriceSource = "cached"
	PriceSourceDefault  PriceSource = "default"
	PriceSourceHistoric PriceSource = "historic"
	PriceSourceOverride PriceSource = "override"
)

// PriceQuote is a carbon price with its provenance. Quotes are created on
// fetch, cached with a freshness window and superseded by the next
// successful fetch.
type PriceQuote struct {
	// Price is the EU ETS allowance price in EUR per tonne CO2e.
	Price     float64     `json:"price"`
	Currency  string      `json:"currency"`
	Source    PriceSource `json:"source"`
	FetchedAt time.Time   `json:"fetched_at"`
}
