package model

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrIndexNotReady is returned by retrieval before an index build has been
// published. Callers may retry once indexing completes.
var ErrIndexNotReady = eris.New("search index not ready")

// IndexBuildError aborts an index rebuild. The partial index is discarded,
// never published.
type IndexBuildError struct {
	DocID   string
	ChunkID string
	Err     error
}

func (e *IndexBuildError) Error() string {
	return fmt.Sprintf("index build failed (doc %s, chunk %s): %v", e.DocID, e.ChunkID, e.Err)
}

func (e *IndexBuildError) Unwrap() error { return e.Err }

// UnresolvedParameterError reports a calculation parameter that no source
// (override, fetch, default table) could resolve. It names the field so the
// user can supply it.
type UnresolvedParameterError struct {
	Field  string
	Reason string
}

func (e *UnresolvedParameterError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unresolved parameter %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("unresolved parameter %q", e.Field)
}

// PriceFetchError is an internal failure of the market price source. It is
// never surfaced to callers of the price feed, which degrades to a cached or
// default quote instead.
type PriceFetchError struct {
	StatusCode int
	Err        error
}

func (e *PriceFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("price fetch failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("price fetch failed: %v", e.Err)
}

func (e *PriceFetchError) Unwrap() error { return e.Err }

// GenerationError reports a model call that failed after bounded retries.
// The orchestrator folds it into an explicit "unable to answer" response.
type GenerationError struct {
	Attempts int
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
