// Package etsprice provides a client for an EU ETS allowance price feed.
package etsprice

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/carbonview/cbam-cli/internal/model"
)

// Client fetches the current EU ETS allowance price.
type Client interface {
	// CurrentPrice fetches the latest quote from the market data source.
	CurrentPrice(ctx context.Context) (*Quote, error)
}

// Quote is the parsed feed response.
type Quote struct {
	Price     float64   `json:"price"`
	Currency  string    `json:"currency"`
	Timestamp time.Time `json:"timestamp"`
}

// Option configures the price client.
type Option func(*httpClient)

// WithBaseURL sets a custom feed URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	backoff time.Duration
}

// NewClient creates a price feed client. The zero api key is allowed for
// feeds that do not require authentication.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		backoff: 1 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// feedResponse mirrors the market data source payload.
type feedResponse struct {
	Price     float64 `json:"price"`
	Currency  string  `json:"currency"`
	Timestamp string  `json:"timestamp"`
}

// retryDo retries transport failures and 429/5xx responses with exponential
// backoff. The final attempt's outcome is returned as-is.
func (c *httpClient) retryDo(ctx context.Context, req *http.Request) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := c.backoff

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		retryReq := req.Clone(ctx)

		resp, err := c.http.Do(retryReq)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "etsprice: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("etsprice: status %d: %s", resp.StatusCode, string(body))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}
	return nil, 0, lastErr
}

func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func (c *httpClient) CurrentPrice(ctx context.Context) (*Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "etsprice: create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	body, statusCode, err := c.retryDo(ctx, req)
	if err != nil {
		return nil, &model.PriceFetchError{StatusCode: statusCode, Err: eris.Wrap(err, "etsprice: request failed")}
	}

	if statusCode != http.StatusOK {
		return nil, &model.PriceFetchError{
			StatusCode: statusCode,
			Err:        eris.Errorf("etsprice: unexpected status %d: %s", statusCode, string(body)),
		}
	}

	var fr feedResponse
	if err := json.Unmarshal(body, &fr); err != nil {
		return nil, &model.PriceFetchError{StatusCode: statusCode, Err: eris.Wrap(err, "etsprice: unmarshal response")}
	}

	if fr.Price <= 0 {
		return nil, &model.PriceFetchError{StatusCode: statusCode, Err: eris.Errorf("etsprice: non-positive price %v", fr.Price)}
	}

	q := &Quote{
		Price:    fr.Price,
		Currency: fr.Currency,
	}
	if q.Currency == "" {
		q.Currency = "EUR"
	}

	if fr.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, fr.Timestamp)
		if err != nil {
			return nil, &model.PriceFetchError{StatusCode: statusCode, Err: eris.Wrap(err, "etsprice: parse timestamp")}
		}
		q.Timestamp = ts
	} else {
		q.Timestamp = time.Now().UTC()
	}

	return q, nil
}
