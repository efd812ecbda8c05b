// Package exchange holds the venue-agnostic HTTP plumbing shared by
// concrete core.Exchange implementations. Concrete adapters (e.g.
// internal/exchange/bybit) embed BaseAdapter and supply the
// venue-specific signing and error-parsing functions.
package exchange

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"fundingarb/internal/core"

	"golang.org/x/time/rate"
)

// SignFunc adds venue authentication headers to an outgoing request.
type SignFunc func(req *http.Request, body []byte) error

// ParseErrorFunc maps a non-2xx response body to a sentinel apperror.
// Returning nil means the body did not indicate an error (defensive default).
type ParseErrorFunc func(statusCode int, body []byte) error

// BaseAdapter is the common HTTP client shell: rate limiting, signing,
// and error parsing hooks, leaving the JSON shapes to the concrete adapter.
type BaseAdapter struct {
	Name       string
	BaseURL    string
	HTTPClient *http.Client
	Limiter    *rate.Limiter
	Logger     core.Logger

	Sign       SignFunc
	ParseError ParseErrorFunc
}

// NewBaseAdapter builds a BaseAdapter with a client-side rate limiter
// (requestsPerSecond, burst) guarding the venue's own limits, the way the
// root opensqt module rate-limits its REST calls.
func NewBaseAdapter(name, baseURL string, requestsPerSecond float64, burst int, logger core.Logger) *BaseAdapter {
	return &BaseAdapter{
		Name:    name,
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		Limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		Logger:  logger.WithField("exchange", name),
	}
}

// Do executes one signed, rate-limited HTTP request and returns its raw body.
func (b *BaseAdapter) Do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if err := b.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if b.Sign != nil {
		if err := b.Sign(req, body); err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
	}

	resp, err := b.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK && b.ParseError != nil {
		if parseErr := b.ParseError(resp.StatusCode, respBody); parseErr != nil {
			return nil, parseErr
		}
	}

	return respBody, nil
}
