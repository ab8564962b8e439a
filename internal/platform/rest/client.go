// Package rest is the HTTP plumbing shared by the exchange adapters. It maps
// transport and status failures onto the domain fetch-error taxonomy so the
// scheduler can decide what to retry.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// maxBody bounds how much of a response is read.
const maxBody = 16 << 20

// Client issues JSON GET requests against one exchange host.
type Client struct {
	exchange   domain.ExchangeID
	baseURL    string
	httpClient *http.Client
}

// New creates a Client. timeout is the per-call deadline.
func New(exchange domain.ExchangeID, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		exchange:   exchange,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the configured host root.
func (c *Client) BaseURL() string { return c.baseURL }

// Get fetches path with query, attaching header, and decodes the body into
// out. The op name is carried in any returned FetchError.
func (c *Client) Get(ctx context.Context, op, path string, query url.Values, header map[string]string, out any) error {
	return c.GetURL(ctx, op, c.baseURL+path, query, header, out)
}

// GetURL is Get against an absolute URL, for venues that split endpoints
// across hosts.
func (c *Client) GetURL(ctx context.Context, op, rawURL string, query url.Values, header map[string]string, out any) error {
	if len(query) > 0 {
		rawURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return domain.Permanent(c.exchange, op, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "spreadbot/1.0")
	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.Transient(c.exchange, op, fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return domain.Transient(c.exchange, op, fmt.Errorf("read response: %w", err))
	}

	if err := c.checkStatus(op, resp.StatusCode, body); err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &domain.FetchError{
			Exchange:   c.exchange,
			Op:         op,
			Kind:       domain.FetchPermanent,
			StatusCode: resp.StatusCode,
			Err:        errors.Join(domain.ErrMalformed, err),
		}
	}
	return nil
}

// checkStatus maps non-2xx status codes onto fetch errors. 429 and 5xx are
// retryable, auth failures are permanent, 400/404 mean the symbol is unknown.
func (c *Client) checkStatus(op string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	snippet := string(body)
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}
	fe := &domain.FetchError{Exchange: c.exchange, Op: op, StatusCode: status}
	switch {
	case status == http.StatusTooManyRequests:
		fe.Kind = domain.FetchTransient
		fe.Err = fmt.Errorf("%w: %s", domain.ErrRateLimited, snippet)
	case status >= 500 || status == http.StatusRequestTimeout:
		fe.Kind = domain.FetchTransient
		fe.Err = fmt.Errorf("HTTP %d: %s", status, snippet)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		fe.Kind = domain.FetchPermanent
		fe.Err = fmt.Errorf("%w: %s", domain.ErrUnauthorized, snippet)
	case status == http.StatusNotFound || status == http.StatusBadRequest:
		return fmt.Errorf("%s %s: HTTP %d: %w", c.exchange, op, status, domain.ErrNotListed)
	default:
		fe.Kind = domain.FetchPermanent
		fe.Err = fmt.Errorf("HTTP %d: %s", status, snippet)
	}
	return fe
}

// NotListed builds the error adapters return for unknown symbols.
func NotListed(exchange domain.ExchangeID, op string, token domain.TokenSymbol) error {
	return fmt.Errorf("%s %s %s: %w", exchange, op, token, domain.ErrNotListed)
}

// Malformed builds a permanent schema error.
func Malformed(exchange domain.ExchangeID, op, detail string) error {
	return domain.Permanent(exchange, op, fmt.Errorf("%w: %s", domain.ErrMalformed, detail))
}
