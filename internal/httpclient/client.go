// Package httpclient is the single outbound path to the FileFortress API.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTimeout bounds every request when Options.Timeout is zero.
	DefaultTimeout = 5 * time.Second

	headerRequestID      = "X-Request-ID"
	headerIdempotencyKey = "Idempotency-Key"
	maxBodyBytes         = 1 << 20
)

// TokenSource yields the current access token, or "" when signed out.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Options configures a Client.
type Options struct {
	BaseURL string
	Timeout time.Duration
	Tokens  TokenSource
	Logger  *slog.Logger
	// Transport overrides http.DefaultTransport, mostly for tests.
	Transport http.RoundTripper
}

// Client attaches the base path, default headers, request id and bearer
// token to every call. It keeps cookies like a same-origin browser page so
// that server-side session state survives between calls. It never retries.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	logger  *slog.Logger
}

// New builds a Client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		baseURL: opts.BaseURL,
		http:    &http.Client{Timeout: timeout, Jar: jar, Transport: opts.Transport},
		tokens:  opts.Tokens,
		logger:  logger,
	}, nil
}

// Request describes one call relative to the base path.
type Request struct {
	Method string
	Path   string
	Body   any
	// IdempotencyKey is sent as Idempotency-Key when non-empty.
	IdempotencyKey string
}

// Get issues a GET and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path}, out)
}

// Post issues a POST with a JSON body and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body}, out)
}

// Do performs the request. Transport failures return *NetworkError, non-2xx
// responses return *StatusError. out may be nil.
func (c *Client) Do(ctx context.Context, r Request, out any) error {
	var payload io.Reader
	if r.Body != nil {
		data, err := json.Marshal(r.Body)
		if err != nil {
			return fmt.Errorf("encode %s %s body: %w", r.Method, r.Path, err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, c.baseURL+r.Path, payload)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", r.Method, r.Path, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerRequestID, requestID)
	if r.IdempotencyKey != "" {
		req.Header.Set(headerIdempotencyKey, r.IdempotencyKey)
	}
	if c.tokens != nil {
		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return fmt.Errorf("read access token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("api request failed",
			slog.String("method", r.Method),
			slog.String("path", r.Path),
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.Any("error", err),
		)
		return &NetworkError{Method: r.Method, Path: r.Path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &NetworkError{Method: r.Method, Path: r.Path, Err: err}
	}

	c.logger.Debug("api request completed",
		slog.String("method", r.Method),
		slog.String("path", r.Path),
		slog.Int("status", resp.StatusCode),
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: r.Method, Path: r.Path, StatusCode: resp.StatusCode, Body: body}
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", r.Method, r.Path, err)
	}
	return nil
}
