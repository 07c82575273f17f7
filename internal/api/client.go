// Package api is the REST client for the parking-management backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const DefaultTimeout = 10 * time.Second

var validate = validator.New()

// Error is returned for non-2xx responses.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

type Client struct {
	origin string
	http   *http.Client
	logger *slog.Logger

	mu    sync.RWMutex
	token string
}

type Option func(*Client)

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a client for the backend at baseURL. Both the bare origin and
// the origin with its /api prefix are accepted.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		origin: NormalizeOrigin(baseURL),
		http:   &http.Client{Timeout: DefaultTimeout},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With("component", "api")
	return c
}

// NormalizeOrigin strips trailing slashes and a trailing /api segment.
func NormalizeOrigin(s string) string {
	s = strings.TrimRight(strings.TrimSpace(s), "/")
	s = strings.TrimSuffix(s, "/api")
	return strings.TrimRight(s, "/")
}

func (c *Client) Origin() string { return c.origin }

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// do performs a JSON request against origin+/api+path and decodes the
// unwrapped response data into out (when out is non-nil).
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	return c.doURL(ctx, method, c.origin+"/api"+path, query, body, out)
}

func (c *Client) doURL(ctx context.Context, method, rawURL string, query url.Values, body, out any) error {
	if len(query) > 0 {
		rawURL += "?" + query.Encode()
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: encode %s %s: %w", method, rawURL, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("request failed", "method", method, "url", rawURL, "err", err)
		return fmt.Errorf("api: %s %s: %w", method, rawURL, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("api: read %s %s: %w", method, rawURL, err)
	}
	c.logger.Debug("response", "method", method, "url", rawURL, "status", res.StatusCode,
		"duration", time.Since(start), "request_id", req.Header.Get("X-Request-ID"))

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &Error{Status: res.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(unwrap(raw), out); err != nil {
		return fmt.Errorf("api: decode %s %s: %w", method, rawURL, err)
	}
	return nil
}

// unwrap peels the {"data": ...} envelope the backend uses, including the
// paginator form {"data": {"data": [...]}}.
func unwrap(raw []byte) json.RawMessage {
	cur := json.RawMessage(bytes.TrimSpace(raw))
	for i := 0; i < 2; i++ {
		inner, ok := field(cur, "data")
		if !ok {
			break
		}
		cur = inner
	}
	return cur
}

// field returns the value of key when raw is an object holding a non-null key.
func field(raw json.RawMessage, key string) (json.RawMessage, bool) {
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	v, ok := obj[key]
	v = bytes.TrimSpace(v)
	if !ok || len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return nil, false
	}
	return v, true
}

func errorMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
