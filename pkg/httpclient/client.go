package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	DefaultMaxBodyBytes = 1 << 20
	DefaultUserAgent    = "voxgate"
)

// Response is a fully read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Truncated  bool
	Latency    time.Duration
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client issues single-attempt requests. It never retries: every failure is
// returned to the caller as soon as it happens.
type Client struct {
	client       *http.Client
	maxBodyBytes int64
	userAgent    string
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.client = &http.Client{Transport: rt}
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

func New(opts ...Option) *Client {
	client := &Client{
		client:       &http.Client{},
		maxBodyBytes: DefaultMaxBodyBytes,
		userAgent:    DefaultUserAgent,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Do sends req and reads at most the configured number of body bytes.
//
// Per-call deadlines come from the request context; cancelling it aborts the
// connection. A *TransportError is returned when no response arrived or the
// deadline passed while reading it. A *BodyError, with the status-only
// response, means the body broke off; a *StatusError, with the full
// response, means a non-2xx status.
func (c *Client) Do(req *http.Request) (*Response, error) {
	if req.Header.Get("User-Agent") == "" && c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{
			Method:  req.Method,
			URL:     req.URL.Redacted(),
			Timeout: isTimeout(req.Context(), err),
			Err:     err,
		}
	}
	defer resp.Body.Close()

	body, truncated, err := readLimited(resp.Body, c.maxBodyBytes)
	if err != nil {
		if isTimeout(req.Context(), err) {
			return nil, &TransportError{
				Method:  req.Method,
				URL:     req.URL.Redacted(),
				Timeout: true,
				Err:     fmt.Errorf("failed to read response body: %w", err),
			}
		}
		partial := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Latency: time.Since(start)}
		return partial, &BodyError{StatusCode: resp.StatusCode, Err: err}
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Truncated:  truncated,
		Latency:    time.Since(start),
	}
	if !out.OK() {
		return out, &StatusError{StatusCode: resp.StatusCode, Body: Snippet(body, 200)}
	}
	return out, nil
}

// Get is a convenience wrapper used by health checks and pollers.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	return c.Do(req)
}

func readLimited(r io.Reader, limit int64) ([]byte, bool, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if n > limit {
		return buf.Bytes()[:limit], true, nil
	}
	return buf.Bytes(), false, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// Snippet returns at most n bytes of body, cut on a rune boundary.
func Snippet(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	cut := n
	for cut > 0 && (body[cut]&0xC0) == 0x80 {
		cut--
	}
	return string(body[:cut]) + "..."
}
