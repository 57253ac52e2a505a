// Package netutil provides resource-bounded HTTP fetching and domain helpers
// for crawling hosts that are frequently slow, huge, or hostile.
package netutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const readChunkSize = 32 << 10

// RobotsPolicy answers whether a URL may be fetched. Implemented by the
// robots cache; nil disables gating entirely.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// Response is the outcome of a bounded fetch. Body is nil when the
// Content-Length precheck rejected the payload; status and headers are
// still populated so callers can classify the host.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// FetchOptions tune a single fetch. Zero values fall back to the client
// defaults; robots validation is on unless SkipRobots is set.
type FetchOptions struct {
	MaxBytes        int64
	Timeout         time.Duration
	SkipRobots      bool
	FollowRedirects bool
}

// Client performs bounded GETs with a shared transport, a fixed user agent,
// and optional robots gating.
type Client struct {
	HTTP      *http.Client
	UserAgent string
	Robots    RobotsPolicy

	MaxBodyBytes int64
	Timeout      time.Duration
}

// NewClient creates a bounded fetch client. robots may be nil.
func NewClient(userAgent string, maxBodyBytes int64, timeout time.Duration, robots RobotsPolicy) *Client {
	return &Client{
		HTTP:         &http.Client{},
		UserAgent:    userAgent,
		Robots:       robots,
		MaxBodyBytes: maxBodyBytes,
		Timeout:      timeout,
	}
}

// Fetch GETs url subject to the byte and time caps. The body is read in
// fixed-size chunks so a slow or oversized response fails partway instead of
// exhausting memory. Responses whose declared Content-Length exceeds the cap
// return headers with a nil body.
func (c *Client) Fetch(ctx context.Context, url string, opts FetchOptions) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = c.MaxBodyBytes
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.Timeout
	}

	if !opts.SkipRobots && c.Robots != nil {
		if !c.Robots.Allowed(ctx, url) {
			return nil, fmt.Errorf("%w: %s", ErrRobotsBlocked, url)
		}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &NonRetryableError{Err: err}
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	client := c.httpClient()
	if !opts.FollowRedirects {
		clone := *client
		clone.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
		client = &clone
	}

	started := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %s", ErrResponseTooSlow, url)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header}

	// Declared-size precheck: keep the classification signal (status and
	// headers) without pulling the payload.
	if resp.ContentLength > maxBytes {
		return out, nil
	}

	body, err := readBounded(resp, url, maxBytes, timeout, started)
	if err != nil {
		return nil, err
	}
	out.Body = body
	return out, nil
}

func readBounded(resp *http.Response, url string, maxBytes int64, timeout time.Duration, started time.Time) ([]byte, error) {
	var body []byte
	chunk := make([]byte, readChunkSize)
	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			if int64(len(body)+n) > maxBytes {
				return nil, fmt.Errorf("%w: %s", ErrResponseTooLarge, url)
			}
			body = append(body, chunk[:n]...)
		}
		if timeout > 0 && time.Since(started) > timeout {
			return nil, fmt.Errorf("%w: %s", ErrResponseTooSlow, url)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return body, nil
			}
			return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
	}
}

// FetchJSON fetches url and decodes the body into v. Non-2xx statuses and
// empty bodies are errors so extractor fallback chains can move on.
func (c *Client) FetchJSON(ctx context.Context, url string, opts FetchOptions, v any) error {
	resp, err := c.Fetch(ctx, url, opts)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPStatusError{StatusCode: resp.StatusCode, URL: url}
	}
	if len(resp.Body) == 0 {
		return fmt.Errorf("%w: %s", ErrNoContent, url)
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("netutil: decode %s: %w", url, err)
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}
