package lichess

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

// newStreamHTTPClient has no overall timeout: streams stay open for hours and idle
// detection is done line by line by the reader.
func newStreamHTTPClient(headerTimeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
	}
	return &http.Client{Transport: transport}
}

// StreamEvents opens the account event stream.
func (c *Client) StreamEvents(ctx context.Context) (io.ReadCloser, error) {
	return c.OpenStream(ctx, "/api/stream/event")
}

// StreamGame opens the bot game stream for one game.
func (c *Client) StreamGame(ctx context.Context, gameID string) (io.ReadCloser, error) {
	return c.OpenStream(ctx, "/api/bot/game/stream/"+url.PathEscape(gameID))
}

// OpenStream issues a streaming GET. The caller owns the returned body; cancelling
// ctx unblocks a pending Read.
func (c *Client) OpenStream(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "application/x-ndjson")
	c.applyHeaders(func(k, v string) { req.Header.Set(k, v) })

	resp, err := c.streams.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, &StatusError{Method: http.MethodGet, Path: path, Code: resp.StatusCode, Body: string(body)}
	}
	return resp.Body, nil
}
