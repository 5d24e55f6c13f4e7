package lichess

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HeaderProvider allows injecting per-request headers
type HeaderProvider func() map[string]string

// BearerToken authenticates every request with a personal API token.
func BearerToken(token string) HeaderProvider {
	return func() map[string]string {
		return map[string]string{"Authorization": "Bearer " + token}
	}
}

type Client struct {
	baseURL string
	http    *fasthttp.Client
	streams *http.Client
	headers HeaderProvider
	limiter *rate.Limiter
	logger  *zap.Logger

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithRateLimit caps outbound requests (stream opens included) per second. Zero disables.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithStreamClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.streams = hc
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		logger:         zap.NewNop(),
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.streams == nil {
		c.streams = newStreamHTTPClient(c.defaultTimeout)
	}
	return c
}

func (c *Client) Account(ctx context.Context) (*Account, error) {
	var acc Account
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/api/account", nil, &acc, true); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (c *Client) AcceptChallenge(ctx context.Context, challengeID string) error {
	path := "/api/challenge/" + url.PathEscape(challengeID) + "/accept"
	return c.doJSON(ctx, fasthttp.MethodPost, path, nil, nil, false)
}

// DeclineChallenge declines with an optional lichess reason key (e.g. "variant").
func (c *Client) DeclineChallenge(ctx context.Context, challengeID, reason string) error {
	path := "/api/challenge/" + url.PathEscape(challengeID) + "/decline"
	if strings.TrimSpace(reason) == "" {
		return c.doJSON(ctx, fasthttp.MethodPost, path, nil, nil, false)
	}
	form := url.Values{"reason": {reason}}
	return c.do(ctx, fasthttp.MethodPost, path, []byte(form.Encode()), "application/x-www-form-urlencoded", nil, false)
}

func (c *Client) MakeMove(ctx context.Context, gameID, move string) error {
	path := "/api/bot/game/" + url.PathEscape(gameID) + "/move/" + url.PathEscape(move)
	return c.doJSON(ctx, fasthttp.MethodPost, path, nil, nil, false)
}

func (c *Client) CreateChallenge(ctx context.Context, username string, req ChallengeRequest) error {
	path := "/api/challenge/" + url.PathEscape(username)
	return c.doJSON(ctx, fasthttp.MethodPost, path, req, nil, false)
}

// OnlineBots lists up to nb bots currently online.
func (c *Client) OnlineBots(ctx context.Context, nb int) ([]User, error) {
	path := "/api/bot/online"
	if nb > 0 {
		path += "?nb=" + strconv.Itoa(nb)
	}
	var users []User
	err := c.do(ctx, fasthttp.MethodGet, path, nil, "", func(body []byte) error {
		var derr error
		users, derr = ReadNDJSON[User](bytes.NewReader(body))
		return derr
	}, true)
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	var payload []byte
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = raw
	}
	var decode func([]byte) error
	if out != nil {
		decode = func(body []byte) error { return json.Unmarshal(body, out) }
	}
	return c.do(ctx, method, path, payload, "application/json", decode, retry)
}

// call is one logical request; do may send it several times.
type call struct {
	method      string
	path        string
	payload     []byte
	contentType string
	decode      func([]byte) error
}

// do sends the request, retrying idempotent calls on network errors, 429 and 5xx.
// Moves and challenge answers are never retried: a lost response does not mean
// the server ignored them.
func (c *Client) do(ctx context.Context, method, path string, payload []byte, contentType string, decode func([]byte) error, retry bool) error {
	cl := call{method: method, path: path, payload: payload, contentType: contentType, decode: decode}
	attempts := 1
	if retry {
		attempts = max(c.retryMax, 1)
	}

	for attempt := 1; ; attempt++ {
		err := c.once(ctx, cl)
		if err == nil {
			return nil
		}
		wait, ok := retryable(err, attempt)
		if !ok || attempt >= attempts {
			return err
		}
		c.logger.Debug("lichess_retry",
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
		if sleepErr := sleepWithContext(ctx, wait); sleepErr != nil {
			return err
		}
	}
}

func (c *Client) once(ctx context.Context, cl call) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(cl.method)
	req.SetRequestURI(c.baseURL + cl.path)
	c.applyHeaders(req.Header.Set)
	if cl.payload != nil {
		req.Header.SetContentType(cl.contentType)
		req.SetBody(cl.payload)
	}

	if err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx)); err != nil {
		return &transportError{method: cl.method, path: cl.path, err: err}
	}

	if code := resp.StatusCode(); code < 200 || code >= 300 {
		serr := &StatusError{Method: cl.method, Path: cl.path, Code: code, Body: truncate(string(resp.Body()), 512)}
		if ra := resp.Header.Peek("Retry-After"); len(ra) > 0 {
			if secs, err := strconv.Atoi(string(ra)); err == nil && secs > 0 {
				serr.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return serr
	}
	if cl.decode != nil {
		if err := cl.decode(resp.Body()); err != nil {
			return fmt.Errorf("decode %s response: %w", cl.path, err)
		}
	}
	return nil
}

type transportError struct {
	method, path string
	err          error
}

func (e *transportError) Error() string {
	return fmt.Sprintf("request failed: %s %s: %v", e.method, e.path, e.err)
}

func (e *transportError) Unwrap() error { return e.err }

// retryable reports whether err is worth another attempt and how long to wait.
func retryable(err error, attempt int) (time.Duration, bool) {
	var terr *transportError
	if errors.As(err, &terr) {
		return backoffDuration(attempt), true
	}
	var serr *StatusError
	if !errors.As(err, &serr) {
		return 0, false
	}
	switch {
	case serr.Code == http.StatusTooManyRequests && serr.RetryAfter > 0:
		return serr.RetryAfter, true
	case serr.Code == http.StatusTooManyRequests, shouldRetryStatus(serr.Code):
		return backoffDuration(attempt), true
	}
	return 0, false
}

func (c *Client) applyHeaders(set func(k, v string)) {
	if c.headers == nil {
		return
	}
	for k, v := range c.headers() {
		if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
			set(k, v)
		}
	}
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		clientDL := time.Now().Add(c.defaultTimeout)
		if dl.Before(clientDL) {
			return dl
		}
		return clientDL
	}
	return time.Now().Add(c.defaultTimeout)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// BackoffDuration is the capped exponential delay used for retries and reconnects.
func BackoffDuration(attempt int) time.Duration { return backoffDuration(attempt) }

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 7 {
		attempt = 7
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base // 100ms, 200ms ... 6.4s
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
