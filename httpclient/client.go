// Package httpclient is the single outbound HTTP path for the catalog
// clients. It gates calls with a fixed-window limiter, serves repeated GETs
// from a cache, merges identical in-flight GETs and normalizes failures into
// the error types in errors.go.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"saavnbridge/coalesce"
	"saavnbridge/ratelimit"
)

const (
	DefaultTimeout    = 10 * time.Second
	DefaultRetries    = 2
	DefaultStatsEvery = 50

	maxBodyBytes = 8 << 20
)

// Response is a fully read HTTP response. Body is shared between coalesced
// callers and the cache, so treat it as read-only.
type Response struct {
	Status    int         `json:"status"`
	Header    http.Header `json:"header"`
	Body      []byte      `json:"body"`
	FromCache bool        `json:"-"`
}

func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Cache stores successful GET responses. cache.TTL and cache.Durable both fit.
type Cache interface {
	Get(key string) (*Response, bool)
	Set(key string, value *Response)
}

type RequestConfig struct {
	Params  url.Values
	Headers map[string]string
	// Body is JSON encoded when non-nil.
	Body any
}

type Options struct {
	Timeout      time.Duration
	Retries      int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	UserAgent    string
	// StatsEvery controls how often the request/error counters are logged.
	StatsEvery int
	// HTTPClient replaces the underlying transport client, mainly for tests.
	HTTPClient *http.Client
}

type Client struct {
	http      *retryablehttp.Client
	cache     Cache
	limiter   *ratelimit.Limiter
	coalescer *coalesce.Coalescer[*Response]
	timeout   time.Duration
	userAgent string

	requestCount atomic.Int64
	errorCount   atomic.Int64
	stats        *rate.Sometimes

	logger *log.Entry
}

// New wires the client from its collaborators. cache may be nil to disable
// response caching; limiter and coalescer are required.
func New(cache Cache, limiter *ratelimit.Limiter, coalescer *coalesce.Coalescer[*Response], opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = 250 * time.Millisecond
	}
	if opts.RetryWaitMax < opts.RetryWaitMin {
		opts.RetryWaitMax = 2 * time.Second
	}
	if opts.StatsEvery <= 0 {
		opts.StatsEvery = DefaultStatsEvery
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "saavnbridge/1.0"
	}

	retryClient := retryablehttp.NewClient()
	if opts.HTTPClient != nil {
		retryClient.HTTPClient = opts.HTTPClient
	}
	retryClient.RetryMax = opts.Retries
	retryClient.RetryWaitMin = opts.RetryWaitMin
	retryClient.RetryWaitMax = opts.RetryWaitMax
	retryClient.CheckRetry = checkRetry
	// hand the last response back instead of a generic "giving up" error so
	// the status can be classified
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.Logger = nil

	return &Client{
		http:      retryClient,
		cache:     cache,
		limiter:   limiter,
		coalescer: coalescer,
		timeout:   opts.Timeout,
		userAgent: opts.UserAgent,
		stats:     &rate.Sometimes{Every: opts.StatsEvery},
		logger: log.WithFields(log.Fields{
			"module": "httpclient",
		}),
	}
}

// checkRetry retries transport failures and 5xx, never cancellation.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func (c *Client) Get(ctx context.Context, rawURL string, cfg *RequestConfig) (*Response, error) {
	return c.Do(ctx, http.MethodGet, rawURL, cfg)
}

func (c *Client) Post(ctx context.Context, rawURL string, cfg *RequestConfig) (*Response, error) {
	return c.Do(ctx, http.MethodPost, rawURL, cfg)
}

func (c *Client) Put(ctx context.Context, rawURL string, cfg *RequestConfig) (*Response, error) {
	return c.Do(ctx, http.MethodPut, rawURL, cfg)
}

func (c *Client) Delete(ctx context.Context, rawURL string, cfg *RequestConfig) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, rawURL, cfg)
}

// Do sends one request through the limiter, cache and coalescer.
func (c *Client) Do(ctx context.Context, method, rawURL string, cfg *RequestConfig) (*Response, error) {
	if cfg == nil {
		cfg = &RequestConfig{}
	}
	fullURL, err := buildURL(rawURL, cfg.Params)
	if err != nil {
		return nil, &RequestSetupError{Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, callerGone(method, fullURL, err)
	}

	var body []byte
	if cfg.Body != nil {
		body, err = json.Marshal(cfg.Body)
		if err != nil {
			return nil, &RequestSetupError{Err: fmt.Errorf("encode body: %w", err)}
		}
	}

	if !c.limiter.TryAcquire() {
		c.logger.Debugf("rate limited %s %s, window resets at %s", method, fullURL, c.limiter.ResetAt().Format(time.TimeOnly))
		return nil, ErrRateLimited
	}

	idempotent := method == http.MethodGet
	key := method + " " + fullURL

	if idempotent && c.cache != nil {
		if cached, ok := c.cache.Get(key); ok {
			c.logger.Tracef("cache hit %s", key)
			hit := *cached
			hit.FromCache = true
			return &hit, nil
		}
	}

	if !idempotent {
		// unique key: bounded by the queue but never merged
		key = key + "#" + uuid.NewString()
	}

	resp, err := c.coalescer.Run(ctx, key, func(taskCtx context.Context) (*Response, error) {
		resp, err := c.send(taskCtx, method, fullURL, body, cfg.Headers)
		if err == nil && idempotent && c.cache != nil {
			c.cache.Set(key, resp)
		}
		return resp, err
	})
	if err != nil {
		var noResponse *NoResponseError
		if errors.As(err, &noResponse) || errors.Is(err, ErrCanceled) {
			return nil, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			c.logger.Tracef("caller left %s %s: %v", method, fullURL, err)
			return nil, callerGone(method, fullURL, err)
		}
		return nil, err
	}
	return resp, nil
}

// callerGone maps the caller's own context error. A deadline the caller set
// reads as a timeout; an explicit cancel stays silent.
func callerGone(method, fullURL string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &NoResponseError{Method: method, URL: fullURL, Timeout: true, Err: err}
	}
	return ErrCanceled
}

func (c *Client) send(ctx context.Context, method, fullURL string, body []byte, headers map[string]string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, &RequestSetupError{Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	count := c.requestCount.Add(1)
	c.logger.Tracef("request #%d %s %s", count, method, fullURL)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.fail(c.classifyTransport(ctx, method, fullURL, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, c.fail(c.classifyTransport(ctx, method, fullURL, err))
	}

	c.logger.Debugf("%s %s -> %d in %s", method, fullURL, resp.StatusCode, time.Since(start).Round(time.Millisecond))
	c.logStats()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.fail(&ServerError{
			Method:  method,
			URL:     fullURL,
			Status:  resp.StatusCode,
			Message: errorMessage(data),
		})
	}

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   data,
	}, nil
}

func (c *Client) classifyTransport(ctx context.Context, method, fullURL string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &NoResponseError{Method: method, URL: fullURL, Timeout: true, Err: err}
	case errors.Is(ctx.Err(), context.Canceled):
		return ErrCanceled
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &NoResponseError{Method: method, URL: fullURL, Timeout: true, Err: err}
	}
	return &NoResponseError{Method: method, URL: fullURL, Err: err}
}

func (c *Client) fail(err error) error {
	if errors.Is(err, ErrCanceled) {
		return err
	}
	c.errorCount.Add(1)
	c.logger.Debugf("request failed: %v", err)
	c.logStats()
	return err
}

func (c *Client) logStats() {
	c.stats.Do(func() {
		requests := c.requestCount.Load()
		errs := c.errorCount.Load()
		c.logger.Infof("stats: %d requests, %d errors (%.1f%%), %d in flight",
			requests, errs, float64(errs)/float64(max(requests, 1))*100, c.coalescer.InFlight())
	})
}

// Stats returns the request and error counters.
func (c *Client) Stats() (requests, errs int64) {
	return c.requestCount.Load(), c.errorCount.Load()
}

func buildURL(rawURL string, params url.Values) (string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", errors.New("empty url")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if len(params) > 0 {
		query := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				query.Add(k, v)
			}
		}
		u.RawQuery = query.Encode()
	} else if u.RawQuery != "" {
		// normalize so equivalent URLs share a cache and coalescing key
		u.RawQuery = u.Query().Encode()
	}
	return u.String(), nil
}

func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, msg := range []string{payload.Message, payload.Error, payload.Detail} {
			if msg != "" {
				return msg
			}
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return msg
}
