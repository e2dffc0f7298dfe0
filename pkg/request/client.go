package request

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"roadspeed/pkg/cache"
	"roadspeed/pkg/logging"
	"roadspeed/pkg/tracker"
	"roadspeed/pkg/version"
)

var defaultUserAgent = "roadspeed/" + version.Version

// Options configures a Client.
type Options struct {
	Timeout time.Duration
	// Retries is the number of attempts for retryable failures (network
	// errors, 429 and 5xx).
	Retries   int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Gap is the pause between two requests to the same provider.
	Gap       time.Duration
	UserAgent string
}

// DefaultOptions returns the options used for zero fields.
func DefaultOptions() Options {
	return Options{
		Timeout:   120 * time.Second,
		Retries:   3,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  60 * time.Second,
		Gap:       100 * time.Millisecond,
		UserAgent: defaultUserAgent,
	}
}

// Client handles HTTP requests with queuing, caching, and tracking.
// Requests to the same provider run one at a time.
type Client struct {
	httpClient *http.Client
	cache      cache.Cacher
	tracker    *tracker.Tracker
	backoff    *ProviderBackoff
	opts       Options

	queues map[string]chan job
	mu     sync.Mutex // Protects queues map
}

type job struct {
	provider string
	req      *http.Request
	headers  map[string]string
	cacheKey string
	check    func([]byte) error
	respChan chan jobResult
}

type jobResult struct {
	body []byte
	err  error
}

// New creates a new Client. c and t may be nil.
func New(c cache.Cacher, t *tracker.Tracker, opts Options) *Client {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.Retries <= 0 {
		opts.Retries = def.Retries
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = def.BaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = def.MaxDelay
	}
	if opts.Gap < 0 {
		opts.Gap = 0
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}
	if t == nil {
		t = tracker.New()
	}
	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		cache:      c,
		tracker:    t,
		backoff:    NewProviderBackoff(opts.BaseDelay, opts.MaxDelay),
		opts:       opts,
		queues:     make(map[string]chan job),
	}
}

// Tracker returns the tracker recording this client's requests.
func (c *Client) Tracker() *tracker.Tracker { return c.tracker }

// Get performs a GET request, served from cache when cacheKey is set and present.
func (c *Client) Get(ctx context.Context, u, cacheKey string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, u, nil, nil, cacheKey, nil)
}

// Post performs a POST request, served from cache when cacheKey is set and present.
func (c *Client) Post(ctx context.Context, u string, body []byte, headers map[string]string, cacheKey string) ([]byte, error) {
	return c.do(ctx, http.MethodPost, u, body, headers, cacheKey, nil)
}

// PostChecked is Post with check applied to the response body. A body failing
// check is returned as an error and never cached; a cached body failing check
// is fetched again.
func (c *Client) PostChecked(ctx context.Context, u string, body []byte, headers map[string]string, cacheKey string, check func([]byte) error) ([]byte, error) {
	return c.do(ctx, http.MethodPost, u, body, headers, cacheKey, check)
}

func (c *Client) do(ctx context.Context, method, u string, body []byte, headers map[string]string, cacheKey string, check func([]byte) error) ([]byte, error) {
	parsedURL, err := url.Parse(u)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	provider := normalizeProvider(parsedURL.Host)

	if cacheKey != "" && c.cache != nil {
		val, hit := c.cache.GetCache(ctx, cacheKey)
		if hit && check != nil {
			if err := check(val); err != nil {
				slog.Warn("Cached response rejected", "provider", provider, "key", cacheKey, "error", err.Error())
				hit = false
			}
		}
		if hit {
			c.tracker.TrackCacheHit(provider)
			slog.Debug("Cache Hit", "provider", provider, "key", cacheKey)
			return val, nil
		}
		c.tracker.TrackCacheMiss(provider)
		slog.Debug("Cache Miss", "provider", provider, "key", cacheKey)
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	respChan := make(chan jobResult, 1)
	c.dispatch(job{provider: provider, req: req, headers: headers, cacheKey: cacheKey, check: check, respChan: respChan})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-respChan:
		return res.body, res.err
	}
}

// normalizeProvider groups mirrors of the same service under one queue.
func normalizeProvider(host string) string {
	h := strings.ToLower(host)
	if i := strings.LastIndex(h, ":"); i >= 0 && !strings.Contains(h[i:], "]") {
		h = h[:i]
	}
	switch {
	case strings.Contains(h, "overpass"),
		h == "maps.mail.ru",
		strings.HasSuffix(h, "openstreetmap.fr"):
		return "overpass"
	case strings.HasSuffix(h, ".openstreetmap.org") || h == "openstreetmap.org":
		return "osm"
	}
	return host
}

// dispatch sends the job to the provider's queue, creating the queue and its
// worker on first use.
func (c *Client) dispatch(j job) {
	c.mu.Lock()
	q, ok := c.queues[j.provider]
	if !ok {
		q = make(chan job, 100)
		c.queues[j.provider] = q
		go c.worker(j.provider, q)
	}
	c.mu.Unlock()

	// Blocks while the queue is full, throttling the caller
	select {
	case q <- j:
	case <-j.req.Context().Done():
		j.respChan <- jobResult{err: j.req.Context().Err()}
	}
}

// worker processes requests for a specific provider sequentially.
func (c *Client) worker(provider string, q <-chan job) {
	for j := range q {
		ctx := j.req.Context()
		if ctx.Err() != nil {
			slog.Warn("Job dropped from queue (context expired)", "provider", provider, "error", ctx.Err())
			j.respChan <- jobResult{err: ctx.Err()}
			continue
		}

		if err := c.backoff.Wait(ctx, provider); err != nil {
			j.respChan <- jobResult{err: err}
			continue
		}

		uaSet := false
		for k, v := range j.headers {
			j.req.Header.Set(k, v)
			if http.CanonicalHeaderKey(k) == "User-Agent" {
				uaSet = true
			}
		}
		if !uaSet {
			j.req.Header.Set("User-Agent", c.opts.UserAgent)
		}

		start := time.Now()
		body, err := c.executeWithBackoff(j.req)
		if err == nil && j.check != nil {
			if err = j.check(body); err != nil {
				body = nil
			}
		}
		logging.RequestLogger.Info("Request",
			"provider", provider,
			"method", j.req.Method,
			"url", j.req.URL.String(),
			"bytes", len(body),
			"took", time.Since(start),
			"error", err,
		)

		if err == nil {
			c.tracker.TrackAPISuccess(provider)
			c.backoff.RecordSuccess(provider)
			if j.cacheKey != "" && c.cache != nil {
				if err := c.cache.SetCache(context.Background(), j.cacheKey, body); err != nil {
					slog.Error("Failed to cache response", "url", j.req.URL, "error", err)
				}
			}
		} else {
			c.tracker.TrackAPIFailure(provider)
			if ctx.Err() == nil {
				c.backoff.RecordFailure(provider)
			}
		}

		j.respChan <- jobResult{body: body, err: err}

		if c.opts.Gap > 0 {
			time.Sleep(c.opts.Gap)
		}
	}
}

// StatusError is returned for non-retryable HTTP error responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api error: status %d", e.Code)
	}
	return fmt.Sprintf("api error: status %d: %s", e.Code, e.Body)
}

// executeWithBackoff attempts the request with exponential backoff on retryable errors.
func (c *Client) executeWithBackoff(req *http.Request) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.opts.Retries; attempt++ {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		if attempt > 0 && req.GetBody != nil {
			b, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("rewind body: %w", err)
			}
			req.Body = b
		}

		slog.Debug("Network Request", "host", req.URL.Host, "path", req.URL.Path, "attempt", attempt+1)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, req.Context().Err()
			}
			slog.Warn("Request failed, retrying", "url", req.URL, "attempt", attempt+1, "error", err)
			lastErr = err
			if err := c.sleep(req.Context(), attempt); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			slog.Warn("API Backoff", "status", resp.StatusCode, "url", req.URL, "attempt", attempt+1)
			lastErr = &StatusError{Code: resp.StatusCode}
			if err := c.sleep(req.Context(), attempt); err != nil {
				return nil, err
			}
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read error: %w", err)
		}
		if resp.StatusCode >= 400 {
			msg := strings.TrimSpace(string(body))
			if len(msg) > 200 {
				msg = msg[:200]
			}
			return nil, &StatusError{Code: resp.StatusCode, Body: msg}
		}
		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	d := time.Duration(math.Pow(2, float64(attempt))) * c.opts.BaseDelay
	if d > c.opts.MaxDelay {
		d = c.opts.MaxDelay
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
