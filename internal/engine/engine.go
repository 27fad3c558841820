package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrNotStructured is returned by Response.JSON for non-JSON bodies.
var ErrNotStructured = errors.New("response body is not structured")

// Response is a fully read upstream response. Cached responses are shared
// between callers and must not be mutated.
type Response struct {
	URL         string `json:"url"`
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
	Structured  bool   `json:"structured"`
}

func newResponse(rawURL string, status int, contentType string, body []byte) *Response {
	return &Response{
		URL:         rawURL,
		StatusCode:  status,
		ContentType: contentType,
		Body:        body,
		Structured:  isStructured(contentType, body),
	}
}

func isStructured(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "json") {
		return true
	}
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

// Text returns the body as a string.
func (r *Response) Text() string { return string(r.Body) }

// JSON decodes a structured body into v.
func (r *Response) JSON(v any) error {
	if !r.Structured {
		return ErrNotStructured
	}
	return json.Unmarshal(r.Body, v)
}

// FetchOptions tunes one Fetch call.
type FetchOptions struct {
	Headers    map[string]string
	Timeout    time.Duration // per attempt; 0 = Config.FetchTimeout
	MaxRetries int           // 0 = Config.Retry.MaxRetries, negative = no retries
	SkipCache  bool          // bypass lookup; a success is still stored
	// Browser uses the browser client when one is configured. The client has
	// no context support: on timeout or cancellation Fetch returns at once but
	// the underlying request runs until the client's own timeout.
	Browser bool
}

// Engine executes GET requests through cache, per-host circuit breaker,
// retry with backoff and the admission scheduler, in that order.
type Engine struct {
	cfg      Config
	cache    *responseCache
	breakers *breakerSet
	sched    *scheduler
	flight   singleflight.Group
}

// New builds an Engine. Zero Config fields take their defaults.
func New(cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:      cfg,
		cache:    newResponseCache(cfg.CacheMaxEntries, cfg.CacheTTL, cfg.RedisURL),
		breakers: newBreakerSet(cfg.BreakerThreshold, cfg.BreakerCooldown, cfg.BreakerSuccessThreshold),
		sched:    newScheduler(cfg.MaxConcurrent, cfg.MaxConcurrentPerHost, cfg.RequestRate),
	}
}

// Fetch GETs rawURL. Errors are *NetworkError, *TimeoutError,
// *HTTPStatusError or *CircuitOpenError, or ctx.Err() when the caller gives up.
func (e *Engine) Fetch(ctx context.Context, rawURL string, opts FetchOptions) (*Response, error) {
	metrics.FetchRequests.Add(1)

	host, err := hostOf(rawURL)
	if err != nil {
		metrics.FetchErrors.Add(1)
		return nil, err
	}

	if !opts.SkipCache {
		if resp, ok := e.cache.Get(ctx, rawURL); ok {
			return resp, nil
		}
	}

	var resp *Response
	if opts.SkipCache {
		resp, err = e.execute(ctx, rawURL, host, opts)
	} else {
		resp, err = e.shared(ctx, rawURL, host, opts)
	}
	if err != nil {
		metrics.FetchErrors.Add(1)
		slog.Debug("fetch: failed", slog.String("url", rawURL), slog.Any("error", err))
		return nil, err
	}
	return resp, nil
}

// shared collapses concurrent misses for rawURL into one execution detached
// from caller cancellation. Each caller waits on its own ctx; attempts keep
// their own timeouts.
func (e *Engine) shared(ctx context.Context, rawURL, host string, opts FetchOptions) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := e.flight.DoChan(rawURL, func() (any, error) {
		sctx := context.WithoutCancel(ctx)
		if cached, ok := e.cache.Get(sctx, rawURL); ok {
			return cached, nil
		}
		return e.execute(sctx, rawURL, host, opts)
	})
	select {
	case res := <-ch:
		if res.Shared {
			slog.Debug("fetch: shared in-flight request", slog.String("url", rawURL))
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Response), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) execute(ctx context.Context, rawURL, host string, opts FetchOptions) (*Response, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.cfg.FetchTimeout
	}
	policy := e.cfg.Retry
	switch {
	case opts.MaxRetries > 0:
		policy.MaxRetries = opts.MaxRetries
	case opts.MaxRetries < 0:
		policy.MaxRetries = 0
	}

	resp, err := e.breakers.Execute(ctx, host, func() (*Response, error) {
		return RetryDo(ctx, policy, func() (*Response, error) {
			return e.attempt(ctx, rawURL, host, opts, timeout)
		})
	})
	if err != nil {
		return nil, err
	}
	e.cache.Set(ctx, rawURL, resp)
	return resp, nil
}

// attempt holds a scheduler slot for exactly one network round trip.
func (e *Engine) attempt(ctx context.Context, rawURL, host string, opts FetchOptions, timeout time.Duration) (*Response, error) {
	if err := e.sched.Acquire(ctx, host); err != nil {
		return nil, err
	}
	defer e.sched.Release(host)

	metrics.NetworkAttempts.Add(1)
	if opts.Browser && e.cfg.BrowserClient != nil {
		return e.doBrowser(ctx, rawURL, opts.Headers, timeout)
	}
	return e.doHTTP(ctx, rawURL, opts.Headers, timeout)
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return host, nil
}

// CircuitState returns the breaker snapshot for host.
func (e *Engine) CircuitState(host string) CircuitState {
	return e.breakers.State(strings.ToLower(host))
}

// CircuitStates returns every known host breaker.
func (e *Engine) CircuitStates() []CircuitState { return e.breakers.Snapshot() }

// OpenCircuits lists hosts currently failing fast.
func (e *Engine) OpenCircuits() []string { return e.breakers.OpenHosts() }

// ResetCircuit closes the breaker for host.
func (e *Engine) ResetCircuit(host string) { e.breakers.Reset(strings.ToLower(host)) }

// CacheLen returns the number of L1 cache entries.
func (e *Engine) CacheLen() int { return e.cache.Len() }

// ClearCache drops all L1 cache entries.
func (e *Engine) ClearCache() { e.cache.Purge() }

// QueueStatus reports the scheduler's queued and running counts.
func (e *Engine) QueueStatus() QueueStatus { return e.sched.Status() }

// Close releases external connections.
func (e *Engine) Close() error { return e.cache.Close() }
