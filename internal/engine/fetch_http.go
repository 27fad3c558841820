package engine

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// maxBodyBytes caps a single upstream body; provider pages are far smaller.
const maxBodyBytes = 16 << 20

// newFetchClient creates an HTTP client with proper settings for provider APIs.
// Per-attempt timeouts come from the request context, not Client.Timeout.
func newFetchClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        50,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     60 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			return nil
		},
	}
}

// doHTTP performs one GET attempt with its own timeout.
func (e *Engine) doHTTP(ctx context.Context, rawURL string, headers map[string]string, timeout time.Duration) (*Response, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", RandomUserAgent())
	req.Header.Set("Accept", "application/json, text/plain, */*")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, actx, rawURL, timeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &HTTPStatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := readResponseBody(resp)
	if err != nil {
		return nil, classifyTransportError(ctx, actx, rawURL, timeout, err)
	}
	return newResponse(rawURL, resp.StatusCode, resp.Header.Get("Content-Type"), body), nil
}

// doBrowser performs one GET attempt through the TLS-fingerprinting client.
func (e *Engine) doBrowser(ctx context.Context, rawURL string, headers map[string]string, timeout time.Duration) (*Response, error) {
	h := ChromeHeaders()
	for k, v := range headers {
		h[k] = v
	}
	return awaitAttempt(ctx, rawURL, timeout, func() (*Response, error) {
		data, _, status, err := e.cfg.BrowserClient.Do("GET", rawURL, h, nil)
		if err != nil {
			return nil, &NetworkError{URL: rawURL, Err: err}
		}
		if status < 200 || status >= 300 {
			return nil, &HTTPStatusError{URL: rawURL, StatusCode: status}
		}
		return newResponse(rawURL, status, "", data), nil
	})
}

// awaitAttempt bounds a blocking call that takes no context by the attempt
// timeout and ctx. An abandoned call finishes in the background and its
// result is dropped.
func awaitAttempt(ctx context.Context, rawURL string, timeout time.Duration, call func() (*Response, error)) (*Response, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		resp *Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := call()
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return r.resp, r.err
	case <-actx.Done():
		return nil, classifyTransportError(ctx, actx, rawURL, timeout, actx.Err())
	}
}

// classifyTransportError maps a client error to the engine taxonomy.
// Caller cancellation is returned as-is so callers can tell it apart.
func classifyTransportError(parent, attempt context.Context, rawURL string, timeout time.Duration, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(attempt.Err(), context.DeadlineExceeded) {
		return &TimeoutError{URL: rawURL, Timeout: timeout, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TimeoutError{URL: rawURL, Timeout: timeout, Err: err}
	}
	return &NetworkError{URL: rawURL, Err: err}
}

// readResponseBody reads the response body, handling gzip decompression if needed.
func readResponseBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}
	return io.ReadAll(io.LimitReader(r, maxBodyBytes))
}
