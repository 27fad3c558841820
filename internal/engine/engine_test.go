package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FetchTimeout = 2 * time.Second
	cfg.Retry = RetryPolicy{MaxRetries: 0, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond, Multiplier: 2}
	return cfg
}

func countingServer(t *testing.T, h http.HandlerFunc) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestFetchCachesIdenticalRequests(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"list":[]}`))
	})
	e := New(testConfig())
	ctx := context.Background()
	u := srv.URL + "/api.php?ac=videolist&wd=x"

	first, err := e.Fetch(ctx, u, FetchOptions{})
	require.NoError(t, err)
	second, err := e.Fetch(ctx, u, FetchOptions{Headers: map[string]string{"X-Other": "1"}})
	require.NoError(t, err)

	assert.Equal(t, int64(1), hits.Load())
	assert.Equal(t, first.Body, second.Body)
	assert.True(t, second.Structured)
	assert.Equal(t, 1, e.CacheLen())
}

func TestFetchSkipCacheStillStores(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	e := New(testConfig())
	ctx := context.Background()
	u := srv.URL + "/x"

	_, err := e.Fetch(ctx, u, FetchOptions{})
	require.NoError(t, err)
	_, err = e.Fetch(ctx, u, FetchOptions{SkipCache: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load())

	e.ClearCache()
	assert.Equal(t, 0, e.CacheLen())
	_, err = e.Fetch(ctx, u, FetchOptions{SkipCache: true})
	require.NoError(t, err)
	assert.Equal(t, 1, e.CacheLen())
}

func TestFetchCollapsesConcurrentMisses(t *testing.T) {
	release := make(chan struct{})
	srv, hits := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte("shared"))
	})
	e := New(testConfig())
	u := srv.URL + "/slow"

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.Fetch(context.Background(), u, FetchOptions{})
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), hits.Load())
}

func TestFetchStatusErrorNotRetried(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	cfg := testConfig()
	cfg.Retry.MaxRetries = 3
	e := New(cfg)

	_, err := e.Fetch(context.Background(), srv.URL+"/missing", FetchOptions{})
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, int64(1), hits.Load())
	assert.Equal(t, 0, e.CacheLen())
}

func TestFetchRetriesServerErrors(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	e := New(testConfig())

	_, err := e.Fetch(context.Background(), srv.URL+"/flaky", FetchOptions{MaxRetries: 2})
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, int64(3), hits.Load())
}

func TestFetchRecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int64
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("[1,2]"))
	})
	e := New(testConfig())

	resp, err := e.Fetch(context.Background(), srv.URL+"/a", FetchOptions{MaxRetries: 1})
	require.NoError(t, err)
	var got []int
	require.NoError(t, resp.JSON(&got))
	assert.Equal(t, []int{1, 2}, got)
}

func TestFetchNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	u := srv.URL + "/gone"
	srv.Close()

	e := New(testConfig())
	_, err := e.Fetch(context.Background(), u, FetchOptions{})
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.True(t, IsRetryable(err))
}

func TestFetchAttemptTimeout(t *testing.T) {
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	e := New(testConfig())

	_, err := e.Fetch(context.Background(), srv.URL+"/hang", FetchOptions{Timeout: 30 * time.Millisecond, MaxRetries: -1})
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 30*time.Millisecond, timeoutErr.Timeout)
}

func TestFetchCallerCanceled(t *testing.T) {
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("late"))
	})
	e := New(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Fetch(ctx, srv.URL+"/c", FetchOptions{})
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestFetchInvalidURL(t *testing.T) {
	e := New(testConfig())
	_, err := e.Fetch(context.Background(), "ftp://a.example/x", FetchOptions{})
	require.Error(t, err)
	_, err = e.Fetch(context.Background(), "http:///nohost", FetchOptions{})
	require.Error(t, err)
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	cfg := testConfig()
	cfg.BreakerThreshold = 3
	e := New(cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := e.Fetch(ctx, srv.URL+"/x", FetchOptions{})
		var statusErr *HTTPStatusError
		require.ErrorAs(t, err, &statusErr)
	}

	_, err := e.Fetch(ctx, srv.URL+"/y", FetchOptions{})
	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.False(t, openErr.RetryAt.IsZero())
	assert.Equal(t, int64(3), hits.Load(), "open circuit must not reach the network")

	host := openErr.Host
	assert.Equal(t, CircuitOpen, e.CircuitState(host).State)
	assert.Equal(t, []string{host}, e.OpenCircuits())

	e.ResetCircuit(host)
	assert.Equal(t, CircuitClosed, e.CircuitState(host).State)
	assert.Empty(t, e.OpenCircuits())
}

func TestBreakerHalfOpenSuccessCloses(t *testing.T) {
	var healthy atomic.Bool
	srv, hits := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	cfg := testConfig()
	cfg.BreakerThreshold = 2
	cfg.BreakerCooldown = 50 * time.Millisecond
	e := New(cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := e.Fetch(ctx, srv.URL+"/h", FetchOptions{})
		require.Error(t, err)
	}
	_, err := e.Fetch(ctx, srv.URL+"/h", FetchOptions{})
	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)

	healthy.Store(true)
	time.Sleep(80 * time.Millisecond)

	resp, err := e.Fetch(ctx, srv.URL+"/h", FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text())
	assert.Equal(t, int64(3), hits.Load())

	st := e.CircuitState(openErr.Host)
	assert.Equal(t, CircuitClosed, st.State)
	assert.Equal(t, 0, st.FailureCount)
	assert.False(t, st.LastFailureTime.IsZero())
}

func TestFetchSharedCancelEndsOnlyThatCaller(t *testing.T) {
	started := make(chan struct{}, 1)
	srv, hits := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case started <- struct{}{}:
		default:
		}
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte("shared"))
	})
	e := New(testConfig())
	u := srv.URL + "/shared"

	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	first := make(chan error, 1)
	go func() {
		_, err := e.Fetch(ctx1, u, FetchOptions{})
		first <- err
	}()
	<-started

	type result struct {
		resp *Response
		err  error
	}
	second := make(chan result, 1)
	go func() {
		resp, err := e.Fetch(context.Background(), u, FetchOptions{})
		second <- result{resp, err}
	}()
	time.Sleep(20 * time.Millisecond)
	cancel1()

	assert.ErrorIs(t, <-first, context.Canceled)
	r := <-second
	require.NoError(t, r.err)
	assert.Equal(t, "shared", r.resp.Text())
	assert.Equal(t, int64(1), hits.Load())
}

func TestBreakerIgnoresCallerCancellation(t *testing.T) {
	started := make(chan struct{}, 1)
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/hang" {
			started <- struct{}{}
			<-r.Context().Done()
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	cfg := testConfig()
	cfg.BreakerThreshold = 2
	cfg.MaxConcurrentPerHost = 1
	e := New(cfg)
	bg := context.Background()

	holdCtx, release := context.WithCancel(bg)
	defer release()
	held := make(chan error, 1)
	go func() {
		_, err := e.Fetch(holdCtx, srv.URL+"/hang", FetchOptions{SkipCache: true})
		held <- err
	}()
	<-started

	// Both wait in the admission queue behind /hang and never reach the host.
	for range 2 {
		ctx, cancel := context.WithTimeout(bg, 20*time.Millisecond)
		_, err := e.Fetch(ctx, srv.URL+"/ok", FetchOptions{SkipCache: true})
		cancel()
		require.ErrorIs(t, err, context.DeadlineExceeded)
	}
	release()
	require.ErrorIs(t, <-held, context.Canceled)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	st := e.CircuitState(u.Hostname())
	assert.Equal(t, CircuitClosed, st.State)
	assert.Zero(t, st.FailureCount)
	assert.True(t, st.LastFailureTime.IsZero())

	resp, err := e.Fetch(bg, srv.URL+"/ok", FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	srv, hits := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	cfg := testConfig()
	cfg.BreakerThreshold = 2
	cfg.BreakerCooldown = 50 * time.Millisecond
	e := New(cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := e.Fetch(ctx, srv.URL+"/h", FetchOptions{})
		require.Error(t, err)
	}
	_, err := e.Fetch(ctx, srv.URL+"/h", FetchOptions{})
	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	firstRetryAt := openErr.RetryAt

	time.Sleep(80 * time.Millisecond)

	_, err = e.Fetch(ctx, srv.URL+"/h", FetchOptions{})
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr, "trial call reaches the host")
	assert.Equal(t, int64(3), hits.Load())

	st := e.CircuitState(openErr.Host)
	assert.Equal(t, CircuitOpen, st.State)
	assert.True(t, st.NextAttemptTime.After(firstRetryAt), "cooldown restarts on trial failure")

	_, err = e.Fetch(ctx, srv.URL+"/h", FetchOptions{})
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, int64(3), hits.Load())
}

func TestBreakerHalfOpenLimitsTrials(t *testing.T) {
	var healthy atomic.Bool
	release := make(chan struct{})
	srv, hits := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if r.URL.Path == "/slow" {
			select {
			case <-release:
			case <-r.Context().Done():
				return
			}
		}
		_, _ = w.Write([]byte("ok"))
	})
	cfg := testConfig()
	cfg.BreakerThreshold = 2
	cfg.BreakerCooldown = 50 * time.Millisecond
	cfg.BreakerSuccessThreshold = 1
	e := New(cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := e.Fetch(ctx, srv.URL+"/h", FetchOptions{})
		require.Error(t, err)
	}
	healthy.Store(true)
	time.Sleep(80 * time.Millisecond)

	trial := make(chan error, 1)
	go func() {
		_, err := e.Fetch(ctx, srv.URL+"/slow", FetchOptions{})
		trial <- err
	}()
	require.Eventually(t, func() bool { return hits.Load() == 3 }, time.Second, 5*time.Millisecond)

	_, err := e.Fetch(ctx, srv.URL+"/other", FetchOptions{})
	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr, "second half-open call is rejected")
	assert.Equal(t, int64(3), hits.Load())

	close(release)
	require.NoError(t, <-trial)
	assert.Equal(t, CircuitClosed, e.CircuitState(openErr.Host).State)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	var fail atomic.Bool
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	cfg := testConfig()
	cfg.BreakerThreshold = 3
	e := New(cfg)
	ctx := context.Background()
	opts := FetchOptions{SkipCache: true}

	fail.Store(true)
	for i := 0; i < 2; i++ {
		_, _ = e.Fetch(ctx, srv.URL+"/r", opts)
	}
	fail.Store(false)
	_, err := e.Fetch(ctx, srv.URL+"/r", opts)
	require.NoError(t, err)

	fail.Store(true)
	for i := 0; i < 2; i++ {
		_, err := e.Fetch(ctx, srv.URL+"/r", opts)
		var statusErr *HTTPStatusError
		require.ErrorAs(t, err, &statusErr, "circuit should still be closed")
	}
}

func TestResponseStructured(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        bool
	}{
		{"json content type", "application/json; charset=utf-8", "", true},
		{"object body", "text/html", "  {\"a\":1}", true},
		{"array body", "", "[1]", true},
		{"html", "text/html", "<html></html>", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newResponse("http://a", 200, tt.contentType, []byte(tt.body))
			if r.Structured != tt.want {
				t.Errorf("Structured = %v, want %v", r.Structured, tt.want)
			}
		})
	}

	r := newResponse("http://a", 200, "text/html", []byte("<p>x</p>"))
	var v any
	if err := r.JSON(&v); !errors.Is(err, ErrNotStructured) {
		t.Errorf("JSON on html = %v, want ErrNotStructured", err)
	}
}

func TestFormatMetrics(t *testing.T) {
	out := FormatMetrics()
	for _, k := range metricKeys {
		assert.Contains(t, out, k+" ")
	}
}

func TestConfigDefaultsRetry(t *testing.T) {
	assert.Equal(t, DefaultRetryPolicy, Config{}.withDefaults().Retry)

	partial := Config{Retry: RetryPolicy{InitialWait: time.Millisecond}}.withDefaults().Retry
	assert.Equal(t, 0, partial.MaxRetries, "explicit policy keeps zero retries")
	assert.Equal(t, time.Millisecond, partial.InitialWait)
	assert.Equal(t, DefaultRetryPolicy.MaxWait, partial.MaxWait)

	negative := Config{Retry: RetryPolicy{MaxRetries: -1}}.withDefaults().Retry
	assert.Equal(t, 0, negative.MaxRetries)
}

func TestAwaitAttempt(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	hang := func() (*Response, error) {
		<-block
		return nil, nil
	}

	t.Run("timeout", func(t *testing.T) {
		start := time.Now()
		_, err := awaitAttempt(context.Background(), "https://slow.example/x", 20*time.Millisecond, hang)
		var te *TimeoutError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, 20*time.Millisecond, te.Timeout)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("caller canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(10*time.Millisecond, cancel)
		_, err := awaitAttempt(ctx, "https://slow.example/x", time.Minute, hang)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("result", func(t *testing.T) {
		want := newResponse("https://fast.example/x", 200, "", []byte("ok"))
		got, err := awaitAttempt(context.Background(), want.URL, time.Second, func() (*Response, error) {
			return want, nil
		})
		require.NoError(t, err)
		assert.Same(t, want, got)
	})
}
