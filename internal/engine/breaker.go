package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// CircuitStatus is the state of one host circuit.
type CircuitStatus string

const (
	CircuitClosed   CircuitStatus = "CLOSED"
	CircuitOpen     CircuitStatus = "OPEN"
	CircuitHalfOpen CircuitStatus = "HALF_OPEN"
)

// CircuitState is a point-in-time view of one host breaker.
type CircuitState struct {
	Host            string        `json:"host"`
	State           CircuitStatus `json:"state"`
	FailureCount    int           `json:"failure_count"`
	SuccessCount    int           `json:"success_count"`
	LastFailureTime time.Time     `json:"last_failure_time,omitzero"`
	NextAttemptTime time.Time     `json:"next_attempt_time,omitzero"`
}

// breakerSet keeps one circuit breaker per upstream host, created lazily on
// first use and kept for the process lifetime.
type breakerSet struct {
	threshold        uint32
	cooldown         time.Duration
	successThreshold uint32
	now              func() time.Time

	mu     sync.Mutex
	byHost map[string]*hostBreaker
}

type hostBreaker struct {
	host string
	cb   *gobreaker.CircuitBreaker[*Response]

	mu          sync.Mutex
	lastFailure time.Time
	openedAt    time.Time
}

func newBreakerSet(threshold int, cooldown time.Duration, successThreshold int) *breakerSet {
	return &breakerSet{
		threshold:        uint32(threshold),
		cooldown:         cooldown,
		successThreshold: uint32(successThreshold),
		now:              time.Now,
		byHost:           make(map[string]*hostBreaker),
	}
}

func (s *breakerSet) get(host string) *hostBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.byHost[host]; ok {
		return b
	}
	b := &hostBreaker{host: host}
	b.cb = gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name: host,
		// Half-open admits this many trials; the same number of consecutive
		// successes closes the circuit.
		MaxRequests: s.successThreshold,
		Timeout:     s.cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= s.threshold
		},
		IsExcluded: func(err error) bool {
			var abort *callerAbort
			return errors.As(err, &abort)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				b.mu.Lock()
				b.openedAt = s.now()
				b.mu.Unlock()
				metrics.CircuitOpens.Add(1)
				slog.Warn("breaker: circuit opened", slog.String("host", name), slog.String("from", from.String()))
				return
			}
			slog.Info("breaker: state change", slog.String("host", name), slog.String("from", from.String()), slog.String("to", to.String()))
		},
	})
	s.byHost[host] = b
	return b
}

// callerAbort marks a failure caused by the caller's own context. The breaker
// counts it as neither success nor failure.
type callerAbort struct{ err error }

func (a *callerAbort) Error() string { return a.err.Error() }
func (a *callerAbort) Unwrap() error { return a.err }

// Execute runs fn under the host's breaker. While the circuit is open fn is
// not called and a *CircuitOpenError is returned. Errors that end with ctx
// already done are not held against the host.
func (s *breakerSet) Execute(ctx context.Context, host string, fn func() (*Response, error)) (*Response, error) {
	b := s.get(host)
	resp, err := b.cb.Execute(func() (*Response, error) {
		resp, err := fn()
		if err != nil && ctx.Err() != nil {
			return nil, &callerAbort{err: err}
		}
		return resp, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.CircuitRejections.Add(1)
		return nil, &CircuitOpenError{Host: host, RetryAt: b.retryAt(s.cooldown)}
	}
	var abort *callerAbort
	if errors.As(err, &abort) {
		return nil, abort.err
	}
	if err != nil {
		b.mu.Lock()
		b.lastFailure = s.now()
		b.mu.Unlock()
		return nil, err
	}
	return resp, nil
}

func (b *hostBreaker) retryAt(cooldown time.Duration) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openedAt.IsZero() {
		return time.Time{}
	}
	return b.openedAt.Add(cooldown)
}

func (b *hostBreaker) snapshot(cooldown time.Duration) CircuitState {
	counts := b.cb.Counts()
	st := CircuitState{
		Host:         b.host,
		State:        toStatus(b.cb.State()),
		FailureCount: int(counts.ConsecutiveFailures),
		SuccessCount: int(counts.ConsecutiveSuccesses),
	}
	b.mu.Lock()
	st.LastFailureTime = b.lastFailure
	if st.State == CircuitOpen && !b.openedAt.IsZero() {
		st.NextAttemptTime = b.openedAt.Add(cooldown)
	}
	b.mu.Unlock()
	return st
}

func toStatus(s gobreaker.State) CircuitStatus {
	switch s {
	case gobreaker.StateOpen:
		return CircuitOpen
	case gobreaker.StateHalfOpen:
		return CircuitHalfOpen
	default:
		return CircuitClosed
	}
}

// State returns the snapshot for host; unseen hosts report CLOSED.
func (s *breakerSet) State(host string) CircuitState {
	s.mu.Lock()
	b, ok := s.byHost[host]
	s.mu.Unlock()
	if !ok {
		return CircuitState{Host: host, State: CircuitClosed}
	}
	return b.snapshot(s.cooldown)
}

// Snapshot returns every known host breaker, sorted by host.
func (s *breakerSet) Snapshot() []CircuitState {
	s.mu.Lock()
	all := make([]*hostBreaker, 0, len(s.byHost))
	for _, b := range s.byHost {
		all = append(all, b)
	}
	s.mu.Unlock()

	out := make([]CircuitState, 0, len(all))
	for _, b := range all {
		out = append(out, b.snapshot(s.cooldown))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}

// OpenHosts lists hosts whose circuit currently rejects calls.
func (s *breakerSet) OpenHosts() []string {
	var hosts []string
	for _, st := range s.Snapshot() {
		if st.State == CircuitOpen {
			hosts = append(hosts, st.Host)
		}
	}
	return hosts
}

// Reset forgets the breaker for host; the next call starts CLOSED.
func (s *breakerSet) Reset(host string) {
	s.mu.Lock()
	delete(s.byHost, host)
	s.mu.Unlock()
	slog.Info("breaker: reset", slog.String("host", host))
}
