package engine

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// scheduler is a FIFO admission queue with a global and a per-host
// in-flight cap. Each release rescans the queue and admits the first waiter
// whose host has headroom, so one saturated host never blocks the others.
type scheduler struct {
	maxGlobal  int
	maxPerHost int
	limiter    *rate.Limiter // nil = unpaced

	mu      sync.Mutex
	running int
	perHost map[string]int
	queue   []*waiter
}

type waiter struct {
	host     string
	ready    chan struct{}
	admitted bool
}

func newScheduler(maxGlobal, maxPerHost int, rps float64) *scheduler {
	s := &scheduler{
		maxGlobal:  maxGlobal,
		maxPerHost: maxPerHost,
		perHost:    make(map[string]int),
	}
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return s
}

// Acquire blocks until a slot for host is granted or ctx is done.
// Every successful Acquire must be paired with Release(host).
func (s *scheduler) Acquire(ctx context.Context, host string) error {
	w := &waiter{host: host, ready: make(chan struct{})}

	s.mu.Lock()
	s.queue = append(s.queue, w)
	s.dispatchLocked()
	s.mu.Unlock()

	select {
	case <-w.ready:
	case <-ctx.Done():
		s.mu.Lock()
		if w.admitted {
			// Granted concurrently with cancellation: hand the slot back.
			s.releaseLocked(host)
		} else {
			s.removeLocked(w)
		}
		s.mu.Unlock()
		return ctx.Err()
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			s.Release(host)
			return err
		}
	}
	return nil
}

// Release frees the slot held for host and admits the next eligible waiters.
func (s *scheduler) Release(host string) {
	s.mu.Lock()
	s.releaseLocked(host)
	s.mu.Unlock()
}

func (s *scheduler) releaseLocked(host string) {
	s.running--
	if n := s.perHost[host] - 1; n > 0 {
		s.perHost[host] = n
	} else {
		delete(s.perHost, host)
	}
	s.dispatchLocked()
}

func (s *scheduler) dispatchLocked() {
	for s.running < s.maxGlobal {
		idx := -1
		for i, w := range s.queue {
			if s.perHost[w.host] < s.maxPerHost {
				idx = i
				break
			}
		}
		if idx < 0 {
			return
		}
		w := s.queue[idx]
		s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
		s.running++
		s.perHost[w.host]++
		w.admitted = true
		close(w.ready)
	}
}

func (s *scheduler) removeLocked(w *waiter) {
	for i, q := range s.queue {
		if q == w {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// QueueStatus reports waiting and in-flight task counts.
type QueueStatus struct {
	Queued  int `json:"queued"`
	Running int `json:"running"`
}

func (s *scheduler) Status() QueueStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return QueueStatus{Queued: len(s.queue), Running: s.running}
}
