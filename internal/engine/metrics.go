package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Metrics tracks operational counters across the engine.
var metrics struct {
	FetchRequests     atomic.Int64
	FetchErrors       atomic.Int64
	NetworkAttempts   atomic.Int64
	Retries           atomic.Int64
	CacheHits         atomic.Int64
	CacheMisses       atomic.Int64
	CircuitOpens      atomic.Int64
	CircuitRejections atomic.Int64
	ProviderSearches  atomic.Int64
	ProviderErrors    atomic.Int64
	DetailRequests    atomic.Int64
	Probes            atomic.Int64
}

var metricKeys = []string{
	"fetch_requests", "fetch_errors", "network_attempts", "retries",
	"cache_hits", "cache_misses",
	"circuit_opens", "circuit_rejections",
	"provider_searches", "provider_errors", "detail_requests",
	"probes",
}

// GetMetrics returns a snapshot of all metrics.
func GetMetrics() map[string]int64 {
	return map[string]int64{
		"fetch_requests":     metrics.FetchRequests.Load(),
		"fetch_errors":       metrics.FetchErrors.Load(),
		"network_attempts":   metrics.NetworkAttempts.Load(),
		"retries":            metrics.Retries.Load(),
		"cache_hits":         metrics.CacheHits.Load(),
		"cache_misses":       metrics.CacheMisses.Load(),
		"circuit_opens":      metrics.CircuitOpens.Load(),
		"circuit_rejections": metrics.CircuitRejections.Load(),
		"provider_searches":  metrics.ProviderSearches.Load(),
		"provider_errors":    metrics.ProviderErrors.Load(),
		"detail_requests":    metrics.DetailRequests.Load(),
		"probes":             metrics.Probes.Load(),
	}
}

// FormatMetrics returns metrics as a simple text format for HTTP endpoint.
func FormatMetrics() string {
	m := GetMetrics()
	var sb strings.Builder
	for _, k := range metricKeys {
		fmt.Fprintf(&sb, "%s %d\n", k, m[k])
	}
	return sb.String()
}

// Incrementors for vod/ and health/ sub-packages.
func IncrProviderSearches() { metrics.ProviderSearches.Add(1) }
func IncrProviderErrors()   { metrics.ProviderErrors.Add(1) }
func IncrDetailRequests()   { metrics.DetailRequests.Add(1) }
func IncrProbes()           { metrics.Probes.Add(1) }

// TrackOperation logs a warning if an operation takes longer than threshold.
func TrackOperation(ctx context.Context, name string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	if elapsed > 5*time.Second {
		slog.Warn("slow operation", slog.String("op", name), slog.Duration("elapsed", elapsed))
	}
	return err
}
