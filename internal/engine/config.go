package engine

import (
	"net/http"
	"time"

	stealth "github.com/anatolykoptev/go-stealth"
)

// Config holds all engine configuration, injected from main.
type Config struct {
	MaxConcurrent        int     // global in-flight cap
	MaxConcurrentPerHost int     // per-host in-flight cap
	RequestRate          float64 // admitted attempts per second across all hosts, 0 = unlimited

	FetchTimeout time.Duration // per-attempt timeout when the call site sets none
	Retry        RetryPolicy

	BreakerThreshold        int           // consecutive failures that open a host circuit
	BreakerCooldown         time.Duration // time an open circuit rejects calls
	BreakerSuccessThreshold int           // half-open successes needed to close

	CacheTTL        time.Duration
	CacheMaxEntries int
	RedisURL        string // empty = L1 only

	HTTPClient    *http.Client
	BrowserClient *stealth.BrowserClient // nil = browser fetches fall back to HTTPClient
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:           10,
		MaxConcurrentPerHost:    3,
		FetchTimeout:            8 * time.Second,
		Retry:                   DefaultRetryPolicy,
		BreakerThreshold:        8,
		BreakerCooldown:         30 * time.Second,
		BreakerSuccessThreshold: 1,
		CacheTTL:                5 * time.Minute,
		CacheMaxEntries:         1000,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.MaxConcurrentPerHost <= 0 {
		c.MaxConcurrentPerHost = d.MaxConcurrentPerHost
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.Retry == (RetryPolicy{}) {
		c.Retry = d.Retry
	}
	if c.Retry.Multiplier <= 0 {
		c.Retry.Multiplier = d.Retry.Multiplier
	}
	if c.Retry.InitialWait <= 0 {
		c.Retry.InitialWait = d.Retry.InitialWait
	}
	if c.Retry.MaxWait <= 0 {
		c.Retry.MaxWait = d.Retry.MaxWait
	}
	if c.Retry.MaxRetries < 0 {
		c.Retry.MaxRetries = 0
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = d.BreakerThreshold
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = d.BreakerCooldown
	}
	if c.BreakerSuccessThreshold <= 0 {
		c.BreakerSuccessThreshold = d.BreakerSuccessThreshold
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	if c.CacheMaxEntries <= 0 {
		c.CacheMaxEntries = d.CacheMaxEntries
	}
	if c.HTTPClient == nil {
		c.HTTPClient = newFetchClient()
	}
	return c
}
