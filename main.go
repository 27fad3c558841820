// go_vod: video-catalog aggregation MCP server.
//
// Fans title searches out to configured VOD provider APIs through a
// resilient request engine (cache, per-host breakers, retry, admission
// queue), normalises results and tracks playback health per host.
// Runs as HTTP MCP server or stdio transport.
package main

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/anatolykoptev/go-kit/env"
	"github.com/anatolykoptev/go-mcpserver"
	stealth "github.com/anatolykoptev/go-stealth"
	"github.com/anatolykoptev/go-stealth/proxypool"
	"github.com/anatolykoptev/go_vod/internal/engine"
	"github.com/anatolykoptev/go_vod/internal/health"
	"github.com/anatolykoptev/go_vod/internal/vod"
	"github.com/anatolykoptev/go_vod/internal/vodserver"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var (
	version = "dev"
	mcpPort = env.Str("MCP_PORT", "8893")
)

func main() {
	initLogger()

	eng := initEngine()
	defer eng.Close()

	store, closeStore := initHealthStore()
	defer closeStore()
	tracker := health.NewTracker(store)
	unsubscribe := tracker.Subscribe(func(host string) {
		if tracker.LikelyDown(context.Background(), host) {
			slog.Warn("health: host likely down", slog.String("host", host))
		}
	})
	defer unsubscribe()

	providers := loadProviders()
	deps := vodserver.Deps{
		Manager: vod.NewManager(eng, vod.Options{
			Providers:      providers,
			MaxSearchPages: env.Int("MAX_SEARCH_PAGES", vod.DefaultMaxSearchPages),
			Browser:        isTruthy(env.Str("STEALTH_SCRAPE", "")),
		}),
		Engine:  eng,
		Tracker: tracker,
		Prober:  health.NewProber(eng, tracker, env.Duration("PROBE_TIMEOUT", health.DefaultProbeTimeout), health.DefaultProbeParallel),
	}

	slog.Info("starting go_vod",
		slog.String("port", mcpPort),
		slog.Int("providers", len(providers)),
		slog.Int("enabled", len(deps.Manager.Enabled(false))),
	)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "go_vod",
		Version: version,
	}, nil)

	vodserver.RegisterTools(server, deps)
	slog.Info("tools registered", slog.Int("count", vodserver.ToolCount))

	if err := mcpserver.Run(server, mcpserver.Config{
		Name:         "go_vod",
		Version:      version,
		Port:         mcpPort,
		WriteTimeout: 120 * time.Second,
		Metrics:      engine.FormatMetrics,
	}); err != nil {
		slog.Error("server failed", slog.Any("error", err))
	}
}

func initLogger() {
	var level slog.Level
	if err := level.UnmarshalText([]byte(env.Str("LOG_LEVEL", "info"))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if strings.EqualFold(env.Str("LOG_FORMAT", "text"), "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func initEngine() *engine.Engine {
	c := engine.Config{
		MaxConcurrent:        env.Int("MAX_CONCURRENT", 10),
		MaxConcurrentPerHost: env.Int("MAX_CONCURRENT_PER_HOST", 3),
		RequestRate:          env.Float("REQUEST_RATE", 0),
		FetchTimeout:         env.Duration("FETCH_TIMEOUT", 8*time.Second),
		Retry: engine.RetryPolicy{
			MaxRetries:  env.Int("RETRY_MAX", 3),
			InitialWait: env.Duration("RETRY_INITIAL", 500*time.Millisecond),
			MaxWait:     env.Duration("RETRY_MAX_WAIT", 5*time.Second),
			Multiplier:  env.Float("RETRY_MULTIPLIER", 1.5),
		},
		BreakerThreshold:        env.Int("BREAKER_THRESHOLD", 8),
		BreakerCooldown:         env.Duration("BREAKER_COOLDOWN", 30*time.Second),
		BreakerSuccessThreshold: env.Int("BREAKER_SUCCESS_THRESHOLD", 1),
		CacheTTL:                env.Duration("CACHE_TTL", 5*time.Minute),
		CacheMaxEntries:         env.Int("CACHE_MAX_ENTRIES", 1000),
		RedisURL:                env.Str("REDIS_URL", ""),
	}

	if isTruthy(env.Str("STEALTH_SCRAPE", "")) {
		var opts []stealth.ClientOption
		if apiKey := env.Str("WEBSHARE_API_KEY", ""); apiKey != "" {
			pool, err := proxypool.NewWebshare(apiKey)
			if err != nil {
				slog.Warn("proxy pool init failed, running without proxy", slog.Any("error", err))
			} else {
				opts = append(opts, stealth.WithProxyPool(pool))
				slog.Info("proxy pool initialized", slog.Int("proxies", pool.Len()))
			}
		}
		bc, err := engine.NewBrowserClient(15, opts...)
		if err != nil {
			slog.Error("stealth client init failed", slog.Any("error", err))
		} else {
			c.BrowserClient = bc
			slog.Info("stealth browser client initialized")
		}
	}

	return engine.New(c)
}

// initHealthStore prefers Postgres when DATABASE_URL is set and falls back
// to the local SQLite file, then to memory.
func initHealthStore() (health.Store, func()) {
	if dsn := env.Str("DATABASE_URL", ""); dsn != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pg, err := health.ConnectPostgresStore(ctx, dsn)
		if err == nil {
			slog.Info("health store: postgres")
			return pg, pg.Close
		}
		slog.Warn("health store: postgres init failed", slog.Any("error", err))
	}

	path := env.Str("HEALTH_DB_PATH", health.DefaultSQLitePath())
	sq, err := health.OpenSQLiteStore(path)
	if err == nil {
		slog.Info("health store: sqlite", slog.String("path", path))
		return sq, func() { _ = sq.Close() }
	}
	slog.Warn("health store: sqlite init failed, health is not persisted", slog.Any("error", err))
	return health.NewMemoryStore(), func() {}
}

func loadProviders() []vod.ProviderConfig {
	var (
		providers []vod.ProviderConfig
		err       error
	)
	switch {
	case env.Str("PROVIDERS_FILE", "") != "":
		providers, err = vod.LoadProviders(env.Str("PROVIDERS_FILE", ""))
	case env.Str("PROVIDERS_JSON", "") != "":
		providers, err = vod.ParseProviders([]byte(env.Str("PROVIDERS_JSON", "")))
	default:
		slog.Warn("no providers configured; set PROVIDERS_FILE or PROVIDERS_JSON")
		return nil
	}
	if err != nil {
		slog.Error("providers config invalid", slog.Any("error", err))
		return nil
	}
	return providers
}

func isTruthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
