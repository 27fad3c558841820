package vod

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/anatolykoptev/go_vod/internal/engine"
	"github.com/samber/lo"
)

// Adapter turns one family of provider APIs into Results.
type Adapter interface {
	Key() string
	Name() string
	Supports(p ProviderConfig) bool
	Search(ctx context.Context, p ProviderConfig, query string) ([]Result, error)
	Detail(ctx context.Context, p ProviderConfig, id string) (Result, error)
}

// SelectAdapter returns the first adapter that supports p, or the last
// adapter when none does. adapters must not be empty.
func SelectAdapter(p ProviderConfig, adapters []Adapter) Adapter {
	for _, a := range adapters {
		if a.Supports(p) {
			return a
		}
	}
	return adapters[len(adapters)-1]
}

// Options configures a Manager.
type Options struct {
	Providers      []ProviderConfig
	MaxSearchPages int  // <= 0 = DefaultMaxSearchPages
	Browser        bool // scrape special-source pages with the browser client
}

// Manager fans searches out to providers and dispatches detail lookups.
type Manager struct {
	mu        sync.RWMutex
	adapters  []Adapter
	providers []ProviderConfig
}

// NewManager registers the special adapter ahead of the standard one.
func NewManager(f Fetcher, opts Options) *Manager {
	standard := NewStandardAdapter(f, opts.MaxSearchPages)
	return &Manager{
		adapters:  []Adapter{NewSpecialAdapter(f, standard, opts.Browser), standard},
		providers: opts.Providers,
	}
}

// RegisterAdapter puts a ahead of the built-in adapters.
func (m *Manager) RegisterAdapter(a Adapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters = append([]Adapter{a}, m.adapters...)
}

// AdapterInfo names a registered adapter.
type AdapterInfo struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Adapters lists registered adapters in selection order.
func (m *Manager) Adapters() []AdapterInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lo.Map(m.adapters, func(a Adapter, _ int) AdapterInfo {
		return AdapterInfo{Key: a.Key(), Name: a.Name()}
	})
}

func (m *Manager) adapterFor(p ProviderConfig) Adapter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return SelectAdapter(p, m.adapters)
}

// ProviderInfo describes a configured provider and the adapter serving it.
type ProviderInfo struct {
	Key        string   `json:"key"`
	Name       string   `json:"name"`
	API        string   `json:"api"`
	Adapter    string   `json:"adapter"`
	Adult      bool     `json:"adult,omitempty"`
	Disabled   bool     `json:"disabled,omitempty"`
	Strategies []string `json:"strategies,omitempty"` // HTML link strategies, special sources only
}

// Describe lists every configured provider in configured order.
func (m *Manager) Describe() []ProviderInfo {
	return lo.Map(m.providers, func(p ProviderConfig, _ int) ProviderInfo {
		info := ProviderInfo{
			Key:      p.Key,
			Name:     p.Name,
			API:      p.SearchAPI,
			Adapter:  m.adapterFor(p).Key(),
			Adult:    p.IsAdult,
			Disabled: p.Disabled,
		}
		if src, ok := LookupSpecialSource(p.Key); ok && info.Adapter == "special" {
			info.Strategies = lo.Map(src.Strategies, func(s LinkStrategy, _ int) string { return s.Name })
		}
		return info
	})
}

// Providers returns every configured provider, including disabled ones.
func (m *Manager) Providers() []ProviderConfig {
	return append([]ProviderConfig(nil), m.providers...)
}

// Enabled returns providers that are not disabled. Adult providers are
// included only when includeAdult is set.
func (m *Manager) Enabled(includeAdult bool) []ProviderConfig {
	return lo.Filter(m.providers, func(p ProviderConfig, _ int) bool {
		return !p.Disabled && (includeAdult || !p.IsAdult)
	})
}

// Provider looks up a configured provider by key.
func (m *Manager) Provider(key string) (ProviderConfig, error) {
	p, ok := lo.Find(m.providers, func(p ProviderConfig) bool { return p.Key == key })
	if !ok {
		return ProviderConfig{}, &ConfigError{Key: key}
	}
	return p, nil
}

// Search queries providers concurrently. A failing provider contributes
// an empty list; results are concatenated without deduplication.
func (m *Manager) Search(ctx context.Context, providers []ProviderConfig, query string) []Result {
	perProvider := make([][]Result, len(providers))

	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := m.adapterFor(p).Search(ctx, p, query)
			if err != nil {
				engine.IncrProviderErrors()
				slog.Warn("vod: provider search failed",
					slog.String("provider", p.Key), slog.String("query", query), slog.Any("error", err))
				return
			}
			slog.Debug("vod: provider results", slog.String("provider", p.Key), slog.Int("count", len(results)))
			perProvider[i] = results
		}()
	}
	wg.Wait()

	out := lo.Flatten(perProvider)
	if out == nil {
		out = []Result{}
	}
	return out
}

// Detail fetches one item from p and returns the adapter's error as is.
func (m *Manager) Detail(ctx context.Context, p ProviderConfig, id string) (Result, error) {
	return m.adapterFor(p).Detail(ctx, p, id)
}

// DetailOrMatch first searches p for title and returns the item with the
// same id when found; otherwise it falls back to Detail.
func (m *Manager) DetailOrMatch(ctx context.Context, p ProviderConfig, id, title string) (Result, error) {
	if title != "" {
		results, err := m.adapterFor(p).Search(ctx, p, strings.TrimSpace(title))
		if err == nil {
			if r, ok := lo.Find(results, func(r Result) bool { return r.Source == p.Key && r.ID == id }); ok {
				return r, nil
			}
		}
	}
	return m.Detail(ctx, p, id)
}
