package vod

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/anatolykoptev/go_vod/internal/engine"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const (
	searchTimeout = 8 * time.Second
	detailTimeout = 10 * time.Second

	searchRetries = 2
	pageRetries   = 1
	detailRetries = 3
	htmlRetries   = 2

	// DefaultMaxSearchPages bounds how many result pages one search reads.
	DefaultMaxSearchPages = 5
)

// Fetcher is the request engine as seen by adapters.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts engine.FetchOptions) (*engine.Response, error)
}

// StandardAdapter talks to the common collection API
// (?ac=videolist for search, ?ac=detail for detail).
type StandardAdapter struct {
	fetcher  Fetcher
	maxPages int
}

// NewStandardAdapter creates the default adapter. maxPages <= 0 uses
// DefaultMaxSearchPages.
func NewStandardAdapter(f Fetcher, maxPages int) *StandardAdapter {
	if maxPages <= 0 {
		maxPages = DefaultMaxSearchPages
	}
	return &StandardAdapter{fetcher: f, maxPages: maxPages}
}

func (a *StandardAdapter) Key() string  { return "standard" }
func (a *StandardAdapter) Name() string { return "标准API源" }

// Supports accepts every provider without a special-source entry.
func (a *StandardAdapter) Supports(p ProviderConfig) bool {
	_, special := specialSources[p.Key]
	return !special
}

func searchURL(api, query string) string {
	return api + "?ac=videolist&wd=" + url.QueryEscape(query)
}

func pageURL(api, query string, page int) string {
	return searchURL(api, query) + "&pg=" + strconv.Itoa(page)
}

func detailURL(api, id string) string {
	return api + "?ac=detail&ids=" + url.QueryEscape(id)
}

// Search fetches page 1, then the remaining pages concurrently. A failed
// extra page contributes nothing.
func (a *StandardAdapter) Search(ctx context.Context, p ProviderConfig, query string) ([]Result, error) {
	engine.IncrProviderSearches()

	resp, err := a.fetcher.Fetch(ctx, searchURL(p.SearchAPI, query), engine.FetchOptions{
		Timeout:    searchTimeout,
		MaxRetries: searchRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("%s search: %w", p.Key, err)
	}
	first := decodeResponse(resp)
	if len(first.List) == 0 {
		return []Result{}, nil
	}

	results := mapItems(first.List, p)
	extra := a.fetchExtraPages(ctx, p, query, int(first.PageCount))
	return append(results, extra...), nil
}

func (a *StandardAdapter) fetchExtraPages(ctx context.Context, p ProviderConfig, query string, pageCount int) []Result {
	n := min(pageCount-1, a.maxPages-1)
	if n <= 0 {
		return nil
	}

	pages := make([][]Result, n)
	var g errgroup.Group
	for i := range n {
		page := i + 2
		g.Go(func() error {
			resp, err := a.fetcher.Fetch(ctx, pageURL(p.SearchAPI, query, page), engine.FetchOptions{
				Timeout:    searchTimeout,
				MaxRetries: pageRetries,
			})
			if err != nil {
				slog.Debug("vod: extra page failed", slog.String("provider", p.Key), slog.Int("page", page), slog.Any("error", err))
				return nil
			}
			pages[i] = mapItems(decodeResponse(resp).List, p)
			return nil
		})
	}
	_ = g.Wait()
	return lo.Flatten(pages)
}

func mapItems(items []apiItem, p ProviderConfig) []Result {
	return lo.Map(items, func(it apiItem, _ int) Result { return it.toResult(p) })
}

// Detail fetches one item with validated links. When no mirror survives
// validation the description is scanned for playable URLs.
func (a *StandardAdapter) Detail(ctx context.Context, p ProviderConfig, id string) (Result, error) {
	engine.IncrDetailRequests()

	resp, err := a.fetcher.Fetch(ctx, detailURL(p.detailAPI(), id), engine.FetchOptions{
		Timeout:    detailTimeout,
		MaxRetries: detailRetries,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%s detail: %w", p.Key, err)
	}
	data := decodeResponse(resp)
	if len(data.List) == 0 {
		return Result{}, fmt.Errorf("%s detail %s: %w", p.Key, id, ErrEmptyDetail)
	}

	item := data.List[0]
	sources := ExtractPlaySources(string(item.PlayURL), string(item.PlayFrom), true)
	if len(sources) == 0 && item.Content != "" {
		sources = fallbackSources(fallbackMirror, ExtractFallback(string(item.Content)), defaultPriority)
	}

	r := item.toResult(p).WithPlaySources(sources)
	r.ID = id
	return r, nil
}
