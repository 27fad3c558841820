package vod

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/anatolykoptev/go_vod/internal/engine"
)

const detailPageTemplate = "/index.php/vod/detail/id/{id}.html"

// SpecialSource is a provider whose detail data is scraped from HTML pages.
type SpecialSource struct {
	Key            string
	Name           string
	DetailTemplate string
	Strategies     []LinkStrategy
}

var (
	ffzyStrictRe = regexp.MustCompile(`\$(https?://[^"'\s]+?/\d{8}/\d+_[a-f0-9]+/index\.m3u8)`)
	datedM3U8Re  = regexp.MustCompile(`\$(https?://[^"'\s]+?/\d{8}/[^"'\s]+?\.m3u8)`)
)

var specialSources = map[string]SpecialSource{
	"ffzy": {
		Key:            "ffzy",
		Name:           "非凡资源",
		DetailTemplate: detailPageTemplate,
		Strategies:     []LinkStrategy{{Name: "ffzy-dated", Pattern: ffzyStrictRe}, LooseStrategy},
	},
	"lzzy": {
		Key:            "lzzy",
		Name:           "量子资源",
		DetailTemplate: detailPageTemplate,
		Strategies:     []LinkStrategy{{Name: "dated", Pattern: datedM3U8Re}, LooseStrategy},
	},
	"ckzy": {
		Key:            "ckzy",
		Name:           "采集资源",
		DetailTemplate: detailPageTemplate,
		Strategies:     []LinkStrategy{{Name: "dated", Pattern: datedM3U8Re}, LooseStrategy},
	},
}

// LookupSpecialSource returns the scrape settings registered for key.
func LookupSpecialSource(key string) (SpecialSource, bool) {
	s, ok := specialSources[key]
	return s, ok
}

// SpecialAdapter searches through the standard API but reads detail from
// the provider's HTML detail page.
type SpecialAdapter struct {
	fetcher  Fetcher
	standard *StandardAdapter
	browser  bool
}

// NewSpecialAdapter creates the HTML-scraping adapter. browser routes page
// fetches through the engine's browser client.
func NewSpecialAdapter(f Fetcher, standard *StandardAdapter, browser bool) *SpecialAdapter {
	return &SpecialAdapter{fetcher: f, standard: standard, browser: browser}
}

func (a *SpecialAdapter) Key() string  { return "special" }
func (a *SpecialAdapter) Name() string { return "特殊源" }

// Supports accepts only registered special sources. A DetailBase alone does
// not make a provider special.
func (a *SpecialAdapter) Supports(p ProviderConfig) bool {
	_, ok := specialSources[p.Key]
	return ok
}

func (a *SpecialAdapter) Search(ctx context.Context, p ProviderConfig, query string) ([]Result, error) {
	return a.standard.Search(ctx, p, query)
}

func specialDetailURL(p ProviderConfig, src SpecialSource, id string) string {
	base := p.DetailBase
	if base == "" {
		base = p.SearchAPI
	}
	return base + strings.ReplaceAll(src.DetailTemplate, "{id}", url.PathEscape(id))
}

func (a *SpecialAdapter) Detail(ctx context.Context, p ProviderConfig, id string) (Result, error) {
	engine.IncrDetailRequests()

	src, ok := specialSources[p.Key]
	if !ok {
		src = SpecialSource{Key: p.Key, Name: p.Name, DetailTemplate: detailPageTemplate, Strategies: []LinkStrategy{LooseStrategy}}
	}

	resp, err := a.fetcher.Fetch(ctx, specialDetailURL(p, src, id), engine.FetchOptions{
		Timeout:    detailTimeout,
		MaxRetries: htmlRetries,
		Browser:    a.browser,
		Headers:    map[string]string{"Accept": "text/html,application/xhtml+xml,*/*;q=0.8"},
	})
	if err != nil {
		return Result{}, fmt.Errorf("%s detail page: %w", p.Key, err)
	}

	html := resp.Text()
	episodes := ExtractWithStrategies(html, src.Strategies...)
	meta := parseDetailPage(html)

	r := Result{
		ID:          id,
		Title:       meta.title,
		Poster:      meta.cover,
		Source:      p.Key,
		SourceName:  p.Name,
		Year:        meta.year,
		Description: meta.desc,
	}
	return r.WithPlaySources(fallbackSources(p.Name, episodes, 1)), nil
}

type pageMeta struct {
	title string
	desc  string
	cover string
	year  string
}

var (
	h1Re      = regexp.MustCompile(`<h1[^>]*>([^<]+)</h1>`)
	sketchRe  = regexp.MustCompile(`<div[^>]*class=["']sketch["'][^>]*>([\s\S]*?)</div>`)
	jpgRe     = regexp.MustCompile(`https?://[^"'\s]+?\.jpg`)
	yearTagRe = regexp.MustCompile(`>(\d{4})<`)
)

// parseDetailPage pulls title, description, cover and year out of a detail
// page. goquery handles title and description; regexes cover malformed markup.
func parseDetailPage(html string) pageMeta {
	var m pageMeta

	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		m.title = normalizeTitle(doc.Find("h1").First().Text())
		if inner, err := doc.Find("div.sketch").First().Html(); err == nil {
			m.desc = CleanDescription(inner)
		}
	}
	if m.title == "" {
		if sm := h1Re.FindStringSubmatch(html); sm != nil {
			m.title = strings.TrimSpace(sm[1])
		}
	}
	if m.desc == "" {
		if sm := sketchRe.FindStringSubmatch(html); sm != nil {
			m.desc = CleanDescription(sm[1])
		}
	}

	m.cover = strings.TrimSpace(jpgRe.FindString(html))
	if sm := yearTagRe.FindStringSubmatch(html); sm != nil {
		m.year = ExtractYear(sm[1])
	}
	return m
}
