package vodserver

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/anatolykoptev/go_vod/internal/toolutil"
	"github.com/anatolykoptev/go_vod/internal/vod"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/samber/lo"
)

// maxDescRunes caps descriptions in search listings; vod_detail returns them whole.
const maxDescRunes = 200

func registerVodSearch(server *mcp.Server, d Deps) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "vod_search",
		Description: "Search every configured video-catalog provider for a title. Returns usable items (with poster and a playable first episode) as regular_results and, when include_adult is set, adult_results. Items are ordered by title relevance, then by the health of their playback host; hosts that look down are listed last. meta.partial is true when max_sites left providers unsearched.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
		return nil, d.search(ctx, input), nil
	})
}

func (d Deps) search(ctx context.Context, input SearchInput) SearchOutput {
	query := strings.TrimSpace(input.Query)
	out := SearchOutput{
		Query:          query,
		RegularResults: []vod.Result{},
		AdultResults:   []vod.Result{},
	}
	if query == "" {
		return out
	}

	sites := d.Manager.Enabled(input.IncludeAdult)
	out.Meta.SitesTotal = len(sites)
	if input.MaxSites > 0 && input.MaxSites < len(sites) {
		sites = sites[:input.MaxSites]
		out.Meta.Partial = true
	}
	out.Meta.SitesSearched = len(sites)
	if len(sites) == 0 {
		return out
	}

	start := time.Now()
	results := d.Manager.Search(ctx, sites, query)
	adultSites := lo.SliceToMap(lo.Filter(sites, func(p vod.ProviderConfig, _ int) bool { return p.IsAdult }),
		func(p vod.ProviderConfig) (string, bool) { return p.Key, true })

	for _, r := range results {
		if !isUsable(r) {
			continue
		}
		r.Description = toolutil.TruncateRunes(r.Description, maxDescRunes, "...")
		if adultSites[r.Source] {
			out.AdultResults = append(out.AdultResults, r)
		} else {
			out.RegularResults = append(out.RegularResults, r)
		}
	}
	out.RegularResults = rankResults(ctx, query, out.RegularResults, d.Tracker)
	out.AdultResults = rankResults(ctx, query, out.AdultResults, d.Tracker)

	slog.Info("vod_search: done",
		slog.String("query", query),
		slog.Int("sites", len(sites)),
		slog.Int("raw", len(results)),
		slog.Int("regular", len(out.RegularResults)),
		slog.Int("adult", len(out.AdultResults)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return out
}
