package vodserver

import (
	"github.com/anatolykoptev/go_vod/internal/engine"
	"github.com/anatolykoptev/go_vod/internal/health"
	"github.com/anatolykoptev/go_vod/internal/vod"
)

// SearchInput is the input for vod_search.
type SearchInput struct {
	Query        string `json:"query" jsonschema:"Title to search for (e.g. 斗破苍穹)"`
	MaxSites     int    `json:"max_sites,omitempty" jsonschema:"Query at most this many providers, in configured order (default: all)"`
	IncludeAdult bool   `json:"include_adult,omitempty" jsonschema:"Also query providers flagged adult; their items are returned separately"`
}

// SearchMeta describes how complete a search is.
type SearchMeta struct {
	Partial       bool `json:"partial"`
	SitesSearched int  `json:"sites_searched"`
	SitesTotal    int  `json:"sites_total"`
}

// SearchOutput is the result of vod_search.
type SearchOutput struct {
	Query          string       `json:"query"`
	RegularResults []vod.Result `json:"regular_results"`
	AdultResults   []vod.Result `json:"adult_results"`
	Meta           SearchMeta   `json:"meta"`
}

// DetailInput is the input for vod_detail.
type DetailInput struct {
	Source       string `json:"source" jsonschema:"Provider key from a search result's source field"`
	ID           string `json:"id" jsonschema:"Item id from a search result"`
	Title        string `json:"title,omitempty" jsonschema:"Optional title; the provider is searched first and a matching item is returned without a detail call"`
	IncludeAdult bool   `json:"include_adult,omitempty" jsonschema:"Allow detail lookups on providers flagged adult"`
	Format       string `json:"format,omitempty" jsonschema:"Output format: json (default) or markdown"`
}

// DetailOutput is the result of vod_detail.
type DetailOutput struct {
	Result   vod.Result `json:"result"`
	Markdown string     `json:"markdown,omitempty"`
}

// HostHealthInput is the input for host_health.
type HostHealthInput struct {
	Hosts []string `json:"hosts,omitempty" jsonschema:"Hostnames or URLs to report on (default: every recorded host)"`
}

// HostStatus is the health view of one host.
type HostStatus struct {
	Host       string  `json:"host"`
	Score      float64 `json:"score"`
	LikelyDown bool    `json:"likely_down"`
	OK         int     `json:"ok"`
	Fail       int     `json:"fail"`
	Circuit    string  `json:"circuit,omitempty"`
}

// HostHealthOutput is the result of host_health.
type HostHealthOutput struct {
	Hosts        []HostStatus          `json:"hosts"`
	OpenCircuits []string              `json:"open_circuits"`
	Circuits     []engine.CircuitState `json:"circuits,omitempty"`
	Queue        engine.QueueStatus    `json:"queue"`
	CacheEntries int                   `json:"cache_entries"`
}

// HostReportInput is the input for host_report.
type HostReportInput struct {
	URL    string  `json:"url" jsonschema:"Playback URL whose host the outcome applies to"`
	OK     bool    `json:"ok" jsonschema:"Whether playback succeeded"`
	Weight float64 `json:"weight,omitempty" jsonschema:"Sample weight in (0,1] (default: 1)"`
}

// ProbeInput is the input for probe_sources.
type ProbeInput struct {
	URLs   []string `json:"urls" jsonschema:"m3u8 playlist URLs to probe"`
	Sample int      `json:"sample,omitempty" jsonschema:"Probe a random sample of this many URLs (default: 3, 0 or less: default)"`
}

// ProbeOutput is the result of probe_sources.
type ProbeOutput struct {
	Results []health.ProbeResult `json:"results"`
}

// ResetInput is the input for engine_reset.
type ResetInput struct {
	Hosts      []string `json:"hosts,omitempty" jsonschema:"Hosts whose circuit breakers should be closed"`
	ClearCache bool     `json:"clear_cache,omitempty" jsonschema:"Drop every cached upstream response"`
}

// ResetOutput is the result of engine_reset.
type ResetOutput struct {
	ResetHosts   []string `json:"reset_hosts"`
	CacheCleared bool     `json:"cache_cleared"`
}

// ProvidersInput is the input for vod_providers.
type ProvidersInput struct {
	IncludeDisabled bool `json:"include_disabled,omitempty" jsonschema:"Also list providers marked disabled"`
}

// ProviderStatus is one provider as listed by vod_providers.
type ProviderStatus struct {
	Provider vod.ProviderInfo `json:"provider"`
	Host     string           `json:"host,omitempty"`
	Circuit  string           `json:"circuit,omitempty"`
}

// ProvidersOutput is the result of vod_providers.
type ProvidersOutput struct {
	Providers []ProviderStatus  `json:"providers"`
	Adapters  []vod.AdapterInfo `json:"adapters"`
}
