// Package vod adapts third-party video-catalog providers to one result model.
package vod

import (
	"errors"
	"fmt"
)

// ErrEmptyDetail is returned when a provider's detail response has no items.
var ErrEmptyDetail = errors.New("detail response contains no items")

// ProviderConfig describes one upstream catalog provider.
type ProviderConfig struct {
	Key        string `json:"key"`
	Name       string `json:"name"`
	SearchAPI  string `json:"api"`
	DetailAPI  string `json:"detail_api,omitempty"` // empty = SearchAPI
	DetailBase string `json:"detail,omitempty"`     // HTML scrape base for special sources
	IsAdult    bool   `json:"is_adult,omitempty"`
	Disabled   bool   `json:"disabled,omitempty"`
}

func (p ProviderConfig) detailAPI() string {
	if p.DetailAPI != "" {
		return p.DetailAPI
	}
	return p.SearchAPI
}

// PlaySource is one mirror of a title. Lower Priority is preferred.
type PlaySource struct {
	Name     string   `json:"name"`
	Episodes []string `json:"episodes"`
	Priority int      `json:"priority"`
	Quality  string   `json:"quality,omitempty"`
}

// Result is a provider item normalised to the shared model.
type Result struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Poster      string       `json:"poster"`
	PlaySources []PlaySource `json:"play_sources"`
	Episodes    []string     `json:"episodes"`
	Source      string       `json:"source"`
	SourceName  string       `json:"source_name"`
	Class       string       `json:"class,omitempty"`
	Year        string       `json:"year"`
	Description string       `json:"desc,omitempty"`
	TypeName    string       `json:"type_name,omitempty"`
	DoubanID    int64        `json:"douban_id,omitempty"`
}

// WithPlaySources returns a copy of r using sources, with Episodes taken
// from the first source.
func (r Result) WithPlaySources(sources []PlaySource) Result {
	r.PlaySources = sources
	r.Episodes = primaryEpisodes(sources)
	return r
}

func primaryEpisodes(sources []PlaySource) []string {
	if len(sources) == 0 {
		return []string{}
	}
	return sources[0].Episodes
}

// ConfigError reports a provider key that is not configured.
type ConfigError struct {
	Key string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("unknown provider %q", e.Key)
}
