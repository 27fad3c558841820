package vodserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anatolykoptev/go_vod/internal/engine"
	"github.com/anatolykoptev/go_vod/internal/health"
	"github.com/anatolykoptev/go_vod/internal/vod"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDeps(t *testing.T, providers []vod.ProviderConfig) Deps {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.FetchTimeout = 2 * time.Second
	cfg.Retry = engine.RetryPolicy{InitialWait: time.Millisecond, MaxWait: 2 * time.Millisecond, Multiplier: 1.5}
	e := engine.New(cfg)
	t.Cleanup(func() { _ = e.Close() })

	tracker := health.NewTracker(health.NewMemoryStore())
	return Deps{
		Manager: vod.NewManager(e, vod.Options{Providers: providers}),
		Engine:  e,
		Tracker: tracker,
		Prober:  health.NewProber(e, tracker, time.Second, 2),
	}
}

func providerServer(t *testing.T, body string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/api.php/provide/vod"
}

const regularList = `{"pagecount":1,"list":[
 {"vod_id":1,"vod_name":"斗破苍穹 年番","vod_pic":"https://img.a/1.jpg","vod_play_from":"m3u8",
  "vod_play_url":"第1集$https://cdn.a/1/index.m3u8","vod_content":"<p>萧炎的故事</p>"},
 {"vod_id":2,"vod_name":"斗破","vod_pic":"https://img.a/2.jpg","vod_play_from":"m3u8",
  "vod_play_url":"第1集$https://cdn.a/2/index.m3u8"},
 {"vod_id":3,"vod_name":"斗破 无封面","vod_pic":"","vod_play_from":"m3u8",
  "vod_play_url":"第1集$https://cdn.a/3/index.m3u8"}
]}`

const adultList = `{"pagecount":1,"list":[
 {"vod_id":9,"vod_name":"斗破 成人","vod_pic":"https://img.b/9.jpg","vod_play_from":"m3u8",
  "vod_play_url":"第1集$https://cdn.b/9/index.m3u8"}
]}`

func TestSearchGroupsAndFilters(t *testing.T) {
	providers := []vod.ProviderConfig{
		{Key: "reg", Name: "Regular", SearchAPI: providerServer(t, regularList)},
		{Key: "adult", Name: "Adult", SearchAPI: providerServer(t, adultList), IsAdult: true},
	}
	d := newTestDeps(t, providers)

	out := d.search(context.Background(), SearchInput{Query: "斗破", IncludeAdult: true})
	require.Len(t, out.RegularResults, 2)
	assert.Equal(t, "2", out.RegularResults[0].ID, "exact title first")
	assert.Equal(t, "1", out.RegularResults[1].ID)
	require.Len(t, out.AdultResults, 1)
	assert.Equal(t, "adult", out.AdultResults[0].Source)
	assert.Equal(t, SearchMeta{Partial: false, SitesSearched: 2, SitesTotal: 2}, out.Meta)
}

func TestSearchExcludesAdultByDefault(t *testing.T) {
	providers := []vod.ProviderConfig{
		{Key: "reg", SearchAPI: providerServer(t, regularList)},
		{Key: "adult", SearchAPI: providerServer(t, adultList), IsAdult: true},
	}
	d := newTestDeps(t, providers)

	out := d.search(context.Background(), SearchInput{Query: "斗破"})
	assert.Len(t, out.RegularResults, 2)
	assert.Empty(t, out.AdultResults)
	assert.Equal(t, 1, out.Meta.SitesTotal)
}

func TestSearchMaxSitesPartial(t *testing.T) {
	providers := []vod.ProviderConfig{
		{Key: "one", SearchAPI: providerServer(t, regularList)},
		{Key: "two", SearchAPI: providerServer(t, regularList)},
		{Key: "three", SearchAPI: providerServer(t, regularList)},
	}
	d := newTestDeps(t, providers)

	out := d.search(context.Background(), SearchInput{Query: "斗破", MaxSites: 1})
	assert.Equal(t, SearchMeta{Partial: true, SitesSearched: 1, SitesTotal: 3}, out.Meta)
	for _, r := range out.RegularResults {
		assert.Equal(t, "one", r.Source)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	d := newTestDeps(t, []vod.ProviderConfig{{Key: "x", SearchAPI: "http://127.0.0.1:1/api"}})
	out := d.search(context.Background(), SearchInput{Query: "   "})
	assert.NotNil(t, out.RegularResults)
	assert.NotNil(t, out.AdultResults)
	assert.Zero(t, out.Meta)
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"12345", false},
		{"abc.def-9_x", false},
		{"", true},
		{"12 34", true},
		{"../etc", true},
		{"id?x=1", true},
		{strings.Repeat("a", 201), true},
		{strings.Repeat("a", 200), false},
	}
	for _, tt := range tests {
		err := validateID(tt.id)
		if (err != nil) != tt.wantErr {
			t.Errorf("validateID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
		}
	}
}

func TestDetailGuards(t *testing.T) {
	d := newTestDeps(t, []vod.ProviderConfig{
		{Key: "adult", SearchAPI: providerServer(t, adultList), IsAdult: true},
	})
	ctx := context.Background()

	_, err := d.detail(ctx, DetailInput{Source: "nope", ID: "1"})
	var cfgErr *vod.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "nope", cfgErr.Key)

	_, err = d.detail(ctx, DetailInput{Source: "adult", ID: "9"})
	assert.ErrorIs(t, err, ErrAdultFiltered)

	out, err := d.detail(ctx, DetailInput{Source: "adult", ID: "9", IncludeAdult: true})
	require.NoError(t, err)
	assert.Equal(t, "9", out.Result.ID)
	assert.Empty(t, out.Markdown)
}

func TestDetailMarkdown(t *testing.T) {
	d := newTestDeps(t, []vod.ProviderConfig{
		{Key: "reg", Name: "Regular", SearchAPI: providerServer(t, regularList)},
	})

	out, err := d.detail(context.Background(), DetailInput{Source: "reg", ID: "1", Format: "markdown"})
	require.NoError(t, err)
	assert.Contains(t, out.Markdown, "# 斗破苍穹 年番")
	assert.Contains(t, out.Markdown, "https://cdn.a/1/index.m3u8")
	assert.Contains(t, out.Markdown, "萧炎的故事")
}

func TestRenderMarkdown(t *testing.T) {
	md, err := renderMarkdown(vod.Result{
		Title: "Fight Club",
		Year:  "1999",
		PlaySources: []vod.PlaySource{
			{Name: "m3u8", Episodes: []string{"https://cdn.x/1.m3u8", "https://cdn.x/2.m3u8"}},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, md, "# Fight Club")
	assert.Contains(t, md, "1999")
	assert.Contains(t, md, "## m3u8")
	assert.Contains(t, md, "(https://cdn.x/2.m3u8)")
}

func TestHostReportAndHealth(t *testing.T) {
	d := newTestDeps(t, nil)
	ctx := context.Background()

	st, err := d.hostReport(ctx, HostReportInput{URL: "https://CDN.Example.com/a.m3u8", OK: false})
	require.NoError(t, err)
	assert.Equal(t, "cdn.example.com", st.Host)
	assert.InDelta(t, 0.45, st.Score, 1e-9)
	assert.Equal(t, 1, st.Fail)
	assert.Equal(t, "CLOSED", st.Circuit)

	_, err = d.hostReport(ctx, HostReportInput{URL: "not a url"})
	require.Error(t, err)

	out := d.hostHealth(ctx, HostHealthInput{})
	require.Len(t, out.Hosts, 1)
	assert.Equal(t, "cdn.example.com", out.Hosts[0].Host)
	assert.Empty(t, out.OpenCircuits)

	out = d.hostHealth(ctx, HostHealthInput{Hosts: []string{"https://cdn.example.com/x", "unseen.example"}})
	require.Len(t, out.Hosts, 2)
	assert.Equal(t, 1, out.Hosts[0].Fail)
	assert.Equal(t, health.DefaultScore, out.Hosts[1].Score)
	assert.False(t, out.Hosts[1].LikelyDown)
}

func TestProvidersListing(t *testing.T) {
	d := newTestDeps(t, []vod.ProviderConfig{
		{Key: "reg", Name: "Regular", SearchAPI: "https://API.Reg.example/api.php/provide/vod"},
		{Key: "ffzy", Name: "非凡", SearchAPI: "https://ffzy.example/api.php/provide/vod"},
		{Key: "off", SearchAPI: "https://off.example/api", Disabled: true},
	})

	out := d.providers(ProvidersInput{})
	require.Len(t, out.Providers, 2)
	assert.Equal(t, "reg", out.Providers[0].Provider.Key)
	assert.Equal(t, "standard", out.Providers[0].Provider.Adapter)
	assert.Equal(t, "api.reg.example", out.Providers[0].Host)
	assert.Equal(t, "CLOSED", out.Providers[0].Circuit)
	assert.Equal(t, "special", out.Providers[1].Provider.Adapter)
	assert.Equal(t, []string{"ffzy-dated", "loose"}, out.Providers[1].Provider.Strategies)

	require.Len(t, out.Adapters, 2)
	assert.Equal(t, "special", out.Adapters[0].Key)
	assert.Equal(t, "standard", out.Adapters[1].Key)

	out = d.providers(ProvidersInput{IncludeDisabled: true})
	require.Len(t, out.Providers, 3)
	assert.True(t, out.Providers[2].Provider.Disabled)
}

func TestProbeRequiresURLs(t *testing.T) {
	d := newTestDeps(t, nil)
	_, err := d.probe(context.Background(), ProbeInput{URLs: []string{" ", ""}})
	require.Error(t, err)
}

func TestProbeSamples(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1,RESOLUTION=1280x720\nlow.m3u8\n"))
	}))
	t.Cleanup(srv.Close)

	d := newTestDeps(t, nil)
	urls := []string{srv.URL + "/a.m3u8", srv.URL + "/b.m3u8", srv.URL + "/c.m3u8", srv.URL + "/d.m3u8"}
	out, err := d.probe(context.Background(), ProbeInput{URLs: urls, Sample: 2})
	require.NoError(t, err)
	require.Len(t, out.Results, 2)
	for _, r := range out.Results {
		assert.True(t, r.OK)
		assert.Equal(t, "720p", r.Quality)
	}
}

func TestEngineReset(t *testing.T) {
	d := newTestDeps(t, nil)
	out := d.reset(ResetInput{Hosts: []string{"https://A.example/x", "a.example", ""}, ClearCache: true})
	assert.Equal(t, []string{"a.example"}, out.ResetHosts)
	assert.True(t, out.CacheCleared)
	assert.Zero(t, d.Engine.CacheLen())
}

func TestDetailPropagatesProviderError(t *testing.T) {
	down := httptest.NewServer(http.NotFoundHandler())
	u := down.URL
	down.Close()

	d := newTestDeps(t, []vod.ProviderConfig{{Key: "down", SearchAPI: u}})
	_, err := d.detail(context.Background(), DetailInput{Source: "down", ID: "1"})
	require.Error(t, err)
	var netErr *engine.NetworkError
	assert.True(t, errors.As(err, &netErr))
}
