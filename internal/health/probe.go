package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/anatolykoptev/go_vod/internal/engine"
	"golang.org/x/sync/errgroup"
)

// ErrProbeCanceled is returned when the caller cancels a probe. Canceled
// probes are not recorded as host failures.
var ErrProbeCanceled = errors.New("probe canceled")

// ErrNotPlaylist is returned for URLs that do not name an .m3u8 playlist.
var ErrNotPlaylist = errors.New("not an m3u8 playlist url")

const (
	DefaultProbeTimeout  = 5 * time.Second
	DefaultProbeSample   = 3
	DefaultProbeParallel = 3

	// probeWeight scales probe outcomes relative to real playback reports.
	probeWeight = 0.5
)

// Fetcher is the request engine as seen by the prober.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts engine.FetchOptions) (*engine.Response, error)
}

// ProbeResult describes one playlist probe.
type ProbeResult struct {
	URL     string        `json:"url"`
	Host    string        `json:"host"`
	OK      bool          `json:"ok"`
	Quality string        `json:"quality,omitempty"`
	Ping    time.Duration `json:"ping_ns"`
	Error   string        `json:"error,omitempty"`
}

// Prober fetches playlists to estimate quality and latency, feeding the
// outcome into a Tracker.
type Prober struct {
	fetcher  Fetcher
	tracker  *Tracker
	timeout  time.Duration
	parallel int
}

// NewProber creates a prober. tracker may be nil to skip recording.
func NewProber(f Fetcher, tracker *Tracker, timeout time.Duration, parallel int) *Prober {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if parallel <= 0 {
		parallel = DefaultProbeParallel
	}
	return &Prober{fetcher: f, tracker: tracker, timeout: timeout, parallel: parallel}
}

var resolutionRe = regexp.MustCompile(`RESOLUTION=(\d+)x(\d+)`)

// QualityFromPlaylist labels the widest RESOLUTION in a master playlist.
// Media playlists without variants yield "".
func QualityFromPlaylist(body string) string {
	width := 0
	for _, m := range resolutionRe.FindAllStringSubmatch(body, -1) {
		if w, err := strconv.Atoi(m[1]); err == nil && w > width {
			width = w
		}
	}
	switch {
	case width == 0:
		return ""
	case width >= 3840:
		return "4K"
	case width >= 2560:
		return "2K"
	case width >= 1920:
		return "1080p"
	case width >= 1280:
		return "720p"
	case width >= 854:
		return "480p"
	default:
		return "SD"
	}
}

// Probe fetches rawURL once, bypassing the cache. A body that is not an
// HLS playlist counts as a failure.
func (p *Prober) Probe(ctx context.Context, rawURL string) (ProbeResult, error) {
	res := ProbeResult{URL: rawURL, Host: HostFromURL(rawURL)}
	if u, err := url.Parse(rawURL); err != nil || res.Host == "" || !strings.HasSuffix(strings.ToLower(u.Path), ".m3u8") {
		res.Error = ErrNotPlaylist.Error()
		return res, ErrNotPlaylist
	}
	engine.IncrProbes()

	start := time.Now()
	resp, err := p.fetcher.Fetch(ctx, rawURL, engine.FetchOptions{
		Timeout:    p.timeout,
		MaxRetries: -1,
		SkipCache:  true,
	})
	res.Ping = time.Since(start)

	if err == nil && !strings.HasPrefix(strings.TrimSpace(resp.Text()), "#EXTM3U") {
		err = fmt.Errorf("not an HLS playlist: %s", rawURL)
	}
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			res.Error = ErrProbeCanceled.Error()
			return res, ErrProbeCanceled
		}
		res.Error = err.Error()
		p.record(ctx, rawURL, false)
		return res, err
	}

	res.OK = true
	res.Quality = QualityFromPlaylist(resp.Text())
	p.record(ctx, rawURL, true)
	return res, nil
}

func (p *Prober) record(ctx context.Context, rawURL string, ok bool) {
	if p.tracker == nil {
		return
	}
	if err := p.tracker.RecordURL(ctx, rawURL, ok, probeWeight); err != nil {
		slog.Warn("health: probe record failed", slog.String("url", rawURL), slog.Any("error", err))
	}
}

// SpeedTest probes a random sample of urls (all of them when sample <= 0 or
// there are no more than sample) with bounded parallelism. Results follow
// the sampled order.
func (p *Prober) SpeedTest(ctx context.Context, urls []string, sample int) []ProbeResult {
	picked := urls
	if sample > 0 && len(urls) > sample {
		picked = make([]string, 0, sample)
		for _, i := range rand.Perm(len(urls))[:sample] {
			picked = append(picked, urls[i])
		}
	}

	results := make([]ProbeResult, len(picked))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallel)
	for i, u := range picked {
		g.Go(func() error {
			results[i], _ = p.Probe(gctx, u)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
