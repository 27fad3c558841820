package vodserver

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/anatolykoptev/go_vod/internal/health"
	"github.com/anatolykoptev/go_vod/internal/vod"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

// isUsable reports whether r can be shown and played: it has an id, a
// title, a source, a poster and a non-empty first episode.
func isUsable(r vod.Result) bool {
	return r.ID != "" &&
		strings.TrimSpace(r.Title) != "" &&
		r.Source != "" &&
		r.Poster != "" &&
		len(r.Episodes) > 0 && r.Episodes[0] != ""
}

// playbackHost is the host a result streams from, falling back to the
// poster host when there are no episodes.
func playbackHost(r vod.Result) string {
	if len(r.Episodes) > 0 {
		if h := health.HostFromURL(r.Episodes[0]); h != "" {
			return h
		}
	}
	return health.HostFromURL(r.Poster)
}

type hostView struct {
	score float64
	down  bool
}

type rankKey struct {
	down     bool
	distance int
	score    float64
}

// titleDistance is the fuzzy edit distance of query within title;
// non-matching titles sort after every match.
func titleDistance(query, title string) int {
	if d := fuzzy.RankMatchNormalizedFold(query, title); d >= 0 {
		return d
	}
	return math.MaxInt
}

// rankResults orders results by title relevance to query, then by host
// score; hosts judged likely down go last. The sort is stable.
func rankResults(ctx context.Context, query string, results []vod.Result, tracker *health.Tracker) []vod.Result {
	hosts := make(map[string]hostView)
	keys := make([]rankKey, len(results))
	for i, r := range results {
		host := playbackHost(r)
		view, ok := hosts[host]
		if !ok {
			view = hostView{score: health.DefaultScore}
			if host != "" && tracker != nil {
				view = hostView{score: tracker.Score(ctx, host), down: tracker.LikelyDown(ctx, host)}
			}
			hosts[host] = view
		}
		keys[i] = rankKey{down: view.down, distance: titleDistance(query, r.Title), score: view.score}
	}

	idx := make([]int, len(results))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ka, kb := keys[idx[a]], keys[idx[b]]
		if ka.down != kb.down {
			return !ka.down
		}
		if ka.distance != kb.distance {
			return ka.distance < kb.distance
		}
		return ka.score > kb.score
	})

	out := make([]vod.Result, len(results))
	for i, j := range idx {
		out[i] = results[j]
	}
	return out
}
