package vod

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/samber/lo"
)

const (
	mirrorSep  = "$$$"
	episodeSep = "#"

	defaultPriority  = 99
	fallbackMirror   = "内容提取"
	mirrorNameFormat = "播放源%d"
)

var anyURLRe = regexp.MustCompile(`https?://[^"'\s<>]+`)

var playableExts = []string{".m3u8", ".mp4", ".m4v"}

var excludedPaths = []string{"/redirect/", "/jump/", "/play.html", "/player.html", "/go.php"}

// priorityRules is checked in order; the first keyword hit wins.
var priorityRules = []struct {
	keywords []string
	priority int
}{
	{[]string{"m3u8"}, 1},
	{[]string{"高清", "hd", "1080", "4k", "蓝光"}, 2},
	{[]string{"标清", "sd", "720"}, 3},
	{[]string{"量子", "非凡", "ffzy", "lzzy"}, 4},
}

// IsValidPlayURL reports whether u looks like a directly playable media URL
// rather than a redirect or player page.
func IsValidPlayURL(u string) bool {
	if u == "" {
		return false
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	host := parsed.Hostname()
	if host == "" || host == "localhost" {
		return false
	}

	path := parsed.Path
	lower := strings.ToLower(path)
	playable := false
	for _, ext := range playableExts {
		if strings.HasSuffix(lower, ext) {
			playable = true
			break
		}
	}
	dyttShare := strings.Contains(host, "dytt") && strings.Contains(path, "/share")
	if !playable && !dyttShare {
		return false
	}

	for _, p := range excludedPaths {
		if strings.Contains(path, p) {
			return false
		}
	}
	return true
}

// CalculatePriority ranks a mirror by keywords in its name.
func CalculatePriority(name string) int {
	lower := strings.ToLower(name)
	for _, rule := range priorityRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.priority
			}
		}
	}
	return defaultPriority
}

// CleanLink strips a leading "$" and any "(...)" suffix.
func CleanLink(link string) string {
	link = strings.TrimPrefix(link, "$")
	if i := strings.Index(link, "("); i > 0 {
		link = link[:i]
	}
	return link
}

// episodeURLs splits one mirror chunk into raw episode URLs.
// Entries look like "第1集$https://...m3u8"; entries without that shape are
// scanned for bare URLs.
func episodeURLs(chunk string) []string {
	var urls []string
	for _, part := range strings.Split(chunk, episodeSep) {
		if i := strings.LastIndex(part, "$"); i >= 0 && i < len(part)-1 {
			if u := strings.TrimSpace(part[i+1:]); u != "" {
				urls = append(urls, u)
			}
			continue
		}
		urls = append(urls, anyURLRe.FindAllString(part, -1)...)
	}
	return urls
}

// ExtractPlaySources parses a "$$$"-separated mirror list into play sources
// sorted by ascending priority. Mirrors with no episodes are dropped.
func ExtractPlaySources(playURL, playFrom string, validate bool) []PlaySource {
	if playURL == "" {
		return []PlaySource{}
	}
	var names []string
	if playFrom != "" {
		names = strings.Split(playFrom, mirrorSep)
	}

	out := make([]PlaySource, 0)
	for i, chunk := range strings.Split(playURL, mirrorSep) {
		name := fmt.Sprintf(mirrorNameFormat, i+1)
		if i < len(names) && names[i] != "" {
			name = names[i]
		}

		episodes := lo.Uniq(lo.Map(episodeURLs(chunk), func(s string, _ int) string {
			return CleanLink(s)
		}))
		if validate {
			episodes = lo.Filter(episodes, func(s string, _ int) bool { return IsValidPlayURL(s) })
		}
		if len(episodes) == 0 {
			continue
		}
		out = append(out, PlaySource{Name: name, Episodes: episodes, Priority: CalculatePriority(name)})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// ExtractFallback scans free text for playable URLs. Order is kept and
// duplicates are not removed.
func ExtractFallback(content string) []string {
	var out []string
	for _, m := range anyURLRe.FindAllString(content, -1) {
		m = strings.TrimPrefix(m, "$")
		if IsValidPlayURL(m) {
			out = append(out, m)
		}
	}
	return out
}

// fallbackSources wraps episodes into a single low-priority mirror.
func fallbackSources(name string, episodes []string, priority int) []PlaySource {
	if len(episodes) == 0 {
		return []PlaySource{}
	}
	return []PlaySource{{Name: name, Episodes: episodes, Priority: priority}}
}
