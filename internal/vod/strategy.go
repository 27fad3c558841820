package vod

import (
	"regexp"
	"strings"

	"github.com/samber/lo"
)

// LinkStrategy is one tier of HTML link extraction. When Pattern has a
// capture group the first group is the link, otherwise the whole match.
type LinkStrategy struct {
	Name    string
	Pattern *regexp.Regexp
}

// GenericStrategy matches any http(s) URL.
var GenericStrategy = LinkStrategy{Name: "generic", Pattern: anyURLRe}

var looseM3U8Re = regexp.MustCompile(`\$(https?://[^"'\s]+?\.m3u8)`)

// LooseStrategy matches any "$"-prefixed m3u8 URL.
var LooseStrategy = LinkStrategy{Name: "loose", Pattern: looseM3U8Re}

func (s LinkStrategy) find(html string) []string {
	if s.Pattern.NumSubexp() == 0 {
		return s.Pattern.FindAllString(html, -1)
	}
	var out []string
	for _, m := range s.Pattern.FindAllStringSubmatch(html, -1) {
		out = append(out, m[1])
	}
	return out
}

// ExtractWithStrategies runs strategies in order and stops at the first one
// that matches anything. The generic any-URL scan runs last when none match.
// Links are cleaned, then deduplicated and validated.
func ExtractWithStrategies(html string, strategies ...LinkStrategy) []string {
	tiers := append(append([]LinkStrategy{}, strategies...), GenericStrategy)
	var matches []string
	for _, s := range tiers {
		if matches = s.find(html); len(matches) > 0 {
			break
		}
	}
	cleaned := lo.Uniq(lo.Map(matches, func(m string, _ int) string {
		return CleanLink(strings.TrimSpace(m))
	}))
	return lo.Filter(cleaned, func(u string, _ int) bool { return IsValidPlayURL(u) })
}
