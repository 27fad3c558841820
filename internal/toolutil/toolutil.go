// Package toolutil provides shared helper functions for go_vod MCP tools.
package toolutil

import (
	"strings"

	"github.com/anatolykoptev/go-kit/strutil"
	"github.com/samber/lo"
)

// TruncateRunes caps s at limit runes, appending suffix if truncated.
// Pass suffix="" for no suffix. Safe for UTF-8 (CJK titles, emoji).
func TruncateRunes(s string, limit int, suffix string) string {
	return strutil.TruncateWith(s, limit, suffix)
}

// ClampInt returns v limited to [lo, hi]; def is used when v <= 0.
func ClampInt(v, def, low, high int) int {
	if v <= 0 {
		v = def
	}
	return max(low, min(high, v))
}

// CompactStrings trims every item and drops blanks and repeats,
// keeping first-seen order.
func CompactStrings(items []string) []string {
	trimmed := lo.Map(items, func(s string, _ int) string { return strings.TrimSpace(s) })
	return lo.Uniq(lo.Compact(trimmed))
}
