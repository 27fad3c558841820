package vod

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	yearRe       = regexp.MustCompile(`\d{4}`)
	tagRe        = regexp.MustCompile(`<[^>]+>`)
	newlinesRe   = regexp.MustCompile(`\n+`)
	blanksRe     = regexp.MustCompile(`[ \t]+`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// nowFunc is swapped in tests.
var nowFunc = time.Now

// ExtractYear returns the largest 4-digit year in s between 1900 and next
// year, or "" when there is none.
func ExtractYear(s string) string {
	maxYear := nowFunc().Year() + 1
	best := 0
	for _, m := range yearRe.FindAllString(s, -1) {
		y, err := strconv.Atoi(m)
		if err != nil || y < 1900 || y > maxYear {
			continue
		}
		if y > best {
			best = y
		}
	}
	if best == 0 {
		return ""
	}
	return strconv.Itoa(best)
}

// CleanDescription turns an HTML fragment into plain text: tags become line
// breaks, runs of blank lines and spaces collapse.
func CleanDescription(s string) string {
	if s == "" {
		return ""
	}
	s = tagRe.ReplaceAllString(s, "\n")
	s = newlinesRe.ReplaceAllString(s, "\n")
	s = blanksRe.ReplaceAllString(s, " ")
	s = strings.Trim(s, "\n")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.TrimSpace(s)
}

func normalizeTitle(s string) string {
	return whitespaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
}
