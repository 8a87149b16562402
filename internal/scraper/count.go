package scraper

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/ibeckermayer/tagscope/internal/browser"
)

var countPattern = regexp.MustCompile(`(\d[\d,]*(?:\.\d+)?)\s*(万|億|[kKmMbB]\b)?`)

// Encodings of the post count found in raw markup, tried in order when no
// element strategy produced a plausible count.
var markupCountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\d[\d,]*)\s*posts\b`),
	regexp.MustCompile(`(\d[\d,]*)\s*(?:件の)?投稿`),
	regexp.MustCompile(`投稿\s*(\d[\d,]*)`),
	regexp.MustCompile(`"edge_hashtag_to_media"\s*:\s*\{\s*"count"\s*:\s*(\d+)`),
	regexp.MustCompile(`"media_count"\s*:\s*(\d+)`),
}

var multipliers = map[string]float64{
	"k": 1e3,
	"m": 1e6,
	"b": 1e9,
	"万": 1e4,
	"億": 1e8,
}

// parseCount converts display numbers like "1,234,567", "1.2K", "5.7M" or
// "3.4万" to integers. It reads the first number in s and returns 0 when
// there is none.
func parseCount(s string) int {
	m := countPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0
	}

	value, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0
	}
	if mult, ok := multipliers[strings.ToLower(m[2])]; ok {
		value *= mult
	}
	return int(math.Round(value))
}

// plausibleCountText reports whether text looks like a post count rather
// than some other number on the page.
func plausibleCountText(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(text, ",") ||
		strings.Contains(lower, "post") ||
		strings.Contains(text, "投稿")
}

// countFromElements builds a strategy that reads the first element under
// locator whose text is a plausible, positive count.
func (s *Scraper) countFromElements(name, locator string) Strategy[int] {
	return Strategy[int]{
		Name: name,
		Run: func(ctx context.Context, page browser.Surface) (int, bool) {
			els, err := page.FindAll(ctx, locator, s.opts.FindTimeout)
			if err != nil {
				return 0, false
			}
			for _, el := range els {
				text, err := page.Text(ctx, el)
				if err != nil || !plausibleCountText(text) {
					continue
				}
				if n := parseCount(text); n > 0 {
					return n, true
				}
			}
			return 0, false
		},
	}
}

func (s *Scraper) countFromMarkup() Strategy[int] {
	return Strategy[int]{
		Name: "markup",
		Run: func(ctx context.Context, page browser.Surface) (int, bool) {
			markup, err := page.PageMarkup(ctx)
			if err != nil {
				return 0, false
			}
			for _, re := range markupCountPatterns {
				if m := re.FindStringSubmatch(markup); m != nil {
					if n := parseCount(m[1]); n > 0 {
						return n, true
					}
				}
			}
			return 0, false
		},
	}
}

func (s *Scraper) countStrategies() []Strategy[int] {
	return []Strategy[int]{
		s.countFromElements("header-span", CountHeaderSpan),
		s.countFromElements("class-span", CountClassSpan),
		s.countFromElements("header-div-span", CountHeaderDiv),
		s.countFromElements("any-span", CountSpan),
		s.countFromMarkup(),
	}
}

// ExtractCount returns the topic's post count, or 0 when no strategy finds
// one. The error is non-nil only when ctx ends.
func (s *Scraper) ExtractCount(ctx context.Context, page browser.Surface) (int, error) {
	n, name, err := FirstSuccess(ctx, page, s.countStrategies())
	if err != nil {
		return 0, err
	}
	if name == "" {
		s.logger.WarnContext(ctx, "post count not found")
		return 0, nil
	}
	s.logger.DebugContext(ctx, "post count extracted", "strategy", name, "count", n)
	return n, nil
}
