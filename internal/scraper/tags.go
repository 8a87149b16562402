package scraper

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultBaseURL is the site root topic and post URLs are built from.
const DefaultBaseURL = "https://www.instagram.com"

const (
	tagMarker           = '#'
	trailingPunctuation = ".,!?;:、。！？"
)

// ExtractTags returns the distinct hashtags in text, in order of first
// appearance and with their "#" marker. A tag starts at a marker and runs to
// the next whitespace or marker, so "text#art" yields "#art". Trailing
// punctuation is dropped, as are tags of a single character.
func ExtractTags(text string) []string {
	tags := []string{}
	seen := map[string]bool{}

	add := func(body string) {
		body = strings.TrimRight(body, trailingPunctuation)
		if utf8.RuneCountInString(body) <= 1 {
			return
		}
		tag := string(tagMarker) + body
		if seen[tag] {
			return
		}
		seen[tag] = true
		tags = append(tags, tag)
	}

	var body strings.Builder
	inTag := false
	for _, r := range text {
		switch {
		case r == tagMarker:
			if inTag {
				add(body.String())
			}
			body.Reset()
			inTag = true
		case unicode.IsSpace(r):
			if inTag {
				add(body.String())
			}
			body.Reset()
			inTag = false
		case inTag:
			body.WriteRune(r)
		}
	}
	if inTag {
		add(body.String())
	}
	return tags
}

// NormalizeTopic strips surrounding whitespace and any leading "#" markers.
func NormalizeTopic(topic string) string {
	return strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(topic), "#"))
}

// TopicURL returns the canonical tag page URL for topic under base.
func TopicURL(base, topic string) string {
	if base == "" {
		base = DefaultBaseURL
	}
	return strings.TrimRight(base, "/") + fmt.Sprintf(TopicPathPattern, url.PathEscape(NormalizeTopic(topic)))
}
