package scraper

import (
	"context"
	"net/url"
	"strings"

	"github.com/ibeckermayer/tagscope/internal/browser"
)

// MaxRelated caps the related topics kept per record.
const MaxRelated = 10

// tagFromHref returns the decoded topic name from a tag page link, or ""
// when href does not point at a tag page.
func tagFromHref(href string) string {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	path := u.EscapedPath()
	i := strings.Index(path, TagPathPrefix)
	if i < 0 {
		return ""
	}
	rest := path[i+len(TagPathPrefix):]
	if j := strings.Index(rest, "/"); j >= 0 {
		rest = rest[:j]
	}
	name, err := url.PathUnescape(rest)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(name)
}

// relatedFromAnchors builds a strategy that collects distinct tag names
// linked from the elements under locator. When requireHash is set, only
// anchors whose text carries a "#" are considered.
func (s *Scraper) relatedFromAnchors(name, locator, topic string, requireHash bool) Strategy[[]string] {
	return Strategy[[]string]{
		Name: name,
		Run: func(ctx context.Context, page browser.Surface) ([]string, bool) {
			els, err := page.FindAll(ctx, locator, s.opts.FindTimeout)
			if err != nil {
				return nil, false
			}

			var tags []string
			seen := map[string]bool{strings.ToLower(topic): true}
			for _, el := range els {
				if len(tags) >= MaxRelated {
					break
				}
				if requireHash {
					text, err := page.Text(ctx, el)
					if err != nil || !strings.Contains(text, "#") {
						continue
					}
				}
				href, ok := page.Attribute(el, "href")
				if !ok {
					continue
				}
				tag := tagFromHref(href)
				key := strings.ToLower(tag)
				if tag == "" || seen[key] {
					continue
				}
				seen[key] = true
				tags = append(tags, tag)
			}
			return tags, len(tags) > 0
		},
	}
}

// ExtractRelated returns the distinct related topics linked from the topic
// page, excluding topic itself and capped at MaxRelated. It returns an
// empty slice when no strategy finds any.
func (s *Scraper) ExtractRelated(ctx context.Context, page browser.Surface, topic string) ([]string, error) {
	strategies := []Strategy[[]string]{
		s.relatedFromAnchors("tag-anchors", TagAnchor, topic, false),
		s.relatedFromAnchors("related-section", RelatedSection, topic, false),
		s.relatedFromAnchors("hash-span-anchors", HashSpanAnchor, topic, true),
	}

	tags, name, err := FirstSuccess(ctx, page, strategies)
	if err != nil {
		return []string{}, err
	}
	if name == "" {
		s.logger.DebugContext(ctx, "no related tags found")
		return []string{}, nil
	}
	s.logger.DebugContext(ctx, "related tags extracted", "strategy", name, "count", len(tags))
	return tags, nil
}
