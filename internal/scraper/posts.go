package scraper

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/ibeckermayer/tagscope/internal/browser"
	"github.com/ibeckermayer/tagscope/internal/types"
)

// PostLink identifies one post found on a topic page.
type PostLink struct {
	ID   string
	URL  string
	Reel bool
}

var digitPattern = regexp.MustCompile(`\d`)

// Hidden like counts read "Liked by x and others" with no number.
var hiddenLikesMarkers = []string{"others", "その他", "他"}

// parsePostLink extracts the post identifier from href, which may be
// relative or absolute and may carry a username segment before the kind.
func (s *Scraper) parsePostLink(href string) (PostLink, bool) {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return PostLink{}, false
	}
	segments := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	for i := 0; i+1 < len(segments); i++ {
		if !slices.Contains(postPathKinds, segments[i]) {
			continue
		}
		id := segments[i+1]
		return PostLink{
			ID:   id,
			URL:  fmt.Sprintf("%s/%s/%s/", strings.TrimRight(s.opts.BaseURL, "/"), segments[i], id),
			Reel: segments[i] == "reel",
		}, true
	}
	return PostLink{}, false
}

func (s *Scraper) postLinksFrom(name, locator string, limit int) Strategy[[]PostLink] {
	return Strategy[[]PostLink]{
		Name: name,
		Run: func(ctx context.Context, page browser.Surface) ([]PostLink, bool) {
			els, err := page.FindAll(ctx, locator, s.opts.FindTimeout)
			if err != nil {
				return nil, false
			}

			var links []PostLink
			seen := map[string]bool{}
			for _, el := range els {
				if len(links) >= limit {
					break
				}
				href, ok := page.Attribute(el, "href")
				if !ok {
					continue
				}
				link, ok := s.parsePostLink(href)
				if !ok || seen[link.ID] {
					continue
				}
				seen[link.ID] = true
				links = append(links, link)
			}
			return links, len(links) > 0
		},
	}
}

// ExtractPostLinks returns up to limit distinct post links from the topic
// page, in page order.
func (s *Scraper) ExtractPostLinks(ctx context.Context, page browser.Surface, limit int) ([]PostLink, error) {
	if limit <= 0 {
		return nil, nil
	}

	// Nudge lazy-loaded grids; surfaces without scripting just skip this.
	if err := page.ExecuteScript(ctx, `window.scrollTo(0, 500)`, nil); err == nil {
		if err := s.opts.Sleep(ctx, s.human(s.opts.ScrollPauseMin, s.opts.ScrollPauseMax)); err != nil {
			return nil, err
		}
	}

	strategies := []Strategy[[]PostLink]{
		s.postLinksFrom("article-links", ArticlePostLink, limit),
		s.postLinksFrom("grid-links", GridPostLink, limit),
		s.postLinksFrom("any-post-links", AnyPostLink, limit),
	}
	links, name, err := FirstSuccess(ctx, page, strategies)
	if err != nil {
		return nil, err
	}
	if name == "" {
		s.logger.WarnContext(ctx, "no post links found")
		return nil, nil
	}
	s.logger.DebugContext(ctx, "post links extracted", "strategy", name, "count", len(links))
	return links, nil
}

// ExtractPost visits link and extracts its record. The page is left on the
// post; callers navigate back themselves.
func (s *Scraper) ExtractPost(ctx context.Context, page browser.Surface, link PostLink) (types.PostRecord, error) {
	if err := page.Navigate(ctx, link.URL); err != nil {
		return types.PostRecord{}, fmt.Errorf("open post %s: %w", link.ID, err)
	}
	if err := s.opts.Sleep(ctx, s.human(s.opts.PostSettleMin, s.opts.PostSettleMax)); err != nil {
		return types.PostRecord{}, err
	}

	rec := types.PostRecord{
		URL:    link.URL,
		PostID: link.ID,
		Tags:   []string{},
	}

	rec.Kind, rec.MediaURL = s.media(ctx, page, link)
	if rec.Caption = s.caption(ctx, page); rec.Caption != nil {
		rec.Tags = ExtractTags(*rec.Caption)
	}
	rec.Likes = s.likes(ctx, page)
	rec.PublishedAt = s.publishedAt(ctx, page)

	if err := ctx.Err(); err != nil {
		return types.PostRecord{}, err
	}
	return rec, nil
}

// media decides the post kind and its primary media URL. A video element
// wins over everything else and contributes its poster frame.
func (s *Scraper) media(ctx context.Context, page browser.Surface, link PostLink) (types.MediaKind, *string) {
	if el, _ := page.FindFirst(ctx, PostVideo, s.opts.FindTimeout); el != nil {
		src, ok := page.Attribute(el, "poster")
		if !ok || src == "" {
			src, _ = page.Attribute(el, "src")
		}
		return types.KindVideo, types.StringPtr(src)
	}

	kind := types.KindImage
	switch {
	case link.Reel:
		kind = types.KindReel
	case s.exists(ctx, page, CarouselIndicator):
		kind = types.KindCarousel
	}

	if el, _ := page.FindFirst(ctx, PostImage, s.opts.FindTimeout); el != nil {
		if src, ok := page.Attribute(el, "src"); ok && src != "" {
			return kind, &src
		}
	}
	if el, _ := page.FindFirst(ctx, OpenGraphImage, s.opts.FindTimeout); el != nil {
		src, _ := page.Attribute(el, "content")
		return kind, types.StringPtr(src)
	}
	return kind, nil
}

func (s *Scraper) caption(ctx context.Context, page browser.Surface) *string {
	read := func(name, locator, attr string) Strategy[string] {
		return Strategy[string]{
			Name: name,
			Run: func(ctx context.Context, page browser.Surface) (string, bool) {
				els, err := page.FindAll(ctx, locator, s.opts.FindTimeout)
				if err != nil {
					return "", false
				}
				for _, el := range els {
					var text string
					if attr != "" {
						text, _ = page.Attribute(el, attr)
						text = strings.Join(strings.Fields(text), " ")
					} else if text, err = page.Text(ctx, el); err != nil {
						continue
					}
					if s.plausibleCaption(text) {
						return text, true
					}
				}
				return "", false
			},
		}
	}

	text, name, err := FirstSuccess(ctx, page, []Strategy[string]{
		read("heading", CaptionHeading, ""),
		read("class-span", CaptionClassSpan, ""),
		read("comment-list", CaptionListSpan, ""),
		read("og-description", OpenGraphDesc, "content"),
	})
	if err != nil || name == "" {
		return nil
	}
	text = truncateRunes(text, s.opts.MaxCaptionLength)
	return &text
}

func (s *Scraper) plausibleCaption(text string) bool {
	return len([]rune(text)) >= s.opts.MinCaptionLength && text != "Instagram"
}

// likes returns the like count, nil when the post hides it, or 0 when no
// like element could be found.
func (s *Scraper) likes(ctx context.Context, page browser.Surface) *int {
	read := func(name, locator string) Strategy[int] {
		return Strategy[int]{
			Name: name,
			Run: func(ctx context.Context, page browser.Surface) (int, bool) {
				els, err := page.FindAll(ctx, locator, s.opts.FindTimeout)
				if err != nil {
					return 0, false
				}
				for _, el := range els {
					text, err := page.Text(ctx, el)
					if err != nil || !digitPattern.MatchString(text) {
						continue
					}
					lower := strings.ToLower(text)
					if name == "section-span" && !strings.Contains(lower, "like") && !strings.Contains(text, "いいね") {
						continue
					}
					return parseCount(text), true
				}
				return 0, false
			},
		}
	}

	n, name, err := FirstSuccess(ctx, page, []Strategy[int]{
		read("class-span", LikesClassSpan),
		read("liked-by-span", LikedBySpan),
		read("liked-by-link", LikedByLink),
		read("section-span", LikesSectionSpan),
	})
	if err != nil {
		return nil
	}
	if name != "" {
		return &n
	}

	if el, _ := page.FindFirst(ctx, LikedByLink, s.opts.FindTimeout); el != nil {
		if text, err := page.Text(ctx, el); err == nil {
			for _, m := range hiddenLikesMarkers {
				if strings.Contains(text, m) {
					return nil
				}
			}
		}
	}
	zero := 0
	return &zero
}

func (s *Scraper) publishedAt(ctx context.Context, page browser.Surface) *string {
	el, _ := page.FindFirst(ctx, PostTimestamp, s.opts.FindTimeout)
	if el == nil {
		return nil
	}
	v, _ := page.Attribute(el, "datetime")
	return types.StringPtr(v)
}

func (s *Scraper) exists(ctx context.Context, page browser.Surface, locator string) bool {
	el, err := page.FindFirst(ctx, locator, s.opts.FindTimeout)
	return err == nil && el != nil
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
