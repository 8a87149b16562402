// Package scraper extracts topic metadata from a loaded tag page: the post
// count, related topics, and a sample of recent posts.
//
// Every field is read through an ordered list of strategies and the first
// plausible result wins. A field no strategy can read degrades to its empty
// value instead of failing the extraction.
package scraper

import (
	"context"
	"log/slog"
	"time"

	"github.com/ibeckermayer/tagscope/internal/backoff"
	"github.com/ibeckermayer/tagscope/internal/browser"
	"github.com/ibeckermayer/tagscope/internal/types"
)

// Options tune the extractor's waits. Zero values take the defaults.
type Options struct {
	BaseURL     string
	FindTimeout time.Duration

	// Pause after visiting a post before reading it.
	PostSettleMin time.Duration
	PostSettleMax time.Duration

	// Pause after scrolling the topic grid.
	ScrollPauseMin time.Duration
	ScrollPauseMax time.Duration

	MinCaptionLength int
	MaxCaptionLength int

	// Sleep waits between steps. Tests replace it to run instantly.
	Sleep backoff.Sleeper
	// Human picks a duration in [min, max).
	Human func(min, max time.Duration) time.Duration
}

func (o *Options) setDefaults() {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	if o.FindTimeout <= 0 {
		o.FindTimeout = browser.DefaultFindTimeout
	}
	if o.PostSettleMin <= 0 {
		o.PostSettleMin = 2 * time.Second
	}
	if o.PostSettleMax < o.PostSettleMin {
		o.PostSettleMax = 2 * o.PostSettleMin
	}
	if o.ScrollPauseMin <= 0 {
		o.ScrollPauseMin = 2 * time.Second
	}
	if o.ScrollPauseMax < o.ScrollPauseMin {
		o.ScrollPauseMax = o.ScrollPauseMin + time.Second
	}
	if o.MinCaptionLength <= 0 {
		o.MinCaptionLength = 5
	}
	if o.MaxCaptionLength <= 0 {
		o.MaxCaptionLength = 1000
	}
	if o.Sleep == nil {
		o.Sleep = backoff.Sleep
	}
	if o.Human == nil {
		o.Human = backoff.Human
	}
}

// Scraper handles extracting topic data from a browser surface
type Scraper struct {
	opts   Options
	logger *slog.Logger
}

// New creates a new scraper
func New(opts Options, logger *slog.Logger) *Scraper {
	opts.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scraper{opts: opts, logger: logger.With("component", "scraper")}
}

// Result is the data read from one topic page.
type Result struct {
	Count   int
	Related []string
	Posts   []types.PostRecord
}

// Extract reads count, related topics and up to maxPosts posts from the
// topic page page is currently on. Post pages are visited one by one and
// the surface is returned to topicURL afterwards. A post that cannot be
// read is logged and skipped.
//
// The returned error is non-nil only when ctx ends; partial results are
// then discarded.
func (s *Scraper) Extract(ctx context.Context, page browser.Surface, topic, topicURL string, maxPosts int) (*Result, error) {
	logger := s.logger.With("topic", topic)

	count, err := s.ExtractCount(ctx, page)
	if err != nil {
		return nil, err
	}
	related, err := s.ExtractRelated(ctx, page, topic)
	if err != nil {
		return nil, err
	}
	links, err := s.ExtractPostLinks(ctx, page, maxPosts)
	if err != nil {
		return nil, err
	}

	posts := make([]types.PostRecord, 0, len(links))
	for i, link := range links {
		post, err := s.ExtractPost(ctx, page, link)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			logger.WarnContext(ctx, "skipping post", "post", link.ID, "error", err)
			continue
		}
		logger.DebugContext(ctx, "post extracted", "index", i+1, "of", len(links), "post", link.ID, "kind", post.Kind)
		posts = append(posts, post)
	}

	if len(links) > 0 {
		if err := page.Navigate(ctx, topicURL); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			logger.WarnContext(ctx, "failed to return to topic page", "error", err)
		}
	}

	logger.InfoContext(ctx, "topic extracted", "count", count, "related", len(related), "posts", len(posts))
	return &Result{Count: count, Related: related, Posts: posts}, nil
}

func (s *Scraper) human(min, max time.Duration) time.Duration {
	return s.opts.Human(min, max)
}
