// Package fetch runs the per-topic fetch: navigate to the topic page, check
// what the site served, then extract, retry after a backoff, or give up.
//
// FetchTopic is the single entry point for everything outside the core. It
// always returns a record; expected failures are reported in the record's
// error field and only a browser that cannot start at all is returned as an
// error.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ibeckermayer/tagscope/internal/auth"
	"github.com/ibeckermayer/tagscope/internal/backoff"
	"github.com/ibeckermayer/tagscope/internal/browser"
	"github.com/ibeckermayer/tagscope/internal/classify"
	"github.com/ibeckermayer/tagscope/internal/scraper"
	"github.com/ibeckermayer/tagscope/internal/types"
)

// ErrUnexpected wraps navigation, classification and extraction faults.
// They are retried like rate limits until attempts run out.
var ErrUnexpected = errors.New("unexpected failure")

const (
	DefaultMaxRetries = 3
	DefaultMaxPosts   = 20
)

// SessionSource hands out authenticated sessions.
type SessionSource interface {
	Acquire(ctx context.Context, headless bool) (*auth.Session, error)
}

// PageClassifier judges the page a navigation landed on.
type PageClassifier interface {
	Classify(ctx context.Context, page browser.Surface) (classify.Classification, error)
	ProbeDOM(ctx context.Context, page browser.Surface) ([]string, error)
}

// Extractor reads topic data off a loaded topic page.
type Extractor interface {
	Extract(ctx context.Context, page browser.Surface, topic, topicURL string, maxPosts int) (*scraper.Result, error)
}

// Options are the per-call knobs of a fetch.
type Options struct {
	Headless bool
	// MaxRetries bounds the attempts made; zero means DefaultMaxRetries.
	MaxRetries int
	// MaxPosts bounds the posts sampled; zero means DefaultMaxPosts.
	MaxPosts int
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.MaxPosts <= 0 {
		o.MaxPosts = DefaultMaxPosts
	}
	return o
}

// Config holds the Fetcher's pacing. Zero values take the defaults.
type Config struct {
	BaseURL string

	// Backoff computes the wait before retry attempt n+1 after attempt n.
	Backoff backoff.Policy
	// Delay overrides Backoff when set.
	Delay func(attempt int) time.Duration

	// Settle bounds the random wait after each navigation.
	SettleMin time.Duration
	SettleMax time.Duration

	Sleep backoff.Sleeper
	Human func(min, max time.Duration) time.Duration
	Now   func() time.Time
}

func (c *Config) setDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = scraper.DefaultBaseURL
	}
	if c.Delay == nil {
		c.Delay = c.Backoff.Delay
	}
	if c.SettleMin <= 0 {
		c.SettleMin = 4 * time.Second
	}
	if c.SettleMax < c.SettleMin {
		c.SettleMax = c.SettleMin + 2*time.Second
	}
	if c.Sleep == nil {
		c.Sleep = backoff.Sleep
	}
	if c.Human == nil {
		c.Human = backoff.Human
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Fetcher ties sessions, classification and extraction together.
type Fetcher struct {
	sessions   SessionSource
	classifier PageClassifier
	extractor  Extractor
	cfg        Config
	logger     *slog.Logger
}

// New creates a Fetcher.
func New(sessions SessionSource, classifier PageClassifier, extractor Extractor, cfg Config, logger *slog.Logger) *Fetcher {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		sessions:   sessions,
		classifier: classifier,
		extractor:  extractor,
		cfg:        cfg,
		logger:     logger.With("component", "fetch"),
	}
}

// FetchTopic acquires a session, fetches topic and releases the session.
//
// The record is always non-nil unless the error is. A session that cannot
// be established becomes a record error; a browser that cannot be started
// is returned as an error wrapping browser.ErrLaunch.
func (f *Fetcher) FetchTopic(ctx context.Context, topic string, opts Options) (*types.TopicRecord, error) {
	rec, ok := f.newRecord(topic)
	if !ok {
		return rec, nil
	}

	sess, err := f.sessions.Acquire(ctx, opts.Headless)
	if err != nil {
		if errors.Is(err, browser.ErrLaunch) {
			return nil, err
		}
		f.logger.ErrorContext(ctx, "session unavailable", "topic", rec.Topic, "error", err)
		rec.SetError(err.Error())
		return rec, nil
	}
	defer func() {
		if err := sess.Close(); err != nil {
			f.logger.WarnContext(ctx, "failed to close session", "error", err)
		}
	}()

	return f.run(ctx, sess, rec, opts), nil
}

// FetchWithSession fetches topic on an already acquired session, which the
// caller keeps ownership of. Sessions must not be shared between concurrent
// fetches.
func (f *Fetcher) FetchWithSession(ctx context.Context, sess *auth.Session, topic string, opts Options) *types.TopicRecord {
	rec, ok := f.newRecord(topic)
	if !ok {
		return rec
	}
	return f.run(ctx, sess, rec, opts)
}

func (f *Fetcher) newRecord(topic string) (*types.TopicRecord, bool) {
	name := scraper.NormalizeTopic(topic)
	rec := types.NewTopicRecord(name, scraper.TopicURL(f.cfg.BaseURL, name), f.cfg.Now())
	if name == "" {
		rec.URL = ""
		rec.SetError(fmt.Sprintf("invalid topic %q: empty name", topic))
		return rec, false
	}
	return rec, true
}

func (f *Fetcher) run(ctx context.Context, sess *auth.Session, rec *types.TopicRecord, opts Options) *types.TopicRecord {
	m := &machine{
		f:      f,
		sess:   sess,
		rec:    rec,
		opts:   opts.withDefaults(),
		logger: f.logger.With("topic", rec.Topic),
	}
	m.run(ctx)
	return rec
}
