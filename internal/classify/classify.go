// Package classify decides, from the state of the current page, whether a
// navigation landed where it should or hit one of the site's failure modes.
//
// Classification is heuristic: the rules match the site's current wording
// and markup, and will misclassify when either changes. When in doubt the
// classifier leans towards login_required, which stops the fetch instead of
// hammering the site.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ibeckermayer/tagscope/internal/browser"
)

// Classification is the verdict on the current page.
type Classification string

const (
	None          Classification = "none"
	LoginRequired Classification = "login_required"
	RateLimited   Classification = "rate_limited"
	Blocked       Classification = "blocked"
	DOMChanged    Classification = "dom_changed"
	Unknown       Classification = "unknown"
)

// Options are the escape hatches for callers who know the heuristics are
// misfiring in their environment.
type Options struct {
	SkipLoginCheck     bool
	SkipRateLimitCheck bool
	// LandmarkTimeout bounds the wait for an authenticated landmark.
	LandmarkTimeout time.Duration
}

// Classifier inspects a page against a rule table.
type Classifier struct {
	rules  Rules
	opts   Options
	logger *slog.Logger
}

// New creates a classifier.
func New(rules Rules, opts Options, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.LandmarkTimeout <= 0 {
		opts.LandmarkTimeout = 3 * time.Second
	}
	return &Classifier{
		rules:  rules,
		opts:   opts,
		logger: logger.With("component", "classifier"),
	}
}

// Rules returns the rule table in use.
func (c *Classifier) Rules() Rules {
	return c.rules
}

// Classify inspects page and returns the first matching verdict, checking
// login, then rate limiting, then blocking. A non-nil error means the page
// could not be inspected; the verdict is then Unknown.
func (c *Classifier) Classify(ctx context.Context, page browser.Surface) (Classification, error) {
	if !c.opts.SkipLoginCheck {
		ok, err := c.authenticated(ctx, page)
		if err != nil {
			return Unknown, err
		}
		if !ok {
			c.logger.WarnContext(ctx, "login session has expired")
			return LoginRequired, nil
		}
	}

	text, err := page.PageText(ctx)
	if err != nil {
		return Unknown, fmt.Errorf("classify: %w", err)
	}
	markup, err := page.PageMarkup(ctx)
	if err != nil {
		return Unknown, fmt.Errorf("classify: %w", err)
	}

	if !c.opts.SkipRateLimitCheck {
		if phrase, ok := matchPhrase(c.rules.RateLimitPhrases, text, markup); ok {
			c.logger.WarnContext(ctx, "rate limit detected", "phrase", phrase)
			return RateLimited, nil
		}
	}

	if phrase, ok := matchPhrase(c.rules.BlockPhrases, text, markup); ok {
		c.logger.WarnContext(ctx, "account appears blocked", "phrase", phrase)
		return Blocked, nil
	}

	return None, nil
}

// authenticated applies the login heuristic: the URL must not be a login
// or challenge page, and at least one signed-in landmark must be present.
func (c *Classifier) authenticated(ctx context.Context, page browser.Surface) (bool, error) {
	url, err := page.CurrentURL(ctx)
	if err != nil {
		return false, fmt.Errorf("classify: %w", err)
	}
	if c.rules.IsLoginURL(url) {
		return false, nil
	}
	if len(c.rules.AuthenticatedLandmarks) == 0 {
		return true, nil
	}

	// One combined query so the wait is paid once, not per landmark.
	locator := strings.Join(c.rules.AuthenticatedLandmarks, ", ")
	el, err := page.FindFirst(ctx, locator, c.opts.LandmarkTimeout)
	if err != nil {
		return false, fmt.Errorf("classify: %w", err)
	}
	return el != nil, nil
}

// ProbeDOM returns the names of expected selectors absent from page. A
// non-empty result on a page that classified as None suggests the site's
// markup has drifted from the extraction strategies.
func (c *Classifier) ProbeDOM(ctx context.Context, page browser.Surface) ([]string, error) {
	var missing []string
	for _, s := range c.rules.ExpectedSelectors {
		el, err := page.FindFirst(ctx, s.Selector, time.Second)
		if err != nil {
			return missing, err
		}
		if el == nil {
			missing = append(missing, s.Name)
		}
	}
	return missing, nil
}
