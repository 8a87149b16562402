package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ibeckermayer/tagscope/internal/auth"
	"github.com/ibeckermayer/tagscope/internal/classify"
	"github.com/ibeckermayer/tagscope/internal/scraper"
	"github.com/ibeckermayer/tagscope/internal/types"
)

type state int

const (
	stateIdle state = iota
	stateNavigating
	stateClassifying
	stateExtracting
	stateBackoff
	stateDone
	stateTerminal
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateNavigating:
		return "navigating"
	case stateClassifying:
		return "classifying"
	case stateExtracting:
		return "extracting"
	case stateBackoff:
		return "backoff"
	case stateDone:
		return "done"
	case stateTerminal:
		return "terminal"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s state) final() bool {
	return s == stateDone || s == stateTerminal
}

// machine is one topic fetch in progress. It is driven by run and mutated
// only by step.
type machine struct {
	f      *Fetcher
	sess   *auth.Session
	rec    *types.TopicRecord
	opts   Options
	logger *slog.Logger

	state   state
	attempt int
	// cause is the transient failure that sent the machine to backoff.
	cause  error
	result *scraper.Result
}

// run steps the machine until it reaches a final state. Cancellation is
// checked before every transition, so an in-flight browser action always
// finishes and the machine stops on a state boundary.
func (m *machine) run(ctx context.Context) {
	for !m.state.final() {
		if err := ctx.Err(); err != nil {
			m.logger.WarnContext(ctx, "fetch cancelled", "state", m.state, "attempt", m.attempt)
			m.terminate(fmt.Sprintf("fetch cancelled: %v", err))
			break
		}
		from := m.state
		next := m.step(ctx)
		m.logger.DebugContext(ctx, "transition", "from", from, "to", next, "attempt", m.attempt)
		m.state = next
	}

	if m.state == stateDone {
		m.logger.InfoContext(ctx, "fetch complete",
			"count", m.rec.Count, "related", len(m.rec.Related), "posts", len(m.rec.Posts), "attempts", m.attempt+1)
	} else {
		m.logger.ErrorContext(ctx, "fetch failed", "error", m.rec.ErrorMessage(), "attempts", m.attempt+1)
	}
}

// step performs the work of the current state and returns the next one.
func (m *machine) step(ctx context.Context) state {
	page := m.sess.Page

	switch m.state {
	case stateIdle:
		m.logger.InfoContext(ctx, "fetching topic", "url", m.rec.URL, "max_retries", m.opts.MaxRetries, "max_posts", m.opts.MaxPosts)
		return stateNavigating

	case stateNavigating:
		if err := page.Navigate(ctx, m.rec.URL); err != nil {
			return m.retry(ctx, fmt.Errorf("%w: navigate: %w", ErrUnexpected, err))
		}
		// A cancelled settle is caught before the next transition.
		_ = m.f.cfg.Sleep(ctx, m.f.cfg.Human(m.f.cfg.SettleMin, m.f.cfg.SettleMax))
		return stateClassifying

	case stateClassifying:
		verdict, err := m.f.classifier.Classify(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				return stateClassifying
			}
			return m.retry(ctx, fmt.Errorf("%w: classify: %w", ErrUnexpected, err))
		}
		return m.onVerdict(ctx, verdict)

	case stateExtracting:
		res, err := m.f.extractor.Extract(ctx, page, m.rec.Topic, m.rec.URL, m.opts.MaxPosts)
		if err != nil {
			if ctx.Err() != nil {
				return stateExtracting
			}
			return m.retry(ctx, fmt.Errorf("%w: extract: %w", ErrUnexpected, err))
		}
		m.result = res
		m.complete(ctx)
		return stateDone

	case stateBackoff:
		d := m.f.cfg.Delay(m.attempt)
		m.logger.WarnContext(ctx, "backing off before retry", "attempt", m.attempt, "delay", d, "cause", m.cause)
		if err := m.f.cfg.Sleep(ctx, d); err != nil {
			return stateBackoff
		}
		m.attempt++
		return stateNavigating
	}

	panic(fmt.Sprintf("fetch: step called in final state %s", m.state))
}

// onVerdict maps a classification to the next state. Login and block
// verdicts end the fetch at once: neither clears by retrying.
func (m *machine) onVerdict(ctx context.Context, verdict classify.Classification) state {
	switch verdict {
	case classify.None:
		return stateExtracting
	case classify.LoginRequired:
		m.sess.MarkUnauthenticated()
		return m.terminateFor(verdict, "")
	case classify.Blocked, classify.DOMChanged:
		return m.terminateFor(verdict, "")
	case classify.RateLimited:
		if m.attemptsLeft() {
			m.cause = errors.New("rate limited")
			return stateBackoff
		}
		return m.terminateFor(verdict, fmt.Sprintf("after %d attempts", m.attempt+1))
	default:
		return m.retry(ctx, fmt.Errorf("%w: site reported an unknown error", ErrUnexpected))
	}
}

// retry schedules another attempt for a transient failure, or ends the
// fetch with the failure text when attempts have run out.
func (m *machine) retry(ctx context.Context, cause error) state {
	m.logger.WarnContext(ctx, "attempt failed", "attempt", m.attempt, "error", cause)
	if m.attemptsLeft() {
		m.cause = cause
		return stateBackoff
	}
	m.terminate(cause.Error())
	return stateTerminal
}

func (m *machine) attemptsLeft() bool {
	return m.attempt+1 < m.opts.MaxRetries
}

func (m *machine) terminateFor(verdict classify.Classification, detail string) state {
	s := classify.SuggestionFor(verdict)
	msg := fmt.Sprintf("%s: %s", verdict, s.Message)
	if detail != "" {
		msg += " " + detail
	}
	msg += "; " + s.Action
	m.terminate(msg)
	return stateTerminal
}

func (m *machine) terminate(msg string) {
	m.rec.SetError(msg)
	m.state = stateTerminal
}

// complete copies the extraction result into the record, enforcing the
// record's bounds.
func (m *machine) complete(ctx context.Context) {
	res := m.result
	m.rec.Count = max(res.Count, 0)

	m.rec.Related = dedupe(res.Related, scraper.MaxRelated, func(s string) string { return s })
	m.rec.Posts = dedupe(res.Posts, m.opts.MaxPosts, func(p types.PostRecord) string { return p.PostID })
	m.rec.Error = nil

	if m.rec.Count == 0 && len(m.rec.Related) == 0 && len(m.rec.Posts) == 0 {
		missing, err := m.f.classifier.ProbeDOM(ctx, m.sess.Page)
		if err == nil && len(missing) > 0 {
			m.logger.WarnContext(ctx, "page structure may have changed",
				"classification", classify.DOMChanged, "missing", missing)
		}
	}
}

func dedupe[T any](items []T, limit int, key func(T) string) []T {
	out := make([]T, 0, min(len(items), limit))
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if len(out) >= limit {
			break
		}
		k := key(it)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, it)
	}
	return out
}
