// Package batch fetches a list of topics one after another on a single
// session, pacing requests and persisting each record as it arrives.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ibeckermayer/tagscope/internal/auth"
	"github.com/ibeckermayer/tagscope/internal/browser"
	"github.com/ibeckermayer/tagscope/internal/classify"
	"github.com/ibeckermayer/tagscope/internal/fetch"
	"github.com/ibeckermayer/tagscope/internal/store"
	"github.com/ibeckermayer/tagscope/internal/types"
)

// SessionSource hands out authenticated sessions.
type SessionSource interface {
	Acquire(ctx context.Context, headless bool) (*auth.Session, error)
}

// TopicFetcher fetches one topic on a caller-owned session.
type TopicFetcher interface {
	FetchWithSession(ctx context.Context, sess *auth.Session, topic string, opts fetch.Options) *types.TopicRecord
}

// Recorder persists runs and their records.
type Recorder interface {
	StartRun(ctx context.Context, id string, startedAt time.Time, topics int) error
	FinishRun(ctx context.Context, run store.Run) error
	SaveRecord(ctx context.Context, runID string, rec *types.TopicRecord) (int64, error)
}

// Options configure a Runner.
type Options struct {
	Fetch fetch.Options
	// Interval is the minimum spacing between topic fetches.
	Interval time.Duration
	// ContinueOnStop keeps going after a login_required or blocked record.
	ContinueOnStop bool
	// ExportDir receives a JSON copy of every record when non-empty.
	ExportDir string
	// Progress, when set, is called after each topic.
	Progress func(done, total int, rec *types.TopicRecord)
}

// Stats summarize one batch run.
type Stats struct {
	RunID      string
	Total      int
	Succeeded  int
	Failed     int
	Skipped    int
	StoppedBy  classify.Classification
	StartedAt  time.Time
	FinishedAt time.Time
	Records    []*types.TopicRecord
}

// Duration returns how long the run took.
func (s *Stats) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Runner executes batch runs.
type Runner struct {
	sessions SessionSource
	fetcher  TopicFetcher
	recorder Recorder
	opts     Options
	logger   *slog.Logger

	now   func() time.Time
	newID func() string
}

// New creates a Runner.
func New(sessions SessionSource, fetcher TopicFetcher, recorder Recorder, opts Options, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		sessions: sessions,
		fetcher:  fetcher,
		recorder: recorder,
		opts:     opts,
		logger:   logger.With("component", "batch"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Run fetches topics in order on one session. Records are saved as they
// complete; a failure to save is logged and does not stop the run.
//
// A session that cannot be established fails the whole run. After a
// login_required or blocked record the remaining topics are skipped unless
// ContinueOnStop is set, since neither condition clears by itself.
func (r *Runner) Run(ctx context.Context, topics []string) (*Stats, error) {
	if len(topics) == 0 {
		return nil, ErrNoTopics
	}

	stats := &Stats{
		RunID:     r.newID(),
		Total:     len(topics),
		StartedAt: r.now(),
	}
	logger := r.logger.With("run_id", stats.RunID)
	logger.InfoContext(ctx, "batch started", "topics", len(topics), "interval", r.opts.Interval)

	if err := r.recorder.StartRun(ctx, stats.RunID, stats.StartedAt, len(topics)); err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	defer r.finish(ctx, logger, stats)

	sess, err := r.sessions.Acquire(ctx, r.opts.Fetch.Headless)
	if err != nil {
		stats.Skipped = len(topics)
		if errors.Is(err, browser.ErrLaunch) {
			return stats, err
		}
		return stats, fmt.Errorf("acquire session: %w", err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.WarnContext(ctx, "failed to close session", "error", err)
		}
	}()

	limiter := rate.NewLimiter(rate.Inf, 1)
	if r.opts.Interval > 0 {
		limiter = rate.NewLimiter(rate.Every(r.opts.Interval), 1)
	}

	for i, topic := range topics {
		if err := limiter.Wait(ctx); err != nil {
			stats.Skipped = len(topics) - i
			logger.WarnContext(ctx, "batch interrupted", "remaining", stats.Skipped, "error", err)
			return stats, ctx.Err()
		}

		logger.InfoContext(ctx, "fetching", "topic", topic, "index", i+1, "total", len(topics))
		rec := r.fetcher.FetchWithSession(ctx, sess, topic, r.opts.Fetch)
		stats.Records = append(stats.Records, rec)
		r.save(ctx, logger, stats.RunID, rec)

		if rec.Failed() {
			stats.Failed++
		} else {
			stats.Succeeded++
		}
		if r.opts.Progress != nil {
			r.opts.Progress(i+1, len(topics), rec)
		}

		if verdict := stopVerdict(rec); verdict != "" && !r.opts.ContinueOnStop {
			stats.StoppedBy = verdict
			stats.Skipped = len(topics) - i - 1
			logger.ErrorContext(ctx, "stopping batch", "topic", rec.Topic, "classification", verdict,
				"skipped", stats.Skipped, "hint", classify.SuggestionFor(verdict).Action)
			break
		}
	}

	return stats, nil
}

func (r *Runner) save(ctx context.Context, logger *slog.Logger, runID string, rec *types.TopicRecord) {
	if _, err := r.recorder.SaveRecord(ctx, runID, rec); err != nil {
		logger.ErrorContext(ctx, "failed to save record", "topic", rec.Topic, "error", err)
	}
	if r.opts.ExportDir == "" {
		return
	}
	path, err := store.ExportRecord(r.opts.ExportDir, rec)
	if err != nil {
		logger.ErrorContext(ctx, "failed to export record", "topic", rec.Topic, "error", err)
		return
	}
	logger.DebugContext(ctx, "record exported", "topic", rec.Topic, "path", path)
}

func (r *Runner) finish(ctx context.Context, logger *slog.Logger, stats *Stats) {
	stats.FinishedAt = r.now()
	finished := stats.FinishedAt
	// The run row is closed even when ctx was cancelled.
	err := r.recorder.FinishRun(context.WithoutCancel(ctx), store.Run{
		ID:         stats.RunID,
		StartedAt:  stats.StartedAt,
		FinishedAt: &finished,
		Topics:     stats.Total,
		Succeeded:  stats.Succeeded,
		Failed:     stats.Failed,
		Skipped:    stats.Skipped,
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to finish run", "error", err)
	}
	logger.InfoContext(ctx, "batch finished",
		"succeeded", stats.Succeeded, "failed", stats.Failed, "skipped", stats.Skipped,
		"duration", stats.Duration().Round(time.Second))
}

// stopVerdict returns the classification that ended rec when it is one
// that later topics would hit too.
func stopVerdict(rec *types.TopicRecord) classify.Classification {
	msg := rec.ErrorMessage()
	for _, c := range []classify.Classification{classify.LoginRequired, classify.Blocked} {
		if strings.HasPrefix(msg, string(c)+":") {
			return c
		}
	}
	return ""
}
