package fetch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/tagscope/internal/auth"
	"github.com/ibeckermayer/tagscope/internal/browser"
	"github.com/ibeckermayer/tagscope/internal/classify"
	"github.com/ibeckermayer/tagscope/internal/scraper"
	"github.com/ibeckermayer/tagscope/internal/types"
)

var (
	topicURL = scraper.TopicURL("", "sunset")
	now      = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
)

func noSleep(context.Context, time.Duration) error { return nil }

type fakeSessions struct {
	page     *browser.Static
	err      error
	acquired int
	last     *auth.Session
}

func (f *fakeSessions) Acquire(context.Context, bool) (*auth.Session, error) {
	f.acquired++
	if f.err != nil {
		return nil, f.err
	}
	f.last = &auth.Session{Page: f.page}
	return f.last, nil
}

type scriptedClassifier struct {
	verdicts []classify.Classification
	errs     []error
	calls    int
	probes   int
	before   func(call int)
}

func (c *scriptedClassifier) Classify(context.Context, browser.Surface) (classify.Classification, error) {
	i := c.calls
	c.calls++
	if c.before != nil {
		c.before(i)
	}
	if i < len(c.errs) && c.errs[i] != nil {
		return classify.Unknown, c.errs[i]
	}
	if i < len(c.verdicts) {
		return c.verdicts[i], nil
	}
	return c.verdicts[len(c.verdicts)-1], nil
}

func (c *scriptedClassifier) ProbeDOM(context.Context, browser.Surface) ([]string, error) {
	c.probes++
	return []string{"header"}, nil
}

type scriptedExtractor struct {
	errs   []error
	result *scraper.Result
	calls  int
}

func (e *scriptedExtractor) Extract(context.Context, browser.Surface, string, string, int) (*scraper.Result, error) {
	i := e.calls
	e.calls++
	if i < len(e.errs) && e.errs[i] != nil {
		return nil, e.errs[i]
	}
	return e.result, nil
}

func okResult() *scraper.Result {
	return &scraper.Result{
		Count:   42,
		Related: []string{"travel"},
		Posts:   []types.PostRecord{{PostID: "AAA", Kind: types.KindImage, Tags: []string{}}},
	}
}

type harness struct {
	sessions   *fakeSessions
	classifier *scriptedClassifier
	extractor  *scriptedExtractor
	delays     []int
	fetcher    *Fetcher
}

func newHarness(verdicts ...classify.Classification) *harness {
	h := &harness{
		sessions:   &fakeSessions{page: browser.NewStatic(nil)},
		classifier: &scriptedClassifier{verdicts: verdicts},
		extractor:  &scriptedExtractor{result: okResult()},
	}
	h.fetcher = New(h.sessions, h.classifier, h.extractor, Config{
		Delay: func(attempt int) time.Duration {
			h.delays = append(h.delays, attempt)
			return time.Second
		},
		Sleep: noSleep,
		Now:   func() time.Time { return now },
	}, nil)
	return h
}

func (h *harness) fetch(t *testing.T, ctx context.Context) *types.TopicRecord {
	t.Helper()
	rec, err := h.fetcher.FetchTopic(ctx, "sunset", Options{Headless: true})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, h.sessions.page.Closed(), "session released")
	return rec
}

func assertEmptyData(t *testing.T, rec *types.TopicRecord) {
	t.Helper()
	assert.Equal(t, 0, rec.Count)
	assert.Equal(t, []string{}, rec.Related)
	assert.Equal(t, []types.PostRecord{}, rec.Posts)
}

func TestFetchTopicHappyPath(t *testing.T) {
	ctx := context.Background()
	page := browser.NewStatic(map[string]string{
		topicURL: `<html><body><nav></nav>
<header><span>1,234,567 posts</span></header>
<a href="/explore/tags/travel/">#travel</a>
</body></html>`,
	})
	sessions := &fakeSessions{page: page}
	f := New(sessions,
		classify.New(classify.DefaultRules(), classify.Options{LandmarkTimeout: time.Millisecond}, nil),
		scraper.New(scraper.Options{FindTimeout: time.Millisecond, Sleep: noSleep}, nil),
		Config{Sleep: noSleep, Now: func() time.Time { return now }},
		nil)

	rec, err := f.FetchTopic(ctx, "#sunset ", Options{Headless: true})
	require.NoError(t, err)

	assert.Nil(t, rec.Error)
	assert.Equal(t, "sunset", rec.Topic)
	assert.Equal(t, topicURL, rec.URL)
	assert.Equal(t, 1234567, rec.Count)
	assert.Equal(t, []string{"travel"}, rec.Related)
	assert.Equal(t, []types.PostRecord{}, rec.Posts)
	assert.Equal(t, now, rec.CapturedAt)
	assert.True(t, page.Closed())
	assert.Equal(t, []string{topicURL}, page.Visits())
}

func TestFetchTopicStaleSession(t *testing.T) {
	h := newHarness(classify.LoginRequired)
	rec := h.fetch(t, context.Background())

	require.NotNil(t, rec.Error)
	assert.Contains(t, *rec.Error, "login_required")
	assertEmptyData(t, rec)
	assert.Equal(t, 1, h.classifier.calls)
	assert.Empty(t, h.delays, "no retry")
	assert.Equal(t, 0, h.extractor.calls)
	assert.False(t, h.sessions.last.Authenticated())
}

func TestFetchTopicRateLimitedOnce(t *testing.T) {
	h := newHarness(classify.RateLimited, classify.None)
	rec := h.fetch(t, context.Background())

	assert.Nil(t, rec.Error)
	assert.Equal(t, 42, rec.Count)
	assert.Equal(t, []int{0}, h.delays, "exactly one backoff")
	assert.Equal(t, []string{topicURL, topicURL}, h.sessions.page.Visits())
}

func TestFetchTopicRetriesExhausted(t *testing.T) {
	h := newHarness(classify.RateLimited)
	rec := h.fetch(t, context.Background())

	require.NotNil(t, rec.Error)
	assert.Contains(t, *rec.Error, "rate_limited")
	assert.Contains(t, *rec.Error, "after 3 attempts")
	assertEmptyData(t, rec)
	assert.Equal(t, 3, h.classifier.calls)
	assert.Equal(t, []int{0, 1}, h.delays)
	assert.Equal(t, 0, h.extractor.calls)
}

func TestFetchTopicMaxRetries(t *testing.T) {
	h := newHarness(classify.RateLimited)
	rec, err := h.fetcher.FetchTopic(context.Background(), "sunset", Options{MaxRetries: 5})
	require.NoError(t, err)
	require.NotNil(t, rec.Error)
	assert.Equal(t, 5, h.classifier.calls)
	assert.Equal(t, []int{0, 1, 2, 3}, h.delays)
}

func TestFetchTopicBlocked(t *testing.T) {
	h := newHarness(classify.Blocked)
	rec := h.fetch(t, context.Background())

	require.NotNil(t, rec.Error)
	assert.Contains(t, *rec.Error, "blocked")
	assertEmptyData(t, rec)
	assert.Empty(t, h.delays)
}

func TestFetchTopicUnexpectedThenSuccess(t *testing.T) {
	h := newHarness(classify.None)
	h.extractor.errs = []error{errors.New("node detached")}
	rec := h.fetch(t, context.Background())

	assert.Nil(t, rec.Error)
	assert.Equal(t, 42, rec.Count)
	assert.Equal(t, 2, h.extractor.calls)
	assert.Equal(t, []int{0}, h.delays)
}

func TestFetchTopicUnexpectedExhausted(t *testing.T) {
	h := newHarness(classify.None)
	boom := errors.New("boom")
	h.extractor.errs = []error{boom, boom, boom}
	rec := h.fetch(t, context.Background())

	require.NotNil(t, rec.Error)
	assert.Equal(t, "unexpected failure: extract: boom", *rec.Error)
	assertEmptyData(t, rec)
	assert.Equal(t, []int{0, 1}, h.delays)
}

func TestFetchTopicClassifierFault(t *testing.T) {
	h := newHarness(classify.None)
	h.classifier.errs = []error{errors.New("target closed")}
	rec := h.fetch(t, context.Background())

	assert.Nil(t, rec.Error)
	assert.Equal(t, 2, h.classifier.calls)
	assert.Equal(t, []int{0}, h.delays)
}

func TestFetchTopicUnknownVerdictRetried(t *testing.T) {
	h := newHarness(classify.Unknown, classify.None)
	rec := h.fetch(t, context.Background())

	assert.Nil(t, rec.Error)
	assert.Equal(t, []int{0}, h.delays)
}

func TestFetchTopicCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(classify.RateLimited)
	h.classifier.before = func(int) { cancel() }
	rec := h.fetch(t, ctx)

	require.NotNil(t, rec.Error)
	assert.Contains(t, *rec.Error, "fetch cancelled")
	assertEmptyData(t, rec)
	assert.Equal(t, 1, h.classifier.calls, "no transition after cancellation")
	assert.Empty(t, h.delays)
}

func TestFetchTopicSessionInitFailure(t *testing.T) {
	h := newHarness(classify.None)
	h.sessions.err = fmt.Errorf("%w: %w", auth.ErrSessionInit, auth.ErrNoCredentials)

	rec, err := h.fetcher.FetchTopic(context.Background(), "sunset", Options{})
	require.NoError(t, err)
	require.NotNil(t, rec.Error)
	assert.Contains(t, *rec.Error, "session initialization failed")
	assertEmptyData(t, rec)
	assert.Equal(t, 0, h.classifier.calls)
}

func TestFetchTopicLaunchFailure(t *testing.T) {
	h := newHarness(classify.None)
	h.sessions.err = fmt.Errorf("%w: %w", auth.ErrSessionInit, browser.ErrLaunch)

	rec, err := h.fetcher.FetchTopic(context.Background(), "sunset", Options{})
	assert.ErrorIs(t, err, browser.ErrLaunch)
	assert.Nil(t, rec)
}

func TestFetchTopicEmptyName(t *testing.T) {
	h := newHarness(classify.None)

	rec, err := h.fetcher.FetchTopic(context.Background(), " # ", Options{})
	require.NoError(t, err)
	require.NotNil(t, rec.Error)
	assert.Equal(t, 0, h.sessions.acquired)
}

func TestFetchWithSessionBounds(t *testing.T) {
	h := newHarness(classify.None)
	posts := []types.PostRecord{{PostID: "A"}, {PostID: "A"}, {PostID: "B"}, {PostID: "C"}}
	related := []string{"a", "b", "a", "c", "d", "e", "f", "g", "h", "i", "j", "k"}
	h.extractor.result = &scraper.Result{Count: 1, Related: related, Posts: posts}

	sess := &auth.Session{Page: h.sessions.page}
	rec := h.fetcher.FetchWithSession(context.Background(), sess, "sunset", Options{MaxPosts: 2})

	assert.Nil(t, rec.Error)
	assert.Len(t, rec.Related, scraper.MaxRelated)
	assert.Equal(t, []types.PostRecord{{PostID: "A"}, {PostID: "B"}}, rec.Posts)
	assert.False(t, h.sessions.page.Closed(), "caller keeps ownership")
}

func TestFetchProbesEmptyResult(t *testing.T) {
	h := newHarness(classify.None)
	h.extractor.result = &scraper.Result{}
	rec := h.fetch(t, context.Background())

	assert.Nil(t, rec.Error, "an empty page is not a failure")
	assert.Equal(t, 1, h.classifier.probes)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "backoff", stateBackoff.String())
	assert.Equal(t, "state(99)", state(99).String())
	assert.True(t, stateTerminal.final())
	assert.False(t, stateExtracting.final())
}
