package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/tagscope/internal/auth"
	"github.com/ibeckermayer/tagscope/internal/browser"
	"github.com/ibeckermayer/tagscope/internal/classify"
	"github.com/ibeckermayer/tagscope/internal/config"
	"github.com/ibeckermayer/tagscope/internal/digest"
	"github.com/ibeckermayer/tagscope/internal/logging"
	"github.com/ibeckermayer/tagscope/internal/scraper"
	"github.com/ibeckermayer/tagscope/internal/store"
)

const topicPage = `<html><body><nav></nav>
<header><span>12,345 posts</span></header>
<a href="/explore/tags/travel/">#travel</a>
<a href="/explore/tags/beach/">#beach</a>
</body></html>`

func noSleep(context.Context, time.Duration) error { return nil }

type testEnv struct {
	app      *App
	cfg      *config.Config
	dir      string
	launches int
}

func newTestEnv(t *testing.T, loggedIn bool) *testEnv {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Session.CookiePath = filepath.Join(dir, "cookies.json")
	cfg.Storage.DBPath = filepath.Join(dir, "tagscope.db")
	cfg.Storage.ExportDir = filepath.Join(dir, "exports")
	cfg.Batch.IntervalSeconds = 0

	if loggedIn {
		err := auth.NewCookieStore(cfg.Session.CookiePath).Save(&auth.Bundle{
			Cookies: []*network.Cookie{{Name: "sessionid", Value: "abc", Domain: ".instagram.com", Path: "/"}},
			SavedAt: time.Now(),
			URL:     cfg.Session.HomeURL,
		})
		require.NoError(t, err)
	}

	env := &testEnv{cfg: cfg, dir: dir}
	launch := func(context.Context, bool) (browser.Surface, error) {
		env.launches++
		return browser.NewStatic(map[string]string{
			scraper.TopicURL("", "sunset"): topicPage,
			scraper.TopicURL("", "ocean"):  topicPage,
		}), nil
	}

	a, err := New(cfg, logging.Discard(), Deps{Launcher: launch, Sleep: noSleep})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	env.app = a
	return env
}

func TestFetchTopicStoresAndExports(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, true)
	require.True(t, env.app.IsAuthenticated())

	rec, err := env.app.FetchTopic(ctx, "#sunset", env.app.FetchOptions())
	require.NoError(t, err)
	require.False(t, rec.Failed(), rec.ErrorMessage())
	assert.Equal(t, 12345, rec.Count)
	assert.Equal(t, []string{"travel", "beach"}, rec.Related)

	stored, err := env.app.Store().LatestRecord(ctx, "sunset")
	require.NoError(t, err)
	assert.Equal(t, 12345, stored.Count)

	path, err := env.app.LatestExport("sunset")
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestFetchTopicWithoutCredentials(t *testing.T) {
	env := newTestEnv(t, false)
	assert.False(t, env.app.IsAuthenticated())

	rec, err := env.app.FetchTopic(context.Background(), "sunset", env.app.FetchOptions())
	require.NoError(t, err)
	require.True(t, rec.Failed())
	assert.Contains(t, rec.ErrorMessage(), auth.ErrNoCredentials.Error())
	assert.Equal(t, 0, env.launches, "no browser without credentials")

	history, err := env.app.Store().History(context.Background(), "sunset", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1, "failed fetches are recorded too")
}

func TestRunBatch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, true)

	topicsFile := filepath.Join(env.dir, "topics.csv")
	require.NoError(t, os.WriteFile(topicsFile, []byte("hashtag\n#sunset\nocean\n#sunset\n"), 0644))

	topics, err := env.app.LoadTopics(topicsFile)
	require.NoError(t, err)
	assert.Equal(t, []string{"sunset", "ocean"}, topics)

	stats, err := env.app.RunBatch(ctx, topics, env.app.FetchOptions(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Succeeded)
	assert.Equal(t, 1, env.launches, "one session for the batch")

	run, err := env.app.Store().GetRun(ctx, stats.RunID)
	require.NoError(t, err)
	assert.Equal(t, 2, run.Succeeded)

	latest, err := digest.GetLatestDigest(env.cfg.Storage.ExportDir)
	require.NoError(t, err, "a digest is written after each batch")
	html, err := os.ReadFile(latest)
	require.NoError(t, err)
	assert.Contains(t, string(html), "#sunset")
	assert.Contains(t, string(html), "12,345 posts")

	_, err = env.app.LoadTopics("")
	assert.Error(t, err, "no configured topic list")
}

func TestBatchJobUsesConfiguredTopics(t *testing.T) {
	env := newTestEnv(t, true)
	topicsFile := filepath.Join(env.dir, "topics.csv")
	require.NoError(t, os.WriteFile(topicsFile, []byte("sunset\n"), 0644))

	configPath := filepath.Join(env.dir, "config.toml")
	cfg := *env.cfg
	cfg.Batch.TopicsFile = topicsFile
	require.NoError(t, cfg.SaveTo(configPath))
	env.app.configPath = configPath

	require.NoError(t, env.app.BatchJob()(context.Background()))
	assert.Equal(t, topicsFile, env.app.Config().Batch.TopicsFile)

	history, err := env.app.Store().History(context.Background(), "sunset", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestSchedule(t *testing.T) {
	env := newTestEnv(t, true)
	sched, err := env.app.NewScheduler()
	require.NoError(t, err)
	require.NoError(t, env.app.Schedule(sched))

	jobs := sched.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, BatchJobName, jobs[0].Name)
	assert.Equal(t, 9, jobs[0].NextRun.In(sched.Location()).Hour())
}

func TestInspect(t *testing.T) {
	env := newTestEnv(t, true)
	page := browser.NewStaticDocument(scraper.TopicURL("", "sunset"), `<html><body><nav></nav>
<header><span>3.4万 投稿</span></header>
<a href="/explore/tags/夕日/">#夕日</a>
<div><a href="/p/AAA/"><img src="a.jpg"></a><a href="/reel/BBB/">r</a></div>
</body></html>`)

	in, err := env.app.Inspect(context.Background(), page, "sunset")
	require.NoError(t, err)
	assert.Equal(t, classify.None, in.Classification)
	assert.Equal(t, 34000, in.Count)
	assert.Equal(t, []string{"夕日"}, in.Related)
	require.Len(t, in.PostLinks, 2)
	assert.True(t, in.PostLinks[1].Reel)
}

func TestInspectLoginWall(t *testing.T) {
	env := newTestEnv(t, true)
	page := browser.NewStaticDocument("https://www.instagram.com/accounts/login/", `<html><body><form></form></body></html>`)

	in, err := env.app.Inspect(context.Background(), page, "sunset")
	require.NoError(t, err)
	assert.Equal(t, classify.LoginRequired, in.Classification)
	assert.NotEmpty(t, in.Suggestion.Action)
}

func TestOpenLatestExport(t *testing.T) {
	env := newTestEnv(t, true)
	var opened []string
	orig := openFile
	openFile = func(path string) error {
		opened = append(opened, path)
		return nil
	}
	t.Cleanup(func() { openFile = orig })

	assert.ErrorIs(t, env.app.OpenLatestExport("sunset"), store.ErrNotFound)

	_, err := env.app.FetchTopic(context.Background(), "sunset", env.app.FetchOptions())
	require.NoError(t, err)
	require.NoError(t, env.app.OpenLatestExport("#sunset"))
	require.Len(t, opened, 1)
	assert.Contains(t, opened[0], "sunset_")
}

func TestOpenLatestDigest(t *testing.T) {
	env := newTestEnv(t, true)
	var opened []string
	orig := openFile
	openFile = func(path string) error {
		opened = append(opened, path)
		return nil
	}
	t.Cleanup(func() { openFile = orig })

	assert.ErrorIs(t, env.app.OpenLatestDigest(), digest.ErrNoDigest)

	_, err := env.app.RunBatch(context.Background(), []string{"ocean"}, env.app.FetchOptions(), nil)
	require.NoError(t, err)
	require.NoError(t, env.app.OpenLatestDigest())
	require.Len(t, opened, 1)
	assert.Equal(t, ".html", filepath.Ext(opened[0]))
}

func TestApplyConfig(t *testing.T) {
	env := newTestEnv(t, true)

	cfg := *env.cfg
	cfg.Fetch.MaxPosts = 3
	cfg.Browser.Headless = false
	require.NoError(t, env.app.Apply(&cfg))

	opts := env.app.FetchOptions()
	assert.Equal(t, 3, opts.MaxPosts)
	assert.False(t, opts.Headless)

	bad := cfg
	bad.Classifier.RulesPath = filepath.Join(env.dir, "missing.yaml")
	assert.Error(t, env.app.Apply(&bad))
	assert.Equal(t, 3, env.app.FetchOptions().MaxPosts, "failed reload keeps the old config")
}
