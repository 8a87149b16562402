// Package app wires configuration into the session manager, fetcher, store
// and batch runner, and exposes the operations the CLI drives.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pkg/browser"

	"github.com/ibeckermayer/tagscope/internal/auth"
	"github.com/ibeckermayer/tagscope/internal/backoff"
	"github.com/ibeckermayer/tagscope/internal/batch"
	surface "github.com/ibeckermayer/tagscope/internal/browser"
	"github.com/ibeckermayer/tagscope/internal/classify"
	"github.com/ibeckermayer/tagscope/internal/config"
	"github.com/ibeckermayer/tagscope/internal/digest"
	"github.com/ibeckermayer/tagscope/internal/fetch"
	"github.com/ibeckermayer/tagscope/internal/scheduler"
	"github.com/ibeckermayer/tagscope/internal/scraper"
	"github.com/ibeckermayer/tagscope/internal/store"
	"github.com/ibeckermayer/tagscope/internal/types"
)

// BatchJobName is the scheduler entry running the configured batch.
const BatchJobName = "batch"

// openFile is replaced in tests.
var openFile = browser.OpenFile

// App holds the application state.
type App struct {
	mu         sync.RWMutex
	auth       *auth.Manager // immutable after creation
	store      *store.Store  // immutable after creation
	configPath string
	logger     *slog.Logger
	sleep      backoff.Sleeper

	// Mutable fields - use getSnapshot() for concurrent access.
	config     *config.Config
	classifier *classify.Classifier
	scraper    *scraper.Scraper
	fetcher    *fetch.Fetcher
}

// snapshot holds fields that may be replaced by ReloadConfig.
// Use getSnapshot() to obtain a consistent, point-in-time copy.
type snapshot struct {
	config     *config.Config
	classifier *classify.Classifier
	scraper    *scraper.Scraper
	fetcher    *fetch.Fetcher
}

// getSnapshot returns a snapshot of mutable fields under read lock.
func (a *App) getSnapshot() snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return snapshot{
		config:     a.config,
		classifier: a.classifier,
		scraper:    a.scraper,
		fetcher:    a.fetcher,
	}
}

// Deps overrides collaborators New would otherwise build from config.
type Deps struct {
	// ConfigPath is re-read by ReloadConfig; empty means the default path.
	ConfigPath string
	Launcher   auth.Launcher
	// Sleep replaces every pacing wait.
	Sleep backoff.Sleeper
}

// New creates a new App instance from cfg. The session manager and store
// are fixed for the App's lifetime; everything else follows ReloadConfig.
func New(cfg *config.Config, logger *slog.Logger, deps Deps) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Sleep == nil {
		deps.Sleep = backoff.Sleep
	}

	a := &App{
		configPath: deps.ConfigPath,
		logger:     logger,
		sleep:      deps.Sleep,
	}
	s, err := a.build(cfg)
	if err != nil {
		return nil, err
	}
	a.config, a.classifier, a.scraper, a.fetcher = s.config, s.classifier, s.scraper, s.fetcher

	cookiePath, err := cfg.CookiePath()
	if err != nil {
		return nil, fmt.Errorf("failed to get cookie store path: %w", err)
	}
	launch := deps.Launcher
	if launch == nil {
		launch = auth.ChromeLauncher(surface.LaunchOptions{
			UserAgent: cfg.Browser.UserAgent,
			Width:     cfg.Browser.Width,
			Height:    cfg.Browser.Height,
			NoSandbox: cfg.Browser.NoSandbox,
		}, logger)
	}
	a.auth = auth.NewManager(auth.NewCookieStore(cookiePath), launch, auth.Options{
		HomeURL:      cfg.Session.HomeURL,
		TTL:          cfg.SessionTTL(),
		LoginTimeout: config.Seconds(cfg.Session.LoginTimeoutMinutes * 60),
		Rules:        s.classifier.Rules(),
		Sleep:        deps.Sleep,
	}, logger)
	a.fetcher = a.newFetcher(cfg, a.classifier, a.scraper)

	dbPath, err := cfg.DBPath()
	if err != nil {
		return nil, err
	}
	a.store, err = store.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", dbPath, err)
	}

	return a, nil
}

// build constructs the config-dependent components.
func (a *App) build(cfg *config.Config) (snapshot, error) {
	rules, err := classify.LoadRules(cfg.Classifier.RulesPath)
	if err != nil {
		return snapshot{}, err
	}
	findTimeout := config.Seconds(cfg.Browser.FindTimeoutSeconds)

	classifier := classify.New(rules, classify.Options{
		SkipLoginCheck:     cfg.Classifier.SkipLoginCheck,
		SkipRateLimitCheck: cfg.Classifier.SkipRateLimitCheck,
		LandmarkTimeout:    findTimeout,
	}, a.logger)
	sc := scraper.New(scraper.Options{
		BaseURL:     baseURL(cfg),
		FindTimeout: findTimeout,
		Sleep:       a.sleep,
	}, a.logger)

	// New wires the fetcher once the session manager exists.
	var fetcher *fetch.Fetcher
	if a.auth != nil {
		fetcher = a.newFetcher(cfg, classifier, sc)
	}
	return snapshot{config: cfg, classifier: classifier, scraper: sc, fetcher: fetcher}, nil
}

func (a *App) newFetcher(cfg *config.Config, classifier *classify.Classifier, sc *scraper.Scraper) *fetch.Fetcher {
	return fetch.New(a.auth, classifier, sc, fetch.Config{
		BaseURL: baseURL(cfg),
		Backoff: backoff.Policy{
			Base: config.Seconds(cfg.Fetch.BackoffBaseSeconds),
			Cap:  config.Seconds(cfg.Fetch.BackoffCapSeconds),
		},
		SettleMin: config.Seconds(cfg.Fetch.SettleMinSeconds),
		SettleMax: config.Seconds(cfg.Fetch.SettleMaxSeconds),
		Sleep:     a.sleep,
	}, a.logger)
}

// baseURL derives the site root from the configured home URL.
func baseURL(cfg *config.Config) string {
	return strings.TrimRight(cfg.Session.HomeURL, "/")
}

// Close releases the store.
func (a *App) Close() error {
	return a.store.Close()
}

// Config returns the current configuration.
func (a *App) Config() *config.Config {
	return a.getSnapshot().config
}

// Store returns the record store.
func (a *App) Store() *store.Store {
	return a.store
}

// IsAuthenticated checks if site credentials are stored.
func (a *App) IsAuthenticated() bool {
	return a.auth.IsAuthenticated()
}

// Login starts the interactive login flow.
func (a *App) Login(ctx context.Context) error {
	a.logger.Info("login triggered - opening browser for authentication")
	if err := a.auth.Login(ctx); err != nil {
		a.logger.Error("login failed", "error", err)
		return err
	}
	a.logger.Info("login successful - cookies saved")
	return nil
}

// Logout clears stored credentials.
func (a *App) Logout() error {
	a.logger.Info("logout triggered - clearing stored cookies")
	if err := a.auth.Logout(); err != nil {
		a.logger.Error("logout failed", "error", err)
		return err
	}
	a.logger.Info("logout successful - cookies cleared")
	return nil
}

// FetchOptions returns the configured per-topic fetch options.
func (a *App) FetchOptions() fetch.Options {
	cfg := a.getSnapshot().config
	return fetch.Options{
		Headless:   cfg.Browser.Headless,
		MaxRetries: cfg.Fetch.MaxRetries,
		MaxPosts:   cfg.Fetch.MaxPosts,
	}
}

// FetchTopic fetches one topic on its own session, then stores and exports
// the record. Storage failures are logged; the record is still returned.
func (a *App) FetchTopic(ctx context.Context, topic string, opts fetch.Options) (*types.TopicRecord, error) {
	s := a.getSnapshot()

	rec, err := s.fetcher.FetchTopic(ctx, topic, opts)
	if err != nil {
		return nil, err
	}
	a.persist(ctx, s.config, rec)
	return rec, nil
}

func (a *App) persist(ctx context.Context, cfg *config.Config, rec *types.TopicRecord) {
	if _, err := a.store.SaveRecord(ctx, "", rec); err != nil {
		a.logger.Error("failed to save record", "topic", rec.Topic, "error", err)
	}
	dir, err := a.exportDir(cfg)
	if err != nil || dir == "" {
		return
	}
	path, err := store.ExportRecord(dir, rec)
	if err != nil {
		a.logger.Error("failed to export record", "topic", rec.Topic, "error", err)
		return
	}
	a.logger.Info("record exported", "topic", rec.Topic, "path", path)
}

// exportDir returns where JSON exports go, or "" when disabled.
func (a *App) exportDir(cfg *config.Config) (string, error) {
	if !cfg.Storage.ExportJSON {
		return "", nil
	}
	dir, err := cfg.ExportDir()
	if err != nil {
		a.logger.Error("failed to resolve export dir", "error", err)
		return "", err
	}
	return dir, nil
}

// LoadTopics reads the topic list at path, or the configured one when path
// is empty.
func (a *App) LoadTopics(path string) ([]string, error) {
	if path == "" {
		path = a.getSnapshot().config.Batch.TopicsFile
	}
	if path == "" {
		return nil, errors.New("no topic list: pass a file or set batch.topics_file")
	}
	return batch.LoadTopicsFile(path)
}

// RunBatch fetches topics on one session with the configured pacing.
func (a *App) RunBatch(ctx context.Context, topics []string, opts fetch.Options, progress func(done, total int, rec *types.TopicRecord)) (*batch.Stats, error) {
	s := a.getSnapshot()
	dir, _ := a.exportDir(s.config)

	runner := batch.New(a.auth, s.fetcher, a.store, batch.Options{
		Fetch:          opts,
		Interval:       config.Seconds(s.config.Batch.IntervalSeconds),
		ContinueOnStop: s.config.Batch.ContinueOnStop,
		ExportDir:      dir,
		Progress:       progress,
	}, a.logger)
	stats, err := runner.Run(ctx, topics)
	if dir != "" && stats != nil && len(stats.Records) > 0 {
		a.writeDigest(dir, stats)
	}
	return stats, err
}

// digestPosts caps the posts shown per topic in a run digest.
const digestPosts = 3

func (a *App) writeDigest(dir string, stats *batch.Stats) {
	b, err := digest.New(digestPosts)
	if err != nil {
		a.logger.Error("failed to create digest builder", "error", err)
		return
	}
	d, err := b.Build(stats.RunID, stats.Records)
	if err != nil {
		a.logger.Error("failed to build digest", "error", err)
		return
	}
	path, err := digest.Save(dir, d)
	if err != nil {
		a.logger.Error("failed to save digest", "error", err)
		return
	}
	a.logger.Info("digest written", "path", path, "topics", len(d.Topics))
}

// BatchJob returns a scheduler job that reloads the configuration and runs
// the configured topic list.
func (a *App) BatchJob() scheduler.Job {
	return func(ctx context.Context) error {
		if err := a.ReloadConfig(); err != nil {
			a.logger.Warn("keeping previous config", "error", err)
		}
		topics, err := a.LoadTopics("")
		if err != nil {
			return err
		}
		stats, err := a.RunBatch(ctx, topics, a.FetchOptions(), nil)
		if err != nil {
			return err
		}
		if stats.StoppedBy != "" {
			return fmt.Errorf("batch stopped by %s: %s", stats.StoppedBy, classify.SuggestionFor(stats.StoppedBy).Action)
		}
		return nil
	}
}

// Schedule registers the configured batch with sched.
func (a *App) Schedule(sched *scheduler.Scheduler) error {
	cfg := a.getSnapshot().config
	return sched.AddJob(BatchJobName, cfg.Schedule.Cron, a.BatchJob())
}

// NewScheduler creates a scheduler in the configured timezone.
func (a *App) NewScheduler() (*scheduler.Scheduler, error) {
	return scheduler.New(a.getSnapshot().config.Schedule.Timezone, a.logger)
}

// Inspection is what the classifier and extractor make of a single page.
type Inspection struct {
	Classification classify.Classification
	Suggestion     classify.Suggestion
	Missing        []string
	Count          int
	Related        []string
	PostLinks      []scraper.PostLink
}

// Inspect runs the classifier and the topic-page extractors against page
// without navigating away from it.
func (a *App) Inspect(ctx context.Context, page surface.Surface, topic string) (*Inspection, error) {
	s := a.getSnapshot()

	verdict, err := s.classifier.Classify(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	in := &Inspection{Classification: verdict, Suggestion: classify.SuggestionFor(verdict)}

	if in.Missing, err = s.classifier.ProbeDOM(ctx, page); err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}
	if in.Count, err = s.scraper.ExtractCount(ctx, page); err != nil {
		return nil, err
	}
	if in.Related, err = s.scraper.ExtractRelated(ctx, page, scraper.NormalizeTopic(topic)); err != nil {
		return nil, err
	}
	if in.PostLinks, err = s.scraper.ExtractPostLinks(ctx, page, s.config.Fetch.MaxPosts); err != nil {
		return nil, err
	}
	return in, nil
}

// LatestExport returns the newest JSON export for topic.
func (a *App) LatestExport(topic string) (string, error) {
	dir, err := a.getSnapshot().config.ExportDir()
	if err != nil {
		return "", err
	}
	return store.LatestExport(dir, scraper.NormalizeTopic(topic))
}

// OpenLatestExport opens the newest JSON export for topic.
func (a *App) OpenLatestExport(topic string) error {
	path, err := a.LatestExport(topic)
	if err != nil {
		a.logger.Error("no export found", "topic", topic, "error", err)
		return err
	}

	a.logger.Info("opening export", "path", path)
	return openFile(path)
}

// OpenLatestDigest opens the newest run digest.
func (a *App) OpenLatestDigest() error {
	dir, err := a.getSnapshot().config.ExportDir()
	if err != nil {
		return err
	}
	path, err := digest.GetLatestDigest(dir)
	if err != nil {
		a.logger.Error("no digest found", "error", err)
		return err
	}

	a.logger.Info("opening digest", "path", path)
	return openFile(path)
}

// OpenPath opens a file or directory with the system handler.
func (a *App) OpenPath(path string) error {
	a.logger.Info("opening", "path", path)
	return openFile(path)
}

// ReloadConfig reloads the configuration from disk.
func (a *App) ReloadConfig() error {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadPath(a.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	return a.Apply(cfg)
}

// Apply swaps in cfg, rebuilding the components that depend on it.
func (a *App) Apply(cfg *config.Config) error {
	s, err := a.build(cfg)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.config = cfg
	a.classifier = s.classifier
	a.scraper = s.scraper
	a.fetcher = s.fetcher
	a.mu.Unlock()

	a.logger.Info("configuration reloaded")
	return nil
}
