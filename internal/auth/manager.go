package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ibeckermayer/tagscope/internal/backoff"
	"github.com/ibeckermayer/tagscope/internal/browser"
	"github.com/ibeckermayer/tagscope/internal/classify"
)

var (
	// ErrSessionInit wraps every reason Acquire could not produce a session.
	ErrSessionInit = errors.New("session initialization failed")

	// ErrCredentialsExpired means the saved bundle is older than the TTL.
	ErrCredentialsExpired = errors.New("saved credentials expired")

	// ErrVerificationFailed means replayed cookies did not authenticate.
	ErrVerificationFailed = errors.New("session verification failed")

	// ErrPersistWrite means the credential bundle could not be written.
	ErrPersistWrite = errors.New("failed to persist credentials")

	// ErrLoginTimeout means the interactive login was not completed in time.
	ErrLoginTimeout = errors.New("login timeout exceeded")
)

// CredentialStore loads and saves the credential bundle.
type CredentialStore interface {
	Load() (*Bundle, error)
	Save(*Bundle) error
	Clear() error
}

// Launcher opens a fresh browsing context.
type Launcher func(ctx context.Context, headless bool) (browser.Surface, error)

// ChromeLauncher returns a Launcher starting Chrome with lo, overriding its
// headless flag per call.
func ChromeLauncher(lo browser.LaunchOptions, logger *slog.Logger) Launcher {
	return func(ctx context.Context, headless bool) (browser.Surface, error) {
		lo.Headless = headless
		c, err := browser.Launch(ctx, lo, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Options configure a Manager. Zero values take the defaults.
type Options struct {
	HomeURL      string
	TTL          time.Duration
	LoginTimeout time.Duration
	LoginPoll    time.Duration
	SettleMin    time.Duration
	SettleMax    time.Duration

	// Rules supplies the login URL markers used for verification.
	Rules classify.Rules

	Sleep backoff.Sleeper
	Human func(min, max time.Duration) time.Duration
	Now   func() time.Time
}

// DefaultTTL is how long a saved bundle is trusted.
const DefaultTTL = 7 * 24 * time.Hour

func (o *Options) setDefaults() {
	if o.HomeURL == "" {
		o.HomeURL = "https://www.instagram.com/"
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.LoginTimeout <= 0 {
		o.LoginTimeout = 5 * time.Minute
	}
	if o.LoginPoll <= 0 {
		o.LoginPoll = 2 * time.Second
	}
	if o.SettleMin <= 0 {
		o.SettleMin = 3 * time.Second
	}
	if o.SettleMax < o.SettleMin {
		o.SettleMax = o.SettleMin + 2*time.Second
	}
	if o.Rules.Version == 0 {
		o.Rules = classify.DefaultRules()
	}
	if o.Sleep == nil {
		o.Sleep = backoff.Sleep
	}
	if o.Human == nil {
		o.Human = backoff.Human
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Manager handles establishing and persisting authenticated sessions
type Manager struct {
	store  CredentialStore
	launch Launcher
	opts   Options
	logger *slog.Logger
}

// NewManager creates a new auth manager
func NewManager(store CredentialStore, launch Launcher, opts Options, logger *slog.Logger) *Manager {
	opts.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		launch: launch,
		opts:   opts,
		logger: logger.With("component", "session"),
	}
}

// Session is an authenticated browsing context. It is owned by whoever
// acquired it and must be closed on every exit path.
type Session struct {
	Page       browser.Surface
	Bundle     *Bundle
	AcquiredAt time.Time
	ValidUntil time.Time

	mu            sync.Mutex
	authenticated bool
	closeOnce     sync.Once
	closeErr      error
}

// Authenticated reports whether the session last verified as signed in.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// MarkUnauthenticated records that the site no longer accepts the session.
func (s *Session) MarkUnauthenticated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = false
}

// Close tears down the browsing context. Only the first call has effect.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.Page.Close()
	})
	return s.closeErr
}

// IsAuthenticated checks if we have valid stored credentials
func (m *Manager) IsAuthenticated() bool {
	b, err := m.store.Load()
	if err != nil {
		return false
	}
	return b.HasSession() && !b.Expired(m.opts.TTL, m.opts.Now())
}

// Bundle returns the saved credential bundle.
func (m *Manager) Bundle() (*Bundle, error) {
	return m.store.Load()
}

// Acquire opens a browsing context authenticated with the saved bundle. A
// missing or expired bundle fails before any browser is launched. Every
// failure wraps ErrSessionInit; a browser that cannot start also wraps
// browser.ErrLaunch.
func (m *Manager) Acquire(ctx context.Context, headless bool) (*Session, error) {
	b, err := m.store.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionInit, err)
	}
	now := m.opts.Now()
	if b.Expired(m.opts.TTL, now) {
		m.logger.WarnContext(ctx, "saved credentials expired", "saved_at", b.SavedAt, "ttl", m.opts.TTL)
		return nil, fmt.Errorf("%w: %w (saved %s)", ErrSessionInit, ErrCredentialsExpired, b.SavedAt.Format(time.RFC3339))
	}

	page, err := m.launch(ctx, headless)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionInit, err)
	}

	if err := m.replay(ctx, page, b); err != nil {
		if cerr := page.Close(); cerr != nil {
			m.logger.WarnContext(ctx, "failed to close browser", "error", cerr)
		}
		return nil, fmt.Errorf("%w: %w", ErrSessionInit, err)
	}

	m.logger.InfoContext(ctx, "session established", "saved_at", b.SavedAt)
	return &Session{
		Page:          page,
		Bundle:        b,
		AcquiredAt:    now,
		ValidUntil:    b.SavedAt.Add(m.opts.TTL),
		authenticated: true,
	}, nil
}

// replay loads the site, installs the bundle's cookies, reloads and checks
// that the site no longer redirects to login.
func (m *Manager) replay(ctx context.Context, page browser.Surface, b *Bundle) error {
	if err := page.Navigate(ctx, m.opts.HomeURL); err != nil {
		return err
	}

	cookies := b.CookiesFor(m.cookieDomain())
	if len(cookies) == 0 {
		cookies = b.Cookies
	}
	added := 0
	for _, c := range cookies {
		if err := page.AddCookie(ctx, c); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.WarnContext(ctx, "failed to add cookie", "cookie", c.Name, "error", err)
			continue
		}
		added++
	}
	m.logger.DebugContext(ctx, "cookies replayed", "added", added, "total", len(cookies))

	if err := page.Reload(ctx); err != nil {
		return err
	}
	if err := m.opts.Sleep(ctx, m.opts.Human(m.opts.SettleMin, m.opts.SettleMax)); err != nil {
		return err
	}

	current, err := page.CurrentURL(ctx)
	if err != nil {
		return err
	}
	if m.opts.Rules.IsLoginURL(current) {
		return fmt.Errorf("%w: redirected to %s", ErrVerificationFailed, current)
	}
	return nil
}

// Persist saves the session's current cookies and URL as the new bundle.
func (m *Manager) Persist(ctx context.Context, s *Session) error {
	cookies, err := s.Page.Cookies(ctx)
	if err != nil {
		return fmt.Errorf("failed to read cookies: %w", err)
	}
	current, err := s.Page.CurrentURL(ctx)
	if err != nil {
		return fmt.Errorf("failed to read current url: %w", err)
	}

	b := &Bundle{Cookies: cookies, SavedAt: m.opts.Now(), URL: current}
	if err := m.store.Save(b); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistWrite, err)
	}
	s.Bundle = b
	m.logger.InfoContext(ctx, "credentials saved", "cookies", len(cookies))
	return nil
}

// Login opens a visible browser for the user to sign in and saves the
// resulting cookies once the site accepts them.
func (m *Manager) Login(ctx context.Context) error {
	page, err := m.launch(ctx, false)
	if err != nil {
		return err
	}
	s := &Session{Page: page, AcquiredAt: m.opts.Now()}
	defer s.Close()

	loginURL := strings.TrimRight(m.opts.HomeURL, "/") + "/accounts/login/"
	if err := page.Navigate(ctx, loginURL); err != nil {
		return fmt.Errorf("failed to navigate to login page: %w", err)
	}
	m.logger.InfoContext(ctx, "waiting for login in the browser window", "timeout", m.opts.LoginTimeout)

	if err := m.waitForLogin(ctx, page); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	if err := m.Persist(ctx, s); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "login complete")
	return nil
}

// waitForLogin polls until the user has successfully logged in
func (m *Manager) waitForLogin(ctx context.Context, page browser.Surface) error {
	timeout := time.NewTimer(m.opts.LoginTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(m.opts.LoginPoll)
	defer ticker.Stop()

	for {
		select {
		case <-timeout.C:
			return ErrLoginTimeout
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			current, err := page.CurrentURL(ctx)
			if err != nil || m.opts.Rules.IsLoginURL(current) {
				continue
			}
			cookies, err := page.Cookies(ctx)
			if err != nil {
				continue
			}
			if hasSessionCookie(cookies) {
				return nil
			}
		}
	}
}

// Logout clears stored credentials
func (m *Manager) Logout() error {
	return m.store.Clear()
}

func (m *Manager) cookieDomain() string {
	u, err := url.Parse(m.opts.HomeURL)
	if err != nil || u.Hostname() == "" {
		return "instagram.com"
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

var _ CredentialStore = (*CookieStore)(nil)
