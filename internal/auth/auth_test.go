package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/tagscope/internal/browser"
)

const (
	homeURL  = "https://www.instagram.com/"
	loginURL = "https://www.instagram.com/accounts/login/"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func noSleep(context.Context, time.Duration) error { return nil }

func testCookies() []*network.Cookie {
	return []*network.Cookie{
		{Name: "sessionid", Value: "abc", Domain: ".instagram.com", Path: "/", Secure: true},
		{Name: "csrftoken", Value: "tok", Domain: ".instagram.com", Path: "/"},
		{Name: "other", Value: "x", Domain: ".example.com", Path: "/"},
	}
}

type fakeLauncher struct {
	page     *browser.Static
	err      error
	launches int
	headless []bool
}

func (f *fakeLauncher) launch(_ context.Context, headless bool) (browser.Surface, error) {
	f.launches++
	f.headless = append(f.headless, headless)
	if f.err != nil {
		return nil, f.err
	}
	return f.page, nil
}

func newManager(t *testing.T, l *fakeLauncher) (*Manager, *CookieStore) {
	t.Helper()
	store := NewCookieStore(filepath.Join(t.TempDir(), "cookies.json"))
	m := NewManager(store, l.launch, Options{
		HomeURL:      homeURL,
		LoginTimeout: time.Second,
		LoginPoll:    time.Millisecond,
		Sleep:        noSleep,
		Now:          func() time.Time { return now },
	}, nil)
	return m, store
}

func TestCookieStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "cookies.json")
	store := NewCookieStore(path)

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoCredentials)

	b := &Bundle{Cookies: testCookies(), SavedAt: now, URL: homeURL}
	require.NoError(t, store.Save(b))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.True(t, loaded.SavedAt.Equal(now))
	assert.Equal(t, homeURL, loaded.URL)
	assert.Len(t, loaded.Cookies, 3)
	assert.True(t, loaded.HasSession())
	assert.Len(t, loaded.CookiesFor("instagram.com"), 2)

	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear())
	_, err = store.Load()
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestCookieStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := NewCookieStore(path).Load()
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoCredentials)
}

func TestCookieStoreRoundTripFields(t *testing.T) {
	store := NewCookieStore(filepath.Join(t.TempDir(), "cookies.json"))
	in := &network.Cookie{
		Name: "sessionid", Value: "abc", Domain: ".instagram.com", Path: "/",
		Expires: 1735689600, Secure: true, HTTPOnly: true, SameSite: network.CookieSameSiteLax,
	}
	require.NoError(t, store.Save(&Bundle{Cookies: []*network.Cookie{in}, SavedAt: now, URL: homeURL}))

	b, err := store.Load()
	require.NoError(t, err)
	require.Len(t, b.Cookies, 1)
	got := b.Cookies[0]
	assert.Equal(t, in.Name, got.Name)
	assert.Equal(t, in.Value, got.Value)
	assert.Equal(t, in.Domain, got.Domain)
	assert.Equal(t, in.Expires, got.Expires)
	assert.True(t, got.Secure)
	assert.True(t, got.HTTPOnly)
	assert.False(t, got.Session)
	assert.Equal(t, network.CookieSameSiteLax, got.SameSite)
}

func TestCookieStoreLoadsForeignBundle(t *testing.T) {
	// Exported by another tool: no priority, sourceScheme or sameSite.
	path := filepath.Join(t.TempDir(), "cookies.json")
	data := `{
  "cookies": [
    {"name": "sessionid", "value": "abc", "domain": ".instagram.com", "path": "/"},
    {"name": "csrftoken", "value": "tok", "domain": ".instagram.com", "path": "/", "priority": "", "sameSite": ""}
  ],
  "saved_at": "2024-06-01T11:00:00Z",
  "url": "https://www.instagram.com/"
}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	b, err := NewCookieStore(path).Load()
	require.NoError(t, err)
	assert.Len(t, b.Cookies, 2)
	assert.True(t, b.HasSession())
	assert.True(t, b.Cookies[0].Session)
	assert.Empty(t, b.Cookies[1].SameSite)
	assert.True(t, b.SavedAt.Equal(now.Add(-time.Hour)))
}

func TestBundleExpired(t *testing.T) {
	b := &Bundle{SavedAt: now}
	assert.False(t, b.Expired(DefaultTTL, now.Add(6*24*time.Hour)))
	assert.True(t, b.Expired(DefaultTTL, now.Add(8*24*time.Hour)))
}

func TestAcquire(t *testing.T) {
	ctx := context.Background()
	page := browser.NewStatic(map[string]string{homeURL: "<html><body><nav></nav></body></html>"})
	l := &fakeLauncher{page: page}
	m, store := newManager(t, l)
	require.NoError(t, store.Save(&Bundle{Cookies: testCookies(), SavedAt: now.Add(-time.Hour)}))

	s, err := m.Acquire(ctx, true)
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, s.Authenticated())
	assert.Equal(t, now, s.AcquiredAt)
	assert.Equal(t, now.Add(-time.Hour).Add(DefaultTTL), s.ValidUntil)
	assert.Equal(t, []bool{true}, l.headless)

	cookies, err := page.Cookies(ctx)
	require.NoError(t, err)
	assert.Len(t, cookies, 2, "only site cookies are replayed")

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, page.Closed())
}

func TestAcquireNoCredentials(t *testing.T) {
	l := &fakeLauncher{page: browser.NewStatic(nil)}
	m, _ := newManager(t, l)

	_, err := m.Acquire(context.Background(), true)
	assert.ErrorIs(t, err, ErrSessionInit)
	assert.ErrorIs(t, err, ErrNoCredentials)
	assert.Equal(t, 0, l.launches)
}

func TestAcquireExpiredSkipsLaunch(t *testing.T) {
	l := &fakeLauncher{page: browser.NewStatic(nil)}
	m, store := newManager(t, l)
	require.NoError(t, store.Save(&Bundle{Cookies: testCookies(), SavedAt: now.Add(-8 * 24 * time.Hour)}))

	_, err := m.Acquire(context.Background(), true)
	assert.ErrorIs(t, err, ErrSessionInit)
	assert.ErrorIs(t, err, ErrCredentialsExpired)
	assert.Equal(t, 0, l.launches)
	assert.False(t, m.IsAuthenticated())
}

func TestAcquireVerificationFails(t *testing.T) {
	page := browser.NewStatic(map[string]string{loginURL: "<html><body><form></form></body></html>"})
	page.Redirect(homeURL, loginURL)
	l := &fakeLauncher{page: page}
	m, store := newManager(t, l)
	require.NoError(t, store.Save(&Bundle{Cookies: testCookies(), SavedAt: now}))

	_, err := m.Acquire(context.Background(), true)
	assert.ErrorIs(t, err, ErrSessionInit)
	assert.ErrorIs(t, err, ErrVerificationFailed)
	assert.True(t, page.Closed(), "browser is released on failure")
}

func TestAcquireLaunchFailure(t *testing.T) {
	l := &fakeLauncher{err: browser.ErrLaunch}
	m, store := newManager(t, l)
	require.NoError(t, store.Save(&Bundle{Cookies: testCookies(), SavedAt: now}))

	_, err := m.Acquire(context.Background(), true)
	assert.ErrorIs(t, err, ErrSessionInit)
	assert.ErrorIs(t, err, browser.ErrLaunch)
}

type failingStore struct{ CookieStore }

func (*failingStore) Save(*Bundle) error { return errors.New("disk full") }

func TestPersist(t *testing.T) {
	ctx := context.Background()
	page := browser.NewStaticDocument(homeURL, "<html></html>")
	for _, c := range testCookies() {
		require.NoError(t, page.AddCookie(ctx, c))
	}
	m, store := newManager(t, &fakeLauncher{})
	s := &Session{Page: page}

	require.NoError(t, m.Persist(ctx, s))
	b, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, homeURL, b.URL)
	assert.True(t, b.SavedAt.Equal(now))
	assert.Len(t, b.Cookies, 3)

	bad := NewManager(&failingStore{}, nil, Options{}, nil)
	assert.ErrorIs(t, bad.Persist(ctx, s), ErrPersistWrite)
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	page := browser.NewStatic(map[string]string{homeURL: "<html><body><nav></nav></body></html>"})
	// The user has already signed in: the login page bounces home.
	page.Redirect(loginURL, homeURL)
	require.NoError(t, page.AddCookie(ctx, testCookies()[0]))

	l := &fakeLauncher{page: page}
	m, _ := newManager(t, l)

	require.NoError(t, m.Login(ctx))
	assert.Equal(t, []bool{false}, l.headless, "login is always headful")
	assert.True(t, m.IsAuthenticated())
	assert.True(t, page.Closed())

	require.NoError(t, m.Logout())
	assert.False(t, m.IsAuthenticated())
}

func TestLoginTimeout(t *testing.T) {
	page := browser.NewStatic(map[string]string{loginURL: "<html><body><form></form></body></html>"})
	m, _ := newManager(t, &fakeLauncher{page: page})
	m.opts.LoginTimeout = 20 * time.Millisecond

	err := m.Login(context.Background())
	assert.ErrorIs(t, err, ErrLoginTimeout)
	assert.True(t, page.Closed())
}
