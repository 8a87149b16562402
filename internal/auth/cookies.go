package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
)

// ErrNoCredentials means no credential bundle has been saved yet.
var ErrNoCredentials = errors.New("no saved credentials")

// SessionCookie is the cookie the site sets once a login completes.
const SessionCookie = "sessionid"

// Bundle is a persisted credential set: the session cookies plus where and
// when they were captured.
type Bundle struct {
	Cookies []*network.Cookie `json:"cookies"`
	SavedAt time.Time         `json:"saved_at"`
	URL     string            `json:"url"`
}

// storedCookie is the on-disk form of a cookie. It keeps only plain fields
// so bundles written by other tools, or cookies lacking Chrome's optional
// enum fields, load cleanly.
type storedCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

type storedBundle struct {
	Cookies []storedCookie `json:"cookies"`
	SavedAt time.Time      `json:"saved_at"`
	URL     string         `json:"url"`
}

func toStored(c *network.Cookie) storedCookie {
	return storedCookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Expires:  c.Expires,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
		SameSite: string(c.SameSite),
	}
}

func (c storedCookie) cookie() *network.Cookie {
	return &network.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Expires:  c.Expires,
		Session:  c.Expires <= 0,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
		SameSite: network.CookieSameSite(c.SameSite),
	}
}

// MarshalJSON writes the bundle in its plain on-disk form.
func (b Bundle) MarshalJSON() ([]byte, error) {
	sb := storedBundle{Cookies: make([]storedCookie, 0, len(b.Cookies)), SavedAt: b.SavedAt, URL: b.URL}
	for _, c := range b.Cookies {
		if c != nil {
			sb.Cookies = append(sb.Cookies, toStored(c))
		}
	}
	return json.Marshal(sb)
}

// UnmarshalJSON reads the plain on-disk form.
func (b *Bundle) UnmarshalJSON(data []byte) error {
	var sb storedBundle
	if err := json.Unmarshal(data, &sb); err != nil {
		return err
	}
	b.Cookies = make([]*network.Cookie, 0, len(sb.Cookies))
	for _, c := range sb.Cookies {
		b.Cookies = append(b.Cookies, c.cookie())
	}
	b.SavedAt = sb.SavedAt
	b.URL = sb.URL
	return nil
}

// Expired reports whether the bundle is older than ttl at now.
func (b *Bundle) Expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(b.SavedAt) > ttl
}

// HasSession reports whether the bundle carries a non-empty session cookie.
func (b *Bundle) HasSession() bool {
	return hasSessionCookie(b.Cookies)
}

// CookiesFor returns the cookies scoped to domain or one of its subdomains.
func (b *Bundle) CookiesFor(domain string) []*network.Cookie {
	domain = strings.TrimPrefix(domain, ".")
	var out []*network.Cookie
	for _, c := range b.Cookies {
		d := strings.TrimPrefix(c.Domain, ".")
		if d == domain || strings.HasSuffix(d, "."+domain) {
			out = append(out, c)
		}
	}
	return out
}

func hasSessionCookie(cookies []*network.Cookie) bool {
	for _, c := range cookies {
		if c.Name == SessionCookie && c.Value != "" {
			return true
		}
	}
	return false
}

// CookieStore handles storage of session cookies on disk
type CookieStore struct {
	path string
}

// NewCookieStore creates a cookie store at the given path
func NewCookieStore(path string) *CookieStore {
	return &CookieStore{path: path}
}

// Path returns the file backing the store.
func (cs *CookieStore) Path() string {
	return cs.path
}

// Save persists the bundle, readable only by the current user.
func (cs *CookieStore) Save(b *Bundle) error {
	dir := filepath.Dir(cs.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}

	// Write then rename so a crash never leaves a truncated bundle.
	tmp := cs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, cs.path)
}

// Load retrieves the bundle from disk
func (cs *CookieStore) Load() (*Bundle, error) {
	data, err := os.ReadFile(cs.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoCredentials
	}
	if err != nil {
		return nil, err
	}

	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("corrupt credential file %s: %w", cs.path, err)
	}
	return &b, nil
}

// Clear removes stored cookies. Clearing an empty store is not an error.
func (cs *CookieStore) Clear() error {
	err := os.Remove(cs.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
