package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/network"
)

// Static is a Surface over a fixed set of HTML documents keyed by URL. It
// never runs scripts and never waits: lookups see the document as parsed.
// Navigating to a URL that has no document loads an empty page.
//
// Static backs the inspect command for saved pages and stands in for
// Chrome in tests.
type Static struct {
	mu        sync.Mutex
	pages     map[string]string
	redirects map[string]string
	url       string
	markup    string
	doc       *goquery.Document
	cookies   []*network.Cookie
	visits    []string
	closed    bool
}

var _ Surface = (*Static)(nil)

// NewStatic returns a Static surface serving pages, positioned on an empty
// about:blank document.
func NewStatic(pages map[string]string) *Static {
	s := &Static{
		pages:     make(map[string]string, len(pages)),
		redirects: make(map[string]string),
	}
	for u, html := range pages {
		s.pages[u] = html
	}
	s.load("about:blank", "")
	return s
}

// NewStaticDocument parses a single document and positions the surface on it.
func NewStaticDocument(url, html string) *Static {
	s := NewStatic(map[string]string{url: html})
	s.load(url, html)
	return s
}

// Redirect makes navigation to from land on to instead.
func (s *Static) Redirect(from, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redirects[from] = to
}

// Visits returns every URL navigated to, in order.
func (s *Static) Visits() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.visits...)
}

// Closed reports whether Close has been called.
func (s *Static) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Static) load(url, html string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		// The html parser is lenient enough that this only happens on
		// reader failures, which a strings.Reader cannot produce.
		doc, _ = goquery.NewDocumentFromReader(strings.NewReader(""))
	}
	s.url = url
	s.markup = html
	s.doc = doc
}

func (s *Static) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return fmt.Errorf("static surface is closed")
	}
	return nil
}

func (s *Static) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.visits = append(s.visits, url)
	if to, ok := s.redirects[url]; ok {
		url = to
	}
	s.load(url, s.pages[url])
	return nil
}

func (s *Static) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	url := s.url
	if to, ok := s.redirects[url]; ok {
		url = to
	}
	if html, ok := s.pages[url]; ok {
		s.load(url, html)
	}
	return nil
}

func (s *Static) CurrentURL(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return "", err
	}
	return s.url, nil
}

func (s *Static) PageMarkup(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return "", err
	}
	return s.markup, nil
}

func (s *Static) PageText(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return "", err
	}
	return normalizeSpace(s.doc.Find("body").Text()), nil
}

func (s *Static) FindFirst(ctx context.Context, locator string, _ time.Duration) (*Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	sel, err := s.find(locator)
	if err != nil || sel.Length() == 0 {
		return nil, err
	}
	return &Element{sel: sel.First()}, nil
}

func (s *Static) FindAll(ctx context.Context, locator string, _ time.Duration) ([]*Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	sel, err := s.find(locator)
	if err != nil {
		return nil, err
	}
	els := make([]*Element, 0, sel.Length())
	sel.Each(func(_ int, item *goquery.Selection) {
		els = append(els, &Element{sel: item})
	})
	return els, nil
}

// find queries the current document. goquery treats an invalid selector as
// matching nothing.
func (s *Static) find(locator string) (*goquery.Selection, error) {
	if strings.TrimSpace(locator) == "" {
		return nil, fmt.Errorf("empty locator")
	}
	return s.doc.Find(locator), nil
}

func (s *Static) Attribute(el *Element, name string) (string, bool) {
	if el == nil || el.sel == nil {
		return "", false
	}
	return el.sel.Attr(name)
}

func (s *Static) Text(ctx context.Context, el *Element) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if el == nil || el.sel == nil {
		return "", nil
	}
	return normalizeSpace(el.sel.Text()), nil
}

func (s *Static) ExecuteScript(ctx context.Context, _ string, _ any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrScriptUnsupported
}

func (s *Static) Cookies(ctx context.Context) ([]*network.Cookie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return append([]*network.Cookie(nil), s.cookies...), nil
}

func (s *Static) AddCookie(ctx context.Context, c *network.Cookie) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	for i, existing := range s.cookies {
		if existing.Name == c.Name && existing.Domain == c.Domain && existing.Path == c.Path {
			s.cookies[i] = c
			return nil
		}
	}
	s.cookies = append(s.cookies, c)
	return nil
}

func (s *Static) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
