package browser

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
)

var (
	// ErrLaunch means the browser process could not be started at all.
	ErrLaunch = errors.New("browser failed to launch")

	// ErrScriptUnsupported is returned by surfaces that cannot run scripts.
	ErrScriptUnsupported = errors.New("script execution not supported")
)

// DefaultFindTimeout bounds element lookups when callers pass a zero timeout.
const DefaultFindTimeout = 5 * time.Second

// Surface is the set of browser capabilities the scraper depends on. A
// Surface represents one exclusive browsing context and is not safe for
// concurrent use.
//
// Locators are CSS selectors. FindFirst returns a nil element (and nil
// error) when nothing matched within the timeout; FindAll returns an empty
// slice in the same situation. Errors are reserved for faults of the
// browser itself and for context cancellation.
type Surface interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	CurrentURL(ctx context.Context) (string, error)
	PageMarkup(ctx context.Context) (string, error)
	PageText(ctx context.Context) (string, error)

	FindFirst(ctx context.Context, locator string, timeout time.Duration) (*Element, error)
	FindAll(ctx context.Context, locator string, timeout time.Duration) ([]*Element, error)
	Attribute(el *Element, name string) (string, bool)
	Text(ctx context.Context, el *Element) (string, error)

	ExecuteScript(ctx context.Context, src string, res any) error

	Cookies(ctx context.Context) ([]*network.Cookie, error)
	AddCookie(ctx context.Context, c *network.Cookie) error

	Close() error
}

// Element is a handle to a node located on the current page. It is only
// valid until the next navigation of the Surface that produced it.
type Element struct {
	node *cdp.Node
	sel  *goquery.Selection
}

// normalizeSpace collapses runs of whitespace to single spaces.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
