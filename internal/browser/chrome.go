package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// Chrome is a Surface driving a single Chrome tab through chromedp.
type Chrome struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	closeOnce sync.Once
}

var _ Surface = (*Chrome)(nil)

// Launch starts a Chrome process and opens one tab. The browser lives until
// Close is called; parent is only checked before starting.
func Launch(parent context.Context, lo LaunchOptions, logger *slog.Logger) (*Chrome, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "browser")

	// The allocator must outlive the launch context, so it hangs off
	// Background and is torn down by Close.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), Options(lo)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	c := &Chrome{
		ctx: tabCtx,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
		logger: logger,
	}

	if err := parent.Err(); err != nil {
		c.cancel()
		return nil, err
	}

	// Running with no actions forces the process to start now, so a missing
	// or broken Chrome surfaces here rather than on first navigation. The
	// first Run must use the tab context itself: a derived context would
	// take the whole browser down with it when cancelled.
	if err := chromedp.Run(tabCtx); err != nil {
		c.cancel()
		return nil, fmt.Errorf("%w: %w", ErrLaunch, err)
	}

	logger.Debug("browser started", "headless", lo.Headless)
	return c, nil
}

// scoped returns a context that carries the tab but is cancelled when
// either parent or the tab is done.
func (c *Chrome) scoped(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(c.ctx)
	stop := context.AfterFunc(parent, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (c *Chrome) run(parent context.Context, actions ...chromedp.Action) error {
	ctx, stop := c.scoped(parent)
	defer stop()
	return chromedp.Run(ctx, actions...)
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	if err := c.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (c *Chrome) Reload(ctx context.Context) error {
	if err := c.run(ctx, chromedp.Reload()); err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	return nil
}

func (c *Chrome) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := c.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return url, nil
}

func (c *Chrome) PageMarkup(ctx context.Context) (string, error) {
	var html string
	if err := c.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read page markup: %w", err)
	}
	return html, nil
}

func (c *Chrome) PageText(ctx context.Context) (string, error) {
	var text string
	err := c.run(ctx, chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text))
	if err != nil {
		return "", fmt.Errorf("failed to read page text: %w", err)
	}
	return text, nil
}

// find runs a node query bounded by timeout. A deadline on the lookup is a
// miss, not a failure; cancellation of ctx itself is still reported.
func (c *Chrome) find(ctx context.Context, locator string, timeout time.Duration, opt chromedp.QueryOption) ([]*cdp.Node, error) {
	if timeout <= 0 {
		timeout = DefaultFindTimeout
	}
	findCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var nodes []*cdp.Node
	err := c.run(findCtx, chromedp.Nodes(locator, &nodes, opt))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query %q: %w", locator, err)
	}
	return nodes, nil
}

func (c *Chrome) FindFirst(ctx context.Context, locator string, timeout time.Duration) (*Element, error) {
	nodes, err := c.find(ctx, locator, timeout, chromedp.ByQuery)
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return &Element{node: nodes[0]}, nil
}

func (c *Chrome) FindAll(ctx context.Context, locator string, timeout time.Duration) ([]*Element, error) {
	nodes, err := c.find(ctx, locator, timeout, chromedp.ByQueryAll)
	if err != nil {
		return nil, err
	}
	els := make([]*Element, 0, len(nodes))
	for _, n := range nodes {
		els = append(els, &Element{node: n})
	}
	return els, nil
}

func (c *Chrome) Attribute(el *Element, name string) (string, bool) {
	if el == nil || el.node == nil {
		return "", false
	}
	return el.node.Attribute(name)
}

func (c *Chrome) Text(ctx context.Context, el *Element) (string, error) {
	if el == nil || el.node == nil {
		return "", nil
	}
	var text string
	err := c.run(ctx, chromedp.TextContent([]cdp.NodeID{el.node.NodeID}, &text, chromedp.ByNodeID))
	if err != nil {
		return "", fmt.Errorf("failed to read element text: %w", err)
	}
	return normalizeSpace(text), nil
}

func (c *Chrome) ExecuteScript(ctx context.Context, src string, res any) error {
	if err := c.run(ctx, chromedp.Evaluate(src, res)); err != nil {
		return fmt.Errorf("failed to evaluate script: %w", err)
	}
	return nil
}

func (c *Chrome) Cookies(ctx context.Context) ([]*network.Cookie, error) {
	var cookies []*network.Cookie
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return cookies, nil
}

func (c *Chrome) AddCookie(ctx context.Context, ck *network.Cookie) error {
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		p := network.SetCookie(ck.Name, ck.Value).
			WithDomain(ck.Domain).
			WithPath(ck.Path).
			WithSecure(ck.Secure).
			WithHTTPOnly(ck.HTTPOnly)
		if ck.SameSite != "" {
			p = p.WithSameSite(ck.SameSite)
		}
		if ck.Expires > 0 {
			exp := cdp.TimeSinceEpoch(time.Unix(int64(ck.Expires), 0))
			p = p.WithExpires(&exp)
		}
		return p.Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("failed to set cookie %s: %w", ck.Name, err)
	}
	return nil
}

// Close shuts the tab and the browser process. It is safe to call more
// than once.
func (c *Chrome) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if cerr := chromedp.Cancel(c.ctx); cerr != nil && !errors.Is(cerr, context.Canceled) {
			err = fmt.Errorf("failed to close browser: %w", cerr)
		}
		c.cancel()
		c.logger.Debug("browser closed")
	})
	return err
}
