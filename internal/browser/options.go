// Package browser provides the browser control surface used by the scraper:
// a chromedp-backed implementation with anti-bot-detection measures and a
// static goquery-backed implementation for saved pages.
package browser

import "github.com/chromedp/chromedp"

// DefaultUserAgent is a realistic Chrome user agent
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36"

// LaunchOptions configures a Chrome launch.
type LaunchOptions struct {
	Headless  bool
	UserAgent string
	Width     int
	Height    int
	// NoSandbox is needed when running as root inside containers.
	NoSandbox bool
}

// Options returns chromedp allocator options with anti-bot-detection measures.
// All browser instances should use this to ensure consistent stealth configuration.
func Options(lo LaunchOptions) []chromedp.ExecAllocatorOption {
	ua := lo.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	w, h := lo.Width, lo.Height
	if w <= 0 || h <= 0 {
		w, h = 1920, 1080
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", lo.Headless),

		// navigator.webdriver is the first thing the site's bot checks look at
		chromedp.Flag("disable-blink-features", "AutomationControlled"),

		chromedp.UserAgent(ua),
		chromedp.WindowSize(w, h),

		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)

	if lo.Headless {
		opts = append(opts, chromedp.Flag("disable-gpu", true))
	}
	if lo.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}

	return opts
}
