package interfaces

import (
	"context"
	"time"
)

// PageDriver drives a vendor login page. Implemented by the chromedp
// session; faked in orchestrator tests.
type PageDriver interface {
	// Navigate loads a URL and waits for the page to be ready
	Navigate(ctx context.Context, url string) error

	// WaitVisible blocks until the selector is visible or the timeout lapses
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error

	// Exists reports whether the selector matches a present element
	Exists(ctx context.Context, selector string) (bool, error)

	// SetValue types a value into the element matched by selector
	SetValue(ctx context.Context, selector, value string) error

	// Click clicks the element matched by selector
	Click(ctx context.Context, selector string) error

	// CurrentURL returns the page URL the browser is on
	CurrentURL(ctx context.Context) (string, error)

	// Title returns the current document title
	Title(ctx context.Context) (string, error)
}

// TierReader exposes the browser storage tiers a token can live in.
// Keys are returned as flat maps; iteration order is up to the caller.
type TierReader interface {
	LocalStorage(ctx context.Context) (map[string]string, error)
	SessionStorage(ctx context.Context) (map[string]string, error)
	Cookies(ctx context.Context) (map[string]string, error)
	CurrentURL(ctx context.Context) (string, error)
}

// BrowserSession is one isolated browser context. Sessions are
// single-use: a retried login attempt gets a fresh one.
type BrowserSession interface {
	PageDriver
	TierReader

	// Screenshot captures the viewport as PNG
	Screenshot(ctx context.Context) ([]byte, error)

	// HTML returns the serialized DOM of the current page
	HTML(ctx context.Context) (string, error)

	// Close tears the browser context down
	Close() error
}

// BrowserService owns the browser allocator and hands out sessions
type BrowserService interface {
	// NewSession creates an isolated browser context
	NewSession(ctx context.Context) (BrowserSession, error)

	// Close shuts the allocator down
	Close() error
}
