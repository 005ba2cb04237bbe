// -----------------------------------------------------------------------
// Browser Session - one isolated Chrome process driving a vendor login
// page, plus read access to the storage tiers a token can land in
// -----------------------------------------------------------------------

package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/claviger/internal/interfaces"
)

// FullScreenshot only emits PNG at quality 100; anything lower switches
// the capture to JPEG, which the snapshot files and PDF embed do not
// expect
const screenshotQuality = 100

// storageDumpScript walks a Web Storage object into a plain map so a
// single Evaluate round-trip returns every key
const storageDumpScript = `(() => {
	const out = {};
	const store = %s;
	for (let i = 0; i < store.length; i++) {
		const key = store.key(i);
		out[key] = store.getItem(key);
	}
	return out;
})()`

// Session is a live browser context. Operations run against the
// session's own chromedp context; the caller's context and the page
// timeout both bound each operation.
type Session struct {
	ctx         context.Context
	cancel      context.CancelFunc
	pageTimeout time.Duration
	logger      arbor.ILogger
}

var _ interfaces.BrowserSession = (*Session)(nil)

// run executes chromedp actions bounded by the given timeout (falling
// back to the session page timeout) and by the caller's context.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if timeout <= 0 {
		timeout = s.pageTimeout
	}
	if timeout <= 0 {
		timeout = defaultStartupTimeout
	}

	opCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(opCtx, actions...)
}

// Navigate loads a URL and waits for the document body to be ready
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug().Str("url", url).Msg("Navigating")
	return s.run(ctx, 0,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// WaitVisible blocks until the selector is visible or the timeout lapses
func (s *Session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return s.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// Exists reports whether the selector matches a present element without
// waiting for it
func (s *Session) Exists(ctx context.Context, selector string) (bool, error) {
	var present bool
	script := fmt.Sprintf("document.querySelector(%s) !== null", jsString(selector))
	if err := s.run(ctx, 0, chromedp.Evaluate(script, &present)); err != nil {
		return false, err
	}
	return present, nil
}

// SetValue clears the element and types the value with real key events,
// which split OTP inputs need for their auto-advance handlers
func (s *Session) SetValue(ctx context.Context, selector, value string) error {
	return s.run(ctx, 0,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

// Click clicks the element matched by selector
func (s *Session) Click(ctx context.Context, selector string) error {
	return s.run(ctx, 0, chromedp.Click(selector, chromedp.ByQuery))
}

// CurrentURL returns the page URL the browser is on
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, 0, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// Title returns the current document title
func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.run(ctx, 0, chromedp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}

// LocalStorage returns the page's localStorage as a flat map
func (s *Session) LocalStorage(ctx context.Context) (map[string]string, error) {
	return s.dumpWebStorage(ctx, "window.localStorage")
}

// SessionStorage returns the page's sessionStorage as a flat map
func (s *Session) SessionStorage(ctx context.Context) (map[string]string, error) {
	return s.dumpWebStorage(ctx, "window.sessionStorage")
}

func (s *Session) dumpWebStorage(ctx context.Context, store string) (map[string]string, error) {
	out := map[string]string{}
	script := fmt.Sprintf(storageDumpScript, store)
	if err := s.run(ctx, 0, chromedp.Evaluate(script, &out)); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", store, err)
	}
	return out, nil
}

// Cookies returns the browser context's cookies as name to value
func (s *Session) Cookies(ctx context.Context) (map[string]string, error) {
	out := map[string]string{}
	err := s.run(ctx, 0, chromedp.ActionFunc(func(cdpCtx context.Context) error {
		cookies, err := storage.GetCookies().Do(cdpCtx)
		if err != nil {
			return err
		}
		for _, cookie := range cookies {
			out[cookie.Name] = cookie.Value
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return out, nil
}

// Screenshot captures the full page as PNG
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, 0, chromedp.FullScreenshot(&buf, screenshotQuality)); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// HTML returns the serialized DOM of the current page
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, 0, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read page html: %w", err)
	}
	return html, nil
}

// Close tears the browser process down
func (s *Session) Close() error {
	s.cancel()
	s.logger.Debug().Msg("Browser session closed")
	return nil
}

// jsString encodes a Go string as a JavaScript string literal so
// selectors with quotes survive script interpolation
func jsString(s string) string {
	encoded, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(encoded)
}
