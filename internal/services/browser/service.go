// -----------------------------------------------------------------------
// Browser Service - owns the Chrome exec allocator and hands out
// isolated single-use sessions for login attempts
// -----------------------------------------------------------------------

package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/claviger/internal/common"
	"github.com/ternarybob/claviger/internal/interfaces"
)

const defaultStartupTimeout = 30 * time.Second

// Service manages the Chrome allocator. Each NewSession call starts a
// fresh browser process with empty storage, so nothing from a failed
// attempt leaks into the next one.
type Service struct {
	config          common.BrowserConfig
	logger          arbor.ILogger
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	mu              sync.Mutex
	sessionCount    int
	closed          bool
}

var _ interfaces.BrowserService = (*Service)(nil)

// NewService creates the browser service. The allocator is configured
// here but no Chrome process starts until a session is requested.
func NewService(config common.BrowserConfig, logger arbor.ILogger) *Service {
	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if config.UserAgent != "" {
		allocatorOpts = append(allocatorOpts, chromedp.UserAgent(config.UserAgent))
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)

	logger.Info().
		Bool("headless", config.Headless).
		Dur("page_timeout", config.PageTimeout.Std()).
		Msg("Browser service initialized")

	return &Service{
		config:          config,
		logger:          logger,
		allocatorCtx:    allocatorCtx,
		allocatorCancel: allocatorCancel,
	}
}

// NewSession starts a fresh browser process and verifies it responds
// before handing it out.
func (s *Service) NewSession(ctx context.Context) (interfaces.BrowserSession, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("browser service is closed")
	}
	s.sessionCount++
	sessionNum := s.sessionCount
	s.mu.Unlock()

	startTime := time.Now()
	browserCtx, browserCancel := chromedp.NewContext(s.allocatorCtx)

	probeTimeout := defaultStartupTimeout
	if s.config.PageTimeout > 0 {
		probeTimeout = s.config.PageTimeout.Std()
	}
	probeCtx, probeCancel := context.WithTimeout(browserCtx, probeTimeout)
	defer probeCancel()

	// Startup probe: a browser that cannot open about:blank is not
	// worth handing out
	if err := chromedp.Run(probeCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		return nil, fmt.Errorf("browser session failed startup probe: %w", err)
	}

	var title string
	if err := chromedp.Run(probeCtx, chromedp.Title(&title)); err != nil {
		browserCancel()
		return nil, fmt.Errorf("browser session failed responsiveness check: %w", err)
	}

	s.logger.Debug().
		Int("session", sessionNum).
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser session started")

	return &Session{
		ctx:         browserCtx,
		cancel:      browserCancel,
		pageTimeout: s.config.PageTimeout.Std(),
		logger:      s.logger,
	}, nil
}

// Close shuts the allocator down, terminating any session still open
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.allocatorCancel()

	s.logger.Info().
		Int("sessions_served", s.sessionCount).
		Msg("Browser service shut down")
	return nil
}
