package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/nexus-agent/api/schemas"
	"github.com/xkilldash9x/nexus-agent/internal/config"
)

// Session is the chromedp-backed page the agent controls. One navigation at
// a time: Navigate replaces the current tab with a fresh one, and every
// operation is serialized through a single mutex because CDP cannot safely
// interleave commands against one target.
type Session struct {
	logger   *zap.Logger
	cfg      config.BrowserConfig
	allocCtx context.Context
	notifier Notifier

	mu         sync.Mutex
	pageCtx    context.Context
	pageCancel context.CancelFunc
	active     bool
	closed     bool
}

var _ schemas.BrowserSession = (*Session)(nil)

func newSession(allocCtx context.Context, cfg config.BrowserConfig, logger *zap.Logger, notifier Notifier) *Session {
	return &Session{
		logger:   logger.Named("session"),
		cfg:      cfg,
		allocCtx: allocCtx,
		notifier: notifier,
	}
}

// Navigate opens a fresh tab, loads the URL and waits for the load to
// settle. The previous tab, if any, is discarded. On success the session
// becomes active.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	s.logger.Info("Navigating.", zap.String("url", url))

	tabCtx, tabCancel := chromedp.NewContext(s.allocCtx)
	navCtx, cancel := s.deadline(ctx, tabCtx, s.cfg.NavigationTimeout)
	defer cancel()

	err := chromedp.Run(navCtx,
		// Pin the viewport so scroll offsets and screenshots are stable
		// across environments.
		emulation.SetDeviceMetricsOverride(1280, 1024, 1.0, false),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.cfg.PostLoadWait),
	)
	if err != nil {
		tabCancel()
		if errors.Is(navCtx.Err(), context.DeadlineExceeded) {
			s.logger.Error("Navigation timed out.", zap.String("url", url))
			return &TimeoutError{Op: "navigate", Timeout: s.cfg.NavigationTimeout}
		}
		s.logger.Error("Navigation failed.", zap.String("url", url), zap.Error(err))
		return &OpError{Op: "navigate", Err: err}
	}

	// Replace the old tab only after the new one is healthy.
	if s.pageCancel != nil {
		s.pageCancel()
	}
	s.pageCtx, s.pageCancel = tabCtx, tabCancel
	s.active = true

	if s.notifier != nil {
		s.notifier.EmitBrowserUpdate(url)
	}
	s.logger.Info("Navigation successful.", zap.String("url", url))
	return nil
}

// WaitForSelector polls until the selector matches an element. A timeout of
// zero uses the configured session default.
func (s *Session) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timeout <= 0 {
		timeout = s.cfg.SelectorTimeout
	}
	page, err := s.pageLocked()
	if err != nil {
		return err
	}
	return s.waitForSelectorLocked(ctx, page, selector, timeout)
}

// waitForSelectorLocked polls querySelector at the configured interval.
// Caller holds s.mu.
func (s *Session) waitForSelectorLocked(ctx context.Context, page context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := s.deadline(ctx, page, timeout)
	defer cancel()

	script := fmt.Sprintf("document.querySelector(%q) !== null", selector)
	for {
		var found bool
		if err := chromedp.Run(waitCtx, chromedp.Evaluate(script, &found)); err != nil {
			if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
				return &NotFoundError{Selector: selector, Waited: timeout}
			}
			return &OpError{Op: "wait_for_selector", Err: err}
		}
		if found {
			return nil
		}
		select {
		case <-waitCtx.Done():
			return &NotFoundError{Selector: selector, Waited: timeout}
		case <-time.After(s.cfg.SelectorPoll):
		}
	}
}

// Click waits for the selector and clicks the first match.
func (s *Session) Click(ctx context.Context, selector string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, err := s.pageLocked()
	if err != nil {
		return err
	}
	if err := s.waitForSelectorLocked(ctx, page, selector, s.cfg.SelectorTimeout); err != nil {
		return err
	}
	return s.run(ctx, page, "click", chromedp.Click(selector, chromedp.ByQuery))
}

// Type sends text to the element matching selector. An empty selector sends
// keystrokes to whatever currently holds focus, which is how the model types
// right after clicking an input.
func (s *Session) Type(ctx context.Context, selector, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, err := s.pageLocked()
	if err != nil {
		return err
	}
	if selector == "" {
		var hasFocus bool
		probe := `document.activeElement !== null && document.activeElement !== document.body`
		if err := s.run(ctx, page, "type", chromedp.Evaluate(probe, &hasFocus)); err != nil {
			return err
		}
		if !hasFocus {
			return &NotFoundError{Selector: ":focus", Waited: 0}
		}
		return s.run(ctx, page, "type", chromedp.KeyEvent(text))
	}
	if err := s.waitForSelectorLocked(ctx, page, selector, s.cfg.SelectorTimeout); err != nil {
		return err
	}
	return s.run(ctx, page, "type", chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

// Scroll moves the viewport by amount pixels. Direction "up" negates the
// amount; anything else scrolls down. A zero amount defaults to 500.
func (s *Session) Scroll(ctx context.Context, direction string, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, err := s.pageLocked()
	if err != nil {
		return err
	}
	if amount <= 0 {
		amount = 500
	}
	delta := amount
	if direction == "up" {
		delta = -amount
	}
	script := fmt.Sprintf("window.scrollBy(0, %d)", delta)
	return s.run(ctx, page, "scroll", chromedp.Evaluate(script, nil))
}

// Upload attaches a local file to the file input matching selector.
func (s *Session) Upload(ctx context.Context, selector, filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, err := s.pageLocked()
	if err != nil {
		return err
	}
	if err := s.waitForSelectorLocked(ctx, page, selector, s.cfg.SelectorTimeout); err != nil {
		return err
	}
	return s.run(ctx, page, "upload", chromedp.SetUploadFiles(selector, []string{filePath}, chromedp.ByQuery))
}

// Content returns the full page markup.
func (s *Session) Content(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, err := s.pageLocked()
	if err != nil {
		return "", err
	}
	var html string
	if err := s.run(ctx, page, "content", chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// Screenshot captures the current viewport as PNG bytes.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab, err := s.pageLocked()
	if err != nil {
		return nil, err
	}
	var buf []byte
	capture := chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = cdppage.CaptureScreenshot().
			WithFormat(cdppage.CaptureScreenshotFormatPng).
			Do(ctx)
		return err
	})
	if err := s.run(ctx, tab, "screenshot", capture); err != nil {
		return nil, err
	}
	return buf, nil
}

// CurrentURL returns the page location, or "" when nothing has been loaded.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.closed {
		return "", nil
	}
	var url string
	if err := s.run(ctx, s.pageCtx, "current_url", chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// Active reports whether a navigation has succeeded in this session.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active && !s.closed
}

// Reset discards the current page. The session can navigate again afterwards.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pageCancel != nil {
		s.pageCancel()
		s.pageCtx, s.pageCancel = nil, nil
	}
	s.active = false
	s.logger.Info("Session reset.")
	return nil
}

// Close releases the tab permanently. Further operations fail with
// ErrSessionClosed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.pageCancel != nil {
		s.pageCancel()
		s.pageCtx, s.pageCancel = nil, nil
	}
	s.active = false
	s.closed = true
	s.logger.Debug("Session closed.")
}

// pageLocked returns the current tab context or the appropriate state error.
// Caller holds s.mu.
func (s *Session) pageLocked() (context.Context, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if !s.active || s.pageCtx == nil {
		return nil, ErrNoActivePage
	}
	return s.pageCtx, nil
}

// run executes actions against the tab under the action timeout, honoring
// the caller's context as well as the tab lifetime.
func (s *Session) run(ctx context.Context, page context.Context, op string, actions ...chromedp.Action) error {
	runCtx, cancel := s.deadline(ctx, page, s.cfg.ActionTimeout)
	defer cancel()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return &TimeoutError{Op: op, Timeout: s.cfg.ActionTimeout}
		}
		return &OpError{Op: op, Err: err}
	}
	return nil
}

// deadline derives a context that ends when the tab dies, the caller gives
// up, or the timeout elapses, whichever comes first.
func (s *Session) deadline(caller, page context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel1 := context.WithTimeout(page, timeout)
	stop := context.AfterFunc(caller, cancel1)
	return runCtx, func() {
		stop()
		cancel1()
	}
}
