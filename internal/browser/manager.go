// Package browser drives a headless Chromium instance over the DevTools
// protocol. The Manager owns the browser process; a Session is the single
// controllable page the agent works against.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/nexus-agent/internal/config"
)

const shutdownGracePeriod = 15 * time.Second

// Notifier receives page lifecycle notifications. The event bus satisfies
// this; tests may pass nil.
type Notifier interface {
	EmitBrowserUpdate(url string)
}

// Manager handles the Chromium process lifecycle. Launch is deferred until
// the first session is requested so commands that never touch a page do not
// pay the startup cost.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocCtx    context.Context
	allocCancel context.CancelFunc

	initOnce sync.Once
	initErr  error
}

// NewManager creates a browser manager. The browser process starts lazily.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	m := &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg,
	}
	m.logger.Debug("Browser manager created (launch deferred).")
	return m
}

// initialize builds the exec allocator that owns the Chromium process.
func (m *Manager) initialize() error {
	m.initOnce.Do(func() {
		m.logger.Info("Launching headless browser.", zap.Bool("headless", m.cfg.Headless))

		opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
		opts = append(opts,
			chromedp.Flag("headless", m.cfg.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
		if m.cfg.IgnoreTLSErrors {
			opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
		}
		for _, arg := range m.cfg.Args {
			opts = append(opts, chromedp.Flag(arg, true))
		}

		m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	})
	return m.initErr
}

// NewSession creates the controllable page session. Multiple sessions share
// the one browser process, each in its own tab.
func (m *Manager) NewSession(notifier Notifier) (*Session, error) {
	if err := m.initialize(); err != nil {
		return nil, fmt.Errorf("browser launch failed: %w", err)
	}
	return newSession(m.allocCtx, m.cfg, m.logger, notifier), nil
}

// Shutdown terminates the browser process. Safe to call when the browser was
// never launched.
func (m *Manager) Shutdown() {
	if m.allocCancel == nil {
		return
	}
	m.logger.Info("Shutting down browser manager.")

	done := make(chan struct{})
	go func() {
		m.allocCancel()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGracePeriod):
		m.logger.Warn("Timeout waiting for browser process to exit.")
	}
}
