// Package browser owns the process-wide headless Chrome session shared by direct scrapers.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Config controls the shared browser.
type Config struct {
	Headless          bool
	UserAgent         string
	ExecPath          string
	MaxTabs           int
	NavigationTimeout time.Duration
}

// ErrClosed is returned after Close.
var ErrClosed = errors.New("browser session closed")

// Session lazily launches one browser and hands out isolated tabs. A crashed
// browser is relaunched on the next Acquire.
type Session struct {
	cfg    Config
	logger *zap.Logger
	tabs   chan struct{}

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	closed        bool
}

// NewSession validates cfg. The browser starts on first use.
func NewSession(cfg Config, logger *zap.Logger) (*Session, error) {
	if cfg.MaxTabs < 0 {
		return nil, fmt.Errorf("max tabs must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var tabs chan struct{}
	if cfg.MaxTabs > 0 {
		tabs = make(chan struct{}, cfg.MaxTabs)
	}
	return &Session{cfg: cfg, logger: logger, tabs: tabs}, nil
}

// Acquire returns the live browser context, launching it if needed.
func (s *Session) Acquire(ctx context.Context) (context.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.healthyLocked() {
		return s.browserCtx, nil
	}
	if s.browserCtx != nil {
		s.logger.Warn("browser session lost, relaunching")
		s.shutdownLocked()
	}
	if err := s.launchLocked(); err != nil {
		return nil, err
	}
	return s.browserCtx, nil
}

// Run opens a tab, applies the navigation timeout, and runs actions. It returns
// the HTTP status of the last document the tab loaded (0 if none was seen).
func (s *Session) Run(ctx context.Context, actions ...chromedp.Action) (int, error) {
	browserCtx, err := s.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.acquireTab(ctx); err != nil {
		return 0, err
	}
	defer s.releaseTab()

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	defer tabCancel()
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	tabCtx, cancel := context.WithTimeout(tabCtx, s.cfg.NavigationTimeout)
	defer cancel()

	meta := &documentStatus{}
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	all := append([]chromedp.Action{s.networkSetupAction()}, actions...)
	if err := chromedp.Run(tabCtx, all...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return meta.get(), ctxErr
		}
		return meta.get(), fmt.Errorf("chromedp run: %w", err)
	}
	return meta.get(), nil
}

// Close shuts the browser down. Further Acquire calls fail.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.shutdownLocked()
}

func (s *Session) healthyLocked() bool {
	return s.browserCtx != nil && s.browserCtx.Err() == nil
}

func (s *Session) launchLocked() error {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), s.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	// An empty Run starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("launch browser: %w", err)
	}
	s.allocCancel = allocCancel
	s.browserCtx = browserCtx
	s.browserCancel = browserCancel
	s.logger.Info("browser session started", zap.Bool("headless", s.cfg.Headless))
	return nil
}

func (s *Session) shutdownLocked() {
	if s.browserCancel != nil {
		s.browserCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
	s.browserCtx, s.browserCancel, s.allocCancel = nil, nil, nil
}

func (s *Session) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
	)
	if s.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if s.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(s.cfg.ExecPath))
	}
	return opts
}

func (s *Session) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (s *Session) acquireTab(ctx context.Context) error {
	if s.tabs == nil {
		return nil
	}
	select {
	case s.tabs <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser tab wait canceled: %w", ctx.Err())
	}
}

func (s *Session) releaseTab() {
	if s.tabs == nil {
		return
	}
	select {
	case <-s.tabs:
	default:
	}
}

type documentStatus struct {
	mu     sync.Mutex
	status int
}

func (d *documentStatus) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	d.status = int(resp.Response.Status)
	d.mu.Unlock()
}

func (d *documentStatus) get() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}
