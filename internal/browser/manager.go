// internal/browser/manager.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/dishcheck/internal/browser/session"
	"github.com/xkilldash9x/dishcheck/internal/config"
)

// ErrManagerClosed is returned by NewSession after Shutdown.
var ErrManagerClosed = errors.New("browser manager is shut down")

const shutdownGracePeriod = 15 * time.Second

// Manager owns one Chrome process and the tabs opened in it. The browser is
// started lazily by the first NewSession call.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
	slots  *semaphore.Weighted

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	sessions      map[string]*session.Session
	closed        bool
}

// NewManager creates a manager. No process is started until a session is requested.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	limit := int64(cfg.MaxSessions)
	if limit < 1 {
		limit = 1
	}
	m := &Manager{
		cfg:      cfg,
		logger:   logger.Named("browser_manager"),
		slots:    semaphore.NewWeighted(limit),
		sessions: make(map[string]*session.Session),
	}
	m.logger.Debug("Browser manager created (launch deferred).")
	return m
}

// ensureBrowser launches Chrome if it is not running yet. Caller holds m.mu.
//
// chromedp starts the process with exec.CommandContext bound to the context
// of the first Run, and runs the browser's CDP handler under that same
// context. The launch therefore runs on browserCtx itself: a context derived
// from the caller's would stop the whole browser as soon as ensureBrowser
// returned. The caller's ctx can still abort a launch that is in progress,
// through context.AfterFunc, but it has no say once Chrome is up.
func (m *Manager) ensureBrowser(ctx context.Context) error {
	if m.browserCtx != nil {
		return nil
	}
	m.logger.Info("Launching browser.", zap.Bool("headless", m.cfg.Headless))

	// The process outlives the request that started it.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), DefaultAllocatorOptions(m.cfg)...)
	browserCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Errorf),
	)
	// chromedp's cancel waits for the browser to release its allocation slot,
	// which a second call may never see.
	browserCancel := sync.OnceFunc(cancel)

	stop := context.AfterFunc(ctx, browserCancel)
	err := chromedp.Run(browserCtx)
	aborted := !stop()
	if err != nil || aborted {
		browserCancel()
		allocCancel()
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				m.logger.Debug("Browser launch aborted.", zap.Error(err))
			}
			return fmt.Errorf("failed to launch browser: %w", ctxErr)
		}
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	if proc := chromedp.FromContext(browserCtx).Browser.Process(); proc != nil {
		m.logger.Debug("Browser launched.", zap.Int("pid", proc.Pid))
	}
	m.allocCancel = allocCancel
	m.browserCtx = browserCtx
	m.browserCancel = browserCancel
	return nil
}

// NewSession opens a new tab and returns it as an initialized session. The
// session is tracked until it is closed. When browser.max_sessions tabs are
// already open, NewSession blocks until one closes or ctx is done.
func (m *Manager) NewSession(ctx context.Context) (*session.Session, error) {
	// Acquire before taking m.mu: closing sessions need the lock to free a slot.
	if err := m.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for a free browser slot: %w", err)
	}
	released := false
	release := func() {
		if !released {
			released = true
			m.slots.Release(1)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		release()
		return nil, ErrManagerClosed
	}
	if err := m.ensureBrowser(ctx); err != nil {
		release()
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(m.browserCtx)
	var s *session.Session
	s = session.NewSession(tabCtx, tabCancel, m.cfg, m.logger, func() {
		m.mu.Lock()
		delete(m.sessions, s.ID())
		m.mu.Unlock()
		m.slots.Release(1)
	})
	if err := s.Initialize(ctx); err != nil {
		tabCancel()
		release()
		return nil, fmt.Errorf("failed to initialize session: %w", err)
	}

	m.sessions[s.ID()] = s
	m.logger.Debug("Session created.", zap.String("session_id", s.ID()), zap.Int("active", len(m.sessions)))
	return s, nil
}

// ActiveSessions returns the number of open sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes every session concurrently and then stops the browser.
// It is safe to call more than once.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	open := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	m.logger.Info("Shutting down browser manager.", zap.Int("sessions", len(open)))

	// 1. Close sessions. onClose takes m.mu, so the lock must not be held here.
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range open {
		g.Go(func() error {
			if err := s.Close(gctx); err != nil {
				return fmt.Errorf("session %s: %w", s.ID(), err)
			}
			return nil
		})
	}
	sessionErr := g.Wait()
	if sessionErr != nil {
		m.logger.Warn("Error while closing sessions.", zap.Error(sessionErr))
	}

	// 2. Stop the browser. Use a fresh deadline so an expired ctx still lets Chrome exit.
	m.mu.Lock()
	browserCtx, browserCancel, allocCancel := m.browserCtx, m.browserCancel, m.allocCancel
	m.browserCtx, m.browserCancel, m.allocCancel = nil, nil, nil
	m.mu.Unlock()

	if browserCtx == nil {
		m.logger.Debug("Browser was never launched.")
		return sessionErr
	}

	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(browserCtx) }()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Debug("Browser did not close cleanly.", zap.Error(err))
		}
	case <-time.After(shutdownGracePeriod):
		m.logger.Warn("Timed out waiting for browser to close; killing it.")
	}
	browserCancel()
	allocCancel()

	m.logger.Info("Browser manager shutdown complete.")
	return sessionErr
}
