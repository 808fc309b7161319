// internal/browser/session/session.go
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/dishcheck/internal/config"
)

// ErrSessionClosed is returned by every operation on a session after Close.
var ErrSessionClosed = errors.New("browser session is closed")

const defaultPollInterval = 250 * time.Millisecond

// Session is one browser tab driven over CDP. It is the Session Handle the
// obstruction controller operates on.
type Session struct {
	id     string
	ctx    context.Context // chromedp tab context, carries the CDP target
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    config.BrowserConfig

	onClose   func()
	closeOnce sync.Once

	mu     sync.RWMutex
	closed bool
}

// Ensure Session implements the interface.
var _ ActionExecutor = (*Session)(nil)

// NewSession wraps an existing chromedp tab context. cancel releases the tab;
// the session calls it at most once, because chromedp's cancel for a context
// that allocated its own browser blocks on a second call.
func NewSession(
	ctx context.Context,
	cancel context.CancelFunc,
	cfg config.BrowserConfig,
	logger *zap.Logger,
	onClose func(),
) *Session {
	id := uuid.New().String()
	return &Session{
		id:      id,
		ctx:     ctx,
		cancel:  sync.OnceFunc(cancel),
		logger:  logger.Named("session").With(zap.String("session_id", id)),
		cfg:     cfg,
		onClose: onClose,
	}
}

// Initialize attaches to the tab and applies viewport and cache settings.
//
// The first chromedp.Run on a tab context creates and attaches the CDP target
// and starts the target's event loop under the context it was given. That
// loop also routes command responses back to callers, so it has to live as
// long as the tab: the attach runs on s.ctx, never on a context derived from
// ctx. If ctx ends while the attach is still in flight, the tab is cancelled
// instead, which unblocks chromedp and releases the target.
func (s *Session) Initialize(ctx context.Context) error {
	// 1. Force target creation so that later failures point at the page, not the launch.
	if err := s.attach(ctx); err != nil {
		return fmt.Errorf("failed to attach to browser target: %w", err)
	}

	// 2. Per-tab emulation.
	var tasks chromedp.Tasks
	if w, h := s.cfg.Viewport.Width, s.cfg.Viewport.Height; w > 0 && h > 0 {
		tasks = append(tasks, emulation.SetDeviceMetricsOverride(int64(w), int64(h), 1, false))
	}
	if s.cfg.DisableCache {
		tasks = append(tasks, network.Enable(), network.SetCacheDisabled(true))
	}
	if len(tasks) > 0 {
		if err := s.RunActions(ctx, tasks); err != nil {
			return fmt.Errorf("failed to apply session settings: %w", err)
		}
	}

	s.logger.Debug("Session initialized.")
	return nil
}

func (s *Session) attach(ctx context.Context) error {
	if s.Closed() {
		return ErrSessionClosed
	}
	stop := context.AfterFunc(ctx, s.cancel)
	err := chromedp.Run(s.ctx)
	if !stop() {
		// The tab is gone along with ctx; whatever Run returned is a symptom.
		return ctx.Err()
	}
	return err
}

// ID returns the unique identifier of the session.
func (s *Session) ID() string {
	return s.id
}

// Context returns the long-lived chromedp context of the tab.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close releases the tab. It is safe to call more than once.
//
// chromedp.Cancel detaches from and closes the target, or shuts the whole
// browser down gracefully when this tab's context launched it, and then waits
// for chromedp's handlers to exit. ctx bounds that wait only; the tab context
// is cancelled afterwards either way so nothing is left running.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.logger.Debug("Closing session.")
		// chromedp.Cancel closes the target and waits for its handler to exit.
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(s.ctx) }()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Debug("Session target did not close cleanly.", zap.Error(err))
			}
		case <-ctx.Done():
			s.logger.Warn("Timed out waiting for session target to close.", zap.Error(ctx.Err()))
		}
		s.cancel()

		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

// RunActions executes chromedp actions bounded by both the session lifecycle
// and ctx. The tab must already be attached by Initialize: the actions run on
// a context combined from the tab context and ctx, and cancelling that
// combined context when the call returns must not reach the target's event
// loop.
func (s *Session) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	if s.Closed() {
		return ErrSessionClosed
	}
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		// Cancellation of the tab context means the session went away underneath us.
		if s.ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrSessionClosed, err)
		}
		return err
	}
	return nil
}

// RunBackgroundActions executes actions that must outlive ctx's cancellation,
// such as capturing a diagnostic snapshot after the caller gave up.
func (s *Session) RunBackgroundActions(ctx context.Context, actions ...chromedp.Action) error {
	return s.RunActions(Detach(ctx), actions...)
}

func (s *Session) pollInterval() time.Duration {
	if s.cfg.PollInterval > 0 {
		return s.cfg.PollInterval
	}
	return defaultPollInterval
}

func (s *Session) navigationTimeout() time.Duration {
	if s.cfg.NavigationTimeout > 0 {
		return s.cfg.NavigationTimeout
	}
	return 60 * time.Second
}
