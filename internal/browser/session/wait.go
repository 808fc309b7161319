// internal/browser/session/wait.go
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/dishcheck/api/schemas"
)

// -- Element Queries --

// Count returns how many elements currently match loc.
func (s *Session) Count(ctx context.Context, loc schemas.Locator) (int, error) {
	st, err := s.state(ctx, loc)
	if err != nil {
		return 0, err
	}
	return st.Count, nil
}

// IsDisplayed reports whether at least one element matching loc is visible.
func (s *Session) IsDisplayed(ctx context.Context, loc schemas.Locator) (bool, error) {
	st, err := s.state(ctx, loc)
	if err != nil {
		return false, err
	}
	return st.Visible > 0, nil
}

func (s *Session) state(ctx context.Context, loc schemas.Locator) (elementState, error) {
	var st elementState
	if err := loc.Validate(); err != nil {
		return st, err
	}
	if err := s.RunActions(ctx, chromedp.Evaluate(stateScript(loc), &st)); err != nil {
		return st, err
	}
	if st.Error != "" {
		return st, fmt.Errorf("%w: %s: %s", schemas.ErrInvalidLocator, loc, st.Error)
	}
	return st, nil
}

// -- Waits --

// WaitPresent waits until at least one element matches loc.
func (s *Session) WaitPresent(ctx context.Context, loc schemas.Locator, timeout time.Duration) error {
	return s.waitElement(ctx, loc, "present", timeout, func(st elementState) bool { return st.Count > 0 })
}

// WaitVisible waits until at least one element matching loc is displayed.
func (s *Session) WaitVisible(ctx context.Context, loc schemas.Locator, timeout time.Duration) error {
	return s.waitElement(ctx, loc, "visible", timeout, func(st elementState) bool { return st.Visible > 0 })
}

// WaitClickable waits until an element matching loc is both displayed and enabled.
func (s *Session) WaitClickable(ctx context.Context, loc schemas.Locator, timeout time.Duration) error {
	return s.waitElement(ctx, loc, "clickable", timeout, func(st elementState) bool { return st.Clickable > 0 })
}

// WaitInvisible waits until no element matching loc is displayed. A locator
// that matches nothing satisfies the wait immediately.
func (s *Session) WaitInvisible(ctx context.Context, loc schemas.Locator, timeout time.Duration) error {
	return s.waitElement(ctx, loc, "invisible", timeout, func(st elementState) bool { return st.Visible == 0 })
}

// WaitDocumentComplete waits for document.readyState to reach "complete".
func (s *Session) WaitDocumentComplete(ctx context.Context, timeout time.Duration) error {
	return s.poll(ctx, "document to be complete", timeout, func(pctx context.Context) (bool, error) {
		var state string
		if err := s.RunActions(pctx, chromedp.Evaluate(`document.readyState`, &state)); err != nil {
			return false, err
		}
		return state == "complete", nil
	})
}

func (s *Session) waitElement(ctx context.Context, loc schemas.Locator, cond string, timeout time.Duration, satisfied func(elementState) bool) error {
	if err := loc.Validate(); err != nil {
		return err
	}
	return s.poll(ctx, fmt.Sprintf("%s to be %s", loc, cond), timeout, func(pctx context.Context) (bool, error) {
		st, err := s.state(pctx, loc)
		if err != nil {
			return false, err
		}
		return satisfied(st), nil
	})
}

// poll runs check every poll interval until it reports true, the
// timeout elapses or a non-transient error occurs. The check always runs at
// least once, even with a zero timeout. Timeouts wrap schemas.ErrWaitTimeout;
// cancellation of ctx is returned as ctx.Err().
func (s *Session) poll(ctx context.Context, what string, timeout time.Duration, check func(context.Context) (bool, error)) error {
	if s.Closed() {
		return ErrSessionClosed
	}
	if timeout < 0 {
		timeout = 0
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	checkCtx := waitCtx
	if timeout == 0 {
		checkCtx = ctx
	}

	ticker := time.NewTicker(s.pollInterval())
	defer ticker.Stop()

	start := time.Now()
	var lastTransient error
	for attempt := 1; ; attempt++ {
		ok, err := check(checkCtx)
		if err == nil && ok {
			return nil
		}
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case waitCtx.Err() != nil && timeout > 0:
				// The deadline expired while the check was in flight.
			case isTransient(err):
				lastTransient = err
				s.logger.Debug("Transient error while waiting, retrying.",
					zap.String("condition", what), zap.Int("attempt", attempt), zap.Error(err))
			default:
				return fmt.Errorf("waiting for %s: %w", what, err)
			}
		}
		if timeout == 0 {
			return s.timeoutError(what, timeout, lastTransient)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-waitCtx.Done():
			s.logger.Debug("Wait timed out.", zap.String("condition", what), zap.Duration("elapsed", time.Since(start)))
			return s.timeoutError(what, timeout, lastTransient)
		case <-ticker.C:
		}
	}
}

func (s *Session) timeoutError(what string, timeout time.Duration, lastTransient error) error {
	if lastTransient != nil {
		return fmt.Errorf("waiting for %s: %w after %s (last error: %v)", what, schemas.ErrWaitTimeout, timeout, lastTransient)
	}
	return fmt.Errorf("waiting for %s: %w after %s", what, schemas.ErrWaitTimeout, timeout)
}

// isTransient reports whether err is expected while the page is navigating
// or reloading, when evaluations race with the JavaScript context being torn
// down.
func isTransient(err error) bool {
	var exc *runtime.ExceptionDetails
	if errors.As(err, &exc) {
		return true
	}
	var cdpErr *cdproto.Error
	if errors.As(err, &cdpErr) {
		msg := strings.ToLower(cdpErr.Message)
		for _, s := range []string{"execution context", "cannot find context", "inspected target navigated", "no node with given id"} {
			if strings.Contains(msg, s) {
				return true
			}
		}
	}
	return false
}
