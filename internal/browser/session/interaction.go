// internal/browser/session/interaction.go
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/dishcheck/api/schemas"
)

// Navigation and element actions each run under their own timeout derived
// from ctx. Expiry is reported as schemas.ErrWaitTimeout, not as a broken
// session.

// actionTimeout bounds single element actions.
const actionTimeout = 10 * time.Second

// Navigate loads url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Info("Navigating session.", zap.String("url", url))
	if err := s.runTimed(ctx, "navigate to "+url, s.navigationTimeout(), chromedp.Navigate(url)); err != nil {
		return err
	}
	s.logger.Debug("Navigation complete.", zap.String("url", url))
	return nil
}

// Reload reloads the current page and waits for the load event.
func (s *Session) Reload(ctx context.Context) error {
	s.logger.Info("Reloading page.")
	return s.runTimed(ctx, "reload", s.navigationTimeout(), chromedp.Reload())
}

// ScrollIntoViewCenter scrolls the best candidate matching loc to the centre
// of the viewport.
func (s *Session) ScrollIntoViewCenter(ctx context.Context, loc schemas.Locator) error {
	return s.elementAction(ctx, loc, "scroll", `el.scrollIntoView({block: 'center', inline: 'center'});`)
}

// SyntheticClick activates the element with a DOM click() call. No pointer
// events are simulated, so overlays covering the element cannot intercept it.
func (s *Session) SyntheticClick(ctx context.Context, loc schemas.Locator) error {
	s.logger.Debug("Dispatching synthetic click.", zap.Stringer("locator", loc))
	return s.elementAction(ctx, loc, "synthetic click", `el.click();`)
}

// Click simulates a real pointer click at the element's centre. Unlike
// SyntheticClick it goes through browser hit-testing.
func (s *Session) Click(ctx context.Context, loc schemas.Locator) error {
	if err := loc.Validate(); err != nil {
		return err
	}
	sel, by, err := queryFor(loc)
	if err != nil {
		return err
	}
	s.logger.Debug("Dispatching pointer click.", zap.Stringer("locator", loc))
	return s.runTimed(ctx, "click "+loc.String(), actionTimeout, chromedp.Click(sel, by, chromedp.NodeVisible))
}

// Type focuses the element matching loc and sends text as key events.
func (s *Session) Type(ctx context.Context, loc schemas.Locator, text string) error {
	if err := loc.Validate(); err != nil {
		return err
	}
	sel, by, err := queryFor(loc)
	if err != nil {
		return err
	}
	return s.runTimed(ctx, "type into "+loc.String(), actionTimeout, chromedp.SendKeys(sel, text, by, chromedp.NodeVisible))
}

// ExecuteScript evaluates script in the page and stores the result in res,
// which may be nil.
func (s *Session) ExecuteScript(ctx context.Context, script string, res interface{}) error {
	if err := s.RunActions(ctx, chromedp.Evaluate(script, res)); err != nil {
		return fmt.Errorf("script execution failed: %w", err)
	}
	return nil
}

func (s *Session) elementAction(ctx context.Context, loc schemas.Locator, name, body string) error {
	if err := loc.Validate(); err != nil {
		return err
	}
	var found bool
	if err := s.runTimed(ctx, name+" "+loc.String(), actionTimeout, chromedp.Evaluate(elementScript(loc, body), &found)); err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s %s: %w", name, loc, schemas.ErrNoSuchElement)
	}
	return nil
}

// runTimed runs actions under their own timeout. Expiry of that timeout is
// reported as schemas.ErrWaitTimeout; cancellation of ctx or the session is
// returned as is.
func (s *Session) runTimed(ctx context.Context, what string, timeout time.Duration, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := s.RunActions(opCtx, actions...)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSessionClosed) || ctx.Err() != nil {
		return err
	}
	if errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		s.logger.Debug("Browser action timed out.", zap.String("action", what), zap.Duration("timeout", timeout))
		return fmt.Errorf("%s: %w after %s", what, schemas.ErrWaitTimeout, timeout)
	}
	return fmt.Errorf("%s failed: %w", what, err)
}
