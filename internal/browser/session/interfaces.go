// internal/browser/session/interfaces.go
package session

import (
	"context"

	"github.com/chromedp/chromedp"
)

// ActionExecutor runs chromedp actions against a tab without exposing the
// tab context itself.
//
// Callers pass their own operational context. Implementations combine it with
// the long-lived tab context so the actions see the CDP target while the
// caller's deadline still applies. The tab context is never handed out for an
// operation to cancel, since cancelling it closes the tab.
type ActionExecutor interface {
	// RunActions runs actions bounded by the session lifecycle and ctx. It
	// returns ErrSessionClosed, wrapped, once the tab has gone away.
	RunActions(ctx context.Context, actions ...chromedp.Action) error
	// RunBackgroundActions runs actions bounded only by the session
	// lifecycle. The values of ctx are kept but its cancellation is not, so
	// callers must bound the work themselves.
	RunBackgroundActions(ctx context.Context, actions ...chromedp.Action) error
}
