// internal/browser/session/context_utils.go
package session

import (
	"context"
	"time"
)

// CombineContext returns a context derived from primary (the chromedp tab
// context) that is cancelled when either primary or secondary (the caller's
// operational context) is done. It inherits the values of primary, which is
// where chromedp keeps the browser and target an action runs against.
//
// The result is only safe for actions on a tab that is already attached.
// chromedp ties the target's event loop to the context of the first Run on a
// tab, so running that first Run on a combined context would tear the loop
// down when the operation returns. See Session.Initialize.
//
// The deadline of secondary is enforced through cancellation only.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	// Derive from primary to keep its values and its cancellation.
	combined, cancel := context.WithCancel(primary)
	if secondary.Done() == nil {
		// secondary can never be cancelled; nothing to link.
		return combined, cancel
	}

	// The goroutine exits when either side is done.
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

// detachedContext keeps the values of its parent, including the chromedp
// target, but ignores the parent's deadline and cancellation.
type detachedContext struct {
	context.Context
}

func (detachedContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (detachedContext) Done() <-chan struct{}       { return nil }
func (detachedContext) Err() error                  { return nil }

// Detach returns a context with the values of ctx that is never cancelled.
// It is meant for cleanup and diagnostics that must still reach the tab after
// the caller has given up, such as closing a target or taking a failure
// snapshot. Callers put their own timeout on the result.
func Detach(ctx context.Context) context.Context {
	return detachedContext{ctx}
}
