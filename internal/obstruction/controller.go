// internal/obstruction/controller.go
package obstruction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/dishcheck/api/schemas"
)

const defaultReloadTimeout = 15 * time.Second

// Page is the part of a browser session the controller needs. It is owned by
// the caller; the controller never opens or closes it.
//
// Waits must return an error wrapping schemas.ErrWaitTimeout when the
// condition did not hold in time. Element actions must return an error
// wrapping schemas.ErrNoSuchElement when nothing matched. Any other error is
// treated as a broken session and returned to the caller unchanged.
type Page interface {
	WaitPresent(ctx context.Context, loc schemas.Locator, timeout time.Duration) error
	WaitVisible(ctx context.Context, loc schemas.Locator, timeout time.Duration) error
	WaitClickable(ctx context.Context, loc schemas.Locator, timeout time.Duration) error
	WaitInvisible(ctx context.Context, loc schemas.Locator, timeout time.Duration) error
	WaitDocumentComplete(ctx context.Context, timeout time.Duration) error
	ScrollIntoViewCenter(ctx context.Context, loc schemas.Locator) error
	SyntheticClick(ctx context.Context, loc schemas.Locator) error
	Reload(ctx context.Context) error
	Snapshot(ctx context.Context, name string) (schemas.Snapshot, error)
}

// Result describes what a single ensure call observed and did.
type Result struct {
	Outcome schemas.Outcome `json:"outcome"`
	// Snapshot is set when the obstruction could not be cleared, or on
	// success when success capture is enabled.
	Snapshot *schemas.Snapshot `json:"snapshot,omitempty"`
	// SnapshotRef is the reference returned by the snapshot sink, if any.
	SnapshotRef string `json:"snapshot_ref,omitempty"`
	// Reloaded is true when the page was reloaded as a recovery attempt.
	Reloaded bool `json:"reloaded,omitempty"`
	// Reason explains a ClearFailed outcome.
	Reason string `json:"reason,omitempty"`
}

// Controller clears transient UI obstructions. It holds no per-call state
// and may be shared between sessions.
type Controller struct {
	logger           *zap.Logger
	sink             schemas.SnapshotSink
	reloadTimeout    time.Duration
	captureOnSuccess bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithSnapshotSink forwards every captured snapshot to sink.
func WithSnapshotSink(sink schemas.SnapshotSink) Option {
	return func(c *Controller) { c.sink = sink }
}

// WithReloadTimeout bounds the wait for the document to finish loading after
// a recovery reload.
func WithReloadTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.reloadTimeout = d
		}
	}
}

// WithSuccessCapture also captures a snapshot when an obstruction is cleared.
func WithSuccessCapture(enabled bool) Option {
	return func(c *Controller) { c.captureOnSuccess = enabled }
}

// NewController creates a Controller.
func NewController(logger *zap.Logger, opts ...Option) *Controller {
	c := &Controller{
		logger:        logger.Named("obstruction"),
		reloadTimeout: defaultReloadTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EnsurePopupCleared dismisses a modal popup if one shows up within timeout.
//
// The popup is detected once an element matching popup is displayed. A popup
// left in the DOM but hidden does not obstruct anything and counts as absent,
// so repeated calls after a dismissal return NotPresent. When the popup is
// up, confirm must become clickable; it is scrolled to the viewport centre
// and activated with a synthetic click, after which popup must become
// invisible. Every wait uses timeout.
//
// A popup that never appears yields NotPresent without any click. A popup
// that appears but cannot be dismissed yields ClearFailed with a snapshot.
// The returned error is non-nil only when the session itself failed.
func (c *Controller) EnsurePopupCleared(ctx context.Context, page Page, popup, confirm schemas.Locator, timeout time.Duration) (Result, error) {
	if err := validateLocators(popup, confirm); err != nil {
		return Result{}, err
	}
	log := c.logger.With(zap.String("obstruction", "popup"), zap.Stringer("locator", popup))

	// 1. Detect.
	if err := page.WaitVisible(ctx, popup, timeout); err != nil {
		if errors.Is(err, schemas.ErrWaitTimeout) {
			log.Debug("Popup not present.", zap.Duration("timeout", timeout))
			return Result{Outcome: schemas.NotPresent}, nil
		}
		return Result{}, fmt.Errorf("popup detection failed: %w", err)
	}
	log.Info("Popup detected, dismissing.", zap.Stringer("confirm", confirm))

	// 2. Act.
	if err := page.WaitClickable(ctx, confirm, timeout); err != nil {
		return c.failed(ctx, page, log, "popup", "confirm control not clickable", err)
	}
	if err := activate(ctx, page, confirm); err != nil {
		return c.failed(ctx, page, log, "popup", "confirm click failed", err)
	}

	// 3. Verify.
	if err := page.WaitInvisible(ctx, popup, timeout); err != nil {
		return c.failed(ctx, page, log, "popup", "popup still visible after confirm", err)
	}

	log.Info("Popup cleared.")
	return c.cleared(ctx, page, log, "popup_closed", false), nil
}

// EnsureChallengeCleared passes a bot challenge widget if one shows up within
// timeout.
//
// The widget is detected by challenge becoming clickable. It is scrolled to
// the viewport centre and activated with a synthetic click; the challenge
// counts as passed once post is present. If that does not happen within
// timeout, a snapshot is captured and the page is reloaded exactly once,
// after which post gets one more timeout to appear. Reloading is a
// best-effort workaround and does not guarantee recovery.
//
// A widget that never appears yields NotPresent without a reload. The
// returned error is non-nil only when the session itself failed.
func (c *Controller) EnsureChallengeCleared(ctx context.Context, page Page, challenge, post schemas.Locator, timeout time.Duration) (Result, error) {
	if err := validateLocators(challenge, post); err != nil {
		return Result{}, err
	}
	log := c.logger.With(zap.String("obstruction", "challenge"), zap.Stringer("locator", challenge))

	// 1. Detect.
	if err := page.WaitClickable(ctx, challenge, timeout); err != nil {
		if errors.Is(err, schemas.ErrWaitTimeout) {
			log.Debug("Challenge not present.", zap.Duration("timeout", timeout))
			return Result{Outcome: schemas.NotPresent}, nil
		}
		return Result{}, fmt.Errorf("challenge detection failed: %w", err)
	}
	log.Info("Challenge detected, activating.")

	// 2. Act, 3. Verify.
	var reason string
	err := activate(ctx, page, challenge)
	if err == nil {
		err = page.WaitPresent(ctx, post, timeout)
		if err == nil {
			log.Info("Challenge cleared.")
			return c.cleared(ctx, page, log, "challenge_passed", false), nil
		}
		reason = fmt.Sprintf("%s not present after challenge", post)
	} else {
		reason = "challenge click failed"
	}
	if !isClearFailure(err) {
		return Result{}, fmt.Errorf("challenge: %s: %w", reason, err)
	}

	// 4. Recover.
	log.Warn("Challenge not passed, reloading page.", zap.String("reason", reason), zap.Error(err))
	res := Result{Outcome: schemas.ClearFailed, Reloaded: true, Reason: fmt.Sprintf("%s: %v", reason, err)}
	res.Snapshot, res.SnapshotRef = c.capture(ctx, page, log, "challenge_failed")

	if err := page.Reload(ctx); err != nil {
		if !isClearFailure(err) {
			return Result{}, fmt.Errorf("challenge recovery reload failed: %w", err)
		}
		res.Reason = fmt.Sprintf("reload failed: %v", err)
		log.Warn("Challenge could not be cleared.", zap.String("reason", res.Reason))
		return res, nil
	}
	if err := page.WaitDocumentComplete(ctx, c.reloadTimeout); err != nil {
		if !isClearFailure(err) {
			return Result{}, fmt.Errorf("challenge recovery failed: %w", err)
		}
		res.Reason = fmt.Sprintf("document not complete after reload: %v", err)
		log.Warn("Challenge could not be cleared.", zap.String("reason", res.Reason))
		return res, nil
	}
	if err := page.WaitPresent(ctx, post, timeout); err != nil {
		if !isClearFailure(err) {
			return Result{}, fmt.Errorf("challenge recovery failed: %w", err)
		}
		res.Reason = fmt.Sprintf("%s not present after reload: %v", post, err)
		log.Warn("Challenge could not be cleared.", zap.String("reason", res.Reason), zap.String("snapshot", res.SnapshotRef))
		return res, nil
	}

	log.Info("Challenge cleared after reload.")
	cleared := c.cleared(ctx, page, log, "challenge_passed", true)
	if cleared.Snapshot == nil {
		cleared.Snapshot, cleared.SnapshotRef = res.Snapshot, res.SnapshotRef
	}
	return cleared, nil
}

// activate scrolls loc into view and clicks it synthetically.
func activate(ctx context.Context, page Page, loc schemas.Locator) error {
	if err := page.ScrollIntoViewCenter(ctx, loc); err != nil {
		return err
	}
	return page.SyntheticClick(ctx, loc)
}

// failed turns an act or verify error into a ClearFailed result. Errors that
// do not stem from the obstruction itself are returned instead.
func (c *Controller) failed(ctx context.Context, page Page, log *zap.Logger, kind, reason string, err error) (Result, error) {
	if !isClearFailure(err) {
		return Result{}, fmt.Errorf("%s: %s: %w", kind, reason, err)
	}
	res := Result{Outcome: schemas.ClearFailed, Reason: fmt.Sprintf("%s: %v", reason, err)}
	res.Snapshot, res.SnapshotRef = c.capture(ctx, page, log, kind+"_failed")
	log.Warn("Obstruction could not be cleared.", zap.String("reason", res.Reason), zap.String("snapshot", res.SnapshotRef))
	return res, nil
}

func (c *Controller) cleared(ctx context.Context, page Page, log *zap.Logger, name string, reloaded bool) Result {
	res := Result{Outcome: schemas.Cleared, Reloaded: reloaded}
	if c.captureOnSuccess {
		res.Snapshot, res.SnapshotRef = c.capture(ctx, page, log, name)
	}
	return res
}

// capture takes a snapshot and forwards it to the sink. Failures are logged
// and never change the outcome.
func (c *Controller) capture(ctx context.Context, page Page, log *zap.Logger, name string) (*schemas.Snapshot, string) {
	snap, err := page.Snapshot(ctx, name)
	if err != nil {
		log.Warn("Failed to capture snapshot.", zap.String("name", name), zap.Error(err))
		return nil, ""
	}
	if c.sink == nil {
		return &snap, ""
	}
	ref, err := c.sink.Attach(ctx, snap)
	if err != nil {
		log.Warn("Failed to store snapshot.", zap.String("name", name), zap.Error(err))
		return &snap, ""
	}
	return &snap, ref
}

// isClearFailure reports whether err means the obstruction could not be
// handled, as opposed to the session being unusable.
func isClearFailure(err error) bool {
	return errors.Is(err, schemas.ErrWaitTimeout) || errors.Is(err, schemas.ErrNoSuchElement)
}

func validateLocators(locs ...schemas.Locator) error {
	for _, l := range locs {
		if err := l.Validate(); err != nil {
			return err
		}
	}
	return nil
}
