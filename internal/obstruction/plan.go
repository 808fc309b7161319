// internal/obstruction/plan.go
package obstruction

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/dishcheck/api/schemas"
	"github.com/xkilldash9x/dishcheck/internal/config"
)

// PopupStep describes a popup and its dismiss control.
type PopupStep struct {
	Popup   schemas.Locator
	Confirm schemas.Locator
	Timeout time.Duration
}

// ChallengeStep describes a challenge widget and the element that proves it
// was passed.
type ChallengeStep struct {
	Challenge schemas.Locator
	Post      schemas.Locator
	Timeout   time.Duration
}

// Plan lists the obstructions to clear after a page load. Nil steps are skipped.
type Plan struct {
	Popup     *PopupStep
	Challenge *ChallengeStep
}

// Report holds the results of ClearAll. A nil entry means the step was not
// part of the plan or did not run.
type Report struct {
	Popup     *Result `json:"popup,omitempty"`
	Challenge *Result `json:"challenge,omitempty"`
}

// Failed reports whether any step ended in ClearFailed.
func (r Report) Failed() bool {
	return (r.Popup != nil && r.Popup.Outcome == schemas.ClearFailed) ||
		(r.Challenge != nil && r.Challenge.Outcome == schemas.ClearFailed)
}

// PlanFromConfig builds a Plan from the enabled entries of cfg.
func PlanFromConfig(cfg config.ObstructionConfig) (Plan, error) {
	var plan Plan
	if cfg.Popup.Enabled {
		popup, err := cfg.Popup.Locator.Locator()
		if err != nil {
			return Plan{}, fmt.Errorf("popup locator: %w", err)
		}
		confirm, err := cfg.Popup.Confirm.Locator()
		if err != nil {
			return Plan{}, fmt.Errorf("popup confirm locator: %w", err)
		}
		plan.Popup = &PopupStep{Popup: popup, Confirm: confirm, Timeout: cfg.Popup.Timeout}
	}
	if cfg.Challenge.Enabled {
		challenge, err := cfg.Challenge.Locator.Locator()
		if err != nil {
			return Plan{}, fmt.Errorf("challenge locator: %w", err)
		}
		post, err := cfg.Challenge.Post.Locator()
		if err != nil {
			return Plan{}, fmt.Errorf("challenge post locator: %w", err)
		}
		plan.Challenge = &ChallengeStep{Challenge: challenge, Post: post, Timeout: cfg.Challenge.Timeout}
	}
	return plan, nil
}

// OptionsFromConfig returns the controller options implied by cfg.
func OptionsFromConfig(cfg config.ObstructionConfig) []Option {
	return []Option{
		WithReloadTimeout(cfg.ReloadTimeout),
		WithSuccessCapture(cfg.CaptureOnSuccess),
	}
}

// ClearAll runs the popup step and then the challenge step, the order in
// which they show up on the target site after opening a page. It stops at the
// first session error; the report holds whatever completed before it.
func (c *Controller) ClearAll(ctx context.Context, page Page, plan Plan) (Report, error) {
	var report Report
	if step := plan.Popup; step != nil {
		res, err := c.EnsurePopupCleared(ctx, page, step.Popup, step.Confirm, step.Timeout)
		if err != nil {
			return report, err
		}
		report.Popup = &res
	}
	if step := plan.Challenge; step != nil {
		res, err := c.EnsureChallengeCleared(ctx, page, step.Challenge, step.Post, step.Timeout)
		if err != nil {
			return report, err
		}
		report.Challenge = &res
	}
	c.logger.Debug("Obstruction plan finished.", zap.Bool("failed", report.Failed()))
	return report, nil
}
