// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/dishcheck/api/schemas"
	"github.com/xkilldash9x/dishcheck/internal/config"
	"github.com/xkilldash9x/dishcheck/internal/observability"
	"github.com/xkilldash9x/dishcheck/internal/obstruction"
)

// resetForTest isolates a test from the process environment: a fresh logger,
// an empty working directory and home, and a fake browser.
func resetForTest(t *testing.T, opener *fakeOpener) {
	t.Helper()

	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	homedir.Reset()
	t.Cleanup(homedir.Reset)

	prev := newPageOpener
	newPageOpener = func(config.BrowserConfig, *zap.Logger) pageOpener { return opener }
	t.Cleanup(func() { newPageOpener = prev })
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// defaultPlan returns the locators the default configuration targets.
func defaultPlan(t *testing.T) obstruction.Plan {
	t.Helper()
	plan, err := obstruction.PlanFromConfig(config.NewDefaultConfig().Obstruction)
	require.NoError(t, err)
	require.NotNil(t, plan.Popup)
	require.NotNil(t, plan.Challenge)
	return plan
}

// fakeTab is a page whose obstructions follow a few switches.
type fakeTab struct {
	id   string
	plan obstruction.Plan

	mu      sync.Mutex
	url     string
	visible map[schemas.Locator]bool
	// passOnClick makes a click on the challenge reveal the post element.
	passOnClick bool
	closed      bool
}

func (f *fakeTab) ID() string { return f.id }

func (f *fakeTab) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.url = url
	return nil
}

func (f *fakeTab) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTab) check(loc schemas.Locator, want bool, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.visible[loc] == want {
		return nil
	}
	return fmt.Errorf("waiting for %s: %w after %s", loc, schemas.ErrWaitTimeout, timeout)
}

func (f *fakeTab) WaitPresent(_ context.Context, loc schemas.Locator, d time.Duration) error {
	return f.check(loc, true, d)
}

func (f *fakeTab) WaitVisible(_ context.Context, loc schemas.Locator, d time.Duration) error {
	return f.check(loc, true, d)
}

func (f *fakeTab) WaitClickable(_ context.Context, loc schemas.Locator, d time.Duration) error {
	return f.check(loc, true, d)
}

func (f *fakeTab) WaitInvisible(_ context.Context, loc schemas.Locator, d time.Duration) error {
	return f.check(loc, false, d)
}

func (f *fakeTab) WaitDocumentComplete(context.Context, time.Duration) error { return nil }

func (f *fakeTab) ScrollIntoViewCenter(context.Context, schemas.Locator) error { return nil }

func (f *fakeTab) SyntheticClick(_ context.Context, loc schemas.Locator) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case loc == f.plan.Popup.Confirm:
		f.visible[f.plan.Popup.Popup] = false
	case loc == f.plan.Challenge.Challenge && f.passOnClick:
		f.visible[f.plan.Challenge.Challenge] = false
		f.visible[f.plan.Challenge.Post] = true
	}
	return nil
}

func (f *fakeTab) Reload(context.Context) error { return nil }

func (f *fakeTab) Snapshot(_ context.Context, name string) (schemas.Snapshot, error) {
	return schemas.Snapshot{
		Name:       name,
		URL:        f.url,
		MIMEType:   "image/png",
		Data:       []byte("\x89PNG fake"),
		CapturedAt: time.Now().UTC(),
	}, nil
}

// fakeOpener hands out fakeTabs built by newTab.
type fakeOpener struct {
	newTab  func(id string) *fakeTab
	openErr error

	mu       sync.Mutex
	tabs     []*fakeTab
	shutdown bool
}

func (o *fakeOpener) NewPage(context.Context) (checkPage, error) {
	if o.openErr != nil {
		return nil, o.openErr
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	tab := o.newTab(fmt.Sprintf("tab-%d", len(o.tabs)+1))
	o.tabs = append(o.tabs, tab)
	return tab, nil
}

func (o *fakeOpener) Shutdown(context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.shutdown = true
	return nil
}

// siteOpener serves tabs with the popup up and a challenge that passes when
// passChallenge is set.
func siteOpener(t *testing.T, passChallenge bool) *fakeOpener {
	plan := defaultPlan(t)
	return &fakeOpener{newTab: func(id string) *fakeTab {
		return &fakeTab{
			id:   id,
			plan: plan,
			visible: map[schemas.Locator]bool{
				plan.Popup.Popup:         true,
				plan.Popup.Confirm:       true,
				plan.Challenge.Challenge: true,
			},
			passOnClick: passChallenge,
		}
	}}
}
