// internal/browser/session/session_helpers_test.go
package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/dishcheck/internal/config"
)

const (
	// initializationTimeout is the time allowed for Chrome to start and attach.
	initializationTimeout = 30 * time.Second
	testTimeout           = 45 * time.Second
)

// chromeCandidates are the binaries chromedp's default allocator looks for.
var chromeCandidates = []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"}

// requireBrowser skips the test when it cannot drive a real browser.
func requireBrowser(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	for _, name := range chromeCandidates {
		if _, err := exec.LookPath(name); err == nil {
			return
		}
	}
	t.Skip("skipping browser test: no Chrome binary on PATH")
}

type testFixture struct {
	Session *Session
	Cfg     config.BrowserConfig
}

// newTestFixture starts a headless browser and returns an initialized session
// torn down with the test.
func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	requireBrowser(t)

	cfg := config.NewDefaultConfig().Browser
	cfg.PollInterval = 50 * time.Millisecond

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Headless,
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	t.Cleanup(allocCancel)

	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	s := NewSession(tabCtx, tabCancel, cfg, zaptest.NewLogger(t), nil)

	initCtx, cancel := context.WithTimeout(context.Background(), initializationTimeout)
	defer cancel()
	require.NoError(t, s.Initialize(initCtx), "failed to initialize session")

	t.Cleanup(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.Close(closeCtx)
	})
	return &testFixture{Session: s, Cfg: cfg}
}

// createStaticTestServer returns a server that serves the given HTML content.
func createStaticTestServer(t *testing.T, htmlContent string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, htmlContent)
	}))
	t.Cleanup(server.Close)
	return server
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}
