// internal/browser/session/capture.go
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/dishcheck/api/schemas"
)

const captureTimeout = 15 * time.Second

// Screenshot captures the current viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.runTimed(ctx, "screenshot", captureTimeout, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// FullScreenshot captures the whole page as PNG.
func (s *Session) FullScreenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.runTimed(ctx, "full screenshot", captureTimeout, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Snapshot captures the viewport together with the URL it was taken at.
// A failure to read the URL does not fail the capture.
func (s *Session) Snapshot(ctx context.Context, name string) (schemas.Snapshot, error) {
	data, err := s.Screenshot(ctx)
	if err != nil {
		return schemas.Snapshot{}, fmt.Errorf("failed to capture snapshot %q: %w", name, err)
	}
	url, _ := s.CurrentURL(ctx)
	return schemas.Snapshot{
		Name:       name,
		URL:        url,
		MIMEType:   "image/png",
		Data:       data,
		CapturedAt: time.Now().UTC(),
	}, nil
}

// CurrentURL returns the URL of the page.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.RunActions(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// Title returns the document title.
func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.RunActions(ctx, chromedp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}

// PageSource returns the serialized DOM of the current document.
func (s *Session) PageSource(ctx context.Context) (string, error) {
	var html string
	if err := s.RunActions(ctx, chromedp.Evaluate(`document.documentElement.outerHTML`, &html)); err != nil {
		return "", err
	}
	return html, nil
}
