// internal/diagnostics/dirsink.go
package diagnostics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	json "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/dishcheck/api/schemas"
)

// ManifestFile is the name of the index written next to the snapshots.
const ManifestFile = "manifest.jsonl"

const fileTimeLayout = "20060102T150405.000Z"

var slugSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// ManifestEntry is one line of the manifest.
type ManifestEntry struct {
	Name       string `json:"name"`
	File       string `json:"file"`
	URL        string `json:"url,omitempty"`
	MIMEType   string `json:"mime_type"`
	Size       int    `json:"size"`
	CapturedAt string `json:"captured_at"`
}

// DirSink stores snapshots as files in a directory and indexes them in a
// JSON Lines manifest. It is safe for concurrent use.
type DirSink struct {
	dir    string
	logger *zap.Logger
	mu     sync.Mutex
}

var _ schemas.SnapshotSink = (*DirSink)(nil)

// NewDirSink creates the directory if needed. A leading ~ is expanded to the
// user's home directory.
func NewDirSink(dir string, logger *zap.Logger) (*DirSink, error) {
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to expand snapshot dir %q: %w", dir, err)
	}
	if err := os.MkdirAll(expanded, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot dir %s: %w", expanded, err)
	}
	return &DirSink{dir: expanded, logger: logger.Named("diagnostics")}, nil
}

// Dir returns the resolved directory.
func (d *DirSink) Dir() string {
	return d.dir
}

// Attach writes snap to disk and returns the path of the written file.
func (d *DirSink) Attach(ctx context.Context, snap schemas.Snapshot) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	name := fmt.Sprintf("%s-%s%s", snap.CapturedAt.UTC().Format(fileTimeLayout), slug(snap.Name), extension(snap.MIMEType))
	path := filepath.Join(d.dir, name)
	// Two captures of the same name in the same millisecond.
	for i := 1; fileExists(path); i++ {
		path = filepath.Join(d.dir, fmt.Sprintf("%s-%s-%d%s", snap.CapturedAt.UTC().Format(fileTimeLayout), slug(snap.Name), i, extension(snap.MIMEType)))
	}

	if err := os.WriteFile(path, snap.Data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write snapshot %s: %w", path, err)
	}

	entry := ManifestEntry{
		Name:       snap.Name,
		File:       filepath.Base(path),
		URL:        snap.URL,
		MIMEType:   snap.MIMEType,
		Size:       len(snap.Data),
		CapturedAt: snap.CapturedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if err := d.appendManifest(entry); err != nil {
		// The snapshot is stored; only its index line is lost.
		d.logger.Warn("Failed to update snapshot manifest.", zap.String("file", entry.File), zap.Error(err))
	}

	d.logger.Debug("Snapshot stored.", zap.String("path", path), zap.Int("bytes", entry.Size))
	return path, nil
}

// Entries reads back the manifest.
func (d *DirSink) Entries() ([]ManifestEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(d.dir, ManifestFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var entries []ManifestEntry
	for i, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var e ManifestEntry
		if err := json.UnmarshalFromString(line, &e); err != nil {
			return nil, fmt.Errorf("manifest line %d: %w", i+1, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (d *DirSink) appendManifest(entry ManifestEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(d.dir, ManifestFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func slug(name string) string {
	s := strings.Trim(slugSanitizer.ReplaceAllString(name, "-"), "-")
	if s == "" {
		return "snapshot"
	}
	return strings.ToLower(s)
}

func extension(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "text/html":
		return ".html"
	default:
		return ".bin"
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
