// File: cmd/check_test.go
package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/dishcheck/internal/reporting"
)

func decodeEntries(t *testing.T, out string) []reporting.Entry {
	t.Helper()
	var entries []reporting.Entry
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var e reporting.Entry
		require.NoError(t, json.UnmarshalFromString(line, &e), line)
		entries = append(entries, e)
	}
	return entries
}

func TestCheck_ClearsEverything(t *testing.T) {
	opener := siteOpener(t, true)
	resetForTest(t, opener)
	snapshots := t.TempDir()

	out, _, err := execute(t, "check", "--base-url", "https://eda.example", "--snapshot-dir", snapshots, "moscow", "/spb")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3, "header plus one row per target")
	assert.Contains(t, out, "https://eda.example/moscow")
	assert.Contains(t, out, "https://eda.example/spb")
	assert.NotContains(t, out, "clear_failed")

	require.Len(t, opener.tabs, 2)
	for _, tab := range opener.tabs {
		assert.True(t, tab.closed, "every tab is closed")
	}
	assert.True(t, opener.shutdown)

	entries, err := os.ReadDir(snapshots)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing is captured when every obstruction clears")
}

func TestCheck_ChallengeNotPassed(t *testing.T) {
	t.Run("ReportsFailureAndSnapshot", func(t *testing.T) {
		resetForTest(t, siteOpener(t, false))
		snapshots := t.TempDir()

		out, _, err := execute(t, "check", "--format", "json", "--snapshot-dir", snapshots, "https://eda.example/moscow")
		require.NoError(t, err, "failures only change the exit status in strict mode")

		entries := decodeEntries(t, out)
		require.Len(t, entries, 1)
		report := entries[0].Report
		require.NotNil(t, report.Popup)
		assert.Equal(t, "cleared", report.Popup.Outcome.String())
		require.NotNil(t, report.Challenge)
		assert.Equal(t, "clear_failed", report.Challenge.Outcome.String())
		assert.True(t, report.Challenge.Reloaded)
		require.NotEmpty(t, report.Challenge.SnapshotRef)
		assert.Equal(t, snapshots, filepath.Dir(report.Challenge.SnapshotRef))
		assert.FileExists(t, report.Challenge.SnapshotRef)
		assert.FileExists(t, filepath.Join(snapshots, "manifest.jsonl"))
	})

	t.Run("StrictExitsNonZero", func(t *testing.T) {
		resetForTest(t, siteOpener(t, false))

		_, _, err := execute(t, "check", "--strict", "--snapshot-dir", t.TempDir(), "https://eda.example/moscow")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrObstructionNotCleared))
		assert.Contains(t, err.Error(), "on 1 of 1 targets")
	})
}

func TestCheck_SessionFailure(t *testing.T) {
	opener := &fakeOpener{openErr: errors.New("chrome failed to start")}
	resetForTest(t, opener)

	out, _, err := execute(t, "check", "--format", "json", "--snapshot-dir", t.TempDir(), "https://eda.example")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 targets could not be checked")

	entries := decodeEntries(t, out)
	require.Len(t, entries, 1)
	assert.Equal(t, "chrome failed to start", entries[0].Error)
	assert.True(t, opener.shutdown, "the browser is shut down even when no tab opened")
}

func TestCheck_ReportFile(t *testing.T) {
	resetForTest(t, siteOpener(t, true))
	path := filepath.Join(t.TempDir(), "report.jsonl")

	out, _, err := execute(t, "check", "-f", "json", "-o", path, "--snapshot-dir", t.TempDir(), "https://eda.example")
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	entries := decodeEntries(t, string(data))
	require.Len(t, entries, 1)
	assert.Equal(t, "tab-1", entries[0].SessionID)
}

func TestCheck_UnsupportedFormat(t *testing.T) {
	resetForTest(t, siteOpener(t, true))

	_, _, err := execute(t, "check", "--format", "xml", "https://eda.example")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format: xml")
}

func TestResolveTargets(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		args    []string
		want    []string
		wantErr string
	}{
		{name: "NoArgsUsesBase", base: "https://eda.example", want: []string{"https://eda.example"}},
		{name: "NoArgsNoBase", wantErr: "target.base_url is empty"},
		{name: "Absolute", base: "https://eda.example", args: []string{"http://other.example/x"}, want: []string{"http://other.example/x"}},
		{name: "RelativePath", base: "https://eda.example/", args: []string{"moscow", "/spb?sort=fast"}, want: []string{"https://eda.example/moscow", "https://eda.example/spb?sort=fast"}},
		{name: "BareHostWithoutBase", args: []string{"eda.example"}, want: []string{"https://eda.example"}},
		{name: "RelativeWithoutBase", args: []string{"moscow"}, wantErr: "needs target.base_url"},
		{name: "Malformed", base: "https://eda.example", args: []string{"http://[::1"}, wantErr: "invalid target"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveTargets(tt.base, tt.args)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
