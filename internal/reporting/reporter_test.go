// internal/reporting/reporter_test.go
package reporting_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/dishcheck/api/schemas"
	"github.com/xkilldash9x/dishcheck/internal/obstruction"
	"github.com/xkilldash9x/dishcheck/internal/reporting"
)

func sampleEntry() *reporting.Entry {
	return &reporting.Entry{
		URL:       "https://eda.example/moscow",
		SessionID: "s-1",
		StartedAt: time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC),
		Duration:  1500 * time.Millisecond,
		Report: obstruction.Report{
			Popup: &obstruction.Result{Outcome: schemas.Cleared},
			Challenge: &obstruction.Result{
				Outcome:     schemas.ClearFailed,
				Reloaded:    true,
				Reason:      "passp-field-phone not present after reload",
				SnapshotRef: "artifacts/snapshots/challenge_failed.png",
			},
		},
	}
}

func TestNew_Stdout(t *testing.T) {
	for _, path := range []string{"", "stdout"} {
		r, err := reporting.New("json", path)
		require.NoError(t, err)
		assert.NoError(t, r.Close(), "closing stdout is a no-op")
	}
}

func TestNew_UnsupportedFormat(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "output.sarif")
	r, err := reporting.New("sarif", tmpFile)
	assert.Nil(t, r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format: sarif")
	assert.NoFileExists(t, tmpFile, "the format is checked before the file is created")
}

func TestNew_FileCreationFailure(t *testing.T) {
	r, err := reporting.New("json", t.TempDir())
	assert.Nil(t, r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create output file")
}

func TestJSONReporter(t *testing.T) {
	var buf bytes.Buffer
	r, err := reporting.NewWithWriter("json", &buf)
	require.NoError(t, err)

	require.NoError(t, r.Write(sampleEntry()))
	require.NoError(t, r.Write(&reporting.Entry{URL: "https://eda.example/spb", Error: "session closed"}))
	require.NoError(t, r.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var got map[string]interface{}
	require.NoError(t, json.UnmarshalFromString(lines[0], &got))
	assert.Equal(t, "https://eda.example/moscow", got["url"])
	report := got["report"].(map[string]interface{})
	assert.Equal(t, "cleared", report["popup"].(map[string]interface{})["outcome"])
	challenge := report["challenge"].(map[string]interface{})
	assert.Equal(t, "clear_failed", challenge["outcome"])
	assert.Equal(t, true, challenge["reloaded"])

	var second reporting.Entry
	require.NoError(t, json.UnmarshalFromString(lines[1], &second))
	assert.Equal(t, "session closed", second.Error)
	assert.Nil(t, second.Report.Popup)
}

func TestTextReporter(t *testing.T) {
	var buf bytes.Buffer
	r, err := reporting.NewWithWriter("text", &buf)
	require.NoError(t, err)

	require.NoError(t, r.Write(sampleEntry()))
	require.NoError(t, r.Write(&reporting.Entry{URL: "https://eda.example/spb", Report: obstruction.Report{
		Popup: &obstruction.Result{Outcome: schemas.NotPresent},
	}}))
	require.NoError(t, r.Close())

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "URL"))
	assert.Contains(t, lines[1], "clear_failed (reloaded)")
	assert.Contains(t, lines[1], "1.5s")
	assert.Contains(t, lines[1], "snapshot: artifacts/snapshots/challenge_failed.png")
	assert.Contains(t, lines[2], "not_present")
	assert.Contains(t, lines[2], " - ", "a skipped step renders as a dash")
}

func TestFileReporter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.jsonl")
	r, err := reporting.New("json", path)
	require.NoError(t, err)
	require.NoError(t, r.Write(sampleEntry()))
	require.NoError(t, r.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"session_id":"s-1"`)
}
