// internal/reporting/reporter.go
package reporting

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/dishcheck/internal/obstruction"
)

// Entry is the result of probing one page.
type Entry struct {
	URL       string             `json:"url"`
	SessionID string             `json:"session_id,omitempty"`
	StartedAt time.Time          `json:"started_at"`
	Duration  time.Duration      `json:"duration_ns"`
	Report    obstruction.Report `json:"report"`
	// Error is set when the session broke before the plan finished.
	Error string `json:"error,omitempty"`
}

// Reporter writes check entries to an output.
type Reporter interface {
	// Write processes a single entry.
	Write(entry *Entry) error
	// Close flushes buffered output and closes the underlying file, if any.
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for format writing to outputPath. An empty path or
// "stdout" writes to stdout.
func New(format, outputPath string) (Reporter, error) {
	return newReporter(format, outputPath, os.Stdout)
}

// NewWithWriter creates a reporter for format writing to w. Close does not
// close w.
func NewWithWriter(format string, w io.Writer) (Reporter, error) {
	return newReporter(format, "", w)
}

func newReporter(format, outputPath string, stdout io.Writer) (Reporter, error) {
	switch format {
	case "json", "text":
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		writer = &nopWriteCloser{stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	if format == "json" {
		return &jsonReporter{w: writer}, nil
	}
	return newTextReporter(writer), nil
}

// jsonReporter writes one JSON object per line.
type jsonReporter struct {
	mu sync.Mutex
	w  io.WriteCloser
}

func (r *jsonReporter) Write(entry *Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode entry for %s: %w", entry.URL, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err = r.w.Write(append(line, '\n'))
	return err
}

func (r *jsonReporter) Close() error {
	return r.w.Close()
}

// textReporter renders an aligned table.
type textReporter struct {
	mu  sync.Mutex
	w   io.WriteCloser
	tw  *tabwriter.Writer
	hdr bool
}

func newTextReporter(w io.WriteCloser) *textReporter {
	return &textReporter{w: w, tw: tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)}
}

func (r *textReporter) Write(entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hdr {
		fmt.Fprintln(r.tw, "URL\tPOPUP\tCHALLENGE\tDURATION\tDETAILS")
		r.hdr = true
	}
	_, err := fmt.Fprintf(r.tw, "%s\t%s\t%s\t%s\t%s\n",
		entry.URL,
		outcomeCell(entry.Report.Popup),
		outcomeCell(entry.Report.Challenge),
		entry.Duration.Round(time.Millisecond),
		details(entry),
	)
	return err
}

func (r *textReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.tw.Flush(); err != nil {
		r.w.Close()
		return err
	}
	return r.w.Close()
}

func outcomeCell(res *obstruction.Result) string {
	switch {
	case res == nil:
		return "-"
	case res.Reloaded:
		return res.Outcome.String() + " (reloaded)"
	default:
		return res.Outcome.String()
	}
}

func details(entry *Entry) string {
	var parts []string
	if entry.Error != "" {
		parts = append(parts, "error: "+entry.Error)
	}
	for _, res := range []*obstruction.Result{entry.Report.Popup, entry.Report.Challenge} {
		if res == nil {
			continue
		}
		if res.Reason != "" {
			parts = append(parts, res.Reason)
		}
		if res.SnapshotRef != "" {
			parts = append(parts, "snapshot: "+res.SnapshotRef)
		}
	}
	return strings.Join(parts, "; ")
}
