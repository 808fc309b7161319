package schemas

import (
	"errors"
	"fmt"
	"time"
)

// ErrWaitTimeout is wrapped by every Session Handle wait that ran out of time
// while the session itself was still healthy.
var ErrWaitTimeout = errors.New("wait timed out")

// ErrNoSuchElement is returned by element actions when the locator matched
// nothing at the moment the action ran.
var ErrNoSuchElement = errors.New("no such element")

// -- Obstruction Outcomes --

// Outcome is the result of an obstruction handling routine.
type Outcome int

const (
	// NotPresent means the obstruction never showed up within the timeout.
	NotPresent Outcome = iota
	// Cleared means the obstruction appeared and was dismissed.
	Cleared
	// ClearFailed means the obstruction appeared but could not be dismissed.
	ClearFailed
)

var outcomeNames = map[Outcome]string{
	NotPresent:  "not_present",
	Cleared:     "cleared",
	ClearFailed: "clear_failed",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	if _, ok := outcomeNames[o]; !ok {
		return nil, fmt.Errorf("invalid outcome %d", int(o))
	}
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outcome) UnmarshalText(text []byte) error {
	for k, v := range outcomeNames {
		if v == string(text) {
			*o = k
			return nil
		}
	}
	return fmt.Errorf("invalid outcome %q", string(text))
}

// -- Diagnostics --

// Snapshot is a binary capture of the page's visual state at a point in time.
type Snapshot struct {
	Name       string    `json:"name"`
	URL        string    `json:"url,omitempty"`
	MIMEType   string    `json:"mime_type"`
	Data       []byte    `json:"-"`
	CapturedAt time.Time `json:"captured_at"`
}
