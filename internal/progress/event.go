package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage names the milestone an Event reports.
type Stage string

// Run lifecycle and per-item stages.
const (
	StageRunStart     Stage = "RUN_START"
	StagePageDone     Stage = "PAGE_DONE"
	StageDocumentDone Stage = "DOCUMENT_DONE"
	StageRunDone      Stage = "RUN_DONE"
)

// Counts mirrors the run counters at the time of the event.
type Counts struct {
	Pages     int `json:"pages"`
	Documents int `json:"documents"`
	Errors    int `json:"errors"`
}

// Event is one progress notification for a run.
type Event struct {
	RunID string    `json:"run_id"`
	TS    time.Time `json:"ts"`
	Stage Stage     `json:"stage"`
	// URL is the page or document the event refers to.
	URL string `json:"url,omitempty"`
	// Key is the storage key written for the item, when one was written.
	Key string `json:"key,omitempty"`
	// Classification is the change outcome for pages (new, changed, unchanged).
	Classification string `json:"classification,omitempty"`
	// Status is the extraction status for documents and the final run
	// status for RUN_DONE.
	Status    string        `json:"status,omitempty"`
	Processed int           `json:"processed"`
	Counts    Counts        `json:"counts"`
	Bytes     int64         `json:"bytes,omitempty"`
	Dur       time.Duration `json:"duration_ns,omitempty"`
	Note      string        `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart:
	case StagePageDone, StageDocumentDone:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	case StageRunDone:
		if e.Status == "" {
			return errors.New("run done requires status")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event closes its run's stream.
func (e Event) Terminal() bool {
	return e.Stage == StageRunDone
}
