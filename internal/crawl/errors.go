package crawl

import (
	"errors"
	"fmt"
)

var (
	// ErrRunActive is returned by Start while another run is in progress.
	ErrRunActive = errors.New("a crawl run is already active")
	// ErrNoActiveRun is returned when an operation needs a running crawl.
	ErrNoActiveRun = errors.New("no crawl run is active")
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid crawl request")
	// ErrStopped is the run error when a stop signal ended the run.
	ErrStopped = errors.New("crawl run stopped")
)

// FetchError reports a page that could not be retrieved or rendered.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
