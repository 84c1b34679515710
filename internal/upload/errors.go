package upload

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by Submit after Close
	ErrClosed = errors.New("orchestrator closed")

	// ErrUnknownUpload is returned for source IDs that are not tracked
	ErrUnknownUpload = errors.New("unknown upload")

	// ErrInvalidFile is returned when an upload fails validation
	ErrInvalidFile = errors.New("invalid file")
)

// ExtractionFailure is recorded when conversion or OCR of a file fails.
// Page is zero when the whole file failed before any page was read.
type ExtractionFailure struct {
	SourceID string
	Stage    string
	Page     int
	Err      error
}

func (e *ExtractionFailure) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("extraction of %s failed at %s of page %d: %v", e.SourceID, e.Stage, e.Page, e.Err)
	}
	return fmt.Sprintf("extraction of %s failed at %s: %v", e.SourceID, e.Stage, e.Err)
}

func (e *ExtractionFailure) Unwrap() error {
	return e.Err
}
