package download

import (
	"fmt"

	"watchcompanion/internal/domain"
)

// Reason separates failures that retrying cannot fix from ones that ran out of retries.
type Reason string

const (
	ReasonPermanent        Reason = "permanent"
	ReasonRetriesExhausted Reason = "transient-exhausted"
)

// Error is the terminal failure of a download job.
type Error struct {
	// Segment is the zero-based segment index, or -1 for manifest and save failures.
	Segment int
	Status  int
	Reason  Reason
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Segment >= 0 && e.Status > 0:
		return fmt.Sprintf("download failed (%s) at segment %d: status %d: %v", e.Reason, e.Segment, e.Status, e.Err)
	case e.Segment >= 0:
		return fmt.Sprintf("download failed (%s) at segment %d: %v", e.Reason, e.Segment, e.Err)
	case e.Status > 0:
		return fmt.Sprintf("download failed (%s): status %d: %v", e.Reason, e.Status, e.Err)
	default:
		return fmt.Sprintf("download failed (%s): %v", e.Reason, e.Err)
	}
}

func (e *Error) Unwrap() []error {
	return []error{domain.ErrDownloadFailed, e.Err}
}

func permanent(segment, status int, err error) *Error {
	return &Error{Segment: segment, Status: status, Reason: ReasonPermanent, Err: err}
}

// classifyStatus maps a non-2xx status to the failure taxonomy.
func classifyStatus(status int) error {
	switch status {
	case 403:
		return domain.ErrAuthExpired
	case 429:
		return domain.ErrRateLimited
	default:
		return domain.ErrTransport
	}
}
