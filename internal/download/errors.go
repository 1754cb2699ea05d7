package download

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownJob is returned for handles the downloader does not track
	ErrUnknownJob = errors.New("unknown download job")
	// ErrCanceled is returned when a job was canceled before it finished
	ErrCanceled = errors.New("download canceled")
)

// TransferFailed is a terminal network or storage failure of one job
type TransferFailed struct {
	JobID  JobID
	URL    string
	Reason Reason
	Detail string
}

func (e *TransferFailed) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("transfer of %s failed: %s", e.URL, e.Reason)
	}
	return fmt.Sprintf("transfer of %s failed: %s (%s)", e.URL, e.Reason, e.Detail)
}

// Temporary reports whether re-enqueueing the same request could succeed.
// Storage exhaustion and an unavailable device need operator action.
func (e *TransferFailed) Temporary() bool {
	switch e.Reason {
	case ReasonInsufficientStorage, ReasonDeviceUnavailable, ReasonCanceled:
		return false
	default:
		return true
	}
}
