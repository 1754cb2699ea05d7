// Package download runs background fetches of remote resources into
// temporary files and polls them until they reach a terminal state.
package download

import (
	"time"
)

// JobID is the opaque handle a Downloader hands back from Enqueue
type JobID string

// Status is the lifecycle state of a FetchJob
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusPaused
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further progress changes can occur
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Reason explains why a job failed
type Reason int

const (
	ReasonNone Reason = iota
	ReasonInsufficientStorage
	ReasonTooManyRedirects
	ReasonHTTPDataError
	ReasonDeviceUnavailable
	ReasonFileConflict
	ReasonUnknown
	// ReasonCanceled marks a job stopped by Cancel; it is terminal and never retried
	ReasonCanceled
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonInsufficientStorage:
		return "insufficient_storage"
	case ReasonTooManyRedirects:
		return "too_many_redirects"
	case ReasonHTTPDataError:
		return "http_data_error"
	case ReasonDeviceUnavailable:
		return "device_unavailable"
	case ReasonFileConflict:
		return "file_conflict"
	case ReasonCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Request describes one fetch: where to read from and where the bytes land
type Request struct {
	URL           string
	TemporaryPath string
	CanonicalPath string
}

// FetchJob is a snapshot of one download. Downloaders return copies, so a
// FetchJob never changes under the caller.
type FetchJob struct {
	ID              JobID
	SourceURL       string
	TemporaryPath   string
	CanonicalPath   string
	Status          Status
	Reason          Reason
	Detail          string
	BytesDownloaded int64
	TotalBytes      int64 // -1 while unknown
	EnqueuedAt      time.Time
	FinishedAt      time.Time
}

// Progress returns the completed fraction in [0, 1], or 0 while the total is unknown
func (j FetchJob) Progress() float64 {
	if j.TotalBytes <= 0 {
		return 0
	}
	p := float64(j.BytesDownloaded) / float64(j.TotalBytes)
	if p > 1 {
		return 1
	}
	return p
}

// Duration is the time from enqueue to the terminal state, or zero while running
func (j FetchJob) Duration() time.Duration {
	if j.FinishedAt.IsZero() || j.EnqueuedAt.IsZero() {
		return 0
	}
	return j.FinishedAt.Sub(j.EnqueuedAt)
}
