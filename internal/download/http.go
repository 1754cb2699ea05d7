package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxRedirects = 10

var errTooManyRedirects = errors.New("stopped after 10 redirects")

// Downloader is the generic "enqueue URL into a file" collaborator
type Downloader interface {
	Enqueue(ctx context.Context, req Request) (JobID, error)
	Query(id JobID) (FetchJob, error)
	Cancel(id JobID) error
	Forget(id JobID)
}

type trackedJob struct {
	job    FetchJob
	cancel context.CancelFunc
}

// HTTPDownloader runs each job in its own goroutine, at most `limit` at a time.
// It never retries; a failed job stays failed.
type HTTPDownloader struct {
	client *http.Client
	log    *zap.SugaredLogger
	slots  chan struct{}
	now    func() time.Time

	mu   sync.Mutex
	jobs map[JobID]*trackedJob
}

// NewHTTPDownloader creates a downloader with the given per-request timeout
// and concurrency limit
func NewHTTPDownloader(timeout time.Duration, limit int, logger *zap.SugaredLogger) *HTTPDownloader {
	if limit < 1 {
		limit = 1
	}
	return &HTTPDownloader{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return errTooManyRedirects
				}
				return nil
			},
		},
		log:   logger,
		slots: make(chan struct{}, limit),
		now:   time.Now,
		jobs:  make(map[JobID]*trackedJob),
	}
}

// Enqueue registers the job and starts it in the background. The job
// outlives ctx; stop it with Cancel.
func (d *HTTPDownloader) Enqueue(ctx context.Context, req Request) (JobID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.URL == "" || req.TemporaryPath == "" {
		return "", fmt.Errorf("enqueue: url and temporary path are required")
	}

	id := JobID(uuid.New().String())
	jobCtx, cancel := context.WithCancel(context.Background())

	d.mu.Lock()
	d.jobs[id] = &trackedJob{
		job: FetchJob{
			ID:            id,
			SourceURL:     req.URL,
			TemporaryPath: req.TemporaryPath,
			CanonicalPath: req.CanonicalPath,
			Status:        StatusPending,
			TotalBytes:    -1,
			EnqueuedAt:    d.now(),
		},
		cancel: cancel,
	}
	d.mu.Unlock()

	d.log.Debugw("Download enqueued", "job", id, "url", req.URL, "tmp", req.TemporaryPath)
	go d.run(jobCtx, id, req)
	return id, nil
}

// Query returns a snapshot of the job
func (d *HTTPDownloader) Query(id JobID) (FetchJob, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.jobs[id]
	if !ok {
		return FetchJob{}, ErrUnknownJob
	}
	return t.job, nil
}

// Cancel stops a job that has not finished. The job becomes failed with
// ReasonCanceled and its temporary file is left in place.
func (d *HTTPDownloader) Cancel(id JobID) error {
	d.mu.Lock()
	t, ok := d.jobs[id]
	if !ok {
		d.mu.Unlock()
		return ErrUnknownJob
	}
	if !t.job.Status.Terminal() {
		t.job.Status = StatusFailed
		t.job.Reason = ReasonCanceled
		t.job.FinishedAt = d.now()
	}
	cancel := t.cancel
	d.mu.Unlock()

	cancel()
	return nil
}

// Forget drops the handle, canceling the job first if it is still running
func (d *HTTPDownloader) Forget(id JobID) {
	_ = d.Cancel(id)

	d.mu.Lock()
	delete(d.jobs, id)
	d.mu.Unlock()
}

func (d *HTTPDownloader) run(ctx context.Context, id JobID, req Request) {
	select {
	case d.slots <- struct{}{}:
		defer func() { <-d.slots }()
	case <-ctx.Done():
		d.finish(id, ReasonCanceled, "")
		return
	}

	if !d.update(id, func(j *FetchJob) { j.Status = StatusRunning }) {
		return
	}

	reason, detail := d.transfer(ctx, id, req)
	if ctx.Err() != nil && reason != ReasonNone {
		reason, detail = ReasonCanceled, ""
	}
	d.finish(id, reason, detail)
}

// transfer performs the request and returns ReasonNone on success
func (d *HTTPDownloader) transfer(ctx context.Context, id JobID, req Request) (Reason, string) {
	if err := os.MkdirAll(filepath.Dir(req.TemporaryPath), 0755); err != nil {
		return ReasonDeviceUnavailable, err.Error()
	}

	f, err := os.OpenFile(req.TemporaryPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ReasonFileConflict, err.Error()
		}
		return storageReason(err), err.Error()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		f.Close()
		return ReasonUnknown, err.Error()
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		f.Close()
		if errors.Is(err, errTooManyRedirects) {
			return ReasonTooManyRedirects, err.Error()
		}
		return ReasonHTTPDataError, err.Error()
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.Close()
		return ReasonHTTPDataError, fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}

	d.update(id, func(j *FetchJob) { j.TotalBytes = resp.ContentLength })

	w := &countingWriter{w: f, onWrite: func(n int) {
		d.update(id, func(j *FetchJob) { j.BytesDownloaded += int64(n) })
	}}
	_, copyErr := io.Copy(w, resp.Body)
	closeErr := f.Close()

	if copyErr != nil {
		if w.err != nil {
			return storageReason(w.err), w.err.Error()
		}
		return ReasonHTTPDataError, copyErr.Error()
	}
	if closeErr != nil {
		return storageReason(closeErr), closeErr.Error()
	}
	return ReasonNone, ""
}

// update mutates a live job; it reports false once the job is terminal or forgotten
func (d *HTTPDownloader) update(id JobID, fn func(j *FetchJob)) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.jobs[id]
	if !ok || t.job.Status.Terminal() {
		return false
	}
	fn(&t.job)
	return true
}

func (d *HTTPDownloader) finish(id JobID, reason Reason, detail string) {
	ok := d.update(id, func(j *FetchJob) {
		j.FinishedAt = d.now()
		if reason == ReasonNone {
			j.Status = StatusSucceeded
			return
		}
		j.Status = StatusFailed
		j.Reason = reason
		j.Detail = detail
	})
	if !ok {
		return
	}
	if reason == ReasonNone {
		d.log.Debugw("Download finished", "job", id)
	} else {
		d.log.Debugw("Download failed", "job", id, "reason", reason.String(), "detail", detail)
	}
}

func storageReason(err error) Reason {
	switch {
	case errors.Is(err, syscall.ENOSPC):
		return ReasonInsufficientStorage
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EROFS), errors.Is(err, syscall.ENOENT):
		return ReasonDeviceUnavailable
	default:
		return ReasonUnknown
	}
}

// countingWriter reports every write and remembers write-side failures, so
// storage errors can be told apart from read errors on the response body
type countingWriter struct {
	w       io.Writer
	onWrite func(n int)
	err     error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if n > 0 {
		c.onWrite(n)
	}
	if err != nil {
		c.err = err
	}
	return n, err
}
