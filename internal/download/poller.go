package download

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/metronova/buseta/internal/promote"
)

// DefaultPollInterval is the cadence used when none is configured
const DefaultPollInterval = 10 * time.Millisecond

// ProgressFunc receives a snapshot of a job that is still in flight
type ProgressFunc func(job FetchJob)

// JobRecorder persists job lifecycle events (see internal/db)
type JobRecorder interface {
	JobStarted(ctx context.Context, job FetchJob) error
	JobFinished(ctx context.Context, job FetchJob) error
}

// Observer receives pipeline events (see internal/metrics)
type Observer interface {
	ObservePoll(status Status)
	ObserveOutcome(job FetchJob)
	ObservePromotion(result promote.Result)
}

// Outcome is what a finished Await reports
type Outcome struct {
	Job       FetchJob
	Promotion promote.Result
}

// Poller drives jobs to a terminal state and promotes successful ones
type Poller struct {
	downloader Downloader
	promoter   promote.Promoter
	interval   time.Duration
	log        *zap.SugaredLogger
	recorder   JobRecorder
	observer   Observer
}

// NewPoller creates a poller sampling jobs every interval
func NewPoller(downloader Downloader, promoter promote.Promoter, interval time.Duration, logger *zap.SugaredLogger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		downloader: downloader,
		promoter:   promoter,
		interval:   interval,
		log:        logger,
	}
}

// SetRecorder attaches a job ledger
func (p *Poller) SetRecorder(r JobRecorder) {
	p.recorder = r
}

// SetObserver attaches a metrics sink
func (p *Poller) SetObserver(o Observer) {
	p.observer = o
}

// Await samples the job until it is terminal. A succeeded job is promoted
// exactly once, from this loop, before Await returns. Canceling ctx cancels
// the job and returns ErrCanceled without promoting anything.
func (p *Poller) Await(ctx context.Context, id JobID, onProgress ProgressFunc) (Outcome, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := p.downloader.Cancel(id); err != nil && !errors.Is(err, ErrUnknownJob) {
				p.log.Warnw("Failed to cancel download", "job", id, "error", err)
			}
			job, _ := p.downloader.Query(id)
			return Outcome{Job: job}, ErrCanceled
		case <-ticker.C:
		}

		job, err := p.downloader.Query(id)
		if err != nil {
			return Outcome{}, fmt.Errorf("query job %s: %w", id, err)
		}
		if p.observer != nil {
			p.observer.ObservePoll(job.Status)
		}

		switch job.Status {
		case StatusSucceeded:
			result, err := p.promoter.Promote(job.TemporaryPath, job.CanonicalPath)
			if p.observer != nil && err == nil {
				p.observer.ObservePromotion(result)
			}
			if err != nil {
				return Outcome{Job: job}, fmt.Errorf("promote %s: %w", job.CanonicalPath, err)
			}
			return Outcome{Job: job, Promotion: result}, nil

		case StatusFailed:
			if job.Reason == ReasonCanceled {
				return Outcome{Job: job}, ErrCanceled
			}
			return Outcome{Job: job}, &TransferFailed{
				JobID:  job.ID,
				URL:    job.SourceURL,
				Reason: job.Reason,
				Detail: job.Detail,
			}

		default:
			if onProgress != nil {
				onProgress(job)
			}
		}
	}
}

// Fetch enqueues req, waits for it, and forgets the handle afterwards
func (p *Poller) Fetch(ctx context.Context, req Request, onProgress ProgressFunc) (Outcome, error) {
	id, err := p.downloader.Enqueue(ctx, req)
	if err != nil {
		return Outcome{}, fmt.Errorf("enqueue %s: %w", req.URL, err)
	}
	defer p.downloader.Forget(id)

	if p.recorder != nil {
		if job, err := p.downloader.Query(id); err == nil {
			if err := p.recorder.JobStarted(ctx, job); err != nil {
				p.log.Warnw("Failed to record job start", "job", id, "error", err)
			}
		}
	}

	outcome, err := p.Await(ctx, id, onProgress)

	if outcome.Job.ID != "" {
		if p.observer != nil {
			p.observer.ObserveOutcome(outcome.Job)
		}
		if p.recorder != nil {
			if recErr := p.recorder.JobFinished(context.WithoutCancel(ctx), outcome.Job); recErr != nil {
				p.log.Warnw("Failed to record job outcome", "job", id, "error", recErr)
			}
		}
	}

	if err != nil {
		return outcome, err
	}
	p.log.Debugw("Fetched", "url", req.URL, "path", req.CanonicalPath,
		"bytes", outcome.Job.BytesDownloaded, "promotion", outcome.Promotion.String())
	return outcome, nil
}
