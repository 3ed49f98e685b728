package core

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrTooManyJobs means every bulk job slot stayed busy for the whole slot
// wait. Nothing was queued; the upload can be resubmitted.
var ErrTooManyJobs = errors.New("too many bulk jobs in progress, please try again later")

const (
	// DefaultMaxConcurrentJobs caps bulk jobs running side by side.
	DefaultMaxConcurrentJobs = 4
	// DefaultJobSlotWait is how long StartBulkJob holds the request open
	// waiting for a running job to finish.
	DefaultJobSlotWait = 10 * time.Second
)

// JobLimiter hands out a fixed number of bulk job slots. A slot is taken
// by StartBulkJob before the job is recorded and given back by the job's
// goroutine after finishJob, so the running count also covers the final
// audit writes.
type JobLimiter struct {
	slots    chan struct{}
	slotWait time.Duration
	waiting  atomic.Int32
}

// NewJobLimiter returns a limiter with limit slots. Non-positive arguments
// fall back to the defaults.
func NewJobLimiter(limit int, slotWait time.Duration) *JobLimiter {
	if limit <= 0 {
		limit = DefaultMaxConcurrentJobs
	}
	if slotWait <= 0 {
		slotWait = DefaultJobSlotWait
	}
	return &JobLimiter{slots: make(chan struct{}, limit), slotWait: slotWait}
}

// Acquire takes a slot. It gives up with ErrTooManyJobs after the slot
// wait, or with ctx's error if the request goes away first. Every nil
// return must be paired with one Release.
func (l *JobLimiter) Acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		return nil
	default:
	}

	l.waiting.Add(1)
	defer l.waiting.Add(-1)

	timer := time.NewTimer(l.slotWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTooManyJobs
	}
}

// Release gives back a slot taken by Acquire.
func (l *JobLimiter) Release() {
	<-l.slots
}

// ActiveCount is the number of jobs holding a slot.
func (l *JobLimiter) ActiveCount() int {
	return len(l.slots)
}

// WaitForDrain polls until no job holds a slot. Shutdown calls it after
// the HTTP server has stopped accepting uploads.
func (l *JobLimiter) WaitForDrain(ctx context.Context) error {
	if l.ActiveCount() == 0 {
		return nil
	}
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			if l.ActiveCount() == 0 {
				return nil
			}
		}
	}
}

// JobLimiterStatus is reported by the health and job list endpoints.
type JobLimiterStatus struct {
	Active    int `json:"active"`
	Available int `json:"available"`
	Limit     int `json:"limit"`
	// Waiting counts StartBulkJob calls blocked on a slot.
	Waiting int `json:"waiting"`
}

// Status snapshots the limiter.
func (l *JobLimiter) Status() JobLimiterStatus {
	active := len(l.slots)
	return JobLimiterStatus{
		Active:    active,
		Available: cap(l.slots) - active,
		Limit:     cap(l.slots),
		Waiting:   int(l.waiting.Load()),
	}
}
