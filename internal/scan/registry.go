package scan

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"backup-sentinel/internal/backup"
)

const (
	maxRetainedJobs   = 256
	defaultJobTimeout = 5 * time.Minute
)

type scanFunc func(ctx context.Context) ([]backup.Finding, error)

// jobRegistry runs scans in the background and keeps their results
// available for polling. Finished jobs beyond maxRetainedJobs are evicted
// oldest first.
type jobRegistry struct {
	mu      sync.Mutex
	jobs    map[string]*backup.ScanJob
	order   []string
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newJobRegistry(timeout time.Duration) *jobRegistry {
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &jobRegistry{
		jobs:    make(map[string]*backup.ScanJob),
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// start registers a RUNNING job and executes run in its own goroutine
func (r *jobRegistry) start(run scanFunc) (string, error) {
	if r.ctx.Err() != nil {
		return "", backup.NewScanError("scan backend is closed", r.ctx.Err())
	}

	id := uuid.NewString()
	r.mu.Lock()
	r.jobs[id] = &backup.ScanJob{ID: id, State: backup.ScanStateRunning}
	r.order = append(r.order, id)
	r.evictLocked()
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
		defer cancel()

		findings, err := run(ctx)
		r.finish(id, findings, err)
	}()
	return id, nil
}

func (r *jobRegistry) finish(id string, findings []backup.Finding, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return
	}
	switch {
	case err == nil:
		job.State = backup.ScanStateDone
		job.Findings = findings
	case r.ctx.Err() != nil:
		job.State = backup.ScanStateCanceled
		job.Error = err.Error()
	default:
		job.State = backup.ScanStateFailed
		job.Error = err.Error()
	}
}

// get returns a copy of the job
func (r *jobRegistry) get(id string) (*backup.ScanJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, backup.NewNotFoundError("scan job not found", nil).WithContext("job_id", id)
	}
	c := *job
	c.Findings = append([]backup.Finding(nil), job.Findings...)
	return &c, nil
}

func (r *jobRegistry) evictLocked() {
	for len(r.order) > maxRetainedJobs {
		evicted := false
		for i, id := range r.order {
			if r.jobs[id].State.Finished() {
				delete(r.jobs, id)
				r.order = append(r.order[:i], r.order[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			return
		}
	}
}

// close cancels running scans and waits for them to exit
func (r *jobRegistry) close() {
	r.cancel()
	r.wg.Wait()
}
