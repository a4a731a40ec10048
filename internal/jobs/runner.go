package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/unitreviews/backend/internal/apperr"
	"go.uber.org/zap"
)

const (
	opRun        = "jobs.run"
	releaseGrace = 5 * time.Second

	// DefaultLockTTL bounds how long a crashed holder blocks a job.
	DefaultLockTTL = 10 * time.Minute
)

var (
	// ErrJobRunning reports that another holder owns the job lease.
	ErrJobRunning = errors.New("jobs: job is already running")
	// ErrLeaseLost reports that a running job's lease expired or was taken
	// over, so the run was cancelled.
	ErrLeaseLost = errors.New("jobs: job lease lost")
)

// Job is a named periodic task.
type Job struct {
	Name string
	// Interval of zero registers the job for manual runs only.
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Runner executes jobs under a lease so replicas never overlap.
type Runner struct {
	locker  Locker
	lockTTL time.Duration
	logger  *zap.Logger
	jobs    map[string]Job
}

// NewRunner constructs a runner. A nil locker falls back to LocalLocker.
func NewRunner(locker Locker, lockTTL time.Duration, logger *zap.Logger, jobs ...Job) (*Runner, error) {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	registered := make(map[string]Job, len(jobs))
	for _, job := range jobs {
		if job.Name == "" || job.Run == nil {
			return nil, fmt.Errorf("jobs: job %q needs a name and a run function", job.Name)
		}
		if _, dup := registered[job.Name]; dup {
			return nil, fmt.Errorf("jobs: duplicate job %q", job.Name)
		}
		registered[job.Name] = job
	}
	return &Runner{locker: locker, lockTTL: lockTTL, logger: logger, jobs: registered}, nil
}

// Names lists registered jobs alphabetically.
func (r *Runner) Names() []string {
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunOnce executes the named job now. It fails with a conflict when another
// holder is running it.
func (r *Runner) RunOnce(ctx context.Context, name string) error {
	job, ok := r.jobs[name]
	if !ok {
		return apperr.NotFound(opRun, "unknown_job", fmt.Errorf("job %q", name))
	}
	lease, acquired, err := r.locker.TryLock(ctx, name, r.lockTTL)
	if err != nil {
		return apperr.External(opRun, "lock_failed", err)
	}
	if !acquired {
		return apperr.Conflict(opRun, "job_running", ErrJobRunning)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseGrace)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			r.logger.Warn("job lock release failed", zap.String("job", name), zap.Error(err))
		}
	}()

	runCtx, cancelRun := context.WithCancelCause(ctx)
	defer cancelRun(nil)
	renewing := make(chan struct{})
	go func() {
		defer close(renewing)
		r.keepLease(runCtx, cancelRun, name, lease)
	}()

	started := time.Now()
	err = job.Run(runCtx)
	cancelRun(nil)
	<-renewing
	if errors.Is(context.Cause(runCtx), ErrLeaseLost) {
		r.logger.Error("job lease lost",
			zap.String("operation", opRun),
			zap.String("job", name),
			zap.Duration("elapsed", time.Since(started)))
		return apperr.Conflict(opRun, "lease_lost", ErrLeaseLost)
	}
	if err != nil {
		r.logger.Error("job failed",
			zap.String("operation", opRun),
			zap.String("job", name),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err))
		return err
	}
	r.logger.Info("job finished", zap.String("job", name), zap.Duration("elapsed", time.Since(started)))
	return nil
}

// keepLease extends the lease every third of its TTL until ctx ends. A lease
// that can no longer be extended cancels the run with ErrLeaseLost.
func (r *Runner) keepLease(ctx context.Context, cancel context.CancelCauseFunc, name string, lease *Lease) {
	ticker := time.NewTicker(max(r.lockTTL/3, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			renewCtx, cancelRenew := context.WithTimeout(ctx, releaseGrace)
			renewed, err := lease.Renew(renewCtx, r.lockTTL)
			cancelRenew()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				r.logger.Warn("job lock renewal failed", zap.String("job", name), zap.Error(err))
				continue
			}
			if !renewed {
				cancel(ErrLeaseLost)
				return
			}
		}
	}
}

// Start runs every job with a positive interval once immediately and then on
// each tick, until ctx is cancelled. It blocks until all loops exit.
func (r *Runner) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, name := range r.Names() {
		job := r.jobs[name]
		if job.Interval <= 0 {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.loop(ctx, job)
		}()
	}
	r.logger.Info("job scheduler started", zap.Strings("jobs", r.Names()))
	wg.Wait()
	r.logger.Info("job scheduler stopped")
}

func (r *Runner) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	r.tick(ctx, job.Name)
	for {
		select {
		case <-ticker.C:
			r.tick(ctx, job.Name)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) tick(ctx context.Context, name string) {
	err := r.RunOnce(ctx, name)
	if apperr.Is(err, apperr.KindConflict) {
		r.logger.Debug("job skipped, lease held elsewhere", zap.String("job", name))
	}
}
