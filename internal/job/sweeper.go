package job

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/stylizer/internal/store"
	"github.com/kiranshivaraju/stylizer/pkg/models"
)

const abandonedMessage = "orchestration abandoned"

// SweeperOptions controls the supervisory sweep.
type SweeperOptions struct {
	Interval time.Duration
	// StaleAfter is how long a job may stay pending before it is failed.
	StaleAfter time.Duration
	// Retention deletes terminal jobs older than this. Zero keeps them.
	Retention time.Duration
}

// RunningSet reports jobs whose orchestration is still live in this process.
type RunningSet interface {
	Running(id int64) bool
}

// Sweeper fails jobs whose orchestration died without a terminal update and
// expires old terminal jobs.
type Sweeper struct {
	store   store.Store
	running RunningSet
	opts    SweeperOptions
	log     *slog.Logger
	now     func() time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewSweeper builds a Sweeper. Jobs reported by running are never failed as
// abandoned; a nil running treats every stale pending job as abandoned.
func NewSweeper(st store.Store, running RunningSet, opts SweeperOptions, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:   st,
		running: running,
		opts:    opts,
		log:     logger,
		now:     func() time.Time { return time.Now().UTC() },
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start runs Sweep every Interval until Stop is called or ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	go func() {
		defer close(s.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx)
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the sweep loop and waits for an in-flight sweep. Safe to call
// more than once; it must only be called after Start.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// Sweep performs one pass and reports how many jobs were failed and deleted.
func (s *Sweeper) Sweep(ctx context.Context) (failed, deleted int) {
	now := s.now()

	if s.opts.StaleAfter > 0 {
		stale, err := s.store.ListJobs(ctx, store.JobFilter{
			Status:        models.JobStatusPending,
			CreatedBefore: now.Add(-s.opts.StaleAfter),
		})
		if err != nil {
			s.log.Error("sweep: listing stale jobs", "error", err)
		}
		for _, j := range stale {
			if s.running != nil && s.running.Running(j.ID) {
				s.log.Debug("sweep: stale job still running", "job_id", j.ID, "created_at", j.CreatedAt)
				continue
			}
			_, err := s.store.UpdateJob(ctx, j.ID,
				store.WithStatus(models.JobStatusError),
				store.WithErrorMessage(abandonedMessage))
			switch {
			case err == nil:
				failed++
				s.log.Warn("sweep: failed abandoned job", "job_id", j.ID, "created_at", j.CreatedAt)
			case errors.Is(err, store.ErrTerminalState), errors.Is(err, store.ErrNotFound):
				// finished or deleted since the listing
			default:
				s.log.Error("sweep: failing abandoned job", "job_id", j.ID, "error", err)
			}
		}
	}

	if s.opts.Retention > 0 {
		expired, err := s.store.ListJobs(ctx, store.JobFilter{CompletedBefore: now.Add(-s.opts.Retention)})
		if err != nil {
			s.log.Error("sweep: listing expired jobs", "error", err)
		}
		for _, j := range expired {
			if err := removeJob(ctx, s.store, j); err != nil {
				s.log.Error("sweep: deleting expired job", "job_id", j.ID, "error", err)
				continue
			}
			deleted++
		}
	}

	if failed > 0 || deleted > 0 {
		s.log.Info("sweep complete", "failed", failed, "deleted", deleted)
	}
	return failed, deleted
}
