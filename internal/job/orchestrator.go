// Package job drives stylization jobs from upload to a terminal state and
// builds the status view clients poll.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/stylizer/internal/artifact"
	"github.com/kiranshivaraju/stylizer/internal/provider"
	"github.com/kiranshivaraju/stylizer/internal/store"
	"github.com/kiranshivaraju/stylizer/pkg/models"
)

// ErrPollTimeout is recorded when a provider is still pending after the
// last allowed poll.
var ErrPollTimeout = errors.New("transformation timed out")

// ErrInterrupted is recorded when the server shuts down mid-orchestration.
var ErrInterrupted = errors.New("orchestration interrupted")

const (
	defaultPollInterval    = 5 * time.Second
	defaultMaxPollAttempts = 60
	finishTimeout          = 10 * time.Second
)

// Options controls poll pacing.
type Options struct {
	PollInterval    time.Duration
	MaxPollAttempts int
}

// Orchestrator runs one background task per job. Each task ends with exactly
// one terminal store update.
type Orchestrator struct {
	store       store.Store
	transformer models.Transformer
	layout      artifact.Layout
	opts        Options
	log         *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running map[int64]struct{}
}

func NewOrchestrator(st store.Store, t models.Transformer, layout artifact.Layout, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.MaxPollAttempts <= 0 {
		opts.MaxPollAttempts = defaultMaxPollAttempts
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:       st,
		transformer: t,
		layout:      layout,
		opts:        opts,
		log:         logger,
		ctx:         ctx,
		cancel:      cancel,
		running:     make(map[int64]struct{}),
	}
}

// Launch starts orchestration of job in the background and returns at once.
func (o *Orchestrator) Launch(job *models.Job) {
	j := job.Clone()

	o.mu.Lock()
	o.running[j.ID] = struct{}{}
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.running, j.ID)
			o.mu.Unlock()
		}()
		o.Run(o.ctx, j)
	}()
}

// Running reports whether a launched orchestration for id has not returned yet.
func (o *Orchestrator) Running(id int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[id]
	return ok
}

// Run orchestrates job synchronously. It never returns an error; every
// outcome, including a panic, ends up on the job record.
func (o *Orchestrator) Run(ctx context.Context, job *models.Job) {
	log := o.log.With("job_id", job.ID, "provider", o.transformer.Name())
	finished := false

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in orchestration", "panic", r)
			if !finished {
				o.finish(log, job.ID, "", fmt.Errorf("orchestration panic: %v", r))
			}
		}
	}()

	start := time.Now()
	resultPath, err := o.transform(ctx, log, job)
	finished = true
	o.finish(log, job.ID, resultPath, err)

	log.Info("orchestration finished",
		"success", err == nil,
		"elapsed_ms", time.Since(start).Milliseconds())
}

// Shutdown interrupts running orchestrations and waits for them to record
// their terminal state, or for ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) transform(ctx context.Context, log *slog.Logger, job *models.Job) (string, error) {
	dest := o.layout.ProcessedPath(job)

	h, err := o.transformer.Submit(ctx, job.OriginalPath, provider.StyleDirective)
	if err != nil {
		return "", interrupted(ctx, fmt.Errorf("submit failed: %w", err))
	}
	log.Debug("transformation submitted", "handle", h)

	for attempt := 1; attempt <= o.opts.MaxPollAttempts; attempt++ {
		if err := wait(ctx, o.opts.PollInterval); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInterrupted, err)
		}

		res, err := o.transformer.Poll(ctx, h)
		if err != nil {
			return "", interrupted(ctx, fmt.Errorf("poll failed: %w", err))
		}

		switch res.State {
		case models.PollCompleted:
			path, err := o.transformer.Fetch(ctx, res.ResultRef, dest)
			if err != nil {
				return "", interrupted(ctx, fmt.Errorf("fetch failed: %w", err))
			}
			return path, nil
		case models.PollFailed:
			reason := res.Reason
			if reason == "" {
				reason = "transformation failed"
			}
			return "", errors.New(reason)
		case models.PollPending:
			if res.Progress != nil {
				log.Debug("transformation pending", "attempt", attempt, "progress", *res.Progress)
			} else {
				log.Debug("transformation pending", "attempt", attempt)
			}
		default:
			return "", fmt.Errorf("%w: unknown poll state %q", models.ErrInvalidResponse, res.State)
		}
	}

	return "", fmt.Errorf("%w after %d polls", ErrPollTimeout, o.opts.MaxPollAttempts)
}

// finish writes the single terminal update. It uses its own context so a
// cancelled run can still record why it stopped.
func (o *Orchestrator) finish(log *slog.Logger, id int64, resultPath string, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()

	var err error
	if runErr != nil {
		log.Warn("orchestration failed", "error", runErr)
		_, err = o.store.UpdateJob(ctx, id,
			store.WithStatus(models.JobStatusError),
			store.WithErrorMessage(runErr.Error()))
	} else {
		_, err = o.store.UpdateJob(ctx, id,
			store.WithStatus(models.JobStatusCompleted),
			store.WithResultPath(resultPath))
	}

	switch {
	case err == nil:
	case errors.Is(err, store.ErrTerminalState), errors.Is(err, store.ErrNotFound):
		log.Warn("terminal update skipped", "error", err)
	default:
		log.Error("terminal update failed", "error", err)
	}
}

// interrupted rewrites err when it was caused by cancellation of ctx.
func interrupted(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrInterrupted, err)
	}
	return err
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
