package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/stylizer/pkg/models"
)

var ErrNotFound = errors.New("resource not found")

// ErrTerminalState is returned when an update tries to change the status of a
// job that already reached completed or error.
var ErrTerminalState = errors.New("job already in terminal state")

// ErrInvalidTransition is returned for status changes the lifecycle never allows.
var ErrInvalidTransition = errors.New("invalid job status transition")

// Store is the job registry. All job reads and writes go through here.
// Implementations must be safe for concurrent use and must apply each
// UpdateJob atomically with respect to the whole record.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job NewJob) (*models.Job, error)
	GetJob(ctx context.Context, id int64) (*models.Job, error)
	UpdateJob(ctx context.Context, id int64, opts ...JobUpdateOption) (*models.Job, error)
	DeleteJob(ctx context.Context, id int64) (bool, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error)
}

// NewJob holds the immutable fields of a job at creation time.
type NewJob struct {
	OriginalFileName string
	OriginalPath     string
	CreatedAt        time.Time
}

// JobFilter narrows ListJobs. Zero values are ignored.
type JobFilter struct {
	Status          string
	CreatedBefore   time.Time
	CompletedBefore time.Time
}

func (f JobFilter) matches(j *models.Job) bool {
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	if !f.CreatedBefore.IsZero() && !j.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	if !f.CompletedBefore.IsZero() && (j.CompletedAt == nil || !j.CompletedAt.Before(f.CompletedBefore)) {
		return false
	}
	return true
}

type jobUpdateParams struct {
	Status       *string
	ErrorMessage *string
	ResultPath   *string
}

type JobUpdateOption func(*jobUpdateParams)

func WithStatus(status string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Status = &status
	}
}

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func WithResultPath(path string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ResultPath = &path
	}
}

var validTransitions = map[string][]string{
	models.JobStatusPending: {models.JobStatusCompleted, models.JobStatusError},
}

// applyUpdate merges opts into job in place. Both store implementations use it
// so the lifecycle rules live in one spot.
func applyUpdate(job *models.Job, now time.Time, opts []JobUpdateOption) error {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	if job.IsTerminal() {
		return fmt.Errorf("%w: job %d is %s", ErrTerminalState, job.ID, job.Status)
	}

	if params.Status != nil && *params.Status != job.Status {
		valid := false
		for _, next := range validTransitions[job.Status] {
			if next == *params.Status {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, *params.Status)
		}
		job.Status = *params.Status
		if job.IsTerminal() {
			completed := now
			job.CompletedAt = &completed
		}
	}

	if params.ErrorMessage != nil {
		msg := *params.ErrorMessage
		job.ErrorMessage = &msg
	}
	if params.ResultPath != nil {
		path := *params.ResultPath
		job.ResultPath = &path
	}
	job.UpdatedAt = now
	return nil
}
