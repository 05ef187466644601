package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/stylizer/internal/artifact"
	"github.com/kiranshivaraju/stylizer/internal/cache"
	"github.com/kiranshivaraju/stylizer/internal/provider"
	"github.com/kiranshivaraju/stylizer/internal/store"
	"github.com/kiranshivaraju/stylizer/pkg/models"
)

// ErrJobActive is returned when deleting a job that is still pending.
var ErrJobActive = errors.New("job is still being processed")

// Launcher starts background orchestration of a newly created job.
type Launcher interface {
	Launch(job *models.Job)
}

// ServiceOptions holds upload and analysis limits.
type ServiceOptions struct {
	MaxUploadBytes  int64
	AnalysisTTL     time.Duration
	AnalysisTimeout time.Duration
}

// StatusView is what a polling client sees for one job.
type StatusView struct {
	ID               int64            `json:"id"`
	Status           string           `json:"status"`
	OriginalFileName string           `json:"originalFileName"`
	Error            string           `json:"error,omitempty"`
	OriginalURL      string           `json:"originalUrl,omitempty"`
	ProcessedURL     string           `json:"processedUrl,omitempty"`
	Analysis         *models.Analysis `json:"analysis,omitempty"`
}

// Service creates jobs from uploads and answers status queries.
type Service struct {
	store       store.Store
	launcher    Launcher
	transformer models.Transformer
	layout      artifact.Layout
	cache       cache.Cache
	opts        ServiceOptions
	log         *slog.Logger
}

func NewService(st store.Store, l Launcher, t models.Transformer, layout artifact.Layout, c cache.Cache, opts ServiceOptions, logger *slog.Logger) *Service {
	if c == nil {
		c = cache.NopCache{}
	}
	return &Service{
		store:       st,
		launcher:    l,
		transformer: t,
		layout:      layout,
		cache:       c,
		opts:        opts,
		log:         logger,
	}
}

// Submit validates and stores the upload, creates a pending job and launches
// its orchestration. The returned job is pending.
func (s *Service) Submit(ctx context.Context, u *artifact.Upload) (*models.Job, error) {
	if _, err := artifact.Validate(u, s.opts.MaxUploadBytes); err != nil {
		return nil, err
	}

	path, err := s.layout.SaveOriginal(u.FileName, u.Content, s.opts.MaxUploadBytes)
	if err != nil {
		return nil, err
	}

	job, err := s.store.CreateJob(ctx, store.NewJob{
		OriginalFileName: u.FileName,
		OriginalPath:     path,
		CreatedAt:        time.Now().UTC(),
	})
	if err != nil {
		if rmErr := artifact.Remove(path); rmErr != nil {
			s.log.Warn("failed to remove orphaned original", "path", path, "error", rmErr)
		}
		return nil, fmt.Errorf("creating job: %w", err)
	}

	s.launcher.Launch(job)

	s.log.Info("job created", "job_id", job.ID, "file_name", job.OriginalFileName)
	return job, nil
}

// Status returns the client view of job id. Analysis problems never fail
// the call; the fallback analysis is used instead.
func (s *Service) Status(ctx context.Context, id int64) (*StatusView, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &StatusView{
		ID:               job.ID,
		Status:           job.Status,
		OriginalFileName: job.OriginalFileName,
	}

	switch job.Status {
	case models.JobStatusError:
		if job.ErrorMessage != nil {
			view.Error = *job.ErrorMessage
		}
	case models.JobStatusCompleted:
		view.OriginalURL = artifact.OriginalURL(job.OriginalPath)
		if job.ResultPath != nil {
			view.ProcessedURL = artifact.ProcessedURL(*job.ResultPath)
			a := s.analysis(ctx, job.ID, *job.ResultPath)
			view.Analysis = &a
		}
	}
	return view, nil
}

// Delete removes a terminal job and its files.
func (s *Service) Delete(ctx context.Context, id int64) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if !job.IsTerminal() {
		return ErrJobActive
	}
	if err := removeJob(ctx, s.store, job); err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, cache.AnalysisKey(id)); err != nil {
		s.log.Debug("analysis cache delete failed", "job_id", id, "error", err)
	}
	return nil
}

func (s *Service) analysis(ctx context.Context, id int64, resultPath string) models.Analysis {
	key := cache.AnalysisKey(id)

	if raw, found, err := s.cache.Get(ctx, key); err != nil {
		s.log.Debug("analysis cache read failed", "job_id", id, "error", err)
	} else if found {
		var a models.Analysis
		if err := json.Unmarshal(raw, &a); err == nil && a.IsComplete() {
			return a
		}
	}

	a := provider.AnalyzeOrFallback(ctx, s.transformer, resultPath, s.opts.AnalysisTimeout, s.log.With("job_id", id))

	if s.opts.AnalysisTTL > 0 {
		if raw, err := json.Marshal(a); err == nil {
			if err := s.cache.Set(ctx, key, raw, s.opts.AnalysisTTL); err != nil {
				s.log.Debug("analysis cache write failed", "job_id", id, "error", err)
			}
		}
	}
	return a
}

// removeJob deletes the record first, so a file is never left referenced
// by a live job.
func removeJob(ctx context.Context, st store.Store, job *models.Job) error {
	if _, err := st.DeleteJob(ctx, job.ID); err != nil {
		return fmt.Errorf("deleting job %d: %w", job.ID, err)
	}
	paths := []string{job.OriginalPath}
	if job.ResultPath != nil {
		paths = append(paths, *job.ResultPath)
	}
	if err := artifact.Remove(paths...); err != nil {
		return fmt.Errorf("removing files for job %d: %w", job.ID, err)
	}
	return nil
}
