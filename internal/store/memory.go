package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kiranshivaraju/stylizer/pkg/models"
)

// MemoryStore implements Store with a mutex-guarded map. It is the default
// backend; records live only as long as the process.
type MemoryStore struct {
	mu     sync.RWMutex
	jobs   map[int64]*models.Job
	nextID int64
	now    func() time.Time
}

// NewMemoryStore creates an empty MemoryStore. Ids start at 1.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   make(map[int64]*models.Job),
		nextID: 1,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) CreateJob(_ context.Context, nj NewJob) (*models.Job, error) {
	if nj.OriginalPath == "" {
		return nil, fmt.Errorf("create job: original path is required")
	}

	createdAt := nj.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job := &models.Job{
		ID:               s.nextID,
		OriginalFileName: nj.OriginalFileName,
		OriginalPath:     nj.OriginalPath,
		Status:           models.JobStatusPending,
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
	s.nextID++
	s.jobs[job.ID] = job

	return job.Clone(), nil
}

func (s *MemoryStore) GetJob(_ context.Context, id int64) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

// UpdateJob applies opts to a private copy and swaps it in, so a failed
// update leaves the stored record untouched.
func (s *MemoryStore) UpdateJob(_ context.Context, id int64, opts ...JobUpdateOption) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}

	next := current.Clone()
	if err := applyUpdate(next, s.now(), opts); err != nil {
		return nil, err
	}
	s.jobs[id] = next

	return next.Clone(), nil
}

func (s *MemoryStore) DeleteJob(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return false, nil
	}
	delete(s.jobs, id)
	return true, nil
}

// ListJobs returns matching jobs ordered by id.
func (s *MemoryStore) ListJobs(_ context.Context, filter JobFilter) ([]*models.Job, error) {
	s.mu.RLock()
	jobs := make([]*models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.matches(job) {
			jobs = append(jobs, job.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(jobs, func(i, k int) bool { return jobs[i].ID < jobs[k].ID })
	return jobs, nil
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
