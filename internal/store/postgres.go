package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/stylizer/pkg/models"
)

const jobColumns = `id, original_file_name, original_path, processed_path, status, error_message,
	created_at, updated_at, completed_at`

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) CreateJob(ctx context.Context, nj NewJob) (*models.Job, error) {
	if nj.OriginalPath == "" {
		return nil, fmt.Errorf("create job: original path is required")
	}
	createdAt := nj.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO jobs (original_file_name, original_path, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 RETURNING `+jobColumns,
		nj.OriginalFileName, nj.OriginalPath, models.JobStatusPending, createdAt)

	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// UpdateJob locks the row, merges opts with the shared lifecycle rules and
// writes the result back in one transaction.
func (s *PostgresStore) UpdateJob(ctx context.Context, id int64, opts ...JobUpdateOption) (*models.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin update job: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock job: %w", err)
	}

	if err := applyUpdate(job, time.Now().UTC(), opts); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE jobs
		 SET status = $2, processed_path = $3, error_message = $4, updated_at = $5, completed_at = $6
		 WHERE id = $1`,
		job.ID, job.Status, job.ResultPath, job.ErrorMessage, job.UpdatedAt, job.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit update job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) DeleteJob(ctx context.Context, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	if !filter.CreatedBefore.IsZero() {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argIdx))
		args = append(args, filter.CreatedBefore)
		argIdx++
	}
	if !filter.CompletedBefore.IsZero() {
		conditions = append(conditions, fmt.Sprintf("completed_at < $%d", argIdx))
		args = append(args, filter.CompletedBefore)
		argIdx++
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.OriginalFileName, &j.OriginalPath, &j.ResultPath, &j.Status, &j.ErrorMessage,
		&j.CreatedAt, &j.UpdatedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
