package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/xuecangming/drivefetch/internal/common/errors"
	"github.com/xuecangming/drivefetch/internal/common/types"
	"github.com/xuecangming/drivefetch/internal/infrastructure/database"
)

// JobRepository persists the jobs of one category in a relational table
type JobRepository struct {
	db       *database.DB
	category types.Category
	table    string
}

// NewJobRepository creates a job repository for category
func NewJobRepository(db *database.DB, category types.Category) *JobRepository {
	return &JobRepository{db: db, category: category, table: database.JobTable(category)}
}

func (r *JobRepository) q(query string) string {
	return r.db.Dialect.Rebind(fmt.Sprintf(query, r.table))
}

// Upsert inserts or replaces a job
func (r *JobRepository) Upsert(ctx context.Context, job *types.Job) error {
	query := r.q(`
		INSERT INTO %s (id, func, args, status, retries, next_run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			func = excluded.func,
			args = excluded.args,
			status = excluded.status,
			retries = excluded.retries,
			next_run_at = excluded.next_run_at,
			updated_at = excluded.updated_at
	`)

	now := time.Now().UTC()
	created := job.CreatedAt
	if created.IsZero() {
		created = now
	}
	updated := job.UpdatedAt
	if updated.IsZero() {
		updated = now
	}

	_, err := r.db.ExecContext(ctx, query,
		job.ID, job.Func, string(job.Args), string(job.Status), job.Retries,
		toNanos(job.NextRunAt), toNanos(created), toNanos(updated),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert %s job: %w", r.category, err)
	}
	return nil
}

// Get retrieves a job by ID
func (r *JobRepository) Get(ctx context.Context, id string) (*types.Job, error) {
	query := r.q(`
		SELECT id, func, args, status, retries, next_run_at, created_at, updated_at
		FROM %s
		WHERE id = ?
	`)

	job, err := r.scan(r.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundError("job", id)
	}
	return job, err
}

// Remove deletes a job
func (r *JobRepository) Remove(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.q(`DELETE FROM %s WHERE id = ?`), id)
	return err
}

// DueJobs returns queued jobs due at now, oldest first
func (r *JobRepository) DueJobs(ctx context.Context, now time.Time) ([]*types.Job, error) {
	query := r.q(`
		SELECT id, func, args, status, retries, next_run_at, created_at, updated_at
		FROM %s
		WHERE status = ? AND next_run_at <= ?
		ORDER BY next_run_at, created_at, id
	`)
	return r.query(ctx, query, string(types.JobStatusQueued), toNanos(now))
}

// NextRunTime returns the earliest run time of any queued job
func (r *JobRepository) NextRunTime(ctx context.Context) (time.Time, bool, error) {
	query := r.q(`SELECT MIN(next_run_at) FROM %s WHERE status = ?`)

	var next sql.NullInt64
	if err := r.db.QueryRowContext(ctx, query, string(types.JobStatusQueued)).Scan(&next); err != nil {
		return time.Time{}, false, err
	}
	if !next.Valid {
		return time.Time{}, false, nil
	}
	return fromNanos(next.Int64), true, nil
}

// Recover puts running jobs back to queued and returns all pending jobs
func (r *JobRepository) Recover(ctx context.Context) ([]*types.Job, error) {
	update := r.q(`UPDATE %s SET status = ?, updated_at = ? WHERE status = ?`)
	_, err := r.db.ExecContext(ctx, update,
		string(types.JobStatusQueued), toNanos(time.Now().UTC()), string(types.JobStatusRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to recover %s jobs: %w", r.category, err)
	}
	return r.List(ctx)
}

// List returns all jobs
func (r *JobRepository) List(ctx context.Context) ([]*types.Job, error) {
	query := r.q(`
		SELECT id, func, args, status, retries, next_run_at, created_at, updated_at
		FROM %s
		ORDER BY next_run_at, created_at, id
	`)
	return r.query(ctx, query)
}

func (r *JobRepository) query(ctx context.Context, query string, args ...interface{}) ([]*types.Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]*types.Job, 0)
	for rows.Next() {
		job, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *JobRepository) scan(row rowScanner) (*types.Job, error) {
	job := &types.Job{Category: r.category}
	var args, status string
	var nextRun, created, updated int64

	err := row.Scan(&job.ID, &job.Func, &args, &status, &job.Retries, &nextRun, &created, &updated)
	if err != nil {
		return nil, err
	}

	if args != "" {
		job.Args = []byte(args)
	}
	job.Status = types.JobStatus(status)
	job.NextRunAt = fromNanos(nextRun)
	job.CreatedAt = fromNanos(created)
	job.UpdatedAt = fromNanos(updated)
	return job, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
