package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xsync/xsync/internal/models"
)

const syncJobColumns = `
	media_account,
	update_frequency,
	interval_seconds,
	start_time,
	next_run_at,
	last_run_at,
	created_at,
	updated_at`

// SyncJobRepository stores per-account schedules in the sync_jobs table.
type SyncJobRepository struct {
	db *sql.DB
}

// NewSyncJobRepository creates a new sync job repository.
func NewSyncJobRepository(db *sql.DB) *SyncJobRepository {
	return &SyncJobRepository{db: db}
}

// Save creates or replaces the schedule for job.Account. created_at survives
// replacement.
func (r *SyncJobRepository) Save(ctx context.Context, job models.SyncJob) error {
	now := time.Now().UTC()

	query := `
		INSERT INTO sync_jobs (` + syncJobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (media_account) DO UPDATE SET
			update_frequency = excluded.update_frequency,
			interval_seconds = excluded.interval_seconds,
			start_time = excluded.start_time,
			next_run_at = excluded.next_run_at,
			last_run_at = excluded.last_run_at,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		job.Account,
		job.Frequency,
		int64(job.Interval/time.Second),
		job.BackfillStart.UTC(),
		nullableTime(job.NextRunAt),
		nullableTime(job.LastRunAt),
		now,
	)
	if err != nil {
		return fmt.Errorf("save sync job %s: %w", job.Account, err)
	}
	return nil
}

// Get returns the schedule for account, or nil when none is stored.
func (r *SyncJobRepository) Get(ctx context.Context, account string) (*models.SyncJob, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+syncJobColumns+` FROM sync_jobs WHERE media_account = $1`, account)

	job, err := scanSyncJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync job %s: %w", account, err)
	}
	return &job, nil
}

// List returns every stored schedule ordered by account.
func (r *SyncJobRepository) List(ctx context.Context) ([]models.SyncJob, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+syncJobColumns+` FROM sync_jobs ORDER BY media_account`)
	if err != nil {
		return nil, fmt.Errorf("list sync jobs: %w", err)
	}
	defer rows.Close()

	jobs := []models.SyncJob{}
	for rows.Next() {
		job, err := scanSyncJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Delete removes the schedule for account. Deleting a missing row is not an error.
func (r *SyncJobRepository) Delete(ctx context.Context, account string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sync_jobs WHERE media_account = $1`, account); err != nil {
		return fmt.Errorf("delete sync job %s: %w", account, err)
	}
	return nil
}

// MarkRun records the completion of a run and the next planned fire time.
func (r *SyncJobRepository) MarkRun(ctx context.Context, account string, lastRun, nextRun time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_jobs
		SET last_run_at = $2, next_run_at = $3, updated_at = $4
		WHERE media_account = $1
	`, account, lastRun.UTC(), nextRun.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark run for %s: %w", account, err)
	}
	return nil
}

func scanSyncJob(row rowScanner) (models.SyncJob, error) {
	var (
		job     models.SyncJob
		seconds int64
		nextRun sql.NullTime
		lastRun sql.NullTime
	)
	err := row.Scan(
		&job.Account,
		&job.Frequency,
		&seconds,
		&job.BackfillStart,
		&nextRun,
		&lastRun,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return models.SyncJob{}, err
	}

	job.Interval = time.Duration(seconds) * time.Second
	job.BackfillStart = job.BackfillStart.UTC()
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	job.NextRunAt = timePtr(nextRun)
	job.LastRunAt = timePtr(lastRun)
	return job, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
