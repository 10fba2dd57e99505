package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/recruitgrid/leadharvest/internal/leads"
)

// JobStore is the durable enrichment queue backed by Postgres. Schema:
//
//	CREATE TABLE enrichment_jobs (
//	    id UUID PRIMARY KEY,
//	    lead_id UUID NOT NULL,
//	    principal_id UUID NOT NULL,
//	    profile_url TEXT NOT NULL,
//	    status TEXT NOT NULL,
//	    priority INT NOT NULL DEFAULT 0,
//	    attempts INT NOT NULL DEFAULT 0,
//	    max_attempts INT NOT NULL DEFAULT 3,
//	    error_text TEXT,
//	    next_attempt_at TIMESTAMPTZ NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX idx_enrichment_jobs_due
//	    ON enrichment_jobs (status, next_attempt_at, priority DESC, created_at);
type JobStore struct {
	db Querier
}

// NewJobStore constructs a JobStore.
func NewJobStore(db Querier) *JobStore {
	return &JobStore{db: db}
}

// Enqueue inserts a new queued job.
func (s *JobStore) Enqueue(ctx context.Context, job leads.EnrichmentJob) error {
	query := `
INSERT INTO enrichment_jobs
	(id, lead_id, principal_id, profile_url, status, priority,
	 attempts, max_attempts, next_attempt_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)`
	_, err := s.db.Exec(ctx, query,
		job.ID, job.LeadID, job.PrincipalID, job.ProfileURL,
		leads.JobStatusQueued, job.Priority,
		job.Attempts, job.MaxAttempts, job.NextAttemptAt, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// SelectDue returns up to limit queued jobs whose next attempt is due and
// which still have attempts remaining, highest priority first and oldest
// first within a priority.
func (s *JobStore) SelectDue(ctx context.Context, limit int, now time.Time) ([]leads.EnrichmentJob, error) {
	query := `
SELECT id, lead_id, principal_id, profile_url, status, priority,
       attempts, max_attempts, COALESCE(error_text, ''),
       next_attempt_at, created_at, updated_at
FROM enrichment_jobs
WHERE status = $1 AND attempts < max_attempts AND next_attempt_at <= $2
ORDER BY priority DESC, created_at ASC
LIMIT $3`
	rows, err := s.db.Query(ctx, query, leads.JobStatusQueued, now, limit)
	if err != nil {
		return nil, fmt.Errorf("select due jobs: %w", err)
	}
	defer rows.Close()

	var out []leads.EnrichmentJob
	for rows.Next() {
		var job leads.EnrichmentJob
		err := rows.Scan(
			&job.ID, &job.LeadID, &job.PrincipalID, &job.ProfileURL,
			&job.Status, &job.Priority, &job.Attempts, &job.MaxAttempts,
			&job.ErrorText, &job.NextAttemptAt, &job.CreatedAt, &job.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

// Claim transitions a job queued->processing and bumps its attempt counter
// in one status-guarded update. Returns false when another claimer won.
func (s *JobStore) Claim(ctx context.Context, jobID string, at time.Time) (bool, error) {
	query := `
UPDATE enrichment_jobs
SET status = $2, attempts = attempts + 1, updated_at = $3
WHERE id = $1 AND status = $4`
	tag, err := s.db.Exec(ctx, query, jobID, leads.JobStatusProcessing, at, leads.JobStatusQueued)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Complete marks a job done.
func (s *JobStore) Complete(ctx context.Context, jobID string, at time.Time) error {
	query := `
UPDATE enrichment_jobs
SET status = $2, error_text = NULL, updated_at = $3
WHERE id = $1`
	_, err := s.db.Exec(ctx, query, jobID, leads.JobStatusCompleted, at)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// Retry re-queues a job after a failed attempt with its next due time.
func (s *JobStore) Retry(ctx context.Context, jobID, errText string, nextAttemptAt, at time.Time) error {
	query := `
UPDATE enrichment_jobs
SET status = $2, error_text = $3, next_attempt_at = $4, updated_at = $5
WHERE id = $1`
	_, err := s.db.Exec(ctx, query, jobID, leads.JobStatusQueued, errText, nextAttemptAt, at)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	return nil
}

// Fail terminates a job permanently.
func (s *JobStore) Fail(ctx context.Context, jobID, errText string, at time.Time) error {
	query := `
UPDATE enrichment_jobs
SET status = $2, error_text = $3, updated_at = $4
WHERE id = $1`
	_, err := s.db.Exec(ctx, query, jobID, leads.JobStatusFailed, errText, at)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// Stats returns counts by status for jobs updated since the given time.
func (s *JobStore) Stats(ctx context.Context, since time.Time) (leads.JobStats, error) {
	query := `
SELECT status, COUNT(*)
FROM enrichment_jobs
WHERE updated_at >= $1
GROUP BY status`
	rows, err := s.db.Query(ctx, query, since)
	if err != nil {
		return leads.JobStats{}, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	var stats leads.JobStats
	for rows.Next() {
		var status leads.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return leads.JobStats{}, fmt.Errorf("scan job stats: %w", err)
		}
		switch status {
		case leads.JobStatusQueued:
			stats.Queued = count
		case leads.JobStatusProcessing:
			stats.Processing = count
		case leads.JobStatusCompleted:
			stats.Completed = count
		case leads.JobStatusFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return leads.JobStats{}, fmt.Errorf("iterate job stats: %w", err)
	}
	return stats, nil
}

// CleanupOldJobs deletes terminal jobs last touched before cutoff.
func (s *JobStore) CleanupOldJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
DELETE FROM enrichment_jobs
WHERE status IN ($1, $2) AND updated_at < $3`
	tag, err := s.db.Exec(ctx, query, leads.JobStatusCompleted, leads.JobStatusFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}
