package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/recruitgrid/leadharvest/internal/leads"
)

// JobStore is an in-memory enrichment queue with the same claim semantics
// as the Postgres implementation.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]leads.EnrichmentJob
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]leads.EnrichmentJob)}
}

// Enqueue stores a new queued job.
func (s *JobStore) Enqueue(_ context.Context, job leads.EnrichmentJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	job.Status = leads.JobStatusQueued
	job.UpdatedAt = job.CreatedAt
	s.jobs[job.ID] = job
	return nil
}

// SelectDue returns up to limit due queued jobs, highest priority first,
// oldest first within a priority.
func (s *JobStore) SelectDue(_ context.Context, limit int, now time.Time) ([]leads.EnrichmentJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []leads.EnrichmentJob
	for _, job := range s.jobs {
		if job.Status != leads.JobStatusQueued {
			continue
		}
		if job.Attempts >= job.MaxAttempts {
			continue
		}
		if job.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, job)
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Claim moves a job queued->processing and bumps attempts. Returns false
// when the job is not queued anymore.
func (s *JobStore) Claim(_ context.Context, jobID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != leads.JobStatusQueued {
		return false, nil
	}
	job.Status = leads.JobStatusProcessing
	job.Attempts++
	job.UpdatedAt = at
	s.jobs[jobID] = job
	return true, nil
}

// Complete marks a job done.
func (s *JobStore) Complete(_ context.Context, jobID string, at time.Time) error {
	return s.update(jobID, func(job *leads.EnrichmentJob) {
		job.Status = leads.JobStatusCompleted
		job.ErrorText = ""
		job.UpdatedAt = at
	})
}

// Retry re-queues a job with its next due time.
func (s *JobStore) Retry(_ context.Context, jobID, errText string, nextAttemptAt, at time.Time) error {
	return s.update(jobID, func(job *leads.EnrichmentJob) {
		job.Status = leads.JobStatusQueued
		job.ErrorText = errText
		job.NextAttemptAt = nextAttemptAt
		job.UpdatedAt = at
	})
}

// Fail terminates a job permanently.
func (s *JobStore) Fail(_ context.Context, jobID, errText string, at time.Time) error {
	return s.update(jobID, func(job *leads.EnrichmentJob) {
		job.Status = leads.JobStatusFailed
		job.ErrorText = errText
		job.UpdatedAt = at
	})
}

// Stats returns counts by status for jobs updated since the given time.
func (s *JobStore) Stats(_ context.Context, since time.Time) (leads.JobStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats leads.JobStats
	for _, job := range s.jobs {
		if job.UpdatedAt.Before(since) {
			continue
		}
		switch job.Status {
		case leads.JobStatusQueued:
			stats.Queued++
		case leads.JobStatusProcessing:
			stats.Processing++
		case leads.JobStatusCompleted:
			stats.Completed++
		case leads.JobStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// CleanupOldJobs deletes terminal jobs last touched before cutoff.
func (s *JobStore) CleanupOldJobs(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, job := range s.jobs {
		terminal := job.Status == leads.JobStatusCompleted || job.Status == leads.JobStatusFailed
		if terminal && job.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}

// Get fetches one job by ID.
func (s *JobStore) Get(jobID string) (leads.EnrichmentJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	return job, ok
}

func (s *JobStore) update(jobID string, fn func(*leads.EnrichmentJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return errors.New("job not found")
	}
	fn(&job)
	s.jobs[jobID] = job
	return nil
}
