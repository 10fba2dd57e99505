package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/recruitgrid/leadharvest/internal/leads"
)

// RunStore persists campaign runs. It assumes a table schema like:
//
//	CREATE TABLE campaign_runs (
//	    id UUID PRIMARY KEY,
//	    campaign_id UUID NOT NULL,
//	    principal_id UUID NOT NULL,
//	    status TEXT NOT NULL,
//	    pages_requested INT NOT NULL,
//	    leads_found INT NOT NULL DEFAULT 0,
//	    error_text TEXT,
//	    started_at TIMESTAMPTZ,
//	    finished_at TIMESTAMPTZ
//	);
type RunStore struct {
	db Querier
}

// NewRunStore constructs a RunStore.
func NewRunStore(db Querier) *RunStore {
	return &RunStore{db: db}
}

// Create inserts a new run row.
func (s *RunStore) Create(ctx context.Context, run leads.CampaignRun) error {
	query := `
INSERT INTO campaign_runs (id, campaign_id, principal_id, status, pages_requested)
VALUES ($1,$2,$3,$4,$5)`
	_, err := s.db.Exec(ctx, query,
		run.ID, run.CampaignID, run.PrincipalID, run.Status, run.PagesRequested,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// HasActiveRun reports whether the campaign has a queued or running run.
func (s *RunStore) HasActiveRun(ctx context.Context, campaignID string) (bool, error) {
	query := `
SELECT EXISTS (
	SELECT 1 FROM campaign_runs
	WHERE campaign_id = $1 AND status IN ($2, $3)
)`
	var active bool
	err := s.db.QueryRow(ctx, query, campaignID, leads.RunStatusQueued, leads.RunStatusRunning).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("check active runs: %w", err)
	}
	return active, nil
}

// MarkRunning transitions a run to running and stamps its start time.
func (s *RunStore) MarkRunning(ctx context.Context, runID string, at time.Time) error {
	query := `
UPDATE campaign_runs
SET status = $2, started_at = $3
WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, runID, leads.RunStatusRunning, at)
	if err != nil {
		return fmt.Errorf("mark run running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return leads.ErrRunNotFound
	}
	return nil
}

// Complete terminates a run successfully with the inserted lead count.
func (s *RunStore) Complete(ctx context.Context, runID string, leadsFound int, at time.Time) error {
	query := `
UPDATE campaign_runs
SET status = $2, leads_found = $3, finished_at = $4
WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, runID, leads.RunStatusCompleted, leadsFound, at)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return leads.ErrRunNotFound
	}
	return nil
}

// Fail terminates a run with a descriptive error.
func (s *RunStore) Fail(ctx context.Context, runID, errText string, at time.Time) error {
	query := `
UPDATE campaign_runs
SET status = $2, error_text = $3, finished_at = $4
WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, runID, leads.RunStatusFailed, errText, at)
	if err != nil {
		return fmt.Errorf("fail run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return leads.ErrRunNotFound
	}
	return nil
}

const selectRunSQL = `
SELECT id, campaign_id, principal_id, status, pages_requested, leads_found,
       COALESCE(error_text, ''), started_at, finished_at
FROM campaign_runs`

// Get fetches one run by ID.
func (s *RunStore) Get(ctx context.Context, runID string) (leads.CampaignRun, error) {
	row := s.db.QueryRow(ctx, selectRunSQL+` WHERE id = $1`, runID)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return leads.CampaignRun{}, leads.ErrRunNotFound
		}
		return leads.CampaignRun{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListByCampaign returns the campaign's runs, newest first.
func (s *RunStore) ListByCampaign(ctx context.Context, campaignID string) ([]leads.CampaignRun, error) {
	rows, err := s.db.Query(ctx, selectRunSQL+` WHERE campaign_id = $1 ORDER BY started_at DESC NULLS LAST`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []leads.CampaignRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

func scanRun(row pgx.Row) (leads.CampaignRun, error) {
	var run leads.CampaignRun
	err := row.Scan(
		&run.ID, &run.CampaignID, &run.PrincipalID, &run.Status,
		&run.PagesRequested, &run.LeadsFound, &run.ErrorText,
		&run.StartedAt, &run.FinishedAt,
	)
	return run, err
}
