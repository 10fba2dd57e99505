// Package leads defines core types shared across the acquisition and
// enrichment subsystems, plus the contracts of the external collaborators
// (credential store, credit ledger, enrichment capability, persistence).
package leads

import (
	"encoding/json"
	"time"
)

// RunStatus represents the lifecycle state of a campaign run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// CampaignRun is one acquisition attempt for a campaign. Runs are never
// deleted; terminal rows form the audit trail.
type CampaignRun struct {
	ID             string     `json:"id"`
	CampaignID     string     `json:"campaign_id"`
	PrincipalID    string     `json:"principal_id"`
	Status         RunStatus  `json:"status"`
	PagesRequested int        `json:"pages_requested"`
	LeadsFound     int        `json:"leads_found"`
	ErrorText      string     `json:"error_text,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// SourceNetworkSearch is the provenance tag for leads discovered by the
// acquisition pipeline.
const SourceNetworkSearch = "network_search"

// Lead is a candidate profile observed during acquisition. Identity is
// (ProfileURL, CampaignID); re-running a campaign must not duplicate rows.
type Lead struct {
	ID               string          `json:"id"`
	CampaignID       string          `json:"campaign_id"`
	PrincipalID      string          `json:"principal_id"`
	FirstName        string          `json:"first_name"`
	LastName         string          `json:"last_name"`
	Title            string          `json:"title"`
	Company          string          `json:"company"`
	Location         string          `json:"location"`
	ProfileURL       string          `json:"profile_url"`
	AvatarURL        string          `json:"avatar_url,omitempty"`
	ConnectionDegree string          `json:"connection_degree,omitempty"`
	Source           string          `json:"source"`
	PageNumber       int             `json:"page_number"`
	ScrapedAt        time.Time       `json:"scraped_at"`
	Enrichment       json.RawMessage `json:"enrichment,omitempty"`
	EnrichedAt       *time.Time      `json:"enriched_at,omitempty"`
}

// JobStatus represents the lifecycle state of an enrichment job.
type JobStatus string

// Job status values. Completed and failed are terminal.
const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// DefaultMaxAttempts bounds enrichment retries per job.
const DefaultMaxAttempts = 3

// EnrichmentJob is one unit of asynchronous enrichment work for a single
// lead. Jobs are claimed, retried, and terminated exclusively by the
// background poller.
type EnrichmentJob struct {
	ID            string    `json:"id"`
	LeadID        string    `json:"lead_id"`
	PrincipalID   string    `json:"principal_id"`
	ProfileURL    string    `json:"profile_url"`
	Status        JobStatus `json:"status"`
	Priority      int       `json:"priority"`
	Attempts      int       `json:"attempts"`
	MaxAttempts   int       `json:"max_attempts"`
	ErrorText     string    `json:"error_text,omitempty"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// JobStats holds counts by status over a trailing window.
type JobStats struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// EnrichmentResult is the payload returned by a successful enrichment call.
type EnrichmentResult struct {
	Source string          `json:"source"`
	Data   json.RawMessage `json:"data"`
}
