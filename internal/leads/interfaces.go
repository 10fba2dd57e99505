package leads

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors surfaced across subsystem boundaries.
var (
	// ErrNoCredential means the principal has no valid, unexpired session
	// credential. User-actionable: reconnect the account.
	ErrNoCredential = errors.New("no valid session credential; reconnect required")

	// ErrInsufficientCredits means the admission-control check failed.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrCampaignNotFound means the campaign does not exist or is not owned
	// by the requesting principal.
	ErrCampaignNotFound = errors.New("campaign not found")

	// ErrInvalidTarget means the search target does not match the expected
	// network-search URL shape.
	ErrInvalidTarget = errors.New("invalid search target")

	// ErrRunActive means another run for the same campaign is still active.
	ErrRunActive = errors.New("campaign already has an active run")

	// ErrRunNotFound means no run exists with the requested ID.
	ErrRunNotFound = errors.New("run not found")

	// ErrNoLeads means every strategy and page yielded zero leads.
	ErrNoLeads = errors.New("no leads found for search target")
)

// CredentialStore supplies decrypted session credentials for a principal.
type CredentialStore interface {
	// ValidCredential returns the stored credential string, or
	// ErrNoCredential when none is valid and unexpired.
	ValidCredential(ctx context.Context, principalID string) (string, error)
	// MarkInvalid records that the credential was rejected upstream so
	// subsequent runs fail fast.
	MarkInvalid(ctx context.Context, principalID string) error
}

// CreditLedger is the narrow admission-control contract consumed by the
// orchestrator. Ledger arithmetic lives elsewhere.
type CreditLedger interface {
	Remaining(ctx context.Context, principalID string) (int, error)
	// Deduct atomically removes n credits, returning ErrInsufficientCredits
	// when the balance would go negative.
	Deduct(ctx context.Context, principalID string, n int) error
	LogUsage(ctx context.Context, principalID string, n int, reason, note string) error
}

// Enricher is the downstream enrichment capability invoked once per job.
type Enricher interface {
	Enrich(ctx context.Context, leadID, profileURL string) (EnrichmentResult, error)
}

// CampaignStore answers ownership questions about campaigns.
type CampaignStore interface {
	CampaignOwned(ctx context.Context, campaignID, principalID string) (bool, error)
}

// RunStore persists campaign runs. Runs are append-plus-update only.
type RunStore interface {
	Create(ctx context.Context, run CampaignRun) error
	HasActiveRun(ctx context.Context, campaignID string) (bool, error)
	MarkRunning(ctx context.Context, runID string, at time.Time) error
	Complete(ctx context.Context, runID string, leadsFound int, at time.Time) error
	Fail(ctx context.Context, runID, errText string, at time.Time) error
	Get(ctx context.Context, runID string) (CampaignRun, error)
	ListByCampaign(ctx context.Context, campaignID string) ([]CampaignRun, error)
}

// LeadStore persists deduplicated leads.
type LeadStore interface {
	// InsertBatch upserts with ignore-on-conflict semantics on
	// (profile_url, campaign_id) and returns only the rows actually written.
	InsertBatch(ctx context.Context, batch []Lead) ([]Lead, error)
	// ApplyEnrichment patches a lead in place with derived fields.
	ApplyEnrichment(ctx context.Context, leadID string, result EnrichmentResult, at time.Time) error
}

// JobStore is the durable enrichment work queue.
type JobStore interface {
	Enqueue(ctx context.Context, job EnrichmentJob) error
	// SelectDue returns up to limit queued jobs with attempts remaining and
	// next_attempt_at due, highest priority first, oldest first within a
	// priority.
	SelectDue(ctx context.Context, limit int, now time.Time) ([]EnrichmentJob, error)
	// Claim transitions a job queued->processing and increments attempts in
	// a single status-guarded update. Returns false when another claimer won.
	Claim(ctx context.Context, jobID string, at time.Time) (bool, error)
	Complete(ctx context.Context, jobID string, at time.Time) error
	// Retry re-queues a job after a failed attempt with its next due time.
	Retry(ctx context.Context, jobID, errText string, nextAttemptAt, at time.Time) error
	Fail(ctx context.Context, jobID, errText string, at time.Time) error
	Stats(ctx context.Context, since time.Time) (JobStats, error)
	// CleanupOldJobs hard-deletes terminal jobs updated before cutoff and
	// returns the number removed.
	CleanupOldJobs(ctx context.Context, cutoff time.Time) (int64, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run/job/lead IDs.
type IDGenerator interface {
	NewID() (string, error)
}
