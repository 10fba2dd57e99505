// Package orchestrator drives one acquisition run end to end: precondition
// gates, strategy cascade, pagination, dedup, credit settlement, and the
// campaign-run state machine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/recruitgrid/leadharvest/internal/fetch"
	"github.com/recruitgrid/leadharvest/internal/fetch/session"
	"github.com/recruitgrid/leadharvest/internal/leads"
	"github.com/recruitgrid/leadharvest/internal/metrics"
	"github.com/recruitgrid/leadharvest/internal/parser"
)

// usageReason tags credit-ledger entries written by acquisition runs.
const usageReason = "lead_acquisition"

// Config controls orchestrator behavior.
type Config struct {
	// NetworkHost is the host a search target must point at.
	NetworkHost string
	// SearchPathPrefix is the path prefix of a people-search URL.
	SearchPathPrefix string
	// InstantJSON enables the authenticated-session JSON strategy.
	InstantJSON bool
	// PageDelay is the fixed pause between successive page fetches.
	PageDelay time.Duration
	// EnrichMaxAttempts is the retry budget stamped on enqueued jobs.
	// Zero falls back to leads.DefaultMaxAttempts.
	EnrichMaxAttempts int
}

// Orchestrator executes acquisition runs. It depends only on the fetch
// contract and the collaborator interfaces, never on strategy internals.
type Orchestrator struct {
	campaigns   leads.CampaignStore
	runs        leads.RunStore
	store       leads.LeadStore
	jobs        leads.JobStore
	credentials leads.CredentialStore
	ledger      leads.CreditLedger
	jsonFetch   fetch.Strategy
	pages       *fetch.Chain
	parse       *parser.Parser
	limiter     *rate.Limiter
	clock       leads.Clock
	ids         leads.IDGenerator
	cfg         Config
	logger      *zap.Logger
}

// New constructs an Orchestrator. jsonFetch may be nil when the instant JSON
// capability is disabled or unconfigured.
func New(
	campaigns leads.CampaignStore,
	runs leads.RunStore,
	store leads.LeadStore,
	jobs leads.JobStore,
	credentials leads.CredentialStore,
	ledger leads.CreditLedger,
	jsonFetch fetch.Strategy,
	pages *fetch.Chain,
	parse *parser.Parser,
	clock leads.Clock,
	ids leads.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.PageDelay <= 0 {
		cfg.PageDelay = 2 * time.Second
	}
	if cfg.SearchPathPrefix == "" {
		cfg.SearchPathPrefix = "/search/results/people"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		campaigns:   campaigns,
		runs:        runs,
		store:       store,
		jobs:        jobs,
		credentials: credentials,
		ledger:      ledger,
		jsonFetch:   jsonFetch,
		pages:       pages,
		parse:       parse,
		limiter:     rate.NewLimiter(rate.Every(cfg.PageDelay), 1),
		clock:       clock,
		ids:         ids,
		cfg:         cfg,
		logger:      logger,
	}
}

// Run performs one acquisition for a campaign. Preconditions are checked in
// order and reject hard; after the run row exists, failures are absorbed at
// the smallest scope and only escalate to run level when everything failed.
func (o *Orchestrator) Run(
	ctx context.Context,
	principalID, campaignID, target string,
	pagesRequested int,
) (leads.CampaignRun, error) {
	if pagesRequested <= 0 {
		pagesRequested = 1
	}

	credential, err := o.checkPreconditions(ctx, principalID, campaignID, target)
	if err != nil {
		return leads.CampaignRun{}, err
	}

	runID, err := o.ids.NewID()
	if err != nil {
		return leads.CampaignRun{}, fmt.Errorf("generate run id: %w", err)
	}
	started := o.clock.Now()
	run := leads.CampaignRun{
		ID:             runID,
		CampaignID:     campaignID,
		PrincipalID:    principalID,
		Status:         leads.RunStatusQueued,
		PagesRequested: pagesRequested,
	}
	if err := o.runs.Create(ctx, run); err != nil {
		return leads.CampaignRun{}, fmt.Errorf("create run: %w", err)
	}
	if err := o.runs.MarkRunning(ctx, runID, started); err != nil {
		return leads.CampaignRun{}, fmt.Errorf("mark run running: %w", err)
	}

	logger := o.logger.With(
		zap.String("run_id", runID),
		zap.String("campaign_id", campaignID),
	)

	collected := newCollector()
	jsonSatisfied := o.tryInstantJSON(ctx, logger, collected, principalID, campaignID, target, credential)
	if !jsonSatisfied {
		o.runPageLoop(ctx, logger, collected, principalID, campaignID, target, credential, pagesRequested)
	}

	return o.settle(ctx, logger, collected.items, run, started)
}

// GetRun exposes run rows for the status surface.
func (o *Orchestrator) GetRun(ctx context.Context, runID string) (leads.CampaignRun, error) {
	return o.runs.Get(ctx, runID)
}

// checkPreconditions applies the four ordered gates plus the
// single-active-run invariant. Each failure is a hard rejection before any
// run row or network call exists.
func (o *Orchestrator) checkPreconditions(
	ctx context.Context,
	principalID, campaignID, target string,
) (string, error) {
	owned, err := o.campaigns.CampaignOwned(ctx, campaignID, principalID)
	if err != nil {
		return "", fmt.Errorf("check campaign ownership: %w", err)
	}
	if !owned {
		return "", leads.ErrCampaignNotFound
	}

	if err := o.validateTarget(target); err != nil {
		return "", err
	}

	remaining, err := o.ledger.Remaining(ctx, principalID)
	if err != nil {
		return "", fmt.Errorf("check credit balance: %w", err)
	}
	if remaining <= 0 {
		return "", leads.ErrInsufficientCredits
	}

	credential, err := o.credentials.ValidCredential(ctx, principalID)
	if err != nil {
		if errors.Is(err, leads.ErrNoCredential) {
			return "", leads.ErrNoCredential
		}
		return "", fmt.Errorf("resolve credential: %w", err)
	}

	active, err := o.runs.HasActiveRun(ctx, campaignID)
	if err != nil {
		return "", fmt.Errorf("check active runs: %w", err)
	}
	if active {
		return "", leads.ErrRunActive
	}
	return credential, nil
}

func (o *Orchestrator) validateTarget(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("%w: %v", leads.ErrInvalidTarget, err)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	want := strings.TrimPrefix(strings.ToLower(o.cfg.NetworkHost), "www.")
	if u.Scheme != "https" || host != want || !strings.HasPrefix(u.Path, o.cfg.SearchPathPrefix) {
		return fmt.Errorf("%w: %q is not a people-search url", leads.ErrInvalidTarget, target)
	}
	return nil
}

// tryInstantJSON attempts the authenticated-session JSON strategy once when
// it is enabled and eligible. Any failure logs and falls through; the run is
// never aborted here. Returns true when leads were obtained this way, which
// skips the page loop.
func (o *Orchestrator) tryInstantJSON(
	ctx context.Context,
	logger *zap.Logger,
	collected *collector,
	principalID, campaignID, target, credential string,
) bool {
	if !o.cfg.InstantJSON || o.jsonFetch == nil {
		return false
	}
	if token := session.CSRFToken(credential); token == "" {
		logger.Debug("instant json skipped: no anti-forgery token derivable")
		return false
	}
	if _, _, ok := session.SearchParams(target); !ok {
		logger.Debug("instant json skipped: target lacks structured parameters")
		return false
	}

	res, err := o.jsonFetch.Fetch(ctx, fetch.Request{Target: target, Page: 1, Credential: credential})
	if err != nil {
		metrics.PageFetch(o.jsonFetch.Name(), false)
		logger.Warn("instant json fetch failed; falling back to page loop", zap.Error(err))
		if errors.Is(err, fetch.ErrAuthExpired) {
			if markErr := o.credentials.MarkInvalid(ctx, principalID); markErr != nil {
				logger.Error("mark credential invalid failed", zap.Error(markErr))
			}
		}
		return false
	}
	metrics.PageFetch(o.jsonFetch.Name(), true)

	batch, err := session.DecodeLeads(res.Content, campaignID, principalID, 1, o.clock.Now())
	if err != nil {
		logger.Warn("instant json payload undecodable; falling back to page loop", zap.Error(err))
		return false
	}
	if len(batch) == 0 {
		logger.Info("instant json returned zero records; falling back to page loop")
		return false
	}
	collected.add(batch...)
	logger.Info("instant json satisfied the run", zap.Int("records", len(batch)))
	return true
}

// runPageLoop walks pages 1..pagesRequested through the proxied fetch chain.
// Individual page failures are logged and skipped; an empty page ends
// pagination early.
func (o *Orchestrator) runPageLoop(
	ctx context.Context,
	logger *zap.Logger,
	collected *collector,
	principalID, campaignID, target, credential string,
	pagesRequested int,
) {
	for page := 1; page <= pagesRequested; page++ {
		// Every page passes through the limiter so page 1 spends the burst
		// token and page 2 waits the full inter-page delay.
		if err := o.limiter.Wait(ctx); err != nil {
			logger.Warn("pagination canceled", zap.Error(err))
			return
		}
		if ctx.Err() != nil {
			return
		}

		res, err := o.pages.Fetch(ctx, fetch.Request{Target: target, Page: page, Credential: credential})
		if err != nil {
			metrics.PageFetch("proxied", false)
			logger.Warn("page fetch failed; continuing",
				zap.Int("page", page),
				zap.Error(err),
			)
			continue
		}
		metrics.PageFetch("proxied", true)

		batch := o.parse.Parse(res.Content)
		if len(batch) == 0 {
			logger.Info("empty result page; assuming end of result set", zap.Int("page", page))
			return
		}

		scrapedAt := o.clock.Now()
		for i := range batch {
			batch[i].CampaignID = campaignID
			batch[i].PrincipalID = principalID
			batch[i].PageNumber = page
			batch[i].ScrapedAt = scrapedAt
		}
		collected.add(batch...)
		logger.Debug("page parsed", zap.Int("page", page), zap.Int("records", len(batch)))
	}
}

// settle persists deduplicated leads, charges exactly the inserted count,
// finishes the run, and enqueues enrichment work.
func (o *Orchestrator) settle(
	ctx context.Context,
	logger *zap.Logger,
	all []leads.Lead,
	run leads.CampaignRun,
	started time.Time,
) (leads.CampaignRun, error) {
	if len(all) == 0 {
		return o.failRun(ctx, run, "no leads found across all strategies and pages", leads.ErrNoLeads)
	}

	for i := range all {
		if all[i].ID != "" {
			continue
		}
		id, err := o.ids.NewID()
		if err != nil {
			return o.failRun(ctx, run, "generate lead ids: "+err.Error(), err)
		}
		all[i].ID = id
	}

	inserted, err := o.store.InsertBatch(ctx, all)
	if err != nil {
		return o.failRun(ctx, run, "persist leads: "+err.Error(), fmt.Errorf("persist leads: %w", err))
	}
	actual := len(inserted)
	metrics.LeadsInserted(actual)

	if actual > 0 {
		if err := o.ledger.Deduct(ctx, run.PrincipalID, actual); err != nil {
			return o.failRun(ctx, run, "deduct credits: "+err.Error(), fmt.Errorf("deduct credits: %w", err))
		}
		metrics.CreditsDeducted(actual)
		note := fmt.Sprintf("campaign %s run %s: %d new leads", run.CampaignID, run.ID, actual)
		if err := o.ledger.LogUsage(ctx, run.PrincipalID, actual, usageReason, note); err != nil {
			// Credits are already gone; surface the broken ledger entry
			// without refunding (operator-visible).
			return o.failRun(ctx, run, "log credit usage: "+err.Error(), fmt.Errorf("log credit usage: %w", err))
		}
	}

	finished := o.clock.Now()
	if err := o.runs.Complete(ctx, run.ID, actual, finished); err != nil {
		return o.failRun(ctx, run, "complete run: "+err.Error(), fmt.Errorf("complete run: %w", err))
	}
	metrics.RunFinished(string(leads.RunStatusCompleted))

	o.enqueueEnrichment(ctx, logger, inserted, finished)

	run.Status = leads.RunStatusCompleted
	run.LeadsFound = actual
	run.StartedAt = &started
	run.FinishedAt = &finished
	logger.Info("run completed",
		zap.Int("scraped", len(all)),
		zap.Int("inserted", actual),
	)
	return run, nil
}

// enqueueEnrichment queues one job per inserted lead with a usable profile
// reference. Enqueue failures are logged; the run is already terminal.
func (o *Orchestrator) enqueueEnrichment(
	ctx context.Context,
	logger *zap.Logger,
	inserted []leads.Lead,
	now time.Time,
) {
	maxAttempts := o.cfg.EnrichMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = leads.DefaultMaxAttempts
	}
	for _, l := range inserted {
		if l.ProfileURL == "" {
			continue
		}
		jobID, err := o.ids.NewID()
		if err != nil {
			logger.Error("generate job id failed", zap.String("lead_id", l.ID), zap.Error(err))
			continue
		}
		job := leads.EnrichmentJob{
			ID:            jobID,
			LeadID:        l.ID,
			PrincipalID:   l.PrincipalID,
			ProfileURL:    l.ProfileURL,
			Status:        leads.JobStatusQueued,
			MaxAttempts:   maxAttempts,
			NextAttemptAt: now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := o.jobs.Enqueue(ctx, job); err != nil {
			logger.Error("enqueue enrichment job failed",
				zap.String("lead_id", l.ID),
				zap.Error(err),
			)
			continue
		}
		metrics.JobEnqueued()
	}
}

func (o *Orchestrator) failRun(
	ctx context.Context,
	run leads.CampaignRun,
	errText string,
	cause error,
) (leads.CampaignRun, error) {
	finished := o.clock.Now()
	if err := o.runs.Fail(ctx, run.ID, errText, finished); err != nil {
		o.logger.Error("mark run failed errored",
			zap.String("run_id", run.ID),
			zap.Error(err),
		)
	}
	metrics.RunFinished(string(leads.RunStatusFailed))
	run.Status = leads.RunStatusFailed
	run.ErrorText = errText
	run.FinishedAt = &finished
	return run, cause
}

// collector accumulates leads across strategies and pages, deduplicating on
// profile URL within the run. Records without a URL cannot be keyed and are
// kept as-is.
type collector struct {
	seen  map[string]struct{}
	items []leads.Lead
}

func newCollector() *collector {
	return &collector{seen: make(map[string]struct{})}
}

func (c *collector) add(batch ...leads.Lead) {
	for _, l := range batch {
		if l.ProfileURL != "" {
			if _, dup := c.seen[l.ProfileURL]; dup {
				continue
			}
			c.seen[l.ProfileURL] = struct{}{}
		}
		c.items = append(c.items, l)
	}
}
