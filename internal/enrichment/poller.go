// Package enrichment drains the durable enrichment job queue on a fixed
// interval, independent of any request lifecycle.
package enrichment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/recruitgrid/leadharvest/internal/leads"
	"github.com/recruitgrid/leadharvest/internal/metrics"
)

// Config controls poller behavior.
type Config struct {
	Interval  time.Duration
	BatchSize int
	// RetryBase and RetryCap bound the per-attempt backoff:
	// min(2^attempts * RetryBase, RetryCap).
	RetryBase time.Duration
	RetryCap  time.Duration
	// CleanupAfter is how long terminal jobs are retained; CleanupEvery is
	// how often the maintenance delete runs.
	CleanupAfter time.Duration
	CleanupEvery time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Minute
	}
	if c.RetryCap <= 0 {
		c.RetryCap = 30 * time.Minute
	}
	if c.CleanupAfter <= 0 {
		c.CleanupAfter = 30 * 24 * time.Hour
	}
	if c.CleanupEvery <= 0 {
		c.CleanupEvery = 24 * time.Hour
	}
	return c
}

// Poller is a supervised background task with an idempotent start/stop
// lifecycle, owned by the process composition root.
type Poller struct {
	jobs     leads.JobStore
	store    leads.LeadStore
	enricher leads.Enricher
	clock    leads.Clock
	cfg      Config
	logger   *zap.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	lastCleanup time.Time
}

// New constructs a Poller.
func New(
	jobs leads.JobStore,
	store leads.LeadStore,
	enricher leads.Enricher,
	clock leads.Clock,
	cfg Config,
	logger *zap.Logger,
) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		jobs:     jobs,
		store:    store,
		enricher: enricher,
		clock:    clock,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// Start launches the poll loop. Calling Start on a running poller is a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	go p.loop(ctx, done)
	p.logger.Info("enrichment poller started",
		zap.Duration("interval", p.cfg.Interval),
		zap.Int("batch_size", p.cfg.BatchSize),
	)
}

// Stop halts the loop and waits for the in-flight tick to finish. Stopping a
// stopped poller is a no-op.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logger.Info("enrichment poller stopped")
}

// loop takes done by value: Stop nils out p.done under the mutex, and the
// goroutine must close the channel its own Start created.
func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick claims and processes one batch of due jobs. Jobs in the batch run
// concurrently; one job's failure or panic never blocks the others or the
// loop. Exported so tests can drive the poller without the timer.
func (p *Poller) Tick(ctx context.Context) {
	now := p.clock.Now()
	batch, err := p.jobs.SelectDue(ctx, p.cfg.BatchSize, now)
	if err != nil {
		p.logger.Error("select due jobs failed", zap.Error(err))
		return
	}
	if len(batch) > 0 {
		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.BatchSize)
		for _, job := range batch {
			g.Go(func() error {
				p.process(gCtx, job)
				return nil
			})
		}
		_ = g.Wait() //nolint:errcheck
	}
	p.maybeCleanup(ctx, now)
}

// process runs one job through claim -> enrich -> complete/retry/fail. The
// claim is a single status-guarded update, so overlapping ticks cannot
// double-process a job.
func (p *Poller) process(ctx context.Context, job leads.EnrichmentJob) {
	now := p.clock.Now()
	claimed, err := p.jobs.Claim(ctx, job.ID, now)
	if err != nil {
		p.logger.Error("claim job failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if !claimed {
		return
	}
	attempts := job.Attempts + 1

	result, err := p.safeEnrich(ctx, job)
	if err == nil {
		err = p.store.ApplyEnrichment(ctx, job.LeadID, result, p.clock.Now())
		if err != nil {
			err = fmt.Errorf("apply enrichment: %w", err)
		}
	}
	if err == nil {
		if err := p.jobs.Complete(ctx, job.ID, p.clock.Now()); err != nil {
			p.logger.Error("complete job failed", zap.String("job_id", job.ID), zap.Error(err))
			return
		}
		metrics.JobOutcome("completed")
		p.logger.Debug("job completed",
			zap.String("job_id", job.ID),
			zap.Int("attempts", attempts),
		)
		return
	}

	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = leads.DefaultMaxAttempts
	}
	if attempts >= maxAttempts {
		if failErr := p.jobs.Fail(ctx, job.ID, err.Error(), p.clock.Now()); failErr != nil {
			p.logger.Error("fail job errored", zap.String("job_id", job.ID), zap.Error(failErr))
			return
		}
		metrics.JobOutcome("failed")
		p.logger.Warn("job failed permanently",
			zap.String("job_id", job.ID),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return
	}

	next := p.clock.Now().Add(Backoff(attempts, p.cfg.RetryBase, p.cfg.RetryCap))
	msg := fmt.Sprintf("attempt %d failed: %v (retry at %s)", attempts, err, next.UTC().Format(time.RFC3339))
	if retryErr := p.jobs.Retry(ctx, job.ID, msg, next, p.clock.Now()); retryErr != nil {
		p.logger.Error("requeue job failed", zap.String("job_id", job.ID), zap.Error(retryErr))
		return
	}
	metrics.JobOutcome("retried")
	p.logger.Info("job requeued",
		zap.String("job_id", job.ID),
		zap.Int("attempts", attempts),
		zap.Time("next_attempt_at", next),
		zap.Error(err),
	)
}

// safeEnrich converts panics from the downstream call into ordinary errors
// so a single bad job cannot take down the batch.
func (p *Poller) safeEnrich(ctx context.Context, job leads.EnrichmentJob) (result leads.EnrichmentResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("enrichment panicked: %v", r)
		}
	}()
	return p.enricher.Enrich(ctx, job.LeadID, job.ProfileURL)
}

func (p *Poller) maybeCleanup(ctx context.Context, now time.Time) {
	if !p.lastCleanup.IsZero() && now.Sub(p.lastCleanup) < p.cfg.CleanupEvery {
		return
	}
	p.lastCleanup = now
	removed, err := p.jobs.CleanupOldJobs(ctx, now.Add(-p.cfg.CleanupAfter))
	if err != nil {
		p.logger.Error("cleanup old jobs failed", zap.Error(err))
		return
	}
	if removed > 0 {
		p.logger.Info("cleaned up terminal jobs", zap.Int64("removed", removed))
	}
}

// Backoff returns min(2^attempts * base, cap).
func Backoff(attempts int, base, cap time.Duration) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 20 {
		return cap
	}
	d := base * time.Duration(1<<uint(attempts))
	if d > cap || d <= 0 {
		return cap
	}
	return d
}
