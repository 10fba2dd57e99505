package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/recruitgrid/leadharvest/internal/leads"
	"github.com/recruitgrid/leadharvest/internal/storage/memory"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

// scriptedEnricher runs a per-profile function, failing by default.
type scriptedEnricher struct {
	byProfile map[string]func() (leads.EnrichmentResult, error)
	calls     map[string]int
}

func newScriptedEnricher() *scriptedEnricher {
	return &scriptedEnricher{
		byProfile: make(map[string]func() (leads.EnrichmentResult, error)),
		calls:     make(map[string]int),
	}
}

func (e *scriptedEnricher) Enrich(_ context.Context, _, profileURL string) (leads.EnrichmentResult, error) {
	e.calls[profileURL]++
	if fn, ok := e.byProfile[profileURL]; ok {
		return fn()
	}
	return leads.EnrichmentResult{}, fmt.Errorf("no data for %s", profileURL)
}

func seedJob(t *testing.T, jobs *memory.JobStore, store *memory.LeadStore, clock *fakeClock, id, profileURL string) {
	t.Helper()
	lead := leads.Lead{
		ID:         "lead-" + id,
		CampaignID: "camp-1",
		ProfileURL: profileURL,
	}
	_, err := store.InsertBatch(context.Background(), []leads.Lead{lead})
	require.NoError(t, err)
	require.NoError(t, jobs.Enqueue(context.Background(), leads.EnrichmentJob{
		ID:            id,
		LeadID:        lead.ID,
		PrincipalID:   "user-1",
		ProfileURL:    profileURL,
		MaxAttempts:   leads.DefaultMaxAttempts,
		NextAttemptAt: clock.now,
		CreatedAt:     clock.now,
	}))
}

func newTestPoller(jobs *memory.JobStore, store *memory.LeadStore, enricher leads.Enricher, clock *fakeClock) *Poller {
	return New(jobs, store, enricher, clock, Config{
		Interval:  time.Minute,
		BatchSize: 5,
		RetryBase: time.Minute,
		RetryCap:  30 * time.Minute,
	}, zap.NewNop())
}

func TestTickCompletesJobAndPatchesLead(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore()
	store := memory.NewLeadStore()
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	enricher := newScriptedEnricher()
	enricher.byProfile["https://net.example/in/ada"] = func() (leads.EnrichmentResult, error) {
		return leads.EnrichmentResult{
			Source: "directory",
			Data:   json.RawMessage(`{"email":"ada@example.com"}`),
		}, nil
	}
	seedJob(t, jobs, store, clock, "job-1", "https://net.example/in/ada")

	p := newTestPoller(jobs, store, enricher, clock)
	p.Tick(context.Background())

	job, ok := jobs.Get("job-1")
	require.True(t, ok)
	require.Equal(t, leads.JobStatusCompleted, job.Status)
	require.Equal(t, 1, job.Attempts)

	lead, ok := store.Get("lead-job-1")
	require.True(t, ok)
	require.JSONEq(t, `{"email":"ada@example.com"}`, string(lead.Enrichment))
	require.NotNil(t, lead.EnrichedAt)
}

func TestRetriesBackOffThenFailTerminally(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore()
	store := memory.NewLeadStore()
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	enricher := newScriptedEnricher()
	seedJob(t, jobs, store, clock, "job-1", "https://net.example/in/ada")

	p := newTestPoller(jobs, store, enricher, clock)

	// Attempt 1: requeued with a due time in the future.
	p.Tick(context.Background())
	job, _ := jobs.Get("job-1")
	require.Equal(t, leads.JobStatusQueued, job.Status)
	require.Equal(t, 1, job.Attempts)
	firstDue := job.NextAttemptAt
	require.True(t, firstDue.After(clock.now))

	// Not due yet: the tick must not touch it.
	p.Tick(context.Background())
	job, _ = jobs.Get("job-1")
	require.Equal(t, 1, job.Attempts)

	// Attempt 2: due now, delay grows.
	clock.now = firstDue
	p.Tick(context.Background())
	job, _ = jobs.Get("job-1")
	require.Equal(t, leads.JobStatusQueued, job.Status)
	require.Equal(t, 2, job.Attempts)
	secondDelay := job.NextAttemptAt.Sub(clock.now)
	require.Greater(t, secondDelay, firstDue.Sub(time.Unix(1700000000, 0).UTC()))

	// Attempt 3 exhausts the budget.
	clock.now = job.NextAttemptAt
	p.Tick(context.Background())
	job, _ = jobs.Get("job-1")
	require.Equal(t, leads.JobStatusFailed, job.Status)
	require.Equal(t, 3, job.Attempts)
	require.Contains(t, job.ErrorText, "no data for")

	// Terminal jobs stay terminal.
	clock.advance(time.Hour)
	p.Tick(context.Background())
	job, _ = jobs.Get("job-1")
	require.Equal(t, leads.JobStatusFailed, job.Status)
	require.Equal(t, 3, enricher.calls["https://net.example/in/ada"])
}

func TestPanickingJobDoesNotPoisonTheBatch(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore()
	store := memory.NewLeadStore()
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	enricher := newScriptedEnricher()
	enricher.byProfile["https://net.example/in/bad"] = func() (leads.EnrichmentResult, error) {
		panic("corrupt profile payload")
	}
	enricher.byProfile["https://net.example/in/good"] = func() (leads.EnrichmentResult, error) {
		return leads.EnrichmentResult{Data: json.RawMessage(`{"ok":true}`)}, nil
	}
	seedJob(t, jobs, store, clock, "job-bad", "https://net.example/in/bad")
	seedJob(t, jobs, store, clock, "job-good", "https://net.example/in/good")

	p := newTestPoller(jobs, store, enricher, clock)
	p.Tick(context.Background())

	bad, _ := jobs.Get("job-bad")
	require.Equal(t, leads.JobStatusQueued, bad.Status)
	require.Contains(t, bad.ErrorText, "panicked")

	good, _ := jobs.Get("job-good")
	require.Equal(t, leads.JobStatusCompleted, good.Status)
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore()
	store := memory.NewLeadStore()
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}

	p := newTestPoller(jobs, store, newScriptedEnricher(), clock)
	p.Start()
	p.Start()
	p.Stop()
	p.Stop()

	// A fresh start after stop works.
	p.Start()
	p.Stop()
}

func TestStopImmediatelyAfterStartDoesNotPanic(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore()
	store := memory.NewLeadStore()
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	p := newTestPoller(jobs, store, newScriptedEnricher(), clock)

	// Stop may run before the loop goroutine is scheduled; the loop must
	// close the channel its own Start created, not whatever p.done holds.
	for i := 0; i < 2000; i++ {
		p.Start()
		p.Stop()
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	t.Parallel()

	base := time.Minute
	cap := 30 * time.Minute
	require.Equal(t, 2*time.Minute, Backoff(1, base, cap))
	require.Equal(t, 4*time.Minute, Backoff(2, base, cap))
	require.Equal(t, 8*time.Minute, Backoff(3, base, cap))
	require.Equal(t, cap, Backoff(5, base, cap))
	require.Equal(t, cap, Backoff(60, base, cap))
}
