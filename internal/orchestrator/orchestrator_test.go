package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/recruitgrid/leadharvest/internal/fetch"
	"github.com/recruitgrid/leadharvest/internal/leads"
	"github.com/recruitgrid/leadharvest/internal/parser"
	"github.com/recruitgrid/leadharvest/internal/storage/memory"
)

const (
	testPrincipal = "user-1"
	testCampaign  = "camp-1"
	testTarget    = "https://www.linkedin.com/search/results/people/?keywords=golang&sid=abc"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type seqIDs struct{ n int }

func (g *seqIDs) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

type stubStrategy struct {
	name  string
	fn    func(fetch.Request) (fetch.Result, error)
	calls int
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Fetch(_ context.Context, req fetch.Request) (fetch.Result, error) {
	s.calls++
	return s.fn(req)
}

type person struct {
	name    string
	title   string
	company string
	profile string
}

func resultPage(people ...person) []byte {
	var b strings.Builder
	b.WriteString("<html><body><ul>")
	for _, p := range people {
		fmt.Fprintf(&b, `
<div class="entity-result">
  <span class="entity-result__title-text"><a href=%q><span aria-hidden="true">%s</span></a></span>
  <div class="entity-result__primary-subtitle">%s</div>
  <p class="entity-result__summary"><strong>%s</strong></p>
</div>`, p.profile, p.name, p.title, p.company)
	}
	b.WriteString("</ul></body></html>")
	return []byte(b.String())
}

func personN(i int) person {
	return person{
		name:    fmt.Sprintf("Person %d Surname", i),
		title:   "Engineer",
		company: "Acme",
		profile: fmt.Sprintf("https://www.linkedin.com/in/person-%d", i),
	}
}

type fixture struct {
	campaigns   *memory.CampaignStore
	runs        *memory.RunStore
	store       *memory.LeadStore
	jobs        *memory.JobStore
	credentials *memory.CredentialStore
	ledger      *memory.CreditLedger
	clock       *fakeClock
}

func newFixture(credits int, credential string) *fixture {
	return &fixture{
		campaigns:   memory.NewCampaignStore(map[string]string{testCampaign: testPrincipal}),
		runs:        memory.NewRunStore(),
		store:       memory.NewLeadStore(),
		jobs:        memory.NewJobStore(),
		credentials: memory.NewCredentialStore(map[string]string{testPrincipal: credential}),
		ledger:      memory.NewCreditLedger(map[string]int{testPrincipal: credits}),
		clock:       &fakeClock{now: time.Unix(1700000000, 0).UTC()},
	}
}

func (f *fixture) orchestrator(json fetch.Strategy, pages ...fetch.Strategy) *Orchestrator {
	return New(
		f.campaigns, f.runs, f.store, f.jobs, f.credentials, f.ledger,
		json,
		fetch.NewChain(zap.NewNop(), pages...),
		parser.New(zap.NewNop()),
		f.clock,
		&seqIDs{},
		Config{
			NetworkHost:      "www.linkedin.com",
			SearchPathPrefix: "/search/results/people",
			InstantJSON:      json != nil,
			PageDelay:        time.Millisecond,
		},
		zap.NewNop(),
	)
}

func TestRunCompletesChargesAndEnqueues(t *testing.T) {
	t.Parallel()

	f := newFixture(100, "li_at=session")
	page := &stubStrategy{name: "stub", fn: func(fetch.Request) (fetch.Result, error) {
		return fetch.Result{Content: resultPage(personN(1), personN(2), personN(3))}, nil
	}}
	orch := f.orchestrator(nil, page)

	run, err := orch.Run(context.Background(), testPrincipal, testCampaign, testTarget, 1)
	require.NoError(t, err)
	require.Equal(t, leads.RunStatusCompleted, run.Status)
	require.Equal(t, 3, run.LeadsFound)
	require.Equal(t, 3, f.store.Count())

	balance, err := f.ledger.Remaining(context.Background(), testPrincipal)
	require.NoError(t, err)
	require.Equal(t, 97, balance)

	usage := f.ledger.Usage()
	require.Len(t, usage, 1)
	require.Equal(t, 3, usage[0].Amount)
	require.Equal(t, "lead_acquisition", usage[0].Reason)
	require.Contains(t, usage[0].Note, run.ID)

	due, err := f.jobs.SelectDue(context.Background(), 10, f.clock.now)
	require.NoError(t, err)
	require.Len(t, due, 3)
}

func TestEnqueuedJobsCarryTheConfiguredRetryBudget(t *testing.T) {
	t.Parallel()

	f := newFixture(100, "li_at=session")
	page := &stubStrategy{name: "stub", fn: func(fetch.Request) (fetch.Result, error) {
		return fetch.Result{Content: resultPage(personN(1), personN(2))}, nil
	}}
	orch := New(
		f.campaigns, f.runs, f.store, f.jobs, f.credentials, f.ledger,
		nil,
		fetch.NewChain(zap.NewNop(), page),
		parser.New(zap.NewNop()),
		f.clock,
		&seqIDs{},
		Config{
			NetworkHost:       "www.linkedin.com",
			SearchPathPrefix:  "/search/results/people",
			PageDelay:         time.Millisecond,
			EnrichMaxAttempts: 7,
		},
		zap.NewNop(),
	)

	_, err := orch.Run(context.Background(), testPrincipal, testCampaign, testTarget, 1)
	require.NoError(t, err)

	due, err := f.jobs.SelectDue(context.Background(), 10, f.clock.now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	for _, job := range due {
		require.Equal(t, 7, job.MaxAttempts)
	}
}

func TestPagesArePacedByTheConfiguredDelay(t *testing.T) {
	t.Parallel()

	const delay = 120 * time.Millisecond
	f := newFixture(100, "li_at=session")
	var fetchedAt []time.Time
	page := &stubStrategy{name: "stub", fn: func(req fetch.Request) (fetch.Result, error) {
		fetchedAt = append(fetchedAt, time.Now())
		return fetch.Result{Content: resultPage(personN(req.Page))}, nil
	}}
	orch := New(
		f.campaigns, f.runs, f.store, f.jobs, f.credentials, f.ledger,
		nil,
		fetch.NewChain(zap.NewNop(), page),
		parser.New(zap.NewNop()),
		f.clock,
		&seqIDs{},
		Config{
			NetworkHost:      "www.linkedin.com",
			SearchPathPrefix: "/search/results/people",
			PageDelay:        delay,
		},
		zap.NewNop(),
	)

	_, err := orch.Run(context.Background(), testPrincipal, testCampaign, testTarget, 2)
	require.NoError(t, err)
	require.Len(t, fetchedAt, 2)

	// The bucket's burst token goes to page 1, so the very first page gap
	// already honors the delay.
	gap := fetchedAt[1].Sub(fetchedAt[0])
	require.GreaterOrEqual(t, gap, delay-20*time.Millisecond)
}

func TestRerunDoesNotDuplicateOrRecharge(t *testing.T) {
	t.Parallel()

	f := newFixture(100, "li_at=session")
	page := &stubStrategy{name: "stub", fn: func(fetch.Request) (fetch.Result, error) {
		return fetch.Result{Content: resultPage(personN(1), personN(2))}, nil
	}}
	orch := f.orchestrator(nil, page)

	first, err := orch.Run(context.Background(), testPrincipal, testCampaign, testTarget, 1)
	require.NoError(t, err)
	require.Equal(t, 2, first.LeadsFound)

	second, err := orch.Run(context.Background(), testPrincipal, testCampaign, testTarget, 1)
	require.NoError(t, err)
	require.Equal(t, leads.RunStatusCompleted, second.Status)
	require.Equal(t, 0, second.LeadsFound)
	require.Equal(t, 2, f.store.Count())

	balance, err := f.ledger.Remaining(context.Background(), testPrincipal)
	require.NoError(t, err)
	require.Equal(t, 98, balance)
	require.Len(t, f.ledger.Usage(), 1)
}

func TestPartialPageFailureTolerated(t *testing.T) {
	t.Parallel()

	f := newFixture(100, "li_at=session")
	page := &stubStrategy{name: "stub", fn: func(req fetch.Request) (fetch.Result, error) {
		switch req.Page {
		case 2:
			return fetch.Result{}, fetch.Transient("stub", fmt.Errorf("upstream hiccup"))
		case 1:
			return fetch.Result{Content: resultPage(personN(1), personN(2))}, nil
		default:
			return fetch.Result{Content: resultPage(personN(3))}, nil
		}
	}}
	orch := f.orchestrator(nil, page)

	run, err := orch.Run(context.Background(), testPrincipal, testCampaign, testTarget, 3)
	require.NoError(t, err)
	require.Equal(t, leads.RunStatusCompleted, run.Status)
	require.Equal(t, 3, run.LeadsFound)
	require.Equal(t, 3, page.calls)
}

func TestZeroResultRunFailsWithoutCharge(t *testing.T) {
	t.Parallel()

	f := newFixture(100, "li_at=session")
	page := &stubStrategy{name: "stub", fn: func(fetch.Request) (fetch.Result, error) {
		return fetch.Result{Content: []byte("<html><body><p>nothing here</p></body></html>")}, nil
	}}
	orch := f.orchestrator(nil, page)

	run, err := orch.Run(context.Background(), testPrincipal, testCampaign, testTarget, 3)
	require.ErrorIs(t, err, leads.ErrNoLeads)
	require.Equal(t, leads.RunStatusFailed, run.Status)

	balance, err := f.ledger.Remaining(context.Background(), testPrincipal)
	require.NoError(t, err)
	require.Equal(t, 100, balance)
	require.Empty(t, f.ledger.Usage())

	stored, err := f.runs.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, leads.RunStatusFailed, stored.Status)
	require.NotEmpty(t, stored.ErrorText)
}

func TestChargesExactlyTheInsertedCount(t *testing.T) {
	t.Parallel()

	f := newFixture(100, "li_at=session")

	// Three of the ten results already exist from an earlier run.
	var existing []leads.Lead
	for i := 1; i <= 3; i++ {
		p := personN(i)
		existing = append(existing, leads.Lead{
			ID:         fmt.Sprintf("old-%d", i),
			CampaignID: testCampaign,
			ProfileURL: p.profile,
		})
	}
	_, err := f.store.InsertBatch(context.Background(), existing)
	require.NoError(t, err)

	var people []person
	for i := 1; i <= 10; i++ {
		people = append(people, personN(i))
	}
	page := &stubStrategy{name: "stub", fn: func(fetch.Request) (fetch.Result, error) {
		return fetch.Result{Content: resultPage(people...)}, nil
	}}
	orch := f.orchestrator(nil, page)

	run, err := orch.Run(context.Background(), testPrincipal, testCampaign, testTarget, 1)
	require.NoError(t, err)
	require.Equal(t, 7, run.LeadsFound)

	balance, err := f.ledger.Remaining(context.Background(), testPrincipal)
	require.NoError(t, err)
	require.Equal(t, 93, balance)

	usage := f.ledger.Usage()
	require.Len(t, usage, 1)
	require.Equal(t, 7, usage[0].Amount)

	due, err := f.jobs.SelectDue(context.Background(), 20, f.clock.now)
	require.NoError(t, err)
	require.Len(t, due, 7)
}

func TestMissingCSRFSkipsInstantJSONSilently(t *testing.T) {
	t.Parallel()

	// Credential carries no JSESSIONID, so no anti-forgery token is
	// derivable and the session strategy must not even be attempted.
	f := newFixture(100, "li_at=session")
	json := &stubStrategy{name: "session_json", fn: func(fetch.Request) (fetch.Result, error) {
		return fetch.Result{}, fetch.Fatal("session_json", fmt.Errorf("should not be called"))
	}}
	page := &stubStrategy{name: "stub", fn: func(fetch.Request) (fetch.Result, error) {
		return fetch.Result{Content: resultPage(personN(1))}, nil
	}}
	orch := f.orchestrator(json, page)

	run, err := orch.Run(context.Background(), testPrincipal, testCampaign, testTarget, 1)
	require.NoError(t, err)
	require.Equal(t, leads.RunStatusCompleted, run.Status)
	require.Zero(t, json.calls)
	require.Equal(t, 1, page.calls)
}

func TestInstantJSONAuthExpiryMarksCredentialAndFallsBack(t *testing.T) {
	t.Parallel()

	f := newFixture(100, `JSESSIONID="csrf-token"; li_at=session`)
	json := &stubStrategy{name: "session_json", fn: func(fetch.Request) (fetch.Result, error) {
		return fetch.Result{}, fetch.Fatal("session_json", fetch.ErrAuthExpired)
	}}
	page := &stubStrategy{name: "stub", fn: func(fetch.Request) (fetch.Result, error) {
		return fetch.Result{Content: resultPage(personN(1))}, nil
	}}
	orch := f.orchestrator(json, page)

	run, err := orch.Run(context.Background(), testPrincipal, testCampaign, testTarget, 1)
	require.NoError(t, err)
	require.Equal(t, leads.RunStatusCompleted, run.Status)
	require.Equal(t, 1, json.calls)
	require.Equal(t, 1, page.calls)

	_, err = f.credentials.ValidCredential(context.Background(), testPrincipal)
	require.ErrorIs(t, err, leads.ErrNoCredential)
}

func TestPreconditionGates(t *testing.T) {
	t.Parallel()

	page := &stubStrategy{name: "stub", fn: func(fetch.Request) (fetch.Result, error) {
		return fetch.Result{Content: resultPage(personN(1))}, nil
	}}

	t.Run("unknown campaign", func(t *testing.T) {
		f := newFixture(100, "li_at=session")
		orch := f.orchestrator(nil, page)
		_, err := orch.Run(context.Background(), testPrincipal, "other-camp", testTarget, 1)
		require.ErrorIs(t, err, leads.ErrCampaignNotFound)
	})

	t.Run("invalid target", func(t *testing.T) {
		f := newFixture(100, "li_at=session")
		orch := f.orchestrator(nil, page)
		_, err := orch.Run(context.Background(), testPrincipal, testCampaign, "https://evil.example/search/results/people/", 1)
		require.ErrorIs(t, err, leads.ErrInvalidTarget)
	})

	t.Run("no credits", func(t *testing.T) {
		f := newFixture(0, "li_at=session")
		orch := f.orchestrator(nil, page)
		_, err := orch.Run(context.Background(), testPrincipal, testCampaign, testTarget, 1)
		require.ErrorIs(t, err, leads.ErrInsufficientCredits)
	})

	t.Run("no credential", func(t *testing.T) {
		f := newFixture(100, "")
		orch := f.orchestrator(nil, page)
		_, err := orch.Run(context.Background(), testPrincipal, testCampaign, testTarget, 1)
		require.ErrorIs(t, err, leads.ErrNoCredential)
	})

	t.Run("active run", func(t *testing.T) {
		f := newFixture(100, "li_at=session")
		orch := f.orchestrator(nil, page)
		require.NoError(t, f.runs.Create(context.Background(), leads.CampaignRun{
			ID:         "run-existing",
			CampaignID: testCampaign,
			Status:     leads.RunStatusRunning,
		}))
		_, err := orch.Run(context.Background(), testPrincipal, testCampaign, testTarget, 1)
		require.ErrorIs(t, err, leads.ErrRunActive)
	})
}

func TestEmptyPageStopsPagination(t *testing.T) {
	t.Parallel()

	f := newFixture(100, "li_at=session")
	page := &stubStrategy{name: "stub", fn: func(req fetch.Request) (fetch.Result, error) {
		if req.Page == 1 {
			return fetch.Result{Content: resultPage(personN(1))}, nil
		}
		return fetch.Result{Content: []byte("<html><body></body></html>")}, nil
	}}
	orch := f.orchestrator(nil, page)

	run, err := orch.Run(context.Background(), testPrincipal, testCampaign, testTarget, 5)
	require.NoError(t, err)
	require.Equal(t, 1, run.LeadsFound)
	require.Equal(t, 2, page.calls)
}
