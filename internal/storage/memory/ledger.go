package memory

import (
	"context"
	"sync"

	"github.com/recruitgrid/leadharvest/internal/leads"
)

// UsageEntry is one recorded credit deduction.
type UsageEntry struct {
	PrincipalID string
	Amount      int
	Reason      string
	Note        string
}

// CreditLedger keeps balances and a usage log in memory.
type CreditLedger struct {
	mu       sync.Mutex
	balances map[string]int
	usage    []UsageEntry
}

// NewCreditLedger constructs a ledger with the given starting balances.
func NewCreditLedger(balances map[string]int) *CreditLedger {
	copied := make(map[string]int, len(balances))
	for k, v := range balances {
		copied[k] = v
	}
	return &CreditLedger{balances: copied}
}

// Remaining returns the principal's balance; unknown principals have zero.
func (l *CreditLedger) Remaining(_ context.Context, principalID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[principalID], nil
}

// Deduct removes n credits, refusing to go negative.
func (l *CreditLedger) Deduct(_ context.Context, principalID string, n int) error {
	if n <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[principalID] < n {
		return leads.ErrInsufficientCredits
	}
	l.balances[principalID] -= n
	return nil
}

// LogUsage appends a usage entry.
func (l *CreditLedger) LogUsage(_ context.Context, principalID string, n int, reason, note string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.usage = append(l.usage, UsageEntry{
		PrincipalID: principalID,
		Amount:      n,
		Reason:      reason,
		Note:        note,
	})
	return nil
}

// Usage returns a copy of the usage log.
func (l *CreditLedger) Usage() []UsageEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]UsageEntry, len(l.usage))
	copy(out, l.usage)
	return out
}
