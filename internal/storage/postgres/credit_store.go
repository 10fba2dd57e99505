package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/recruitgrid/leadharvest/internal/leads"
)

// CreditStore implements the credit ledger against Postgres. Schema:
//
//	CREATE TABLE credit_balances (
//	    principal_id UUID PRIMARY KEY,
//	    credits INT NOT NULL CHECK (credits >= 0)
//	);
//	CREATE TABLE credit_usage (
//	    id BIGSERIAL PRIMARY KEY,
//	    principal_id UUID NOT NULL,
//	    amount INT NOT NULL,
//	    reason TEXT NOT NULL,
//	    note TEXT,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type CreditStore struct {
	db Querier
}

// NewCreditStore constructs a CreditStore.
func NewCreditStore(db Querier) *CreditStore {
	return &CreditStore{db: db}
}

// Remaining returns the principal's current balance. An unknown principal
// has a zero balance.
func (s *CreditStore) Remaining(ctx context.Context, principalID string) (int, error) {
	var credits int
	err := s.db.QueryRow(ctx, `SELECT credits FROM credit_balances WHERE principal_id = $1`, principalID).Scan(&credits)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("query credit balance: %w", err)
	}
	return credits, nil
}

// Deduct removes n credits in a single conditional update so a concurrent
// deduction cannot push the balance negative.
func (s *CreditStore) Deduct(ctx context.Context, principalID string, n int) error {
	if n <= 0 {
		return nil
	}
	query := `
UPDATE credit_balances
SET credits = credits - $2
WHERE principal_id = $1 AND credits >= $2`
	tag, err := s.db.Exec(ctx, query, principalID, n)
	if err != nil {
		return fmt.Errorf("deduct credits: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return leads.ErrInsufficientCredits
	}
	return nil
}

// LogUsage appends an entry to the usage ledger.
func (s *CreditStore) LogUsage(ctx context.Context, principalID string, n int, reason, note string) error {
	query := `
INSERT INTO credit_usage (principal_id, amount, reason, note)
VALUES ($1,$2,$3,$4)`
	_, err := s.db.Exec(ctx, query, principalID, n, reason, note)
	if err != nil {
		return fmt.Errorf("log credit usage: %w", err)
	}
	return nil
}
