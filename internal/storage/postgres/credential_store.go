package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/recruitgrid/leadharvest/internal/leads"
)

// CredentialStore serves session credentials from Postgres. Schema:
//
//	CREATE TABLE session_credentials (
//	    principal_id UUID PRIMARY KEY,
//	    cookie_data TEXT NOT NULL,
//	    valid BOOLEAN NOT NULL DEFAULT true,
//	    expires_at TIMESTAMPTZ NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type CredentialStore struct {
	db Querier
}

// NewCredentialStore constructs a CredentialStore.
func NewCredentialStore(db Querier) *CredentialStore {
	return &CredentialStore{db: db}
}

// ValidCredential returns the principal's credential string, or
// leads.ErrNoCredential when none is valid and unexpired.
func (s *CredentialStore) ValidCredential(ctx context.Context, principalID string) (string, error) {
	query := `
SELECT cookie_data
FROM session_credentials
WHERE principal_id = $1 AND valid AND expires_at > now()`
	var cred string
	err := s.db.QueryRow(ctx, query, principalID).Scan(&cred)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", leads.ErrNoCredential
		}
		return "", fmt.Errorf("query credential: %w", err)
	}
	return cred, nil
}

// MarkInvalid flags the credential so subsequent runs fail fast until the
// principal reconnects.
func (s *CredentialStore) MarkInvalid(ctx context.Context, principalID string) error {
	query := `
UPDATE session_credentials
SET valid = false, updated_at = now()
WHERE principal_id = $1`
	_, err := s.db.Exec(ctx, query, principalID)
	if err != nil {
		return fmt.Errorf("mark credential invalid: %w", err)
	}
	return nil
}
