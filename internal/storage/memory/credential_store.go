package memory

import (
	"context"
	"sync"

	"github.com/recruitgrid/leadharvest/internal/leads"
)

// CredentialStore keeps session credentials in memory.
type CredentialStore struct {
	mu    sync.Mutex
	creds map[string]string
}

// NewCredentialStore constructs a store with the given credentials.
func NewCredentialStore(creds map[string]string) *CredentialStore {
	copied := make(map[string]string, len(creds))
	for k, v := range creds {
		copied[k] = v
	}
	return &CredentialStore{creds: copied}
}

// ValidCredential returns the stored credential or leads.ErrNoCredential.
func (s *CredentialStore) ValidCredential(_ context.Context, principalID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[principalID]
	if !ok || cred == "" {
		return "", leads.ErrNoCredential
	}
	return cred, nil
}

// MarkInvalid drops the credential so later lookups fail.
func (s *CredentialStore) MarkInvalid(_ context.Context, principalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, principalID)
	return nil
}
