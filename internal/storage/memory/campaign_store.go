package memory

import (
	"context"
	"sync"
)

// CampaignStore records campaign ownership as a campaign -> principal map.
type CampaignStore struct {
	mu     sync.RWMutex
	owners map[string]string
}

// NewCampaignStore constructs a store with the given ownership map.
func NewCampaignStore(owners map[string]string) *CampaignStore {
	copied := make(map[string]string, len(owners))
	for k, v := range owners {
		copied[k] = v
	}
	return &CampaignStore{owners: copied}
}

// CampaignOwned reports whether the campaign belongs to the principal.
func (s *CampaignStore) CampaignOwned(_ context.Context, campaignID, principalID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.owners[campaignID]
	return ok && owner == principalID, nil
}
