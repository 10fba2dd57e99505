package postgres

import (
	"context"
	"fmt"
)

// CampaignStore answers campaign ownership queries.
type CampaignStore struct {
	db Querier
}

// NewCampaignStore constructs a CampaignStore.
func NewCampaignStore(db Querier) *CampaignStore {
	return &CampaignStore{db: db}
}

// CampaignOwned reports whether the campaign exists and belongs to the
// principal.
func (s *CampaignStore) CampaignOwned(ctx context.Context, campaignID, principalID string) (bool, error) {
	query := `
SELECT EXISTS (
	SELECT 1 FROM campaigns
	WHERE id = $1 AND principal_id = $2
)`
	var owned bool
	err := s.db.QueryRow(ctx, query, campaignID, principalID).Scan(&owned)
	if err != nil {
		return false, fmt.Errorf("check campaign ownership: %w", err)
	}
	return owned, nil
}
