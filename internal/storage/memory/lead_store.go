package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/recruitgrid/leadharvest/internal/leads"
)

type leadKey struct {
	profileURL string
	campaignID string
}

// LeadStore keeps leads in a map keyed by (profile_url, campaign_id), the
// same identity the SQL unique constraint enforces.
type LeadStore struct {
	mu     sync.RWMutex
	byKey  map[leadKey]string
	byID   map[string]leads.Lead
	serial int
}

// NewLeadStore constructs a LeadStore.
func NewLeadStore() *LeadStore {
	return &LeadStore{
		byKey: make(map[leadKey]string),
		byID:  make(map[string]leads.Lead),
	}
}

// InsertBatch inserts leads with ignore-on-conflict semantics and returns
// only the rows actually written.
func (s *LeadStore) InsertBatch(_ context.Context, batch []leads.Lead) ([]leads.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var inserted []leads.Lead
	for _, lead := range batch {
		key := leadKey{profileURL: lead.ProfileURL, campaignID: lead.CampaignID}
		if lead.ProfileURL != "" {
			if _, exists := s.byKey[key]; exists {
				continue
			}
			s.byKey[key] = lead.ID
		}
		s.byID[lead.ID] = lead
		s.serial++
		inserted = append(inserted, lead)
	}
	return inserted, nil
}

// ApplyEnrichment patches a lead with the enrichment payload.
func (s *LeadStore) ApplyEnrichment(_ context.Context, leadID string, result leads.EnrichmentResult, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.byID[leadID]
	if !ok {
		return errors.New("lead not found")
	}
	lead.Enrichment = result.Data
	lead.EnrichedAt = ptrTime(at)
	s.byID[leadID] = lead
	return nil
}

// Get fetches one lead by ID.
func (s *LeadStore) Get(leadID string) (leads.Lead, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lead, ok := s.byID[leadID]
	return lead, ok
}

// Count returns the number of stored leads.
func (s *LeadStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
