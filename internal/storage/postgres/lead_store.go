package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/recruitgrid/leadharvest/internal/leads"
)

// LeadStore writes deduplicated lead rows. It assumes a table schema like:
//
//	CREATE TABLE leads (
//	    id UUID PRIMARY KEY,
//	    campaign_id UUID NOT NULL,
//	    principal_id UUID NOT NULL,
//	    first_name TEXT NOT NULL DEFAULT '',
//	    last_name TEXT NOT NULL DEFAULT '',
//	    title TEXT NOT NULL DEFAULT '',
//	    company TEXT NOT NULL DEFAULT '',
//	    location TEXT NOT NULL DEFAULT '',
//	    profile_url TEXT NOT NULL DEFAULT '',
//	    avatar_url TEXT NOT NULL DEFAULT '',
//	    connection_degree TEXT NOT NULL DEFAULT '',
//	    source TEXT NOT NULL,
//	    page_number INT NOT NULL DEFAULT 0,
//	    scraped_at TIMESTAMPTZ NOT NULL,
//	    enrichment JSONB,
//	    enriched_at TIMESTAMPTZ,
//	    UNIQUE (profile_url, campaign_id)
//	);
type LeadStore struct {
	db Querier
}

// NewLeadStore constructs a LeadStore over an existing pool or mock.
func NewLeadStore(db Querier) *LeadStore {
	return &LeadStore{db: db}
}

const insertLeadSQL = `
INSERT INTO leads (
	id, campaign_id, principal_id,
	first_name, last_name, title, company, location,
	profile_url, avatar_url, connection_degree,
	source, page_number, scraped_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (profile_url, campaign_id) DO NOTHING`

// InsertBatch upserts leads one row at a time with ignore-on-conflict
// semantics and returns only the rows actually written, so the caller can
// charge exactly the inserted count.
func (s *LeadStore) InsertBatch(ctx context.Context, batch []leads.Lead) ([]leads.Lead, error) {
	inserted := make([]leads.Lead, 0, len(batch))
	for _, l := range batch {
		tag, err := s.db.Exec(ctx, insertLeadSQL,
			l.ID, l.CampaignID, l.PrincipalID,
			l.FirstName, l.LastName, l.Title, l.Company, l.Location,
			l.ProfileURL, l.AvatarURL, l.ConnectionDegree,
			l.Source, l.PageNumber, l.ScrapedAt,
		)
		if err != nil {
			return inserted, fmt.Errorf("insert lead %s: %w", l.ProfileURL, err)
		}
		if tag.RowsAffected() == 1 {
			inserted = append(inserted, l)
		}
	}
	return inserted, nil
}

// ApplyEnrichment patches a lead in place with the enrichment payload.
func (s *LeadStore) ApplyEnrichment(ctx context.Context, leadID string, result leads.EnrichmentResult, at time.Time) error {
	query := `
UPDATE leads
SET enrichment = $2, enriched_at = $3
WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, leadID, result.Data, at)
	if err != nil {
		return fmt.Errorf("apply enrichment to lead %s: %w", leadID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("lead %s not found", leadID)
	}
	return nil
}
