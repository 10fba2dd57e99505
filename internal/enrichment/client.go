package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/recruitgrid/leadharvest/internal/leads"
)

const maxEnrichBody = 1 << 20 // 1MB

// ClientConfig configures the downstream enrichment service client.
type ClientConfig struct {
	BaseURL     string
	APIKey      string
	HTTPTimeout time.Duration
}

// Client calls the downstream enrichment service over HTTP. It implements
// leads.Enricher.
type Client struct {
	cfg  ClientConfig
	http *http.Client
}

// NewClient constructs a Client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

type enrichRequest struct {
	LeadID     string `json:"lead_id"`
	ProfileURL string `json:"profile_url"`
}

type enrichResponse struct {
	Source string          `json:"source"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error,omitempty"`
}

// Enrich submits one lead for enrichment and returns the derived payload.
func (c *Client) Enrich(ctx context.Context, leadID, profileURL string) (leads.EnrichmentResult, error) {
	body, err := json.Marshal(enrichRequest{LeadID: leadID, ProfileURL: profileURL})
	if err != nil {
		return leads.EnrichmentResult{}, fmt.Errorf("marshal enrich request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/enrich", bytes.NewReader(body))
	if err != nil {
		return leads.EnrichmentResult{}, fmt.Errorf("build enrich request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return leads.EnrichmentResult{}, fmt.Errorf("enrich request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxEnrichBody))
	if err != nil {
		return leads.EnrichmentResult{}, fmt.Errorf("read enrich response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return leads.EnrichmentResult{}, fmt.Errorf("enrich service status %d", resp.StatusCode)
	}

	var parsed enrichResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return leads.EnrichmentResult{}, fmt.Errorf("decode enrich response: %w", err)
	}
	if parsed.Error != "" {
		return leads.EnrichmentResult{}, fmt.Errorf("enrich service: %s", parsed.Error)
	}
	return leads.EnrichmentResult{Source: parsed.Source, Data: parsed.Data}, nil
}
