package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/recruitgrid/leadharvest/internal/leads"
)

// searchResponse mirrors the subset of the internal search payload the
// pipeline consumes. Unknown fields are ignored so payload additions do not
// break decoding.
type searchResponse struct {
	Elements []searchElement `json:"elements"`
}

type searchElement struct {
	Title             textField `json:"title"`
	PrimarySubtitle   textField `json:"primarySubtitle"`
	SecondarySubtitle textField `json:"secondarySubtitle"`
	BadgeText         textField `json:"badgeText"`
	NavigationURL     string    `json:"navigationUrl"`
	ProfilePicture    string    `json:"profilePicture"`
}

type textField struct {
	Text string `json:"text"`
}

// DecodeLeads maps a structured search payload directly into lead records,
// applying the same acceptance rule as the markup parser: a name plus at
// least one of title or company. Entries without a profile URL keep an empty
// URL and are deduplicated downstream.
func DecodeLeads(raw []byte, campaignID, principalID string, page int, scrapedAt time.Time) ([]leads.Lead, error) {
	var resp searchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode search payload: %w", err)
	}

	out := make([]leads.Lead, 0, len(resp.Elements))
	for _, el := range resp.Elements {
		name := strings.TrimSpace(el.Title.Text)
		title, company := splitHeadline(el.PrimarySubtitle.Text)
		if name == "" || (title == "" && company == "") {
			continue
		}
		first, last := leads.SplitName(name)
		out = append(out, leads.Lead{
			CampaignID:       campaignID,
			PrincipalID:      principalID,
			FirstName:        first,
			LastName:         last,
			Title:            title,
			Company:          company,
			Location:         strings.TrimSpace(el.SecondarySubtitle.Text),
			ProfileURL:       leads.NormalizeProfileURL(el.NavigationURL),
			AvatarURL:        strings.TrimSpace(el.ProfilePicture),
			ConnectionDegree: normalizeDegree(el.BadgeText.Text),
			Source:           leads.SourceNetworkSearch,
			PageNumber:       page,
			ScrapedAt:        scrapedAt,
		})
	}
	return out, nil
}

// splitHeadline breaks "Senior Recruiter at Acme Corp" into title and
// company. Headlines without the separator become the title alone.
func splitHeadline(headline string) (title, company string) {
	headline = strings.TrimSpace(headline)
	if headline == "" {
		return "", ""
	}
	if t, c, ok := strings.Cut(headline, " at "); ok {
		return strings.TrimSpace(t), strings.TrimSpace(c)
	}
	return headline, ""
}

// normalizeDegree strips the bullet prefix the upstream renders around
// connection badges ("• 2nd" -> "2nd").
func normalizeDegree(badge string) string {
	badge = strings.TrimSpace(badge)
	badge = strings.TrimPrefix(badge, "•")
	return strings.TrimSpace(badge)
}
