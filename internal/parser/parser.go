// Package parser turns raw search-result markup into lead records. The
// upstream markup drifts across account types and rollout cohorts, so every
// field is extracted through an ordered cascade of structural selectors,
// first non-empty match wins, independently per field.
package parser

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/recruitgrid/leadharvest/internal/leads"
)

// containerSelectors locate one result card each, ordered newest layout
// first. The first selector with any matches wins for the whole document.
var containerSelectors = []string{
	"li.reusable-search__result-container",
	"div.entity-result",
	"li.search-result",
	"div.search-entity",
}

// extractor pulls one field out of a result card, or "".
type extractor func(*goquery.Selection) string

// cascade evaluates extractors left to right, first non-empty wins.
type cascade []extractor

func (c cascade) first(s *goquery.Selection) string {
	for _, ex := range c {
		if v := ex(s); v != "" {
			return v
		}
	}
	return ""
}

func text(selector string) extractor {
	return func(s *goquery.Selection) string {
		return strings.TrimSpace(s.Find(selector).First().Text())
	}
}

func attr(selector, name string) extractor {
	return func(s *goquery.Selection) string {
		v, _ := s.Find(selector).First().Attr(name)
		return strings.TrimSpace(v)
	}
}

var (
	nameCascade = cascade{
		text(`.entity-result__title-text span[aria-hidden="true"]`),
		text(".entity-result__title-text a"),
		text(".actor-name"),
		text(`a.app-aware-link span[aria-hidden="true"]`),
	}
	titleCascade = cascade{
		text(".entity-result__primary-subtitle"),
		text(".subline-level-1"),
		text(".profile-headline"),
	}
	companyCascade = cascade{
		text(".entity-result__summary strong"),
		text(".entity-result__company"),
		text(".search-result__company-name"),
	}
	locationCascade = cascade{
		text(".entity-result__secondary-subtitle"),
		text(".subline-level-2"),
		text(".people-search-result__location"),
	}
	avatarCascade = cascade{
		attr("img.presence-entity__image", "src"),
		attr("img.EntityPhoto-circle-3", "src"),
		attr("img.lazy-image", "src"),
	}
	degreeCascade = cascade{
		text(`.entity-result__badge-text span[aria-hidden="true"]`),
		text(".dist-value"),
		text(".degree-badge"),
	}
	profileCascade = cascade{
		attr(".entity-result__title-text a", "href"),
		attr("a.app-aware-link", "href"),
		attr("a.search-result__result-link", "href"),
	}
)

// Parser extracts lead records from rendered search-result markup.
type Parser struct {
	logger *zap.Logger
}

// New constructs a Parser.
func New(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{logger: logger}
}

// Parse extracts the ordered list of lead records from markup. Only person
// fields are populated; provenance is stamped by the caller. Malformed or
// unrecognized input yields an empty list, never an error.
func (p *Parser) Parse(markup []byte) []leads.Lead {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		p.logger.Warn("unparseable markup", zap.Error(err))
		return nil
	}

	containers, selector := p.findContainers(doc)
	if containers == nil {
		return nil
	}

	var out []leads.Lead
	containers.Each(func(_ int, card *goquery.Selection) {
		name := nameCascade.first(card)
		title := titleCascade.first(card)
		company := companyCascade.first(card)

		// Headline-style subtitles fold the company into the title.
		if company == "" {
			if t, c, found := strings.Cut(title, " at "); found {
				title, company = strings.TrimSpace(t), strings.TrimSpace(c)
			}
		}

		// Cards without a name, or with neither title nor company, are
		// noise: ad units, section headers, "people also viewed" filler.
		if name == "" || (title == "" && company == "") {
			return
		}

		first, last := leads.SplitName(name)
		out = append(out, leads.Lead{
			FirstName:        first,
			LastName:         last,
			Title:            title,
			Company:          company,
			Location:         locationCascade.first(card),
			ProfileURL:       leads.NormalizeProfileURL(profileCascade.first(card)),
			AvatarURL:        avatarCascade.first(card),
			ConnectionDegree: normalizeDegree(degreeCascade.first(card)),
			Source:           leads.SourceNetworkSearch,
		})
	})

	p.logger.Debug("parsed result page",
		zap.String("container_selector", selector),
		zap.Int("records", len(out)),
	)
	return out
}

// findContainers picks the first container selector with matches and logs
// the outcome so selector drift is diagnosable without production data.
func (p *Parser) findContainers(doc *goquery.Document) (*goquery.Selection, string) {
	for _, selector := range containerSelectors {
		sel := doc.Find(selector)
		if sel.Length() > 0 {
			p.logger.Info("result container selector matched",
				zap.String("selector", selector),
				zap.Int("count", sel.Length()),
			)
			return sel, selector
		}
	}
	p.logger.Warn("no result container selector matched; markup layout may have drifted")
	return nil, ""
}

func normalizeDegree(badge string) string {
	badge = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(badge), "•"))
	return strings.TrimSuffix(badge, " degree connection")
}
