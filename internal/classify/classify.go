// Package classify validates that candidate lots belong to the target
// geography and match the configured include/exclude keyword policy.
package classify

import (
	"fmt"
	"log"
	"strings"

	"auction-tracker/internal/models"
)

// NoMatchStore persists the once-per-lot advisory flag for ambiguous lots.
type NoMatchStore interface {
	IsNoMatchSent(lotID string) (bool, error)
	MarkNoMatchSent(lotID string) error
}

// Notifier is the operational notification sink for ambiguous lots.
type Notifier interface {
	NotifyOperators(text string) error
}

// RegionSignature describes how the target region is recognized in scraped
// data. A lot passes when any of the three checks matches.
type RegionSignature struct {
	NumberPrefixes    []string `yaml:"number_prefixes"`
	CadastralPrefixes []string `yaml:"cadastral_prefixes"`
	AddressKeywords   []string `yaml:"address_keywords"`
}

// Classifier applies region validation and keyword policy to candidates.
type Classifier struct {
	include  []string
	exclude  []string
	region   RegionSignature
	store    NoMatchStore
	notifier Notifier
}

// New builds a classifier; keyword lists are matched case-insensitively.
func New(include, exclude []string, region RegionSignature, store NoMatchStore, notifier Notifier) *Classifier {
	return &Classifier{
		include:  lowerAll(include),
		exclude:  lowerAll(exclude),
		region:   region,
		store:    store,
		notifier: notifier,
	}
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// MatchesRegion checks the lot identifier prefix, cadastral-number prefix
// and address text against the target-region signature. This check is
// mandatory and is never bypassed by a keyword match.
func (c *Classifier) MatchesRegion(number, cadastral, address string) bool {
	for _, p := range c.region.NumberPrefixes {
		if p != "" && strings.HasPrefix(number, p) {
			return true
		}
	}
	for _, p := range c.region.CadastralPrefixes {
		if p != "" && strings.HasPrefix(cadastral, p) {
			return true
		}
	}
	lowerAddr := strings.ToLower(address)
	for _, kw := range c.region.AddressKeywords {
		if kw != "" && strings.Contains(lowerAddr, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Matches decides whether a lot should be published. Decision order:
// region validation, then exclude keywords (which win over include), then
// include keywords. A lot matching neither list is ambiguous: it is routed
// to the operator notification sink at most once per lot identity and
// rejected for publication.
func (c *Classifier) Matches(lot *models.Lot, notifyOnAmbiguous bool) bool {
	if !c.MatchesRegion(lot.Number, lot.CadastralNumber, lot.Address) {
		log.Printf("[Classifier] Lot %s rejected: outside target region (address: %q)", lot.Number, lot.Address)
		return false
	}

	haystack := strings.ToLower(lot.Title + " " + lot.Address)
	for _, kw := range c.exclude {
		if strings.Contains(haystack, kw) {
			log.Printf("[Classifier] Lot %s rejected by exclude keyword %q", lot.Number, kw)
			return false
		}
	}
	for _, kw := range c.include {
		if strings.Contains(haystack, kw) {
			return true
		}
	}

	if notifyOnAmbiguous {
		c.notifyNoMatch(lot)
	}
	return false
}

// notifyNoMatch emits the one-time ambiguous-lot advisory. Store or sink
// failures are logged; classification itself never fails.
func (c *Classifier) notifyNoMatch(lot *models.Lot) {
	sent, err := c.store.IsNoMatchSent(lot.Number)
	if err != nil {
		log.Printf("[Classifier] Failed to check no-match flag for lot %s: %v", lot.Number, err)
		return
	}
	if sent {
		return
	}

	text := fmt.Sprintf("Лот без совпадений по ключевым словам:\n%s\n%s", lot.Title, lot.Link)
	if err := c.notifier.NotifyOperators(text); err != nil {
		log.Printf("[Classifier] Failed to send no-match advisory for lot %s: %v", lot.Number, err)
		return
	}
	if err := c.store.MarkNoMatchSent(lot.Number); err != nil {
		log.Printf("[Classifier] Failed to mark no-match advisory sent for lot %s: %v", lot.Number, err)
	}
}
