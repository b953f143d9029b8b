// Package scraper contains the per-source extraction adapters and the
// shared HTTP machinery they run on. Each adapter owns one transport shape
// (syndication feed, session-stateful postback table, JSON search API) and
// produces candidate lots already filtered by region/keyword policy.
package scraper

import (
	"crypto/md5"
	"encoding/hex"
	"log"
	"regexp"
	"strings"

	"auction-tracker/internal/classify"
	"auction-tracker/internal/models"
)

// SourceAdapter is the common contract of all source variants. Fetch stops
// once maxCount accepted lots were collected; per-listing failures are
// logged and skipped, a source-wide transport failure truncates the run but
// still returns lots extracted before it.
type SourceAdapter interface {
	Name() string
	Fetch(maxCount int, checkDuplicates, notifyOnAmbiguous bool) ([]models.Lot, error)
}

// DuplicateChecker is the repository view the adapters need for
// cross-source deduplication. The number identifies the candidate so the
// check never matches the lot's own persisted row.
type DuplicateChecker interface {
	IsDuplicateByDescription(number, title string) (bool, error)
}

// Filter bundles the classification and deduplication steps every adapter
// applies to its candidates.
type Filter struct {
	Classifier *classify.Classifier
	Duplicates DuplicateChecker
}

// Accept runs the candidate through the region/keyword policy and, when
// requested, the persisted-title duplicate check. A failed duplicate query
// counts as not-duplicate: dropping a lot on a storage hiccup is worse than
// a rare repeat announcement.
func (f *Filter) Accept(lot *models.Lot, checkDuplicates, notifyOnAmbiguous bool) bool {
	if !f.Classifier.Matches(lot, notifyOnAmbiguous) {
		return false
	}
	if checkDuplicates {
		dup, err := f.Duplicates.IsDuplicateByDescription(lot.Number, lot.Title)
		if err != nil {
			log.Printf("[Filter] Duplicate check failed for lot %s: %v", lot.Number, err)
		} else if dup {
			log.Printf("[Filter] Lot %s skipped: duplicate of a persisted title", lot.Number)
			return false
		}
	}
	return true
}

var (
	lotPathRe       = regexp.MustCompile(`/(?:lot|lots|notice)/([A-Za-z0-9:_-]+)`)
	trailingSegment = regexp.MustCompile(`/([A-Za-z0-9:_-]{4,})/?(?:\?.*)?$`)
)

// LotNumberFromLink extracts the lot identifier from a listing link using
// the positional path pattern, falling back to the trailing path segment.
// Returns "" when the link carries no usable identifier.
func LotNumberFromLink(link string) string {
	if m := lotPathRe.FindStringSubmatch(link); len(m) > 1 {
		return m[1]
	}
	if m := trailingSegment.FindStringSubmatch(link); len(m) > 1 {
		seg := m[1]
		if strings.ContainsAny(seg, "0123456789") {
			return seg
		}
	}
	return ""
}

// SynthesizeNumber derives a stable identifier for sources that expose no
// lot id of their own, namespaced by the source name.
func SynthesizeNumber(source, seed string) string {
	hash := md5.Sum([]byte(seed))
	return source + "-" + hex.EncodeToString(hash[:])[:16]
}
