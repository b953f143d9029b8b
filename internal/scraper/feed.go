package scraper

import (
	"fmt"
	"log"
	"strings"

	"auction-tracker/internal/config"
	"auction-tracker/internal/models"
	"auction-tracker/internal/normalize"

	"github.com/mmcdole/gofeed"
)

// SourceFeed identifies lots extracted from the syndication feed.
const SourceFeed = "feed"

// FeedAdapter scrapes the paginated RSS feed of auction notices. The same
// parser serves the companion closed-lots feed consumed by the reconciler.
type FeedAdapter struct {
	cfg      config.FeedConfig
	client   *Client
	parser   *gofeed.Parser
	filter   *Filter
	enricher *Enricher
}

// NewFeedAdapter builds the feed source variant.
func NewFeedAdapter(cfg config.FeedConfig, client *Client, filter *Filter, enricher *Enricher) *FeedAdapter {
	return &FeedAdapter{
		cfg:      cfg,
		client:   client,
		parser:   gofeed.NewParser(),
		filter:   filter,
		enricher: enricher,
	}
}

// Name implements SourceAdapter.
func (a *FeedAdapter) Name() string { return SourceFeed }

// Fetch paginates the feed until a page comes back empty or maxCount
// accepted lots were collected. Entries without an extractable identifier
// are logged and skipped, never retried.
func (a *FeedAdapter) Fetch(maxCount int, checkDuplicates, notifyOnAmbiguous bool) ([]models.Lot, error) {
	var lots []models.Lot

	maxPages := a.cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 10
	}

	for page := 1; page <= maxPages; page++ {
		feed, err := a.fetchPage(a.cfg.URL, page)
		if err != nil {
			// Source-wide failure truncates the run; earlier pages stand.
			log.Printf("[FeedAdapter] Page %d failed, truncating run: %v", page, err)
			return lots, err
		}
		if len(feed.Items) == 0 {
			log.Printf("[FeedAdapter] Page %d empty, stopping pagination", page)
			break
		}

		for _, item := range feed.Items {
			lot, ok := a.lotFromItem(item)
			if !ok {
				continue
			}
			if !a.filter.Accept(&lot, checkDuplicates, notifyOnAmbiguous) {
				continue
			}
			a.enricher.Enrich(&lot)
			lots = append(lots, lot)
			if maxCount > 0 && len(lots) >= maxCount {
				log.Printf("[FeedAdapter] Reached max count %d", maxCount)
				return lots, nil
			}
		}
	}

	log.Printf("[FeedAdapter] Collected %d lots", len(lots))
	return lots, nil
}

func (a *FeedAdapter) fetchPage(baseURL string, page int) (*gofeed.Feed, error) {
	url := baseURL
	if page > 1 {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url = fmt.Sprintf("%s%spage=%d", url, sep, page)
	}

	body, err := a.client.GetBody(url, "")
	if err != nil {
		return nil, err
	}
	feed, err := a.parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}
	return feed, nil
}

// lotFromItem maps one feed entry onto a candidate lot. The identifier
// comes from the positional link pattern; entries without one are rejected.
func (a *FeedAdapter) lotFromItem(item *gofeed.Item) (models.Lot, bool) {
	number := LotNumberFromLink(item.Link)
	if number == "" {
		log.Printf("[FeedAdapter] Skipping entry with no extractable lot id: %s", item.Link)
		return models.Lot{}, false
	}

	lot := models.Lot{
		Number:  number,
		Title:   strings.TrimSpace(item.Title),
		Link:    item.Link,
		Source:  SourceFeed,
		LotType: normalize.LotTypeFromText(item.Title + " " + item.Description),
	}

	desc := stripTags(item.Description)
	if addr := fieldFromDescription(desc, "Адрес"); addr != "" {
		lot.Address = addr
	}
	if price := fieldFromDescription(desc, "Начальная цена"); price != "" {
		lot.Price = normalize.Money(price)
	}
	if deadline := fieldFromDescription(desc, "Окончание приема заявок"); deadline != "" {
		if t, ok := normalize.Date(deadline); ok {
			lot.Deadline = &t
		} else {
			lot.DeadlineText = deadline
		}
	}
	return lot, true
}

// ClosedLot is one entry of the closed/withdrawn lots feed.
type ClosedLot struct {
	Number    string
	Title     string
	RawStatus string
	Status    models.LotStatus
}

// FetchClosed returns the closed-lots feed in feed order, which the source
// keeps recency-descending. Entries without an identifier are skipped.
func (a *FeedAdapter) FetchClosed() ([]ClosedLot, error) {
	if a.cfg.ClosedURL == "" {
		return nil, nil
	}

	body, err := a.client.GetBody(a.cfg.ClosedURL, "")
	if err != nil {
		return nil, err
	}
	feed, err := a.parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse closed-lots feed: %w", err)
	}

	var closed []ClosedLot
	for _, item := range feed.Items {
		number := LotNumberFromLink(item.Link)
		if number == "" {
			continue
		}
		raw := fieldFromDescription(stripTags(item.Description), "Статус")
		if raw == "" {
			raw = item.Title
		}
		closed = append(closed, ClosedLot{
			Number:    number,
			Title:     strings.TrimSpace(item.Title),
			RawStatus: raw,
			Status:    normalize.Status(raw),
		})
	}
	log.Printf("[FeedAdapter] Closed-lots feed returned %d entries", len(closed))
	return closed, nil
}

// fieldFromDescription reads "Label: value" lines out of a feed entry
// description.
func fieldFromDescription(desc, label string) string {
	for _, line := range strings.Split(desc, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		prefix := strings.ToLower(label)
		if !strings.HasPrefix(lower, prefix) {
			continue
		}
		rest := strings.TrimSpace(line[len(label):])
		rest = strings.TrimLeft(rest, ": –-")
		if rest != "" {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

// stripTags flattens the HTML fragments feeds put in descriptions into
// newline-separated text.
func stripTags(s string) string {
	s = strings.ReplaceAll(s, "<br>", "\n")
	s = strings.ReplaceAll(s, "<br/>", "\n")
	s = strings.ReplaceAll(s, "<br />", "\n")
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}
