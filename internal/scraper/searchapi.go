package scraper

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"auction-tracker/internal/config"
	"auction-tracker/internal/models"
	"auction-tracker/internal/normalize"

	"github.com/shopspring/decimal"
)

// SourceSearchAPI identifies lots extracted from the JSON search API.
const SourceSearchAPI = "searchapi"

// SearchAPIAdapter queries a JSON search endpoint. A priming request
// establishes the session; the search POST answers with a doubly-nested
// envelope (a status wrapper whose result is a JSON-encoded string that
// itself contains a JSON-encoded string holding the hit array). Both the
// nested and the flattened shape occur in the wild and both are accepted.
type SearchAPIAdapter struct {
	cfg      config.SearchAPIConfig
	client   *Client
	filter   *Filter
	enricher *Enricher
	primed   bool
}

// NewSearchAPIAdapter builds the search-API source variant.
func NewSearchAPIAdapter(cfg config.SearchAPIConfig, client *Client, filter *Filter, enricher *Enricher) *SearchAPIAdapter {
	return &SearchAPIAdapter{cfg: cfg, client: client, filter: filter, enricher: enricher}
}

// Name implements SourceAdapter.
func (a *SearchAPIAdapter) Name() string { return SourceSearchAPI }

type searchRequest struct {
	Text       string   `json:"text,omitempty"`
	RegionIDs  []string `json:"regionIds,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Offset     int      `json:"offset"`
	Limit      int      `json:"limit"`
}

type searchEnvelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   string          `json:"error,omitempty"`
}

type searchHit struct {
	ID        string          `json:"id"`
	LotNumber string          `json:"lotNumber"`
	Name      string          `json:"name"`
	Address   string          `json:"address"`
	URL       string          `json:"url"`
	Cadastral string          `json:"cadastralNumber"`
	Contract  string          `json:"contractType"`
	Price     json.RawMessage `json:"price"`
	Area      json.RawMessage `json:"area"`
	Deposit   json.RawMessage `json:"deposit"`
	Deadline  string          `json:"biddEndTime"`
	Images    []string        `json:"imageIds"`
}

// Fetch primes the session, issues the structured query and maps the hits.
func (a *SearchAPIAdapter) Fetch(maxCount int, checkDuplicates, notifyOnAmbiguous bool) ([]models.Lot, error) {
	if err := a.prime(); err != nil {
		return nil, err
	}

	limit := a.cfg.PageSize
	if maxCount > 0 && maxCount < limit {
		limit = maxCount
	}
	if limit <= 0 {
		limit = 50
	}

	payload, err := json.Marshal(searchRequest{
		Text:       a.cfg.Query,
		RegionIDs:  a.cfg.RegionIDs,
		Categories: a.cfg.Categories,
		Offset:     0,
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}

	body, err := a.client.PostJSON(a.cfg.SearchURL, payload, nil)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}

	hits, err := decodeSearchHits(body)
	if err != nil {
		return nil, err
	}

	var lots []models.Lot
	for i := range hits {
		lot, ok := a.lotFromHit(&hits[i])
		if !ok {
			continue
		}
		if !a.filter.Accept(&lot, checkDuplicates, notifyOnAmbiguous) {
			continue
		}
		a.enricher.Enrich(&lot)
		lots = append(lots, lot)
		if maxCount > 0 && len(lots) >= maxCount {
			break
		}
	}

	log.Printf("[SearchAPIAdapter] Collected %d lots from %d hits", len(lots), len(hits))
	return lots, nil
}

func (a *SearchAPIAdapter) prime() error {
	if a.primed || a.cfg.PrimingURL == "" {
		return nil
	}
	if _, err := a.client.GetBody(a.cfg.PrimingURL, ""); err != nil {
		return fmt.Errorf("priming request failed: %w", err)
	}
	a.primed = true
	return nil
}

// decodeSearchHits unwraps the response envelope. The result may be the hit
// container directly, a JSON-encoded string of it, or a JSON-encoded string
// of a JSON-encoded string of it; each level of string quoting is peeled
// until an object shows up.
func decodeSearchHits(body []byte) ([]searchHit, error) {
	var env searchEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("malformed search response: %w", err)
	}
	if len(env.Result) == 0 {
		if env.Error != "" {
			return nil, fmt.Errorf("search API error: %s", env.Error)
		}
		return nil, fmt.Errorf("search response carries no result")
	}

	raw := env.Result
	for i := 0; i < 3; i++ {
		trimmed := strings.TrimSpace(string(raw))
		if !strings.HasPrefix(trimmed, `"`) {
			break
		}
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("failed to unquote nested result (level %d): %w", i+1, err)
		}
		raw = json.RawMessage(inner)
	}

	var container struct {
		Hits []searchHit `json:"hits"`
	}
	if err := json.Unmarshal(raw, &container); err != nil {
		return nil, fmt.Errorf("failed to decode search hits: %w", err)
	}
	return container.Hits, nil
}

func (a *SearchAPIAdapter) lotFromHit(hit *searchHit) (models.Lot, bool) {
	number := hit.LotNumber
	if number == "" {
		number = hit.ID
	}
	if number == "" {
		log.Printf("[SearchAPIAdapter] Skipping hit with no identifier: %q", hit.Name)
		return models.Lot{}, false
	}

	lot := models.Lot{
		Number:          number,
		Title:           strings.TrimSpace(hit.Name),
		Link:            hit.URL,
		Address:         strings.TrimSpace(hit.Address),
		CadastralNumber: hit.Cadastral,
		Source:          SourceSearchAPI,
		LotType:         normalize.LotTypeFromText(hit.Contract + " " + hit.Name),
	}

	lot.Price = decimalFromRaw(hit.Price)
	lot.Area = decimalFromRaw(hit.Area)
	lot.Deposit = decimalFromRaw(hit.Deposit)

	if hit.Deadline != "" {
		if t, ok := normalize.Date(hit.Deadline); ok {
			lot.Deadline = &t
		} else {
			lot.DeadlineText = hit.Deadline
		}
	}
	lot.SetImageURLs(hit.Images)
	return lot, true
}

// decimalFromRaw accepts the numeric fields however the API quotes them:
// plain numbers, quoted numbers, or locale-formatted strings.
func decimalFromRaw(raw json.RawMessage) *decimal.Decimal {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return normalize.Money(asString)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil
	}
	return &d
}
