package scraper

import (
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"

	"auction-tracker/internal/config"
	"auction-tracker/internal/models"
	"auction-tracker/internal/normalize"

	"github.com/PuerkitoBio/goquery"
)

// SourceWebForms identifies lots extracted from the partial-postback table.
const SourceWebForms = "webforms"

// Fallback column indices used when the header row is absent or renamed.
const (
	fallbackColNumber   = 0
	fallbackColTitle    = 1
	fallbackColAddress  = 2
	fallbackColPrice    = 3
	fallbackColDeadline = 4
)

// WebFormsAdapter scrapes a session-stateful ASP.NET-style endpoint: an
// initial GET harvests cookies and hidden form state, a partial-update POST
// returns the lot table inside a framed delta envelope.
type WebFormsAdapter struct {
	cfg      config.WebFormsConfig
	client   *Client
	filter   *Filter
	enricher *Enricher
}

// NewWebFormsAdapter builds the session/table source variant.
func NewWebFormsAdapter(cfg config.WebFormsConfig, client *Client, filter *Filter, enricher *Enricher) *WebFormsAdapter {
	return &WebFormsAdapter{cfg: cfg, client: client, filter: filter, enricher: enricher}
}

// Name implements SourceAdapter.
func (a *WebFormsAdapter) Name() string { return SourceWebForms }

// Fetch performs the GET/POST session dance and parses the returned table
// fragment.
func (a *WebFormsAdapter) Fetch(maxCount int, checkDuplicates, notifyOnAmbiguous bool) ([]models.Lot, error) {
	doc, err := a.client.GetDocument(a.cfg.URL, "")
	if err != nil {
		return nil, fmt.Errorf("failed to prime session: %w", err)
	}

	form := harvestHiddenFields(doc)
	form.Set("__ASYNCPOST", "true")
	if a.cfg.EventTarget != "" {
		form.Set("__EVENTTARGET", a.cfg.EventTarget)
		form.Set("ScriptManager1", a.cfg.UpdatePanel+"|"+a.cfg.EventTarget)
	}

	body, err := a.client.PostForm(a.cfg.URL, form.Encode(), map[string]string{
		"X-MicrosoftAjax":  "Delta=true",
		"X-Requested-With": "XMLHttpRequest",
	})
	if err != nil {
		return nil, fmt.Errorf("partial postback failed: %w", err)
	}

	fragment, err := extractPanelPayload(string(body), a.cfg.UpdatePanel)
	if err != nil {
		return nil, err
	}

	fragDoc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return nil, fmt.Errorf("failed to parse panel fragment: %w", err)
	}

	return a.lotsFromTable(fragDoc, maxCount, checkDuplicates, notifyOnAmbiguous), nil
}

// harvestHiddenFields collects the hidden form state (__VIEWSTATE and
// friends) needed to replay the postback in the harvested session.
func harvestHiddenFields(doc *goquery.Document) url.Values {
	form := url.Values{}
	doc.Find("input[type='hidden']").Each(func(_ int, s *goquery.Selection) {
		name, ok := s.Attr("name")
		if !ok || name == "" {
			return
		}
		value, _ := s.Attr("value")
		form.Set(name, value)
	})
	return form
}

// extractPanelPayload parses the framed partial-update response:
// length|type|id|payload| repeated. The payload of the updatePanel section
// with the given id is returned. A malformed frame falls back to locating
// the panel marker and taking everything up to the next delimiter.
func extractPanelPayload(body, panelID string) (string, error) {
	rest := body
	for len(rest) > 0 {
		parts := strings.SplitN(rest, "|", 4)
		if len(parts) < 4 {
			break
		}
		length, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil || length < 0 || length > len(parts[3]) {
			break
		}
		sectionType, sectionID := parts[1], parts[2]
		payload := parts[3][:length]

		if sectionType == "updatePanel" && strings.Contains(sectionID, panelID) {
			return payload, nil
		}

		rest = parts[3][length:]
		rest = strings.TrimPrefix(rest, "|")
	}

	// Fallback: marker scan, payload up to the next delimiter.
	marker := "|updatePanel|" + panelID
	idx := strings.Index(body, marker)
	if idx < 0 {
		return "", fmt.Errorf("update panel %q not found in postback response", panelID)
	}
	after := body[idx+len(marker):]
	if pipe := strings.Index(after, "|"); pipe >= 0 {
		after = after[pipe+1:]
	}
	if end := strings.Index(after, "\n|"); end >= 0 {
		after = after[:end]
	}
	return after, nil
}

// columnIndices maps table header texts onto column positions, with the
// hardcoded fallbacks when the header row is absent or renamed.
type columnIndices struct {
	number, title, address, price, deadline int
}

func computeColumnIndices(table *goquery.Selection) columnIndices {
	cols := columnIndices{
		number:   fallbackColNumber,
		title:    fallbackColTitle,
		address:  fallbackColAddress,
		price:    fallbackColPrice,
		deadline: fallbackColDeadline,
	}

	headers := table.Find("tr").First().Find("th")
	if headers.Length() == 0 {
		log.Printf("[WebFormsAdapter] No header row, using fallback column indices")
		return cols
	}

	headers.Each(func(i int, s *goquery.Selection) {
		text := strings.ToLower(strings.TrimSpace(s.Text()))
		switch {
		case strings.Contains(text, "номер"):
			cols.number = i
		case strings.Contains(text, "наименование"), strings.Contains(text, "объект"):
			cols.title = i
		case strings.Contains(text, "адрес"), strings.Contains(text, "местоположение"):
			cols.address = i
		case strings.Contains(text, "цена"), strings.Contains(text, "стоимость"):
			cols.price = i
		case strings.Contains(text, "срок"), strings.Contains(text, "дата"):
			cols.deadline = i
		}
	})
	return cols
}

// lotsFromTable walks the table rows of the panel fragment.
func (a *WebFormsAdapter) lotsFromTable(doc *goquery.Document, maxCount int, checkDuplicates, notifyOnAmbiguous bool) []models.Lot {
	var lots []models.Lot

	table := doc.Find("table").First()
	if table.Length() == 0 {
		log.Printf("[WebFormsAdapter] No table in panel fragment")
		return nil
	}
	cols := computeColumnIndices(table)

	table.Find("tr").Each(func(rowIdx int, row *goquery.Selection) {
		if maxCount > 0 && len(lots) >= maxCount {
			return
		}
		cells := row.Find("td")
		if cells.Length() == 0 {
			return // header row
		}

		lot, ok := a.lotFromRow(cells, cols)
		if !ok {
			return
		}
		if !a.filter.Accept(&lot, checkDuplicates, notifyOnAmbiguous) {
			return
		}
		a.enricher.Enrich(&lot)
		lots = append(lots, lot)
	})

	log.Printf("[WebFormsAdapter] Collected %d lots", len(lots))
	return lots
}

func (a *WebFormsAdapter) lotFromRow(cells *goquery.Selection, cols columnIndices) (models.Lot, bool) {
	cellText := func(i int) string {
		if i < 0 || i >= cells.Length() {
			return ""
		}
		return strings.TrimSpace(cells.Eq(i).Text())
	}

	number := cellText(cols.number)
	title := cellText(cols.title)
	if number == "" && title == "" {
		return models.Lot{}, false
	}
	if number == "" {
		number = SynthesizeNumber(SourceWebForms, title+cellText(cols.address))
	}

	lot := models.Lot{
		Number:  number,
		Title:   title,
		Address: cellText(cols.address),
		Source:  SourceWebForms,
		LotType: normalize.LotTypeFromText(title),
	}
	if href, ok := cells.Eq(cols.title).Find("a").First().Attr("href"); ok {
		lot.Link = resolveURL(a.cfg.URL, href)
	}
	if price := cellText(cols.price); price != "" {
		lot.Price = normalize.Money(price)
	}
	if deadline := cellText(cols.deadline); deadline != "" {
		if t, ok := normalize.Date(deadline); ok {
			lot.Deadline = &t
		} else {
			lot.DeadlineText = deadline
		}
	}
	return lot, true
}
