package scraper

import (
	"context"
	"log"
	"regexp"
	"strings"
	"time"

	"auction-tracker/internal/models"
	"auction-tracker/internal/normalize"
	"auction-tracker/internal/ratelimit"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
)

// Enricher fetches the per-lot detail page to fill fields missing from the
// listing view. Every field is extracted through a ranked sequence of
// strategies; a field that all strategies miss stays nil, never an error.
type Enricher struct {
	client       *Client
	budget       *ratelimit.HourlyBudget
	headless     bool
	chromePath   string
	browserViews int
}

// NewEnricher creates a detail enricher on the given client. The budget caps
// detail fetches per rolling hour; nil disables the cap. When headless is
// set, pages that come back looking like a bot interstitial are re-fetched
// through Chrome.
func NewEnricher(client *Client, budget *ratelimit.HourlyBudget, headless bool, chromePath string) *Enricher {
	return &Enricher{client: client, budget: budget, headless: headless, chromePath: chromePath}
}

// Enrich mutates the lot in place. Transport failures are logged and leave
// the lot as-is; the pacing delay of the shared client applies between
// successive detail fetches.
func (e *Enricher) Enrich(lot *models.Lot) {
	if lot.Link == "" {
		return
	}
	if e.budget != nil && !e.budget.Allow() {
		log.Printf("[Enricher] Hourly detail budget exhausted (%d used), skipping lot %s", e.budget.Used(), lot.Number)
		return
	}

	doc, err := e.fetchDetail(lot.Link)
	if err != nil {
		log.Printf("[Enricher] Failed to fetch detail page for lot %s: %v", lot.Number, err)
		return
	}

	if lot.Price == nil {
		if v := lookupField(doc, []string{"Начальная цена", "Цена", "Начальный размер арендной платы"}, "[itemprop='price']"); v != "" {
			lot.Price = normalize.Money(v)
		}
	}
	if lot.Area == nil {
		if v := lookupField(doc, []string{"Площадь"}, ""); v != "" {
			lot.Area = normalize.Area(v)
		}
	}
	if lot.Deposit == nil {
		if v := lookupField(doc, []string{"Задаток", "Размер задатка"}, ""); v != "" {
			lot.Deposit = normalize.Money(v)
		}
	}
	if lot.ContractTerm == "" {
		lot.ContractTerm = lookupField(doc, []string{"Срок договора", "Срок аренды"}, "")
	}
	if lot.CadastralNumber == "" {
		lot.CadastralNumber = extractCadastralNumber(doc)
	}
	if lot.Address == "" {
		lot.Address = lookupField(doc, []string{"Адрес", "Местоположение", "Место нахождения"}, "[itemprop='address']")
	}
	if lot.Deadline == nil {
		if v := lookupField(doc, []string{"Дата окончания приема заявок", "Окончание приема заявок", "Прием заявок до"}, ""); v != "" {
			if t, ok := normalize.Date(v); ok {
				lot.Deadline = &t
			} else if lot.DeadlineText == "" {
				lot.DeadlineText = v
			}
		}
	}
	if lot.ImageURLs == "" {
		lot.SetImageURLs(extractImages(doc, lot.Link))
	}
}

// fetchDetail gets the detail page, falling back to a headless browser when
// the plain response looks like a bot-guard interstitial.
func (e *Enricher) fetchDetail(url string) (*goquery.Document, error) {
	doc, err := e.client.GetDocument(url, "")
	if err == nil && !looksGuarded(doc) {
		return doc, nil
	}

	if !e.headless {
		return doc, err
	}

	log.Printf("[Enricher] Plain fetch unusable for %s, retrying with headless browser", url)
	html, herr := e.fetchWithHeadlessBrowser(url)
	if herr != nil {
		if err != nil {
			return nil, err
		}
		return doc, nil
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// looksGuarded detects anti-bot interstitials: near-empty documents or the
// typical JS-challenge markers.
func looksGuarded(doc *goquery.Document) bool {
	text := strings.TrimSpace(doc.Text())
	if len(text) < 200 {
		return true
	}
	lower := strings.ToLower(text)
	return strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "проверка браузера") ||
		strings.Contains(lower, "captcha")
}

// fetchWithHeadlessBrowser renders the page in headless Chrome so the
// JS challenge executes.
func (e *Enricher) fetchWithHeadlessBrowser(url string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if e.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(e.chromePath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	defer allocCancel()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var htmlContent string
	err := chromedp.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitVisible(`body`, chromedp.ByQuery),
		chromedp.Sleep(3*time.Second),
		chromedp.OuterHTML(`html`, &htmlContent, chromedp.ByQuery),
	)
	if err != nil {
		return "", err
	}
	e.browserViews++
	log.Printf("[Enricher] Headless render succeeded for %s (%d renders this session)", url, e.browserViews)
	return htmlContent, nil
}

// lookupField runs the ranked extraction strategies for one field:
// direct selector, labeled sibling element, colon-delimited text in the
// same element, then a regex scan of the page text. The first non-empty
// result that is not just the label echoed back wins.
func lookupField(doc *goquery.Document, labels []string, selector string) string {
	if selector != "" {
		if v := cleanValue(doc.Find(selector).First().Text(), labels); v != "" {
			return v
		}
		if v, ok := doc.Find(selector).First().Attr("content"); ok {
			if v = cleanValue(v, labels); v != "" {
				return v
			}
		}
	}

	for _, label := range labels {
		if v := siblingValue(doc, label); v != "" {
			return v
		}
	}
	for _, label := range labels {
		if v := colonValue(doc, label); v != "" {
			return v
		}
	}
	for _, label := range labels {
		if v := regexValue(doc, label); v != "" {
			return v
		}
	}
	return ""
}

// siblingValue finds a label cell and reads the adjacent value cell.
func siblingValue(doc *goquery.Document, label string) string {
	var result string
	doc.Find("th, td, dt, span, b, strong, div").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if !strings.EqualFold(strings.TrimSuffix(text, ":"), label) {
			return true
		}
		sibling := s.Next()
		if sibling.Length() == 0 {
			return true
		}
		if v := cleanValue(sibling.Text(), []string{label}); v != "" {
			result = v
			return false
		}
		return true
	})
	return result
}

// colonValue handles "Label: value" inside one element.
func colonValue(doc *goquery.Document, label string) string {
	var result string
	doc.Find("td, dd, li, p, span, div").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Children().Length() > 0 {
			return true
		}
		text := strings.TrimSpace(s.Text())
		idx := strings.Index(strings.ToLower(text), strings.ToLower(label))
		if idx < 0 {
			return true
		}
		rest := text[idx+len(label):]
		rest = strings.TrimLeft(rest, " \t:–-")
		if v := cleanValue(rest, []string{label}); v != "" {
			result = v
			return false
		}
		return true
	})
	return result
}

// regexValue scans the flattened page text as the last resort.
func regexValue(doc *goquery.Document, label string) string {
	re, err := compileLabelRe(label)
	if err != nil {
		return ""
	}
	if m := re.FindStringSubmatch(doc.Text()); len(m) > 1 {
		return cleanValue(m[1], []string{label})
	}
	return ""
}

func compileLabelRe(label string) (*regexp.Regexp, error) {
	return regexp.Compile(`(?i)` + regexp.QuoteMeta(label) + `[:\s]+([^\n;|]+)`)
}

// cleanValue trims the candidate and rejects label echoes.
func cleanValue(v string, labels []string) string {
	v = strings.TrimSpace(v)
	v = strings.Trim(v, ":–- \t")
	if v == "" {
		return ""
	}
	for _, label := range labels {
		if strings.EqualFold(v, label) {
			return ""
		}
	}
	return v
}

var cadastralRe = regexp.MustCompile(`\b(\d{2}:\d{2}:\d{6,7}:\d+)\b`)

// extractCadastralNumber pulls a cadastral number out of the page text.
func extractCadastralNumber(doc *goquery.Document) string {
	if m := cadastralRe.FindStringSubmatch(doc.Text()); len(m) > 1 {
		return m[1]
	}
	return ""
}

// extractImages collects lot photos, skipping icons and decorations, capped
// at models.MaxImageURLs.
func extractImages(doc *goquery.Document, pageURL string) []string {
	var urls []string
	seen := make(map[string]bool)

	doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, ok := s.Attr("src")
		if !ok || src == "" {
			src, ok = s.Attr("data-src")
			if !ok || src == "" {
				return true
			}
		}
		lower := strings.ToLower(src)
		if strings.HasPrefix(lower, "data:") ||
			strings.Contains(lower, "logo") ||
			strings.Contains(lower, "icon") ||
			strings.Contains(lower, "sprite") {
			return true
		}
		src = resolveURL(pageURL, src)
		if src == "" || seen[src] {
			return true
		}
		seen[src] = true
		urls = append(urls, src)
		return len(urls) < models.MaxImageURLs
	})
	return urls
}

// resolveURL makes relative image links absolute against the page URL.
func resolveURL(pageURL, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	base := pageURL
	if idx := strings.Index(base, "://"); idx >= 0 {
		if slash := strings.Index(base[idx+3:], "/"); slash >= 0 {
			base = base[:idx+3+slash]
		}
	}
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	if strings.HasPrefix(ref, "/") {
		return base + ref
	}
	return base + "/" + ref
}
