package normalize

import (
	"regexp"
	"strings"
	"time"

	"auction-tracker/internal/models"

	"github.com/shopspring/decimal"
)

// Money parses locale-formatted currency text into a decimal amount.
// Handles "1 234 567,89 руб.", "1.234.567,89", "1234567.89 ₽" and plain
// numbers. Returns nil when no usable number is present.
func Money(text string) *decimal.Decimal {
	num := extractNumber(text)
	if num == "" {
		return nil
	}
	d, err := decimal.NewFromString(num)
	if err != nil {
		return nil
	}
	if d.IsNegative() {
		return nil
	}
	return &d
}

// Area parses area text ("245,7 кв.м", "245.7 м²") into square meters.
func Area(text string) *decimal.Decimal {
	return Money(text)
}

var numberRe = regexp.MustCompile(`[0-9][0-9\s\x{00a0}.,]*`)

// extractNumber pulls the first numeric run out of text and normalizes
// separators: thousands separators (spaces, NBSP, dots followed by 3 digits)
// are stripped, a decimal comma becomes a dot.
func extractNumber(text string) string {
	match := numberRe.FindString(text)
	if match == "" {
		return ""
	}
	// Strip spaces and non-breaking spaces used as thousands separators.
	match = strings.Map(func(r rune) rune {
		if r == ' ' || r == ' ' {
			return -1
		}
		return r
	}, match)
	match = strings.TrimRight(match, ".,")

	// Decimal comma -> dot. If both separators appear, the last one is the
	// decimal mark and the other is a thousands separator.
	lastComma := strings.LastIndex(match, ",")
	lastDot := strings.LastIndex(match, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			match = strings.ReplaceAll(match, ".", "")
			match = strings.Replace(match, ",", ".", 1)
		} else {
			match = strings.ReplaceAll(match, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(match, ",") > 1 {
			match = strings.ReplaceAll(match, ",", "")
		} else {
			match = strings.Replace(match, ",", ".", 1)
		}
	case lastDot >= 0:
		// "1.234.567" is thousands-grouped; "245.7" is a decimal.
		if strings.Count(match, ".") > 1 || len(match)-lastDot == 4 {
			match = strings.ReplaceAll(match, ".", "")
		}
	}
	return match
}

// dateLayouts is the ordered list of accepted deadline formats; the first
// successful parse wins.
var dateLayouts = []string{
	"02.01.2006 15:04",
	"02.01.2006",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02.01.06",
	"02/01/2006",
}

// Date parses deadline text against the accepted layouts. The boolean is
// false when nothing matched; callers retain the raw text in that case
// rather than dropping it.
func Date(text string) (time.Time, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// RentPeriod is the quoting period attached to a scraped price.
type RentPeriod string

const (
	RentPeriodYear    RentPeriod = "year"
	RentPeriodMonth   RentPeriod = "month"
	RentPeriodUnknown RentPeriod = ""
)

var twelve = decimal.NewFromInt(12)

// ApplyRentPeriod derives the monthly vs annual price split for lease lots.
// A yearly-quoted price keeps Price and gains MonthlyPrice = Price/12; a
// monthly-quoted price moves to MonthlyPrice with Price = MonthlyPrice*12.
// The conversion runs at most once per lot and only when the lot is a lease
// with an explicit period; otherwise prices stay as scraped.
func ApplyRentPeriod(lot *models.Lot, period RentPeriod) {
	if lot.LotType != models.LotTypeLease || lot.Price == nil {
		return
	}
	if lot.MonthlyPrice != nil {
		return // already derived
	}
	switch period {
	case RentPeriodYear:
		monthly := lot.Price.Div(twelve).Round(2)
		lot.MonthlyPrice = &monthly
	case RentPeriodMonth:
		monthly := *lot.Price
		annual := monthly.Mul(twelve).Round(2)
		lot.MonthlyPrice = &monthly
		lot.Price = &annual
	}
}

// DetectRentPeriod reads the quoting period out of a price-period attribute
// ("руб. в год", "в месяц", "ежемесячно").
func DetectRentPeriod(text string) RentPeriod {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "год"):
		return RentPeriodYear
	case strings.Contains(lower, "месяц"), strings.Contains(lower, "мес."):
		return RentPeriodMonth
	}
	return RentPeriodUnknown
}

// Status maps raw Russian status text from the closed-lots feed onto the
// lot status enum. Order matters: "не состоялись" must be checked before
// "состоялись".
func Status(text string) models.LotStatus {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "не состоял"):
		return models.LotStatusFailed
	case strings.Contains(lower, "состоял"), strings.Contains(lower, "заверш"):
		return models.LotStatusSucceed
	case strings.Contains(lower, "отмен"):
		return models.LotStatusCanceled
	case strings.Contains(lower, "приостановл"):
		return models.LotStatusSuspended
	}
	return models.LotStatusActive
}

// LotTypeFromText classifies the contract type label into lease vs sale.
func LotTypeFromText(text string) models.LotType {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "аренд"), strings.Contains(lower, "найм"):
		return models.LotTypeLease
	case strings.Contains(lower, "продаж"), strings.Contains(lower, "приватизац"), strings.Contains(lower, "купл"):
		return models.LotTypeSale
	}
	return models.LotTypeUnspecified
}
