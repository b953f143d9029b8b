package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// MaxImageURLs caps how many images are carried per lot announcement.
const MaxImageURLs = 4

// Lot is the canonical auction listing record. Number is the sole identity:
// a site-specific lot id or a hash derived from the source URL.
type Lot struct {
	Number  string `gorm:"type:varchar(64);primaryKey" json:"number"`
	Title   string `gorm:"type:text;not null" json:"title"`
	Link    string `gorm:"type:varchar(500)" json:"link,omitempty"`
	Address string `gorm:"type:text" json:"address,omitempty"`

	LotType LotType `gorm:"type:varchar(20);not null;default:'unspecified';index" json:"lot_type"`

	// Price is the annualized/contract amount; MonthlyPrice is populated for
	// lease lots only (see normalize.ApplyRentPeriod).
	Price        *decimal.Decimal `gorm:"type:decimal(15,2)" json:"price,omitempty"`
	MonthlyPrice *decimal.Decimal `gorm:"type:decimal(15,2)" json:"monthly_price,omitempty"`
	Area         *decimal.Decimal `gorm:"type:decimal(10,2)" json:"area,omitempty"`
	Deposit      *decimal.Decimal `gorm:"type:decimal(15,2)" json:"deposit,omitempty"`

	ContractTerm    string `gorm:"type:varchar(100)" json:"contract_term,omitempty"`
	CadastralNumber string `gorm:"type:varchar(64);index" json:"cadastral_number,omitempty"`

	// Deadline is the parsed application deadline; DeadlineText keeps the raw
	// scraped value when no accepted date layout matched.
	Deadline     *time.Time `json:"deadline,omitempty"`
	DeadlineText string     `gorm:"type:varchar(100)" json:"deadline_text,omitempty"`

	// ImageURLs is a JSON-encoded array, 0-4 entries.
	ImageURLs string `gorm:"type:text" json:"image_urls,omitempty"`

	Source string    `gorm:"type:varchar(50);not null;index" json:"source"`
	Status LotStatus `gorm:"type:varchar(20);not null;default:'ACTIVE';index" json:"status"`
	IsSent bool      `gorm:"not null;default:false;index" json:"is_sent"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name
func (Lot) TableName() string {
	return "lots"
}

// LotType is the lot category label
type LotType string

const (
	LotTypeLease       LotType = "lease"
	LotTypeSale        LotType = "sale"
	LotTypeUnspecified LotType = "unspecified"
)

// LotStatus is the auction lifecycle status
type LotStatus string

const (
	LotStatusActive    LotStatus = "ACTIVE"
	LotStatusSucceed   LotStatus = "SUCCEED"
	LotStatusFailed    LotStatus = "FAILED"
	LotStatusCanceled  LotStatus = "CANCELED"
	LotStatusSuspended LotStatus = "SUSPENDED"
)

// IsTerminal reports whether the auction has concluded.
func (s LotStatus) IsTerminal() bool {
	switch s {
	case LotStatusSucceed, LotStatusFailed, LotStatusCanceled, LotStatusSuspended:
		return true
	}
	return false
}

// IsActive treats both ACTIVE and the legacy empty status as active.
func (l *Lot) IsActive() bool {
	return l.Status == LotStatusActive || l.Status == ""
}

// SetImageURLs stores up to MaxImageURLs image links as a JSON array.
func (l *Lot) SetImageURLs(urls []string) {
	if len(urls) == 0 {
		l.ImageURLs = ""
		return
	}
	if len(urls) > MaxImageURLs {
		urls = urls[:MaxImageURLs]
	}
	data, err := json.Marshal(urls)
	if err != nil {
		return
	}
	l.ImageURLs = string(data)
}

// GetImageURLs decodes the stored image list; a malformed column yields nil.
func (l *Lot) GetImageURLs() []string {
	if l.ImageURLs == "" {
		return nil
	}
	var urls []string
	if err := json.Unmarshal([]byte(l.ImageURLs), &urls); err != nil {
		return nil
	}
	return urls
}
