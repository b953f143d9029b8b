package models

import "time"

// NoMatchLot marks lots that matched neither the include nor the exclude
// keyword policy. The Sent flag guarantees the operator advisory goes out at
// most once per lot identity, no matter how often the lot reappears in later
// scrapes. Rows are created once and never updated afterwards.
type NoMatchLot struct {
	LotID     string    `gorm:"type:varchar(64);primaryKey" json:"lot_id"`
	Sent      bool      `gorm:"not null;default:false" json:"sent"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}

// TableName specifies the table name
func (NoMatchLot) TableName() string {
	return "no_match_lots"
}
