package models

import "time"

// MessageMapping records every delivered announcement for a lot so that
// later changes can be re-targeted as in-place edits. Rows are append-only;
// the composite unique index tolerates re-delivery retries without
// duplicate rows.
type MessageMapping struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	LotNumber string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_mapping_triple;index" json:"lot_number"`
	MessageID int       `gorm:"not null;uniqueIndex:idx_mapping_triple" json:"message_id"`
	ChatID    int64     `gorm:"not null;uniqueIndex:idx_mapping_triple" json:"chat_id"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}

// TableName specifies the table name
func (MessageMapping) TableName() string {
	return "message_mappings"
}
