package models

import "time"

// LotChange is an audit row for every change the reconciler detects on a
// previously published lot. The pipeline never reads these back; they feed
// the admin "recent changes" view.
type LotChange struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	LotNumber  string    `gorm:"type:varchar(64);not null;index" json:"lot_number"`
	ChangeType string    `gorm:"type:varchar(50);not null" json:"change_type"`
	OldValue   string    `gorm:"type:text" json:"old_value,omitempty"`
	NewValue   string    `gorm:"type:text" json:"new_value,omitempty"`
	DetectedAt time.Time `gorm:"not null;autoCreateTime;index" json:"detected_at"`
}

// TableName specifies the table name
func (LotChange) TableName() string {
	return "lot_changes"
}

// ChangeType constants
const (
	ChangeTypeDeadline = "deadline_changed"
	ChangeTypeStatus   = "status_changed"
	ChangeTypeNew      = "new_lot"
)
