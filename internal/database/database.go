package database

import (
	"fmt"
	"log"
	"time"

	"auction-tracker/internal/dedup"
	"auction-tracker/internal/models"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is the persisted store of canonical lots, publication flags and
// message-to-lot mappings.
type DB struct {
	db *gorm.DB
}

// OpenMySQL connects to a MySQL backend.
func OpenMySQL(host string, port int, user, password, dbname string) (*DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		user, password, host, port, dbname)
	return open(mysql.Open(dsn))
}

// OpenPostgres connects to a PostgreSQL backend.
func OpenPostgres(host string, port int, user, password, dbname, sslmode string) (*DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)
	return open(postgres.Open(dsn))
}

func open(dialector gorm.Dialector) (*DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, err
	}

	return &DB{db: db}, nil
}

// NewFromGorm wraps an existing gorm.DB instance (used by tests).
func NewFromGorm(db *gorm.DB) *DB {
	return &DB{db: db}
}

func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InitSchema creates or additively migrates the tables. AutoMigrate only
// adds columns and indexes, so a long-lived store survives deployments
// without a destructive rebuild.
func (d *DB) InitSchema() error {
	return d.db.AutoMigrate(
		&models.Lot{},
		&models.MessageMapping{},
		&models.NoMatchLot{},
		&models.LotChange{},
	)
}

// SaveLots upserts the batch inside a single transaction. For every lot the
// existing is_sent and status are read first and carried forward, so a
// re-scrape never regresses is_sent true->false and never silently
// overwrites a status the reconciler has advanced (explicit status changes
// go through UpdateStatus). The batch commits atomically or rolls back
// entirely.
func (d *DB) SaveLots(lots []models.Lot) error {
	if len(lots) == 0 {
		return nil
	}
	return d.db.Transaction(func(tx *gorm.DB) error {
		for i := range lots {
			lot := &lots[i]
			if lot.Status == "" {
				lot.Status = models.LotStatusActive
			}

			var existing models.Lot
			result := tx.Where("number = ?", lot.Number).First(&existing)
			if result.Error == gorm.ErrRecordNotFound {
				if err := tx.Create(lot).Error; err != nil {
					return fmt.Errorf("create lot %s: %w", lot.Number, err)
				}
				continue
			} else if result.Error != nil {
				return result.Error
			}

			lot.CreatedAt = existing.CreatedAt
			lot.IsSent = existing.IsSent
			lot.Status = existing.Status
			carryForwardDetails(lot, &existing)
			if err := tx.Save(lot).Error; err != nil {
				return fmt.Errorf("update lot %s: %w", lot.Number, err)
			}
		}
		return nil
	})
}

// carryForwardDetails keeps stored values for fields the fresh scrape left
// empty. A run with an exhausted detail budget or a failed detail fetch
// must not blank out columns an earlier enrichment filled.
func carryForwardDetails(lot, existing *models.Lot) {
	if lot.Price == nil {
		lot.Price = existing.Price
	}
	if lot.MonthlyPrice == nil {
		lot.MonthlyPrice = existing.MonthlyPrice
	}
	if lot.Area == nil {
		lot.Area = existing.Area
	}
	if lot.Deposit == nil {
		lot.Deposit = existing.Deposit
	}
	if lot.Deadline == nil {
		lot.Deadline = existing.Deadline
	}
	if lot.Link == "" {
		lot.Link = existing.Link
	}
	if lot.Address == "" {
		lot.Address = existing.Address
	}
	if lot.ContractTerm == "" {
		lot.ContractTerm = existing.ContractTerm
	}
	if lot.CadastralNumber == "" {
		lot.CadastralNumber = existing.CadastralNumber
	}
	if lot.DeadlineText == "" {
		lot.DeadlineText = existing.DeadlineText
	}
	if lot.ImageURLs == "" {
		lot.ImageURLs = existing.ImageURLs
	}
	if lot.LotType == "" || lot.LotType == models.LotTypeUnspecified {
		lot.LotType = existing.LotType
	}
}

// SelectUnsent returns, of the given candidates, those absent from the
// store or present with is_sent=false.
func (d *DB) SelectUnsent(lots []models.Lot) ([]models.Lot, error) {
	var unsent []models.Lot
	for _, lot := range lots {
		var existing models.Lot
		result := d.db.Select("number", "is_sent").Where("number = ?", lot.Number).First(&existing)
		if result.Error == gorm.ErrRecordNotFound {
			unsent = append(unsent, lot)
			continue
		} else if result.Error != nil {
			return nil, result.Error
		}
		if !existing.IsSent {
			unsent = append(unsent, lot)
		}
	}
	return unsent, nil
}

// MarkSent sets is_sent=true for the lot; a missing lot is a logged no-op.
func (d *DB) MarkSent(number string) error {
	result := d.db.Model(&models.Lot{}).Where("number = ?", number).Update("is_sent", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		log.Printf("[DB] MarkSent: lot %s not found, nothing to update", number)
	}
	return nil
}

// ActiveSentLots returns all published lots that are still active. Legacy
// rows with an empty status count as active.
func (d *DB) ActiveSentLots() ([]models.Lot, error) {
	var lots []models.Lot
	err := d.db.Where("is_sent = ? AND (status = ? OR status = '')", true, models.LotStatusActive).
		Find(&lots).Error
	return lots, err
}

// UpdateStatus sets the lot status, reporting whether a row was affected.
func (d *DB) UpdateStatus(number string, status models.LotStatus) (bool, error) {
	result := d.db.Model(&models.Lot{}).Where("number = ?", number).Update("status", status)
	return result.RowsAffected > 0, result.Error
}

// UpdateDeadline sets the lot deadline, reporting whether a row was affected.
func (d *DB) UpdateDeadline(number string, deadline time.Time) (bool, error) {
	result := d.db.Model(&models.Lot{}).Where("number = ?", number).Update("deadline", deadline)
	return result.RowsAffected > 0, result.Error
}

// MessageMappings returns every recorded delivery of the lot's announcement.
func (d *DB) MessageMappings(number string) ([]models.MessageMapping, error) {
	var mappings []models.MessageMapping
	err := d.db.Where("lot_number = ?", number).Order("id ASC").Find(&mappings).Error
	return mappings, err
}

// RecordMessageMapping appends a delivery record. The (lot, message, chat)
// triple is the key, so re-delivery retries do not produce duplicate rows.
func (d *DB) RecordMessageMapping(number string, messageID int, chatID int64) error {
	mapping := models.MessageMapping{
		LotNumber: number,
		MessageID: messageID,
		ChatID:    chatID,
	}
	return d.db.Where(&models.MessageMapping{
		LotNumber: number,
		MessageID: messageID,
		ChatID:    chatID,
	}).FirstOrCreate(&mapping).Error
}

// IsNoMatchSent reports whether the ambiguous-lot advisory went out already.
func (d *DB) IsNoMatchSent(lotID string) (bool, error) {
	var marker models.NoMatchLot
	result := d.db.Where("lot_id = ?", lotID).First(&marker)
	if result.Error == gorm.ErrRecordNotFound {
		return false, nil
	}
	if result.Error != nil {
		return false, result.Error
	}
	return marker.Sent, nil
}

// MarkNoMatchSent records that the advisory for this lot identity went out.
func (d *DB) MarkNoMatchSent(lotID string) error {
	marker := models.NoMatchLot{LotID: lotID, Sent: true}
	return d.db.Where(&models.NoMatchLot{LotID: lotID}).
		Assign(map[string]interface{}{"sent": true}).
		FirstOrCreate(&marker).Error
}

// IsDuplicateByDescription checks the candidate title against the persisted
// titles of OTHER lots using the normalized-similarity rule. A candidate
// whose number is already stored is a re-scrape of a known lot, not a
// repeat announcement, and must flow through to the upsert and the
// reconciler. Linear in the number of stored lots; the corpus is thousands
// of rows and runs happen a few times a day.
func (d *DB) IsDuplicateByDescription(number, title string) (bool, error) {
	var known int64
	if err := d.db.Model(&models.Lot{}).Where("number = ?", number).Count(&known).Error; err != nil {
		return false, err
	}
	if known > 0 {
		return false, nil
	}
	var titles []string
	if err := d.db.Model(&models.Lot{}).Where("number <> ?", number).Pluck("title", &titles).Error; err != nil {
		return false, err
	}
	for _, persisted := range titles {
		if dedup.IsDuplicate(title, persisted) {
			return true, nil
		}
	}
	return false, nil
}

// RecordChanges appends reconciler audit rows.
func (d *DB) RecordChanges(changes []models.LotChange) error {
	if len(changes) == 0 {
		return nil
	}
	return d.db.Create(&changes).Error
}

// RecentChanges returns the latest detected changes, newest first.
func (d *DB) RecentChanges(limit int) ([]models.LotChange, error) {
	var changes []models.LotChange
	query := d.db.Order("detected_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&changes).Error
	return changes, err
}

// Stats returns row counts for the admin surface.
func (d *DB) Stats() (map[string]int64, error) {
	stats := make(map[string]int64)

	counts := []struct {
		key   string
		query *gorm.DB
	}{
		{"lots", d.db.Model(&models.Lot{})},
		{"lots_sent", d.db.Model(&models.Lot{}).Where("is_sent = ?", true)},
		{"lots_active", d.db.Model(&models.Lot{}).Where("status = ? OR status = ''", models.LotStatusActive)},
		{"message_mappings", d.db.Model(&models.MessageMapping{})},
		{"no_match_lots", d.db.Model(&models.NoMatchLot{})},
		{"lot_changes", d.db.Model(&models.LotChange{})},
	}
	for _, c := range counts {
		var n int64
		if err := c.query.Count(&n).Error; err != nil {
			return nil, err
		}
		stats[c.key] = n
	}
	return stats, nil
}
