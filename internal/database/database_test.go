package database

import (
	"testing"
	"time"

	"auction-tracker/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	db := NewFromGorm(gdb)
	if err := db.InitSchema(); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func mustGetLot(t *testing.T, db *DB, number string) models.Lot {
	t.Helper()
	var lot models.Lot
	if err := db.db.Where("number = ?", number).First(&lot).Error; err != nil {
		t.Fatalf("lot %s not found: %v", number, err)
	}
	return lot
}

func TestSaveLotsUpsertPreservesPublicationState(t *testing.T) {
	db := newTestDB(t)

	lot := models.Lot{Number: "91:01:100:5", Title: "Аренда помещения", Source: "feed"}
	if err := db.SaveLots([]models.Lot{lot}); err != nil {
		t.Fatal(err)
	}

	if err := db.MarkSent(lot.Number); err != nil {
		t.Fatal(err)
	}
	if _, err := db.UpdateStatus(lot.Number, models.LotStatusFailed); err != nil {
		t.Fatal(err)
	}
	before := mustGetLot(t, db, lot.Number)

	// A later scrape sees the same lot with refreshed fields.
	rescraped := models.Lot{Number: "91:01:100:5", Title: "Аренда помещения (обновлено)", Source: "searchapi"}
	if err := db.SaveLots([]models.Lot{rescraped}); err != nil {
		t.Fatal(err)
	}

	after := mustGetLot(t, db, lot.Number)
	if !after.IsSent {
		t.Error("upsert regressed is_sent true -> false")
	}
	if after.Status != models.LotStatusFailed {
		t.Errorf("upsert overwrote status: got %s, want FAILED", after.Status)
	}
	if !after.CreatedAt.Equal(before.CreatedAt) {
		t.Errorf("upsert changed created_at: %v -> %v", before.CreatedAt, after.CreatedAt)
	}
	if after.Title != rescraped.Title {
		t.Errorf("upsert did not refresh title: got %q", after.Title)
	}
}

func TestSaveLotsCarriesForwardEnrichedFields(t *testing.T) {
	db := newTestDB(t)

	area := decimal.NewFromFloat(45.5)
	deposit := decimal.NewFromInt(120000)
	deadline := time.Date(2025, 1, 10, 10, 0, 0, 0, time.UTC)
	enriched := models.Lot{
		Number:          "91:01:100:5",
		Title:           "Аренда помещения",
		Source:          "feed",
		LotType:         models.LotTypeLease,
		Area:            &area,
		Deposit:         &deposit,
		Deadline:        &deadline,
		CadastralNumber: "91:01:001001:45",
	}
	if err := db.SaveLots([]models.Lot{enriched}); err != nil {
		t.Fatal(err)
	}

	// A later run where enrichment missed (budget exhausted, detail fetch
	// failed) re-saves the lot with the listing fields only.
	sparse := models.Lot{Number: "91:01:100:5", Title: "Аренда помещения (обновлено)", Source: "feed"}
	if err := db.SaveLots([]models.Lot{sparse}); err != nil {
		t.Fatal(err)
	}

	got := mustGetLot(t, db, "91:01:100:5")
	if got.Title != sparse.Title {
		t.Errorf("title not refreshed: %q", got.Title)
	}
	if got.Area == nil || !got.Area.Equal(area) {
		t.Errorf("area blanked by sparse re-save: %v", got.Area)
	}
	if got.Deposit == nil || !got.Deposit.Equal(deposit) {
		t.Errorf("deposit blanked by sparse re-save: %v", got.Deposit)
	}
	if got.Deadline == nil || !got.Deadline.Equal(deadline) {
		t.Errorf("deadline blanked by sparse re-save: %v", got.Deadline)
	}
	if got.CadastralNumber != "91:01:001001:45" {
		t.Errorf("cadastral number blanked by sparse re-save: %q", got.CadastralNumber)
	}
	if got.LotType != models.LotTypeLease {
		t.Errorf("lot type regressed to %q", got.LotType)
	}

	// A fresh non-empty value still wins over the stored one.
	moved := time.Date(2025, 1, 20, 10, 0, 0, 0, time.UTC)
	refreshed := models.Lot{Number: "91:01:100:5", Title: "Аренда помещения", Source: "feed", Deadline: &moved}
	if err := db.SaveLots([]models.Lot{refreshed}); err != nil {
		t.Fatal(err)
	}
	got = mustGetLot(t, db, "91:01:100:5")
	if got.Deadline == nil || !got.Deadline.Equal(moved) {
		t.Errorf("fresh deadline not persisted: %v", got.Deadline)
	}
}

func TestSaveLotsDefaultsStatusActive(t *testing.T) {
	db := newTestDB(t)

	if err := db.SaveLots([]models.Lot{{Number: "91:01:100:6", Title: "Гараж", Source: "feed"}}); err != nil {
		t.Fatal(err)
	}
	got := mustGetLot(t, db, "91:01:100:6")
	if got.Status != models.LotStatusActive {
		t.Errorf("new lot status = %s, want ACTIVE", got.Status)
	}
	if got.IsSent {
		t.Error("new lot marked sent")
	}
}

func TestSelectUnsent(t *testing.T) {
	db := newTestDB(t)

	lots := []models.Lot{
		{Number: "91:01:100:1", Title: "Лот 1", Source: "feed"},
		{Number: "91:01:100:2", Title: "Лот 2", Source: "feed"},
	}
	if err := db.SaveLots(lots); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkSent("91:01:100:1"); err != nil {
		t.Fatal(err)
	}

	candidates := append(lots, models.Lot{Number: "91:01:100:3", Title: "Лот 3", Source: "searchapi"})
	unsent, err := db.SelectUnsent(candidates)
	if err != nil {
		t.Fatal(err)
	}

	if len(unsent) != 2 {
		t.Fatalf("SelectUnsent returned %d lots, want 2", len(unsent))
	}
	if unsent[0].Number != "91:01:100:2" || unsent[1].Number != "91:01:100:3" {
		t.Errorf("unexpected unsent set: %s, %s", unsent[0].Number, unsent[1].Number)
	}
}

func TestMarkSentMissingLotIsNoOp(t *testing.T) {
	db := newTestDB(t)
	if err := db.MarkSent("91:99:999:9"); err != nil {
		t.Errorf("MarkSent on missing lot returned error: %v", err)
	}
}

func TestActiveSentLots(t *testing.T) {
	db := newTestDB(t)

	lots := []models.Lot{
		{Number: "91:01:100:1", Title: "Активный отправленный", Source: "feed"},
		{Number: "91:01:100:2", Title: "Активный неотправленный", Source: "feed"},
		{Number: "91:01:100:3", Title: "Завершенный отправленный", Source: "feed"},
	}
	if err := db.SaveLots(lots); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkSent("91:01:100:1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkSent("91:01:100:3"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.UpdateStatus("91:01:100:3", models.LotStatusSucceed); err != nil {
		t.Fatal(err)
	}

	active, err := db.ActiveSentLots()
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].Number != "91:01:100:1" {
		t.Fatalf("ActiveSentLots = %v, want exactly 91:01:100:1", active)
	}
}

func TestUpdateStatusAndDeadlineReportMissingRows(t *testing.T) {
	db := newTestDB(t)

	if updated, err := db.UpdateStatus("missing", models.LotStatusFailed); err != nil || updated {
		t.Errorf("UpdateStatus(missing) = (%v, %v), want (false, nil)", updated, err)
	}
	if updated, err := db.UpdateDeadline("missing", time.Now()); err != nil || updated {
		t.Errorf("UpdateDeadline(missing) = (%v, %v), want (false, nil)", updated, err)
	}

	if err := db.SaveLots([]models.Lot{{Number: "91:01:100:1", Title: "Лот", Source: "feed"}}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Date(2025, 1, 20, 10, 0, 0, 0, time.UTC)
	if updated, err := db.UpdateDeadline("91:01:100:1", deadline); err != nil || !updated {
		t.Errorf("UpdateDeadline = (%v, %v), want (true, nil)", updated, err)
	}
	got := mustGetLot(t, db, "91:01:100:1")
	if got.Deadline == nil || !got.Deadline.Equal(deadline) {
		t.Errorf("deadline = %v, want %v", got.Deadline, deadline)
	}
}

func TestRecordMessageMappingIdempotent(t *testing.T) {
	db := newTestDB(t)

	for i := 0; i < 3; i++ {
		if err := db.RecordMessageMapping("91:01:100:1", 42, -100123); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.RecordMessageMapping("91:01:100:1", 43, -100123); err != nil {
		t.Fatal(err)
	}

	mappings, err := db.MessageMappings("91:01:100:1")
	if err != nil {
		t.Fatal(err)
	}
	if len(mappings) != 2 {
		t.Fatalf("got %d mappings, want 2 (retries must not duplicate)", len(mappings))
	}
}

func TestNoMatchAdvisoryFlag(t *testing.T) {
	db := newTestDB(t)

	sent, err := db.IsNoMatchSent("91:01:100:7")
	if err != nil || sent {
		t.Fatalf("IsNoMatchSent before mark = (%v, %v), want (false, nil)", sent, err)
	}
	if err := db.MarkNoMatchSent("91:01:100:7"); err != nil {
		t.Fatal(err)
	}
	// Marking twice must not fail.
	if err := db.MarkNoMatchSent("91:01:100:7"); err != nil {
		t.Fatal(err)
	}
	sent, err = db.IsNoMatchSent("91:01:100:7")
	if err != nil || !sent {
		t.Fatalf("IsNoMatchSent after mark = (%v, %v), want (true, nil)", sent, err)
	}
}

func TestIsDuplicateByDescription(t *testing.T) {
	db := newTestDB(t)

	if err := db.SaveLots([]models.Lot{
		{Number: "91:01:100:1", Title: "Аренда нежилого помещения, 245 кв.м, г. Севастополь", Source: "feed"},
	}); err != nil {
		t.Fatal(err)
	}

	dup, err := db.IsDuplicateByDescription("91:01:100:2", "Аренда нежилого помещения, 245 кв.м, г. Севастополь (повтор)")
	if err != nil {
		t.Fatal(err)
	}
	if !dup {
		t.Error("near-identical title not detected as duplicate")
	}

	dup, err = db.IsDuplicateByDescription("91:01:100:3", "Продажа земельного участка, 10 соток")
	if err != nil {
		t.Fatal(err)
	}
	if dup {
		t.Error("unrelated title flagged as duplicate")
	}
}

func TestIsDuplicateByDescriptionIgnoresOwnRow(t *testing.T) {
	db := newTestDB(t)

	title := "Аренда нежилого помещения, 245 кв.м, г. Севастополь"
	if err := db.SaveLots([]models.Lot{
		{Number: "91:01:100:5", Title: title, Source: "feed"},
	}); err != nil {
		t.Fatal(err)
	}

	// A re-scrape carries the same number and the same title; matching the
	// lot's own row would drop every known lot from later runs.
	dup, err := db.IsDuplicateByDescription("91:01:100:5", title)
	if err != nil {
		t.Fatal(err)
	}
	if dup {
		t.Error("re-scrape of a known lot flagged as its own duplicate")
	}

	// The same title under a different number is the cross-source repeat
	// the check exists for.
	dup, err = db.IsDuplicateByDescription("webforms-0a1b2c3d4e5f6a7b", title)
	if err != nil {
		t.Fatal(err)
	}
	if !dup {
		t.Error("same title under a different number not flagged as duplicate")
	}
}

func TestRecordAndListChanges(t *testing.T) {
	db := newTestDB(t)

	changes := []models.LotChange{
		{LotNumber: "91:01:100:1", ChangeType: models.ChangeTypeDeadline, OldValue: "10.01.2025", NewValue: "20.01.2025", DetectedAt: time.Now().Add(-time.Hour)},
		{LotNumber: "91:01:100:2", ChangeType: models.ChangeTypeStatus, OldValue: "ACTIVE", NewValue: "FAILED", DetectedAt: time.Now()},
	}
	if err := db.RecordChanges(changes); err != nil {
		t.Fatal(err)
	}

	got, err := db.RecentChanges(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d changes, want 2", len(got))
	}
	if got[0].ChangeType != models.ChangeTypeStatus {
		t.Errorf("changes not newest-first: first is %s", got[0].ChangeType)
	}
}
