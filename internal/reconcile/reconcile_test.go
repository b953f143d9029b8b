package reconcile

import (
	"fmt"
	"testing"
	"time"

	"auction-tracker/internal/models"
	"auction-tracker/internal/scraper"
)

type fakeStore struct {
	lots      map[string]*models.Lot
	mappings  map[string][]models.MessageMapping
	changes   []models.LotChange
	deadlines map[string]time.Time
	statuses  map[string]models.LotStatus
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		lots:      make(map[string]*models.Lot),
		mappings:  make(map[string][]models.MessageMapping),
		deadlines: make(map[string]time.Time),
		statuses:  make(map[string]models.LotStatus),
	}
}

func (s *fakeStore) addSentLot(number string, deadline *time.Time, mappings ...models.MessageMapping) {
	s.lots[number] = &models.Lot{
		Number:   number,
		Title:    "Лот " + number,
		Link:     "https://example.org/lot/" + number,
		Deadline: deadline,
		Status:   models.LotStatusActive,
		IsSent:   true,
	}
	s.mappings[number] = mappings
}

func (s *fakeStore) ActiveSentLots() ([]models.Lot, error) {
	var out []models.Lot
	for _, lot := range s.lots {
		if lot.IsSent && lot.IsActive() {
			out = append(out, *lot)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateStatus(number string, status models.LotStatus) (bool, error) {
	lot, ok := s.lots[number]
	if !ok {
		return false, nil
	}
	lot.Status = status
	s.statuses[number] = status
	return true, nil
}

func (s *fakeStore) UpdateDeadline(number string, deadline time.Time) (bool, error) {
	lot, ok := s.lots[number]
	if !ok {
		return false, nil
	}
	lot.Deadline = &deadline
	s.deadlines[number] = deadline
	return true, nil
}

func (s *fakeStore) MessageMappings(number string) ([]models.MessageMapping, error) {
	return s.mappings[number], nil
}

func (s *fakeStore) RecordChanges(changes []models.LotChange) error {
	s.changes = append(s.changes, changes...)
	return nil
}

type fakeEditor struct {
	edits         []string
	notifications []string
	failEdits     bool
}

func (e *fakeEditor) EditPublished(chatID int64, messageID int, lot *models.Lot) error {
	if e.failEdits {
		return fmt.Errorf("edit rejected")
	}
	e.edits = append(e.edits, fmt.Sprintf("%d/%d/%s", chatID, messageID, lot.Number))
	return nil
}

func (e *fakeEditor) NotifyOperators(text string) error {
	e.notifications = append(e.notifications, text)
	return nil
}

type fakeClosedSource struct {
	entries []scraper.ClosedLot
	err     error
}

func (c *fakeClosedSource) FetchClosed() ([]scraper.ClosedLot, error) {
	return c.entries, c.err
}

func deadlineAt(day int) *time.Time {
	t := time.Date(2025, 1, day, 10, 0, 0, 0, time.UTC)
	return &t
}

func TestDeadlineChangeDetected(t *testing.T) {
	store := newFakeStore()
	store.addSentLot("91:01:100:5", deadlineAt(10),
		models.MessageMapping{LotNumber: "91:01:100:5", MessageID: 42, ChatID: -100123})
	editor := &fakeEditor{}

	r := New(store, editor, &fakeClosedSource{})
	fresh := []models.Lot{{Number: "91:01:100:5", Deadline: deadlineAt(20)}}

	result, err := r.Run(fresh)
	if err != nil {
		t.Fatal(err)
	}

	if result.DeadlineChanges != 1 {
		t.Errorf("DeadlineChanges = %d, want 1", result.DeadlineChanges)
	}
	if got := store.deadlines["91:01:100:5"]; !got.Equal(*deadlineAt(20)) {
		t.Errorf("persisted deadline = %v, want %v", got, deadlineAt(20))
	}
	if len(store.changes) != 1 || store.changes[0].ChangeType != models.ChangeTypeDeadline {
		t.Fatalf("changes = %v, want one deadline change", store.changes)
	}
	if store.changes[0].OldValue != "10.01.2025 10:00" || store.changes[0].NewValue != "20.01.2025 10:00" {
		t.Errorf("change values = %q -> %q", store.changes[0].OldValue, store.changes[0].NewValue)
	}
	if len(editor.edits) != 1 {
		t.Errorf("edits = %d, want 1", len(editor.edits))
	}
	if len(editor.notifications) != 1 {
		t.Errorf("notifications = %d, want 1", len(editor.notifications))
	}
}

func TestDeadlineChangeIdempotent(t *testing.T) {
	store := newFakeStore()
	store.addSentLot("91:01:100:5", deadlineAt(10),
		models.MessageMapping{LotNumber: "91:01:100:5", MessageID: 42, ChatID: -100123})
	editor := &fakeEditor{}

	r := New(store, editor, &fakeClosedSource{})
	fresh := []models.Lot{{Number: "91:01:100:5", Deadline: deadlineAt(20)}}

	if _, err := r.Run(fresh); err != nil {
		t.Fatal(err)
	}
	// Second pass sees the same fresh data against the updated store.
	result, err := r.Run(fresh)
	if err != nil {
		t.Fatal(err)
	}

	if result.DeadlineChanges != 0 {
		t.Errorf("second pass detected %d deadline changes, want 0", result.DeadlineChanges)
	}
	if len(store.changes) != 1 {
		t.Errorf("second pass appended change rows: %d total, want 1", len(store.changes))
	}
}

func TestUnchangedDeadlineIgnored(t *testing.T) {
	store := newFakeStore()
	store.addSentLot("91:01:100:5", deadlineAt(10))
	editor := &fakeEditor{}

	r := New(store, editor, &fakeClosedSource{})
	result, err := r.Run([]models.Lot{{Number: "91:01:100:5", Deadline: deadlineAt(10)}})
	if err != nil {
		t.Fatal(err)
	}
	if result.DeadlineChanges != 0 || len(editor.edits) != 0 {
		t.Errorf("unchanged deadline produced changes=%d edits=%d", result.DeadlineChanges, len(editor.edits))
	}
}

func TestClosedFeedTerminalStatus(t *testing.T) {
	store := newFakeStore()
	store.addSentLot("91:01:100:5", deadlineAt(10),
		models.MessageMapping{LotNumber: "91:01:100:5", MessageID: 42, ChatID: -100123},
		models.MessageMapping{LotNumber: "91:01:100:5", MessageID: 77, ChatID: -100456})
	editor := &fakeEditor{}
	closed := &fakeClosedSource{entries: []scraper.ClosedLot{
		{Number: "91:01:100:5", Title: "Лот 91:01:100:5", RawStatus: "Торги не состоялись", Status: models.LotStatusFailed},
	}}

	r := New(store, editor, closed)
	result, err := r.Run(nil)
	if err != nil {
		t.Fatal(err)
	}

	if result.StatusChanges != 1 {
		t.Errorf("StatusChanges = %d, want 1", result.StatusChanges)
	}
	if store.statuses["91:01:100:5"] != models.LotStatusFailed {
		t.Errorf("persisted status = %s, want FAILED", store.statuses["91:01:100:5"])
	}
	if len(editor.edits) != 2 {
		t.Errorf("edits = %d, want one per mapping (2)", len(editor.edits))
	}
	if len(store.changes) != 1 || store.changes[0].ChangeType != models.ChangeTypeStatus {
		t.Fatalf("changes = %v, want one status change", store.changes)
	}
}

func TestClosedFeedIdempotent(t *testing.T) {
	store := newFakeStore()
	store.addSentLot("91:01:100:5", deadlineAt(10),
		models.MessageMapping{LotNumber: "91:01:100:5", MessageID: 42, ChatID: -100123})
	editor := &fakeEditor{}
	closed := &fakeClosedSource{entries: []scraper.ClosedLot{
		{Number: "91:01:100:5", RawStatus: "Торги не состоялись", Status: models.LotStatusFailed},
	}}

	r := New(store, editor, closed)
	if _, err := r.Run(nil); err != nil {
		t.Fatal(err)
	}
	// The lot is now terminal; the same feed entry must be a no-op.
	result, err := r.Run(nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.StatusChanges != 0 || len(editor.edits) != 1 {
		t.Errorf("second pass: statusChanges=%d edits=%d, want 0 and 1", result.StatusChanges, len(editor.edits))
	}
}

func TestClosedFeedEarlyExit(t *testing.T) {
	store := newFakeStore()
	store.addSentLot("91:01:100:5", deadlineAt(10),
		models.MessageMapping{LotNumber: "91:01:100:5", MessageID: 42, ChatID: -100123})
	editor := &fakeEditor{}

	// Five consecutive unknown entries precede the tracked lot; the scan
	// must stop before reaching it.
	entries := make([]scraper.ClosedLot, 0, 6)
	for i := 0; i < MaxConsecutiveMisses; i++ {
		entries = append(entries, scraper.ClosedLot{
			Number: fmt.Sprintf("77:01:100:%d", i), Status: models.LotStatusFailed,
		})
	}
	entries = append(entries, scraper.ClosedLot{
		Number: "91:01:100:5", RawStatus: "Торги не состоялись", Status: models.LotStatusFailed,
	})

	r := New(store, editor, &fakeClosedSource{entries: entries})
	result, err := r.Run(nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.StatusChanges != 0 {
		t.Errorf("scan processed entries past the early-exit bound: %d status changes", result.StatusChanges)
	}
}

func TestClosedFeedMissCounterResets(t *testing.T) {
	store := newFakeStore()
	store.addSentLot("91:01:100:1", deadlineAt(10))
	store.addSentLot("91:01:100:2", deadlineAt(10))
	editor := &fakeEditor{}

	// Misses interleaved with hits never reach the consecutive bound.
	entries := []scraper.ClosedLot{
		{Number: "77:01:100:1", Status: models.LotStatusFailed},
		{Number: "77:01:100:2", Status: models.LotStatusFailed},
		{Number: "77:01:100:3", Status: models.LotStatusFailed},
		{Number: "77:01:100:4", Status: models.LotStatusFailed},
		{Number: "91:01:100:1", RawStatus: "Торги отменены", Status: models.LotStatusCanceled},
		{Number: "77:01:100:5", Status: models.LotStatusFailed},
		{Number: "77:01:100:6", Status: models.LotStatusFailed},
		{Number: "77:01:100:7", Status: models.LotStatusFailed},
		{Number: "77:01:100:8", Status: models.LotStatusFailed},
		{Number: "91:01:100:2", RawStatus: "Торги не состоялись", Status: models.LotStatusFailed},
	}

	r := New(store, editor, &fakeClosedSource{entries: entries})
	result, err := r.Run(nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.StatusChanges != 2 {
		t.Errorf("StatusChanges = %d, want 2", result.StatusChanges)
	}
}

func TestClosedFeedNonTerminalSkipped(t *testing.T) {
	store := newFakeStore()
	store.addSentLot("91:01:100:5", deadlineAt(10))
	editor := &fakeEditor{}
	closed := &fakeClosedSource{entries: []scraper.ClosedLot{
		{Number: "91:01:100:5", RawStatus: "Прием заявок", Status: models.LotStatusActive},
	}}

	r := New(store, editor, closed)
	result, err := r.Run(nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.StatusChanges != 0 {
		t.Errorf("non-terminal entry changed status: %d", result.StatusChanges)
	}
}

func TestEditFailureDoesNotStopOthers(t *testing.T) {
	store := newFakeStore()
	store.addSentLot("91:01:100:5", deadlineAt(10),
		models.MessageMapping{LotNumber: "91:01:100:5", MessageID: 42, ChatID: -100123})
	editor := &fakeEditor{failEdits: true}
	closed := &fakeClosedSource{entries: []scraper.ClosedLot{
		{Number: "91:01:100:5", RawStatus: "Торги не состоялись", Status: models.LotStatusFailed},
	}}

	r := New(store, editor, closed)
	result, err := r.Run(nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.EditsFailed != 1 {
		t.Errorf("EditsFailed = %d, want 1", result.EditsFailed)
	}
	// The status change itself must still be persisted.
	if store.statuses["91:01:100:5"] != models.LotStatusFailed {
		t.Error("edit failure rolled back the status change")
	}
}
