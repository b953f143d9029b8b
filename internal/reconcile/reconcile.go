// Package reconcile keeps already-published lots truthful: it detects
// deadline extensions on re-scraped lots and terminal outcomes in the
// closed-lots feed, persists them and propagates edits to every published
// copy of the announcement.
package reconcile

import (
	"fmt"
	"log"
	"time"

	"auction-tracker/internal/models"
	"auction-tracker/internal/scraper"
)

// MaxConsecutiveMisses is the closed-feed early-exit bound: once this many
// entries in a row match no tracked lot, the scan has moved past everything
// we ever published and stops.
const MaxConsecutiveMisses = 5

// Store is the repository view the reconciler needs.
type Store interface {
	ActiveSentLots() ([]models.Lot, error)
	UpdateStatus(number string, status models.LotStatus) (bool, error)
	UpdateDeadline(number string, deadline time.Time) (bool, error)
	MessageMappings(number string) ([]models.MessageMapping, error)
	RecordChanges(changes []models.LotChange) error
}

// Editor rewrites published announcements and raises operator advisories.
type Editor interface {
	EditPublished(chatID int64, messageID int, lot *models.Lot) error
	NotifyOperators(text string) error
}

// ClosedSource yields the closed/withdrawn lots feed in recency order.
type ClosedSource interface {
	FetchClosed() ([]scraper.ClosedLot, error)
}

// Result summarizes one reconciliation pass.
type Result struct {
	DeadlineChanges int
	StatusChanges   int
	EditsApplied    int
	EditsFailed     int
}

// Reconciler compares the published state against fresh observations.
type Reconciler struct {
	store  Store
	editor Editor
	closed ClosedSource
}

func New(store Store, editor Editor, closed ClosedSource) *Reconciler {
	return &Reconciler{store: store, editor: editor, closed: closed}
}

// Run executes one reconciliation pass: deadline diffs against the fresh
// scrape, then the closed-feed scan. Both halves touch only active
// published lots, so re-running after a crash repeats no side effect.
func (r *Reconciler) Run(fresh []models.Lot) (Result, error) {
	var result Result

	tracked, err := r.store.ActiveSentLots()
	if err != nil {
		return result, fmt.Errorf("failed to load published lots: %w", err)
	}
	byNumber := make(map[string]*models.Lot, len(tracked))
	for i := range tracked {
		byNumber[tracked[i].Number] = &tracked[i]
	}

	r.reconcileDeadlines(fresh, byNumber, &result)
	if err := r.reconcileClosed(byNumber, &result); err != nil {
		return result, err
	}

	log.Printf("[Reconciler] Pass complete: %d deadline changes, %d status changes, %d edits (%d failed)",
		result.DeadlineChanges, result.StatusChanges, result.EditsApplied, result.EditsFailed)
	return result, nil
}

// reconcileDeadlines diffs the freshly scraped deadlines against the stored
// ones for lots that are published and still active.
func (r *Reconciler) reconcileDeadlines(fresh []models.Lot, tracked map[string]*models.Lot, result *Result) {
	for i := range fresh {
		lot := &fresh[i]
		if lot.Deadline == nil {
			continue
		}
		stored, ok := tracked[lot.Number]
		if !ok {
			continue
		}
		if stored.Deadline != nil && stored.Deadline.Equal(*lot.Deadline) {
			continue
		}

		updated, err := r.store.UpdateDeadline(lot.Number, *lot.Deadline)
		if err != nil {
			log.Printf("[Reconciler] Failed to persist deadline for lot %s: %v", lot.Number, err)
			continue
		}
		if !updated {
			continue
		}

		oldValue := ""
		if stored.Deadline != nil {
			oldValue = stored.Deadline.Format("02.01.2006 15:04")
		}
		newValue := lot.Deadline.Format("02.01.2006 15:04")
		log.Printf("[Reconciler] Lot %s deadline changed: %q -> %q", lot.Number, oldValue, newValue)

		r.recordChange(lot.Number, models.ChangeTypeDeadline, oldValue, newValue)
		result.DeadlineChanges++

		// Edits carry the stored lot with the fresh deadline so the
		// announcement keeps its published wording.
		stored.Deadline = lot.Deadline
		r.editMappings(stored, result)

		r.notify(fmt.Sprintf("Срок приема заявок по лоту %s изменен: %s -> %s\n%s",
			lot.Number, orDash(oldValue), newValue, stored.Link))
	}
}

// reconcileClosed scans the closed-lots feed for terminal outcomes of
// tracked lots. The feed is recency-descending, so a run of consecutive
// entries that match nothing tracked means the rest of the feed predates
// every published lot.
func (r *Reconciler) reconcileClosed(tracked map[string]*models.Lot, result *Result) error {
	if r.closed == nil {
		return nil
	}
	closed, err := r.closed.FetchClosed()
	if err != nil {
		return fmt.Errorf("failed to fetch closed-lots feed: %w", err)
	}

	misses := 0
	for i := range closed {
		entry := &closed[i]
		stored, ok := tracked[entry.Number]
		if !ok {
			misses++
			if misses >= MaxConsecutiveMisses {
				log.Printf("[Reconciler] %d consecutive unmatched closed entries, stopping scan at position %d of %d",
					misses, i+1, len(closed))
				break
			}
			continue
		}
		misses = 0

		status := entry.Status
		if !status.IsTerminal() {
			log.Printf("[Reconciler] Closed entry for lot %s has non-terminal status %q (%q), skipping",
				entry.Number, status, entry.RawStatus)
			continue
		}

		updated, err := r.store.UpdateStatus(entry.Number, status)
		if err != nil {
			log.Printf("[Reconciler] Failed to persist status for lot %s: %v", entry.Number, err)
			continue
		}
		if !updated {
			continue
		}

		oldStatus := string(stored.Status)
		log.Printf("[Reconciler] Lot %s reached terminal status %s (%q)", entry.Number, status, entry.RawStatus)
		r.recordChange(entry.Number, models.ChangeTypeStatus, oldStatus, string(status))
		result.StatusChanges++

		stored.Status = status
		r.editMappings(stored, result)

		r.notify(fmt.Sprintf("Лот %s завершен со статусом %s: %s\n%s",
			entry.Number, status, entry.RawStatus, stored.Link))
		// A terminal lot leaves the tracked set so a repeated feed entry
		// does not fire twice within the pass.
		delete(tracked, entry.Number)
	}
	return nil
}

// editMappings rewrites every published copy of the announcement. One
// failed edit does not stop the rest.
func (r *Reconciler) editMappings(lot *models.Lot, result *Result) {
	mappings, err := r.store.MessageMappings(lot.Number)
	if err != nil {
		log.Printf("[Reconciler] Failed to load message mappings for lot %s: %v", lot.Number, err)
		return
	}
	for _, m := range mappings {
		if err := r.editor.EditPublished(m.ChatID, m.MessageID, lot); err != nil {
			log.Printf("[Reconciler] Failed to edit message %d in chat %d for lot %s: %v",
				m.MessageID, m.ChatID, lot.Number, err)
			result.EditsFailed++
			continue
		}
		result.EditsApplied++
	}
}

func (r *Reconciler) recordChange(number, changeType, oldValue, newValue string) {
	change := models.LotChange{
		LotNumber:  number,
		ChangeType: changeType,
		OldValue:   oldValue,
		NewValue:   newValue,
		DetectedAt: time.Now(),
	}
	if err := r.store.RecordChanges([]models.LotChange{change}); err != nil {
		log.Printf("[Reconciler] Failed to record %s change for lot %s: %v", changeType, number, err)
	}
}

func (r *Reconciler) notify(text string) {
	if err := r.editor.NotifyOperators(text); err != nil {
		log.Printf("[Reconciler] Operator notification failed: %v", err)
	}
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}
