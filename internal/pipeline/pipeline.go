// Package pipeline runs one end-to-end cycle: scrape every enabled source,
// reconcile the already-published lots against the fresh observations,
// persist the candidates and publish what has not gone out yet.
package pipeline

import (
	"fmt"
	"log"
	"time"

	"auction-tracker/internal/delivery"
	"auction-tracker/internal/models"
	"auction-tracker/internal/reconcile"
	"auction-tracker/internal/scraper"
)

// Store is the repository view the orchestrator needs.
type Store interface {
	SaveLots(lots []models.Lot) error
	SelectUnsent(lots []models.Lot) ([]models.Lot, error)
	MarkSent(number string) error
	RecordMessageMapping(number string, messageID int, chatID int64) error
	RecordChanges(changes []models.LotChange) error
}

// Result summarizes one pipeline run.
type Result struct {
	Scraped        int
	SourceFailures int
	Published      int
	PublishFailed  int
	Reconcile      reconcile.Result
}

// Pipeline wires the adapters, the store, the publisher and the reconciler.
type Pipeline struct {
	adapters   []scraper.SourceAdapter
	store      Store
	publisher  delivery.Publisher
	reconciler *reconcile.Reconciler
	targetChat int64
	maxPublish int
}

func New(adapters []scraper.SourceAdapter, store Store, publisher delivery.Publisher,
	reconciler *reconcile.Reconciler, targetChat int64, maxPublish int) *Pipeline {
	return &Pipeline{
		adapters:   adapters,
		store:      store,
		publisher:  publisher,
		reconciler: reconciler,
		targetChat: targetChat,
		maxPublish: maxPublish,
	}
}

// Run executes one full cycle. Reconciliation runs before the upsert: the
// deadline diff needs the stored state as it was before this scrape, and
// SaveLots would overwrite it. A source that fails mid-run contributes the
// lots it extracted before failing; the cycle only errors out when the store
// itself is unusable.
func (p *Pipeline) Run(checkDuplicates, notifyOnAmbiguous bool) (Result, error) {
	var result Result

	fresh := p.scrapeAll(checkDuplicates, notifyOnAmbiguous, &result)
	log.Printf("[Pipeline] Scraped %d candidate lots from %d sources (%d source failures)",
		len(fresh), len(p.adapters), result.SourceFailures)

	if p.reconciler != nil {
		rec, err := p.reconciler.Run(fresh)
		result.Reconcile = rec
		if err != nil {
			log.Printf("[Pipeline] Reconciliation incomplete: %v", err)
		}
	}

	if err := p.store.SaveLots(fresh); err != nil {
		return result, fmt.Errorf("failed to persist scraped lots: %w", err)
	}

	unsent, err := p.store.SelectUnsent(fresh)
	if err != nil {
		return result, fmt.Errorf("failed to select unsent lots: %w", err)
	}
	p.publish(unsent, &result)

	log.Printf("[Pipeline] Run complete: %d published (%d failed), %d deadline changes, %d status changes",
		result.Published, result.PublishFailed,
		result.Reconcile.DeadlineChanges, result.Reconcile.StatusChanges)
	return result, nil
}

// scrapeAll runs the adapters in sequence. Adapters share one identity
// budget: lots collected by an earlier source count against maxPublish so a
// later source does not flood the run.
func (p *Pipeline) scrapeAll(checkDuplicates, notifyOnAmbiguous bool, result *Result) []models.Lot {
	var fresh []models.Lot
	seen := make(map[string]bool)

	for _, adapter := range p.adapters {
		remaining := 0
		if p.maxPublish > 0 {
			remaining = p.maxPublish - len(fresh)
			if remaining <= 0 {
				log.Printf("[Pipeline] Budget exhausted, skipping source %s", adapter.Name())
				break
			}
		}

		lots, err := adapter.Fetch(remaining, checkDuplicates, notifyOnAmbiguous)
		if err != nil {
			log.Printf("[Pipeline] Source %s failed: %v (keeping %d lots extracted before the failure)",
				adapter.Name(), err, len(lots))
			result.SourceFailures++
		}
		for i := range lots {
			if seen[lots[i].Number] {
				continue
			}
			seen[lots[i].Number] = true
			fresh = append(fresh, lots[i])
		}
	}
	result.Scraped = len(fresh)
	return fresh
}

// publish announces each unsent lot, records the message mapping and only
// then flips is_sent. A crash between the send and the flag leaves the lot
// unsent, which re-publishes rather than silently drops it.
func (p *Pipeline) publish(lots []models.Lot, result *Result) {
	for i := range lots {
		lot := &lots[i]
		messageID, err := p.publisher.Publish(p.targetChat, lot)
		if err != nil {
			log.Printf("[Pipeline] Failed to publish lot %s: %v", lot.Number, err)
			result.PublishFailed++
			continue
		}
		if err := p.store.RecordMessageMapping(lot.Number, messageID, p.targetChat); err != nil {
			log.Printf("[Pipeline] Failed to record message mapping for lot %s: %v", lot.Number, err)
		}
		if err := p.store.MarkSent(lot.Number); err != nil {
			log.Printf("[Pipeline] Failed to mark lot %s sent: %v", lot.Number, err)
			continue
		}
		change := models.LotChange{
			LotNumber:  lot.Number,
			ChangeType: models.ChangeTypeNew,
			NewValue:   lot.Title,
			DetectedAt: time.Now(),
		}
		if err := p.store.RecordChanges([]models.LotChange{change}); err != nil {
			log.Printf("[Pipeline] Failed to record new-lot change for %s: %v", lot.Number, err)
		}
		result.Published++
		log.Printf("[Pipeline] Published lot %s as message %d", lot.Number, messageID)
	}
}
