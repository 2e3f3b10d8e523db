package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aschepis/engramd/vector"
)

const maxUndoHistory = 3

// deleteRecord snapshots everything needed to reverse a summary deletion.
type deleteRecord struct {
	summary    Summary
	vectorDoc  *vector.Document
	rawIDs     []string
	deletedRaw bool
}

// Deleter removes summaries with undo support. Each owner has a bounded ring
// of recent deletions; the oldest snapshot falls off when the ring is full.
type Deleter struct {
	store  *Store
	index  vector.Index
	logger zerolog.Logger

	mu      sync.Mutex
	history map[string][]deleteRecord
}

// NewDeleter creates a deleter.
func NewDeleter(store *Store, index vector.Index, logger zerolog.Logger) *Deleter {
	return &Deleter{
		store:   store,
		index:   index,
		logger:  logger.With().Str("component", "deleter").Logger(),
		history: make(map[string][]deleteRecord),
	}
}

// DeleteBySequence deletes the sequence-th most recent memory (1-based).
// When deleteRaw is false the source messages are marked unarchived so a
// later archival pass can re-summarize them. Returns the deleted summary
// text.
func (d *Deleter) DeleteBySequence(ctx context.Context, ownerID string, sequence int, deleteRaw bool) (string, error) {
	if sequence <= 0 {
		return "", fmt.Errorf("sequence must be positive")
	}
	summaries, err := d.store.RecentSummaries(ctx, ownerID, sequence+2)
	if err != nil {
		return "", err
	}
	if len(summaries) < sequence {
		return "", fmt.Errorf("memory #%d: %w", sequence, ErrNotFound)
	}
	return d.delete(ctx, &summaries[sequence-1], deleteRaw)
}

// DeleteByID deletes a memory by short id prefix or full id.
func (d *Deleter) DeleteByID(ctx context.Context, ownerID, idOrPrefix string, deleteRaw bool) (string, error) {
	target, err := d.store.FindSummaryByPrefix(ctx, ownerID, idOrPrefix)
	if err != nil {
		return "", err
	}
	return d.delete(ctx, target, deleteRaw)
}

func (d *Deleter) delete(ctx context.Context, target *Summary, deleteRaw bool) (string, error) {
	record := deleteRecord{
		summary:    *target,
		rawIDs:     append([]string(nil), target.RefIDs...),
		deletedRaw: deleteRaw,
	}

	// Vector snapshot is best-effort: undo can re-embed if it is missing.
	if doc, err := d.index.Get(ctx, target.ID); err != nil {
		d.logger.Debug().Err(err).Str("id", target.ID).Msg("Failed to snapshot vector data")
	} else {
		record.vectorDoc = doc
	}

	if err := d.index.Delete(ctx, target.ID); err != nil {
		return "", fmt.Errorf("delete vector entry: %w", err)
	}

	if deleteRaw {
		if len(target.RefIDs) > 0 {
			if err := d.store.DeleteRawMessages(ctx, target.RefIDs); err != nil {
				return "", fmt.Errorf("delete raw messages: %w", err)
			}
		}
	} else if len(target.RefIDs) > 0 {
		// Keep the source messages available for re-summarization.
		if err := d.store.SetArchived(ctx, target.RefIDs, false); err != nil {
			return "", fmt.Errorf("unarchive raw messages: %w", err)
		}
	}

	if err := d.store.DeleteSummary(ctx, target.ID); err != nil {
		return "", fmt.Errorf("delete summary: %w", err)
	}

	// Only a fully committed deletion becomes undoable; a snapshot of a
	// still-live summary would make Undo recreate a duplicate.
	d.push(target.OwnerID, record)

	d.logger.Info().
		Str("owner_id", target.OwnerID).
		Str("id", shortID(target.ID)).
		Bool("delete_raw", deleteRaw).
		Msg("Memory deleted")
	return target.Text, nil
}

// Undo reverses the owner's most recent deletion. A failed undo puts the
// snapshot back so it can be retried. Returns the restored summary text.
func (d *Deleter) Undo(ctx context.Context, ownerID string) (string, error) {
	record, ok := d.pop(ownerID)
	if !ok {
		return "", fmt.Errorf("undo for %s: %w", ownerID, ErrNotFound)
	}

	if err := d.restore(ctx, record); err != nil {
		d.pushFront(ownerID, record)
		return "", err
	}
	d.logger.Info().
		Str("owner_id", ownerID).
		Str("id", shortID(record.summary.ID)).
		Msg("Deletion undone")
	return record.summary.Text, nil
}

func (d *Deleter) restore(ctx context.Context, record deleteRecord) error {
	sum := record.summary
	if err := d.store.CreateSummary(ctx, &sum); err != nil {
		return fmt.Errorf("restore summary: %w", err)
	}

	doc := vector.Document{
		ID:      record.summary.ID,
		OwnerID: record.summary.OwnerID,
		Text:    record.summary.Text,
		Metadata: map[string]string{
			"source_type": record.summary.SourceType,
			"created_at":  FormatTimestamp(record.summary.CreatedAt),
		},
	}
	if record.vectorDoc != nil && len(record.vectorDoc.Embedding) > 0 {
		doc.Text = record.vectorDoc.Text
		doc.Metadata = record.vectorDoc.Metadata
		doc.Embedding = record.vectorDoc.Embedding
	}
	if err := d.index.Add(ctx, []vector.Document{doc}); err != nil {
		return fmt.Errorf("restore vector entry: %w", err)
	}

	if len(record.rawIDs) > 0 && !record.deletedRaw {
		if err := d.store.SetArchived(ctx, record.rawIDs, true); err != nil {
			d.logger.Debug().Err(err).Msg("Failed to restore raw message archive flags")
		}
	}
	return nil
}

func (d *Deleter) push(ownerID string, record deleteRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ring := append([]deleteRecord{record}, d.history[ownerID]...)
	if len(ring) > maxUndoHistory {
		ring = ring[:maxUndoHistory]
	}
	d.history[ownerID] = ring
}

func (d *Deleter) pushFront(ownerID string, record deleteRecord) {
	d.push(ownerID, record)
}

func (d *Deleter) pop(ownerID string) (deleteRecord, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ring := d.history[ownerID]
	if len(ring) == 0 {
		return deleteRecord{}, false
	}
	record := ring[0]
	d.history[ownerID] = ring[1:]
	return record, true
}
