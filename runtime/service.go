package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aschepis/engramd/memory"
	"github.com/aschepis/engramd/profile"
	"github.com/aschepis/engramd/vector"
)

// Service is the embedding-facing surface of the memory subsystem. A host
// agent records turns with Record, asks Recall before answering, and uses
// the remaining methods for the management commands it exposes to users.
type Service struct {
	store     *memory.Store
	index     vector.Index
	filter    *memory.ContentFilter
	retriever *memory.Retriever
	deleter   *memory.Deleter
	exporter  *memory.Exporter
	intent    *memory.IntentGate
	tracker   *memory.ActivityTracker
	profiles  *profile.Manager
	logger    zerolog.Logger
}

// NewService wires the facade.
func NewService(
	store *memory.Store,
	index vector.Index,
	filter *memory.ContentFilter,
	retriever *memory.Retriever,
	deleter *memory.Deleter,
	exporter *memory.Exporter,
	intent *memory.IntentGate,
	tracker *memory.ActivityTracker,
	profiles *profile.Manager,
	logger zerolog.Logger,
) *Service {
	return &Service{
		store:     store,
		index:     index,
		filter:    filter,
		retriever: retriever,
		deleter:   deleter,
		exporter:  exporter,
		intent:    intent,
		tracker:   tracker,
		profiles:  profiles,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// Record persists one chat turn and updates activity state. Messages that
// fail the validity filter are dropped silently and return false.
func (s *Service) Record(ctx context.Context, msg *memory.RawMessage) (bool, error) {
	if !s.filter.Valid(msg.Content) {
		return false, nil
	}
	if err := s.store.SaveRawMessage(ctx, msg); err != nil {
		return false, fmt.Errorf("record message: %w", err)
	}
	s.tracker.Touch(msg.OwnerID)

	if msg.Role == memory.RoleUser {
		if err := s.profiles.TouchInteraction(msg.OwnerID); err != nil {
			// Stats are cosmetic; the message itself is already stored.
			s.logger.Debug().Err(err).Str("owner_id", msg.OwnerID).Msg("Interaction stats update failed")
		}
	}
	return true, nil
}

// Recall runs the intent gate and, when retrieval is warranted, returns the
// formatted memory lines to inject into the conversation. A nil slice means
// nothing relevant was found or the gate declined.
func (s *Service) Recall(ctx context.Context, ownerID, query string, limit int) ([]string, error) {
	if !s.intent.ShouldRetrieve(ctx, query) {
		return nil, nil
	}
	results, err := s.retriever.Retrieve(ctx, ownerID, query, limit)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return s.retriever.Format(results), nil
}

// Search retrieves memories without consulting the intent gate.
func (s *Service) Search(ctx context.Context, ownerID, query string, limit int) ([]memory.MemoryResult, error) {
	return s.retriever.Retrieve(ctx, ownerID, query, limit)
}

// Detail returns one memory with its raw messages, addressed by its position
// in the recent list (1 = newest).
func (s *Service) Detail(ctx context.Context, ownerID string, sequence int) (*memory.Summary, []memory.RawMessage, error) {
	return s.retriever.Detail(ctx, ownerID, sequence)
}

// DetailByID returns one memory addressed by full id or 8-char prefix.
func (s *Service) DetailByID(ctx context.Context, ownerID, idOrPrefix string) (*memory.Summary, []memory.RawMessage, error) {
	return s.retriever.DetailByID(ctx, ownerID, idOrPrefix)
}

// Recent lists the owner's newest summaries.
func (s *Service) Recent(ctx context.Context, ownerID string, limit int) ([]memory.Summary, error) {
	return s.store.RecentSummaries(ctx, ownerID, limit)
}

// Delete removes a memory by sequence position, keeping an undo snapshot.
func (s *Service) Delete(ctx context.Context, ownerID string, sequence int, deleteRaw bool) (string, error) {
	return s.deleter.DeleteBySequence(ctx, ownerID, sequence, deleteRaw)
}

// DeleteByID removes a memory by id or prefix, keeping an undo snapshot.
func (s *Service) DeleteByID(ctx context.Context, ownerID, idOrPrefix string, deleteRaw bool) (string, error) {
	return s.deleter.DeleteByID(ctx, ownerID, idOrPrefix, deleteRaw)
}

// Undo restores the owner's most recently deleted memory.
func (s *Service) Undo(ctx context.Context, ownerID string) (string, error) {
	return s.deleter.Undo(ctx, ownerID)
}

// Export renders an owner's message history in the given format. An empty
// ownerID exports everyone.
func (s *Service) Export(ctx context.Context, ownerID string, format memory.ExportFormat, start, end *time.Time, limit int) (string, memory.ExportStats, error) {
	return s.exporter.Export(ctx, ownerID, format, start, end, limit)
}

// Stats returns message counts for an owner, or for everyone when ownerID is
// empty.
func (s *Service) Stats(ctx context.Context, ownerID string) (memory.MessageStats, error) {
	return s.store.Stats(ctx, ownerID)
}

// Bond computes the owner's relationship level from their stored history
// and profile.
func (s *Service) Bond(ctx context.Context, ownerID string) (profile.BondLevel, error) {
	stats, err := s.store.Stats(ctx, ownerID)
	if err != nil {
		return profile.BondLevel{}, err
	}
	p, err := s.profiles.Load(ownerID)
	if err != nil {
		return profile.BondLevel{}, err
	}
	return profile.CalculateBond(stats.Total, p), nil
}

// Profile returns the owner's current profile.
func (s *Service) Profile(ownerID string) (*profile.Profile, error) {
	return s.profiles.Load(ownerID)
}

// ClearOwner erases everything known about an owner: raw messages,
// summaries, vector entries, profile, and activity state.
func (s *Service) ClearOwner(ctx context.Context, ownerID string) error {
	if err := s.store.ClearOwnerData(ctx, ownerID); err != nil {
		return err
	}
	if err := s.index.DeleteOwner(ctx, ownerID); err != nil {
		return err
	}
	if err := s.profiles.Clear(ownerID); err != nil {
		return err
	}
	s.tracker.Reset(ownerID)
	s.logger.Info().Str("owner_id", ownerID).Msg("Owner data cleared")
	return nil
}
