package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store manages raw message and summary persistence in SQLite.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore creates and returns a Store.
func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "memory_store").Logger(),
	}
}

// StatementBuilder returns a Squirrel StatementBuilder configured for SQLite.
// SQLite uses '?' placeholders, which is Squirrel's default.
func StatementBuilder() sq.StatementBuilderType {
	return sq.StatementBuilder
}

func summaryColumns() []string {
	return []string{"id", "owner_id", "summary", "ref_ids", "prev_id", "source_type", "active_score", "created_at"}
}

func rawMessageColumns() []string {
	return []string{"id", "owner_id", "session_id", "role", "author_name", "content", "msg_type", "is_archived", "timestamp"}
}

// SaveRawMessage persists a raw chat turn. A missing ID is generated.
func (s *Store) SaveRawMessage(ctx context.Context, msg *RawMessage) error {
	if msg == nil {
		return errors.New("message is nil")
	}
	if strings.TrimSpace(msg.Content) == "" {
		return errors.New("message content is empty")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.MsgType == "" {
		msg.MsgType = "text"
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	query := StatementBuilder().
		Insert("raw_messages").
		Columns(rawMessageColumns()...).
		Values(msg.ID, msg.OwnerID, msg.SessionID, string(msg.Role), msg.AuthorName,
			msg.Content, msg.MsgType, msg.Archived, msg.Timestamp.Unix())

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		s.logger.Error().Err(err).Str("owner_id", msg.OwnerID).Msg("Failed to insert raw message")
		return fmt.Errorf("insert raw message: %w", err)
	}
	s.logger.Debug().
		Str("id", msg.ID).
		Str("owner_id", msg.OwnerID).
		Str("role", string(msg.Role)).
		Msg("Raw message saved")
	return nil
}

// UnarchivedByOwner returns the owner's unarchived messages ordered newest
// first. limit <= 0 means no limit.
func (s *Store) UnarchivedByOwner(ctx context.Context, ownerID string, limit int) ([]RawMessage, error) {
	query := StatementBuilder().
		Select(rawMessageColumns()...).
		From("raw_messages").
		Where(sq.Eq{"owner_id": ownerID, "is_archived": false}).
		OrderBy("timestamp DESC")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}
	return s.queryRawMessages(ctx, query)
}

// SetArchived flips the archived flag for the given message ids.
func (s *Store) SetArchived(ctx context.Context, ids []string, archived bool) error {
	if len(ids) == 0 {
		return nil
	}
	query := StatementBuilder().
		Update("raw_messages").
		Set("is_archived", archived).
		Where(sq.Eq{"id": ids})
	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build archive update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("update archive flags: %w", err)
	}
	s.logger.Debug().Int("count", len(ids)).Bool("archived", archived).Msg("Archive flags updated")
	return nil
}

// RawMessagesByIDs batch-fetches messages by id, ordered oldest first.
func (s *Store) RawMessagesByIDs(ctx context.Context, ids []string) ([]RawMessage, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := StatementBuilder().
		Select(rawMessageColumns()...).
		From("raw_messages").
		Where(sq.Eq{"id": ids}).
		OrderBy("timestamp ASC")
	return s.queryRawMessages(ctx, query)
}

// DeleteRawMessages removes messages by id list.
func (s *Store) DeleteRawMessages(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := StatementBuilder().Delete("raw_messages").Where(sq.Eq{"id": ids})
	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build raw delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("delete raw messages: %w", err)
	}
	return nil
}

// AllRawMessages returns an owner's messages, optionally bounded by time
// range and count, ordered oldest first. An empty ownerID selects every owner.
func (s *Store) AllRawMessages(ctx context.Context, ownerID string, start, end *time.Time, limit int) ([]RawMessage, error) {
	query := StatementBuilder().
		Select(rawMessageColumns()...).
		From("raw_messages").
		OrderBy("timestamp ASC")
	if ownerID != "" {
		query = query.Where(sq.Eq{"owner_id": ownerID})
	}
	if start != nil {
		query = query.Where(sq.GtOrEq{"timestamp": start.Unix()})
	}
	if end != nil {
		query = query.Where(sq.LtOrEq{"timestamp": end.Unix()})
	}
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}
	return s.queryRawMessages(ctx, query)
}

// AllOwnerIDs lists the distinct owners with recorded messages.
func (s *Store) AllOwnerIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT owner_id FROM raw_messages`)
	if err != nil {
		return nil, fmt.Errorf("query owner ids: %w", err)
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stats computes per-owner message statistics by role and archived state.
func (s *Store) Stats(ctx context.Context, ownerID string) (MessageStats, error) {
	query := StatementBuilder().
		Select("role", "is_archived", "COUNT(*)").
		From("raw_messages").
		GroupBy("role", "is_archived")
	if ownerID != "" {
		query = query.Where(sq.Eq{"owner_id": ownerID})
	}
	queryStr, args, err := query.ToSql()
	if err != nil {
		return MessageStats{}, fmt.Errorf("build stats query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return MessageStats{}, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	var stats MessageStats
	for rows.Next() {
		var role string
		var archived bool
		var count int
		if err := rows.Scan(&role, &archived, &count); err != nil {
			return MessageStats{}, err
		}
		stats.Total += count
		if Role(role) == RoleAssistant {
			stats.AssistantMsgs += count
		} else {
			stats.UserMsgs += count
		}
		if archived {
			stats.Archived += count
		} else {
			stats.Unarchived += count
		}
	}
	return stats, rows.Err()
}

// CreateSummary persists a summary record. A missing ID is generated and a
// zero ActiveScore defaults to 100.
func (s *Store) CreateSummary(ctx context.Context, sum *Summary) error {
	if sum == nil {
		return errors.New("summary is nil")
	}
	if strings.TrimSpace(sum.Text) == "" {
		return errors.New("summary text is empty")
	}
	if sum.ID == "" {
		sum.ID = uuid.NewString()
	}
	if sum.SourceType == "" {
		sum.SourceType = "private"
	}
	if sum.ActiveScore == 0 {
		sum.ActiveScore = 100
	}
	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = time.Now()
	}

	refJSON, err := json.Marshal(sum.RefIDs)
	if err != nil {
		return fmt.Errorf("marshal ref ids: %w", err)
	}
	var prevVal interface{}
	if sum.PrevID != nil {
		prevVal = *sum.PrevID
	}

	query := StatementBuilder().
		Insert("summaries").
		Columns(summaryColumns()...).
		Values(sum.ID, sum.OwnerID, sum.Text, string(refJSON), prevVal,
			sum.SourceType, sum.ActiveScore, sum.CreatedAt.Unix())
	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build summary insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		s.logger.Error().Err(err).Str("owner_id", sum.OwnerID).Msg("Failed to insert summary")
		return fmt.Errorf("insert summary: %w", err)
	}
	s.logger.Info().
		Str("id", sum.ID).
		Str("owner_id", sum.OwnerID).
		Int("ref_count", len(sum.RefIDs)).
		Msg("Summary created")
	return nil
}

// GetSummary fetches one summary by id. Returns ErrNotFound for unknown ids.
func (s *Store) GetSummary(ctx context.Context, id string) (*Summary, error) {
	summaries, err := s.querySummaries(ctx, StatementBuilder().
		Select(summaryColumns()...).
		From("summaries").
		Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, fmt.Errorf("summary %s: %w", id, ErrNotFound)
	}
	return &summaries[0], nil
}

// FindSummaryByPrefix resolves a summary from a short id (8-char prefix) or a
// full id, scoped to one owner. Returns ErrNotFound when nothing matches.
func (s *Store) FindSummaryByPrefix(ctx context.Context, ownerID, idOrPrefix string) (*Summary, error) {
	query := StatementBuilder().
		Select(summaryColumns()...).
		From("summaries").
		Where(sq.Eq{"owner_id": ownerID})
	if len(idOrPrefix) == 8 {
		query = query.Where(sq.Like{"id": idOrPrefix + "%"})
	} else {
		query = query.Where(sq.Eq{"id": idOrPrefix})
	}
	summaries, err := s.querySummaries(ctx, query.Limit(1))
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, fmt.Errorf("summary %s: %w", idOrPrefix, ErrNotFound)
	}
	return &summaries[0], nil
}

// LatestSummary returns the owner's most recent summary, used for chain
// linking. Returns ErrNotFound when the owner has no summaries yet.
func (s *Store) LatestSummary(ctx context.Context, ownerID string) (*Summary, error) {
	summaries, err := s.querySummaries(ctx, StatementBuilder().
		Select(summaryColumns()...).
		From("summaries").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("created_at DESC").
		Limit(1))
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, fmt.Errorf("latest summary for %s: %w", ownerID, ErrNotFound)
	}
	return &summaries[0], nil
}

// RecentSummaries returns the owner's summaries newest first.
func (s *Store) RecentSummaries(ctx context.Context, ownerID string, limit int) ([]Summary, error) {
	query := StatementBuilder().
		Select(summaryColumns()...).
		From("summaries").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("created_at DESC")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}
	return s.querySummaries(ctx, query)
}

// SummariesSince returns the owner's summaries created at or after since.
func (s *Store) SummariesSince(ctx context.Context, ownerID string, since time.Time) ([]Summary, error) {
	return s.querySummaries(ctx, StatementBuilder().
		Select(summaryColumns()...).
		From("summaries").
		Where(sq.Eq{"owner_id": ownerID}).
		Where(sq.GtOrEq{"created_at": since.Unix()}).
		OrderBy("created_at ASC"))
}

// SummariesInRange returns the owner's summaries with start <= created_at < end.
func (s *Store) SummariesInRange(ctx context.Context, ownerID string, start, end time.Time) ([]Summary, error) {
	return s.querySummaries(ctx, StatementBuilder().
		Select(summaryColumns()...).
		From("summaries").
		Where(sq.Eq{"owner_id": ownerID}).
		Where(sq.GtOrEq{"created_at": start.Unix()}).
		Where(sq.Lt{"created_at": end.Unix()}).
		OrderBy("created_at ASC"))
}

// SummariesByIDs batch-fetches summaries, keyed by id. Missing ids are simply
// absent from the map.
func (s *Store) SummariesByIDs(ctx context.Context, ids []string) (map[string]*Summary, error) {
	result := make(map[string]*Summary, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	summaries, err := s.querySummaries(ctx, StatementBuilder().
		Select(summaryColumns()...).
		From("summaries").
		Where(sq.Eq{"id": ids}))
	if err != nil {
		return nil, err
	}
	for i := range summaries {
		result[summaries[i].ID] = &summaries[i]
	}
	if len(result) < len(ids) {
		s.logger.Warn().
			Int("requested", len(ids)).
			Int("loaded", len(result)).
			Msg("Some summary ids were not found")
	}
	return result, nil
}

// DeleteSummary removes one summary row.
func (s *Store) DeleteSummary(ctx context.Context, id string) error {
	query := StatementBuilder().Delete("summaries").Where(sq.Eq{"id": id})
	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build summary delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("delete summary: %w", err)
	}
	return nil
}

// AdjustActiveScore adds delta to one summary's active score.
func (s *Store) AdjustActiveScore(ctx context.Context, id string, delta int) error {
	queryStr := `UPDATE summaries SET active_score = active_score + ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, queryStr, delta, id); err != nil {
		return fmt.Errorf("adjust active score: %w", err)
	}
	return nil
}

// DecayActiveScores subtracts rate from every summary's active score.
func (s *Store) DecayActiveScores(ctx context.Context, rate int) error {
	if rate <= 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE summaries SET active_score = active_score - ?`, rate); err != nil {
		return fmt.Errorf("decay active scores: %w", err)
	}
	s.logger.Debug().Int("rate", rate).Msg("Active scores decayed")
	return nil
}

// SummaryIDsBelowScore lists prune candidates whose active score fell below
// threshold.
func (s *Store) SummaryIDsBelowScore(ctx context.Context, threshold int) ([]string, error) {
	query := StatementBuilder().
		Select("id").
		From("summaries").
		Where(sq.Lt{"active_score": threshold})
	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build prune query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query prune candidates: %w", err)
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClearOwnerData removes all raw messages and summaries for one owner.
func (s *Store) ClearOwnerData(ctx context.Context, ownerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"raw_messages", "summaries"} {
		queryStr, args, err := StatementBuilder().Delete(table).Where(sq.Eq{"owner_id": ownerID}).ToSql()
		if err != nil {
			return fmt.Errorf("build clear query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, queryStr, args...); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Info().Str("owner_id", ownerID).Msg("Owner data cleared")
	return nil
}

func (s *Store) queryRawMessages(ctx context.Context, query sq.SelectBuilder) ([]RawMessage, error) {
	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query raw messages: %w", err)
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	var msgs []RawMessage
	for rows.Next() {
		var (
			m          RawMessage
			role       string
			authorName sql.NullString
			ts         int64
		)
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.SessionID, &role, &authorName,
			&m.Content, &m.MsgType, &m.Archived, &ts); err != nil {
			return nil, err
		}
		m.Role = Role(role)
		if authorName.Valid {
			m.AuthorName = authorName.String
		}
		m.Timestamp = time.Unix(ts, 0)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *Store) querySummaries(ctx context.Context, query sq.SelectBuilder) ([]Summary, error) {
	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	var summaries []Summary
	for rows.Next() {
		var (
			sum     Summary
			refJSON string
			prevID  sql.NullString
			created int64
		)
		if err := rows.Scan(&sum.ID, &sum.OwnerID, &sum.Text, &refJSON, &prevID,
			&sum.SourceType, &sum.ActiveScore, &created); err != nil {
			return nil, err
		}
		if refJSON != "" {
			if err := json.Unmarshal([]byte(refJSON), &sum.RefIDs); err != nil {
				sum.RefIDs = nil
			}
		}
		if prevID.Valid {
			v := prevID.String
			sum.PrevID = &v
		}
		sum.CreatedAt = time.Unix(created, 0)
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}
