package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aschepis/engramd/llm"
	"github.com/aschepis/engramd/vector"
)

const (
	archiveMaxRetries = 3
	archiveRetryDelay = 2 * time.Second

	// Summaries shorter than this are treated as a failed generation.
	minSummaryRunes = 5
)

// ArchiverOptions configure the summarization pass.
type ArchiverOptions struct {
	MaxHistoryDays  int
	SummarizePrompt string
	SummarizeModel  string
	AIName          string
}

// Archiver folds unarchived raw messages into dated summaries. Messages are
// grouped by calendar day; each day is summarized by the LLM, indexed in the
// vector store, and linked into the owner's memory chain. Raw messages are
// marked archived only after their summary is fully committed, so a failed
// run leaves them eligible for the next pass.
type Archiver struct {
	store  *Store
	index  vector.Index
	client llm.Client
	filter *ContentFilter
	opts   ArchiverOptions
	logger zerolog.Logger
}

// NewArchiver creates an archiver.
func NewArchiver(store *Store, index vector.Index, client llm.Client, filter *ContentFilter, opts ArchiverOptions, logger zerolog.Logger) *Archiver {
	return &Archiver{
		store:  store,
		index:  index,
		client: client,
		filter: filter,
		opts:   opts,
		logger: logger.With().Str("component", "archiver").Logger(),
	}
}

type dayGroup struct {
	date time.Time
	msgs []RawMessage
}

// ArchiveOwner summarizes and archives one owner's pending messages.
func (a *Archiver) ArchiveOwner(ctx context.Context, ownerID string) error {
	msgs, err := a.store.UnarchivedByOwner(ctx, ownerID, 0)
	if err != nil {
		return fmt.Errorf("load unarchived messages: %w", err)
	}
	if len(msgs) == 0 {
		return nil
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})

	var cutoff time.Time
	if a.opts.MaxHistoryDays > 0 {
		cutoff = startOfDay(time.Now().AddDate(0, 0, -a.opts.MaxHistoryDays))
	}

	prevID := a.chainTail(ctx, ownerID)

	var (
		docs          []vector.Document
		summaries     []*Summary
		forcedIDs     []string
		summarizedIDs []string
	)

	for _, group := range groupByDay(msgs) {
		refIDs := messageIDs(group.msgs)

		// Days past the history horizon are archived untouched.
		if !cutoff.IsZero() && group.date.Before(cutoff) {
			forcedIDs = append(forcedIDs, refIDs...)
			continue
		}

		valid := a.validMessages(group.msgs)
		if len(valid) == 0 {
			forcedIDs = append(forcedIDs, refIDs...)
			continue
		}

		summaryText, err := a.summarizeDay(ctx, group.date, valid)
		if err != nil {
			a.logger.Error().Err(err).
				Str("owner_id", ownerID).
				Str("date", group.date.Format("2006-01-02")).
				Msg("Failed to summarize day, leaving messages for next pass")
			continue
		}

		createdAt := group.msgs[len(group.msgs)-1].Timestamp
		id := uuid.NewString()
		sum := &Summary{
			ID:         id,
			OwnerID:    ownerID,
			Text:       summaryText,
			RefIDs:     refIDs,
			SourceType: "private",
			CreatedAt:  createdAt,
		}
		if prevID != "" {
			p := prevID
			sum.PrevID = &p
		}
		summaries = append(summaries, sum)
		docs = append(docs, vector.Document{
			ID:      id,
			OwnerID: ownerID,
			Text:    summaryText,
			Metadata: map[string]string{
				"source_type": "private",
				"created_at":  FormatTimestamp(createdAt),
				"ai_name":     a.opts.AIName,
			},
		})
		prevID = id
		summarizedIDs = append(summarizedIDs, refIDs...)
	}

	if len(forcedIDs) > 0 {
		if err := a.store.SetArchived(ctx, forcedIDs, true); err != nil {
			return fmt.Errorf("archive stale messages: %w", err)
		}
	}
	if len(docs) == 0 {
		return nil
	}

	if err := a.addVectorsWithRetry(ctx, docs); err != nil {
		return fmt.Errorf("index summaries: %w", err)
	}
	for _, sum := range summaries {
		if err := a.store.CreateSummary(ctx, sum); err != nil {
			return fmt.Errorf("save summary: %w", err)
		}
	}
	if err := a.store.SetArchived(ctx, summarizedIDs, true); err != nil {
		return fmt.Errorf("archive summarized messages: %w", err)
	}

	a.logger.Info().
		Str("owner_id", ownerID).
		Int("summaries", len(summaries)).
		Int("messages", len(summarizedIDs)).
		Msg("Archived pending messages")
	return nil
}

// ArchiveAll runs the archival pass for every known owner, skipping system
// accounts. Returns the number of owners processed.
func (a *Archiver) ArchiveAll(ctx context.Context) (int, error) {
	ownerIDs, err := a.store.AllOwnerIDs(ctx)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, ownerID := range ownerIDs {
		if ctx.Err() != nil {
			a.logger.Debug().Msg("Global archive aborted")
			break
		}
		if ownerID == "" {
			continue
		}
		switch strings.ToLower(ownerID) {
		case "system", "assistant":
			continue
		}
		if err := a.ArchiveOwner(ctx, ownerID); err != nil {
			a.logger.Error().Err(err).Str("owner_id", ownerID).Msg("Force archive failed")
			continue
		}
		processed++
	}
	return processed, nil
}

func (a *Archiver) chainTail(ctx context.Context, ownerID string) string {
	latest, err := a.store.LatestSummary(ctx, ownerID)
	if err != nil {
		return ""
	}
	return latest.ID
}

func (a *Archiver) validMessages(msgs []RawMessage) []RawMessage {
	var valid []RawMessage
	for _, m := range msgs {
		if a.filter.Valid(m.Content) {
			valid = append(valid, m)
		}
	}
	return valid
}

// summarizeDay builds the day's transcript and asks the LLM for a summary,
// retrying transient failures. An empty or trivially short completion counts
// as a failure.
func (a *Archiver) summarizeDay(ctx context.Context, date time.Time, msgs []RawMessage) (string, error) {
	lines := []string{fmt.Sprintf("【日期：%s】", date.Format("2006-01-02"))}
	for _, m := range msgs {
		name := string(m.Role)
		if m.Role == RoleUser && m.AuthorName != "" {
			name = m.AuthorName
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", m.Timestamp.Format("15:04"), name, m.Content))
	}
	chatText := strings.Join(lines, "\n")

	prompt := strings.ReplaceAll(a.opts.SummarizePrompt, "{{chat_text}}", chatText)
	prompt = strings.ReplaceAll(prompt, "{{ai_name}}", a.opts.AIName)

	delay := archiveRetryDelay
	for attempt := 1; attempt <= archiveMaxRetries; attempt++ {
		text, err := a.client.Complete(ctx, &llm.Request{Prompt: prompt, Model: a.opts.SummarizeModel})
		if err == nil && len([]rune(strings.TrimSpace(text))) >= minSummaryRunes {
			return strings.TrimSpace(text), nil
		}
		if err != nil {
			a.logger.Warn().Err(err).Int("attempt", attempt).Msg("Summarization attempt failed")
		} else {
			a.logger.Warn().Int("attempt", attempt).Msg("Summarization attempt produced empty or too short result")
		}
		if attempt < archiveMaxRetries {
			if err := sleepCtx(ctx, delay); err != nil {
				return "", err
			}
			delay *= 2
		}
	}
	return "", fmt.Errorf("summarization failed after %d attempts", archiveMaxRetries)
}

func (a *Archiver) addVectorsWithRetry(ctx context.Context, docs []vector.Document) error {
	delay := archiveRetryDelay
	var lastErr error
	for attempt := 1; attempt <= archiveMaxRetries; attempt++ {
		lastErr = a.index.Add(ctx, docs)
		if lastErr == nil {
			a.logger.Info().Int("count", len(docs)).Msg("Batch indexed summaries")
			return nil
		}
		a.logger.Warn().Err(lastErr).
			Int("attempt", attempt).
			Int("max_attempts", archiveMaxRetries).
			Msg("Batch index failed, retrying")
		if attempt < archiveMaxRetries {
			if err := sleepCtx(ctx, delay); err != nil {
				return err
			}
			delay *= 2
		}
	}
	return lastErr
}

func groupByDay(msgs []RawMessage) []dayGroup {
	var groups []dayGroup
	for _, m := range msgs {
		day := startOfDay(m.Timestamp)
		if len(groups) > 0 && groups[len(groups)-1].date.Equal(day) {
			groups[len(groups)-1].msgs = append(groups[len(groups)-1].msgs, m)
			continue
		}
		groups = append(groups, dayGroup{date: day, msgs: []RawMessage{m}})
	}
	return groups
}

func messageIDs(msgs []RawMessage) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
