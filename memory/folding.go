package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aschepis/engramd/llm"
	"github.com/aschepis/engramd/vector"
)

// SourceTypeWeekly marks summaries produced by folding.
const SourceTypeWeekly = "weekly"

// FolderOptions configure weekly memory folding.
type FolderOptions struct {
	MinSamples    int
	FoldingPrompt string
	FoldingModel  string
}

// Folder compresses a window of daily summaries into a single weekly
// summary. Folding is strictly all-or-nothing: if the LLM fails, nothing is
// written and the daily summaries stay untouched.
type Folder struct {
	store  *Store
	index  vector.Index
	client llm.Client
	opts   FolderOptions
	logger zerolog.Logger
}

// NewFolder creates a folder.
func NewFolder(store *Store, index vector.Index, client llm.Client, opts FolderOptions, logger zerolog.Logger) *Folder {
	if opts.MinSamples <= 0 {
		opts.MinSamples = 3
	}
	return &Folder{
		store:  store,
		index:  index,
		client: client,
		opts:   opts,
		logger: logger.With().Str("component", "folder").Logger(),
	}
}

// FoldWeekly folds the owner's daily summaries from the past days into one
// weekly summary. Returns nil without error when there are too few summaries
// to fold or when generation fails.
func (f *Folder) FoldWeekly(ctx context.Context, ownerID string, days int) (*Summary, error) {
	if days <= 0 {
		days = 7
	}
	since := time.Now().AddDate(0, 0, -days)
	all, err := f.store.SummariesSince(ctx, ownerID, since)
	if err != nil {
		return nil, fmt.Errorf("load summaries: %w", err)
	}

	// Already folded weeks are not folded again.
	var daily []Summary
	for _, s := range all {
		if s.SourceType != SourceTypeWeekly {
			daily = append(daily, s)
		}
	}
	if len(daily) < f.opts.MinSamples {
		f.logger.Debug().
			Str("owner_id", ownerID).
			Int("count", len(daily)).
			Int("min_samples", f.opts.MinSamples).
			Msg("Not enough summaries to fold")
		return nil, nil
	}

	var lines []string
	for _, s := range daily {
		lines = append(lines, fmt.Sprintf("- [%s] %s", FormatTimestamp(s.CreatedAt), s.Text))
	}
	prompt := strings.ReplaceAll(f.opts.FoldingPrompt, "{{memory_texts}}", strings.Join(lines, "\n"))

	text, err := f.generate(ctx, prompt)
	if err != nil {
		f.logger.Error().Err(err).Str("owner_id", ownerID).Msg("Weekly folding aborted, nothing committed")
		return nil, nil
	}

	sum := &Summary{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		Text:       text,
		RefIDs:     summaryIDs(daily),
		SourceType: SourceTypeWeekly,
		CreatedAt:  time.Now(),
	}
	if latest, err := f.store.LatestSummary(ctx, ownerID); err == nil {
		p := latest.ID
		sum.PrevID = &p
	}

	if err := f.index.Add(ctx, []vector.Document{{
		ID:      sum.ID,
		OwnerID: ownerID,
		Text:    text,
		Metadata: map[string]string{
			"source_type": SourceTypeWeekly,
			"created_at":  FormatTimestamp(sum.CreatedAt),
		},
	}}); err != nil {
		return nil, fmt.Errorf("index weekly summary: %w", err)
	}
	if err := f.store.CreateSummary(ctx, sum); err != nil {
		return nil, fmt.Errorf("save weekly summary: %w", err)
	}

	f.logger.Info().
		Str("owner_id", ownerID).
		Int("folded", len(daily)).
		Msg("Weekly summary created")
	return sum, nil
}

func (f *Folder) generate(ctx context.Context, prompt string) (string, error) {
	delay := archiveRetryDelay
	for attempt := 1; attempt <= archiveMaxRetries; attempt++ {
		text, err := f.client.Complete(ctx, &llm.Request{Prompt: prompt, Model: f.opts.FoldingModel})
		if err == nil && len([]rune(strings.TrimSpace(text))) >= minSummaryRunes {
			return strings.TrimSpace(text), nil
		}
		if err != nil {
			f.logger.Warn().Err(err).Int("attempt", attempt).Msg("Folding attempt failed")
		} else {
			f.logger.Warn().Int("attempt", attempt).Msg("Folding attempt produced empty result")
		}
		if attempt < archiveMaxRetries {
			if err := sleepCtx(ctx, delay); err != nil {
				return "", err
			}
			delay *= 2
		}
	}
	return "", fmt.Errorf("folding failed after %d attempts", archiveMaxRetries)
}

func summaryIDs(summaries []Summary) []string {
	ids := make([]string, len(summaries))
	for i, s := range summaries {
		ids[i] = s.ID
	}
	return ids
}
