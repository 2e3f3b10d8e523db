package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aschepis/engramd/vector"
)

const (
	// Over-fetch factor for reranking headroom.
	candidateMultiplier = 3
	candidateMax        = 15

	snippetRunes     = 24
	timelineMaxRunes = 80
	previewRunes     = 60
	previewMessages  = 2
)

// RetrieverOptions tune chain assembly and result presentation.
type RetrieverOptions struct {
	ContextWindow      int
	EnableContextHint  bool
	ReinforceBonus     int
	ShowRelevanceScore bool
	DefaultLimit       int
}

// Retriever answers memory queries: vector search, keyword fusion, memory
// chain assembly, and recall reinforcement.
type Retriever struct {
	store  *Store
	index  vector.Index
	ranker *Ranker
	filter *ContentFilter
	opts   RetrieverOptions
	logger zerolog.Logger
}

// NewRetriever creates a retriever.
func NewRetriever(store *Store, index vector.Index, ranker *Ranker, filter *ContentFilter, opts RetrieverOptions, logger zerolog.Logger) *Retriever {
	if opts.ContextWindow < 0 {
		opts.ContextWindow = 0
	}
	if opts.ContextWindow > 5 {
		opts.ContextWindow = 5
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 3
	}
	return &Retriever{
		store:  store,
		index:  index,
		ranker: ranker,
		filter: filter,
		opts:   opts,
		logger: logger.With().Str("component", "retriever").Logger(),
	}
}

// Retrieve returns the owner's most relevant memories for query, best first.
// Each returned memory is reinforced so frequently recalled memories resist
// decay.
func (r *Retriever) Retrieve(ctx context.Context, ownerID, query string, limit int) ([]MemoryResult, error) {
	if limit <= 0 {
		limit = r.opts.DefaultLimit
	}

	n := limit * candidateMultiplier
	if n > candidateMax {
		n = candidateMax
	}
	hits, err := r.index.Search(ctx, ownerID, query, n)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	candidates := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		candidates = append(candidates, Candidate{
			ID:       h.ID,
			Text:     h.Text,
			Metadata: h.Metadata,
			Distance: h.Distance,
		})
	}

	keywords := r.ranker.tokenizer.Extract(query)
	fused := r.ranker.opts.EnableKeywordBoost && len(keywords) > 0 && len(candidates) > 1

	ranked := r.ranker.Rank(query, candidates, limit)
	if len(ranked) == 0 {
		return nil, nil
	}

	results, err := r.assemble(ctx, ranked, fused)
	if err != nil {
		return nil, err
	}

	if len(results) > 0 && r.opts.ReinforceBonus > 0 {
		for _, res := range results {
			if err := r.store.AdjustActiveScore(ctx, res.ID, r.opts.ReinforceBonus); err != nil {
				r.logger.Debug().Err(err).Str("id", res.ShortID).Msg("Failed to reinforce memory")
			}
		}
	}

	return results, nil
}

// assemble turns ranked candidates into presentable results with timeline
// hints and raw message previews. All database access is batched.
func (r *Retriever) assemble(ctx context.Context, ranked []Candidate, fused bool) ([]MemoryResult, error) {
	ids := make([]string, len(ranked))
	for i, c := range ranked {
		ids[i] = c.ID
	}
	summaryMap, err := r.store.SummariesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load summaries: %w", err)
	}

	ancestors := r.loadAncestors(ctx, ids, summaryMap)
	rawMap := r.loadRawMessages(ctx, ids, summaryMap)

	bestRRF := ranked[0].RRFScore

	results := make([]MemoryResult, 0, len(ranked))
	for _, c := range ranked {
		res := MemoryResult{
			ID:               c.ID,
			ShortID:          shortID(c.ID),
			Text:             c.Text,
			RelevancePercent: RelevancePercent(c, bestRRF, fused),
		}
		if created, ok := c.Metadata["created_at"]; ok {
			res.CreatedAt = created
		}

		sum := summaryMap[c.ID]
		if sum != nil {
			res.ContextHint = r.contextHint(sum, ancestors)
			res.RawPreview = r.rawPreview(sum, rawMap)
		}
		results = append(results, res)
	}
	return results, nil
}

// loadAncestors walks prev links up to the configured window, one batched
// query per hop, and returns every ancestor summary encountered.
func (r *Retriever) loadAncestors(ctx context.Context, ids []string, summaryMap map[string]*Summary) map[string]*Summary {
	ancestors := make(map[string]*Summary)
	if !r.opts.EnableContextHint || r.opts.ContextWindow == 0 {
		return ancestors
	}

	var frontier []string
	for _, id := range ids {
		if sum := summaryMap[id]; sum != nil && sum.PrevID != nil {
			frontier = append(frontier, *sum.PrevID)
		}
	}

	for hop := 0; hop < r.opts.ContextWindow && len(frontier) > 0; hop++ {
		prevMap, err := r.store.SummariesByIDs(ctx, frontier)
		if err != nil {
			r.logger.Warn().Err(err).Msg("Failed to load memory chain ancestors")
			break
		}
		var next []string
		for id, sum := range prevMap {
			ancestors[id] = sum
			if sum.PrevID != nil {
				next = append(next, *sum.PrevID)
			}
		}
		frontier = next
	}
	return ancestors
}

// loadRawMessages batch-fetches the source messages referenced by each
// summary and keys them by message id.
func (r *Retriever) loadRawMessages(ctx context.Context, ids []string, summaryMap map[string]*Summary) map[string]RawMessage {
	var allRefs []string
	for _, id := range ids {
		if sum := summaryMap[id]; sum != nil {
			allRefs = append(allRefs, sum.RefIDs...)
		}
	}
	rawMap := make(map[string]RawMessage)
	if len(allRefs) == 0 {
		return rawMap
	}
	msgs, err := r.store.RawMessagesByIDs(ctx, allRefs)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Failed to load raw messages for preview")
		return rawMap
	}
	for _, m := range msgs {
		rawMap[m.ID] = m
	}
	return rawMap
}

// contextHint renders the timeline of up to ContextWindow preceding memories
// as a parenthesized recap line.
func (r *Retriever) contextHint(sum *Summary, ancestors map[string]*Summary) string {
	if !r.opts.EnableContextHint || r.opts.ContextWindow == 0 {
		return ""
	}
	var snippets []string
	prevID := sum.PrevID
	for hop := 0; hop < r.opts.ContextWindow; hop++ {
		if prevID == nil {
			break
		}
		prev := ancestors[*prevID]
		if prev == nil {
			break
		}
		snippets = append(snippets, snippet(prev.Text))
		prevID = prev.PrevID
	}
	if len(snippets) == 0 {
		return ""
	}
	timeline := strings.Join(snippets, " → ")
	if runes := []rune(timeline); len(runes) > timelineMaxRunes {
		timeline = string(runes[:timelineMaxRunes-3]) + "..."
	}
	return fmt.Sprintf("（前情提要：%s）", timeline)
}

// rawPreview renders up to two valid source messages as an indented excerpt
// block.
func (r *Retriever) rawPreview(sum *Summary, rawMap map[string]RawMessage) string {
	if len(sum.RefIDs) == 0 {
		return ""
	}
	var lines []string
	for _, refID := range sum.RefIDs {
		if len(lines) >= previewMessages {
			break
		}
		msg, ok := rawMap[refID]
		if !ok || !r.filter.Valid(msg.Content) {
			continue
		}
		lines = append(lines, truncateRunes(msg.Content, previewRunes))
	}
	if len(lines) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n   └ 📄 相关原文：\n")
	for i, text := range lines {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(fmt.Sprintf("      %d) %s", i+1, text))
	}
	return sb.String()
}

// Format renders results as the display block used in chat responses.
func (r *Retriever) Format(results []MemoryResult) []string {
	formatted := make([]string, 0, len(results))
	for _, res := range results {
		badge := ""
		if r.opts.ShowRelevanceScore {
			badge = fmt.Sprintf("🎯 %d%% | ", res.RelevancePercent)
		}
		created := res.CreatedAt
		if created == "" {
			created = "未知时间"
		}
		formatted = append(formatted, fmt.Sprintf("%s🆔 %s | ⏰ %s\n📝 归档：%s%s%s",
			badge, res.ShortID, created, res.Text, res.ContextHint, res.RawPreview))
	}
	return formatted
}

// Detail returns the sequence-th most recent memory (1-based) together with
// its source messages.
func (r *Retriever) Detail(ctx context.Context, ownerID string, sequence int) (*Summary, []RawMessage, error) {
	if sequence <= 0 {
		return nil, nil, fmt.Errorf("sequence must be positive")
	}
	summaries, err := r.store.RecentSummaries(ctx, ownerID, sequence+2)
	if err != nil {
		return nil, nil, err
	}
	if len(summaries) < sequence {
		return nil, nil, fmt.Errorf("memory #%d: %w", sequence, ErrNotFound)
	}
	target := summaries[sequence-1]
	msgs, err := r.store.RawMessagesByIDs(ctx, target.RefIDs)
	if err != nil {
		return nil, nil, err
	}
	return &target, msgs, nil
}

// DetailByID resolves a memory by short id prefix or full id.
func (r *Retriever) DetailByID(ctx context.Context, ownerID, idOrPrefix string) (*Summary, []RawMessage, error) {
	target, err := r.store.FindSummaryByPrefix(ctx, ownerID, idOrPrefix)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := r.store.RawMessagesByIDs(ctx, target.RefIDs)
	if err != nil {
		return nil, nil, err
	}
	return target, msgs, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func snippet(text string) string {
	text = strings.ReplaceAll(text, "\n", " ")
	return truncateRunes(text, snippetRunes)
}

func truncateRunes(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}

// FormatTimestamp renders a time the way summary metadata stores it.
func FormatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}
