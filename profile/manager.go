package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/aschepis/engramd/llm"
	"github.com/aschepis/engramd/memory"
)

const defaultUpdatePrompt = `你是一个用户画像分析助手。下面是用户当前的画像和最近的记忆摘要。
请根据记忆内容更新画像，输出完整的画像 JSON。
只根据记忆中明确提到的信息更新，不要猜测或编造。
保持原有 JSON 结构不变。

当前画像：
{{current_persona}}

最近记忆：
{{memory_texts}}

请输出更新后的画像 JSON：`

// ManagerOptions tune the daily profile update.
type ManagerOptions struct {
	// MinUpdateMemories skips the update when fewer summaries exist for the
	// period, to avoid churning the profile on thin evidence.
	MinUpdateMemories int
	UpdatePrompt      string
	Model             string
}

// Manager runs the LLM-driven profile updates, routing every proposed change
// through the guardian before it is persisted.
type Manager struct {
	store    *Store
	guardian *Guardian
	memories *memory.Store
	client   llm.Client
	opts     ManagerOptions
	logger   zerolog.Logger
}

// NewManager wires a profile manager.
func NewManager(store *Store, guardian *Guardian, memories *memory.Store, client llm.Client, opts ManagerOptions, logger zerolog.Logger) *Manager {
	if opts.MinUpdateMemories <= 0 {
		opts.MinUpdateMemories = 3
	}
	if opts.UpdatePrompt == "" {
		opts.UpdatePrompt = defaultUpdatePrompt
	}
	return &Manager{
		store:    store,
		guardian: guardian,
		memories: memories,
		client:   client,
		opts:     opts,
		logger:   logger.With().Str("component", "profile_manager").Logger(),
	}
}

// Load returns the owner's current profile.
func (m *Manager) Load(ownerID string) (*Profile, error) {
	return m.store.Load(ownerID)
}

// Clear removes the owner's profile.
func (m *Manager) Clear(ownerID string) error {
	return m.store.Clear(ownerID)
}

// UpdateDaily rebuilds the owner's profile from the summaries created in
// [start, end). It returns the conflicts the guardian blocked, or nil when
// too few summaries exist to justify an update.
func (m *Manager) UpdateDaily(ctx context.Context, ownerID string, start, end time.Time) ([]Conflict, error) {
	summaries, err := m.memories.SummariesInRange(ctx, ownerID, start, end)
	if err != nil {
		return nil, fmt.Errorf("load summaries for profile update: %w", err)
	}
	if len(summaries) < m.opts.MinUpdateMemories {
		m.logger.Debug().
			Str("owner_id", ownerID).
			Int("summaries", len(summaries)).
			Int("min", m.opts.MinUpdateMemories).
			Msg("Too few summaries, skipping profile update")
		return nil, nil
	}

	current, err := m.store.Load(ownerID)
	if err != nil {
		return nil, err
	}

	lines := lo.Map(summaries, func(s memory.Summary, _ int) string {
		return "- " + s.Text
	})
	memoryTexts := strings.Join(lines, "\n")

	currentJSON, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode current profile: %w", err)
	}

	prompt := strings.NewReplacer(
		"{{current_persona}}", string(currentJSON),
		"{{memory_texts}}", memoryTexts,
	).Replace(m.opts.UpdatePrompt)

	resp, err := m.client.Complete(ctx, &llm.Request{Prompt: prompt, Model: m.opts.Model})
	if err != nil {
		return nil, fmt.Errorf("profile update completion: %w", err)
	}

	raw, err := llm.ExtractJSON(resp)
	if err != nil {
		return nil, fmt.Errorf("profile update response: %w", err)
	}
	var update Profile
	if err := json.Unmarshal([]byte(raw), &update); err != nil {
		return nil, fmt.Errorf("parse profile update: %w", err)
	}

	merged := mergeProfile(current, &update)
	validated, conflicts := m.guardian.ValidateUpdate(current, merged, memoryTexts)

	if err := m.store.Save(ownerID, validated); err != nil {
		return conflicts, err
	}
	m.logger.Info().
		Str("owner_id", ownerID).
		Int("summaries", len(summaries)).
		Int("conflicts", len(conflicts)).
		Msg("Profile updated")
	return conflicts, nil
}

// TouchInteraction records one valid chat for the owner: total count, first
// and last chat dates, and the distinct-day counter.
func (m *Manager) TouchInteraction(ownerID string) error {
	p, err := m.store.Load(ownerID)
	if err != nil {
		return err
	}

	today := time.Now().Format("2006-01-02")
	stats := &p.SocialGraph.InteractionStats
	stats.TotalValidChats++
	switch {
	case stats.FirstChatDate == "":
		stats.FirstChatDate = today
		stats.TotalChatDays = 1
	case stats.LastChatDate != today:
		stats.TotalChatDays++
	}
	stats.LastChatDate = today

	return m.store.Save(ownerID, p)
}

// mergeProfile layers the LLM's partial update over the current profile:
// lists are deduplicating unions, maps merge one level deep, and scalars
// from the update win when present. Pending proposals and interaction stats
// stay with the current profile; the guardian owns both.
func mergeProfile(current, update *Profile) *Profile {
	merged := &Profile{
		BasicInfo:        mergeScalarMap(current.BasicInfo, update.BasicInfo),
		Attributes:       mergeListMap(current.Attributes, update.Attributes),
		Preferences:      mergeListMap(current.Preferences, update.Preferences),
		DevMetadata:      mergeListMap(current.DevMetadata, update.DevMetadata),
		SharedSecrets:    current.SharedSecrets || update.SharedSecrets,
		PendingProposals: current.PendingProposals,
	}

	merged.SocialGraph = current.SocialGraph
	if update.SocialGraph.RelationshipStatus != "" {
		merged.SocialGraph.RelationshipStatus = update.SocialGraph.RelationshipStatus
	}
	merged.SocialGraph.ImportantPeople = lo.Union(
		current.SocialGraph.ImportantPeople,
		update.SocialGraph.ImportantPeople,
	)
	return merged
}

func mergeScalarMap(current, update map[string]string) map[string]string {
	merged := make(map[string]string, len(current)+len(update))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range update {
		if v != "" {
			merged[k] = v
		}
	}
	return merged
}

func mergeListMap(current, update map[string][]string) map[string][]string {
	merged := make(map[string][]string, len(current)+len(update))
	for k, v := range current {
		merged[k] = append([]string(nil), v...)
	}
	for k, v := range update {
		merged[k] = lo.Union(merged[k], v)
	}
	return merged
}
