package profile

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Mutually exclusive preference word sets. An item drawn from one side
// conflicts with an existing item from the other side.
var conflictPairs = []struct {
	positive []string
	negative []string
}{
	{[]string{"喜欢", "爱", "最爱", "超爱"}, []string{"讨厌", "不喜欢", "恨", "反感", "厌恶"}},
	{[]string{"外向", "活泼", "开朗"}, []string{"内向", "安静", "害羞"}},
	{[]string{"严谨", "认真", "细心"}, []string{"粗心", "随意", "马虎"}},
	{[]string{"吃肉", "肉食"}, []string{"素食", "吃素"}},
	{[]string{"猫", "养猫", "喜欢猫"}, []string{"猫毛过敏", "对猫过敏"}},
	{[]string{"狗", "养狗", "喜欢狗"}, []string{"狗毛过敏", "对狗过敏"}},
}

// Referents that make "allergic to X" clash with "likes X".
var allergyReferents = []string{"猫", "狗", "花生", "海鲜", "芒果"}

// basic_info fields only the system may write.
var fullyProtectedFields = []string{
	"qq_id", "nickname", "avatar_url", "signature",
	"birthday", "constellation", "zodiac",
}

// basic_info fields the LLM may change only with strong evidence.
var evidenceProtectedFields = []string{"gender", "age", "location", "job"}

// GuardianOptions tune the hallucination blocking behavior.
type GuardianOptions struct {
	EnableConfidence         bool
	ConfidenceThreshold      int
	EnableConflictDetection  bool
	EnableEvidenceProtection bool
}

// Guardian reconciles an LLM-proposed profile against the current one,
// blocking hallucinated changes: protected fields stay system-owned, new
// attributes wait in a proposal pool until repeatedly confirmed, and
// contradictory preferences are rejected in favor of the existing value.
type Guardian struct {
	opts   GuardianOptions
	logger zerolog.Logger
}

// NewGuardian creates a guardian.
func NewGuardian(opts GuardianOptions, logger zerolog.Logger) *Guardian {
	if opts.ConfidenceThreshold < 1 {
		opts.ConfidenceThreshold = 2
	}
	return &Guardian{
		opts:   opts,
		logger: logger.With().Str("component", "profile_guardian").Logger(),
	}
}

// ValidateUpdate filters proposed against current and returns the safe
// profile plus any detected conflicts. memoryTexts is the raw evidence the
// proposal was derived from.
func (g *Guardian) ValidateUpdate(current, proposed *Profile, memoryTexts string) (*Profile, []Conflict) {
	if current == nil {
		current = &Profile{}
	}
	if proposed == nil {
		proposed = &Profile{}
	}

	validated := &Profile{}
	var conflicts []Conflict

	validated.BasicInfo = g.protectBasicInfo(current.BasicInfo, proposed.BasicInfo, memoryTexts)

	attrs, proposals := g.processAttributes(current.Attributes, proposed.Attributes, current.PendingProposals)
	validated.Attributes = attrs
	validated.PendingProposals = proposals

	validated.Preferences = g.mergePreferences(current.Preferences, proposed.Preferences, &conflicts)

	// interaction_stats are system-maintained; the LLM's copy is discarded.
	validated.SocialGraph = proposed.SocialGraph
	if !current.SocialGraph.InteractionStats.IsZero() {
		validated.SocialGraph.InteractionStats = current.SocialGraph.InteractionStats
	}

	if proposed.DevMetadata != nil {
		validated.DevMetadata = proposed.DevMetadata
	} else {
		validated.DevMetadata = current.DevMetadata
	}
	validated.SharedSecrets = proposed.SharedSecrets || current.SharedSecrets

	if len(conflicts) > 0 {
		g.logger.Warn().Int("count", len(conflicts)).Msg("Profile update conflicts detected")
		for _, c := range conflicts {
			g.logger.Warn().Str("type", c.Type).Str("detail", c.Detail).Msg("Blocked profile change")
		}
	}
	return validated, conflicts
}

// protectBasicInfo keeps system-owned fields and demands strong evidence for
// identity fields. StrongEvidence checks whether memoryTexts states the fact
// in the first person.
func (g *Guardian) protectBasicInfo(oldBasic, newBasic map[string]string, memoryTexts string) map[string]string {
	result := make(map[string]string, len(newBasic))
	for k, v := range newBasic {
		result[k] = v
	}

	for _, field := range fullyProtectedFields {
		if oldVal := oldBasic[field]; oldVal != "" && oldVal != Unknown {
			result[field] = oldVal
		}
	}

	if !g.opts.EnableEvidenceProtection {
		return result
	}
	for _, field := range evidenceProtectedFields {
		oldVal := oldBasic[field]
		newVal := newBasic[field]
		if oldVal == "" || oldVal == Unknown || newVal == oldVal {
			continue
		}
		if StrongEvidence(field, memoryTexts) {
			g.logger.Info().
				Str("field", field).
				Str("old", oldVal).
				Str("new", newVal).
				Msg("Basic info updated with strong evidence")
		} else {
			result[field] = oldVal
			g.logger.Debug().
				Str("field", field).
				Str("old", oldVal).
				Str("new", newVal).
				Msg("Basic info change blocked without strong evidence")
		}
	}
	return result
}

// StrongEvidence reports whether memoryTexts contains first-person evidence
// for changing field.
func StrongEvidence(field, memoryTexts string) bool {
	return hasStrongEvidence(field, memoryTexts)
}

// processAttributes runs the confidence waiting room: an unseen attribute
// becomes a proposal with confidence 1, a re-proposed one is incremented,
// and at the threshold it is promoted into the profile. Proposals that went
// unmentioned this round are carried forward unchanged.
func (g *Guardian) processAttributes(oldAttrs, newAttrs map[string][]string, currentProposals []Proposal) (map[string][]string, []Proposal) {
	resultAttrs := make(map[string][]string, len(attributeCategories))
	var nextProposals []Proposal

	proposalMap := make(map[string]Proposal, len(currentProposals))
	for _, p := range currentProposals {
		if p.Category == "" || p.Value == "" {
			continue
		}
		proposalMap[p.Category+":"+p.Value] = p
	}

	for _, category := range attributeCategories {
		existing := oldAttrs[category]
		final := append([]string(nil), existing...)

		for _, item := range lo.Uniq(newAttrs[category]) {
			if lo.Contains(existing, item) {
				continue
			}
			if !g.opts.EnableConfidence {
				final = append(final, item)
				continue
			}

			key := category + ":" + item
			if prop, ok := proposalMap[key]; ok {
				prop.Confidence++
				prop.LastSeen = nowISO()
				proposalMap[key] = prop

				if prop.Confidence >= g.opts.ConfidenceThreshold {
					g.logger.Info().
						Str("category", category).
						Str("value", item).
						Int("confidence", prop.Confidence).
						Msg("Proposal promoted to attribute")
					final = append(final, item)
				} else {
					nextProposals = append(nextProposals, prop)
				}
				continue
			}

			now := nowISO()
			newProp := Proposal{
				Category:   category,
				Value:      item,
				Confidence: 1,
				FirstSeen:  now,
				LastSeen:   now,
			}
			if g.opts.ConfidenceThreshold > 1 {
				nextProposals = append(nextProposals, newProp)
				g.logger.Debug().Str("category", category).Str("value", item).Msg("New attribute proposal")
			} else {
				final = append(final, item)
			}
		}

		resultAttrs[category] = final
	}

	// Carry forward proposals that were not mentioned this round, unless
	// their value got promoted meanwhile.
	carried := lo.Map(nextProposals, func(p Proposal, _ int) string { return p.Category + ":" + p.Value })
	for key, prop := range proposalMap {
		if lo.Contains(carried, key) {
			continue
		}
		if lo.Contains(resultAttrs[prop.Category], prop.Value) {
			continue
		}
		nextProposals = append(nextProposals, prop)
	}

	if nextProposals == nil {
		nextProposals = []Proposal{}
	}
	return resultAttrs, nextProposals
}

// mergePreferences unions old and new preference lists, dropping new items
// that contradict an existing one. The existing value always wins.
func (g *Guardian) mergePreferences(oldPrefs, newPrefs map[string][]string, conflicts *[]Conflict) map[string][]string {
	result := make(map[string][]string, len(preferenceCategories))

	for _, category := range preferenceCategories {
		oldList := lo.Uniq(oldPrefs[category])
		newList := lo.Uniq(newPrefs[category])

		if !g.opts.EnableConflictDetection {
			result[category] = lo.Union(oldList, newList)
			continue
		}

		merged := append([]string(nil), oldList...)
		for _, newItem := range newList {
			if lo.Contains(merged, newItem) {
				continue
			}
			conflictType := ""
			conflictWith := ""
			for _, oldItem := range oldList {
				if ct := itemConflict(oldItem, newItem); ct != "" {
					conflictType = ct
					conflictWith = oldItem
					break
				}
			}
			if conflictType != "" {
				*conflicts = append(*conflicts, Conflict{
					Type:         "preference_conflict",
					Category:     category,
					OldValue:     conflictWith,
					NewValue:     newItem,
					ConflictType: conflictType,
					Detail:       fmt.Sprintf("'%s' vs '%s' in %s", conflictWith, newItem, category),
				})
				continue
			}
			merged = append(merged, newItem)
		}
		result[category] = merged
	}
	return result
}

// itemConflict classifies the contradiction between two preference items.
// An empty result means no conflict.
func itemConflict(oldItem, newItem string) string {
	oldLower := strings.ToLower(oldItem)
	newLower := strings.ToLower(newItem)

	allergyChecked := false
	for _, pair := range conflictPairs {
		oldPositive := containsAny(oldLower, pair.positive)
		oldNegative := containsAny(oldLower, pair.negative)
		newPositive := containsAny(newLower, pair.positive)
		newNegative := containsAny(newLower, pair.negative)

		if (oldPositive && newNegative) || (oldNegative && newPositive) {
			return "sentiment_conflict"
		}

		// Allergy beats fondness for the same referent.
		if !allergyChecked {
			allergyChecked = true
			if strings.Contains(oldLower, "过敏") && !strings.Contains(newLower, "过敏") {
				if sharesAny(oldLower, newLower, allergyReferents) {
					return "allergy_conflict"
				}
			}
		}
	}
	return ""
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func sharesAny(a, b string, words []string) bool {
	for _, w := range words {
		if strings.Contains(a, w) && strings.Contains(b, w) {
			return true
		}
	}
	return false
}
