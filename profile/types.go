// Package profile maintains evolving per-user profiles: storage, the
// LLM-driven daily update, and the guardian layer that blocks hallucinated
// changes.
package profile

import "time"

// Attribute categories gated by the confidence mechanism.
var attributeCategories = []string{"personality_tags", "hobbies", "skills"}

// Preference categories merged with conflict detection.
var preferenceCategories = []string{
	"favorite_foods", "favorite_items", "favorite_activities", "likes", "dislikes",
}

// Unknown is the placeholder for fields with no known value yet.
const Unknown = "未知"

// InteractionStats tracks chat activity. Maintained by the system, never by
// the LLM.
type InteractionStats struct {
	FirstChatDate   string `json:"first_chat_date,omitempty"`
	LastChatDate    string `json:"last_chat_date,omitempty"`
	TotalChatDays   int    `json:"total_chat_days"`
	TotalValidChats int    `json:"total_valid_chats"`
}

// IsZero reports whether the stats have never been touched.
func (s InteractionStats) IsZero() bool {
	return s == InteractionStats{}
}

// SocialGraph holds relationship state.
type SocialGraph struct {
	RelationshipStatus string           `json:"relationship_status"`
	ImportantPeople    []string         `json:"important_people"`
	InteractionStats   InteractionStats `json:"interaction_stats"`
}

// Proposal is an attribute waiting for enough repeated sightings before it
// is promoted into the profile.
type Proposal struct {
	Category   string `json:"category"`
	Value      string `json:"value"`
	Confidence int    `json:"confidence"`
	FirstSeen  string `json:"first_seen"`
	LastSeen   string `json:"last_seen"`
}

// Conflict records a blocked profile change.
type Conflict struct {
	Type         string `json:"type"`
	Category     string `json:"category"`
	OldValue     string `json:"old_value"`
	NewValue     string `json:"new_value"`
	ConflictType string `json:"conflict_type"`
	Detail       string `json:"detail"`
}

// Profile is one user's persisted persona document.
type Profile struct {
	BasicInfo        map[string]string   `json:"basic_info"`
	Attributes       map[string][]string `json:"attributes"`
	Preferences      map[string][]string `json:"preferences"`
	SocialGraph      SocialGraph         `json:"social_graph"`
	DevMetadata      map[string][]string `json:"dev_metadata,omitempty"`
	SharedSecrets    bool                `json:"shared_secrets"`
	PendingProposals []Proposal          `json:"pending_proposals"`
}

// NewProfile returns the empty profile skeleton for an owner.
func NewProfile(ownerID string) *Profile {
	return &Profile{
		BasicInfo: map[string]string{
			"qq_id":         ownerID,
			"nickname":      Unknown,
			"gender":        Unknown,
			"age":           Unknown,
			"location":      Unknown,
			"job":           Unknown,
			"avatar_url":    "",
			"birthday":      Unknown,
			"constellation": Unknown,
			"zodiac":        Unknown,
			"signature":     "暂无个性签名",
		},
		Attributes: map[string][]string{
			"personality_tags": {},
			"hobbies":          {},
			"skills":           {},
		},
		Preferences: map[string][]string{
			"favorite_foods":      {},
			"favorite_items":      {},
			"favorite_activities": {},
			"likes":               {},
			"dislikes":            {},
		},
		SocialGraph: SocialGraph{
			RelationshipStatus: "萍水相逢",
			ImportantPeople:    []string{},
		},
		DevMetadata: map[string][]string{
			"os":         {},
			"tech_stack": {},
		},
		PendingProposals: []Proposal{},
	}
}

func nowISO() string {
	return time.Now().Format(time.RFC3339)
}
