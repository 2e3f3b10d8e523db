package memory

import (
	"errors"
	"time"
)

// ErrNotFound reports that a specific record id or sequence number does not
// exist. It is distinct from an empty result set: callers use errors.Is to
// tell "no memories exist" apart from "that id does not exist".
var ErrNotFound = errors.New("memory: not found")

// Role identifies who authored a raw message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// RawMessage is a single recorded chat turn. Rows are immutable once written
// except for Archived, which flips true when folded into a summary and may
// flip back if the summary is deleted without deleting the raw messages.
type RawMessage struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	SessionID  string    `json:"session_id"`
	Role       Role      `json:"role"`
	AuthorName string    `json:"author_name,omitempty"`
	Content    string    `json:"content"`
	MsgType    string    `json:"msg_type"`
	Archived   bool      `json:"archived"`
	Timestamp  time.Time `json:"timestamp"`
}

// Summary is a compressed, dated record standing in for a batch of raw
// messages. Summaries form a singly-linked reverse-chronological chain per
// owner via PrevID; the chain is append-only and walked backward for context.
type Summary struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Text        string    `json:"text"`
	RefIDs      []string  `json:"ref_ids"`
	PrevID      *string   `json:"prev_id,omitempty"`
	SourceType  string    `json:"source_type"`
	ActiveScore int       `json:"active_score"`
	CreatedAt   time.Time `json:"created_at"`
}

// Candidate is a transient per-query retrieval item. It carries the raw
// vector distance plus the lexical score and both rank positions used by the
// RRF fusion; nothing here is persisted.
type Candidate struct {
	ID           string
	Text         string
	Metadata     map[string]string
	Distance     float64
	KeywordScore float64
	VectorRank   int
	KeywordRank  int
	RRFScore     float64
}

// MemoryResult is one enriched retrieval result returned to the caller.
type MemoryResult struct {
	ID               string
	ShortID          string
	Text             string
	CreatedAt        string
	RelevancePercent int
	ContextHint      string
	RawPreview       string
}

// MessageStats summarizes an owner's recorded messages.
type MessageStats struct {
	Total         int `json:"total"`
	UserMsgs      int `json:"user_msgs"`
	AssistantMsgs int `json:"assistant_msgs"`
	Archived      int `json:"archived"`
	Unarchived    int `json:"unarchived"`
}
