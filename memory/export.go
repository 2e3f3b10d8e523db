package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// ExportFormat names a supported export encoding.
type ExportFormat string

const (
	FormatJSONL    ExportFormat = "jsonl"
	FormatJSON     ExportFormat = "json"
	FormatTxt      ExportFormat = "txt"
	FormatAlpaca   ExportFormat = "alpaca"
	FormatShareGPT ExportFormat = "sharegpt"
)

// Exporter renders raw messages as fine-tuning datasets. Every format runs
// through the content filter so commands and noise never leak into training
// data.
type Exporter struct {
	store  *Store
	filter *ContentFilter
	logger zerolog.Logger
}

// NewExporter creates an exporter.
func NewExporter(store *Store, filter *ContentFilter, logger zerolog.Logger) *Exporter {
	return &Exporter{
		store:  store,
		filter: filter,
		logger: logger.With().Str("component", "exporter").Logger(),
	}
}

// ExportStats extends message statistics with the exported count.
type ExportStats struct {
	MessageStats
	Exported int `json:"exported"`
}

// Export renders one owner's messages. An empty ownerID exports every owner.
// start, end and limit are optional bounds.
func (e *Exporter) Export(ctx context.Context, ownerID string, format ExportFormat, start, end *time.Time, limit int) (string, ExportStats, error) {
	msgs, err := e.store.AllRawMessages(ctx, ownerID, start, end, limit)
	if err != nil {
		return "", ExportStats{}, fmt.Errorf("load messages: %w", err)
	}
	if len(msgs) == 0 {
		return "", ExportStats{}, fmt.Errorf("no messages to export: %w", ErrNotFound)
	}

	stats, err := e.store.Stats(ctx, ownerID)
	if err != nil {
		return "", ExportStats{}, err
	}

	valid := lo.Filter(msgs, func(m RawMessage, _ int) bool {
		return e.filter.Valid(m.Content)
	})

	var data string
	switch format {
	case FormatJSONL:
		data, err = exportJSONL(valid)
	case FormatJSON:
		data, err = exportJSON(valid)
	case FormatTxt:
		data = exportTxt(valid)
	case FormatAlpaca:
		data, err = exportAlpaca(valid)
	case FormatShareGPT:
		data, err = exportShareGPT(valid)
	default:
		return "", ExportStats{}, fmt.Errorf("unsupported export format: %s", format)
	}
	if err != nil {
		return "", ExportStats{}, err
	}

	e.logger.Info().
		Str("owner_id", ownerID).
		Str("format", string(format)).
		Int("exported", len(valid)).
		Msg("Messages exported")
	return data, ExportStats{MessageStats: stats, Exported: len(valid)}, nil
}

type exportedMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp"`
	OwnerID    string `json:"owner_id"`
	AuthorName string `json:"author_name"`
}

func toExported(m RawMessage) exportedMessage {
	role := "user"
	if m.Role == RoleAssistant {
		role = "assistant"
	}
	return exportedMessage{
		Role:       role,
		Content:    m.Content,
		Timestamp:  FormatTimestamp(m.Timestamp),
		OwnerID:    m.OwnerID,
		AuthorName: m.AuthorName,
	}
}

func exportJSONL(msgs []RawMessage) (string, error) {
	var lines []string
	for _, m := range msgs {
		b, err := json.Marshal(toExported(m))
		if err != nil {
			return "", err
		}
		lines = append(lines, string(b))
	}
	return strings.Join(lines, "\n"), nil
}

func exportJSON(msgs []RawMessage) (string, error) {
	out := lo.Map(msgs, func(m RawMessage, _ int) exportedMessage { return toExported(m) })
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func exportTxt(msgs []RawMessage) string {
	var lines []string
	for _, m := range msgs {
		name := "助手"
		if m.Role != RoleAssistant {
			name = m.AuthorName
			if name == "" {
				name = "用户"
			}
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", FormatTimestamp(m.Timestamp), name, m.Content))
	}
	return strings.Join(lines, "\n")
}

type alpacaPair struct {
	Instruction string `json:"instruction"`
	Input       string `json:"input"`
	Output      string `json:"output"`
}

// exportAlpaca pairs each user turn with the assistant turn that answers it.
// Unanswered user turns are dropped.
func exportAlpaca(msgs []RawMessage) (string, error) {
	pairs := []alpacaPair{}
	var instruction string
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			instruction = m.Content
		case RoleAssistant:
			if instruction != "" {
				pairs = append(pairs, alpacaPair{Instruction: instruction, Output: m.Content})
				instruction = ""
			}
		}
	}
	b, err := json.MarshalIndent(pairs, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type shareGPTTurn struct {
	From  string `json:"from"`
	Value string `json:"value"`
}

type shareGPTConversation struct {
	Conversations []shareGPTTurn `json:"conversations"`
}

// exportShareGPT closes a conversation at each assistant turn that has at
// least one preceding turn.
func exportShareGPT(msgs []RawMessage) (string, error) {
	conversations := []shareGPTConversation{}
	var current []shareGPTTurn
	for _, m := range msgs {
		from := "human"
		if m.Role == RoleAssistant {
			from = "gpt"
		}
		current = append(current, shareGPTTurn{From: from, Value: m.Content})

		if m.Role == RoleAssistant && len(current) >= 2 {
			conversations = append(conversations, shareGPTConversation{
				Conversations: append([]shareGPTTurn(nil), current...),
			})
			current = nil
		}
	}
	b, err := json.MarshalIndent(conversations, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
