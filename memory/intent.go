package memory

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aschepis/engramd/llm"
)

// IntentMode selects how retrieval intent is decided.
type IntentMode string

const (
	IntentDisabled IntentMode = "disabled"
	IntentKeyword  IntentMode = "keyword"
	IntentLLM      IntentMode = "llm"
)

// Strong triggers point unambiguously at past conversation.
var strongTriggers = []string{
	"记得", "之前", "以前", "上次", "上回",
	"回忆", "提醒", "你说", "告诉过",
	"承诺", "答应", "说过", "聊过",
}

// Weak triggers hint at recall but carry less weight.
var weakTriggers = []string{
	"我喜欢什么", "我说过吗", "你知道我",
}

var (
	selfRecallRe = regexp.MustCompile(`我.*(喜欢|讨厌|说过|提过)`)
	nonWordRe    = regexp.MustCompile(`[^\p{L}\p{N}_]+`)
)

const intentLLMPrompt = "判断以下用户消息是否需要调用长期记忆来回答。" +
	"长期记忆包含用户的历史对话、个人偏好、过去事件等信息。\n" +
	"只有当用户在询问过去的事情、引用之前的对话、或问题需要了解用户历史才能正确回答时，才需要调用。\n" +
	"日常寒暄、简单问候、即时性问题（如天气、时间）不需要调用。\n\n" +
	"用户消息：%s\n\n" +
	"请只回答一个字：是 或 否"

// IntentGateOptions configure the retrieval intent gate.
type IntentGateOptions struct {
	Mode           IntentMode
	MinLength      int
	ScoreThreshold int
	LLMModel       string
}

// IntentGate decides whether a message warrants a memory lookup, so casual
// small talk does not pay the retrieval cost. The keyword mode scores trigger
// phrases; the llm mode asks a small model and falls back to keywords on any
// failure.
type IntentGate struct {
	opts   IntentGateOptions
	client llm.Client
	logger zerolog.Logger
}

// NewIntentGate creates a gate. client may be nil unless llm mode is used.
func NewIntentGate(opts IntentGateOptions, client llm.Client, logger zerolog.Logger) *IntentGate {
	switch opts.Mode {
	case IntentDisabled, IntentKeyword, IntentLLM:
	default:
		logger.Warn().Str("mode", string(opts.Mode)).Msg("Unknown intent mode, falling back to keyword")
		opts.Mode = IntentKeyword
	}
	if opts.MinLength < 1 {
		opts.MinLength = 4
	}
	if opts.ScoreThreshold < 1 {
		opts.ScoreThreshold = 2
	}
	return &IntentGate{
		opts:   opts,
		client: client,
		logger: logger.With().Str("component", "intent_gate").Logger(),
	}
}

// ShouldRetrieve reports whether query warrants a memory lookup.
func (g *IntentGate) ShouldRetrieve(ctx context.Context, query string) bool {
	if g.opts.Mode == IntentDisabled {
		return true
	}

	text := strings.TrimSpace(query)
	if text == "" {
		return false
	}

	compact := nonWordRe.ReplaceAllString(text, "")
	if len([]rune(compact)) < g.opts.MinLength {
		return false
	}

	if g.opts.Mode == IntentLLM {
		return g.llmCheck(ctx, text)
	}
	return g.keywordCheck(text)
}

// keywordCheck scores trigger signals: strong triggers count double, weak
// triggers and the self-recall sentence pattern count once.
func (g *IntentGate) keywordCheck(text string) bool {
	score := 0
	for _, trigger := range strongTriggers {
		if strings.Contains(text, trigger) {
			score += 2
		}
	}
	for _, trigger := range weakTriggers {
		if strings.Contains(text, trigger) {
			score++
		}
	}
	if selfRecallRe.MatchString(text) {
		score++
	}
	return score >= g.opts.ScoreThreshold
}

func (g *IntentGate) llmCheck(ctx context.Context, text string) bool {
	if g.client == nil {
		g.logger.Warn().Msg("LLM intent mode without client, falling back to keyword")
		return g.keywordCheck(text)
	}

	prompt := fmt.Sprintf(intentLLMPrompt, text)
	resp, err := g.client.Complete(ctx, &llm.Request{Prompt: prompt, Model: g.opts.LLMModel})
	if err != nil {
		g.logger.Warn().Err(err).Msg("LLM intent check failed, falling back to keyword")
		return g.keywordCheck(text)
	}

	cleaned := strings.NewReplacer("。", "", ".", "", "，", "", ",", "").Replace(strings.TrimSpace(resp))
	switch cleaned {
	case "是", "Yes", "yes", "Y", "y", "需要", "true", "True":
		return true
	}
	return false
}
