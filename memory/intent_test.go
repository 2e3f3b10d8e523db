package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func keywordGate(threshold int) *IntentGate {
	return NewIntentGate(IntentGateOptions{Mode: IntentKeyword, ScoreThreshold: threshold}, nil, zerolog.Nop())
}

func TestIntentGateKeyword(t *testing.T) {
	g := keywordGate(2)
	ctx := context.Background()

	tests := []struct {
		name  string
		query string
		want  bool
	}{
		{"strong trigger", "你还记得上周我们聊的事吗", true},
		{"two strong triggers", "你之前答应过我的", true},
		{"weak trigger alone below threshold", "你知道我的生日吗", false},
		{"self recall pattern alone below threshold", "我特别喜欢下雨天", false},
		{"weak plus self recall", "你知道我平时都喜欢做什么吗", true},
		{"plain small talk", "今天天气怎么样呀", false},
		{"too short after compaction", "嗯？！", false},
		{"empty query", "   ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.ShouldRetrieve(ctx, tt.query); got != tt.want {
				t.Errorf("ShouldRetrieve(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}

func TestIntentGateThresholdOne(t *testing.T) {
	g := keywordGate(1)
	if !g.ShouldRetrieve(context.Background(), "我特别喜欢下雨天") {
		t.Error("threshold 1 should accept the self-recall pattern")
	}
}

func TestIntentGateDisabled(t *testing.T) {
	g := NewIntentGate(IntentGateOptions{Mode: IntentDisabled}, nil, zerolog.Nop())
	if !g.ShouldRetrieve(context.Background(), "嗯") {
		t.Error("disabled mode must always retrieve")
	}
}

func TestIntentGateUnknownModeFallsBack(t *testing.T) {
	g := NewIntentGate(IntentGateOptions{Mode: IntentMode("bogus")}, nil, zerolog.Nop())
	if g.opts.Mode != IntentKeyword {
		t.Errorf("mode = %q, want keyword fallback", g.opts.Mode)
	}
}

func TestIntentGateLLM(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		response string
		want     bool
	}{
		{"chinese yes", "是", true},
		{"yes with period", "是。", true},
		{"english yes", "Yes", true},
		{"single letter", "y", true},
		{"需要", "需要", true},
		{"chinese no", "否", false},
		{"rambling answer", "这个问题不需要记忆", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewIntentGate(IntentGateOptions{Mode: IntentLLM}, &stubClient{response: tt.response}, zerolog.Nop())
			if got := g.ShouldRetrieve(ctx, "你还记得我说过什么吗"); got != tt.want {
				t.Errorf("ShouldRetrieve = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIntentGateLLMErrorFallsBackToKeyword(t *testing.T) {
	client := &stubClient{err: errors.New("provider down")}
	g := NewIntentGate(IntentGateOptions{Mode: IntentLLM}, client, zerolog.Nop())
	ctx := context.Background()

	// The query carries a strong trigger, so the keyword fallback accepts it.
	if !g.ShouldRetrieve(ctx, "你还记得我说过什么吗") {
		t.Error("keyword fallback should accept a strong-trigger query")
	}
	if g.ShouldRetrieve(ctx, "今天天气怎么样呀") {
		t.Error("keyword fallback should reject small talk")
	}
}

func TestIntentGateLLMNilClientFallsBack(t *testing.T) {
	g := NewIntentGate(IntentGateOptions{Mode: IntentLLM}, nil, zerolog.Nop())
	if !g.ShouldRetrieve(context.Background(), "你还记得我说过什么吗") {
		t.Error("nil client should fall back to keyword scoring")
	}
}
