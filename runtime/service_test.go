package runtime

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/aschepis/engramd/llm"
	"github.com/aschepis/engramd/memory"
	"github.com/aschepis/engramd/migrations"
	"github.com/aschepis/engramd/profile"
	"github.com/aschepis/engramd/vector"
)

type constEmbedder struct{}

func (constEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	logger := zerolog.Nop()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(db, logger); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	store := memory.NewStore(db, logger)
	index := vector.NewChromemIndex("", constEmbedder{}, logger)

	tokenizer := memory.NewTokenizer(2, 4)
	scorer := memory.NewScorer(tokenizer)
	ranker := memory.NewRanker(tokenizer, scorer, memory.RankerOptions{
		SimilarityThreshold: 1.5,
		KeywordWeight:       0.5,
		EnableKeywordBoost:  true,
	}, logger)
	filter := memory.NewContentFilter([]string{"/"}, true)
	retriever := memory.NewRetriever(store, index, ranker, filter, memory.RetrieverOptions{}, logger)
	deleter := memory.NewDeleter(store, index, logger)
	exporter := memory.NewExporter(store, filter, logger)
	intent := memory.NewIntentGate(memory.IntentGateOptions{
		Mode:           memory.IntentKeyword,
		MinLength:      4,
		ScoreThreshold: 2,
	}, nil, logger)
	tracker := memory.NewActivityTracker()

	profileStore, err := profile.NewStore(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("profile store: %v", err)
	}
	guardian := profile.NewGuardian(profile.GuardianOptions{
		EnableConfidence:         true,
		ConfidenceThreshold:      2,
		EnableConflictDetection:  true,
		EnableEvidenceProtection: true,
	}, logger)
	stub := llm.ClientFunc(func(context.Context, *llm.Request) (string, error) {
		return "{}", nil
	})
	profiles := profile.NewManager(profileStore, guardian, store, stub, profile.ManagerOptions{}, logger)

	return NewService(store, index, filter, retriever, deleter, exporter, intent, tracker, profiles, logger)
}

func TestRecordStoresValidMessages(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	stored, err := svc.Record(ctx, &memory.RawMessage{
		OwnerID:    "alice",
		Role:       memory.RoleUser,
		AuthorName: "小明",
		Content:    "我今天去了动物园",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !stored {
		t.Fatal("valid message should be stored")
	}

	stats, err := svc.Stats(ctx, "alice")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 1 {
		t.Errorf("Total = %d, want 1", stats.Total)
	}

	// A user turn also advances the interaction stats.
	p, err := svc.Profile("alice")
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if p.SocialGraph.InteractionStats.TotalValidChats != 1 {
		t.Errorf("TotalValidChats = %d, want 1", p.SocialGraph.InteractionStats.TotalValidChats)
	}
}

func TestRecordDropsCommands(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	stored, err := svc.Record(ctx, &memory.RawMessage{
		OwnerID: "alice",
		Role:    memory.RoleUser,
		Content: "/mem list",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if stored {
		t.Fatal("command message should be dropped")
	}

	stats, err := svc.Stats(ctx, "alice")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 0 {
		t.Errorf("Total = %d, want 0", stats.Total)
	}
}

func TestRecallConsultsIntentGate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// Small talk never reaches the retriever.
	lines, err := svc.Recall(ctx, "alice", "今天天气真不错啊", 3)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if lines != nil {
		t.Fatalf("expected gate to decline, got %v", lines)
	}

	// A recall question passes the gate; with nothing indexed the result is
	// still empty.
	lines, err = svc.Recall(ctx, "alice", "你还记得我之前说过什么吗", 3)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if lines != nil {
		t.Fatalf("expected no memories, got %v", lines)
	}
}

func TestClearOwnerWipesEverything(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Record(ctx, &memory.RawMessage{
		OwnerID: "alice",
		Role:    memory.RoleUser,
		Content: "我家的猫叫团子",
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := svc.store.CreateSummary(ctx, &memory.Summary{
		OwnerID:   "alice",
		Text:      "主人养了一只叫团子的猫",
		CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("CreateSummary: %v", err)
	}

	if err := svc.ClearOwner(ctx, "alice"); err != nil {
		t.Fatalf("ClearOwner: %v", err)
	}

	stats, err := svc.Stats(ctx, "alice")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 0 {
		t.Errorf("Total = %d after clear, want 0", stats.Total)
	}
	recent, err := svc.Recent(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 0 {
		t.Errorf("summaries remain after clear: %d", len(recent))
	}
}
