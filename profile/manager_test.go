package profile

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/aschepis/engramd/llm"
	"github.com/aschepis/engramd/memory"
	"github.com/aschepis/engramd/migrations"

	_ "github.com/mattn/go-sqlite3"
)

func newTestManager(t *testing.T, client llm.Client) (*Manager, *memory.Store) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := migrations.Run(db, zerolog.Nop()); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	memories := memory.NewStore(db, zerolog.Nop())

	store := newTestStore(t)
	guardian := NewGuardian(GuardianOptions{
		EnableConfidence:         true,
		ConfidenceThreshold:      2,
		EnableConflictDetection:  true,
		EnableEvidenceProtection: true,
	}, zerolog.Nop())

	return NewManager(store, guardian, memories, client, ManagerOptions{MinUpdateMemories: 2}, zerolog.Nop()), memories
}

func seedSummaries(t *testing.T, memories *memory.Store, ownerID string, texts []string, at time.Time) {
	t.Helper()
	for i, text := range texts {
		sum := &memory.Summary{
			OwnerID:   ownerID,
			Text:      text,
			CreatedAt: at.Add(time.Duration(i) * time.Minute),
		}
		if err := memories.CreateSummary(context.Background(), sum); err != nil {
			t.Fatalf("create summary: %v", err)
		}
	}
}

func TestUpdateDailySkipsThinEvidence(t *testing.T) {
	called := false
	client := llm.ClientFunc(func(ctx context.Context, req *llm.Request) (string, error) {
		called = true
		return "", nil
	})
	m, memories := newTestManager(t, client)

	day := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.Local)
	seedSummaries(t, memories, "10001", []string{"只有一条总结"}, day.Add(10*time.Hour))

	conflicts, err := m.UpdateDaily(context.Background(), "10001", day, day.AddDate(0, 0, 1))
	if err != nil || conflicts != nil {
		t.Fatalf("got %v, %v; want nil, nil", conflicts, err)
	}
	if called {
		t.Error("LLM called below the evidence floor")
	}
}

func TestUpdateDailyAppliesGuardedUpdate(t *testing.T) {
	response := "```json\n" + `{
  "basic_info": {"nickname": "大狗", "location": "杭州"},
  "attributes": {"hobbies": ["爬山"]},
  "preferences": {"likes": ["下雨天"]}
}` + "\n```"
	client := llm.ClientFunc(func(ctx context.Context, req *llm.Request) (string, error) {
		return response, nil
	})
	m, memories := newTestManager(t, client)
	ctx := context.Background()

	// Seed a prior nickname so the protected-field block is observable.
	existing := NewProfile("10001")
	existing.BasicInfo["nickname"] = "小猫"
	if err := m.store.Save("10001", existing); err != nil {
		t.Fatalf("save: %v", err)
	}

	day := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.Local)
	seedSummaries(t, memories, "10001", []string{
		"用户说周末去爬山了",
		"用户提到最近喜欢下雨天",
	}, day.Add(10*time.Hour))

	conflicts, err := m.UpdateDaily(ctx, "10001", day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(conflicts) != 0 {
		t.Errorf("conflicts = %+v", conflicts)
	}

	p, err := m.Load("10001")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.BasicInfo["nickname"] != "小猫" {
		t.Errorf("nickname = %q, system field must survive the update", p.BasicInfo["nickname"])
	}
	// location was unknown, so the proposal fills it in.
	if p.BasicInfo["location"] != "杭州" {
		t.Errorf("location = %q", p.BasicInfo["location"])
	}
	if !lo.Contains(p.Preferences["likes"], "下雨天") {
		t.Errorf("likes = %v", p.Preferences["likes"])
	}
	// New attribute waits in the proposal pool.
	if lo.Contains(p.Attributes["hobbies"], "爬山") {
		t.Error("hobby promoted on first sighting")
	}
	if len(p.PendingProposals) != 1 || p.PendingProposals[0].Value != "爬山" {
		t.Errorf("proposals = %+v", p.PendingProposals)
	}
}

func TestUpdateDailyPropagatesLLMError(t *testing.T) {
	client := llm.ClientFunc(func(ctx context.Context, req *llm.Request) (string, error) {
		return "", errors.New("provider down")
	})
	m, memories := newTestManager(t, client)

	day := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.Local)
	seedSummaries(t, memories, "10001", []string{"第一条总结", "第二条总结"}, day.Add(10*time.Hour))

	if _, err := m.UpdateDaily(context.Background(), "10001", day, day.AddDate(0, 0, 1)); err == nil {
		t.Fatal("expected error from failed completion")
	}
}

func TestTouchInteraction(t *testing.T) {
	m, _ := newTestManager(t, nil)

	if err := m.TouchInteraction("10001"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	p, err := m.Load("10001")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	stats := p.SocialGraph.InteractionStats
	if stats.TotalValidChats != 1 || stats.TotalChatDays != 1 {
		t.Errorf("stats after first touch = %+v", stats)
	}
	if stats.FirstChatDate == "" || stats.FirstChatDate != stats.LastChatDate {
		t.Errorf("chat dates = %+v", stats)
	}

	// Same day: count grows, day counter does not.
	if err := m.TouchInteraction("10001"); err != nil {
		t.Fatalf("second touch: %v", err)
	}
	p, _ = m.Load("10001")
	stats = p.SocialGraph.InteractionStats
	if stats.TotalValidChats != 2 || stats.TotalChatDays != 1 {
		t.Errorf("stats after second touch = %+v", stats)
	}
}

func TestMergeProfile(t *testing.T) {
	current := NewProfile("10001")
	current.BasicInfo["nickname"] = "小猫"
	current.Preferences["likes"] = []string{"下雨天"}
	current.SocialGraph.ImportantPeople = []string{"妈妈"}
	current.SocialGraph.InteractionStats = InteractionStats{TotalChatDays: 3}
	current.PendingProposals = []Proposal{{Category: "hobbies", Value: "爬山", Confidence: 1}}

	update := &Profile{
		BasicInfo:   map[string]string{"nickname": "", "job": "程序员"},
		Preferences: map[string][]string{"likes": []string{"下雨天", "热牛奶"}},
		SocialGraph: SocialGraph{
			RelationshipStatus: "熟悉",
			ImportantPeople:    []string{"小李"},
			InteractionStats:   InteractionStats{TotalChatDays: 999},
		},
	}

	merged := mergeProfile(current, update)
	if merged.BasicInfo["nickname"] != "小猫" {
		t.Errorf("empty update value overwrote nickname: %q", merged.BasicInfo["nickname"])
	}
	if merged.BasicInfo["job"] != "程序员" {
		t.Errorf("job = %q", merged.BasicInfo["job"])
	}
	likes := merged.Preferences["likes"]
	if len(likes) != 2 || likes[0] != "下雨天" || likes[1] != "热牛奶" {
		t.Errorf("likes = %v, want deduplicating union", likes)
	}
	people := merged.SocialGraph.ImportantPeople
	if len(people) != 2 {
		t.Errorf("people = %v", people)
	}
	if merged.SocialGraph.RelationshipStatus != "熟悉" {
		t.Errorf("relationship = %q", merged.SocialGraph.RelationshipStatus)
	}
	if merged.SocialGraph.InteractionStats.TotalChatDays != 3 {
		t.Errorf("stats = %+v, update copy must be ignored", merged.SocialGraph.InteractionStats)
	}
	if len(merged.PendingProposals) != 1 {
		t.Errorf("proposals = %+v, must stay with current", merged.PendingProposals)
	}
}
