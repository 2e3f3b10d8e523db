package profile

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

func newTestGuardian() *Guardian {
	return NewGuardian(GuardianOptions{
		EnableConfidence:         true,
		ConfidenceThreshold:      2,
		EnableConflictDetection:  true,
		EnableEvidenceProtection: true,
	}, zerolog.Nop())
}

func TestGuardianProtectsSystemFields(t *testing.T) {
	g := newTestGuardian()

	current := NewProfile("10001")
	current.BasicInfo["nickname"] = "小猫"
	current.BasicInfo["birthday"] = "2000-01-01"

	proposed := NewProfile("10001")
	proposed.BasicInfo["nickname"] = "大狗"
	proposed.BasicInfo["birthday"] = "1999-12-31"

	validated, conflicts := g.ValidateUpdate(current, proposed, "")
	if len(conflicts) != 0 {
		t.Fatalf("unexpected conflicts: %+v", conflicts)
	}
	if validated.BasicInfo["nickname"] != "小猫" {
		t.Errorf("nickname = %q, want old value kept", validated.BasicInfo["nickname"])
	}
	if validated.BasicInfo["birthday"] != "2000-01-01" {
		t.Errorf("birthday = %q, want old value kept", validated.BasicInfo["birthday"])
	}
}

func TestGuardianFillsUnknownSystemFields(t *testing.T) {
	g := newTestGuardian()

	current := NewProfile("10001")
	proposed := NewProfile("10001")
	proposed.BasicInfo["constellation"] = "双鱼座"

	validated, _ := g.ValidateUpdate(current, proposed, "")
	if validated.BasicInfo["constellation"] != "双鱼座" {
		t.Errorf("constellation = %q, unknown field should accept the proposal", validated.BasicInfo["constellation"])
	}
}

func TestGuardianEvidenceGate(t *testing.T) {
	tests := []struct {
		name    string
		memory  string
		want    string
		blocked bool
	}{
		{"blocked without evidence", "用户今天聊了聊天气", "男", true},
		{"allowed with first person statement", "用户说：我是女生，别叫错啦", "女", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGuardian()
			current := NewProfile("10001")
			current.BasicInfo["gender"] = "男"
			proposed := NewProfile("10001")
			proposed.BasicInfo["gender"] = "女"

			validated, _ := g.ValidateUpdate(current, proposed, tt.memory)
			got := validated.BasicInfo["gender"]
			if tt.blocked && got != "男" {
				t.Errorf("gender = %q, change should be blocked", got)
			}
			if !tt.blocked && got != "女" {
				t.Errorf("gender = %q, change should go through", got)
			}
		})
	}
}

func TestGuardianEvidenceGateDisabled(t *testing.T) {
	g := NewGuardian(GuardianOptions{EnableConfidence: true, ConfidenceThreshold: 2}, zerolog.Nop())

	current := NewProfile("10001")
	current.BasicInfo["gender"] = "男"
	proposed := NewProfile("10001")
	proposed.BasicInfo["gender"] = "女"

	validated, _ := g.ValidateUpdate(current, proposed, "")
	if validated.BasicInfo["gender"] != "女" {
		t.Errorf("gender = %q, gate disabled should accept", validated.BasicInfo["gender"])
	}
}

func TestGuardianAttributeNeedsTwoSightings(t *testing.T) {
	g := newTestGuardian()

	current := NewProfile("10001")
	proposed := NewProfile("10001")
	proposed.Attributes["hobbies"] = []string{"跳伞"}

	// First sighting: pending, not yet in the profile.
	round1, _ := g.ValidateUpdate(current, proposed, "")
	if lo.Contains(round1.Attributes["hobbies"], "跳伞") {
		t.Fatal("first sighting should not promote the attribute")
	}
	if len(round1.PendingProposals) != 1 {
		t.Fatalf("proposals = %+v, want one", round1.PendingProposals)
	}
	prop := round1.PendingProposals[0]
	if prop.Category != "hobbies" || prop.Value != "跳伞" || prop.Confidence != 1 {
		t.Errorf("proposal = %+v", prop)
	}
	if prop.FirstSeen == "" || prop.LastSeen == "" {
		t.Errorf("proposal timestamps missing: %+v", prop)
	}

	// Second sighting: promoted, proposal retired.
	round2, _ := g.ValidateUpdate(round1, proposed, "")
	if !lo.Contains(round2.Attributes["hobbies"], "跳伞") {
		t.Error("second sighting should promote the attribute")
	}
	if len(round2.PendingProposals) != 0 {
		t.Errorf("proposals after promotion = %+v", round2.PendingProposals)
	}
}

func TestGuardianCarriesUnmentionedProposals(t *testing.T) {
	g := newTestGuardian()

	current := NewProfile("10001")
	proposed := NewProfile("10001")
	proposed.Attributes["skills"] = []string{"油画"}

	round1, _ := g.ValidateUpdate(current, proposed, "")
	if len(round1.PendingProposals) != 1 {
		t.Fatalf("proposals = %+v", round1.PendingProposals)
	}

	// Next round mentions nothing; the proposal waits.
	quiet := NewProfile("10001")
	round2, _ := g.ValidateUpdate(round1, quiet, "")
	if len(round2.PendingProposals) != 1 || round2.PendingProposals[0].Value != "油画" {
		t.Errorf("proposal dropped: %+v", round2.PendingProposals)
	}
	if round2.PendingProposals[0].Confidence != 1 {
		t.Errorf("confidence changed without a sighting: %+v", round2.PendingProposals[0])
	}
}

func TestGuardianConfidenceDisabledAddsImmediately(t *testing.T) {
	g := NewGuardian(GuardianOptions{EnableConflictDetection: true}, zerolog.Nop())

	proposed := NewProfile("10001")
	proposed.Attributes["personality_tags"] = []string{"乐观"}

	validated, _ := g.ValidateUpdate(NewProfile("10001"), proposed, "")
	if !lo.Contains(validated.Attributes["personality_tags"], "乐观") {
		t.Error("confidence off should add attributes immediately")
	}
}

func TestGuardianThresholdOneAddsImmediately(t *testing.T) {
	g := NewGuardian(GuardianOptions{EnableConfidence: true, ConfidenceThreshold: 1}, zerolog.Nop())

	proposed := NewProfile("10001")
	proposed.Attributes["hobbies"] = []string{"爬山"}

	validated, _ := g.ValidateUpdate(NewProfile("10001"), proposed, "")
	if !lo.Contains(validated.Attributes["hobbies"], "爬山") {
		t.Error("threshold 1 should add on first sighting")
	}
	if len(validated.PendingProposals) != 0 {
		t.Errorf("proposals = %+v, want none", validated.PendingProposals)
	}
}

func TestGuardianSentimentConflict(t *testing.T) {
	g := newTestGuardian()

	current := NewProfile("10001")
	current.Preferences["likes"] = []string{"喜欢猫"}
	proposed := NewProfile("10001")
	proposed.Preferences["likes"] = []string{"讨厌猫"}

	validated, conflicts := g.ValidateUpdate(current, proposed, "")
	if len(conflicts) != 1 {
		t.Fatalf("conflicts = %+v, want one", conflicts)
	}
	c := conflicts[0]
	if c.Type != "preference_conflict" || c.ConflictType != "sentiment_conflict" {
		t.Errorf("conflict = %+v", c)
	}
	if c.OldValue != "喜欢猫" || c.NewValue != "讨厌猫" || c.Category != "likes" {
		t.Errorf("conflict fields = %+v", c)
	}
	if c.Detail != "'喜欢猫' vs '讨厌猫' in likes" {
		t.Errorf("detail = %q", c.Detail)
	}

	// The existing value wins.
	if !lo.Contains(validated.Preferences["likes"], "喜欢猫") {
		t.Error("old preference lost")
	}
	if lo.Contains(validated.Preferences["likes"], "讨厌猫") {
		t.Error("conflicting preference admitted")
	}
}

func TestGuardianAllergyConflict(t *testing.T) {
	g := newTestGuardian()

	current := NewProfile("10001")
	current.Preferences["likes"] = []string{"猫毛过敏"}
	proposed := NewProfile("10001")
	proposed.Preferences["likes"] = []string{"喜欢猫"}

	_, conflicts := g.ValidateUpdate(current, proposed, "")
	if len(conflicts) != 1 || conflicts[0].ConflictType != "allergy_conflict" {
		t.Fatalf("conflicts = %+v, want one allergy conflict", conflicts)
	}
}

func TestGuardianMergesCleanPreferences(t *testing.T) {
	g := newTestGuardian()

	current := NewProfile("10001")
	current.Preferences["favorite_foods"] = []string{"火锅"}
	proposed := NewProfile("10001")
	proposed.Preferences["favorite_foods"] = []string{"火锅", "寿司"}

	validated, conflicts := g.ValidateUpdate(current, proposed, "")
	if len(conflicts) != 0 {
		t.Fatalf("conflicts = %+v", conflicts)
	}
	foods := validated.Preferences["favorite_foods"]
	if len(foods) != 2 || foods[0] != "火锅" || foods[1] != "寿司" {
		t.Errorf("favorite_foods = %v", foods)
	}
}

func TestGuardianConflictDetectionDisabled(t *testing.T) {
	g := NewGuardian(GuardianOptions{}, zerolog.Nop())

	current := NewProfile("10001")
	current.Preferences["likes"] = []string{"喜欢猫"}
	proposed := NewProfile("10001")
	proposed.Preferences["likes"] = []string{"讨厌猫"}

	validated, conflicts := g.ValidateUpdate(current, proposed, "")
	if len(conflicts) != 0 {
		t.Fatalf("conflicts = %+v, detection is off", conflicts)
	}
	if len(validated.Preferences["likes"]) != 2 {
		t.Errorf("likes = %v, want plain union", validated.Preferences["likes"])
	}
}

func TestGuardianKeepsInteractionStats(t *testing.T) {
	g := newTestGuardian()

	current := NewProfile("10001")
	current.SocialGraph.InteractionStats = InteractionStats{TotalChatDays: 12, TotalValidChats: 340}
	proposed := NewProfile("10001")
	proposed.SocialGraph.InteractionStats = InteractionStats{TotalChatDays: 999}
	proposed.SocialGraph.RelationshipStatus = "熟悉"

	validated, _ := g.ValidateUpdate(current, proposed, "")
	if validated.SocialGraph.InteractionStats.TotalChatDays != 12 {
		t.Errorf("stats = %+v, LLM copy should be discarded", validated.SocialGraph.InteractionStats)
	}
	if validated.SocialGraph.RelationshipStatus != "熟悉" {
		t.Errorf("relationship = %q", validated.SocialGraph.RelationshipStatus)
	}
}

func TestGuardianSharedSecretsIsMonotonic(t *testing.T) {
	g := newTestGuardian()

	current := NewProfile("10001")
	current.SharedSecrets = true
	proposed := NewProfile("10001")

	validated, _ := g.ValidateUpdate(current, proposed, "")
	if !validated.SharedSecrets {
		t.Error("shared_secrets must never revert to false")
	}
}

func TestItemConflict(t *testing.T) {
	tests := []struct {
		old  string
		new  string
		want string
	}{
		{"喜欢猫", "讨厌猫", "sentiment_conflict"},
		{"外向开朗", "内向安静", "sentiment_conflict"},
		{"吃肉", "素食主义", "sentiment_conflict"},
		{"猫毛过敏", "喜欢猫", "allergy_conflict"},
		{"喜欢猫", "猫毛过敏", "sentiment_conflict"},
		{"花生过敏", "爱吃花生", "allergy_conflict"},
		{"喜欢猫", "喜欢狗", ""},
		{"火锅", "寿司", ""},
	}

	for _, tt := range tests {
		if got := itemConflict(tt.old, tt.new); got != tt.want {
			t.Errorf("itemConflict(%q, %q) = %q, want %q", tt.old, tt.new, got, tt.want)
		}
	}
}
