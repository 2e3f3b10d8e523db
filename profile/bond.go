package profile

import (
	"fmt"
	"math"
)

// Bond level names, index 1 through 7.
var levelNames = map[int]string{
	1: "萍水相逢",
	2: "初识",
	3: "相识",
	4: "熟悉",
	5: "知己",
	6: "挚友",
	7: "灵魂共鸣",
}

// LevelName returns the display name of a bond level.
func LevelName(level int) string {
	if name, ok := levelNames[level]; ok {
		return name
	}
	return levelNames[1]
}

// BondBreakdown itemizes the score behind a bond level.
type BondBreakdown struct {
	MemoryScore      float64  `json:"memory_score"`
	DaysScore        float64  `json:"days_score"`
	DepthScore       float64  `json:"depth_score"`
	PrefScore        float64  `json:"pref_score"`
	AchievementScore float64  `json:"achievement_score"`
	Achievements     []string `json:"achievements"`
}

// BondLevel is the computed relationship standing for an owner.
type BondLevel struct {
	Level         int           `json:"level"`
	LevelName     string        `json:"level_name"`
	Progress      int           `json:"progress"`
	Breakdown     BondBreakdown `json:"breakdown"`
	NextLevelHint []string      `json:"next_level_hint"`
}

// ProfileDepth scores how much the user has volunteered about themselves,
// as a 0-100 percentage. Volunteered facts dominate; system-collected data
// does not count.
func ProfileDepth(p *Profile) int {
	score := 0.0
	score += math.Min(6, float64(len(p.Attributes["personality_tags"]))*1.5)
	score += math.Min(5, float64(len(p.Attributes["hobbies"])))
	score += math.Min(3, float64(len(p.Attributes["skills"])))
	score += math.Min(6, float64(len(p.SocialGraph.ImportantPeople))*2)
	if p.SharedSecrets {
		score += 1.5
	}
	return int(math.Min(100, score/21.5*100))
}

// CalculateBond derives the 7-level bond standing from the memory count and
// the profile. Levels require several conditions at once; the progress score
// is a separate 0-100 composite shown alongside the level.
func CalculateBond(memoryCount int, p *Profile) BondLevel {
	stats := p.SocialGraph.InteractionStats
	chatDays := stats.TotalChatDays

	likes := len(p.Preferences["likes"]) +
		len(p.Preferences["favorite_foods"]) +
		len(p.Preferences["favorite_items"]) +
		len(p.Preferences["favorite_activities"])
	dislikes := len(p.Preferences["dislikes"])
	people := p.SocialGraph.ImportantPeople
	depthPct := ProfileDepth(p)

	// Memory depth, logarithmic so early memories count the most.
	memoryScore := 0.0
	if memoryCount > 0 {
		memoryScore = math.Min(25, 25*math.Log(1+float64(memoryCount)/150)/math.Log(1+3000.0/150))
	}

	daysScore := calcDaysScore(chatDays)
	depthScore := math.Min(25, float64(depthPct)/100*25)
	prefScore := math.Min(15, float64(likes+dislikes)*1.5)

	achievements := calcAchievements(memoryCount, chatDays, likes, people)
	achievementScore := float64(len(achievements)) / 6 * 10

	total := memoryScore + daysScore + depthScore + prefScore + achievementScore

	level := determineLevel(memoryCount, chatDays, depthPct, likes, dislikes, people, p.SharedSecrets, achievements)
	hints := nextLevelHints(level, memoryCount, chatDays, depthPct, likes, dislikes, people, p.SharedSecrets, achievements)

	return BondLevel{
		Level:     level,
		LevelName: LevelName(level),
		Progress:  int(total),
		Breakdown: BondBreakdown{
			MemoryScore:      round1(memoryScore),
			DaysScore:        round1(daysScore),
			DepthScore:       round1(depthScore),
			PrefScore:        round1(prefScore),
			AchievementScore: round1(achievementScore),
			Achievements:     achievements,
		},
		NextLevelHint: hints,
	}
}

// Stepped growth over cumulative chat days, max 25.
func calcDaysScore(days int) float64 {
	d := float64(days)
	switch {
	case days >= 180:
		return 25
	case days >= 60:
		return 20 + (d-60)/120*5
	case days >= 30:
		return 15 + (d-30)/30*5
	case days >= 14:
		return 10 + (d-14)/16*5
	case days >= 7:
		return 5 + (d-7)/7*5
	default:
		return d / 7 * 5
	}
}

func calcAchievements(memoryCount, chatDays, likes int, people []string) []string {
	achievements := []string{}
	if memoryCount >= 100 {
		achievements = append(achievements, "百次对话")
	}
	if memoryCount >= 500 {
		achievements = append(achievements, "记忆达人")
	}
	if chatDays >= 30 {
		achievements = append(achievements, "月度陪伴")
	}
	if chatDays >= 100 {
		achievements = append(achievements, "百日相守")
	}
	if likes >= 10 {
		achievements = append(achievements, "知心者")
	}
	if len(people) >= 1 {
		achievements = append(achievements, "知己之交")
	}
	return achievements
}

func determineLevel(memoryCount, chatDays, depthPct, likes, dislikes int, people []string, sharedSecrets bool, achievements []string) int {
	switch {
	case memoryCount >= 3000 && chatDays >= 180 && depthPct >= 100 && len(achievements) >= 6:
		return 7
	case memoryCount >= 1200 && chatDays >= 60 && len(people) >= 1 && dislikes >= 5:
		return 6
	case memoryCount >= 600 && chatDays >= 30 && sharedSecrets && likes >= 5:
		return 5
	case memoryCount >= 350 && chatDays >= 14 && depthPct >= 30:
		return 4
	case memoryCount >= 180 && chatDays >= 7 && likes >= 3:
		return 3
	case memoryCount >= 50 && depthPct > 0:
		return 2
	default:
		return 1
	}
}

func nextLevelHints(level, memoryCount, chatDays, depthPct, likes, dislikes int, people []string, sharedSecrets bool, achievements []string) []string {
	var hints []string

	switch level {
	case 1:
		if memoryCount < 50 {
			hints = append(hints, fmt.Sprintf("再积累 %d 条有效聊天", 50-memoryCount))
		}
		if depthPct == 0 {
			hints = append(hints, "告诉我一些关于你的事情")
		}
	case 2:
		if memoryCount < 180 {
			hints = append(hints, fmt.Sprintf("再积累 %d 条有效聊天", 180-memoryCount))
		}
		if chatDays < 7 {
			hints = append(hints, fmt.Sprintf("累计聊天 (%d/7 天)", chatDays))
		}
		if likes < 3 {
			hints = append(hints, fmt.Sprintf("让我知道更多你喜欢的 (%d/3)", likes))
		}
	case 3:
		if memoryCount < 350 {
			hints = append(hints, fmt.Sprintf("再积累 %d 条有效聊天", 350-memoryCount))
		}
		if chatDays < 14 {
			hints = append(hints, fmt.Sprintf("累计聊天 (%d/14 天)", chatDays))
		}
		if depthPct < 30 {
			hints = append(hints, fmt.Sprintf("画像深度需达到 30%% (当前 %d%%)", depthPct))
		}
	case 4:
		if memoryCount < 600 {
			hints = append(hints, fmt.Sprintf("再积累 %d 条有效聊天", 600-memoryCount))
		}
		if chatDays < 30 {
			hints = append(hints, fmt.Sprintf("累计聊天 (%d/30 天)", chatDays))
		}
		if !sharedSecrets {
			hints = append(hints, "试着和我分享一些心事")
		}
		if likes < 5 {
			hints = append(hints, fmt.Sprintf("让我知道更多你喜欢的 (%d/5)", likes))
		}
	case 5:
		if memoryCount < 1200 {
			hints = append(hints, fmt.Sprintf("再积累 %d 条有效聊天", 1200-memoryCount))
		}
		if chatDays < 60 {
			hints = append(hints, fmt.Sprintf("累计聊天 (%d/60 天)", chatDays))
		}
		if len(people) < 1 {
			hints = append(hints, "告诉我对你重要的人")
		}
		if dislikes < 5 {
			hints = append(hints, fmt.Sprintf("让我知道你的禁忌 (%d/5)", dislikes))
		}
	case 6:
		if memoryCount < 3000 {
			hints = append(hints, fmt.Sprintf("再积累 %d 条有效聊天", 3000-memoryCount))
		}
		if chatDays < 180 {
			hints = append(hints, fmt.Sprintf("半年相伴 (%d/180 天)", chatDays))
		}
		if depthPct < 100 {
			hints = append(hints, fmt.Sprintf("画像深度需达到 100%% (当前 %d%%)", depthPct))
		}
		if len(achievements) < 6 {
			hints = append(hints, fmt.Sprintf("解锁更多成就 (%d/6)", len(achievements)))
		}
	}

	if len(hints) == 0 {
		return []string{"已达最高羁绊等级！"}
	}
	return hints
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
