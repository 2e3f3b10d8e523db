package memory

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
)

func newTestRanker(opts RankerOptions) *Ranker {
	tok := NewTokenizer(2, 3)
	return NewRanker(tok, NewScorer(tok), opts, zerolog.Nop())
}

func TestRankerThresholdFilter(t *testing.T) {
	r := newTestRanker(RankerOptions{SimilarityThreshold: 1.0})

	got := r.Rank("任何查询", []Candidate{
		{ID: "near", Text: "近", Distance: 0.4},
		{ID: "far", Text: "远", Distance: 1.4},
	}, 10)

	if len(got) != 1 || got[0].ID != "near" {
		t.Fatalf("Rank = %+v, want only the near candidate", got)
	}
}

func TestRankerAllFiltered(t *testing.T) {
	r := newTestRanker(RankerOptions{SimilarityThreshold: 0.5})
	got := r.Rank("查询", []Candidate{{ID: "a", Text: "文本", Distance: 0.9}}, 10)
	if got != nil {
		t.Fatalf("Rank = %+v, want nil when everything is above threshold", got)
	}
}

func TestRankerPureVectorMode(t *testing.T) {
	// Keyword boost disabled: order by distance, score 1 - d/2.
	r := newTestRanker(RankerOptions{SimilarityThreshold: 1.5, EnableKeywordBoost: false})

	got := r.Rank("我喜欢猫", []Candidate{
		{ID: "b", Text: "乙", Distance: 0.8},
		{ID: "a", Text: "甲", Distance: 0.2},
	}, 10)

	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("order = %v", ids(got))
	}
	if math.Abs(got[0].RRFScore-0.9) > 1e-12 {
		t.Errorf("score(a) = %v, want 0.9", got[0].RRFScore)
	}
	if math.Abs(got[1].RRFScore-0.6) > 1e-12 {
		t.Errorf("score(b) = %v, want 0.6", got[1].RRFScore)
	}
}

func TestRankerSingleCandidateSkipsFusion(t *testing.T) {
	r := newTestRanker(RankerOptions{
		SimilarityThreshold: 1.5,
		EnableKeywordBoost:  true,
		KeywordWeight:       0.5,
	})

	got := r.Rank("我喜欢猫", []Candidate{{ID: "only", Text: "我喜欢猫", Distance: 0.5}}, 10)
	if len(got) != 1 {
		t.Fatalf("len = %d", len(got))
	}
	if math.Abs(got[0].RRFScore-0.75) > 1e-12 {
		t.Errorf("single candidate score = %v, want pure 1-d/2", got[0].RRFScore)
	}
}

func TestRankerFusedOrder(t *testing.T) {
	r := newTestRanker(RankerOptions{
		SimilarityThreshold: 1.5,
		EnableKeywordBoost:  true,
		KeywordWeight:       0.5,
	})

	// "vec" wins the vector axis, "kw" wins the keyword axis. Fusion is
	// purely positional, so at equal weights the rank contributions cancel
	// no matter how large the keyword score margin is: the fused scores tie
	// and stable sort keeps input order. The keyword-heavy run below is the
	// case that can lift "kw" past the closer vector hit.
	candidates := []Candidate{
		{ID: "vec", Text: "完全无关的内容", Distance: 0.1},
		{ID: "kw", Text: "我喜欢猫", Distance: 0.9},
	}

	got := r.Rank("我喜欢猫", append([]Candidate(nil), candidates...), 10)
	if got[0].ID != "vec" {
		t.Errorf("equal weights: order = %v, want stable input order", ids(got))
	}

	rKw := newTestRanker(RankerOptions{
		SimilarityThreshold: 1.5,
		EnableKeywordBoost:  true,
		KeywordWeight:       0.8,
	})
	got = rKw.Rank("我喜欢猫", append([]Candidate(nil), candidates...), 10)
	if got[0].ID != "kw" {
		t.Errorf("keyword-heavy weights: order = %v, want kw first", ids(got))
	}

	// Hand-check the fused score of the winner: vector rank 2, keyword
	// rank 1, weights 0.2 / 0.8.
	want := 0.2/(60.0+2) + 0.8/(60.0+1)
	if math.Abs(got[0].RRFScore-want) > 1e-12 {
		t.Errorf("RRFScore = %v, want %v", got[0].RRFScore, want)
	}
}

func TestRankerLimit(t *testing.T) {
	r := newTestRanker(RankerOptions{SimilarityThreshold: 1.5})
	got := r.Rank("查询", []Candidate{
		{ID: "a", Text: "甲", Distance: 0.1},
		{ID: "b", Text: "乙", Distance: 0.2},
		{ID: "c", Text: "丙", Distance: 0.3},
	}, 2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
}

func TestRelevancePercent(t *testing.T) {
	tests := []struct {
		name    string
		c       Candidate
		bestRRF float64
		fused   bool
		want    int
	}{
		{
			name:  "pure vector close",
			c:     Candidate{Distance: 0.2},
			fused: false,
			want:  90,
		},
		{
			name:  "pure vector far clamps at zero",
			c:     Candidate{Distance: 2.5},
			fused: false,
			want:  0,
		},
		{
			name:    "fused best candidate scaled by quality",
			c:       Candidate{Distance: 0.75, RRFScore: 0.02},
			bestRRF: 0.02,
			fused:   true,
			want:    50,
		},
		{
			name:    "fused beyond quality range",
			c:       Candidate{Distance: 1.6, RRFScore: 0.02},
			bestRRF: 0.02,
			fused:   true,
			want:    0,
		},
		{
			name:    "fused zero best falls back to floor",
			c:       Candidate{Distance: 0, RRFScore: 0},
			bestRRF: 0,
			fused:   true,
			want:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RelevancePercent(tt.c, tt.bestRRF, tt.fused); got != tt.want {
				t.Errorf("RelevancePercent = %d, want %d", got, tt.want)
			}
		})
	}
}

func ids(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}
