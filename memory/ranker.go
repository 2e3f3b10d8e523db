package memory

import (
	"sort"

	"github.com/rs/zerolog"
)

const rrfK = 60.0

// RankerOptions tune the fusion of vector distance and keyword relevance.
type RankerOptions struct {
	SimilarityThreshold float64
	KeywordWeight       float64
	EnableKeywordBoost  bool
	UseLegacyScorer     bool
}

// Ranker orders retrieval candidates by reciprocal rank fusion of the vector
// ranking and the keyword ranking.
type Ranker struct {
	tokenizer *Tokenizer
	scorer    *Scorer
	opts      RankerOptions
	logger    zerolog.Logger
}

// NewRanker creates a ranker.
func NewRanker(tokenizer *Tokenizer, scorer *Scorer, opts RankerOptions, logger zerolog.Logger) *Ranker {
	return &Ranker{
		tokenizer: tokenizer,
		scorer:    scorer,
		opts:      opts,
		logger:    logger.With().Str("component", "ranker").Logger(),
	}
}

// Rank filters candidates by the similarity threshold, fuses the two
// rankings, and returns the top limit candidates in final order. Candidates
// whose distance exceeds the threshold never survive, regardless of keyword
// score.
func (r *Ranker) Rank(query string, candidates []Candidate, limit int) []Candidate {
	keywords := r.tokenizer.Extract(query)

	kept := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Distance > r.opts.SimilarityThreshold {
			r.logger.Debug().
				Float64("distance", c.Distance).
				Float64("threshold", r.opts.SimilarityThreshold).
				Msg("Skipping candidate above similarity threshold")
			continue
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		return nil
	}

	if r.opts.UseLegacyScorer {
		for i := range kept {
			kept[i].KeywordScore = r.scorer.ScoreLegacy(keywords, kept[i].Text)
		}
	} else {
		docs := make([]string, len(kept))
		for i := range kept {
			docs[i] = kept[i].Text
		}
		stats := r.scorer.BuildCorpusStats(keywords, docs)
		for i := range kept {
			kept[i].KeywordScore = r.scorer.Score(keywords, kept[i].Text, stats)
		}
	}

	if r.opts.EnableKeywordBoost && len(keywords) > 0 && len(kept) > 1 {
		r.fuse(kept)
	} else {
		for i := range kept {
			score := 1 - kept[i].Distance/2.0
			if score < 0 {
				score = 0
			}
			kept[i].RRFScore = score
		}
		sort.SliceStable(kept, func(i, j int) bool {
			return kept[i].Distance < kept[j].Distance
		})
	}

	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}

// fuse assigns 1-based ranks along both axes and combines them with the
// standard RRF constant k=60, weighted by the configured keyword weight.
func (r *Ranker) fuse(candidates []Candidate) {
	vectorW := 1.0 - r.opts.KeywordWeight
	keywordW := r.opts.KeywordWeight

	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}

	sort.SliceStable(order, func(a, b int) bool {
		return candidates[order[a]].Distance < candidates[order[b]].Distance
	})
	for rank, idx := range order {
		candidates[idx].VectorRank = rank + 1
	}

	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return candidates[order[a]].KeywordScore > candidates[order[b]].KeywordScore
	})
	for rank, idx := range order {
		candidates[idx].KeywordRank = rank + 1
	}

	for i := range candidates {
		candidates[i].RRFScore = vectorW/(rrfK+float64(candidates[i].VectorRank)) +
			keywordW/(rrfK+float64(candidates[i].KeywordRank))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].RRFScore > candidates[j].RRFScore
	})
}

// RelevancePercent maps a candidate's fused score to a 0..100 display value.
// In fused mode the score is normalized against the best candidate and scaled
// by a distance quality factor; in pure vector mode it is derived from
// distance alone.
func RelevancePercent(c Candidate, bestRRF float64, fused bool) int {
	if fused {
		quality := (1.5 - c.Distance) / 1.5
		if quality < 0 {
			quality = 0
		}
		denom := bestRRF
		if denom < 1e-9 {
			denom = 1e-9
		}
		raw := c.RRFScore / denom * 100 * quality
		return clampPercent(int(raw))
	}
	return clampPercent(int((1 - c.Distance/2.0) * 100))
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
