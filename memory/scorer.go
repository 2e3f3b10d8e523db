package memory

import "strings"

const (
	bm25K1        = 1.2
	bm25B         = 0.75
	bm25AvgDocLen = 80.0

	idfCap           = 4.0
	coverageCap      = 1.5
	coverageBonusMul = 0.15
)

// CorpusStats carries document frequencies computed over a candidate result
// set, so rare keywords in that set weigh more than common ones.
type CorpusStats struct {
	TotalDocs      int
	KeywordDocFreq map[string]int
}

// Scorer ranks documents against query keywords with a BM25-style saturation
// curve and boundary-aware term frequency. Chinese keywords count against the
// document's n-gram multiset, English keywords against whole words only, so a
// query term never matches across a word or script boundary.
type Scorer struct {
	tokenizer *Tokenizer
}

// NewScorer creates a scorer sharing the tokenizer's n-gram range.
func NewScorer(tokenizer *Tokenizer) *Scorer {
	return &Scorer{tokenizer: tokenizer}
}

// docIndex is one document's precomputed term frequency tables.
type docIndex struct {
	englishTf map[string]int
	cjkTf     map[string]int
	docLen    float64
}

func (s *Scorer) indexDoc(text string) docIndex {
	lower := strings.ToLower(text)
	en := englishWords(lower)
	zh := s.tokenizer.cjkGrams(lower)
	total := len(en)
	for _, c := range zh {
		total += c
	}
	if total < 1 {
		total = 1
	}
	return docIndex{englishTf: en, cjkTf: zh, docLen: float64(total)}
}

func (d docIndex) tf(keyword string) int {
	if isCJKKeyword(keyword) {
		return d.cjkTf[keyword]
	}
	return d.englishTf[keyword]
}

// BuildCorpusStats computes per-keyword document frequencies over docs.
func (s *Scorer) BuildCorpusStats(keywords []string, docs []string) CorpusStats {
	stats := CorpusStats{
		TotalDocs:      len(docs),
		KeywordDocFreq: make(map[string]int),
	}
	for _, doc := range docs {
		idx := s.indexDoc(doc)
		for _, kw := range keywords {
			if idx.tf(kw) > 0 {
				stats.KeywordDocFreq[kw]++
			}
		}
	}
	return stats
}

// Score computes the keyword relevance of doc for the given query keywords.
// Matched terms saturate BM25-style, rare terms (low document frequency in
// the candidate set) are boosted, and a coverage bonus rewards documents
// matching many distinct query keywords.
func (s *Scorer) Score(keywords []string, doc string, stats CorpusStats) float64 {
	if len(keywords) == 0 || doc == "" {
		return 0
	}
	idx := s.indexDoc(doc)

	totalDocs := stats.TotalDocs
	if totalDocs < 1 {
		totalDocs = 1
	}

	var score float64
	var matchedTfSum int
	for _, kw := range keywords {
		tf := idx.tf(kw)
		if tf <= 0 {
			continue
		}
		matchedTfSum += tf
		normTf := normalizeTf(float64(tf), idx.docLen)

		df := stats.KeywordDocFreq[kw]
		idf := 1.0 + (float64(totalDocs)+1.0)/(float64(df)+1.0)
		if idf > idfCap {
			idf = idfCap
		}
		score += normTf * idf
	}

	coverage := float64(matchedTfSum) / float64(max(1, len(keywords)))
	if coverage > coverageCap {
		coverage = coverageCap
	}
	return score * (1.0 + coverageBonusMul*coverage)
}

// ScoreLegacy is the substring-containment scorer kept behind a config
// switch. It weights keywords by length instead of document frequency and
// measures document length in bytes of lowercased text.
func (s *Scorer) ScoreLegacy(keywords []string, doc string) float64 {
	if len(keywords) == 0 || doc == "" {
		return 0
	}
	lower := strings.ToLower(doc)
	docLen := float64(max(1, len(lower)))

	var score float64
	for _, kw := range keywords {
		if !strings.Contains(lower, kw) {
			continue
		}
		tf := float64(strings.Count(lower, kw))
		normTf := normalizeTf(tf, docLen)
		weight := float64(len(kw)) / 2.0
		if weight < 1.0 {
			weight = 1.0
		} else if weight > 3.0 {
			weight = 3.0
		}
		score += normTf * weight
	}
	return score
}

func normalizeTf(tf, docLen float64) float64 {
	return (tf * (bm25K1 + 1)) / (tf + bm25K1*(1-bm25B+bm25B*docLen/bm25AvgDocLen))
}
