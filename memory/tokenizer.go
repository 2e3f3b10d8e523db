package memory

import (
	"regexp"
	"strings"
)

var (
	englishTokenRe = regexp.MustCompile(`[a-z0-9]+(?:'[a-z0-9]+)?`)
	cjkRunRe       = regexp.MustCompile(`[\x{4e00}-\x{9fa5}]+`)
)

// shortTokenAllowlist keeps meaningful one- and two-letter English tokens
// that would otherwise be dropped by the length filter.
var shortTokenAllowlist = map[string]struct{}{
	"ai": {}, "ml": {}, "db": {}, "go": {}, "c": {}, "r": {},
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "to": {}, "of": {}, "in": {}, "on": {},
	"at": {}, "is": {}, "are": {}, "i": {}, "you": {}, "he": {}, "she": {}, "it": {},
	"我": {}, "你": {}, "他": {}, "她": {}, "它": {}, "这": {}, "那": {},
	"了": {}, "啊": {}, "呀": {}, "吗": {}, "呢": {}, "吧": {},
	"和": {}, "与": {}, "及": {}, "就": {}, "也": {},
}

// Tokenizer extracts deduplicated keywords from mixed Chinese and English
// text. English words are matched whole; Chinese runs are expanded into
// overlapping n-grams so that substring matches stay within script
// boundaries.
type Tokenizer struct {
	ngramMin int
	ngramMax int
}

// NewTokenizer creates a tokenizer with the given n-gram range. The range is
// clamped to sane values: min >= 2, max <= 6, max >= min.
func NewTokenizer(ngramMin, ngramMax int) *Tokenizer {
	if ngramMin < 2 {
		ngramMin = 2
	}
	if ngramMax > 6 {
		ngramMax = 6
	}
	if ngramMax < ngramMin {
		ngramMax = ngramMin
	}
	return &Tokenizer{ngramMin: ngramMin, ngramMax: ngramMax}
}

// Extract returns the unique keywords of text, in first-seen order.
func (t *Tokenizer) Extract(text string) []string {
	lower := strings.ToLower(text)

	var keywords []string
	seen := make(map[string]struct{})
	add := func(kw string) {
		if _, ok := seen[kw]; ok {
			return
		}
		seen[kw] = struct{}{}
		keywords = append(keywords, kw)
	}

	for _, word := range englishTokenRe.FindAllString(lower, -1) {
		if _, stop := stopwords[word]; stop {
			continue
		}
		if len(word) <= 1 {
			if _, ok := shortTokenAllowlist[word]; !ok {
				continue
			}
		}
		add(word)
	}

	for _, run := range cjkRunRe.FindAllString(lower, -1) {
		runes := []rune(run)
		for n := t.ngramMin; n <= t.ngramMax; n++ {
			if n > len(runes) {
				break
			}
			for i := 0; i+n <= len(runes); i++ {
				gram := string(runes[i : i+n])
				if _, stop := stopwords[gram]; stop {
					continue
				}
				add(gram)
			}
		}
	}

	return keywords
}

// cjkGrams expands a single text into the multiset of CJK n-grams it
// contains, counting repeated occurrences. Used by the scorer for
// boundary-aware term frequency.
func (t *Tokenizer) cjkGrams(lowerText string) map[string]int {
	grams := make(map[string]int)
	for _, run := range cjkRunRe.FindAllString(lowerText, -1) {
		runes := []rune(run)
		for n := t.ngramMin; n <= t.ngramMax; n++ {
			if n > len(runes) {
				break
			}
			for i := 0; i+n <= len(runes); i++ {
				grams[string(runes[i:i+n])]++
			}
		}
	}
	return grams
}

// englishWords expands a single text into its multiset of English word
// tokens, without the stopword or length filters. Term frequency lookups need
// every occurrence.
func englishWords(lowerText string) map[string]int {
	words := make(map[string]int)
	for _, w := range englishTokenRe.FindAllString(lowerText, -1) {
		words[w]++
	}
	return words
}

// isCJKKeyword reports whether kw consists of ideographic characters. The
// tokenizer never emits mixed-script keywords, so checking the first rune is
// enough.
func isCJKKeyword(kw string) bool {
	for _, r := range kw {
		return r >= 0x4e00 && r <= 0x9fa5
	}
	return false
}
