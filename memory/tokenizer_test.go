package memory

import (
	"reflect"
	"testing"
)

func TestTokenizerExtract(t *testing.T) {
	tok := NewTokenizer(2, 3)

	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "english words keep order and drop stopwords",
			text: "I love the Go language",
			want: []string{"love", "go", "language"},
		},
		{
			name: "short token allowlist",
			text: "C and R vs X",
			want: []string{"c", "and", "r", "vs"},
		},
		{
			name: "chinese run expands into ngrams",
			text: "我喜欢猫",
			want: []string{"我喜", "喜欢", "欢猫", "我喜欢", "喜欢猫"},
		},
		{
			name: "punctuation splits chinese runs",
			text: "今天。天气",
			want: []string{"今天", "天气"},
		},
		{
			name: "mixed script keeps english before chinese",
			text: "Go语言很棒",
			want: []string{"go", "语言", "言很", "很棒", "语言很", "言很棒"},
		},
		{
			name: "duplicates collapse to first occurrence",
			text: "go go 猫粮猫粮",
			want: []string{"go", "猫粮", "粮猫", "猫粮猫", "粮猫粮"},
		},
		{
			name: "empty text",
			text: "",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tok.Extract(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Extract(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestNewTokenizerClampsRange(t *testing.T) {
	tok := NewTokenizer(0, 10)
	if tok.ngramMin != 2 || tok.ngramMax != 6 {
		t.Errorf("ngram range = (%d, %d), want (2, 6)", tok.ngramMin, tok.ngramMax)
	}

	tok = NewTokenizer(4, 3)
	if tok.ngramMax != 4 {
		t.Errorf("ngramMax = %d, want clamped up to min 4", tok.ngramMax)
	}
}

func TestCJKGramsCountsOccurrences(t *testing.T) {
	tok := NewTokenizer(2, 2)
	grams := tok.cjkGrams("我喜欢我喜欢")

	if got := grams["我喜"]; got != 2 {
		t.Errorf("count(我喜) = %d, want 2", got)
	}
	if got := grams["喜欢"]; got != 2 {
		t.Errorf("count(喜欢) = %d, want 2", got)
	}
	if got := grams["欢我"]; got != 1 {
		t.Errorf("count(欢我) = %d, want 1", got)
	}
}

func TestEnglishWordsIgnoresFilters(t *testing.T) {
	words := englishWords("the cat and the hat")
	if got := words["the"]; got != 2 {
		t.Errorf("count(the) = %d, want 2 (no stopword filter)", got)
	}
	if got := words["cat"]; got != 1 {
		t.Errorf("count(cat) = %d, want 1", got)
	}
}
