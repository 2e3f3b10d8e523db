package profile

import (
	"regexp"
	"strings"
)

// Strong-evidence detection for protected basic_info fields. A field only
// changes when the memory text contains a first-person statement of the new
// fact; LLM inference alone is not enough.

var ageEvidenceRes = []*regexp.Regexp{
	regexp.MustCompile(`我(\d+)岁了?`),
	regexp.MustCompile(`今年(\d+)岁`),
	regexp.MustCompile(`出生于(\d{4})年`),
	regexp.MustCompile(`生日[是为]?(\d{4}[-年]\d{1,2}[-月]\d{1,2}日?)`),
}

var locationEvidenceRes = []*regexp.Regexp{
	regexp.MustCompile(`我在(.+?)(居住|生活|工作|上学|读书)`),
	regexp.MustCompile(`我家在(.+?)(居住|生活)?`),
	regexp.MustCompile(`住在(.+?)(市|区|县|省)`),
	regexp.MustCompile(`我是(.+?)(人|本地人)`),
	regexp.MustCompile(`来自(.+?)(省|市|区|县)`),
}

var jobEvidenceRes = []*regexp.Regexp{
	regexp.MustCompile(`我是(.*)(工程师|程序员|设计师|老师|医生|学生|护士|警察|律师)`),
	regexp.MustCompile(`我在(.+?)(工作|上班|当差|服役)`),
	regexp.MustCompile(`我的职业[是为](.+)`),
	regexp.MustCompile(`我做(.+?)(工作|职业|行业)`),
	regexp.MustCompile(`我是做(.+?)的`),
	regexp.MustCompile(`当(.+?)(工程师|老师|医生|司机)`),
}

var genderDeclRe = regexp.MustCompile(`性别[是为](男|女)`)

// Gender statement words, longest first so compound words are preferred.
var genderWords = []string{"男孩子", "女孩子", "男生", "女生", "男人", "女人", "男", "女"}

// Words that make a gender-looking statement about somebody else
// ("我是男朋友" is not a statement of the speaker's gender).
var genderConfounders = []string{"朋友", "票", "神", "生朋友"}

// hasStrongEvidence reports whether memoryTexts contains a first-person
// statement justifying a change to field.
func hasStrongEvidence(field, memoryTexts string) bool {
	switch field {
	case "gender":
		return genderEvidence(memoryTexts)
	case "age":
		return anyMatch(ageEvidenceRes, memoryTexts)
	case "location":
		return anyMatch(locationEvidenceRes, memoryTexts)
	case "job":
		return anyMatch(jobEvidenceRes, memoryTexts)
	}
	return false
}

func anyMatch(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// genderEvidence finds "我是<gender word>" statements. Every possible gender
// word at the position is tried; the statement counts only when some reading
// is not about a third party. Declarative "性别是男" forms count as well.
func genderEvidence(text string) bool {
	for _, prefix := range []string{"我是个", "我是"} {
		search := text
		for {
			i := strings.Index(search, prefix)
			if i < 0 {
				break
			}
			rest := search[i+len(prefix):]
			for _, word := range genderWords {
				if !strings.HasPrefix(rest, word) {
					continue
				}
				if !startsWithAny(rest[len(word):], genderConfounders) {
					return true
				}
			}
			search = search[i+len(prefix):]
		}
	}
	return genderDeclRe.MatchString(text)
}

func startsWithAny(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
