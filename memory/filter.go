package memory

import "strings"

// ContentFilter decides which messages are meaningful enough to archive,
// retrieve, or export. Command-like input, internal markers, and trivially
// short messages are excluded.
type ContentFilter struct {
	commandPrefixes []string
	filterCommands  bool
}

// NewContentFilter creates a filter. prefixes may be empty.
func NewContentFilter(prefixes []string, filterCommands bool) *ContentFilter {
	kept := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return &ContentFilter{commandPrefixes: kept, filterCommands: filterCommands}
}

// Valid reports whether content should be kept. Three rules apply, on the
// trimmed text:
//  1. command-prefixed messages are dropped when command filtering is on
//  2. text containing an underscore but no space is an internal marker
//  3. text with fewer than two Chinese characters and fewer than ten
//     characters total is too short to matter
func (f *ContentFilter) Valid(content string) bool {
	content = strings.TrimSpace(content)

	if f.filterCommands {
		for _, prefix := range f.commandPrefixes {
			if strings.HasPrefix(content, prefix) {
				return false
			}
		}
	}

	if strings.Contains(content, "_") && !strings.Contains(content, " ") {
		return false
	}

	cjkCount := 0
	for _, r := range content {
		if r >= 0x4e00 && r <= 0x9fa5 {
			cjkCount++
		}
	}
	if cjkCount < 2 && len([]rune(content)) < 10 {
		return false
	}

	return true
}
