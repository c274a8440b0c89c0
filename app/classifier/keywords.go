package classifier

import (
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"
)

// Candidate is one category the pipeline may assign: an enabled knowledge
// type or an active custom group
type Candidate struct {
	ID            uint
	Name          string
	Rule          string
	Examples      []string
	Keywords      []string
	SupportsImage bool
}

// KeywordMatcher tests keywords as case-insensitive whole words.
// Compiled patterns are cached per keyword.
type KeywordMatcher struct {
	mu       sync.RWMutex
	patterns map[string]*regexp.Regexp
}

func NewKeywordMatcher() *KeywordMatcher {
	return &KeywordMatcher{patterns: make(map[string]*regexp.Regexp)}
}

// Match returns the first candidate, in order, with a keyword found in text
func (m *KeywordMatcher) Match(text string, candidates []Candidate) (uint, bool) {
	if strings.TrimSpace(text) == "" {
		return 0, false
	}
	for _, c := range candidates {
		for _, kw := range c.Keywords {
			re := m.pattern(kw)
			if re != nil && re.MatchString(text) {
				return c.ID, true
			}
		}
	}
	return 0, false
}

func (m *KeywordMatcher) pattern(keyword string) *regexp.Regexp {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil
	}

	m.mu.RLock()
	re, ok := m.patterns[keyword]
	m.mu.RUnlock()
	if ok {
		return re
	}

	re = regexp.MustCompile(keywordExpr(keyword))
	m.mu.Lock()
	m.patterns[keyword] = re
	m.mu.Unlock()
	return re
}

// keywordExpr anchors the keyword on word boundaries. RE2's \b only knows
// ASCII word characters, so the anchor is dropped on a side that starts or
// ends with another script (Thai has no spaces between words).
func keywordExpr(keyword string) string {
	first, _ := utf8.DecodeRuneInString(keyword)
	last, _ := utf8.DecodeLastRuneInString(keyword)

	var sb strings.Builder
	sb.WriteString("(?i)")
	if isASCIIWord(first) {
		sb.WriteString(`\b`)
	}
	sb.WriteString(regexp.QuoteMeta(keyword))
	if isASCIIWord(last) {
		sb.WriteString(`\b`)
	}
	return sb.String()
}

func isASCIIWord(r rune) bool {
	return r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
