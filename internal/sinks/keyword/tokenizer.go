// Package keyword implements the keyword sink as an owned,
// lock-protected inverted index.
package keyword

import (
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "in": {},
	"is": {}, "it": {}, "its": {}, "of": {}, "on": {}, "or": {},
	"that": {}, "the": {}, "to": {}, "was": {}, "were": {}, "will": {},
	"with": {}, "this": {}, "but": {}, "they": {}, "have": {},
	"had": {}, "what": {}, "when": {}, "where": {}, "which": {},
	"their": {}, "if": {}, "do": {}, "not": {}, "no": {}, "so": {},
}

// token is one normalized term with its position in the source text.
type token struct {
	term     string
	position int
}

// tokenize lowercases text, splits on non-alphanumeric boundaries,
// drops stop-words and single characters, and stems each term.
func tokenize(text string) []token {
	text = strings.ToLower(text)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]token, 0, len(words)/2)
	pos := 0
	for _, word := range words {
		if len(word) < 2 {
			continue
		}
		if _, isStop := stopWords[word]; isStop {
			continue
		}
		stemmed := stem(word)
		if stemmed == "" {
			continue
		}
		tokens = append(tokens, token{term: stemmed, position: pos})
		pos++
	}
	return tokens
}

// stem applies a simple suffix-stripping stemmer.
func stem(word string) string {
	suffixes := []struct {
		suffix      string
		replacement string
		minStem     int
	}{
		{"ational", "ate", 2},
		{"tional", "tion", 2},
		{"izing", "ize", 2},
		{"ating", "ate", 2},
		{"ously", "ous", 2},
		{"ively", "ive", 2},
		{"ying", "y", 2},
		{"ies", "y", 2},
		{"ing", "", 3},
		{"ers", "er", 2},
		{"est", "", 3},
		{"ful", "", 3},
		{"ed", "", 3},
		{"er", "", 3},
		{"ly", "", 3},
		{"s", "", 3},
	}
	for _, rule := range suffixes {
		if strings.HasSuffix(word, rule.suffix) && len(word)-len(rule.suffix) >= rule.minStem {
			return word[:len(word)-len(rule.suffix)] + rule.replacement
		}
	}
	return word
}
