// Package evidence enriches answers with related issue reports from
// the project's GitHub repository.
package evidence

import (
	"strings"
	"unicode"
)

// stopwords are common words that carry no search signal.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "but": {}, "by": {}, "can": {}, "do": {}, "does": {},
	"for": {}, "from": {}, "get": {}, "has": {}, "have": {}, "how": {},
	"i": {}, "if": {}, "in": {}, "is": {}, "it": {}, "its": {},
	"me": {}, "my": {}, "not": {}, "of": {}, "on": {}, "or": {},
	"should": {}, "that": {}, "the": {}, "there": {}, "this": {},
	"to": {}, "use": {}, "using": {}, "was": {}, "what": {}, "when": {},
	"where": {}, "which": {}, "why": {}, "will": {}, "with": {},
	"work": {}, "you": {}, "your": {},
}

const maxKeywords = 5

// Keywords extracts up to five distinct search terms from a question.
// Words are lowercased, punctuation-stripped, and stopword-filtered;
// first occurrence order is preserved.
func Keywords(question string) []string {
	fields := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '-' && r != '_'
	})

	seen := make(map[string]struct{}, len(fields))
	var out []string
	for _, w := range fields {
		if len(w) < 3 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}
