package search

import (
	"strings"
	"unicode"

	"github.com/lazypower/recall/internal/embed"
)

// QueryClass is the fusion weighting class of a query.
type QueryClass string

const (
	// KeywordHeavy queries up-weight the lexical list.
	KeywordHeavy QueryClass = "keyword"
	// Semantic queries up-weight the vector list.
	Semantic QueryClass = "semantic"
)

// Classify applies a fixed heuristic, not a trained model. A query is
// keyword-heavy when any of these hold:
//
//  1. it contains a double-quoted phrase;
//  2. it has at most 4 content tokens (after lowercasing and stripping
//     punctuation, single-character tokens dropped);
//  3. more than half of its whitespace-separated words after the first
//     start with an uppercase letter (proper-noun proxy).
//
// Everything else is semantic.
func Classify(query string) QueryClass {
	if strings.Count(query, `"`) >= 2 {
		return KeywordHeavy
	}

	if len(embed.Tokenize(query)) <= 4 {
		return KeywordHeavy
	}

	words := strings.Fields(query)
	if len(words) > 1 {
		upper := 0
		for _, w := range words[1:] {
			r := []rune(w)[0]
			if unicode.IsUpper(r) {
				upper++
			}
		}
		if upper*2 > len(words)-1 {
			return KeywordHeavy
		}
	}

	return Semantic
}
