package search

import (
	"strings"
	"unicode"
)

// Stop words to filter out when locating query terms in a body
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true, "what": true, "when": true, "did": true, "my": true,
	"any": true, "which": true, "who": true,
}

// tokenizeAndFilter splits text into words, lowercases, trims punctuation, and removes stop words
func tokenizeAndFilter(text string) []string {
	words := strings.Fields(text)
	filtered := make([]string, 0, len(words))

	for _, word := range words {
		// Lowercase and trim punctuation
		cleaned := strings.Map(unicode.ToLower, strings.Trim(word, ".,!?;:'\"-()[]{}"))

		// Skip stop words and empty strings
		if cleaned != "" && !stopWords[cleaned] {
			filtered = append(filtered, cleaned)
		}
	}

	return filtered
}

// snippet returns up to n runes of body, starting a little before the first
// occurrence of any query term so the relevant passage survives truncation.
// Without a match the snippet is the start of the body.
func snippet(body, query string, n int) string {
	body = strings.Join(strings.Fields(body), " ")
	runes := []rune(body)
	if len(runes) <= n {
		return body
	}

	lower := lowerRunes(runes)
	start := -1
	for _, term := range tokenizeAndFilter(query) {
		if i := indexRunes(lower, []rune(term)); i >= 0 && (start < 0 || i < start) {
			start = i
		}
	}

	// keep some lead-in before the match
	const leadIn = 40
	switch {
	case start < 0:
		start = 0
	case start > leadIn:
		start -= leadIn
	default:
		start = 0
	}
	if start+n > len(runes) {
		start = len(runes) - n
	}

	out := string(runes[start : start+n])
	if start > 0 {
		out = "..." + out
	}
	if start+n < len(runes) {
		out += "..."
	}
	return out
}

// lowerRunes lowercases rune by rune so positions line up with the input.
// strings.ToLower may change the rune count, as for U+0130. Query terms are
// lowered the same way in tokenizeAndFilter.
func lowerRunes(runes []rune) []rune {
	out := make([]rune, len(runes))
	for i, r := range runes {
		out[i] = unicode.ToLower(r)
	}
	return out
}

func indexRunes(haystack, needle []rune) int {
	if len(needle) == 0 {
		return -1
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j, r := range needle {
			if haystack[i+j] != r {
				continue outer
			}
		}
		return i
	}
	return -1
}
