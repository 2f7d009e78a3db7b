// Package bm25 is the in-memory keyword index rebuilt from the Store on
// every write: Okapi BM25 scoring over a code-aware tokenization that
// splits camelCase and snake_case identifiers into their constituent words.
package bm25

import (
	"regexp"
	"strings"
)

var splitPunctuation = regexp.MustCompile(`[\s.,;:()\[\]{}"'` + "`" + `#@!?<>=+\-*/\\|&^]+`)
var camelBoundary = regexp.MustCompile(`([a-z])([A-Z])`)

// Tokenize splits text into lowercase words, respecting code naming
// conventions: "calculateTotal" and "calculate_total" both yield
// ["calculate", "total"].
func Tokenize(text string) []string {
	var tokens []string
	for _, word := range splitPunctuation.Split(text, -1) {
		if word == "" {
			continue
		}
		withUnderscores := camelBoundary.ReplaceAllString(word, "${1}_${2}")
		for _, t := range strings.Split(strings.ToLower(withUnderscores), "_") {
			if t != "" {
				tokens = append(tokens, t)
			}
		}
	}
	return tokens
}
