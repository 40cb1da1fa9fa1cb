// Package textnorm holds the tokenization shared by keyword extraction and lexical query building.
package textnorm

import (
	"sort"
	"strings"
	"unicode"
)

// Tokenize lowercases s and splits it on every rune that is not a letter or digit.
// Hebrew and other scripts are kept; combining marks (niqqud, cantillation) are dropped.
func Tokenize(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}

// UniqueTokens returns the distinct tokens of s in first-seen order.
func UniqueTokens(s string) []string {
	tokens := Tokenize(s)
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}

func WordCount(s string) int {
	return len(strings.Fields(s))
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "that": {}, "this": {}, "with": {}, "from": {}, "have": {}, "which": {},
	"there": {}, "their": {}, "they": {}, "them": {}, "what": {}, "when": {}, "will": {}, "would": {},
	"should": {}, "could": {}, "shall": {}, "these": {}, "those": {}, "were": {}, "been": {}, "being": {},
	"into": {}, "upon": {}, "unto": {}, "about": {}, "also": {}, "only": {}, "even": {}, "very": {},
	"such": {}, "than": {}, "then": {}, "because": {}, "other": {}, "does": {}, "each": {}, "every": {},
	"must": {}, "more": {}, "most": {}, "himself": {}, "themselves": {}, "itself": {}, "your": {}, "while": {},
}

func IsStopWord(token string) bool {
	_, ok := stopWords[token]
	return ok
}

// TopTerms returns up to limit content-bearing tokens of s ordered by frequency,
// first occurrence breaking ties. Tokens shorter than four runes and stop words are skipped.
func TopTerms(s string, limit int) []string {
	if limit <= 0 {
		return nil
	}
	type termCount struct {
		term  string
		count int
		first int
	}
	counts := make(map[string]*termCount)
	for i, token := range Tokenize(s) {
		if len([]rune(token)) < 4 || IsStopWord(token) || isNumeric(token) {
			continue
		}
		tc, ok := counts[token]
		if !ok {
			tc = &termCount{term: token, first: i}
			counts[token] = tc
		}
		tc.count++
	}

	ordered := make([]*termCount, 0, len(counts))
	for _, tc := range counts {
		ordered = append(ordered, tc)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].count != ordered[j].count {
			return ordered[i].count > ordered[j].count
		}
		return ordered[i].first < ordered[j].first
	})
	if len(ordered) > limit {
		ordered = ordered[:limit]
	}

	out := make([]string, 0, len(ordered))
	for _, tc := range ordered {
		out = append(out, tc.term)
	}
	return out
}

func isNumeric(token string) bool {
	for _, r := range token {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
