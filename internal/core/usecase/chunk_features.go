package usecase

import (
	"math"
	"strings"

	"github.com/kirillkom/witness-retrieval/internal/core/textnorm"
)

const (
	maxTopicKeywords      = 8
	complexitySentenceCap = 40.0
)

// topicKeywords puts the catalog chapter topics first and fills the rest with the
// chunk's most frequent content terms.
func topicKeywords(chapterTopics []string, text string) []string {
	out := make([]string, 0, maxTopicKeywords)
	seen := make(map[string]struct{}, maxTopicKeywords)
	add := func(term string) {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" || len(out) >= maxTopicKeywords {
			return
		}
		if _, ok := seen[term]; ok {
			return
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	for _, topic := range chapterTopics {
		add(topic)
	}
	for _, term := range textnorm.TopTerms(text, maxTopicKeywords) {
		add(term)
	}
	return out
}

// complexityScore blends average sentence length and lexical variety into [0,1].
func complexityScore(text string) float64 {
	tokens := textnorm.Tokenize(text)
	if len(tokens) == 0 {
		return 0
	}

	sentences := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	sentenceCount := 0
	for _, s := range sentences {
		if strings.TrimSpace(s) != "" {
			sentenceCount++
		}
	}
	if sentenceCount == 0 {
		sentenceCount = 1
	}

	avgSentence := float64(len(tokens)) / float64(sentenceCount)
	variety := float64(len(textnorm.UniqueTokens(text))) / float64(len(tokens))
	score := 0.5*math.Min(1, avgSentence/complexitySentenceCap) + 0.5*variety
	return math.Round(score*100) / 100
}
