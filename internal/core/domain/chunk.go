package domain

import (
	"sort"
	"time"
)

type Language string

const (
	LanguageEnglish Language = "en"
	LanguageHebrew  Language = "he"
)

func (l Language) Valid() bool {
	return l == LanguageEnglish || l == LanguageHebrew
}

// Alternate returns the other corpus language.
func (l Language) Alternate() Language {
	if l == LanguageHebrew {
		return LanguageEnglish
	}
	return LanguageHebrew
}

// Chunk is the stored unit of hybrid retrieval. Ref is unique across the corpus.
type Chunk struct {
	ID            int64     `json:"id"`
	WorkID        string    `json:"work_id"`
	Part          *int      `json:"part,omitempty"`
	Chapter       *int      `json:"chapter,omitempty"`
	Section       *int      `json:"section,omitempty"`
	Paragraph     *int      `json:"paragraph,omitempty"`
	Ref           string    `json:"ref"`
	ContentEN     string    `json:"content_en,omitempty"`
	ContentHE     string    `json:"content_he,omitempty"`
	WordCount     int       `json:"word_count"`
	CharCount     int       `json:"char_count"`
	EmbeddingEN   []float32 `json:"-"`
	EmbeddingHE   []float32 `json:"-"`
	TopicKeywords []string  `json:"topic_keywords,omitempty"`
	Complexity    float64   `json:"complexity"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (c Chunk) Text(lang Language) string {
	if lang == LanguageHebrew {
		return c.ContentHE
	}
	return c.ContentEN
}

type MatchType string

const (
	MatchVector   MatchType = "vector"
	MatchFulltext MatchType = "fulltext"
	MatchHybrid   MatchType = "hybrid"
)

type SearchResult struct {
	Chunk        Chunk     `json:"chunk"`
	Similarity   float64   `json:"similarity"`
	MatchType    MatchType `json:"match_type"`
	MatchedTerms []string  `json:"matched_terms,omitempty"`
}

type SearchMode string

const (
	SearchModeHybrid SearchMode = "hybrid"
	SearchModeVector SearchMode = "vector"
)

const DefaultSearchLimit = 10

type SearchOptions struct {
	Limit         int        `json:"limit"`
	MinSimilarity float64    `json:"min_similarity"`
	WorkIDs       []string   `json:"work_ids"`
	Language      Language   `json:"language"`
	Mode          SearchMode `json:"mode"`
}

// Normalize fills defaults and orders work ids so equal option sets compare equal.
func (o SearchOptions) Normalize() SearchOptions {
	out := o
	if out.Limit <= 0 {
		out.Limit = DefaultSearchLimit
	}
	if out.MinSimilarity < 0 {
		out.MinSimilarity = 0
	}
	if !out.Language.Valid() {
		out.Language = LanguageEnglish
	}
	if out.Mode != SearchModeVector {
		out.Mode = SearchModeHybrid
	}
	if len(out.WorkIDs) > 0 {
		ids := make([]string, len(out.WorkIDs))
		copy(ids, out.WorkIDs)
		sort.Strings(ids)
		out.WorkIDs = ids
	} else {
		out.WorkIDs = nil
	}
	return out
}

type SearchAnalytics struct {
	Duration          time.Duration `json:"duration"`
	ResultCount       int           `json:"result_count"`
	VectorCandidates  int           `json:"vector_candidates"`
	LexicalCandidates int           `json:"lexical_candidates"`
	VectorMatches     int           `json:"vector_matches"`
	FulltextMatches   int           `json:"fulltext_matches"`
	HybridMatches     int           `json:"hybrid_matches"`
	CacheHit          bool          `json:"cache_hit"`
	Degraded          bool          `json:"degraded"`
	CacheWriteError   string        `json:"cache_write_error,omitempty"`
	Warnings          []string      `json:"warnings,omitempty"`
}

type SearchResponse struct {
	Results   []SearchResult  `json:"results"`
	Analytics SearchAnalytics `json:"analytics"`
}

// SearchCacheEntry is an advisory fused ranking. MatchTypes parallels ChunkIDs and Scores.
type SearchCacheEntry struct {
	Key        string
	Query      string
	ChunkIDs   []int64
	Scores     []float64
	MatchTypes []MatchType
	ExpiresAt  time.Time
}

// ChunkDraft is a chunk before positions, keywords and embeddings are attached.
// FirstParagraph and LastParagraph are 1-based segment numbers within the passage.
type ChunkDraft struct {
	Ref            string
	Text           string
	AltText        string
	FirstParagraph int
	LastParagraph  int
	WordCount      int
	CharCount      int
}
