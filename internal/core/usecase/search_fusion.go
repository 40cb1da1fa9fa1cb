package usecase

import (
	"math"
	"sort"

	"github.com/kirillkom/witness-retrieval/internal/core/domain"
)

// hybridBoost rewards chunks found by both vector and lexical search.
const hybridBoost = 1.3

// fuseResults merges vector and lexical candidates by chunk id. Vector hits keep their
// similarity; a lexical hit on an existing id is boosted (capped at 1.0) and retagged hybrid;
// lexical-only hits keep their text rank and are tagged fulltext. Ties keep insertion order.
func fuseResults(vector, lexical []domain.SearchResult, limit int) []domain.SearchResult {
	out := make([]domain.SearchResult, 0, len(vector)+len(lexical))
	index := make(map[int64]int, len(vector)+len(lexical))

	for _, hit := range vector {
		if _, ok := index[hit.Chunk.ID]; ok {
			continue
		}
		hit.MatchType = domain.MatchVector
		index[hit.Chunk.ID] = len(out)
		out = append(out, hit)
	}

	for _, hit := range lexical {
		if pos, ok := index[hit.Chunk.ID]; ok {
			existing := out[pos]
			if existing.MatchType != domain.MatchVector {
				existing.MatchedTerms = appendUniqueTerms(existing.MatchedTerms, hit.MatchedTerms)
				out[pos] = existing
				continue
			}
			existing.Similarity = math.Min(1.0, existing.Similarity*hybridBoost)
			existing.MatchType = domain.MatchHybrid
			existing.MatchedTerms = appendUniqueTerms(existing.MatchedTerms, hit.MatchedTerms)
			out[pos] = existing
			continue
		}
		hit.MatchType = domain.MatchFulltext
		index[hit.Chunk.ID] = len(out)
		out = append(out, hit)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	return trimResults(out, limit)
}

func trimResults(results []domain.SearchResult, limit int) []domain.SearchResult {
	if limit <= 0 || len(results) <= limit {
		return results
	}
	return results[:limit]
}

func appendUniqueTerms(dst, terms []string) []string {
	if len(terms) == 0 {
		return dst
	}
	seen := make(map[string]struct{}, len(dst)+len(terms))
	for _, term := range dst {
		seen[term] = struct{}{}
	}
	for _, term := range terms {
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		dst = append(dst, term)
	}
	return dst
}

func countMatchTypes(results []domain.SearchResult, analytics *domain.SearchAnalytics) {
	analytics.VectorMatches, analytics.FulltextMatches, analytics.HybridMatches = 0, 0, 0
	for _, r := range results {
		switch r.MatchType {
		case domain.MatchVector:
			analytics.VectorMatches++
		case domain.MatchFulltext:
			analytics.FulltextMatches++
		case domain.MatchHybrid:
			analytics.HybridMatches++
		}
	}
}
