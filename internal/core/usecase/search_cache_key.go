package usecase

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/kirillkom/witness-retrieval/internal/core/domain"
)

func normalizeQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// searchCacheKey hashes the normalized query with the normalized options.
// opts must already be normalized so equivalent requests share a key.
func searchCacheKey(query string, opts domain.SearchOptions) string {
	encodedOpts, _ := json.Marshal(opts)
	sum := sha256.New()
	sum.Write([]byte(normalizeQuery(query)))
	sum.Write([]byte{0})
	sum.Write(encodedOpts)
	return hex.EncodeToString(sum.Sum(nil))
}
