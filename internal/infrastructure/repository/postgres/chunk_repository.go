package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pgvector/pgvector-go"

	"github.com/kirillkom/witness-retrieval/internal/core/domain"
	"github.com/kirillkom/witness-retrieval/internal/core/textnorm"
)

const chunkColumns = `id, work_id, part_num, chapter_num, section_num, paragraph_num, ref, content_en, content_he,
	word_count, char_count, topic_keywords, complexity, created_at, updated_at`

type ChunkRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewChunkRepository(db *sql.DB) *ChunkRepository {
	return &ChunkRepository{db: db, now: time.Now}
}

func embeddingColumn(lang domain.Language) string {
	if lang == domain.LanguageHebrew {
		return "embedding_he"
	}
	return "embedding_en"
}

// VectorSearch ranks chunks by cosine similarity of the language's embedding.
func (r *ChunkRepository) VectorSearch(ctx context.Context, embedding []float32, opts domain.SearchOptions) ([]domain.SearchResult, error) {
	opts = opts.Normalize()
	column := embeddingColumn(opts.Language)

	args := []any{pgvector.NewVector(embedding), opts.MinSimilarity}
	query := fmt.Sprintf(`
SELECT %s, 1 - (%s <=> $1) AS similarity
FROM chunks
WHERE %s IS NOT NULL
	AND 1 - (%s <=> $1) >= $2
`, chunkColumns, column, column, column)
	if len(opts.WorkIDs) > 0 {
		query += fmt.Sprintf("\tAND work_id IN (%s)\n", inPlaceholders(len(args)+1, len(opts.WorkIDs)))
		for _, id := range opts.WorkIDs {
			args = append(args, id)
		}
	}
	args = append(args, opts.Limit)
	query += fmt.Sprintf("ORDER BY %s <=> $1\nLIMIT $%d", column, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	out := make([]domain.SearchResult, 0, opts.Limit)
	for rows.Next() {
		var similarity float64
		chunk, err := scanChunk(rows, &similarity)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.SearchResult{Chunk: chunk, Similarity: similarity, MatchType: domain.MatchVector})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vector search: %w", err)
	}
	return out, nil
}

// LexicalSearch ANDs the query tokens as prefix terms and ranks with ts_rank.
// The similarity floor does not apply: text ranks are not on the cosine scale.
func (r *ChunkRepository) LexicalSearch(ctx context.Context, query string, opts domain.SearchOptions) ([]domain.SearchResult, error) {
	opts = opts.Normalize()
	terms := lexicalTerms(query)
	if len(terms) == 0 {
		return []domain.SearchResult{}, nil
	}

	args := []any{prefixQuery(terms)}
	sqlQuery := fmt.Sprintf(`
SELECT %s, ts_rank(search_vector, q) AS rank
FROM chunks, to_tsquery('simple', $1) AS q
WHERE search_vector @@ q
`, chunkColumns)
	if len(opts.WorkIDs) > 0 {
		sqlQuery += fmt.Sprintf("\tAND work_id IN (%s)\n", inPlaceholders(len(args)+1, len(opts.WorkIDs)))
		for _, id := range opts.WorkIDs {
			args = append(args, id)
		}
	}
	args = append(args, opts.Limit)
	sqlQuery += fmt.Sprintf("ORDER BY rank DESC, id\nLIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	out := make([]domain.SearchResult, 0, opts.Limit)
	for rows.Next() {
		var rank float64
		chunk, err := scanChunk(rows, &rank)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.SearchResult{
			Chunk:        chunk,
			Similarity:   rank,
			MatchType:    domain.MatchFulltext,
			MatchedTerms: matchedTerms(terms, chunk),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lexical search: %w", err)
	}
	return out, nil
}

// GetByIDs returns the chunks in the order of ids; unknown ids are skipped.
func (r *ChunkRepository) GetByIDs(ctx context.Context, ids []int64) ([]domain.Chunk, error) {
	if len(ids) == 0 {
		return []domain.Chunk{}, nil
	}
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT %s
FROM chunks
WHERE id IN (%s)
`, chunkColumns, inPlaceholders(1, len(ids))), args...)
	if err != nil {
		return nil, fmt.Errorf("get chunks by ids: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]domain.Chunk, len(ids))
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		byID[chunk.ID] = chunk
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	out := make([]domain.Chunk, 0, len(byID))
	for _, id := range ids {
		if chunk, ok := byID[id]; ok {
			out = append(out, chunk)
		}
	}
	return out, nil
}

// UpsertChunks writes the batch in one transaction keyed by the unique ref.
func (r *ChunkRepository) UpsertChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chunk tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := r.now().UTC()
	for _, chunk := range chunks {
		keywords := chunk.TopicKeywords
		if keywords == nil {
			keywords = []string{}
		}
		keywordsJSON, err := json.Marshal(keywords)
		if err != nil {
			return fmt.Errorf("marshal topic keywords: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
INSERT INTO chunks (
	work_id, part_num, chapter_num, section_num, paragraph_num, ref, content_en, content_he,
	word_count, char_count, embedding_en, embedding_he, topic_keywords, complexity, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15)
ON CONFLICT (ref) DO UPDATE SET
	work_id = EXCLUDED.work_id,
	part_num = EXCLUDED.part_num,
	chapter_num = EXCLUDED.chapter_num,
	section_num = EXCLUDED.section_num,
	paragraph_num = EXCLUDED.paragraph_num,
	content_en = EXCLUDED.content_en,
	content_he = EXCLUDED.content_he,
	word_count = EXCLUDED.word_count,
	char_count = EXCLUDED.char_count,
	embedding_en = EXCLUDED.embedding_en,
	embedding_he = EXCLUDED.embedding_he,
	topic_keywords = EXCLUDED.topic_keywords,
	complexity = EXCLUDED.complexity,
	updated_at = EXCLUDED.updated_at
`,
			chunk.WorkID, nullableInt(chunk.Part), nullableInt(chunk.Chapter), nullableInt(chunk.Section), nullableInt(chunk.Paragraph),
			chunk.Ref, chunk.ContentEN, chunk.ContentHE, chunk.WordCount, chunk.CharCount,
			vectorArg(chunk.EmbeddingEN), vectorArg(chunk.EmbeddingHE), keywordsJSON, chunk.Complexity, now,
		)
		if err != nil {
			return fmt.Errorf("upsert chunk %q: %w", chunk.Ref, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunk tx: %w", err)
	}
	return nil
}

// CountByWork reports how many chunks each work has stored.
func (r *ChunkRepository) CountByWork(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT work_id, COUNT(*) FROM chunks GROUP BY work_id`)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var workID string
		var n int
		if err := rows.Scan(&workID, &n); err != nil {
			return nil, fmt.Errorf("scan chunk count: %w", err)
		}
		out[workID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk counts: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner, extra ...any) (domain.Chunk, error) {
	var (
		chunk                             domain.Chunk
		part, chapter, section, paragraph sql.NullInt64
		keywordsRaw                       []byte
	)
	dest := []any{
		&chunk.ID, &chunk.WorkID, &part, &chapter, &section, &paragraph, &chunk.Ref,
		&chunk.ContentEN, &chunk.ContentHE, &chunk.WordCount, &chunk.CharCount,
		&keywordsRaw, &chunk.Complexity, &chunk.CreatedAt, &chunk.UpdatedAt,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return domain.Chunk{}, fmt.Errorf("scan chunk: %w", err)
	}

	if len(keywordsRaw) > 0 {
		if err := json.Unmarshal(keywordsRaw, &chunk.TopicKeywords); err != nil {
			return domain.Chunk{}, fmt.Errorf("unmarshal topic keywords: %w", err)
		}
	}
	chunk.Part = intFromNull(part)
	chunk.Chapter = intFromNull(chapter)
	chunk.Section = intFromNull(section)
	chunk.Paragraph = intFromNull(paragraph)
	return chunk, nil
}

// lexicalTerms drops stop words and tokens under three runes unless nothing else is left.
func lexicalTerms(query string) []string {
	tokens := textnorm.UniqueTokens(query)
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if textnorm.IsStopWord(token) || utf8.RuneCountInString(token) < 3 {
			continue
		}
		out = append(out, token)
	}
	if len(out) == 0 {
		return tokens
	}
	return out
}

// prefixQuery renders tokens as "a:* & b:*" for to_tsquery.
func prefixQuery(terms []string) string {
	parts := make([]string, 0, len(terms))
	for _, term := range terms {
		parts = append(parts, term+":*")
	}
	return strings.Join(parts, " & ")
}

func matchedTerms(terms []string, chunk domain.Chunk) []string {
	content := textnorm.UniqueTokens(chunk.ContentEN + " " + chunk.ContentHE)
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		for _, token := range content {
			if strings.HasPrefix(token, term) {
				out = append(out, term)
				break
			}
		}
	}
	return out
}

func vectorArg(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func intFromNull(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
