package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/witness-retrieval/internal/core/domain"
)

var fixedNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func newChunkRepoWithMock(t *testing.T) (*ChunkRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	repo := &ChunkRepository{db: db, now: func() time.Time { return fixedNow }}
	return repo, mock, func() { _ = db.Close() }
}

var chunkColumnNames = []string{
	"id", "work_id", "part_num", "chapter_num", "section_num", "paragraph_num", "ref", "content_en", "content_he",
	"word_count", "char_count", "topic_keywords", "complexity", "created_at", "updated_at",
}

func chunkRow(id int64, workID, ref, contentEN string, extra ...driver.Value) []driver.Value {
	row := []driver.Value{
		id, workID, nil, int64(1), nil, int64(1), ref, contentEN, "",
		int64(3), int64(len(contentEN)), []byte(`["providence"]`), 0.4, fixedNow, fixedNow,
	}
	return append(row, extra...)
}

func TestVectorSearchUsesLanguageColumnAndFilters(t *testing.T) {
	repo, mock, done := newChunkRepoWithMock(t)
	defer done()

	rows := sqlmock.NewRows(append(append([]string{}, chunkColumnNames...), "similarity")).
		AddRow(chunkRow(7, "derech-hashem", "Derech Hashem, Part Two, Chapter 1:1", "Providence is", 0.82)...)
	mock.ExpectQuery(`1 - \(embedding_he <=> \$1\) AS similarity(.|\n)*work_id IN \(\$3,\$4\)(.|\n)*ORDER BY embedding_he <=> \$1\s+LIMIT \$5`).
		WithArgs(sqlmock.AnyArg(), 0.2, "derech-hashem", "mesillat-yesharim", 5).
		WillReturnRows(rows)

	results, err := repo.VectorSearch(context.Background(), []float32{0.1, 0.2}, domain.SearchOptions{
		Limit:         5,
		MinSimilarity: 0.2,
		WorkIDs:       []string{"mesillat-yesharim", "derech-hashem"},
		Language:      domain.LanguageHebrew,
	})
	if err != nil {
		t.Fatalf("VectorSearch() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one result, got %d", len(results))
	}
	got := results[0]
	if got.MatchType != domain.MatchVector || got.Similarity != 0.82 {
		t.Fatalf("unexpected result: %+v", got)
	}
	if got.Chunk.Part != nil || got.Chunk.Chapter == nil || *got.Chunk.Chapter != 1 {
		t.Fatalf("unexpected positions: part=%v chapter=%v", got.Chunk.Part, got.Chunk.Chapter)
	}
	if !reflect.DeepEqual(got.Chunk.TopicKeywords, []string{"providence"}) {
		t.Fatalf("unexpected keywords: %v", got.Chunk.TopicKeywords)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestVectorSearchWrapsQueryError(t *testing.T) {
	repo, mock, done := newChunkRepoWithMock(t)
	defer done()

	boom := errors.New("connection reset")
	mock.ExpectQuery("embedding_en").WillReturnError(boom)

	_, err := repo.VectorSearch(context.Background(), []float32{1}, domain.SearchOptions{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped query error, got %v", err)
	}
}

func TestLexicalSearchBuildsPrefixQuery(t *testing.T) {
	repo, mock, done := newChunkRepoWithMock(t)
	defer done()

	rows := sqlmock.NewRows(append(append([]string{}, chunkColumnNames...), "rank")).
		AddRow(chunkRow(3, "maamar-haikkarim", "Ma'amar HaIkkarim:4", "Divine providence governs all", 0.061)...)
	mock.ExpectQuery(`ts_rank\(search_vector, q\)(.|\n)*ORDER BY rank DESC, id\s+LIMIT \$2`).
		WithArgs("divine:* & providen:*", 10).
		WillReturnRows(rows)

	results, err := repo.LexicalSearch(context.Background(), "What is the divine providen?", domain.SearchOptions{})
	if err != nil {
		t.Fatalf("LexicalSearch() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one result, got %d", len(results))
	}
	got := results[0]
	if got.MatchType != domain.MatchFulltext || got.Similarity != 0.061 {
		t.Fatalf("unexpected result: %+v", got)
	}
	if !reflect.DeepEqual(got.MatchedTerms, []string{"divine", "providen"}) {
		t.Fatalf("unexpected matched terms: %v", got.MatchedTerms)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLexicalSearchWithoutTermsSkipsQuery(t *testing.T) {
	repo, mock, done := newChunkRepoWithMock(t)
	defer done()

	results, err := repo.LexicalSearch(context.Background(), " ?! ", domain.SearchOptions{})
	if err != nil {
		t.Fatalf("LexicalSearch() error = %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLexicalTermsFallsBackToStopWords(t *testing.T) {
	if got := lexicalTerms("the and"); !reflect.DeepEqual(got, []string{"the", "and"}) {
		t.Fatalf("unexpected terms: %v", got)
	}
	if got := lexicalTerms("Is it the Soul?"); !reflect.DeepEqual(got, []string{"soul"}) {
		t.Fatalf("unexpected terms: %v", got)
	}
}

func TestGetByIDsPreservesRequestedOrder(t *testing.T) {
	repo, mock, done := newChunkRepoWithMock(t)
	defer done()

	rows := sqlmock.NewRows(chunkColumnNames).
		AddRow(chunkRow(1, "w", "W 1", "one")...).
		AddRow(chunkRow(3, "w", "W 3", "three")...)
	mock.ExpectQuery(`WHERE id IN \(\$1,\$2,\$3\)`).
		WithArgs(int64(3), int64(2), int64(1)).
		WillReturnRows(rows)

	chunks, err := repo.GetByIDs(context.Background(), []int64{3, 2, 1})
	if err != nil {
		t.Fatalf("GetByIDs() error = %v", err)
	}
	if len(chunks) != 2 || chunks[0].ID != 3 || chunks[1].ID != 1 {
		t.Fatalf("unexpected order: %+v", chunks)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpsertChunksCommitsBatch(t *testing.T) {
	repo, mock, done := newChunkRepoWithMock(t)
	defer done()

	chapter := 2
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chunks").
		WithArgs("mesillat-yesharim", nil, int64(2), nil, nil, "Mesillat Yesharim 2:1", "Watchfulness", "",
			1, 12, sqlmock.AnyArg(), nil, []byte(`["watchfulness"]`), 0.2, fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO chunks").
		WithArgs("mesillat-yesharim", nil, int64(2), nil, nil, "Mesillat Yesharim 2:2", "Zeal", "",
			1, 4, nil, nil, []byte(`[]`), 0.1, fixedNow).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err := repo.UpsertChunks(context.Background(), []domain.Chunk{
		{WorkID: "mesillat-yesharim", Chapter: &chapter, Ref: "Mesillat Yesharim 2:1", ContentEN: "Watchfulness",
			WordCount: 1, CharCount: 12, EmbeddingEN: []float32{0.5}, TopicKeywords: []string{"watchfulness"}, Complexity: 0.2},
		{WorkID: "mesillat-yesharim", Chapter: &chapter, Ref: "Mesillat Yesharim 2:2", ContentEN: "Zeal",
			WordCount: 1, CharCount: 4, Complexity: 0.1},
	})
	if err != nil {
		t.Fatalf("UpsertChunks() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpsertChunksRollsBackOnFailure(t *testing.T) {
	repo, mock, done := newChunkRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chunks").WillReturnError(errors.New("unique violation"))
	mock.ExpectRollback()

	err := repo.UpsertChunks(context.Background(), []domain.Chunk{{WorkID: "w", Ref: "W 1"}, {WorkID: "w", Ref: "W 2"}})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCountByWork(t *testing.T) {
	repo, mock, done := newChunkRepoWithMock(t)
	defer done()

	mock.ExpectQuery("GROUP BY work_id").
		WillReturnRows(sqlmock.NewRows([]string{"work_id", "count"}).AddRow("derech-hashem", int64(41)))

	counts, err := repo.CountByWork(context.Background())
	if err != nil {
		t.Fatalf("CountByWork() error = %v", err)
	}
	if counts["derech-hashem"] != 41 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestEnsureSchemaRunsUnderAdvisoryLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WithArgs(int64(2026101601)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE EXTENSION IF NOT EXISTS vector(.|\n)*embedding_en vector\(768\)`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := EnsureSchema(context.Background(), db, 768); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
