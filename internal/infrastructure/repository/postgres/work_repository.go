package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kirillkom/witness-retrieval/internal/core/domain"
)

// WorkRepository mirrors the catalog's works so chunks can reference them.
type WorkRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewWorkRepository(db *sql.DB) *WorkRepository {
	return &WorkRepository{db: db, now: time.Now}
}

func (r *WorkRepository) UpsertWorks(ctx context.Context, catalog domain.Catalog) error {
	if len(catalog.Works) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin works tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := r.now().UTC()
	for _, work := range catalog.Works {
		altTitles, err := json.Marshal(nonNil(work.AltTitles))
		if err != nil {
			return fmt.Errorf("marshal alt titles: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO works (id, author, title, alt_titles, description, structure, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	author = EXCLUDED.author,
	title = EXCLUDED.title,
	alt_titles = EXCLUDED.alt_titles,
	description = EXCLUDED.description,
	structure = EXCLUDED.structure,
	updated_at = EXCLUDED.updated_at
`, work.ID, catalog.Author, work.Title, altTitles, work.Description, string(work.Structure), now)
		if err != nil {
			return fmt.Errorf("upsert work %s: %w", work.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit works tx: %w", err)
	}
	return nil
}
