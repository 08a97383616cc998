package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cognicore/repairtag/pkg/repairtag/internalerr"
	"github.com/cognicore/repairtag/pkg/repairtag/store"
)

const tagColumns = `id, standard_tag, category, is_active, created_at`

func scanTag(sc interface{ Scan(...any) error }) (store.Tag, error) {
	var (
		t       store.Tag
		active  int
		created string
	)
	if err := sc.Scan(&t.ID, &t.Text, &t.Category, &active, &created); err != nil {
		return store.Tag{}, err
	}
	t.Active = active == 1
	t.CreatedAt = parseTime(created)
	return t, nil
}

// ListTags returns the dictionary ordered by tag text
func (s *sqliteStore) ListTags(ctx context.Context, activeOnly bool) ([]store.Tag, error) {
	query := `SELECT ` + tagColumns + ` FROM tag_dictionary`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY standard_tag`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []store.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// GetTag retrieves a tag by ID
func (s *sqliteStore) GetTag(ctx context.Context, id int64) (store.Tag, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tagColumns+` FROM tag_dictionary WHERE id = ?`, id)
	t, err := scanTag(row)
	if err == sql.ErrNoRows {
		return store.Tag{}, false, nil
	}
	if err != nil {
		return store.Tag{}, false, err
	}
	return t, true, nil
}

// GetTagByText retrieves a tag by its exact standard text
func (s *sqliteStore) GetTagByText(ctx context.Context, text string) (store.Tag, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tagColumns+` FROM tag_dictionary WHERE standard_tag = ?`, text)
	t, err := scanTag(row)
	if err == sql.ErrNoRows {
		return store.Tag{}, false, nil
	}
	if err != nil {
		return store.Tag{}, false, err
	}
	return t, true, nil
}

// CreateTag inserts a new active tag
func (s *sqliteStore) CreateTag(ctx context.Context, text, category string) (int64, error) {
	if text == "" {
		return 0, fmt.Errorf("create tag: empty text: %w", internalerr.ErrInvalidInput)
	}
	now := formatTime(s.now())
	var id int64
	err := s.db.QueryRowContext(ctx, `
INSERT INTO tag_dictionary (standard_tag, category, is_active, created_at, updated_at)
VALUES (?, ?, 1, ?, ?)
ON CONFLICT(standard_tag) DO NOTHING
RETURNING id;
`, text, category, now, now).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("create tag %q: %w", text, internalerr.ErrDuplicate)
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// SetTagActive soft-deletes or restores a tag
func (s *sqliteStore) SetTagActive(ctx context.Context, text string, active bool) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE tag_dictionary SET is_active = ?, updated_at = ? WHERE standard_tag = ?;
`, boolInt(active), formatTime(s.now()), text)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("tag %q: %w", text, internalerr.ErrNotFound)
	}
	return nil
}

// AddSynonym registers an alternate phrasing; existing synonyms are kept
func (s *sqliteStore) AddSynonym(ctx context.Context, text string, tagID int64) error {
	if text == "" {
		return fmt.Errorf("add synonym: empty text: %w", internalerr.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO tag_synonyms (synonym, tag_id) VALUES (?, ?);
`, text, tagID)
	return err
}

// SynonymsByTag lists the synonyms of one tag in insertion order
func (s *sqliteStore) SynonymsByTag(ctx context.Context, tagID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT synonym FROM tag_synonyms WHERE tag_id = ? ORDER BY id`, tagID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var syn string
		if err := rows.Scan(&syn); err != nil {
			return nil, err
		}
		out = append(out, syn)
	}
	return out, rows.Err()
}

// AllSynonyms lists every synonym in insertion order
func (s *sqliteStore) AllSynonyms(ctx context.Context) ([]store.Synonym, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT synonym, tag_id FROM tag_synonyms ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Synonym
	for rows.Next() {
		var syn store.Synonym
		if err := rows.Scan(&syn.Text, &syn.TagID); err != nil {
			return nil, err
		}
		out = append(out, syn)
	}
	return out, rows.Err()
}
