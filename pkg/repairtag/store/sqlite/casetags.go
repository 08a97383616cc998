package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/cognicore/repairtag/pkg/repairtag/internalerr"
	"github.com/cognicore/repairtag/pkg/repairtag/store"
)

// UpsertCaseTag inserts or updates a (case, tag) assignment
func (s *sqliteStore) UpsertCaseTag(ctx context.Context, ct store.CaseTag) error {
	if !ct.Source.Valid() {
		return fmt.Errorf("case tag source %q: %w", ct.Source, internalerr.ErrInvalidInput)
	}
	now := s.now()
	var confirmed sql.NullString
	if ct.IsFinal {
		confirmed = sql.NullString{String: formatTime(now), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO case_tags (case_id, tag_id, source, confidence, ai_raw_text, is_final, created_at, confirmed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(case_id, tag_id) DO UPDATE SET
	source=excluded.source,
	confidence=excluded.confidence,
	ai_raw_text=excluded.ai_raw_text,
	is_final=excluded.is_final,
	confirmed_at=excluded.confirmed_at;
`, ct.CaseID, ct.TagID, string(ct.Source), nullFloat(ct.Confidence), ct.RawText,
		boolInt(ct.IsFinal), formatTime(now), confirmed)
	if err != nil {
		return err
	}
	return s.invalidateCaseSnapshots(ctx, ct.CaseID)
}

// DeleteCaseTag removes an assignment; missing pairs are ignored
func (s *sqliteStore) DeleteCaseTag(ctx context.Context, caseID, tagID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM case_tags WHERE case_id = ? AND tag_id = ?`, caseID, tagID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return err
	}
	return s.invalidateCaseSnapshots(ctx, caseID)
}

// CaseTags lists a case's tags, highest confidence first
func (s *sqliteStore) CaseTags(ctx context.Context, caseID int64) ([]store.CaseTag, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT ct.case_id, ct.tag_id, t.standard_tag, t.category, ct.source, ct.confidence,
	ct.ai_raw_text, ct.is_final, ct.created_at, ct.confirmed_at
FROM case_tags ct
JOIN tag_dictionary t ON t.id = ct.tag_id
WHERE ct.case_id = ?
ORDER BY COALESCE(ct.confidence, 1.0) DESC, t.standard_tag;
`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.CaseTag
	for rows.Next() {
		var (
			ct        store.CaseTag
			source    string
			conf      sql.NullFloat64
			final     int
			created   string
			confirmed sql.NullString
		)
		if err := rows.Scan(&ct.CaseID, &ct.TagID, &ct.Tag, &ct.Category, &source, &conf,
			&ct.RawText, &final, &created, &confirmed); err != nil {
			return nil, err
		}
		ct.Source = store.Source(source)
		ct.Confidence = floatPtr(conf)
		ct.IsFinal = final == 1
		ct.CreatedAt = parseTime(created)
		ct.ConfirmedAt = parseNullTime(confirmed)
		out = append(out, ct)
	}
	return out, rows.Err()
}

const taggedColumns = caseColumns + `, ct.tag_id, t.standard_tag, t.category, ct.source, ct.confidence, ct.is_final`

func (s *sqliteStore) queryTagged(ctx context.Context, query string, args ...any) ([]store.TaggedCase, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.TaggedCase
	for rows.Next() {
		var (
			tc     store.TaggedCase
			source string
			conf   sql.NullFloat64
			final  int
		)
		c, err := scanCase(rows, &tc.TagID, &tc.Tag, &tc.Category, &source, &conf, &final)
		if err != nil {
			return nil, err
		}
		tc.Case = c
		tc.Source = store.Source(source)
		tc.Confidence = floatPtr(conf)
		tc.IsFinal = final == 1
		out = append(out, tc)
	}
	return out, rows.Err()
}

// TaggedByMonth joins the month's case-tag rows with their cases
func (s *sqliteStore) TaggedByMonth(ctx context.Context, yearMonth string) ([]store.TaggedCase, error) {
	return s.queryTagged(ctx, `
SELECT `+taggedColumns+`
FROM case_tags ct
JOIN repair_cases rc ON rc.id = ct.case_id
JOIN tag_dictionary t ON t.id = ct.tag_id
WHERE rc.year_month = ?
ORDER BY rc.id, t.standard_tag;
`, yearMonth)
}

// FinalizedCases lists final case-tag rows, most recent case first
func (s *sqliteStore) FinalizedCases(ctx context.Context, filter store.FinalFilter) ([]store.TaggedCase, error) {
	var (
		where = []string{"ct.is_final = 1"}
		args  []any
	)
	if filter.YearMonth != "" {
		where = append(where, "rc.year_month = ?")
		args = append(args, filter.YearMonth)
	}
	if filter.ProductGroup != "" {
		where = append(where, "rc.product_group = ?")
		args = append(args, filter.ProductGroup)
	}
	if filter.ExcludeCaseID != 0 {
		where = append(where, "rc.id != ?")
		args = append(args, filter.ExcludeCaseID)
	}

	query := fmt.Sprintf(`
SELECT %s
FROM case_tags ct
JOIN repair_cases rc ON rc.id = ct.case_id
JOIN tag_dictionary t ON t.id = ct.tag_id
WHERE %s
ORDER BY rc.created_at DESC, rc.id DESC, t.standard_tag
`, taggedColumns, strings.Join(where, " AND "))
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return s.queryTagged(ctx, query, args...)
}

// RecordEdit appends a review action to the edit history
func (s *sqliteStore) RecordEdit(ctx context.Context, e store.Edit) error {
	switch e.Action {
	case store.EditConfirm, store.EditAdd, store.EditReplace:
	default:
		return fmt.Errorf("edit action %q: %w", e.Action, internalerr.ErrInvalidInput)
	}
	edited := e.EditedAt
	if edited.IsZero() {
		edited = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tag_edit_history (case_id, old_tag_id, new_tag_id, action, edited_at)
VALUES (?, ?, ?, ?, ?);
`, e.CaseID, nullInt(e.OldTagID), e.NewTagID, string(e.Action), formatTime(edited))
	return err
}

// Edits lists a case's review history, oldest first
func (s *sqliteStore) Edits(ctx context.Context, caseID int64) ([]store.Edit, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, case_id, old_tag_id, new_tag_id, action, edited_at
FROM tag_edit_history WHERE case_id = ? ORDER BY id;
`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Edit
	for rows.Next() {
		var (
			e      store.Edit
			old    sql.NullInt64
			action string
			edited string
		)
		if err := rows.Scan(&e.ID, &e.CaseID, &old, &e.NewTagID, &action, &edited); err != nil {
			return nil, err
		}
		e.OldTagID = old.Int64
		e.Action = store.EditAction(action)
		e.EditedAt = parseTime(edited)
		out = append(out, e)
	}
	return out, rows.Err()
}
