package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/cognicore/repairtag/pkg/repairtag/internalerr"
	"github.com/cognicore/repairtag/pkg/repairtag/store"
)

const caseColumns = `rc.id, rc.file_id, rc.row_number, rc.year_month, rc.product_group, rc.product,
	rc.action_notes, rc.request_details, rc.judgment_type, rc.amount, rc.extra_data, rc.created_at`

// scanCase reads the caseColumns prefix followed by any extra destinations.
func scanCase(sc interface{ Scan(...any) error }, extra ...any) (store.Case, error) {
	var (
		c       store.Case
		rawData sql.NullString
		created string
	)
	dest := []any{
		&c.ID, &c.FileID, &c.RowNumber, &c.YearMonth, &c.ProductGroup, &c.Product,
		&c.ActionNotes, &c.RequestDetails, &c.JudgmentType, &c.Amount, &rawData, &created,
	}
	if err := sc.Scan(append(dest, extra...)...); err != nil {
		return store.Case{}, err
	}
	if rawData.Valid && rawData.String != "" {
		if err := json.Unmarshal([]byte(rawData.String), &c.Extra); err != nil {
			return store.Case{}, fmt.Errorf("case %d extra data: %w", c.ID, err)
		}
	}
	c.CreatedAt = parseTime(created)
	return c, nil
}

// InsertFile records an uploaded batch
func (s *sqliteStore) InsertFile(ctx context.Context, f store.UploadedFile) (int64, error) {
	if f.FileHash == "" || f.YearMonth == "" {
		return 0, fmt.Errorf("insert file: hash and month required: %w", internalerr.ErrInvalidInput)
	}
	uploaded := f.UploadedAt
	if uploaded.IsZero() {
		uploaded = s.now()
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
INSERT INTO uploaded_files (filename, file_hash, year_month, total_cost, row_count, uploaded_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(file_hash) DO NOTHING
RETURNING id;
`, f.Filename, f.FileHash, f.YearMonth, f.TotalCost, f.RowCount, formatTime(uploaded)).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("file %s: %w", f.FileHash, internalerr.ErrDuplicate)
	}
	if err != nil {
		return 0, err
	}
	if err := invalidateSnapshots(ctx, s.db, f.YearMonth); err != nil {
		return 0, err
	}
	return id, nil
}

// FileByHash looks up an uploaded batch by content hash
func (s *sqliteStore) FileByHash(ctx context.Context, hash string) (store.UploadedFile, bool, error) {
	var (
		f        store.UploadedFile
		cost     sql.NullFloat64
		uploaded string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, filename, file_hash, year_month, total_cost, row_count, uploaded_at
FROM uploaded_files WHERE file_hash = ?;
`, hash).Scan(&f.ID, &f.Filename, &f.FileHash, &f.YearMonth, &cost, &f.RowCount, &uploaded)
	if err == sql.ErrNoRows {
		return store.UploadedFile{}, false, nil
	}
	if err != nil {
		return store.UploadedFile{}, false, err
	}
	f.TotalCost = cost.Float64
	f.UploadedAt = parseTime(uploaded)
	return f, true, nil
}

// InsertCases stores the rows of one uploaded batch
func (s *sqliteStore) InsertCases(ctx context.Context, fileID int64, cases []store.Case) error {
	if len(cases) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO repair_cases (file_id, row_number, year_month, product_group, product,
	action_notes, request_details, judgment_type, amount, extra_data, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	months := make(map[string]struct{})
	for _, c := range cases {
		if c.YearMonth == "" {
			return fmt.Errorf("case row %d: empty month: %w", c.RowNumber, internalerr.ErrInvalidInput)
		}
		var extra sql.NullString
		if len(c.Extra) > 0 {
			data, err := json.Marshal(c.Extra)
			if err != nil {
				return fmt.Errorf("case row %d extra data: %w", c.RowNumber, err)
			}
			extra = sql.NullString{String: string(data), Valid: true}
		}
		created := c.CreatedAt
		if created.IsZero() {
			created = s.now()
		}
		if _, err := stmt.ExecContext(ctx, fileID, c.RowNumber, c.YearMonth, c.ProductGroup, c.Product,
			c.ActionNotes, c.RequestDetails, c.JudgmentType, c.Amount, extra, formatTime(created)); err != nil {
			return err
		}
		months[c.YearMonth] = struct{}{}
	}
	for ym := range months {
		if err := invalidateSnapshots(ctx, tx, ym); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetCase retrieves a case by ID
func (s *sqliteStore) GetCase(ctx context.Context, id int64) (store.Case, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM repair_cases rc WHERE rc.id = ?`, id)
	c, err := scanCase(row)
	if err == sql.ErrNoRows {
		return store.Case{}, false, nil
	}
	if err != nil {
		return store.Case{}, false, err
	}
	return c, true, nil
}

// CasesByMonth lists every case of a month in insertion order
func (s *sqliteStore) CasesByMonth(ctx context.Context, yearMonth string) ([]store.Case, error) {
	return s.queryCases(ctx, `
SELECT `+caseColumns+` FROM repair_cases rc
WHERE rc.year_month = ?
ORDER BY rc.id;
`, yearMonth)
}

// UntaggedByMonth lists the month's cases that have no final tag
func (s *sqliteStore) UntaggedByMonth(ctx context.Context, yearMonth string) ([]store.Case, error) {
	return s.queryCases(ctx, `
SELECT `+caseColumns+` FROM repair_cases rc
WHERE rc.year_month = ?
  AND rc.id NOT IN (SELECT case_id FROM case_tags WHERE is_final = 1)
ORDER BY rc.id;
`, yearMonth)
}

func (s *sqliteStore) queryCases(ctx context.Context, query string, args ...any) ([]store.Case, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MonthCost sums the recorded costs of the month's uploads
func (s *sqliteStore) MonthCost(ctx context.Context, yearMonth string) (float64, error) {
	var cost float64
	err := s.db.QueryRowContext(ctx, `
SELECT COALESCE(SUM(total_cost), 0) FROM uploaded_files WHERE year_month = ?;
`, yearMonth).Scan(&cost)
	return cost, err
}

// Months lists the months that have cases, most recent first
func (s *sqliteStore) Months(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT year_month FROM repair_cases ORDER BY year_month DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ym string
		if err := rows.Scan(&ym); err != nil {
			return nil, err
		}
		out = append(out, ym)
	}
	return out, rows.Err()
}
