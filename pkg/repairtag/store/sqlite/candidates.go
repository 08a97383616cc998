package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cognicore/repairtag/pkg/repairtag/internalerr"
	"github.com/cognicore/repairtag/pkg/repairtag/store"
)

// AddCandidate registers a proposed tag as pending
func (s *sqliteStore) AddCandidate(ctx context.Context, c store.Candidate) (int64, error) {
	if c.ProposedText == "" {
		return 0, fmt.Errorf("add candidate: empty text: %w", internalerr.ErrInvalidInput)
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
INSERT INTO new_tag_candidates (proposed_text, similar_tag_id, similarity_score, case_id, status, created_at)
VALUES (?, ?, ?, ?, 'pending', ?)
RETURNING id;
`, c.ProposedText, nullInt(c.SimilarTagID), c.Similarity, nullInt(c.CaseID), formatTime(s.now())).Scan(&id)
	return id, err
}

const candidateQuery = `
SELECT c.id, c.proposed_text, c.similar_tag_id, COALESCE(t.standard_tag, ''), c.similarity_score,
	c.case_id, c.status, c.created_at, c.resolved_at
FROM new_tag_candidates c
LEFT JOIN tag_dictionary t ON t.id = c.similar_tag_id
`

func scanCandidate(sc interface{ Scan(...any) error }) (store.Candidate, error) {
	var (
		c        store.Candidate
		similar  sql.NullInt64
		caseID   sql.NullInt64
		status   string
		created  string
		resolved sql.NullString
	)
	if err := sc.Scan(&c.ID, &c.ProposedText, &similar, &c.SimilarTag, &c.Similarity,
		&caseID, &status, &created, &resolved); err != nil {
		return store.Candidate{}, err
	}
	c.SimilarTagID = similar.Int64
	c.CaseID = caseID.Int64
	c.Status = store.CandidateStatus(status)
	c.CreatedAt = parseTime(created)
	c.ResolvedAt = parseNullTime(resolved)
	return c, nil
}

// GetCandidate retrieves a candidate by ID
func (s *sqliteStore) GetCandidate(ctx context.Context, id int64) (store.Candidate, bool, error) {
	c, err := scanCandidate(s.db.QueryRowContext(ctx, candidateQuery+` WHERE c.id = ?`, id))
	if err == sql.ErrNoRows {
		return store.Candidate{}, false, nil
	}
	if err != nil {
		return store.Candidate{}, false, err
	}
	return c, true, nil
}

// PendingCandidates lists unresolved candidates, newest first
func (s *sqliteStore) PendingCandidates(ctx context.Context) ([]store.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, candidateQuery+` WHERE c.status = 'pending' ORDER BY c.created_at DESC, c.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ResolveCandidate closes a pending candidate
func (s *sqliteStore) ResolveCandidate(ctx context.Context, id int64, status store.CandidateStatus) error {
	if status != store.CandidateApproved && status != store.CandidateRejected {
		return fmt.Errorf("resolve candidate %d: status %q: %w", id, status, internalerr.ErrInvalidInput)
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE new_tag_candidates SET status = ?, resolved_at = ?
WHERE id = ? AND status = 'pending';
`, string(status), formatTime(s.now()), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, found, err := s.GetCandidate(ctx, id); err != nil {
		return err
	} else if !found {
		return fmt.Errorf("candidate %d: %w", id, internalerr.ErrNotFound)
	}
	return fmt.Errorf("candidate %d already resolved: %w", id, internalerr.ErrInvalidState)
}
