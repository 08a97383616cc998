package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/cognicore/repairtag/pkg/repairtag/internalerr"
	"github.com/cognicore/repairtag/pkg/repairtag/store"
)

// SaveSnapshot upserts a cached monthly aggregate
func (s *sqliteStore) SaveSnapshot(ctx context.Context, snap store.Snapshot) error {
	computed := snap.ComputedAt
	if computed.IsZero() {
		computed = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO monthly_snapshots (year_month, snapshot_type, data_json, total_cost, total_cases, computed_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(year_month, snapshot_type) DO UPDATE SET
	data_json=excluded.data_json,
	total_cost=excluded.total_cost,
	total_cases=excluded.total_cases,
	computed_at=excluded.computed_at;
`, snap.YearMonth, snap.Type, string(snap.Data), snap.TotalCost, snap.TotalCases, formatTime(computed))
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// trendPattern matches trend snapshot types; '_' is escaped for LIKE.
var trendPattern = strings.ReplaceAll(store.SnapshotTrendPrefix, "_", `\_`) + "%"

// invalidateSnapshots drops the month's matrix snapshot and every trend
// snapshot ending at or after the month
func invalidateSnapshots(ctx context.Context, db execer, yearMonth string) error {
	_, err := db.ExecContext(ctx, `
DELETE FROM monthly_snapshots
WHERE (snapshot_type = ? AND year_month = ?)
	OR (snapshot_type LIKE ? ESCAPE '\' AND year_month >= ?);
`, store.SnapshotMatrix, yearMonth, trendPattern, yearMonth)
	if err != nil {
		return fmt.Errorf("invalidate snapshots %s: %w", yearMonth, err)
	}
	return nil
}

// invalidateCaseSnapshots invalidates the month a case belongs to
func (s *sqliteStore) invalidateCaseSnapshots(ctx context.Context, caseID int64) error {
	var ym string
	err := s.db.QueryRowContext(ctx, `SELECT year_month FROM repair_cases WHERE id = ?`, caseID).Scan(&ym)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	return invalidateSnapshots(ctx, s.db, ym)
}

// LoadSnapshot reads a cached monthly aggregate
func (s *sqliteStore) LoadSnapshot(ctx context.Context, yearMonth, snapshotType string) (store.Snapshot, bool, error) {
	var (
		snap     store.Snapshot
		data     string
		computed string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT year_month, snapshot_type, data_json, total_cost, total_cases, computed_at
FROM monthly_snapshots WHERE year_month = ? AND snapshot_type = ?;
`, yearMonth, snapshotType).Scan(&snap.YearMonth, &snap.Type, &data, &snap.TotalCost, &snap.TotalCases, &computed)
	if err == sql.ErrNoRows {
		return store.Snapshot{}, false, nil
	}
	if err != nil {
		return store.Snapshot{}, false, err
	}
	snap.Data = []byte(data)
	snap.ComputedAt = parseTime(computed)
	return snap, true, nil
}

// SaveRun stores the audit record of a tagging run
func (s *sqliteStore) SaveRun(ctx context.Context, r store.Run) error {
	if r.ID == "" {
		return fmt.Errorf("save run: empty id: %w", internalerr.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tagging_runs (id, year_month, started_at, finished_at, cases, rule_tagged, ai_cases,
	saved_tags, candidates, unresolved, failed_batches)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	finished_at=excluded.finished_at,
	cases=excluded.cases,
	rule_tagged=excluded.rule_tagged,
	ai_cases=excluded.ai_cases,
	saved_tags=excluded.saved_tags,
	candidates=excluded.candidates,
	unresolved=excluded.unresolved,
	failed_batches=excluded.failed_batches;
`, r.ID, r.YearMonth, formatTime(r.StartedAt), formatTime(r.FinishedAt), r.Cases, r.RuleTagged,
		r.AICases, r.SavedTags, r.Candidates, r.Unresolved, r.FailedBatches)
	return err
}

// Runs lists a month's tagging runs, most recent first
func (s *sqliteStore) Runs(ctx context.Context, yearMonth string) ([]store.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, year_month, started_at, finished_at, cases, rule_tagged, ai_cases,
	saved_tags, candidates, unresolved, failed_batches
FROM tagging_runs WHERE year_month = ? ORDER BY started_at DESC, id DESC;
`, yearMonth)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Run
	for rows.Next() {
		var (
			r                 store.Run
			started, finished string
		)
		if err := rows.Scan(&r.ID, &r.YearMonth, &started, &finished, &r.Cases, &r.RuleTagged,
			&r.AICases, &r.SavedTags, &r.Candidates, &r.Unresolved, &r.FailedBatches); err != nil {
			return nil, err
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}
