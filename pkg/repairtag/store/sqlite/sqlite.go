package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/repairtag/pkg/repairtag/store"
)

// timestamps are stored as fixed-width UTC text so that ORDER BY on the
// column is chronological.
const timeLayout = "2006-01-02 15:04:05.000000"

// pragmas applied to every pooled connection.
const pragmas = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

// sqliteStore implements the Store interface using SQLite
type sqliteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (and migrates) a SQLite database with WAL mode and
// foreign keys enabled.
func OpenSQLite(ctx context.Context, path string) (store.Store, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+pragmas)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS uploaded_files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	filename TEXT NOT NULL,
	file_hash TEXT UNIQUE NOT NULL,
	year_month TEXT NOT NULL,
	total_cost REAL,
	row_count INTEGER NOT NULL DEFAULT 0,
	uploaded_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS repair_cases (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_id INTEGER NOT NULL,
	row_number INTEGER NOT NULL DEFAULT 0,
	year_month TEXT NOT NULL,
	product_group TEXT NOT NULL DEFAULT '',
	product TEXT NOT NULL DEFAULT '',
	action_notes TEXT NOT NULL DEFAULT '',
	request_details TEXT NOT NULL DEFAULT '',
	judgment_type TEXT NOT NULL DEFAULT '',
	amount REAL NOT NULL DEFAULT 0,
	extra_data TEXT,
	created_at TEXT NOT NULL,
	FOREIGN KEY(file_id) REFERENCES uploaded_files(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_repair_cases_month ON repair_cases(year_month);

CREATE TABLE IF NOT EXISTS tag_dictionary (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	standard_tag TEXT UNIQUE NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tag_synonyms (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	synonym TEXT UNIQUE NOT NULL,
	tag_id INTEGER NOT NULL,
	FOREIGN KEY(tag_id) REFERENCES tag_dictionary(id)
);

CREATE TABLE IF NOT EXISTS case_tags (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	case_id INTEGER NOT NULL,
	tag_id INTEGER NOT NULL,
	source TEXT NOT NULL CHECK(source IN ('rule_based', 'ai_proposed', 'user_confirmed')),
	confidence REAL,
	ai_raw_text TEXT NOT NULL DEFAULT '',
	is_final INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	confirmed_at TEXT,
	UNIQUE(case_id, tag_id),
	FOREIGN KEY(case_id) REFERENCES repair_cases(id) ON DELETE CASCADE,
	FOREIGN KEY(tag_id) REFERENCES tag_dictionary(id)
);

CREATE INDEX IF NOT EXISTS idx_case_tags_final ON case_tags(is_final);

CREATE TABLE IF NOT EXISTS tag_edit_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	case_id INTEGER NOT NULL,
	old_tag_id INTEGER,
	new_tag_id INTEGER NOT NULL,
	action TEXT NOT NULL CHECK(action IN ('confirm', 'add', 'replace')),
	edited_at TEXT NOT NULL,
	FOREIGN KEY(case_id) REFERENCES repair_cases(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS monthly_snapshots (
	year_month TEXT NOT NULL,
	snapshot_type TEXT NOT NULL,
	data_json TEXT NOT NULL,
	total_cost REAL NOT NULL DEFAULT 0,
	total_cases INTEGER NOT NULL DEFAULT 0,
	computed_at TEXT NOT NULL,
	PRIMARY KEY(year_month, snapshot_type)
);

CREATE TABLE IF NOT EXISTS new_tag_candidates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	proposed_text TEXT NOT NULL,
	similar_tag_id INTEGER,
	similarity_score REAL NOT NULL DEFAULT 0,
	case_id INTEGER,
	status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'approved', 'rejected')),
	created_at TEXT NOT NULL,
	resolved_at TEXT,
	FOREIGN KEY(similar_tag_id) REFERENCES tag_dictionary(id),
	FOREIGN KEY(case_id) REFERENCES repair_cases(id) ON DELETE SET NULL
);

CREATE TABLE IF NOT EXISTS tagging_runs (
	id TEXT PRIMARY KEY,
	year_month TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	cases INTEGER NOT NULL DEFAULT 0,
	rule_tagged INTEGER NOT NULL DEFAULT 0,
	ai_cases INTEGER NOT NULL DEFAULT 0,
	saved_tags INTEGER NOT NULL DEFAULT 0,
	candidates INTEGER NOT NULL DEFAULT 0,
	unresolved INTEGER NOT NULL DEFAULT 0,
	failed_batches INTEGER NOT NULL DEFAULT 0
);
`

	_, err := db.ExecContext(ctx, schema)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
