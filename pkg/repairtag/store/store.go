package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Store is the main interface for persisting and querying repair data.
// Components depend on the narrower views below; implementations satisfy
// all of them.
type Store interface {
	Close() error

	TagStore
	SynonymStore
	CaseStore
	CaseTagStore
	CandidateStore
	SnapshotStore
	RunStore
}

// TagStore persists the standard tag dictionary.
type TagStore interface {
	// ListTags returns tags ordered by text, which is the dictionary load
	// order used for tie-breaking during matching.
	ListTags(ctx context.Context, activeOnly bool) ([]Tag, error)
	GetTag(ctx context.Context, id int64) (Tag, bool, error)
	GetTagByText(ctx context.Context, text string) (Tag, bool, error)
	// CreateTag returns internalerr.ErrDuplicate when the text exists.
	CreateTag(ctx context.Context, text, category string) (int64, error)
	// SetTagActive flips the soft-delete flag; ErrNotFound for unknown text.
	SetTagActive(ctx context.Context, text string, active bool) error
}

// SynonymStore persists alternate phrasings of standard tags.
type SynonymStore interface {
	// AddSynonym is idempotent: an existing synonym text is left untouched.
	AddSynonym(ctx context.Context, text string, tagID int64) error
	SynonymsByTag(ctx context.Context, tagID int64) ([]string, error)
	// AllSynonyms returns every synonym in insertion order.
	AllSynonyms(ctx context.Context) ([]Synonym, error)
}

// CaseStore persists uploaded batches and their repair cases.
type CaseStore interface {
	// InsertFile records an upload; ErrDuplicate when the hash is known.
	InsertFile(ctx context.Context, f UploadedFile) (int64, error)
	FileByHash(ctx context.Context, hash string) (UploadedFile, bool, error)
	InsertCases(ctx context.Context, fileID int64, cases []Case) error
	GetCase(ctx context.Context, id int64) (Case, bool, error)
	CasesByMonth(ctx context.Context, yearMonth string) ([]Case, error)
	// UntaggedByMonth returns cases of the month with no final tag.
	UntaggedByMonth(ctx context.Context, yearMonth string) ([]Case, error)
	// MonthCost sums recorded upload costs for the month, 0 when absent.
	MonthCost(ctx context.Context, yearMonth string) (float64, error)
	// Months lists months with cases, most recent first.
	Months(ctx context.Context) ([]string, error)
}

// CaseTagStore persists tag assignments and their review history.
type CaseTagStore interface {
	// UpsertCaseTag inserts or updates the (case, tag) pair in place.
	UpsertCaseTag(ctx context.Context, ct CaseTag) error
	DeleteCaseTag(ctx context.Context, caseID, tagID int64) error
	// CaseTags lists a case's tags, highest confidence first.
	CaseTags(ctx context.Context, caseID int64) ([]CaseTag, error)
	// TaggedByMonth joins every case-tag row of the month with its case.
	TaggedByMonth(ctx context.Context, yearMonth string) ([]TaggedCase, error)
	// FinalizedCases returns final case-tag rows, most recent case first.
	FinalizedCases(ctx context.Context, filter FinalFilter) ([]TaggedCase, error)
	RecordEdit(ctx context.Context, e Edit) error
	Edits(ctx context.Context, caseID int64) ([]Edit, error)
}

// CandidateStore persists proposed new tags awaiting review.
type CandidateStore interface {
	AddCandidate(ctx context.Context, c Candidate) (int64, error)
	GetCandidate(ctx context.Context, id int64) (Candidate, bool, error)
	PendingCandidates(ctx context.Context) ([]Candidate, error)
	// ResolveCandidate moves a pending candidate to approved or rejected.
	ResolveCandidate(ctx context.Context, id int64, status CandidateStatus) error
}

// SnapshotStore caches computed monthly aggregates. Writes that change a
// month's aggregates (cases, uploads, case tags) drop that month's matrix
// snapshot and every trend snapshot ending at or after it.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, s Snapshot) error
	LoadSnapshot(ctx context.Context, yearMonth, snapshotType string) (Snapshot, bool, error)
}

// RunStore keeps an audit row per tagging run.
type RunStore interface {
	SaveRun(ctx context.Context, r Run) error
	Runs(ctx context.Context, yearMonth string) ([]Run, error)
}

// Source records who asserted a case-tag pair.
type Source string

const (
	SourceRuleBased     Source = "rule_based"
	SourceAIProposed    Source = "ai_proposed"
	SourceUserConfirmed Source = "user_confirmed"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceRuleBased, SourceAIProposed, SourceUserConfirmed:
		return true
	}
	return false
}

// CandidateStatus is the review state of a proposed tag.
type CandidateStatus string

const (
	CandidatePending  CandidateStatus = "pending"
	CandidateApproved CandidateStatus = "approved"
	CandidateRejected CandidateStatus = "rejected"
)

// EditAction names a user review action kept in the edit history.
type EditAction string

const (
	EditConfirm EditAction = "confirm"
	EditAdd     EditAction = "add"
	EditReplace EditAction = "replace"
)

// Tag is a standard cause tag.
type Tag struct {
	ID        int64
	Text      string
	Category  string
	Active    bool
	CreatedAt time.Time
}

// Synonym maps an alternate phrasing to its tag.
type Synonym struct {
	Text  string
	TagID int64
}

// UploadedFile is the monthly batch that owns a set of cases.
type UploadedFile struct {
	ID         int64
	Filename   string
	FileHash   string
	YearMonth  string
	TotalCost  float64
	RowCount   int
	UploadedAt time.Time
}

// Case is one repair record. Immutable after insert.
type Case struct {
	ID             int64
	FileID         int64
	RowNumber      int
	YearMonth      string
	ProductGroup   string
	Product        string
	ActionNotes    string
	RequestDetails string
	JudgmentType   string
	Amount         float64
	Extra          map[string]any
	CreatedAt      time.Time
}

// Text joins the action notes and request details used for matching.
func (c Case) Text() string {
	return strings.TrimSpace(c.ActionNotes + " " + c.RequestDetails)
}

// CaseTag is the assignment of a tag to a case.
type CaseTag struct {
	CaseID   int64
	TagID    int64
	Tag      string // joined, read-only
	Category string // joined, read-only
	Source   Source
	// Confidence is nil when the assertion carries no score.
	Confidence  *float64
	RawText     string
	IsFinal     bool
	CreatedAt   time.Time
	ConfirmedAt *time.Time
}

// Score returns the confidence, treating a missing score as certain.
func (ct CaseTag) Score() float64 {
	if ct.Confidence == nil {
		return 1.0
	}
	return *ct.Confidence
}

// Confidence is a helper for building CaseTag literals.
func Confidence(v float64) *float64 { return &v }

// TaggedCase is a case-tag row joined with its case.
type TaggedCase struct {
	Case
	TagID      int64
	Tag        string
	Category   string
	Source     Source
	Confidence *float64
	IsFinal    bool
}

// FinalFilter scopes FinalizedCases. Zero values mean "any".
type FinalFilter struct {
	YearMonth     string
	ProductGroup  string
	ExcludeCaseID int64
	Limit         int
}

// Candidate is an LLM-proposed tag that matched nothing in the dictionary.
type Candidate struct {
	ID           int64
	ProposedText string
	SimilarTagID int64  // 0 when the dictionary was empty
	SimilarTag   string // joined, read-only
	Similarity   float64
	CaseID       int64
	Status       CandidateStatus
	CreatedAt    time.Time
	ResolvedAt   *time.Time
}

// Edit is one entry of the append-only review history.
type Edit struct {
	ID       int64
	CaseID   int64
	OldTagID int64 // 0 when the action had no previous tag
	NewTagID int64
	Action   EditAction
	EditedAt time.Time
}

// Snapshot types.
const (
	SnapshotMatrix      = "product_tag_matrix"
	SnapshotTrendPrefix = "trend_"
)

// Snapshot is a cached aggregate for one month.
type Snapshot struct {
	YearMonth  string
	Type       string
	Data       json.RawMessage
	TotalCost  float64
	TotalCases int
	ComputedAt time.Time
}

// Run is the audit record of one tagging run.
type Run struct {
	ID            string
	YearMonth     string
	StartedAt     time.Time
	FinishedAt    time.Time
	Cases         int
	RuleTagged    int
	AICases       int
	SavedTags     int
	Candidates    int
	Unresolved    int
	FailedBatches int
}
