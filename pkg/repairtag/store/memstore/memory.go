package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cognicore/repairtag/pkg/repairtag/internalerr"
	"github.com/cognicore/repairtag/pkg/repairtag/store"
)

type pairKey struct{ caseID, tagID int64 }

type snapshotKey struct{ yearMonth, kind string }

// Store is an in-memory implementation of store.Store for tests.
type Store struct {
	mu     sync.RWMutex
	nextID int64
	now    func() time.Time

	tags       map[int64]store.Tag
	tagByText  map[string]int64
	synonyms   []store.Synonym
	synonymSet map[string]struct{}
	files      map[int64]store.UploadedFile
	fileByHash map[string]int64
	cases      map[int64]store.Case
	caseTags   map[pairKey]store.CaseTag
	edits      []store.Edit
	candidates map[int64]store.Candidate
	snapshots  map[snapshotKey]store.Snapshot
	runs       map[string]store.Run
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		nextID:     1,
		now:        func() time.Time { return time.Now().UTC() },
		tags:       make(map[int64]store.Tag),
		tagByText:  make(map[string]int64),
		synonymSet: make(map[string]struct{}),
		files:      make(map[int64]store.UploadedFile),
		fileByHash: make(map[string]int64),
		cases:      make(map[int64]store.Case),
		caseTags:   make(map[pairKey]store.CaseTag),
		candidates: make(map[int64]store.Candidate),
		snapshots:  make(map[snapshotKey]store.Snapshot),
		runs:       make(map[string]store.Run),
	}
}

// SetClock overrides the time source used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

func (s *Store) id() int64 {
	id := s.nextID
	s.nextID++
	return id
}

// ListTags returns tags ordered by text.
func (s *Store) ListTags(ctx context.Context, activeOnly bool) ([]store.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.Tag, 0, len(s.tags))
	for _, t := range s.tags {
		if activeOnly && !t.Active {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Text < out[j].Text })
	return out, nil
}

// GetTag returns a tag by ID.
func (s *Store) GetTag(ctx context.Context, id int64) (store.Tag, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tags[id]
	return t, ok, nil
}

// GetTagByText returns a tag by its standard text.
func (s *Store) GetTagByText(ctx context.Context, text string) (store.Tag, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.tagByText[text]
	if !ok {
		return store.Tag{}, false, nil
	}
	return s.tags[id], true, nil
}

// CreateTag adds an active tag.
func (s *Store) CreateTag(ctx context.Context, text, category string) (int64, error) {
	if text == "" {
		return 0, fmt.Errorf("create tag: empty text: %w", internalerr.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tagByText[text]; ok {
		return 0, fmt.Errorf("create tag %q: %w", text, internalerr.ErrDuplicate)
	}
	id := s.id()
	s.tags[id] = store.Tag{ID: id, Text: text, Category: category, Active: true, CreatedAt: s.now()}
	s.tagByText[text] = id
	return id, nil
}

// SetTagActive toggles the soft-delete flag.
func (s *Store) SetTagActive(ctx context.Context, text string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.tagByText[text]
	if !ok {
		return fmt.Errorf("tag %q: %w", text, internalerr.ErrNotFound)
	}
	t := s.tags[id]
	t.Active = active
	s.tags[id] = t
	return nil
}

// AddSynonym registers a synonym unless the text is already known.
func (s *Store) AddSynonym(ctx context.Context, text string, tagID int64) error {
	if text == "" {
		return fmt.Errorf("add synonym: empty text: %w", internalerr.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tags[tagID]; !ok {
		return fmt.Errorf("synonym %q tag %d: %w", text, tagID, internalerr.ErrNotFound)
	}
	if _, ok := s.synonymSet[text]; ok {
		return nil
	}
	s.synonymSet[text] = struct{}{}
	s.synonyms = append(s.synonyms, store.Synonym{Text: text, TagID: tagID})
	return nil
}

// SynonymsByTag lists one tag's synonyms in insertion order.
func (s *Store) SynonymsByTag(ctx context.Context, tagID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, syn := range s.synonyms {
		if syn.TagID == tagID {
			out = append(out, syn.Text)
		}
	}
	return out, nil
}

// AllSynonyms lists every synonym in insertion order.
func (s *Store) AllSynonyms(ctx context.Context) ([]store.Synonym, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.Synonym(nil), s.synonyms...), nil
}

// InsertFile records an upload.
func (s *Store) InsertFile(ctx context.Context, f store.UploadedFile) (int64, error) {
	if f.FileHash == "" || f.YearMonth == "" {
		return 0, fmt.Errorf("insert file: hash and month required: %w", internalerr.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.fileByHash[f.FileHash]; ok {
		return 0, fmt.Errorf("file %s: %w", f.FileHash, internalerr.ErrDuplicate)
	}
	f.ID = s.id()
	if f.UploadedAt.IsZero() {
		f.UploadedAt = s.now()
	}
	s.files[f.ID] = f
	s.fileByHash[f.FileHash] = f.ID
	s.invalidateSnapshots(f.YearMonth)
	return f.ID, nil
}

// FileByHash looks up an upload by hash.
func (s *Store) FileByHash(ctx context.Context, hash string) (store.UploadedFile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.fileByHash[hash]
	if !ok {
		return store.UploadedFile{}, false, nil
	}
	return s.files[id], true, nil
}

// InsertCases stores cases for a file.
func (s *Store) InsertCases(ctx context.Context, fileID int64, cases []store.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cases {
		if c.YearMonth == "" {
			return fmt.Errorf("case row %d: empty month: %w", c.RowNumber, internalerr.ErrInvalidInput)
		}
	}
	for _, c := range cases {
		c.ID = s.id()
		c.FileID = fileID
		if c.CreatedAt.IsZero() {
			c.CreatedAt = s.now()
		}
		s.cases[c.ID] = c
		s.invalidateSnapshots(c.YearMonth)
	}
	return nil
}

// GetCase returns a case by ID.
func (s *Store) GetCase(ctx context.Context, id int64) (store.Case, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	return c, ok, nil
}

// CasesByMonth lists a month's cases by ID.
func (s *Store) CasesByMonth(ctx context.Context, yearMonth string) ([]store.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterCases(func(c store.Case) bool { return c.YearMonth == yearMonth }), nil
}

// UntaggedByMonth lists a month's cases without a final tag.
func (s *Store) UntaggedByMonth(ctx context.Context, yearMonth string) ([]store.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	finalized := make(map[int64]bool)
	for k, ct := range s.caseTags {
		if ct.IsFinal {
			finalized[k.caseID] = true
		}
	}
	return s.filterCases(func(c store.Case) bool {
		return c.YearMonth == yearMonth && !finalized[c.ID]
	}), nil
}

func (s *Store) filterCases(keep func(store.Case) bool) []store.Case {
	var out []store.Case
	for _, c := range s.cases {
		if keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MonthCost sums the recorded costs of the month's uploads.
func (s *Store) MonthCost(ctx context.Context, yearMonth string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total float64
	for _, f := range s.files {
		if f.YearMonth == yearMonth {
			total += f.TotalCost
		}
	}
	return total, nil
}

// Months lists months that have cases, most recent first.
func (s *Store) Months(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, c := range s.cases {
		if _, ok := seen[c.YearMonth]; ok {
			continue
		}
		seen[c.YearMonth] = struct{}{}
		out = append(out, c.YearMonth)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}

// UpsertCaseTag inserts or updates an assignment in place.
func (s *Store) UpsertCaseTag(ctx context.Context, ct store.CaseTag) error {
	if !ct.Source.Valid() {
		return fmt.Errorf("case tag source %q: %w", ct.Source, internalerr.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[ct.CaseID]; !ok {
		return fmt.Errorf("case %d: %w", ct.CaseID, internalerr.ErrNotFound)
	}
	if _, ok := s.tags[ct.TagID]; !ok {
		return fmt.Errorf("tag %d: %w", ct.TagID, internalerr.ErrNotFound)
	}

	key := pairKey{ct.CaseID, ct.TagID}
	now := s.now()
	row := store.CaseTag{
		CaseID:     ct.CaseID,
		TagID:      ct.TagID,
		Source:     ct.Source,
		Confidence: copyFloat(ct.Confidence),
		RawText:    ct.RawText,
		IsFinal:    ct.IsFinal,
		CreatedAt:  now,
	}
	if existing, ok := s.caseTags[key]; ok {
		row.CreatedAt = existing.CreatedAt
	}
	if row.IsFinal {
		confirmed := now
		row.ConfirmedAt = &confirmed
	}
	s.caseTags[key] = row
	s.invalidateSnapshots(s.cases[ct.CaseID].YearMonth)
	return nil
}

// DeleteCaseTag removes an assignment.
func (s *Store) DeleteCaseTag(ctx context.Context, caseID, tagID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{caseID, tagID}
	if _, ok := s.caseTags[key]; !ok {
		return nil
	}
	delete(s.caseTags, key)
	s.invalidateSnapshots(s.cases[caseID].YearMonth)
	return nil
}

// CaseTags lists a case's tags, highest confidence first.
func (s *Store) CaseTags(ctx context.Context, caseID int64) ([]store.CaseTag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.CaseTag
	for k, ct := range s.caseTags {
		if k.caseID != caseID {
			continue
		}
		t := s.tags[k.tagID]
		ct.Tag = t.Text
		ct.Category = t.Category
		ct.Confidence = copyFloat(ct.Confidence)
		out = append(out, ct)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score() != out[j].Score() {
			return out[i].Score() > out[j].Score()
		}
		return out[i].Tag < out[j].Tag
	})
	return out, nil
}

func (s *Store) tagged(keep func(store.Case, store.CaseTag) bool) []store.TaggedCase {
	var out []store.TaggedCase
	for k, ct := range s.caseTags {
		c, ok := s.cases[k.caseID]
		if !ok || !keep(c, ct) {
			continue
		}
		t := s.tags[k.tagID]
		out = append(out, store.TaggedCase{
			Case:       c,
			TagID:      t.ID,
			Tag:        t.Text,
			Category:   t.Category,
			Source:     ct.Source,
			Confidence: copyFloat(ct.Confidence),
			IsFinal:    ct.IsFinal,
		})
	}
	return out
}

// TaggedByMonth joins a month's case-tag rows with their cases.
func (s *Store) TaggedByMonth(ctx context.Context, yearMonth string) ([]store.TaggedCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.tagged(func(c store.Case, _ store.CaseTag) bool { return c.YearMonth == yearMonth })
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Tag < out[j].Tag
	})
	return out, nil
}

// FinalizedCases lists final rows, most recent case first.
func (s *Store) FinalizedCases(ctx context.Context, filter store.FinalFilter) ([]store.TaggedCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.tagged(func(c store.Case, ct store.CaseTag) bool {
		switch {
		case !ct.IsFinal:
			return false
		case filter.YearMonth != "" && c.YearMonth != filter.YearMonth:
			return false
		case filter.ProductGroup != "" && c.ProductGroup != filter.ProductGroup:
			return false
		case filter.ExcludeCaseID != 0 && c.ID == filter.ExcludeCaseID:
			return false
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		if a.ID != b.ID {
			return a.ID > b.ID
		}
		return a.Tag < b.Tag
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// RecordEdit appends to the edit history.
func (s *Store) RecordEdit(ctx context.Context, e store.Edit) error {
	switch e.Action {
	case store.EditConfirm, store.EditAdd, store.EditReplace:
	default:
		return fmt.Errorf("edit action %q: %w", e.Action, internalerr.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.id()
	if e.EditedAt.IsZero() {
		e.EditedAt = s.now()
	}
	s.edits = append(s.edits, e)
	return nil
}

// Edits lists a case's history, oldest first.
func (s *Store) Edits(ctx context.Context, caseID int64) ([]store.Edit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Edit
	for _, e := range s.edits {
		if e.CaseID == caseID {
			out = append(out, e)
		}
	}
	return out, nil
}

// AddCandidate stores a pending candidate.
func (s *Store) AddCandidate(ctx context.Context, c store.Candidate) (int64, error) {
	if strings.TrimSpace(c.ProposedText) == "" {
		return 0, fmt.Errorf("add candidate: empty text: %w", internalerr.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.id()
	c.Status = store.CandidatePending
	c.CreatedAt = s.now()
	c.ResolvedAt = nil
	c.SimilarTag = ""
	s.candidates[c.ID] = c
	return c.ID, nil
}

func (s *Store) withSimilar(c store.Candidate) store.Candidate {
	if t, ok := s.tags[c.SimilarTagID]; ok {
		c.SimilarTag = t.Text
	}
	return c
}

// GetCandidate returns a candidate by ID.
func (s *Store) GetCandidate(ctx context.Context, id int64) (store.Candidate, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.candidates[id]
	if !ok {
		return store.Candidate{}, false, nil
	}
	return s.withSimilar(c), true, nil
}

// PendingCandidates lists pending candidates, newest first.
func (s *Store) PendingCandidates(ctx context.Context) ([]store.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Candidate
	for _, c := range s.candidates {
		if c.Status == store.CandidatePending {
			out = append(out, s.withSimilar(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// ResolveCandidate closes a pending candidate.
func (s *Store) ResolveCandidate(ctx context.Context, id int64, status store.CandidateStatus) error {
	if status != store.CandidateApproved && status != store.CandidateRejected {
		return fmt.Errorf("resolve candidate %d: status %q: %w", id, status, internalerr.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.candidates[id]
	if !ok {
		return fmt.Errorf("candidate %d: %w", id, internalerr.ErrNotFound)
	}
	if c.Status != store.CandidatePending {
		return fmt.Errorf("candidate %d already resolved: %w", id, internalerr.ErrInvalidState)
	}
	now := s.now()
	c.Status = status
	c.ResolvedAt = &now
	s.candidates[id] = c
	return nil
}

// SaveSnapshot upserts a cached aggregate.
func (s *Store) SaveSnapshot(ctx context.Context, snap store.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.ComputedAt.IsZero() {
		snap.ComputedAt = s.now()
	}
	snap.Data = append([]byte(nil), snap.Data...)
	s.snapshots[snapshotKey{snap.YearMonth, snap.Type}] = snap
	return nil
}

// invalidateSnapshots drops the month's matrix and every trend ending at or
// after it. Callers hold the write lock.
func (s *Store) invalidateSnapshots(yearMonth string) {
	for k := range s.snapshots {
		if (k.kind == store.SnapshotMatrix && k.yearMonth == yearMonth) ||
			(strings.HasPrefix(k.kind, store.SnapshotTrendPrefix) && k.yearMonth >= yearMonth) {
			delete(s.snapshots, k)
		}
	}
}

// LoadSnapshot reads a cached aggregate.
func (s *Store) LoadSnapshot(ctx context.Context, yearMonth, snapshotType string) (store.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[snapshotKey{yearMonth, snapshotType}]
	return snap, ok, nil
}

// SaveRun stores a run audit record.
func (s *Store) SaveRun(ctx context.Context, r store.Run) error {
	if r.ID == "" {
		return fmt.Errorf("save run: empty id: %w", internalerr.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = r
	return nil
}

// Runs lists a month's runs, most recent first.
func (s *Store) Runs(ctx context.Context, yearMonth string) ([]store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Run
	for _, r := range s.runs {
		if r.YearMonth == yearMonth {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

var _ store.Store = (*Store)(nil)
