// Package review implements the user actions that move case-tag rows
// between proposed and confirmed, and the approval of new-tag candidates.
package review

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cognicore/repairtag/pkg/repairtag/internalerr"
	"github.com/cognicore/repairtag/pkg/repairtag/store"
)

// Status is the review state of a whole case.
type Status string

const (
	StatusUntagged      Status = "untagged"
	StatusNeedsReview   Status = "needs_review"
	StatusFullyReviewed Status = "fully_reviewed"
)

// Store is the persistence the review service needs.
type Store interface {
	GetCase(ctx context.Context, id int64) (store.Case, bool, error)
	CasesByMonth(ctx context.Context, yearMonth string) ([]store.Case, error)
	GetTag(ctx context.Context, id int64) (store.Tag, bool, error)
	GetTagByText(ctx context.Context, text string) (store.Tag, bool, error)
	CreateTag(ctx context.Context, text, category string) (int64, error)
	SetTagActive(ctx context.Context, text string, active bool) error
	UpsertCaseTag(ctx context.Context, ct store.CaseTag) error
	DeleteCaseTag(ctx context.Context, caseID, tagID int64) error
	CaseTags(ctx context.Context, caseID int64) ([]store.CaseTag, error)
	RecordEdit(ctx context.Context, e store.Edit) error
	GetCandidate(ctx context.Context, id int64) (store.Candidate, bool, error)
	ResolveCandidate(ctx context.Context, id int64, status store.CandidateStatus) error
}

// Feedback receives the raw AI text of a row the user settled on a tag.
type Feedback interface {
	UpdateSynonymFromFeedback(ctx context.Context, raw string, tagID int64) (bool, error)
}

// Service applies review actions.
type Service struct {
	store    Store
	feedback Feedback
	log      *zap.Logger
}

// New creates a review service. feedback may be nil.
func New(st Store, feedback Feedback, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: st, feedback: feedback, log: log}
}

// Confirm finalizes a proposed row as user_confirmed with full confidence.
// When the row came from the extractor its raw text is fed back as a
// synonym candidate for the tag.
func (s *Service) Confirm(ctx context.Context, caseID, tagID int64) error {
	row, err := s.proposed(ctx, caseID, tagID)
	if err != nil {
		return err
	}
	if err := s.store.UpsertCaseTag(ctx, store.CaseTag{
		CaseID:     caseID,
		TagID:      tagID,
		Source:     store.SourceUserConfirmed,
		Confidence: store.Confidence(1.0),
		RawText:    row.RawText,
		IsFinal:    true,
	}); err != nil {
		return fmt.Errorf("confirm case %d tag %d: %w", caseID, tagID, err)
	}
	if err := s.store.RecordEdit(ctx, store.Edit{CaseID: caseID, NewTagID: tagID, Action: store.EditConfirm}); err != nil {
		return fmt.Errorf("record confirm: %w", err)
	}
	s.log.Debug("case tag confirmed", zap.Int64("case_id", caseID), zap.Int64("tag_id", tagID))
	return s.learn(ctx, row, tagID)
}

// Reject deletes a proposed row. Rejections are not kept in the edit
// history.
func (s *Service) Reject(ctx context.Context, caseID, tagID int64) error {
	if _, err := s.proposed(ctx, caseID, tagID); err != nil {
		return err
	}
	if err := s.store.DeleteCaseTag(ctx, caseID, tagID); err != nil {
		return fmt.Errorf("reject case %d tag %d: %w", caseID, tagID, err)
	}
	s.log.Debug("case tag rejected", zap.Int64("case_id", caseID), zap.Int64("tag_id", tagID))
	return nil
}

// Add attaches tagID to a case as a final user_confirmed row.
func (s *Service) Add(ctx context.Context, caseID, tagID int64) error {
	if err := s.checkCase(ctx, caseID); err != nil {
		return err
	}
	if err := s.checkTag(ctx, tagID); err != nil {
		return err
	}
	if err := s.store.UpsertCaseTag(ctx, userRow(caseID, tagID)); err != nil {
		return fmt.Errorf("add case %d tag %d: %w", caseID, tagID, err)
	}
	if err := s.store.RecordEdit(ctx, store.Edit{CaseID: caseID, NewTagID: tagID, Action: store.EditAdd}); err != nil {
		return fmt.Errorf("record add: %w", err)
	}
	return nil
}

// Replace swaps the row for oldTagID with a final user_confirmed row for
// newTagID. An AI raw text on the old row is fed back for the new tag.
func (s *Service) Replace(ctx context.Context, caseID, oldTagID, newTagID int64) error {
	if oldTagID == newTagID {
		return fmt.Errorf("replace case %d: same tag %d: %w", caseID, oldTagID, internalerr.ErrInvalidInput)
	}
	old, err := s.row(ctx, caseID, oldTagID)
	if err != nil {
		return err
	}
	if err := s.checkTag(ctx, newTagID); err != nil {
		return err
	}

	if err := s.store.DeleteCaseTag(ctx, caseID, oldTagID); err != nil {
		return fmt.Errorf("replace case %d: remove tag %d: %w", caseID, oldTagID, err)
	}
	if err := s.store.UpsertCaseTag(ctx, userRow(caseID, newTagID)); err != nil {
		return fmt.Errorf("replace case %d: add tag %d: %w", caseID, newTagID, err)
	}
	if err := s.store.RecordEdit(ctx, store.Edit{
		CaseID:   caseID,
		OldTagID: oldTagID,
		NewTagID: newTagID,
		Action:   store.EditReplace,
	}); err != nil {
		return fmt.Errorf("record replace: %w", err)
	}
	return s.learn(ctx, old, newTagID)
}

// Status classifies a case by its rows: none, all final, or otherwise.
func (s *Service) Status(ctx context.Context, caseID int64) (Status, error) {
	rows, err := s.store.CaseTags(ctx, caseID)
	if err != nil {
		return "", fmt.Errorf("load case %d tags: %w", caseID, err)
	}
	return statusOf(rows), nil
}

func statusOf(rows []store.CaseTag) Status {
	if len(rows) == 0 {
		return StatusUntagged
	}
	for _, r := range rows {
		if !r.IsFinal {
			return StatusNeedsReview
		}
	}
	return StatusFullyReviewed
}

// CaseReview is a case awaiting review with its current rows.
type CaseReview struct {
	Case store.Case
	Tags []store.CaseTag
}

// NeedsReview lists the month's cases holding at least one non-final row.
func (s *Service) NeedsReview(ctx context.Context, yearMonth string) ([]CaseReview, error) {
	cases, err := s.store.CasesByMonth(ctx, yearMonth)
	if err != nil {
		return nil, fmt.Errorf("load cases %s: %w", yearMonth, err)
	}
	var out []CaseReview
	for _, c := range cases {
		rows, err := s.store.CaseTags(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("load case %d tags: %w", c.ID, err)
		}
		if statusOf(rows) == StatusNeedsReview {
			out = append(out, CaseReview{Case: c, Tags: rows})
		}
	}
	return out, nil
}

// ApproveCandidate turns a pending candidate into a dictionary tag and
// returns its ID. A tag with the same text is reused, and reactivated when
// it had been retired.
func (s *Service) ApproveCandidate(ctx context.Context, id int64, category string) (int64, error) {
	cand, err := s.pendingCandidate(ctx, id)
	if err != nil {
		return 0, err
	}
	text := strings.TrimSpace(cand.ProposedText)

	tagID, err := s.store.CreateTag(ctx, text, category)
	if errors.Is(err, internalerr.ErrDuplicate) {
		existing, ok, gerr := s.store.GetTagByText(ctx, text)
		if gerr != nil {
			return 0, fmt.Errorf("load tag %q: %w", text, gerr)
		}
		if !ok {
			return 0, fmt.Errorf("tag %q: %w", text, internalerr.ErrNotFound)
		}
		if !existing.Active {
			if err := s.store.SetTagActive(ctx, text, true); err != nil {
				return 0, fmt.Errorf("reactivate tag %q: %w", text, err)
			}
		}
		tagID, err = existing.ID, nil
	}
	if err != nil {
		return 0, fmt.Errorf("create tag %q: %w", text, err)
	}

	if err := s.store.ResolveCandidate(ctx, id, store.CandidateApproved); err != nil {
		return 0, fmt.Errorf("approve candidate %d: %w", id, err)
	}
	s.log.Info("candidate approved", zap.Int64("candidate_id", id), zap.String("tag", text), zap.Int64("tag_id", tagID))
	return tagID, nil
}

// RejectCandidate closes a pending candidate without touching the
// dictionary.
func (s *Service) RejectCandidate(ctx context.Context, id int64) error {
	if _, err := s.pendingCandidate(ctx, id); err != nil {
		return err
	}
	if err := s.store.ResolveCandidate(ctx, id, store.CandidateRejected); err != nil {
		return fmt.Errorf("reject candidate %d: %w", id, err)
	}
	return nil
}

func (s *Service) pendingCandidate(ctx context.Context, id int64) (store.Candidate, error) {
	cand, ok, err := s.store.GetCandidate(ctx, id)
	if err != nil {
		return store.Candidate{}, fmt.Errorf("load candidate %d: %w", id, err)
	}
	if !ok {
		return store.Candidate{}, fmt.Errorf("candidate %d: %w", id, internalerr.ErrNotFound)
	}
	if cand.Status != store.CandidatePending {
		return store.Candidate{}, fmt.Errorf("candidate %d is %s: %w", id, cand.Status, internalerr.ErrInvalidState)
	}
	return cand, nil
}

func (s *Service) learn(ctx context.Context, row store.CaseTag, tagID int64) error {
	if s.feedback == nil || row.Source != store.SourceAIProposed || row.RawText == "" {
		return nil
	}
	if _, err := s.feedback.UpdateSynonymFromFeedback(ctx, row.RawText, tagID); err != nil {
		return fmt.Errorf("learn from review: %w", err)
	}
	return nil
}

func (s *Service) row(ctx context.Context, caseID, tagID int64) (store.CaseTag, error) {
	rows, err := s.store.CaseTags(ctx, caseID)
	if err != nil {
		return store.CaseTag{}, fmt.Errorf("load case %d tags: %w", caseID, err)
	}
	for _, r := range rows {
		if r.TagID == tagID {
			return r, nil
		}
	}
	return store.CaseTag{}, fmt.Errorf("case %d tag %d: %w", caseID, tagID, internalerr.ErrNotFound)
}

// proposed loads a row that is still open for confirm or reject.
func (s *Service) proposed(ctx context.Context, caseID, tagID int64) (store.CaseTag, error) {
	row, err := s.row(ctx, caseID, tagID)
	if err != nil {
		return store.CaseTag{}, err
	}
	if row.IsFinal {
		return store.CaseTag{}, fmt.Errorf("case %d tag %d already final: %w", caseID, tagID, internalerr.ErrInvalidState)
	}
	return row, nil
}

func (s *Service) checkCase(ctx context.Context, caseID int64) error {
	_, ok, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return fmt.Errorf("load case %d: %w", caseID, err)
	}
	if !ok {
		return fmt.Errorf("case %d: %w", caseID, internalerr.ErrNotFound)
	}
	return nil
}

func (s *Service) checkTag(ctx context.Context, tagID int64) error {
	tag, ok, err := s.store.GetTag(ctx, tagID)
	if err != nil {
		return fmt.Errorf("load tag %d: %w", tagID, err)
	}
	if !ok {
		return fmt.Errorf("tag %d: %w", tagID, internalerr.ErrNotFound)
	}
	if !tag.Active {
		return fmt.Errorf("tag %q is inactive: %w", tag.Text, internalerr.ErrInvalidInput)
	}
	return nil
}

func userRow(caseID, tagID int64) store.CaseTag {
	return store.CaseTag{
		CaseID:     caseID,
		TagID:      tagID,
		Source:     store.SourceUserConfirmed,
		Confidence: store.Confidence(1.0),
		IsFinal:    true,
	}
}
