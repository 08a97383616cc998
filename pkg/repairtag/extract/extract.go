// Package extract defines the contract between the tag resolver and an
// LLM-backed cause extractor: typed batch inputs and results, result
// validation, and the error classes that drive retries.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ToolName is the structured-output function the extractor must call.
const ToolName = "submit_cause_tags"

// CaseInput is one repair case sent to the extractor.
type CaseInput struct {
	CaseID         int64
	ProductGroup   string
	Product        string
	ActionNotes    string
	RequestDetails string
}

// Proposal is one proposed cause tag.
type Proposal struct {
	TagText         string  `json:"tag_text"`
	Confidence      float64 `json:"confidence"`
	MatchedExisting string  `json:"matched_existing,omitempty"`
	IsNew           bool    `json:"is_new"`
}

// CaseResult holds the proposals for the case at CaseIndex (1-based
// position within the batch).
type CaseResult struct {
	CaseIndex int        `json:"case_index"`
	Tags      []Proposal `json:"tags"`
	Summary   string     `json:"summary"`

	// Err is set when the result failed field validation during decoding.
	Err error `json:"-"`
}

// Extractor proposes cause tags for a batch of cases given the active
// dictionary texts.
type Extractor interface {
	ExtractCauses(ctx context.Context, cases []CaseInput, dictionary []string) ([]CaseResult, error)
}

var (
	// ErrAPI marks a non-transient failure of the extractor service.
	ErrAPI = errors.New("extractor api error")
	// ErrMalformedResponse marks output that could not be decoded.
	ErrMalformedResponse = errors.New("malformed extractor response")
)

// RateLimitError is a transient throttling failure.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.Err == nil {
		return "extractor rate limited"
	}
	return "extractor rate limited: " + e.Err.Error()
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// RetryAfter returns the wait the service asked for, or 0.
func RetryAfter(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

type wireProposal struct {
	TagText         *string  `json:"tag_text"`
	Confidence      *float64 `json:"confidence"`
	MatchedExisting string   `json:"matched_existing"`
	IsNew           *bool    `json:"is_new"`
}

type wireResult struct {
	CaseIndex *int           `json:"case_index"`
	Tags      []wireProposal `json:"tags"`
	Summary   string         `json:"summary"`
}

type wirePayload struct {
	Cases *[]wireResult `json:"cases"`
}

// DecodeResults parses a {"cases": [...]} payload. A payload that is not
// JSON or lacks the cases array is ErrMalformedResponse; a case whose tags
// miss required fields gets CaseResult.Err.
func DecodeResults(raw []byte) ([]CaseResult, error) {
	var payload wirePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if payload.Cases == nil {
		return nil, fmt.Errorf("%w: missing cases", ErrMalformedResponse)
	}

	out := make([]CaseResult, 0, len(*payload.Cases))
	for _, wr := range *payload.Cases {
		if wr.CaseIndex == nil {
			continue
		}
		res := CaseResult{CaseIndex: *wr.CaseIndex, Summary: wr.Summary}
		for i, wp := range wr.Tags {
			if wp.TagText == nil || wp.Confidence == nil || wp.IsNew == nil {
				res.Err = fmt.Errorf("%w: case %d tag %d missing required field", ErrMalformedResponse, res.CaseIndex, i+1)
				break
			}
			res.Tags = append(res.Tags, Proposal{
				TagText:         *wp.TagText,
				Confidence:      *wp.Confidence,
				MatchedExisting: wp.MatchedExisting,
				IsNew:           *wp.IsNew,
			})
		}
		out = append(out, res)
	}
	return out, nil
}

// Validate assigns results to the n cases of a batch. Results with an
// index outside 1..n are dropped. A case gets a problem when it has no
// result, more than one result, or an invalid proposal.
func Validate(results []CaseResult, n int) (map[int]CaseResult, map[int]error) {
	byIndex := make(map[int]CaseResult, n)
	problems := make(map[int]error)
	for _, r := range results {
		if r.CaseIndex < 1 || r.CaseIndex > n {
			continue
		}
		if _, dup := byIndex[r.CaseIndex]; dup {
			problems[r.CaseIndex] = fmt.Errorf("%w: duplicate result for case %d", ErrMalformedResponse, r.CaseIndex)
			continue
		}
		byIndex[r.CaseIndex] = r
		if r.Err != nil {
			problems[r.CaseIndex] = r.Err
			continue
		}
		for _, p := range r.Tags {
			if err := validateProposal(p); err != nil {
				problems[r.CaseIndex] = fmt.Errorf("case %d: %w", r.CaseIndex, err)
				break
			}
		}
	}
	for i := 1; i <= n; i++ {
		if _, ok := byIndex[i]; !ok {
			problems[i] = fmt.Errorf("%w: no result for case %d", ErrMalformedResponse, i)
		}
	}
	for i := range problems {
		delete(byIndex, i)
	}
	return byIndex, problems
}

func validateProposal(p Proposal) error {
	if strings.TrimSpace(p.TagText) == "" {
		return fmt.Errorf("%w: empty tag_text", ErrMalformedResponse)
	}
	if math.IsNaN(p.Confidence) || p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v out of range", ErrMalformedResponse, p.Confidence)
	}
	return nil
}
