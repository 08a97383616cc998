// Package resolver assigns cause tags to a month's repair cases in two
// phases: deterministic containment rules first, then batched LLM
// proposals re-resolved through the matching cascade.
package resolver

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/cognicore/repairtag/pkg/repairtag/extract"
	"github.com/cognicore/repairtag/pkg/repairtag/match"
	"github.com/cognicore/repairtag/pkg/repairtag/metrics"
	"github.com/cognicore/repairtag/pkg/repairtag/retry"
	"github.com/cognicore/repairtag/pkg/repairtag/store"
)

// Confidence thresholds for display and finalization.
const (
	HighConfidence = 0.9
	LowConfidence  = 0.6
	DefaultBatch   = 5
)

// Scope selects which untagged cases go to the extractor.
type Scope string

const (
	// ScopeRemaining sends only cases without a rule hit.
	ScopeRemaining Scope = "remaining"
	// ScopeAll sends every untagged case, rule hits included.
	ScopeAll Scope = "all"
)

// Store is the persistence the resolver needs.
type Store interface {
	match.Dictionary
	UntaggedByMonth(ctx context.Context, yearMonth string) ([]store.Case, error)
	UpsertCaseTag(ctx context.Context, ct store.CaseTag) error
	AddCandidate(ctx context.Context, c store.Candidate) (int64, error)
	SaveRun(ctx context.Context, r store.Run) error
}

// Config controls batching and finalization.
type Config struct {
	BatchSize      int
	HighConfidence float64 // AI proposals at or above are final
	FuzzyThreshold float64
	Scope          Scope
	Retry          retry.Policy
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:      DefaultBatch,
		HighConfidence: HighConfidence,
		FuzzyThreshold: match.DefaultFuzzyThreshold,
		Scope:          ScopeRemaining,
		Retry:          defaultRetry(),
	}
}

func defaultRetry() retry.Policy {
	p := retry.Default(extract.IsRetryable)
	p.MinWait = extract.RetryAfter
	return p
}

// Options configures a Resolver.
type Options struct {
	Store     Store
	Extractor extract.Extractor // optional; nil skips the AI phase
	Config    Config
	Logger    *zap.Logger
}

// Progress is called after every extractor batch with the number of cases
// handled so far and the total sent to the extractor.
type Progress func(done, total int)

// Phase names where a case outcome came from.
type Phase string

const (
	PhaseRule Phase = "rule"
	PhaseAI   Phase = "ai"
)

// CaseOutcome summarizes what happened to one case.
type CaseOutcome struct {
	CaseID  int64
	Phase   Phase
	Tags    []string
	Summary string
	Error   bool
}

// Report is the result of a tagging run.
type Report struct {
	Run      store.Run
	Outcomes []CaseOutcome
}

// Resolver runs tagging passes.
type Resolver struct {
	store     Store
	matcher   *match.Engine
	extractor extract.Extractor
	cfg       Config
	log       *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// New creates a resolver with the given dependencies.
func New(opts Options) *Resolver {
	cfg := opts.Config
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatch
	}
	if cfg.HighConfidence <= 0 {
		cfg.HighConfidence = HighConfidence
	}
	if cfg.Scope == "" {
		cfg.Scope = ScopeRemaining
	}
	if cfg.Retry.MaxAttempts == 0 && cfg.Retry.Retryable == nil {
		cfg.Retry = defaultRetry()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	r := &Resolver{
		store:     opts.Store,
		matcher:   match.NewEngine(opts.Store, match.Config{FuzzyThreshold: cfg.FuzzyThreshold}),
		extractor: opts.Extractor,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
		entropy:   ulid.Monotonic(rand.Reader, 0),
	}
	onRetry := cfg.Retry.OnRetry
	r.cfg.Retry.OnRetry = func(attempt int, wait time.Duration, err error) {
		metrics.ObserveRetry()
		r.log.Warn("extractor call retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.Retry.MaxAttempts),
			zap.Duration("wait", wait),
			zap.Error(err))
		if onRetry != nil {
			onRetry(attempt, wait, err)
		}
	}
	return r
}

func (r *Resolver) newRunID(t time.Time) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), r.entropy).String()
}

// RuleBased returns a contains match for every active tag whose normalized
// text occurs in the case's normalized action notes and request details.
func (r *Resolver) RuleBased(ctx context.Context, c store.Case) ([]match.Match, error) {
	ix, err := r.matcher.Index(ctx)
	if err != nil {
		return nil, err
	}
	return ruleMatches(ix, c), nil
}

func ruleMatches(ix *match.Index, c store.Case) []match.Match {
	var out []match.Match
	for _, t := range ix.Contained(c.ActionNotes + " " + c.RequestDetails) {
		out = append(out, match.Match{
			TagID:      t.ID,
			Tag:        t.Text,
			Confidence: match.ContainsConfidence,
			Method:     match.MethodContains,
		})
	}
	return out
}

// ResolveMonth tags the month's untagged cases. Extractor failures are
// isolated per batch and reported as case outcomes; store failures and
// cancellation abort the run and return the partial report.
func (r *Resolver) ResolveMonth(ctx context.Context, yearMonth string, progress Progress) (Report, error) {
	started := r.now()
	rep := Report{Run: store.Run{ID: r.newRunID(started), YearMonth: yearMonth, StartedAt: started}}

	cases, err := r.store.UntaggedByMonth(ctx, yearMonth)
	if err != nil {
		return rep, fmt.Errorf("load untagged cases %s: %w", yearMonth, err)
	}
	rep.Run.Cases = len(cases)
	r.log.Info("tagging run started",
		zap.String("run_id", rep.Run.ID),
		zap.String("year_month", yearMonth),
		zap.Int("cases", len(cases)))

	aiCases, err := r.applyRules(ctx, cases, &rep)
	if err != nil {
		return r.finish(ctx, rep, err)
	}

	if r.extractor == nil {
		if len(aiCases) > 0 {
			r.log.Info("no extractor configured, skipping AI phase", zap.Int("cases", len(aiCases)))
		}
		return r.finish(ctx, rep, nil)
	}
	rep.Run.AICases = len(aiCases)
	err = r.applyExtractor(ctx, aiCases, &rep, progress)
	return r.finish(ctx, rep, err)
}

func (r *Resolver) finish(ctx context.Context, rep Report, runErr error) (Report, error) {
	rep.Run.FinishedAt = r.now()
	// the audit row is written even when the run was cut short
	if err := r.store.SaveRun(context.WithoutCancel(ctx), rep.Run); err != nil {
		r.log.Error("save tagging run", zap.String("run_id", rep.Run.ID), zap.Error(err))
		if runErr == nil {
			runErr = fmt.Errorf("save run: %w", err)
		}
	}
	fields := []zap.Field{
		zap.String("run_id", rep.Run.ID),
		zap.Int("rule_tagged", rep.Run.RuleTagged),
		zap.Int("ai_cases", rep.Run.AICases),
		zap.Int("saved_tags", rep.Run.SavedTags),
		zap.Int("candidates", rep.Run.Candidates),
		zap.Int("failed_batches", rep.Run.FailedBatches),
		zap.Duration("elapsed", rep.Run.FinishedAt.Sub(rep.Run.StartedAt)),
	}
	if runErr != nil {
		r.log.Error("tagging run aborted", append(fields, zap.Error(runErr))...)
		return rep, runErr
	}
	r.log.Info("tagging run finished", fields...)
	return rep, nil
}

func (r *Resolver) applyRules(ctx context.Context, cases []store.Case, rep *Report) ([]store.Case, error) {
	ix, err := r.matcher.Index(ctx)
	if err != nil {
		return nil, err
	}
	var remaining []store.Case
	for _, c := range cases {
		hits := ruleMatches(ix, c)
		if len(hits) == 0 || r.cfg.Scope == ScopeAll {
			remaining = append(remaining, c)
		}
		if len(hits) == 0 {
			continue
		}
		outcome := CaseOutcome{CaseID: c.ID, Phase: PhaseRule}
		for _, m := range hits {
			if err := r.store.UpsertCaseTag(ctx, store.CaseTag{
				CaseID:     c.ID,
				TagID:      m.TagID,
				Source:     store.SourceRuleBased,
				Confidence: store.Confidence(m.Confidence),
				RawText:    m.Tag,
			}); err != nil {
				return nil, fmt.Errorf("save rule tag case %d: %w", c.ID, err)
			}
			metrics.ObserveAssignment(string(store.SourceRuleBased), string(m.Method))
			rep.Run.SavedTags++
			outcome.Tags = append(outcome.Tags, m.Tag)
		}
		outcome.Summary = strings.Join(outcome.Tags, ", ")
		rep.Run.RuleTagged++
		rep.Outcomes = append(rep.Outcomes, outcome)
	}
	return remaining, nil
}

func (r *Resolver) applyExtractor(ctx context.Context, cases []store.Case, rep *Report, progress Progress) error {
	total := len(cases)
	for start := 0; start < total; start += r.cfg.BatchSize {
		end := min(start+r.cfg.BatchSize, total)
		batch := cases[start:end]

		ix, err := r.matcher.Index(ctx)
		if err != nil {
			return err
		}
		began := time.Now()
		results, err := r.extract(ctx, batch, ix.TagTexts())
		if err != nil {
			metrics.ObserveBatch(time.Since(began), metrics.OutcomeError)
			rep.Run.FailedBatches++
			r.log.Warn("extractor batch failed",
				zap.Int("batch_start", start),
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
			for _, c := range batch {
				rep.Outcomes = append(rep.Outcomes, errorOutcome(c.ID, err))
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
		} else {
			metrics.ObserveBatch(time.Since(began), metrics.OutcomeSuccess)
			if err := r.applyResults(ctx, ix, batch, results, rep); err != nil {
				return err
			}
		}

		if progress != nil {
			progress(end, total)
		}
	}
	return nil
}

func (r *Resolver) extract(ctx context.Context, batch []store.Case, dictionary []string) ([]extract.CaseResult, error) {
	inputs := make([]extract.CaseInput, len(batch))
	for i, c := range batch {
		inputs[i] = extract.CaseInput{
			CaseID:         c.ID,
			ProductGroup:   c.ProductGroup,
			Product:        c.Product,
			ActionNotes:    c.ActionNotes,
			RequestDetails: c.RequestDetails,
		}
	}
	var results []extract.CaseResult
	err := r.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		res, err := r.extractor.ExtractCauses(ctx, inputs, dictionary)
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	return results, err
}

func (r *Resolver) applyResults(ctx context.Context, ix *match.Index, batch []store.Case, results []extract.CaseResult, rep *Report) error {
	byIndex, problems := extract.Validate(results, len(batch))
	for i, c := range batch {
		idx := i + 1
		if perr, bad := problems[idx]; bad {
			r.log.Warn("discarding malformed extractor result", zap.Int64("case_id", c.ID), zap.Error(perr))
			rep.Outcomes = append(rep.Outcomes, errorOutcome(c.ID, perr))
			continue
		}
		res := byIndex[idx]
		outcome := CaseOutcome{CaseID: c.ID, Phase: PhaseAI, Summary: res.Summary}
		applied := make(map[int64]bool)
		for _, p := range res.Tags {
			tag, err := r.applyProposal(ctx, ix, c, p, applied, rep)
			if err != nil {
				return err
			}
			if tag != "" {
				outcome.Tags = append(outcome.Tags, tag)
			}
		}
		rep.Outcomes = append(rep.Outcomes, outcome)
	}
	return nil
}

// applyProposal persists one proposal and returns the resolved tag text,
// or "" when it became a candidate or was dropped. applied holds the tags
// already saved for the case from the same result; the first proposal for a
// tag wins.
func (r *Resolver) applyProposal(ctx context.Context, ix *match.Index, c store.Case, p extract.Proposal, applied map[int64]bool, rep *Report) (string, error) {
	raw := strings.TrimSpace(p.TagText)
	if m, ok := ix.Find(raw, r.matcher.Threshold()); ok {
		if applied[m.TagID] {
			r.log.Debug("duplicate proposal skipped",
				zap.Int64("case_id", c.ID),
				zap.String("proposal", raw),
				zap.String("tag", m.Tag))
			return "", nil
		}
		if err := r.store.UpsertCaseTag(ctx, store.CaseTag{
			CaseID:     c.ID,
			TagID:      m.TagID,
			Source:     store.SourceAIProposed,
			Confidence: store.Confidence(p.Confidence),
			RawText:    raw,
			IsFinal:    p.Confidence >= r.cfg.HighConfidence,
		}); err != nil {
			return "", fmt.Errorf("save proposed tag case %d: %w", c.ID, err)
		}
		metrics.ObserveAssignment(string(store.SourceAIProposed), string(m.Method))
		applied[m.TagID] = true
		rep.Run.SavedTags++
		return m.Tag, nil
	}

	if !p.IsNew {
		rep.Run.Unresolved++
		r.log.Debug("unresolved proposal dropped", zap.Int64("case_id", c.ID), zap.String("proposal", raw))
		return "", nil
	}

	cand := store.Candidate{ProposedText: raw, CaseID: c.ID}
	if sugg := ix.Suggest(raw, 1); len(sugg) > 0 {
		cand.SimilarTagID = sugg[0].TagID
		cand.Similarity = sugg[0].Similarity
	}
	if _, err := r.store.AddCandidate(ctx, cand); err != nil {
		return "", fmt.Errorf("save candidate case %d: %w", c.ID, err)
	}
	metrics.ObserveCandidate()
	rep.Run.Candidates++
	r.log.Info("new tag candidate",
		zap.Int64("case_id", c.ID),
		zap.String("proposal", raw),
		zap.Int64("similar_tag_id", cand.SimilarTagID),
		zap.Float64("similarity", cand.Similarity))
	return "", nil
}

func errorOutcome(caseID int64, err error) CaseOutcome {
	return CaseOutcome{
		CaseID:  caseID,
		Phase:   PhaseAI,
		Summary: "오류: " + err.Error(),
		Error:   true,
	}
}

// Band buckets a confidence for review display.
func Band(confidence float64) string {
	switch {
	case confidence >= HighConfidence:
		return "high"
	case confidence >= LowConfidence:
		return "medium"
	default:
		return "low"
	}
}
