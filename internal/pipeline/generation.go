package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tocanan.ai/geo/common/logger"
	"tocanan.ai/geo/core/config"
	"tocanan.ai/geo/internal/model"
)

// Policy holds the pipeline's orchestration constants.
type Policy struct {
	MaxIterations    int
	QualityThreshold float64
	TieBreak         model.DraftBranch
	LLMCallTimeout   time.Duration
}

func PolicyFromConfig(cfg config.PipelineConfig) Policy {
	return Policy{
		MaxIterations:    cfg.MaxIterations,
		QualityThreshold: cfg.QualityThreshold,
		TieBreak:         model.DraftBranch(cfg.TieBreak),
		LLMCallTimeout:   cfg.LLMCallTimeout,
	}
}

// GenerationPipeline sequences research, parallel drafting, the
// evaluation loop, and commentary for one job. Stages run strictly in
// order; only the two draft branches run concurrently.
type GenerationPipeline struct {
	researcher  Researcher
	writerA     Writer
	writerB     Writer
	evaluator   Evaluator
	commentator Commentator
	policy      Policy
}

func NewGenerationPipeline(researcher Researcher, writerA, writerB Writer, evaluator Evaluator, commentator Commentator, policy Policy) *GenerationPipeline {
	if policy.MaxIterations <= 0 {
		policy.MaxIterations = 1
	}
	if policy.TieBreak == "" {
		policy.TieBreak = model.DraftBranchA
	}
	return &GenerationPipeline{
		researcher:  researcher,
		writerA:     writerA,
		writerB:     writerB,
		evaluator:   evaluator,
		commentator: commentator,
		policy:      policy,
	}
}

func (p *GenerationPipeline) Run(ctx context.Context, jobID string, req model.GenerationRequest) (*model.GenerationResult, error) {
	start := time.Now()

	ctx = logger.WithLogFields(ctx, logger.LogFields{Stage: logger.Ptr("research")})
	brief, err := p.researcher.Research(ctx, req.ClientName, req.TargetQuestion, req.ReferenceURLs)
	if err != nil {
		return nil, classifyStageError(ctx, KindTransient, "research failed", err)
	}
	if brief.BelowThreshold {
		return nil, NewError(KindInsufficientEvidence,
			fmt.Sprintf("verified evidence below threshold after %d retries: %d statistics, %d quotations",
				brief.Verification.RetryAttempts,
				brief.CountByKind(model.EvidenceKindStatistic),
				brief.CountByKind(model.EvidenceKindQuotation)), nil)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{Stage: logger.Ptr("draft")})
	drafts, err := p.parallelDrafts(ctx, req, brief)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{Stage: logger.Ptr("evaluate")})
	eval, drafts, iterations, err := p.evaluateLoop(ctx, req, brief, drafts)
	if err != nil {
		return nil, err
	}
	selected := drafts[eval.SelectedDraft]

	ctx = logger.WithLogFields(ctx, logger.LogFields{Stage: logger.Ptr("commentary")})
	commentary := p.comment(ctx, eval, selected)

	result := &model.GenerationResult{
		JobID:                jobID,
		Content:              selected.Content,
		WordCount:            selected.WordCount,
		SelectedDraft:        eval.SelectedDraft,
		EvaluationScore:      overallScore(eval, eval.SelectedDraft),
		EvaluationIterations: iterations,
		ResearchAttempts:     brief.Attempt,
		GeoAnalysis: model.GeoAnalysis{
			StatisticsCount: selected.StatisticsCount,
			QuotationsCount: selected.QuotationsCount,
			CitationsCount:  selected.CitationsCount,
			FluencyScore:    scoresFor(eval, eval.SelectedDraft).Fluency,
			Verification:    brief.Verification,
		},
		Commentary: commentary,
		ModelsUsed: map[string]string{
			"writer_a":  p.writerA.Model(),
			"writer_b":  p.writerB.Model(),
			"evaluator": p.evaluator.Model(),
		},
		GenerationTimeMS: time.Since(start).Milliseconds(),
	}

	slog.InfoContext(ctx, "generation finished",
		"selected_draft", result.SelectedDraft,
		"score", result.EvaluationScore,
		"iterations", result.EvaluationIterations,
		"duration_ms", result.GenerationTimeMS)
	return result, nil
}

// parallelDrafts runs both writer branches concurrently. One failing
// branch is tolerated; the pipeline proceeds with the survivor. Both
// failing is a draft generation error.
func (p *GenerationPipeline) parallelDrafts(ctx context.Context, req model.GenerationRequest, brief *model.ResearchBrief) (map[model.DraftBranch]*model.ContentDraft, error) {
	type branchResult struct {
		branch model.DraftBranch
		draft  *model.ContentDraft
		err    error
	}

	writers := []Writer{p.writerA, p.writerB}
	results := make(chan branchResult, len(writers))
	var wg sync.WaitGroup
	for _, w := range writers {
		wg.Add(1)
		go func(w Writer) {
			defer wg.Done()
			callCtx, cancel := p.callContext(ctx)
			defer cancel()
			draft, err := w.Draft(callCtx, req, brief, nil)
			results <- branchResult{branch: w.Branch(), draft: draft, err: err}
		}(w)
	}
	wg.Wait()
	close(results)

	drafts := make(map[model.DraftBranch]*model.ContentDraft, len(writers))
	var failures []error
	for r := range results {
		if r.err != nil {
			slog.WarnContext(ctx, "draft branch failed", "branch", r.branch, "error", r.err)
			failures = append(failures, r.err)
			continue
		}
		drafts[r.branch] = r.draft
	}
	if len(drafts) == 0 {
		return nil, classifyStageError(ctx, KindDraftGeneration, "all draft branches failed", errors.Join(failures...))
	}
	return drafts, nil
}

// evaluateLoop scores the drafts and revises those flagged by the
// evaluator, up to MaxIterations. The returned evaluation always has
// SelectedDraft set to a surviving branch.
func (p *GenerationPipeline) evaluateLoop(ctx context.Context, req model.GenerationRequest, brief *model.ResearchBrief, drafts map[model.DraftBranch]*model.ContentDraft) (*model.EvaluationResult, map[model.DraftBranch]*model.ContentDraft, int, error) {
	iterations := 0
	for {
		iterations++
		ctx := logger.WithLogFields(ctx, logger.LogFields{Attempt: logger.Ptr(iterations)})

		// With one survivor the evaluator sees it in both slots so
		// scoring still works; selection is forced back afterwards.
		draftA, okA := drafts[model.DraftBranchA]
		draftB, okB := drafts[model.DraftBranchB]
		if !okA {
			draftA = draftB
		}
		if !okB {
			draftB = draftA
		}

		callCtx, cancel := p.callContext(ctx)
		eval, err := p.evaluator.Evaluate(callCtx, req.TargetQuestion, draftA, draftB)
		cancel()
		if err != nil {
			return nil, nil, iterations, classifyStageError(ctx, KindEvaluation, "evaluation faulted", err)
		}
		p.selectDraft(eval, okA, okB)

		if eval.PassesThreshold || iterations >= p.policy.MaxIterations {
			return eval, drafts, iterations, nil
		}

		revised := p.revise(ctx, req, brief, drafts, eval)
		if !revised {
			return eval, drafts, iterations, nil
		}
	}
}

// revise regenerates the branches the evaluator flagged, feeding its
// feedback back to the writers. A failed revision keeps the prior
// draft. Returns false when nothing was revised.
func (p *GenerationPipeline) revise(ctx context.Context, req model.GenerationRequest, brief *model.ResearchBrief, drafts map[model.DraftBranch]*model.ContentDraft, eval *model.EvaluationResult) bool {
	writers := map[model.DraftBranch]Writer{
		model.DraftBranchA: p.writerA,
		model.DraftBranchB: p.writerB,
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	revised := false
	for _, branch := range eval.RevisionNeeded {
		if _, ok := drafts[branch]; !ok {
			continue
		}
		feedback := feedbackFor(eval, branch)
		if len(feedback) == 0 {
			continue
		}
		wg.Add(1)
		go func(branch model.DraftBranch, w Writer) {
			defer wg.Done()
			callCtx, cancel := p.callContext(ctx)
			defer cancel()
			draft, err := w.Draft(callCtx, req, brief, feedback)
			if err != nil {
				slog.WarnContext(ctx, "revision failed, keeping prior draft", "branch", branch, "error", err)
				return
			}
			mu.Lock()
			drafts[branch] = draft
			revised = true
			mu.Unlock()
		}(branch, writers[branch])
	}
	wg.Wait()
	return revised
}

// selectDraft picks the winner: higher score wins, an exact tie goes
// to the configured branch, and a lone survivor always wins.
func (p *GenerationPipeline) selectDraft(eval *model.EvaluationResult, okA, okB bool) {
	switch {
	case okA && !okB:
		eval.SelectedDraft = model.DraftBranchA
	case okB && !okA:
		eval.SelectedDraft = model.DraftBranchB
	case eval.DraftA.OverallScore > eval.DraftB.OverallScore:
		eval.SelectedDraft = model.DraftBranchA
	case eval.DraftB.OverallScore > eval.DraftA.OverallScore:
		eval.SelectedDraft = model.DraftBranchB
	default:
		eval.SelectedDraft = p.policy.TieBreak
	}
	eval.BestScore = overallScore(eval, eval.SelectedDraft)
}

func (p *GenerationPipeline) comment(ctx context.Context, eval *model.EvaluationResult, draft *model.ContentDraft) *model.Commentary {
	if p.commentator == nil {
		return nil
	}
	callCtx, cancel := p.callContext(ctx)
	defer cancel()
	commentary, err := p.commentator.Comment(callCtx, eval, draft)
	if err != nil {
		// Commentary is explanatory, not load-bearing. The job still
		// completes without it.
		slog.WarnContext(ctx, "commentary failed, completing without it", "error", err)
		return nil
	}
	return commentary
}

func (p *GenerationPipeline) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.policy.LLMCallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.policy.LLMCallTimeout)
}

func feedbackFor(eval *model.EvaluationResult, branch model.DraftBranch) []string {
	if branch == model.DraftBranchB {
		return eval.DraftB.Feedback
	}
	return eval.DraftA.Feedback
}

func overallScore(eval *model.EvaluationResult, branch model.DraftBranch) float64 {
	if branch == model.DraftBranchB {
		return eval.DraftB.OverallScore
	}
	return eval.DraftA.OverallScore
}

// classifyStageError maps a deadline hit to the timeout kind so
// callers can tell "too slow" from a stage fault.
func classifyStageError(ctx context.Context, kind ErrorKind, message string, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTimeout, message+": deadline exceeded", err)
	}
	return NewError(kind, message, err)
}
