package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tocanan.ai/geo/common/llm"
	"tocanan.ai/geo/common/logger"
	"tocanan.ai/geo/internal/model"
)

type llmRewriter struct {
	client    llm.Client
	maxTokens int
}

func NewRewriter(client llm.Client, maxTokens int) Rewriter {
	return &llmRewriter{client: client, maxTokens: maxTokens}
}

const rewriterSystemPrompt = "You are a content editor optimizing existing articles for generative engines. " +
	"Preserve the original meaning and voice while weaving in the provided verified statistics and quotations " +
	"verbatim, each with an inline citation of its source URL. Never introduce facts that are not in the " +
	"original content or the research brief."

func (r *llmRewriter) Model() string {
	return r.client.Model()
}

func (r *llmRewriter) Rewrite(ctx context.Context, req model.RewriteRequest, brief *model.ResearchBrief, feedback []string) (*model.ContentDraft, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Rewrite this content for %s", req.ClientName)
	if req.TargetQuestion != "" {
		fmt.Fprintf(&sb, " so it answers: %s", req.TargetQuestion)
	}
	sb.WriteString("\n")
	if req.TargetWordCount > 0 {
		fmt.Fprintf(&sb, "Target length: about %d words.\n", req.TargetWordCount)
	}
	fmt.Fprintf(&sb, "\nOriginal content:\n%s\n", req.Content)
	writeBrief(&sb, brief)
	writeFeedback(&sb, feedback)

	var out draftOutput
	_, err := r.client.Chat(ctx, llm.Request{
		SystemPrompt: rewriterSystemPrompt,
		UserPrompt:   sb.String(),
		SchemaName:   "article_rewrite",
		Schema:       draftSchema,
		MaxTokens:    r.maxTokens,
		Temperature:  llm.Temp(0.5),
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("rewrite draft: %w", err)
	}
	if strings.TrimSpace(out.Content) == "" {
		return nil, fmt.Errorf("rewrite draft: empty content")
	}

	return &model.ContentDraft{
		Branch:          model.DraftBranchA,
		Content:         out.Content,
		WordCount:       len(strings.Fields(out.Content)),
		StatisticsCount: countEmbedded(out.Content, brief.Statistics),
		QuotationsCount: countEmbedded(out.Content, brief.Quotations),
		CitationsCount:  countCitations(out.Content, brief.SourceURLs),
		Model:           r.client.Model(),
	}, nil
}

// RewritePipeline runs research, a single rewrite draft, the
// evaluation loop, and commentary for a rewrite job. It shares the
// verification gate and policy with the generation pipeline.
type RewritePipeline struct {
	researcher  Researcher
	rewriter    Rewriter
	evaluator   Evaluator
	commentator Commentator
	policy      Policy
}

func NewRewritePipeline(researcher Researcher, rewriter Rewriter, evaluator Evaluator, commentator Commentator, policy Policy) *RewritePipeline {
	if policy.MaxIterations <= 0 {
		policy.MaxIterations = 1
	}
	return &RewritePipeline{
		researcher:  researcher,
		rewriter:    rewriter,
		evaluator:   evaluator,
		commentator: commentator,
		policy:      policy,
	}
}

func (p *RewritePipeline) Run(ctx context.Context, jobID string, req model.RewriteRequest) (*model.GenerationResult, error) {
	start := time.Now()

	question := req.TargetQuestion
	if question == "" {
		question = req.ClientName + " facts statistics expert quotes"
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{Stage: logger.Ptr("research")})
	brief, err := p.researcher.Research(ctx, req.ClientName, question, nil)
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

	ctx = logger.WithLogFields(ctx, logger.LogFields{Stage: logger.Ptr("rewrite")})
	callCtx, cancel := p.callContext(ctx)
	draft, err := p.rewriter.Rewrite(callCtx, req, brief, nil)
	cancel()
	if err != nil {
		return nil, classifyStageError(ctx, KindDraftGeneration, "rewrite draft failed", err)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{Stage: logger.Ptr("evaluate")})
	eval, draft, iterations, err := p.evaluateLoop(ctx, req, question, brief, draft)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{Stage: logger.Ptr("commentary")})
	var commentary *model.Commentary
	if p.commentator != nil {
		callCtx, cancel := p.callContext(ctx)
		commentary, err = p.commentator.Comment(callCtx, eval, draft)
		cancel()
		if err != nil {
			slog.WarnContext(ctx, "commentary failed, completing without it", "error", err)
			commentary = nil
		}
	}

	result := &model.GenerationResult{
		JobID:                jobID,
		Content:              draft.Content,
		WordCount:            draft.WordCount,
		SelectedDraft:        model.DraftBranchA,
		EvaluationScore:      eval.DraftA.OverallScore,
		EvaluationIterations: iterations,
		ResearchAttempts:     brief.Attempt,
		GeoAnalysis: model.GeoAnalysis{
			StatisticsCount: draft.StatisticsCount,
			QuotationsCount: draft.QuotationsCount,
			CitationsCount:  draft.CitationsCount,
			FluencyScore:    eval.DraftA.Scores.Fluency,
			Verification:    brief.Verification,
		},
		Commentary: commentary,
		ModelsUsed: map[string]string{
			"rewriter":  p.rewriter.Model(),
			"evaluator": p.evaluator.Model(),
		},
		GenerationTimeMS: time.Since(start).Milliseconds(),
	}

	slog.InfoContext(ctx, "rewrite finished",
		"score", result.EvaluationScore,
		"iterations", result.EvaluationIterations,
		"duration_ms", result.GenerationTimeMS)
	return result, nil
}

// evaluateLoop scores the single rewrite draft, feeding the
// evaluator's feedback back to the rewriter up to MaxIterations.
func (p *RewritePipeline) evaluateLoop(ctx context.Context, req model.RewriteRequest, question string, brief *model.ResearchBrief, draft *model.ContentDraft) (*model.EvaluationResult, *model.ContentDraft, int, error) {
	iterations := 0
	for {
		iterations++
		ctx := logger.WithLogFields(ctx, logger.LogFields{Attempt: logger.Ptr(iterations)})

		callCtx, cancel := p.callContext(ctx)
		eval, err := p.evaluator.Evaluate(callCtx, question, draft, draft)
		cancel()
		if err != nil {
			return nil, nil, iterations, classifyStageError(ctx, KindEvaluation, "evaluation faulted", err)
		}
		eval.SelectedDraft = model.DraftBranchA
		eval.BestScore = eval.DraftA.OverallScore

		if eval.PassesThreshold || iterations >= p.policy.MaxIterations || len(eval.DraftA.Feedback) == 0 {
			return eval, draft, iterations, nil
		}

		callCtx, cancel = p.callContext(ctx)
		revised, err := p.rewriter.Rewrite(callCtx, req, brief, eval.DraftA.Feedback)
		cancel()
		if err != nil {
			slog.WarnContext(ctx, "revision failed, keeping prior draft", "error", err)
			return eval, draft, iterations, nil
		}
		draft = revised
	}
}

func (p *RewritePipeline) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.policy.LLMCallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.policy.LLMCallTimeout)
}
