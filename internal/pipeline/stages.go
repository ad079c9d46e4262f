package pipeline

import (
	"context"

	"tocanan.ai/geo/internal/model"
)

// Researcher produces a verified research brief for a topic. Satisfied
// by the verification gate.
type Researcher interface {
	Research(ctx context.Context, clientName, targetQuestion string, referenceURLs []string) (*model.ResearchBrief, error)
}

// Writer produces one draft branch from a research brief. Feedback
// from a prior evaluation round is passed on revision.
type Writer interface {
	Draft(ctx context.Context, req model.GenerationRequest, brief *model.ResearchBrief, feedback []string) (*model.ContentDraft, error)
	Branch() model.DraftBranch
	Model() string
}

// Evaluator scores two drafts and decides selection and revision.
type Evaluator interface {
	Evaluate(ctx context.Context, targetQuestion string, draftA, draftB *model.ContentDraft) (*model.EvaluationResult, error)
	Model() string
}

// Commentator produces the explanatory commentary for the selected
// draft. Advisory only; callers tolerate failure.
type Commentator interface {
	Comment(ctx context.Context, eval *model.EvaluationResult, draft *model.ContentDraft) (*model.Commentary, error)
}

// Rewriter produces a rewritten draft of existing content.
type Rewriter interface {
	Rewrite(ctx context.Context, req model.RewriteRequest, brief *model.ResearchBrief, feedback []string) (*model.ContentDraft, error)
	Model() string
}
