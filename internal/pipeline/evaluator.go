package pipeline

import (
	"context"
	"fmt"
	"strings"

	"tocanan.ai/geo/common/llm"
	"tocanan.ai/geo/internal/model"
)

// llmEvaluator scores both drafts in one call and reports which, if
// any, need revision. Selection and tie-breaking stay in the pipeline;
// the evaluator only produces scores and feedback.
type llmEvaluator struct {
	client    llm.Client
	threshold float64
}

func NewEvaluator(client llm.Client, threshold float64) Evaluator {
	return &llmEvaluator{client: client, threshold: threshold}
}

type draftScoreOutput struct {
	FluencyScore    float64  `json:"fluency_score" jsonschema_description:"Language quality and readability, 0-100"`
	AccuracyScore   float64  `json:"accuracy_score" jsonschema_description:"Faithfulness to the provided evidence, 0-100"`
	CitationScore   float64  `json:"citation_score" jsonschema_description:"Citation coverage and placement, 0-100"`
	EngagementScore float64  `json:"engagement_score" jsonschema_description:"Reader engagement, 0-100"`
	Feedback        []string `json:"feedback" jsonschema_description:"Concrete revision points, empty if none"`
}

type evaluationOutput struct {
	DraftA draftScoreOutput `json:"draft_a"`
	DraftB draftScoreOutput `json:"draft_b"`
}

var evaluationSchema = llm.GenerateSchema[evaluationOutput]()

const evaluatorSystemPrompt = "You are a strict content evaluator. Score each draft on fluency, accuracy, " +
	"citations, and engagement from 0 to 100. Give concrete feedback for anything scoring below expectations. " +
	"Score the drafts independently; do not let one draft's quality influence the other's scores."

func (e *llmEvaluator) Model() string {
	return e.client.Model()
}

func (e *llmEvaluator) Evaluate(ctx context.Context, targetQuestion string, draftA, draftB *model.ContentDraft) (*model.EvaluationResult, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Target question: %s\n\n=== Draft A ===\n%s\n\n=== Draft B ===\n%s\n",
		targetQuestion, draftA.Content, draftB.Content)

	var out evaluationOutput
	_, err := e.client.Chat(ctx, llm.Request{
		SystemPrompt: evaluatorSystemPrompt,
		UserPrompt:   sb.String(),
		SchemaName:   "draft_evaluation",
		Schema:       evaluationSchema,
		MaxTokens:    2048,
		Temperature:  llm.Temp(0),
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("evaluate drafts: %w", err)
	}

	result := &model.EvaluationResult{
		DraftA: toEvaluation(out.DraftA),
		DraftB: toEvaluation(out.DraftB),
	}
	result.BestScore = result.DraftA.OverallScore
	if result.DraftB.OverallScore > result.BestScore {
		result.BestScore = result.DraftB.OverallScore
	}
	result.PassesThreshold = result.BestScore >= e.threshold
	if result.DraftA.OverallScore < e.threshold {
		result.RevisionNeeded = append(result.RevisionNeeded, model.DraftBranchA)
	}
	if result.DraftB.OverallScore < e.threshold {
		result.RevisionNeeded = append(result.RevisionNeeded, model.DraftBranchB)
	}
	return result, nil
}

func toEvaluation(s draftScoreOutput) model.DraftEvaluation {
	scores := model.DraftScores{
		Fluency:    s.FluencyScore,
		Accuracy:   s.AccuracyScore,
		Citations:  s.CitationScore,
		Engagement: s.EngagementScore,
	}
	return model.DraftEvaluation{
		Scores:       scores,
		OverallScore: (scores.Fluency + scores.Accuracy + scores.Citations + scores.Engagement) / 4,
		Feedback:     s.Feedback,
	}
}
