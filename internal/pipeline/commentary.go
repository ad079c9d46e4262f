package pipeline

import (
	"context"
	"fmt"

	"tocanan.ai/geo/common/llm"
	"tocanan.ai/geo/internal/model"
)

type llmCommentator struct {
	client llm.Client
}

func NewCommentator(client llm.Client) Commentator {
	return &llmCommentator{client: client}
}

type commentaryOutput struct {
	Assessment   string   `json:"assessment" jsonschema_description:"Two or three sentence overall assessment"`
	KeyStrengths []string `json:"key_strengths" jsonschema_description:"What the selected draft does well"`
	Suggestions  []string `json:"suggestions" jsonschema_description:"What could still be improved"`
}

var commentarySchema = llm.GenerateSchema[commentaryOutput]()

const commentatorSystemPrompt = "You are a content strategy analyst. Summarize why the selected draft won " +
	"its evaluation and what could make it stronger. Be specific and brief."

func (c *llmCommentator) Comment(ctx context.Context, eval *model.EvaluationResult, draft *model.ContentDraft) (*model.Commentary, error) {
	prompt := fmt.Sprintf(
		"Selected draft: %s (score %.1f, fluency %.1f, accuracy %.1f, citations %.1f, engagement %.1f).\n\nContent:\n%s",
		draft.Branch, eval.BestScore,
		scoresFor(eval, draft.Branch).Fluency,
		scoresFor(eval, draft.Branch).Accuracy,
		scoresFor(eval, draft.Branch).Citations,
		scoresFor(eval, draft.Branch).Engagement,
		draft.Content)

	var out commentaryOutput
	_, err := c.client.Chat(ctx, llm.Request{
		SystemPrompt: commentatorSystemPrompt,
		UserPrompt:   prompt,
		SchemaName:   "content_commentary",
		Schema:       commentarySchema,
		MaxTokens:    1024,
		Temperature:  llm.Temp(0.3),
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("commentary: %w", err)
	}

	return &model.Commentary{
		Assessment:   out.Assessment,
		KeyStrengths: out.KeyStrengths,
		Suggestions:  out.Suggestions,
	}, nil
}

func scoresFor(eval *model.EvaluationResult, branch model.DraftBranch) model.DraftScores {
	if branch == model.DraftBranchB {
		return eval.DraftB.Scores
	}
	return eval.DraftA.Scores
}
