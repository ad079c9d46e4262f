package pipeline

import (
	"context"
	"fmt"
	"strings"

	"tocanan.ai/geo/common/llm"
	"tocanan.ai/geo/internal/model"
)

// llmWriter is the LLM-backed Writer. Two instances with different
// providers form the parallel draft branches.
type llmWriter struct {
	client    llm.Client
	branch    model.DraftBranch
	maxTokens int
}

func NewWriter(client llm.Client, branch model.DraftBranch, maxTokens int) Writer {
	return &llmWriter{client: client, branch: branch, maxTokens: maxTokens}
}

type draftOutput struct {
	Content string `json:"content" jsonschema_description:"The full article text in markdown"`
	Title   string `json:"title" jsonschema_description:"The article title"`
}

var draftSchema = llm.GenerateSchema[draftOutput]()

const writerSystemPrompt = "You are a content writer producing generative-engine-optimized articles. " +
	"Weave every provided statistic and quotation into the text verbatim, each with an inline citation of its source URL. " +
	"Never introduce facts that are not in the research brief."

func (w *llmWriter) Branch() model.DraftBranch {
	return w.branch
}

func (w *llmWriter) Model() string {
	return w.client.Model()
}

func (w *llmWriter) Draft(ctx context.Context, req model.GenerationRequest, brief *model.ResearchBrief, feedback []string) (*model.ContentDraft, error) {
	var out draftOutput
	_, err := w.client.Chat(ctx, llm.Request{
		SystemPrompt: writerSystemPrompt,
		UserPrompt:   buildWriterPrompt(req, brief, feedback),
		SchemaName:   "article_draft",
		Schema:       draftSchema,
		MaxTokens:    w.maxTokens,
		Temperature:  llm.Temp(0.7),
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("draft %s: %w", w.branch, err)
	}
	if strings.TrimSpace(out.Content) == "" {
		return nil, fmt.Errorf("draft %s: empty content", w.branch)
	}

	content := out.Content
	if out.Title != "" && !strings.HasPrefix(content, "#") {
		content = "# " + out.Title + "\n\n" + content
	}

	return &model.ContentDraft{
		Branch:          w.branch,
		Content:         content,
		WordCount:       len(strings.Fields(content)),
		StatisticsCount: countEmbedded(content, brief.Statistics),
		QuotationsCount: countEmbedded(content, brief.Quotations),
		CitationsCount:  countCitations(content, brief.SourceURLs),
		Model:           w.client.Model(),
	}, nil
}

func buildWriterPrompt(req model.GenerationRequest, brief *model.ResearchBrief, feedback []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Write an article for %s answering: %s\n", req.ClientName, req.TargetQuestion)
	if req.TargetWordCount > 0 {
		fmt.Fprintf(&sb, "Target length: about %d words.\n", req.TargetWordCount)
	}
	if req.LanguageOverride != "" {
		fmt.Fprintf(&sb, "Write in this language: %s\n", req.LanguageOverride)
	}

	writeBrief(&sb, brief)

	if len(req.ReferenceDocuments) > 0 {
		sb.WriteString("\nReference material supplied by the caller:\n")
		for _, doc := range req.ReferenceDocuments {
			fmt.Fprintf(&sb, "---\n%s\n", doc)
		}
	}
	writeFeedback(&sb, feedback)
	return sb.String()
}

// writeBrief renders the verified evidence section shared by the
// writer and rewriter prompts.
func writeBrief(sb *strings.Builder, brief *model.ResearchBrief) {
	if len(brief.KeyFacts) > 0 {
		sb.WriteString("\nKey facts:\n")
		for _, f := range brief.KeyFacts {
			fmt.Fprintf(sb, "- %s\n", f)
		}
	}
	if len(brief.Statistics) > 0 {
		sb.WriteString("\nVerified statistics (use each one verbatim, cite its source URL):\n")
		for _, s := range brief.Statistics {
			fmt.Fprintf(sb, "- %s (source: %s)\n", s.Text, s.SourceURL)
		}
	}
	if len(brief.Quotations) > 0 {
		sb.WriteString("\nVerified quotations (use each one verbatim, cite its source URL):\n")
		for _, q := range brief.Quotations {
			fmt.Fprintf(sb, "- %q, %s (source: %s)\n", q.Text, q.Attribution, q.SourceURL)
		}
	}
}

func writeFeedback(sb *strings.Builder, feedback []string) {
	if len(feedback) == 0 {
		return
	}
	sb.WriteString("\nRevise the draft addressing this evaluator feedback:\n")
	for _, f := range feedback {
		fmt.Fprintf(sb, "- %s\n", f)
	}
}

// countEmbedded counts how many evidence items appear in the content,
// matching on a normalized prefix since models reflow whitespace.
func countEmbedded(content string, evidence []model.VerifiedEvidence) int {
	norm := normalize(content)
	n := 0
	for _, e := range evidence {
		key := normalize(e.Text)
		if len(key) > 40 {
			key = key[:40]
		}
		if key != "" && strings.Contains(norm, key) {
			n++
		}
	}
	return n
}

func countCitations(content string, sourceURLs []string) int {
	n := 0
	for _, u := range sourceURLs {
		if strings.Contains(content, u) {
			n++
		}
	}
	return n
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
