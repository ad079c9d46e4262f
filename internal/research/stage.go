package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"tocanan.ai/geo/common/llm"
	"tocanan.ai/geo/internal/model"
)

// StageRequest is the input to one research attempt. Query carries the
// current search terms; the gate mutates it between attempts.
type StageRequest struct {
	ClientName     string
	TargetQuestion string
	Query          string
	ReferenceURLs  []string
	Attempt        int
}

// Stage gathers research material for a topic: web search, candidate
// extraction, then per-candidate verification. Only candidates that
// pass verification appear in the returned brief.
type Stage struct {
	searcher  Searcher
	verifier  Verifier
	extractor llm.Client
}

func NewStage(searcher Searcher, verifier Verifier, extractor llm.Client) *Stage {
	return &Stage{searcher: searcher, verifier: verifier, extractor: extractor}
}

type extractedFact struct {
	Text        string `json:"text" jsonschema_description:"The exact fact text"`
	Attribution string `json:"attribution" jsonschema_description:"Who the fact is attributed to"`
	SourceRef   string `json:"source_ref" jsonschema_description:"URL or name of the originating source"`
}

type extractionResult struct {
	KeyFacts   []string        `json:"key_facts" jsonschema_description:"Key background facts about the topic"`
	Statistics []extractedFact `json:"statistics" jsonschema_description:"Specific numeric statistics found in the search results"`
	Quotations []extractedFact `json:"quotations" jsonschema_description:"Direct expert quotations found in the search results"`
}

var extractionSchema = llm.GenerateSchema[extractionResult]()

const extractorSystemPrompt = "You are a research assistant extracting verifiable facts from web search results. " +
	"Extract only statistics and quotations that literally appear in the provided material. " +
	"Never invent numbers, quotes, or attributions."

// Run performs one research attempt and returns a brief containing the
// verified evidence. It does not apply threshold policy; that belongs
// to the gate.
func (s *Stage) Run(ctx context.Context, req StageRequest) (*model.ResearchBrief, error) {
	searches := []string{
		req.Query,
		fmt.Sprintf("%s statistics data facts", req.TargetQuestion),
		fmt.Sprintf("%s expert quotes opinions", req.TargetQuestion),
	}

	var results []SearchResult
	seen := make(map[string]bool)
	for _, q := range searches {
		resp, err := s.searcher.Search(ctx, q, 5)
		if err != nil {
			slog.WarnContext(ctx, "search failed", "query", q, "error", err)
			continue
		}
		for _, r := range resp.Results {
			if !seen[r.URL] {
				seen[r.URL] = true
				results = append(results, r)
			}
		}
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("all searches failed or returned no results")
	}

	extraction, err := s.extract(ctx, req, results)
	if err != nil {
		return nil, fmt.Errorf("extract candidates: %w", err)
	}

	brief := &model.ResearchBrief{
		ClientName:     req.ClientName,
		TargetQuestion: req.TargetQuestion,
		KeyFacts:       extraction.KeyFacts,
		Attempt:        req.Attempt,
	}
	for url := range seen {
		brief.SourceURLs = append(brief.SourceURLs, url)
	}

	summary := model.VerificationSummary{
		StatisticsFound:    len(extraction.Statistics),
		QuotationsFound:    len(extraction.Quotations),
		VerificationSource: s.verifier.Source(),
	}

	for _, f := range extraction.Statistics {
		verified, discarded := s.verifyCandidate(ctx, model.EvidenceCandidate{
			Kind:        model.EvidenceKindStatistic,
			Text:        f.Text,
			Attribution: f.Attribution,
			SourceRef:   f.SourceRef,
		})
		if verified != nil {
			brief.Statistics = append(brief.Statistics, *verified)
			summary.StatisticsVerified++
		} else if discarded {
			summary.StatisticsDiscarded++
		}
	}
	for _, f := range extraction.Quotations {
		verified, discarded := s.verifyCandidate(ctx, model.EvidenceCandidate{
			Kind:        model.EvidenceKindQuotation,
			Text:        f.Text,
			Attribution: f.Attribution,
			SourceRef:   f.SourceRef,
		})
		if verified != nil {
			brief.Quotations = append(brief.Quotations, *verified)
			summary.QuotationsVerified++
		} else if discarded {
			summary.QuotationsDiscarded++
		}
	}
	brief.Verification = summary

	slog.InfoContext(ctx, "research attempt finished",
		"attempt", req.Attempt,
		"statistics_verified", summary.StatisticsVerified,
		"quotations_verified", summary.QuotationsVerified,
		"candidates_found", summary.StatisticsFound+summary.QuotationsFound)

	return brief, nil
}

// verifyCandidate returns the verified evidence, or nil with discarded
// set when the fact failed corroboration. A failed verification call
// (after its own retries) skips the candidate without counting it as
// discarded; the call failure is not a verdict on the fact.
func (s *Stage) verifyCandidate(ctx context.Context, c model.EvidenceCandidate) (*model.VerifiedEvidence, bool) {
	verdict, err := s.verifier.Verify(ctx, c)
	if err != nil {
		slog.WarnContext(ctx, "verification call failed, skipping candidate",
			"kind", c.Kind, "error", err)
		return nil, false
	}
	if !verdict.Verified {
		return nil, true
	}
	return &model.VerifiedEvidence{
		EvidenceCandidate:  c,
		VerificationSource: verdict.VerificationSource,
		SourceURL:          verdict.SourceURL,
	}, false
}

func (s *Stage) extract(ctx context.Context, req StageRequest, results []SearchResult) (*extractionResult, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Topic: %s\nClient: %s\n\nSearch results:\n", req.TargetQuestion, req.ClientName)
	for i, r := range results {
		fmt.Fprintf(&sb, "\n[%d] %s (%s)\n%s\n", i+1, r.Title, r.URL, r.Content)
	}
	if len(req.ReferenceURLs) > 0 {
		fmt.Fprintf(&sb, "\nReference URLs supplied by the caller: %s\n", strings.Join(req.ReferenceURLs, ", "))
	}
	sb.WriteString("\nExtract key facts, statistics, and expert quotations relevant to the topic.")

	var out extractionResult
	_, err := s.extractor.Chat(ctx, llm.Request{
		SystemPrompt: extractorSystemPrompt,
		UserPrompt:   sb.String(),
		SchemaName:   "research_extraction",
		Schema:       extractionSchema,
		MaxTokens:    2048,
		Temperature:  llm.Temp(0),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
