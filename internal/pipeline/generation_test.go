package pipeline_test

import (
	"context"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"tocanan.ai/geo/internal/model"
	"tocanan.ai/geo/internal/pipeline"
)

func verifiedBrief(stats, quotes int) *model.ResearchBrief {
	b := &model.ResearchBrief{Attempt: 1}
	for i := 0; i < stats; i++ {
		b.Statistics = append(b.Statistics, model.VerifiedEvidence{
			EvidenceCandidate:  model.EvidenceCandidate{Kind: model.EvidenceKindStatistic, Text: fmt.Sprintf("stat %d", i)},
			VerificationSource: "perplexity",
			SourceURL:          "https://example.com",
		})
	}
	for i := 0; i < quotes; i++ {
		b.Quotations = append(b.Quotations, model.VerifiedEvidence{
			EvidenceCandidate:  model.EvidenceCandidate{Kind: model.EvidenceKindQuotation, Text: fmt.Sprintf("quote %d", i)},
			VerificationSource: "perplexity",
			SourceURL:          "https://example.com",
		})
	}
	b.Verification = model.VerificationSummary{
		StatisticsVerified: stats,
		QuotationsVerified: quotes,
		VerificationSource: "perplexity",
	}
	return b
}

var _ = Describe("GenerationPipeline", func() {
	var (
		researcher  *mockResearcher
		writerA     *mockWriter
		writerB     *mockWriter
		evaluator   *mockEvaluator
		commentator *mockCommentator
		policy      pipeline.Policy
		ctx         context.Context
		req         model.GenerationRequest
	)

	build := func() *pipeline.GenerationPipeline {
		return pipeline.NewGenerationPipeline(researcher, writerA, writerB, evaluator, commentator, policy)
	}

	BeforeEach(func() {
		ctx = context.Background()
		req = model.GenerationRequest{ClientName: "Acme", TargetQuestion: "why choose acme"}
		researcher = &mockResearcher{researchFn: func(_ context.Context, _, _ string, _ []string) (*model.ResearchBrief, error) {
			return verifiedBrief(2, 1), nil
		}}
		writerA = &mockWriter{branch: model.DraftBranchA, draftFn: func(_ context.Context, _ model.GenerationRequest, brief *model.ResearchBrief, _ []string) (*model.ContentDraft, error) {
			return &model.ContentDraft{
				Branch:          model.DraftBranchA,
				Content:         "draft A content",
				WordCount:       3,
				StatisticsCount: len(brief.Statistics),
				QuotationsCount: len(brief.Quotations),
			}, nil
		}}
		writerB = &mockWriter{branch: model.DraftBranchB, draftFn: func(_ context.Context, _ model.GenerationRequest, brief *model.ResearchBrief, _ []string) (*model.ContentDraft, error) {
			return &model.ContentDraft{
				Branch:          model.DraftBranchB,
				Content:         "draft B content",
				WordCount:       3,
				StatisticsCount: len(brief.Statistics),
				QuotationsCount: len(brief.Quotations),
			}, nil
		}}
		evaluator = &mockEvaluator{}
		commentator = &mockCommentator{}
		policy = pipeline.Policy{MaxIterations: 3, QualityThreshold: 80, TieBreak: model.DraftBranchA}
	})

	Describe("happy path", func() {
		It("produces a completed result with verified evidence counts", func() {
			result, err := build().Run(ctx, "job_abc", req)
			Expect(err).NotTo(HaveOccurred())

			Expect(result.JobID).To(Equal("job_abc"))
			Expect(result.Content).NotTo(BeEmpty())
			Expect(result.GeoAnalysis.StatisticsCount).To(BeNumerically(">=", 2))
			Expect(result.SelectedDraft).To(Equal(model.DraftBranchA))
			Expect(result.EvaluationScore).To(Equal(90.0))
			Expect(result.EvaluationIterations).To(Equal(1))
			Expect(result.Commentary).NotTo(BeNil())
			Expect(result.ModelsUsed).To(HaveKey("writer_a"))
		})
	})

	Describe("insufficient evidence", func() {
		It("fails the job when research comes back below threshold", func() {
			researcher.researchFn = func(_ context.Context, _, _ string, _ []string) (*model.ResearchBrief, error) {
				b := verifiedBrief(1, 0)
				b.BelowThreshold = true
				b.Verification.RetryAttempts = 2
				return b, nil
			}

			_, err := build().Run(ctx, "job_abc", req)
			Expect(err).To(HaveOccurred())
			Expect(pipeline.KindOf(err)).To(Equal(pipeline.KindInsufficientEvidence))
			// Drafting never starts on insufficient evidence.
			Expect(writerA.calls.Load()).To(BeZero())
			Expect(writerB.calls.Load()).To(BeZero())
		})
	})

	Describe("parallel draft branches", func() {
		It("proceeds with the survivor when one branch fails", func() {
			writerB.draftFn = func(_ context.Context, _ model.GenerationRequest, _ *model.ResearchBrief, _ []string) (*model.ContentDraft, error) {
				return nil, fmt.Errorf("provider unavailable")
			}

			result, err := build().Run(ctx, "job_abc", req)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.SelectedDraft).To(Equal(model.DraftBranchA))
			Expect(result.Content).To(Equal("draft A content"))
		})

		It("selects the survivor even when the dead branch would have scored higher", func() {
			writerA.draftFn = func(_ context.Context, _ model.GenerationRequest, _ *model.ResearchBrief, _ []string) (*model.ContentDraft, error) {
				return nil, fmt.Errorf("provider unavailable")
			}
			evaluator.evaluateFn = func(_ context.Context, _ string, _, _ *model.ContentDraft) (*model.EvaluationResult, error) {
				return scoredEvaluation(95, 85), nil
			}

			result, err := build().Run(ctx, "job_abc", req)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.SelectedDraft).To(Equal(model.DraftBranchB))
		})

		It("fails with a draft generation error when both branches fail", func() {
			boom := func(_ context.Context, _ model.GenerationRequest, _ *model.ResearchBrief, _ []string) (*model.ContentDraft, error) {
				return nil, fmt.Errorf("provider unavailable")
			}
			writerA.draftFn = boom
			writerB.draftFn = boom

			_, err := build().Run(ctx, "job_abc", req)
			Expect(err).To(HaveOccurred())
			Expect(pipeline.KindOf(err)).To(Equal(pipeline.KindDraftGeneration))
			Expect(evaluator.calls.Load()).To(BeZero())
		})
	})

	Describe("evaluation", func() {
		It("selects the higher scoring draft", func() {
			evaluator.evaluateFn = func(_ context.Context, _ string, _, _ *model.ContentDraft) (*model.EvaluationResult, error) {
				return scoredEvaluation(82, 91), nil
			}

			result, err := build().Run(ctx, "job_abc", req)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.SelectedDraft).To(Equal(model.DraftBranchB))
			Expect(result.EvaluationScore).To(Equal(91.0))
		})

		It("breaks exact ties with the configured branch", func() {
			evaluator.evaluateFn = func(_ context.Context, _ string, _, _ *model.ContentDraft) (*model.EvaluationResult, error) {
				return scoredEvaluation(88, 88), nil
			}
			policy.TieBreak = model.DraftBranchB

			result, err := build().Run(ctx, "job_abc", req)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.SelectedDraft).To(Equal(model.DraftBranchB))
		})

		It("fails with an evaluation error when the evaluator faults", func() {
			evaluator.evaluateFn = func(_ context.Context, _ string, _, _ *model.ContentDraft) (*model.EvaluationResult, error) {
				return nil, fmt.Errorf("schema mismatch")
			}

			_, err := build().Run(ctx, "job_abc", req)
			Expect(err).To(HaveOccurred())
			Expect(pipeline.KindOf(err)).To(Equal(pipeline.KindEvaluation))
		})

		It("revises flagged drafts and stops once the threshold passes", func() {
			var gotFeedback []string
			writerA.draftFn = func(_ context.Context, _ model.GenerationRequest, _ *model.ResearchBrief, feedback []string) (*model.ContentDraft, error) {
				if feedback != nil {
					gotFeedback = feedback
				}
				return &model.ContentDraft{Branch: model.DraftBranchA, Content: "draft A content", WordCount: 3}, nil
			}
			evaluator.evaluateFn = func(_ context.Context, _ string, _, _ *model.ContentDraft) (*model.EvaluationResult, error) {
				if evaluator.calls.Load() == 1 {
					return scoredEvaluation(70, 75), nil
				}
				return scoredEvaluation(92, 85), nil
			}

			result, err := build().Run(ctx, "job_abc", req)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.EvaluationIterations).To(Equal(2))
			Expect(result.SelectedDraft).To(Equal(model.DraftBranchA))
			// Initial draft plus one revision per branch.
			Expect(writerA.calls.Load()).To(Equal(int32(2)))
			Expect(writerB.calls.Load()).To(Equal(int32(2)))
			Expect(gotFeedback).To(ContainElement("needs more citations"))
		})

		It("stops revising at the iteration ceiling", func() {
			evaluator.evaluateFn = func(_ context.Context, _ string, _, _ *model.ContentDraft) (*model.EvaluationResult, error) {
				return scoredEvaluation(70, 75), nil
			}

			result, err := build().Run(ctx, "job_abc", req)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.EvaluationIterations).To(Equal(policy.MaxIterations))
			Expect(result.SelectedDraft).To(Equal(model.DraftBranchB))
		})
	})

	Describe("commentary", func() {
		It("completes the job without commentary when the commentator fails", func() {
			commentator.commentFn = func(_ context.Context, _ *model.EvaluationResult, _ *model.ContentDraft) (*model.Commentary, error) {
				return nil, fmt.Errorf("provider unavailable")
			}

			result, err := build().Run(ctx, "job_abc", req)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Commentary).To(BeNil())
			Expect(result.Content).NotTo(BeEmpty())
		})
	})
})

var _ = Describe("RewritePipeline", func() {
	var (
		researcher  *mockResearcher
		rewriter    *mockRewriter
		evaluator   *mockEvaluator
		commentator *mockCommentator
		policy      pipeline.Policy
		ctx         context.Context
		req         model.RewriteRequest
	)

	build := func() *pipeline.RewritePipeline {
		return pipeline.NewRewritePipeline(researcher, rewriter, evaluator, commentator, policy)
	}

	BeforeEach(func() {
		ctx = context.Background()
		req = model.RewriteRequest{ClientName: "Acme", Content: "old article text"}
		researcher = &mockResearcher{researchFn: func(_ context.Context, _, _ string, _ []string) (*model.ResearchBrief, error) {
			return verifiedBrief(2, 1), nil
		}}
		rewriter = &mockRewriter{}
		evaluator = &mockEvaluator{}
		commentator = &mockCommentator{}
		policy = pipeline.Policy{MaxIterations: 3, QualityThreshold: 80, TieBreak: model.DraftBranchA}
	})

	It("produces a completed result from a single rewrite branch", func() {
		result, err := build().Run(ctx, "job_rw", req)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Content).To(Equal("rewritten"))
		Expect(result.SelectedDraft).To(Equal(model.DraftBranchA))
		Expect(result.ModelsUsed).To(HaveKey("rewriter"))
	})

	It("fails the job when research comes back below threshold", func() {
		researcher.researchFn = func(_ context.Context, _, _ string, _ []string) (*model.ResearchBrief, error) {
			b := verifiedBrief(0, 0)
			b.BelowThreshold = true
			return b, nil
		}

		_, err := build().Run(ctx, "job_rw", req)
		Expect(err).To(HaveOccurred())
		Expect(pipeline.KindOf(err)).To(Equal(pipeline.KindInsufficientEvidence))
	})

	It("fails with a draft generation error when the rewriter faults", func() {
		rewriter.rewriteFn = func(_ context.Context, _ model.RewriteRequest, _ *model.ResearchBrief, _ []string) (*model.ContentDraft, error) {
			return nil, fmt.Errorf("provider unavailable")
		}

		_, err := build().Run(ctx, "job_rw", req)
		Expect(err).To(HaveOccurred())
		Expect(pipeline.KindOf(err)).To(Equal(pipeline.KindDraftGeneration))
	})

	It("feeds evaluator feedback into a revision round", func() {
		evaluator.evaluateFn = func(_ context.Context, _ string, _, _ *model.ContentDraft) (*model.EvaluationResult, error) {
			if evaluator.calls.Load() == 1 {
				return scoredEvaluation(70, 70), nil
			}
			return scoredEvaluation(90, 90), nil
		}
		var gotFeedback []string
		rewriter.rewriteFn = func(_ context.Context, _ model.RewriteRequest, _ *model.ResearchBrief, feedback []string) (*model.ContentDraft, error) {
			gotFeedback = feedback
			return &model.ContentDraft{Branch: model.DraftBranchA, Content: "revised", WordCount: 1}, nil
		}

		result, err := build().Run(ctx, "job_rw", req)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.EvaluationIterations).To(Equal(2))
		Expect(result.Content).To(Equal("revised"))
		Expect(gotFeedback).To(ContainElement("needs more citations"))
	})
})
