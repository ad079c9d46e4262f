package research_test

import (
	"context"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"tocanan.ai/geo/internal/model"
	"tocanan.ai/geo/internal/research"
)

type mockStage struct {
	runFn func(ctx context.Context, req research.StageRequest) (*model.ResearchBrief, error)
	calls []research.StageRequest
}

func (m *mockStage) Run(ctx context.Context, req research.StageRequest) (*model.ResearchBrief, error) {
	m.calls = append(m.calls, req)
	if m.runFn != nil {
		return m.runFn(ctx, req)
	}
	return &model.ResearchBrief{Attempt: req.Attempt}, nil
}

func verified(kind model.EvidenceKind, text string) model.VerifiedEvidence {
	return model.VerifiedEvidence{
		EvidenceCandidate: model.EvidenceCandidate{Kind: kind, Text: text},
		VerificationSource: "perplexity",
		SourceURL:          "https://example.com/" + text,
	}
}

func briefWith(attempt, stats, quotes int) *model.ResearchBrief {
	b := &model.ResearchBrief{Attempt: attempt}
	for i := 0; i < stats; i++ {
		b.Statistics = append(b.Statistics, verified(model.EvidenceKindStatistic, fmt.Sprintf("stat-%d-%d", attempt, i)))
	}
	for i := 0; i < quotes; i++ {
		b.Quotations = append(b.Quotations, verified(model.EvidenceKindQuotation, fmt.Sprintf("quote-%d-%d", attempt, i)))
	}
	b.Verification = model.VerificationSummary{
		StatisticsFound:    stats,
		StatisticsVerified: stats,
		QuotationsFound:    quotes,
		QuotationsVerified: quotes,
	}
	return b
}

var _ = Describe("Gate", func() {
	var (
		stage *mockStage
		gate  *research.Gate
		ctx   context.Context
	)

	policy := research.GatePolicy{
		MinStatistics: 2,
		MinQuotations: 1,
		MaxRetries:    2,
		MaxStatistics: 8,
		MaxQuotations: 5,
	}

	BeforeEach(func() {
		ctx = context.Background()
		stage = &mockStage{}
		gate = research.NewGate(stage, policy)
	})

	Describe("Research", func() {
		Context("when thresholds are met on the first attempt", func() {
			It("returns without retrying", func() {
				stage.runFn = func(_ context.Context, req research.StageRequest) (*model.ResearchBrief, error) {
					return briefWith(req.Attempt, 3, 2), nil
				}

				brief, err := gate.Research(ctx, "Acme", "why choose acme", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(brief.BelowThreshold).To(BeFalse())
				Expect(brief.Verification.RetryAttempts).To(Equal(0))
				Expect(stage.calls).To(HaveLen(1))
				Expect(stage.calls[0].Attempt).To(Equal(1))
			})
		})

		Context("when evidence accumulates across retries", func() {
			It("merges attempts and returns once thresholds are met", func() {
				stage.runFn = func(_ context.Context, req research.StageRequest) (*model.ResearchBrief, error) {
					if req.Attempt == 1 {
						return briefWith(1, 1, 0), nil
					}
					return briefWith(req.Attempt, 1, 1), nil
				}

				brief, err := gate.Research(ctx, "Acme", "why choose acme", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(brief.BelowThreshold).To(BeFalse())
				Expect(brief.CountByKind(model.EvidenceKindStatistic)).To(Equal(2))
				Expect(brief.CountByKind(model.EvidenceKindQuotation)).To(Equal(1))
				Expect(brief.Verification.RetryAttempts).To(Equal(1))
				Expect(stage.calls).To(HaveLen(2))
			})

			It("uses alternative search terms on retries", func() {
				stage.runFn = func(_ context.Context, req research.StageRequest) (*model.ResearchBrief, error) {
					return briefWith(req.Attempt, 0, 0), nil
				}

				_, err := gate.Research(ctx, "Acme", "why choose acme", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(stage.calls[0].Query).To(Equal("Acme why choose acme"))
				Expect(stage.calls[1].Query).To(ContainSubstring("expert opinion statistics data"))
			})
		})

		Context("when the retry ceiling is exhausted", func() {
			It("never exceeds the configured retries and flags the outcome", func() {
				stage.runFn = func(_ context.Context, req research.StageRequest) (*model.ResearchBrief, error) {
					return briefWith(req.Attempt, 1, 0), nil
				}

				brief, err := gate.Research(ctx, "Acme", "why choose acme", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(brief.BelowThreshold).To(BeTrue())
				Expect(brief.Verification.RetryAttempts).To(Equal(2))
				// Initial attempt plus two retries, never more.
				Expect(stage.calls).To(HaveLen(3))
			})

			It("returns the best merged evidence it found", func() {
				stage.runFn = func(_ context.Context, req research.StageRequest) (*model.ResearchBrief, error) {
					return briefWith(req.Attempt, 1, 0), nil
				}

				brief, err := gate.Research(ctx, "Acme", "why choose acme", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(brief.CountByKind(model.EvidenceKindStatistic)).To(Equal(3))
			})
		})

		Context("when a retry attempt errors", func() {
			It("keeps the prior evidence and continues", func() {
				stage.runFn = func(_ context.Context, req research.StageRequest) (*model.ResearchBrief, error) {
					switch req.Attempt {
					case 1:
						return briefWith(1, 1, 0), nil
					case 2:
						return nil, fmt.Errorf("search unavailable")
					default:
						return briefWith(req.Attempt, 2, 1), nil
					}
				}

				brief, err := gate.Research(ctx, "Acme", "why choose acme", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(brief.BelowThreshold).To(BeFalse())
				Expect(brief.CountByKind(model.EvidenceKindStatistic)).To(Equal(3))
			})
		})

		Context("when the first attempt errors", func() {
			It("propagates the error", func() {
				stage.runFn = func(_ context.Context, _ research.StageRequest) (*model.ResearchBrief, error) {
					return nil, fmt.Errorf("search unavailable")
				}

				_, err := gate.Research(ctx, "Acme", "why choose acme", nil)
				Expect(err).To(MatchError(ContainSubstring("search unavailable")))
			})
		})

		It("only ever returns evidence carrying a verification source", func() {
			stage.runFn = func(_ context.Context, req research.StageRequest) (*model.ResearchBrief, error) {
				return briefWith(req.Attempt, 2, 1), nil
			}

			brief, err := gate.Research(ctx, "Acme", "why choose acme", nil)
			Expect(err).NotTo(HaveOccurred())
			for _, e := range append(brief.Statistics, brief.Quotations...) {
				Expect(e.VerificationSource).NotTo(BeEmpty())
				Expect(e.SourceURL).NotTo(BeEmpty())
			}
		})
	})

	Describe("merge behavior", func() {
		It("de-duplicates evidence repeated across attempts", func() {
			same := briefWith(1, 1, 1)
			stage.runFn = func(_ context.Context, req research.StageRequest) (*model.ResearchBrief, error) {
				b := *same
				b.Attempt = req.Attempt
				return &b, nil
			}

			brief, err := gate.Research(ctx, "Acme", "why choose acme", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(brief.CountByKind(model.EvidenceKindStatistic)).To(Equal(1))
			Expect(brief.CountByKind(model.EvidenceKindQuotation)).To(Equal(1))
		})

		It("caps merged evidence at the policy limits", func() {
			stage.runFn = func(_ context.Context, req research.StageRequest) (*model.ResearchBrief, error) {
				// Plenty of statistics, never enough quotations, so the
				// gate keeps retrying and merging.
				return briefWith(req.Attempt, 6, 0), nil
			}

			brief, err := gate.Research(ctx, "Acme", "why choose acme", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(len(brief.Statistics)).To(BeNumerically("<=", policy.MaxStatistics))
		})
	})
})
