package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"tocanan.ai/geo/internal/model"
)

// StageRunner is the research attempt the gate drives. Satisfied by
// *Stage; mocked in tests.
type StageRunner interface {
	Run(ctx context.Context, req StageRequest) (*model.ResearchBrief, error)
}

// GatePolicy holds the evidence thresholds and the retry ceiling. The
// caps bound evidence growth when retried briefs are merged.
type GatePolicy struct {
	MinStatistics int
	MinQuotations int
	MaxRetries    int
	MaxStatistics int
	MaxQuotations int
}

func DefaultGatePolicy() GatePolicy {
	return GatePolicy{
		MinStatistics: 2,
		MinQuotations: 1,
		MaxRetries:    2,
		MaxStatistics: 8,
		MaxQuotations: 5,
	}
}

// Gate enforces minimum verified-evidence thresholds in front of the
// draft stages. It retries research with alternative search terms up
// to the ceiling; an outcome below threshold after the last retry is
// returned flagged, never silently degraded.
type Gate struct {
	stage  StageRunner
	policy GatePolicy
}

func NewGate(stage StageRunner, policy GatePolicy) *Gate {
	if policy.MaxStatistics <= 0 {
		policy.MaxStatistics = 8
	}
	if policy.MaxQuotations <= 0 {
		policy.MaxQuotations = 5
	}
	return &Gate{stage: stage, policy: policy}
}

// Meets reports whether the brief satisfies the gate's thresholds.
func (g *Gate) Meets(brief *model.ResearchBrief) bool {
	return brief.CountByKind(model.EvidenceKindStatistic) >= g.policy.MinStatistics &&
		brief.CountByKind(model.EvidenceKindQuotation) >= g.policy.MinQuotations
}

// Research runs the gated research loop. The returned brief has
// BelowThreshold set when the retry ceiling was exhausted without
// meeting the thresholds; the caller decides how to proceed.
func (g *Gate) Research(ctx context.Context, clientName, targetQuestion string, referenceURLs []string) (*model.ResearchBrief, error) {
	query := strings.TrimSpace(clientName + " " + targetQuestion)

	merged, err := g.stage.Run(ctx, StageRequest{
		ClientName:     clientName,
		TargetQuestion: targetQuestion,
		Query:          query,
		ReferenceURLs:  referenceURLs,
		Attempt:        1,
	})
	if err != nil {
		return nil, err
	}

	retries := 0
	for !g.Meets(merged) && retries < g.policy.MaxRetries {
		retries++
		slog.InfoContext(ctx, "evidence below threshold, retrying research",
			"statistics", merged.CountByKind(model.EvidenceKindStatistic),
			"quotations", merged.CountByKind(model.EvidenceKindQuotation),
			"retry", retries,
			"max_retries", g.policy.MaxRetries)

		alternative := fmt.Sprintf("%s %s expert opinion statistics data", clientName, targetQuestion)
		next, err := g.stage.Run(ctx, StageRequest{
			ClientName:     clientName,
			TargetQuestion: targetQuestion,
			Query:          alternative,
			ReferenceURLs:  referenceURLs,
			Attempt:        retries + 1,
		})
		if err != nil {
			slog.WarnContext(ctx, "research retry failed", "retry", retries, "error", err)
			continue
		}
		merged = g.merge(merged, next)
	}

	merged.Verification.RetryAttempts = retries
	if !g.Meets(merged) {
		merged.BelowThreshold = true
	}
	return merged, nil
}

// merge combines the evidence of two briefs, de-duplicating by text
// and keeping the result within the policy caps. Counters accumulate
// so the verification summary covers all attempts.
func (g *Gate) merge(base, next *model.ResearchBrief) *model.ResearchBrief {
	out := *base
	out.Attempt = next.Attempt

	out.Statistics = mergeEvidence(base.Statistics, next.Statistics, g.policy.MaxStatistics)
	out.Quotations = mergeEvidence(base.Quotations, next.Quotations, g.policy.MaxQuotations)

	seenFacts := make(map[string]bool, len(base.KeyFacts))
	for _, f := range base.KeyFacts {
		seenFacts[f] = true
	}
	for _, f := range next.KeyFacts {
		if !seenFacts[f] {
			seenFacts[f] = true
			out.KeyFacts = append(out.KeyFacts, f)
		}
	}

	seenURLs := make(map[string]bool, len(base.SourceURLs))
	for _, u := range base.SourceURLs {
		seenURLs[u] = true
	}
	for _, u := range next.SourceURLs {
		if !seenURLs[u] {
			seenURLs[u] = true
			out.SourceURLs = append(out.SourceURLs, u)
		}
	}

	out.Verification.StatisticsFound += next.Verification.StatisticsFound
	out.Verification.QuotationsFound += next.Verification.QuotationsFound
	out.Verification.StatisticsDiscarded += next.Verification.StatisticsDiscarded
	out.Verification.QuotationsDiscarded += next.Verification.QuotationsDiscarded
	out.Verification.StatisticsVerified = len(out.Statistics)
	out.Verification.QuotationsVerified = len(out.Quotations)

	return &out
}

func mergeEvidence(base, next []model.VerifiedEvidence, limit int) []model.VerifiedEvidence {
	out := make([]model.VerifiedEvidence, 0, len(base)+len(next))
	seen := make(map[string]bool)
	for _, e := range append(append([]model.VerifiedEvidence{}, base...), next...) {
		key := dedupeKey(e.Text)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// dedupeKey normalizes evidence text, matching on the first 50
// characters so near-identical findings from separate attempts
// collapse to one.
func dedupeKey(text string) string {
	key := strings.ToLower(strings.TrimSpace(text))
	if len(key) > 50 {
		key = key[:50]
	}
	return key
}
