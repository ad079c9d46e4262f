package model

type EvidenceKind string

const (
	EvidenceKindStatistic EvidenceKind = "statistic"
	EvidenceKindQuotation EvidenceKind = "quotation"
)

// EvidenceCandidate is a fact proposed by research before verification.
// Candidates that fail verification are discarded and never reach the
// draft-producing stages.
type EvidenceCandidate struct {
	Kind        EvidenceKind `json:"kind"`
	Text        string       `json:"text"`
	Attribution string       `json:"attribution,omitempty"`
	SourceRef   string       `json:"source_ref,omitempty"`
}

// VerifiedEvidence is a candidate that passed verification. It always
// carries the corroborating verifier and a canonical source URL; a
// VerifiedEvidence value never exists without a successful verdict.
type VerifiedEvidence struct {
	EvidenceCandidate
	VerificationSource string `json:"verification_source"`
	SourceURL          string `json:"source_url"`
}

// VerificationSummary records verification provenance for one research
// outcome, surfaced in the job result's geo_analysis block.
type VerificationSummary struct {
	StatisticsFound     int    `json:"statistics_found"`
	StatisticsVerified  int    `json:"statistics_verified"`
	StatisticsDiscarded int    `json:"statistics_discarded"`
	QuotationsFound     int    `json:"quotations_found"`
	QuotationsVerified  int    `json:"quotations_verified"`
	QuotationsDiscarded int    `json:"quotations_discarded"`
	RetryAttempts       int    `json:"retry_attempts"`
	VerificationSource  string `json:"verification_source"`
}

// ResearchBrief is the outcome of one research pass through the
// verification gate. Attempt starts at 1 and increases by 1 per retry.
// BelowThreshold marks an outcome that exhausted the retry ceiling
// without meeting the evidence thresholds.
type ResearchBrief struct {
	ClientName     string              `json:"client_name"`
	TargetQuestion string              `json:"target_question"`
	KeyFacts       []string            `json:"key_facts"`
	Statistics     []VerifiedEvidence  `json:"statistics"`
	Quotations     []VerifiedEvidence  `json:"quotations"`
	SourceURLs     []string            `json:"source_urls"`
	Attempt        int                 `json:"attempt"`
	BelowThreshold bool                `json:"below_threshold"`
	Verification   VerificationSummary `json:"verification"`
}

// CountByKind returns the number of verified items of the given kind.
func (b *ResearchBrief) CountByKind(kind EvidenceKind) int {
	switch kind {
	case EvidenceKindStatistic:
		return len(b.Statistics)
	case EvidenceKindQuotation:
		return len(b.Quotations)
	}
	return 0
}
