package model

type DraftBranch string

const (
	DraftBranchA DraftBranch = "A"
	DraftBranchB DraftBranch = "B"
)

// ContentDraft is one writer branch's output.
type ContentDraft struct {
	Branch          DraftBranch `json:"branch"`
	Content         string      `json:"content"`
	WordCount       int         `json:"word_count"`
	StatisticsCount int         `json:"statistics_count"`
	QuotationsCount int         `json:"quotations_count"`
	CitationsCount  int         `json:"citations_count"`
	Model           string      `json:"model"`
}

// DraftScores holds the per-dimension evaluation scores (0-100).
type DraftScores struct {
	Fluency    float64 `json:"fluency_score"`
	Accuracy   float64 `json:"accuracy_score"`
	Citations  float64 `json:"citation_score"`
	Engagement float64 `json:"engagement_score"`
}

type DraftEvaluation struct {
	Scores       DraftScores `json:"scores"`
	OverallScore float64     `json:"overall_score"`
	Feedback     []string    `json:"feedback,omitempty"`
}

// EvaluationResult compares the two drafts and records the selection
// decision made by the evaluation stage.
type EvaluationResult struct {
	DraftA          DraftEvaluation `json:"draft_a"`
	DraftB          DraftEvaluation `json:"draft_b"`
	SelectedDraft   DraftBranch     `json:"selected_draft"`
	BestScore       float64         `json:"best_score"`
	PassesThreshold bool            `json:"passes_threshold"`
	RevisionNeeded  []DraftBranch   `json:"revision_needed,omitempty"`
}

// Commentary is the explanatory analysis of the final selection. It is
// advisory: a job completes even when commentary generation fails.
type Commentary struct {
	Assessment   string   `json:"assessment"`
	KeyStrengths []string `json:"key_strengths,omitempty"`
	Suggestions  []string `json:"suggestions,omitempty"`
}

// GeoAnalysis is the evidence/quality block attached to every result.
type GeoAnalysis struct {
	StatisticsCount int                 `json:"statistics_count"`
	QuotationsCount int                 `json:"quotations_count"`
	CitationsCount  int                 `json:"citations_count"`
	FluencyScore    float64             `json:"fluency_score"`
	Verification    VerificationSummary `json:"verification"`
}

// GenerationResult is the terminal payload of a completed job.
type GenerationResult struct {
	JobID                string            `json:"job_id"`
	Content              string            `json:"content"`
	WordCount            int               `json:"word_count"`
	SelectedDraft        DraftBranch       `json:"selected_draft"`
	EvaluationScore      float64           `json:"evaluation_score"`
	EvaluationIterations int               `json:"evaluation_iterations"`
	ResearchAttempts     int               `json:"research_attempts"`
	GeoAnalysis          GeoAnalysis       `json:"geo_analysis"`
	Commentary           *Commentary       `json:"geo_commentary,omitempty"`
	ModelsUsed           map[string]string `json:"models_used,omitempty"`
	GenerationTimeMS     int64             `json:"generation_time_ms"`
}
