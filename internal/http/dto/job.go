package dto

// GenerateRequest is the submission payload for a generation job.
type GenerateRequest struct {
	ClientName         string   `json:"client_name" binding:"required"`
	TargetQuestion     string   `json:"target_question" binding:"required"`
	ReferenceURLs      []string `json:"reference_urls"`
	ReferenceDocuments []string `json:"reference_documents"`
	TargetWordCount    int      `json:"target_word_count"`
	LanguageOverride   string   `json:"language_override"`
}

// RewriteRequest is the submission payload for a rewrite job.
type RewriteRequest struct {
	ClientName      string `json:"client_name" binding:"required"`
	Content         string `json:"content"`
	SourceURL       string `json:"source_url"`
	TargetQuestion  string `json:"target_question"`
	TargetWordCount int    `json:"target_word_count"`
}

// SubmitResponse acknowledges an accepted job submission.
type SubmitResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	StatusURL string `json:"status_url"`
}
