package model

// GenerationRequest is the payload for a content generation job.
// Field-level validation beyond presence checks is delegated to the
// HTTP binding layer.
type GenerationRequest struct {
	ClientName         string   `json:"client_name"`
	TargetQuestion     string   `json:"target_question"`
	ReferenceURLs      []string `json:"reference_urls,omitempty"`
	ReferenceDocuments []string `json:"reference_documents,omitempty"`
	TargetWordCount    int      `json:"target_word_count,omitempty"`
	LanguageOverride   string   `json:"language_override,omitempty"`
}

// RewriteRequest is the payload for a content rewrite job. Either
// Content or SourceURL must be provided.
type RewriteRequest struct {
	ClientName      string `json:"client_name"`
	Content         string `json:"content,omitempty"`
	SourceURL       string `json:"source_url,omitempty"`
	TargetQuestion  string `json:"target_question,omitempty"`
	TargetWordCount int    `json:"target_word_count,omitempty"`
}
