package model

import "time"

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further status transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

type JobKind string

const (
	JobKindGenerate JobKind = "generate"
	JobKindRewrite  JobKind = "rewrite"
)

// Job tracks one submitted generation or rewrite request to a terminal
// outcome. Result and Error are mutually exclusive: exactly one of them
// is set, exactly once, at the terminal transition.
type Job struct {
	ID          string            `json:"job_id"`
	Kind        JobKind           `json:"kind"`
	Status      JobStatus         `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Result      *GenerationResult `json:"result,omitempty"`
	Error       *JobError         `json:"error,omitempty"`
}

// JobError is the terminal error payload persisted with a failed job.
// Kind matches pipeline.ErrorKind values so callers can distinguish
// "too slow" from "produced bad output".
type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// HistoryEntry is the compact record kept for completed jobs.
type HistoryEntry struct {
	JobID            string    `json:"job_id"`
	ClientName       string    `json:"client_name"`
	TargetQuestion   string    `json:"target_question"`
	EvaluationScore  float64   `json:"evaluation_score"`
	WordCount        int       `json:"word_count"`
	GenerationTimeMS int64     `json:"generation_time_ms"`
	CompletedAt      time.Time `json:"completed_at"`
}
