package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tocanan.ai/geo/internal/http/dto"
	"tocanan.ai/geo/internal/model"
	"tocanan.ai/geo/internal/pipeline"
	"tocanan.ai/geo/internal/store"
)

// JobService is the orchestrator surface the handlers need.
type JobService interface {
	Submit(ctx context.Context, req model.GenerationRequest) (*model.Job, error)
	SubmitRewrite(ctx context.Context, req model.RewriteRequest) (*model.Job, error)
	GetStatus(ctx context.Context, jobID string) (*model.Job, error)
	History(ctx context.Context, limit int) ([]model.HistoryEntry, error)
}

type JobHandler struct {
	jobs         JobService
	historyLimit int
}

func NewJobHandler(jobs JobService, historyLimit int) *JobHandler {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &JobHandler{jobs: jobs, historyLimit: historyLimit}
}

// SubmitGenerate accepts a generation request and returns the job
// identifier immediately; the pipeline runs in the background.
func (h *JobHandler) SubmitGenerate(c *gin.Context) {
	var req dto.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.jobs.Submit(c.Request.Context(), model.GenerationRequest{
		ClientName:         req.ClientName,
		TargetQuestion:     req.TargetQuestion,
		ReferenceURLs:      req.ReferenceURLs,
		ReferenceDocuments: req.ReferenceDocuments,
		TargetWordCount:    req.TargetWordCount,
		LanguageOverride:   req.LanguageOverride,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, submitResponse(job))
}

// SubmitRewrite accepts a rewrite request and returns the job
// identifier immediately.
func (h *JobHandler) SubmitRewrite(c *gin.Context) {
	var req dto.RewriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.jobs.SubmitRewrite(c.Request.Context(), model.RewriteRequest{
		ClientName:      req.ClientName,
		Content:         req.Content,
		SourceURL:       req.SourceURL,
		TargetQuestion:  req.TargetQuestion,
		TargetWordCount: req.TargetWordCount,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, submitResponse(job))
}

// GetStatus returns the current job snapshot, including the terminal
// result or error once present.
func (h *JobHandler) GetStatus(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing job_id"})
		return
	}

	job, err := h.jobs.GetStatus(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// History returns recent completed jobs, newest first.
func (h *JobHandler) History(c *gin.Context) {
	limit := h.historyLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}

	entries, err := h.jobs.History(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries, "count": len(entries)})
}

func submitResponse(job *model.Job) dto.SubmitResponse {
	return dto.SubmitResponse{
		JobID:     job.ID,
		Status:    string(job.Status),
		StatusURL: fmt.Sprintf("/api/v1/jobs/%s", job.ID),
	}
}

// respondError maps error kinds to HTTP statuses: validation errors
// are the caller's fault, unknown jobs are 404, everything else is a
// server error.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case pipeline.KindOf(err) == pipeline.KindValidation:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
