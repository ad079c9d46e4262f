package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tocanan.ai/geo/common/id"
	"tocanan.ai/geo/common/logger"
	"tocanan.ai/geo/internal/model"
	"tocanan.ai/geo/internal/pipeline"
	"tocanan.ai/geo/internal/store"
)

// GenerationRunner and RewriteRunner are the pipeline entry points the
// orchestrator drives. Satisfied by the pipeline package; mocked in
// tests.
type GenerationRunner interface {
	Run(ctx context.Context, jobID string, req model.GenerationRequest) (*model.GenerationResult, error)
}

type RewriteRunner interface {
	Run(ctx context.Context, jobID string, req model.RewriteRequest) (*model.GenerationResult, error)
}

// Orchestrator owns the job lifecycle: it accepts submissions, runs
// the pipeline asynchronously, and writes exactly one terminal
// transition per job. Submissions never block on pipeline work.
type Orchestrator struct {
	jobs     store.JobStore
	history  store.HistoryStore
	generate GenerationRunner
	rewrite  RewriteRunner
	deadline time.Duration

	wg sync.WaitGroup
}

func NewOrchestrator(jobs store.JobStore, history store.HistoryStore, generate GenerationRunner, rewrite RewriteRunner, deadline time.Duration) *Orchestrator {
	if deadline <= 0 {
		deadline = 10 * time.Minute
	}
	return &Orchestrator{
		jobs:     jobs,
		history:  history,
		generate: generate,
		rewrite:  rewrite,
		deadline: deadline,
	}
}

// Submit validates the request, creates a pending job, and starts the
// generation pipeline in the background. Returns immediately with the
// new job.
func (o *Orchestrator) Submit(ctx context.Context, req model.GenerationRequest) (*model.Job, error) {
	if strings.TrimSpace(req.ClientName) == "" {
		return nil, pipeline.NewError(pipeline.KindValidation, "client_name is required", nil)
	}
	if strings.TrimSpace(req.TargetQuestion) == "" {
		return nil, pipeline.NewError(pipeline.KindValidation, "target_question is required", nil)
	}

	job, err := o.createJob(ctx, model.JobKindGenerate)
	if err != nil {
		return nil, err
	}

	o.start(job, req.ClientName, req.TargetQuestion, func(runCtx context.Context) (*model.GenerationResult, error) {
		return o.generate.Run(runCtx, job.ID, req)
	})
	return job, nil
}

// SubmitRewrite validates the request, creates a pending job, and
// starts the rewrite pipeline in the background.
func (o *Orchestrator) SubmitRewrite(ctx context.Context, req model.RewriteRequest) (*model.Job, error) {
	if strings.TrimSpace(req.ClientName) == "" {
		return nil, pipeline.NewError(pipeline.KindValidation, "client_name is required", nil)
	}
	if strings.TrimSpace(req.Content) == "" && strings.TrimSpace(req.SourceURL) == "" {
		return nil, pipeline.NewError(pipeline.KindValidation, "content or source_url is required", nil)
	}

	job, err := o.createJob(ctx, model.JobKindRewrite)
	if err != nil {
		return nil, err
	}

	o.start(job, req.ClientName, req.TargetQuestion, func(runCtx context.Context) (*model.GenerationResult, error) {
		return o.rewrite.Run(runCtx, job.ID, req)
	})
	return job, nil
}

// GetStatus returns a consistent snapshot of the job. It never blocks
// on in-flight pipeline work.
func (o *Orchestrator) GetStatus(ctx context.Context, jobID string) (*model.Job, error) {
	return o.jobs.Get(ctx, jobID)
}

// History returns recent completed jobs, newest first.
func (o *Orchestrator) History(ctx context.Context, limit int) ([]model.HistoryEntry, error) {
	return o.history.Recent(ctx, limit)
}

// Wait blocks until all in-flight jobs finish. Used on shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) createJob(ctx context.Context, kind model.JobKind) (*model.Job, error) {
	job := &model.Job{
		ID:        fmt.Sprintf("job_%d", id.New()),
		Kind:      kind,
		Status:    model.JobStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// start launches the pipeline for a job in its own goroutine. The run
// context is detached from the submitting request and bounded by the
// job deadline.
func (o *Orchestrator) start(job *model.Job, clientName, targetQuestion string, run func(context.Context) (*model.GenerationResult, error)) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		ctx := logger.WithLogFields(context.Background(), logger.LogFields{
			JobID:     logger.Ptr(job.ID),
			Component: "geo.orchestrator",
		})
		ctx, cancel := context.WithTimeout(ctx, o.deadline)
		defer cancel()

		sc := logger.StartSpan(ctx, "job.execute")
		defer sc.End()
		ctx = sc.Context()

		o.execute(ctx, sc, job, clientName, targetQuestion, run)
	}()
}

func (o *Orchestrator) execute(ctx context.Context, sc *logger.SpanContext, job *model.Job, clientName, targetQuestion string, run func(context.Context) (*model.GenerationResult, error)) {
	// Terminal writes must land even when the run context expired, so
	// they use a detached context.
	writeCtx := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "pipeline panicked", "panic", r)
			o.fail(writeCtx, job.ID, &model.JobError{
				Kind:    string(pipeline.KindInternal),
				Message: fmt.Sprintf("pipeline panicked: %v", r),
			})
		}
	}()

	if err := o.jobs.MarkProcessing(ctx, job.ID); err != nil {
		// The job must not stay pending forever; give it a terminal
		// state even when the processing transition did not land.
		slog.ErrorContext(ctx, "mark processing failed", "error", err)
		o.fail(writeCtx, job.ID, &model.JobError{
			Kind:    string(pipeline.KindInternal),
			Message: fmt.Sprintf("mark processing failed: %v", err),
		})
		return
	}
	slog.InfoContext(ctx, "job started", "kind", job.Kind)

	result, err := run(ctx)
	if err != nil {
		sc.RecordError(err)
		o.fail(writeCtx, job.ID, &model.JobError{
			Kind:    string(pipeline.KindOf(err)),
			Message: err.Error(),
		})
		return
	}

	if err := o.jobs.Complete(writeCtx, job.ID, result); err != nil {
		slog.ErrorContext(ctx, "terminal write failed", "error", err)
		return
	}
	slog.InfoContext(ctx, "job completed",
		"score", result.EvaluationScore,
		"duration_ms", result.GenerationTimeMS)

	if o.history != nil {
		entry := model.HistoryEntry{
			JobID:            job.ID,
			ClientName:       clientName,
			TargetQuestion:   targetQuestion,
			EvaluationScore:  result.EvaluationScore,
			WordCount:        result.WordCount,
			GenerationTimeMS: result.GenerationTimeMS,
			CompletedAt:      time.Now().UTC(),
		}
		if err := o.history.Record(writeCtx, entry); err != nil {
			slog.WarnContext(ctx, "history record failed", "error", err)
		}
	}
}

func (o *Orchestrator) fail(ctx context.Context, jobID string, jobErr *model.JobError) {
	if err := o.jobs.Fail(ctx, jobID, jobErr); err != nil {
		slog.ErrorContext(ctx, "terminal write failed", "error", err, "kind", jobErr.Kind)
		return
	}
	slog.WarnContext(ctx, "job failed", "kind", jobErr.Kind, "message", logger.Truncate(jobErr.Message, 300))
}
