package store

import (
	"context"
	"errors"

	"tocanan.ai/geo/internal/model"
)

var (
	// ErrNotFound is returned when the requested job does not exist.
	ErrNotFound = errors.New("job not found")
	// ErrTerminal is returned when a write targets a job that already
	// reached a terminal status. Terminal results are immutable.
	ErrTerminal = errors.New("job already terminal")
)

// JobStore tracks generation jobs through their lifecycle. The status
// machine only moves forward: pending, processing, then exactly one of
// completed or failed.
type JobStore interface {
	Create(ctx context.Context, job *model.Job) error
	MarkProcessing(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, result *model.GenerationResult) error
	Fail(ctx context.Context, id string, jobErr *model.JobError) error
	Get(ctx context.Context, id string) (*model.Job, error)
}
