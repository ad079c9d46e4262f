package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tocanan.ai/geo/internal/model"
)

// memoryJobStore keeps jobs in a process-local map. It is the default
// backend for single-instance deployments.
type memoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
}

func NewMemoryJobStore() JobStore {
	return &memoryJobStore{jobs: make(map[string]*model.Job)}
}

func (s *memoryJobStore) Create(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *memoryJobStore) MarkProcessing(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status.Terminal() {
		return ErrTerminal
	}
	job.Status = model.JobStatusProcessing
	return nil
}

func (s *memoryJobStore) Complete(ctx context.Context, id string, result *model.GenerationResult) error {
	return s.finish(id, func(job *model.Job) {
		job.Status = model.JobStatusCompleted
		job.Result = result
	})
}

func (s *memoryJobStore) Fail(ctx context.Context, id string, jobErr *model.JobError) error {
	return s.finish(id, func(job *model.Job) {
		job.Status = model.JobStatusFailed
		job.Error = jobErr
	})
}

func (s *memoryJobStore) finish(id string, apply func(*model.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status.Terminal() {
		return ErrTerminal
	}
	apply(job)
	now := time.Now().UTC()
	job.CompletedAt = &now
	return nil
}

func (s *memoryJobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}
