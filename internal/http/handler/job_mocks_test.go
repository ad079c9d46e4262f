package handler_test

import (
	"context"

	"tocanan.ai/geo/internal/model"
)

type mockJobService struct {
	submitFn        func(ctx context.Context, req model.GenerationRequest) (*model.Job, error)
	submitRewriteFn func(ctx context.Context, req model.RewriteRequest) (*model.Job, error)
	getStatusFn     func(ctx context.Context, jobID string) (*model.Job, error)
	historyFn       func(ctx context.Context, limit int) ([]model.HistoryEntry, error)
}

func (m *mockJobService) Submit(ctx context.Context, req model.GenerationRequest) (*model.Job, error) {
	return m.submitFn(ctx, req)
}

func (m *mockJobService) SubmitRewrite(ctx context.Context, req model.RewriteRequest) (*model.Job, error) {
	return m.submitRewriteFn(ctx, req)
}

func (m *mockJobService) GetStatus(ctx context.Context, jobID string) (*model.Job, error) {
	return m.getStatusFn(ctx, jobID)
}

func (m *mockJobService) History(ctx context.Context, limit int) ([]model.HistoryEntry, error) {
	return m.historyFn(ctx, limit)
}
