package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tocanan.ai/geo/internal/model"
)

const jobKeyPrefix = "geo:job:"

// redisJobStore persists jobs as JSON values in Redis so that status
// can be polled from any replica. Entries expire after ttl to bound
// memory on long-running deployments.
type redisJobStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisJobStore(rdb *redis.Client, ttl time.Duration) JobStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &redisJobStore{rdb: rdb, ttl: ttl}
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func (s *redisJobStore) Create(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, jobKey(job.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("store job: %w", err)
	}
	if !ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	return nil
}

func (s *redisJobStore) MarkProcessing(ctx context.Context, id string) error {
	return s.update(ctx, id, func(job *model.Job) {
		job.Status = model.JobStatusProcessing
	})
}

func (s *redisJobStore) Complete(ctx context.Context, id string, result *model.GenerationResult) error {
	return s.update(ctx, id, func(job *model.Job) {
		job.Status = model.JobStatusCompleted
		job.Result = result
		now := time.Now().UTC()
		job.CompletedAt = &now
	})
}

func (s *redisJobStore) Fail(ctx context.Context, id string, jobErr *model.JobError) error {
	return s.update(ctx, id, func(job *model.Job) {
		job.Status = model.JobStatusFailed
		job.Error = jobErr
		now := time.Now().UTC()
		job.CompletedAt = &now
	})
}

// update applies a mutation inside a WATCH transaction so concurrent
// writers cannot both record a terminal status.
func (s *redisJobStore) update(ctx context.Context, id string, apply func(*model.Job)) error {
	key := jobKey(id)
	return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load job: %w", err)
		}

		var job model.Job
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("unmarshal job: %w", err)
		}
		if job.Status.Terminal() {
			return ErrTerminal
		}
		apply(&job)

		updated, err := json.Marshal(&job)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, s.ttl)
			return nil
		})
		return err
	}, key)
}

func (s *redisJobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	data, err := s.rdb.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}
