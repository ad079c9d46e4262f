package store

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"tocanan.ai/geo/internal/model"
)

// HistoryStore records completed jobs for the history endpoint.
type HistoryStore interface {
	Record(ctx context.Context, entry model.HistoryEntry) error
	Recent(ctx context.Context, limit int) ([]model.HistoryEntry, error)
}

// memoryHistoryStore keeps a bounded ring of recent entries, newest
// first. Oldest entries fall off when cap is exceeded.
type memoryHistoryStore struct {
	mu      sync.Mutex
	entries []model.HistoryEntry
	cap     int
}

func NewMemoryHistoryStore(capacity int) HistoryStore {
	if capacity <= 0 {
		capacity = 50
	}
	return &memoryHistoryStore{cap: capacity}
}

func (s *memoryHistoryStore) Record(ctx context.Context, entry model.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append([]model.HistoryEntry{entry}, s.entries...)
	if len(s.entries) > s.cap {
		s.entries = s.entries[:s.cap]
	}
	return nil
}

func (s *memoryHistoryStore) Recent(ctx context.Context, limit int) ([]model.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.entries) {
		limit = len(s.entries)
	}
	out := make([]model.HistoryEntry, limit)
	copy(out, s.entries[:limit])
	return out, nil
}

// pgHistoryStore persists history in Postgres so it survives restarts.
type pgHistoryStore struct {
	pool *pgxpool.Pool
}

func NewPostgresHistoryStore(ctx context.Context, pool *pgxpool.Pool) (HistoryStore, error) {
	s := &pgHistoryStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *pgHistoryStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS job_history (
			job_id             TEXT PRIMARY KEY,
			client_name        TEXT NOT NULL,
			target_question    TEXT NOT NULL,
			evaluation_score   DOUBLE PRECISION NOT NULL,
			word_count         INTEGER NOT NULL,
			generation_time_ms BIGINT NOT NULL,
			completed_at       TIMESTAMPTZ NOT NULL
		)`)
	return err
}

func (s *pgHistoryStore) Record(ctx context.Context, entry model.HistoryEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_history (job_id, client_name, target_question, evaluation_score, word_count, generation_time_ms, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (job_id) DO NOTHING`,
		entry.JobID, entry.ClientName, entry.TargetQuestion,
		entry.EvaluationScore, entry.WordCount, entry.GenerationTimeMS, entry.CompletedAt)
	return err
}

func (s *pgHistoryStore) Recent(ctx context.Context, limit int) ([]model.HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, client_name, target_question, evaluation_score, word_count, generation_time_ms, completed_at
		FROM job_history
		ORDER BY completed_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]model.HistoryEntry, 0, limit)
	for rows.Next() {
		var e model.HistoryEntry
		if err := rows.Scan(&e.JobID, &e.ClientName, &e.TargetQuestion,
			&e.EvaluationScore, &e.WordCount, &e.GenerationTimeMS, &e.CompletedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
