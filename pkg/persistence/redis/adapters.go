package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/osvaldoandrade/taskhub/pkg/domain"
	"github.com/osvaldoandrade/taskhub/pkg/persistence"

	"github.com/go-redis/redis/v8"
)

// ===== Agents =====

type agentStorage struct{ p *Plugin }

func (s *agentStorage) Create(ctx context.Context, agent *domain.Agent) error {
	nameKey := strings.ToLower(strings.TrimSpace(agent.Name))
	ok, err := s.p.client.HSetNX(ctx, keyAgentNames(), nameKey, agent.ID).Result()
	if err != nil {
		return err
	}
	if !ok {
		return persistence.ErrAlreadyExists
	}
	pipe := s.p.client.TxPipeline()
	pipe.Set(ctx, keyAgent(agent.ID), marshal(agent), 0)
	pipe.HSet(ctx, keyAgentAPIKeys(), agent.APIKey, agent.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *agentStorage) Get(ctx context.Context, id string) (*domain.Agent, error) {
	raw, err := s.p.client.Get(ctx, keyAgent(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var a domain.Agent
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *agentStorage) GetByName(ctx context.Context, name string) (*domain.Agent, error) {
	return s.getByIndex(ctx, keyAgentNames(), strings.ToLower(strings.TrimSpace(name)))
}

func (s *agentStorage) GetByAPIKey(ctx context.Context, apiKey string) (*domain.Agent, error) {
	return s.getByIndex(ctx, keyAgentAPIKeys(), apiKey)
}

func (s *agentStorage) getByIndex(ctx context.Context, index, field string) (*domain.Agent, error) {
	id, err := s.p.client.HGet(ctx, index, field).Result()
	if errors.Is(err, redis.Nil) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// ===== Tasks =====

type taskStorage struct{ p *Plugin }

func (s *taskStorage) Create(ctx context.Context, task *domain.Task) error {
	score := float64(task.CreatedAt.UnixNano())
	pipe := s.p.client.TxPipeline()
	pipe.Set(ctx, keyTask(task.ID), marshal(task), 0)
	pipe.ZAdd(ctx, keyTasksAll(), &redis.Z{Score: score, Member: task.ID})
	pipe.ZAdd(ctx, keyTasksByStatus(task.Status), &redis.Z{Score: score, Member: task.ID})
	_, err := pipe.Exec(ctx)
	return err
}

func (s *taskStorage) Get(ctx context.Context, id string) (*domain.Task, error) {
	raw, err := s.p.client.Get(ctx, keyTask(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return unmarshalTask(raw)
}

// Update is the store's check-and-set: WATCH pins the task key, the stored
// status is compared against expect, and the write aborts if any concurrent
// writer touched the record first.
func (s *taskStorage) Update(ctx context.Context, task *domain.Task, expect domain.TaskStatus) error {
	key := keyTask(task.ID)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return persistence.ErrNotFound
		}
		if err != nil {
			return err
		}
		current, err := unmarshalTask(raw)
		if err != nil {
			return err
		}
		if current.Status != expect {
			return persistence.ErrConflict
		}
		score := float64(current.CreatedAt.UnixNano())
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, marshal(task), 0)
			if task.Status != expect {
				pipe.ZRem(ctx, keyTasksByStatus(expect), task.ID)
				pipe.ZAdd(ctx, keyTasksByStatus(task.Status), &redis.Z{Score: score, Member: task.ID})
			}
			return nil
		})
		return err
	}

	err := s.p.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return persistence.ErrConflict
	}
	return err
}

func (s *taskStorage) List(ctx context.Context, status domain.TaskStatus, skip, limit int) ([]*domain.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	if skip < 0 {
		skip = 0
	}
	index := keyTasksAll()
	if status != "" {
		index = keyTasksByStatus(status)
	}
	ids, err := s.p.client.ZRevRange(ctx, index, int64(skip), int64(skip+limit-1)).Result()
	if err != nil {
		return nil, err
	}
	tasks := make([]*domain.Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.Get(ctx, id)
		if errors.Is(err, persistence.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func unmarshalTask(raw string) (*domain.Task, error) {
	var t domain.Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ===== Payouts =====

type payoutStorage struct{ p *Plugin }

func (s *payoutStorage) Save(ctx context.Context, rec *domain.PayoutRecord) error {
	pipe := s.p.client.TxPipeline()
	pipe.Set(ctx, keyPayout(rec.ID), marshal(rec), 0)
	pipe.HSet(ctx, keyPayoutByTask(), rec.TaskID, rec.ID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *payoutStorage) Get(ctx context.Context, id string) (*domain.PayoutRecord, error) {
	raw, err := s.p.client.Get(ctx, keyPayout(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec domain.PayoutRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *payoutStorage) GetByTask(ctx context.Context, taskID string) (*domain.PayoutRecord, error) {
	id, err := s.p.client.HGet(ctx, keyPayoutByTask(), taskID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}
