// Package memory implements the record store in process memory. It backs
// tests and local development; nothing is durable.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/osvaldoandrade/taskhub/pkg/domain"
	"github.com/osvaldoandrade/taskhub/pkg/persistence"
)

// Plugin implements persistence.PluginPersistence with maps under one lock.
type Plugin struct {
	mu           sync.RWMutex
	agents       map[string]*domain.Agent
	agentsByName map[string]string
	agentsByKey  map[string]string
	tasks        map[string]*domain.Task
	payouts      map[string]*domain.PayoutRecord
	payoutByTask map[string]string
	tz           *time.Location
}

// NewPlugin creates a new in-memory persistence plugin.
func NewPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	tz := config.Timezone
	if tz == nil {
		tz = time.UTC
	}
	return &Plugin{
		agents:       make(map[string]*domain.Agent),
		agentsByName: make(map[string]string),
		agentsByKey:  make(map[string]string),
		tasks:        make(map[string]*domain.Task),
		payouts:      make(map[string]*domain.PayoutRecord),
		payoutByTask: make(map[string]string),
		tz:           tz,
	}, nil
}

func (p *Plugin) AgentStorage() persistence.AgentStorage   { return &agentStorage{p} }
func (p *Plugin) TaskStorage() persistence.TaskStorage     { return &taskStorage{p} }
func (p *Plugin) PayoutStorage() persistence.PayoutStorage { return &payoutStorage{p} }

func (p *Plugin) Health(ctx context.Context) error { return nil }
func (p *Plugin) Close() error                     { return nil }

func init() {
	persistence.RegisterProvider("memory", NewPlugin)
}

// ===== Agents =====

type agentStorage struct{ p *Plugin }

func (s *agentStorage) Create(ctx context.Context, agent *domain.Agent) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	nameKey := strings.ToLower(strings.TrimSpace(agent.Name))
	if _, taken := s.p.agentsByName[nameKey]; taken {
		return persistence.ErrAlreadyExists
	}
	cp := *agent
	s.p.agents[agent.ID] = &cp
	s.p.agentsByName[nameKey] = agent.ID
	s.p.agentsByKey[agent.APIKey] = agent.ID
	return nil
}

func (s *agentStorage) Get(ctx context.Context, id string) (*domain.Agent, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()
	a, ok := s.p.agents[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *agentStorage) GetByName(ctx context.Context, name string) (*domain.Agent, error) {
	s.p.mu.RLock()
	id, ok := s.p.agentsByName[strings.ToLower(strings.TrimSpace(name))]
	s.p.mu.RUnlock()
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *agentStorage) GetByAPIKey(ctx context.Context, apiKey string) (*domain.Agent, error) {
	s.p.mu.RLock()
	id, ok := s.p.agentsByKey[apiKey]
	s.p.mu.RUnlock()
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return s.Get(ctx, id)
}

// ===== Tasks =====

type taskStorage struct{ p *Plugin }

func (s *taskStorage) Create(ctx context.Context, task *domain.Task) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	cp := *task
	s.p.tasks[task.ID] = &cp
	return nil
}

func (s *taskStorage) Get(ctx context.Context, id string) (*domain.Task, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()
	t, ok := s.p.tasks[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *taskStorage) Update(ctx context.Context, task *domain.Task, expect domain.TaskStatus) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	current, ok := s.p.tasks[task.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	if current.Status != expect {
		return persistence.ErrConflict
	}
	cp := *task
	s.p.tasks[task.ID] = &cp
	return nil
}

func (s *taskStorage) List(ctx context.Context, status domain.TaskStatus, skip, limit int) ([]*domain.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	if skip < 0 {
		skip = 0
	}
	s.p.mu.RLock()
	matched := make([]*domain.Task, 0, len(s.p.tasks))
	for _, t := range s.p.tasks {
		if status != "" && t.Status != status {
			continue
		}
		matched = append(matched, t)
	}
	s.p.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if skip >= len(matched) {
		return []*domain.Task{}, nil
	}
	matched = matched[skip:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]*domain.Task, len(matched))
	for i, t := range matched {
		cp := *t
		out[i] = &cp
	}
	return out, nil
}

// ===== Payouts =====

type payoutStorage struct{ p *Plugin }

func (s *payoutStorage) Save(ctx context.Context, rec *domain.PayoutRecord) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	cp := *rec
	s.p.payouts[rec.ID] = &cp
	s.p.payoutByTask[rec.TaskID] = rec.ID
	return nil
}

func (s *payoutStorage) Get(ctx context.Context, id string) (*domain.PayoutRecord, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()
	rec, ok := s.p.payouts[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *payoutStorage) GetByTask(ctx context.Context, taskID string) (*domain.PayoutRecord, error) {
	s.p.mu.RLock()
	id, ok := s.p.payoutByTask[taskID]
	s.p.mu.RUnlock()
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return s.Get(ctx, id)
}
