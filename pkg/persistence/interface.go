package persistence

import (
	"context"
	"errors"

	"github.com/osvaldoandrade/taskhub/pkg/domain"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a unique key is already taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict is returned when a conditional update loses its race: the
	// stored record's status no longer matches what the caller observed.
	ErrConflict = errors.New("conflict")
)

// PluginPersistence is the record store consumed by the marketplace: durable
// keyed storage for agents, tasks, and payout records. All persistence
// backends must implement it.
type PluginPersistence interface {
	AgentStorage() AgentStorage
	TaskStorage() TaskStorage
	PayoutStorage() PayoutStorage

	// Health checks if the persistence backend is reachable.
	Health(ctx context.Context) error

	// Close releases resources held by the persistence backend.
	Close() error
}

// AgentStorage persists registered agents. Agents are immutable once created.
type AgentStorage interface {
	// Create stores a new agent. Fails with ErrAlreadyExists when the display
	// name is taken.
	Create(ctx context.Context, agent *domain.Agent) error

	Get(ctx context.Context, id string) (*domain.Agent, error)
	GetByName(ctx context.Context, name string) (*domain.Agent, error)

	// GetByAPIKey resolves a credential token to its agent.
	GetByAPIKey(ctx context.Context, apiKey string) (*domain.Agent, error)
}

// TaskStorage persists bounty tasks and their status index.
type TaskStorage interface {
	Create(ctx context.Context, task *domain.Task) error
	Get(ctx context.Context, id string) (*domain.Task, error)

	// Update writes task only if the stored record still has status expect,
	// as an atomic compare-and-swap. Two claimers racing on the same open
	// task get exactly one winner; the loser sees ErrConflict.
	Update(ctx context.Context, task *domain.Task, expect domain.TaskStatus) error

	// List returns tasks filtered by status (empty means all), newest first,
	// with skip/limit pagination.
	List(ctx context.Context, status domain.TaskStatus, skip, limit int) ([]*domain.Task, error)
}

// PayoutStorage persists settlement attempts, keyed by payout id and indexed
// by task. A task has at most one payout record.
type PayoutStorage interface {
	Save(ctx context.Context, rec *domain.PayoutRecord) error
	Get(ctx context.Context, id string) (*domain.PayoutRecord, error)
	GetByTask(ctx context.Context, taskID string) (*domain.PayoutRecord, error)
}
