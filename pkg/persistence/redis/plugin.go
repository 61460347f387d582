// Package redis implements the record store on Redis/KVRocks. Records are
// JSON values under per-record keys; secondary indexes are hashes (unique
// lookups) and sorted sets scored by creation time (status-filtered listing).
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/osvaldoandrade/taskhub/pkg/domain"
	"github.com/osvaldoandrade/taskhub/pkg/persistence"

	"github.com/go-redis/redis/v8"
)

// Config holds Redis-specific configuration.
type Config struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
}

// Plugin implements persistence.PluginPersistence on Redis.
type Plugin struct {
	client *redis.Client
	tz     *time.Location
}

// NewPlugin creates a new Redis persistence plugin.
func NewPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	var cfg Config
	if err := json.Unmarshal(config.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis persistence: addr is required")
	}
	tz := config.Timezone
	if tz == nil {
		tz = time.UTC
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
	})
	return &Plugin{client: client, tz: tz}, nil
}

// NewPluginWithClient wraps an existing client. Used by tests and by callers
// that share one connection pool across store and rate limiter.
func NewPluginWithClient(client *redis.Client, tz *time.Location) *Plugin {
	if tz == nil {
		tz = time.UTC
	}
	return &Plugin{client: client, tz: tz}
}

func (p *Plugin) AgentStorage() persistence.AgentStorage   { return &agentStorage{p} }
func (p *Plugin) TaskStorage() persistence.TaskStorage     { return &taskStorage{p} }
func (p *Plugin) PayoutStorage() persistence.PayoutStorage { return &payoutStorage{p} }

func (p *Plugin) Health(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *Plugin) Close() error {
	return p.client.Close()
}

func init() {
	persistence.RegisterProvider("redis", NewPlugin)
}

// ===== Keys =====

func keyAgent(id string) string  { return "taskhub:agent:" + id }
func keyAgentNames() string      { return "taskhub:agents:by_name" }
func keyAgentAPIKeys() string    { return "taskhub:agents:by_key" }
func keyTask(id string) string   { return "taskhub:task:" + id }
func keyTasksAll() string        { return "taskhub:tasks:created" }
func keyPayout(id string) string { return "taskhub:payout:" + id }
func keyPayoutByTask() string    { return "taskhub:payouts:by_task" }

func keyTasksByStatus(status domain.TaskStatus) string {
	return "taskhub:tasks:status:" + strings.ToLower(string(status))
}

func marshal(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
