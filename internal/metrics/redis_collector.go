package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/osvaldoandrade/taskhub/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

type redisCollector struct {
	rdb    *redis.Client
	logger *slog.Logger

	tasksByStatusDesc *prometheus.Desc
	tasksTotalDesc    *prometheus.Desc
}

func newRedisCollector(rdb *redis.Client, logger *slog.Logger) *redisCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisCollector{
		rdb:    rdb,
		logger: logger,
		tasksByStatusDesc: prometheus.NewDesc(
			"taskhub_tasks_by_status",
			"Current number of tasks by lifecycle status.",
			[]string{"status"},
			nil,
		),
		tasksTotalDesc: prometheus.NewDesc(
			"taskhub_tasks_total",
			"Current total number of tasks in the store.",
			nil,
			nil,
		),
	}
}

func (c *redisCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.tasksByStatusDesc
	ch <- c.tasksTotalDesc
}

func (c *redisCollector) Collect(ch chan<- prometheus.Metric) {
	if c.rdb == nil {
		return
	}

	// Keep Redis reads bounded so scrapes do not hang.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	statuses := []domain.TaskStatus{
		domain.StatusOpen,
		domain.StatusClaimed,
		domain.StatusSubmitted,
		domain.StatusApproved,
		domain.StatusRejected,
	}

	pipe := c.rdb.Pipeline()
	statusCmds := make(map[domain.TaskStatus]*redis.IntCmd, len(statuses))
	for _, st := range statuses {
		statusCmds[st] = pipe.ZCard(ctx, keyTasksStatus(st))
	}
	totalCmd := pipe.ZCard(ctx, "taskhub:tasks:created")

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		c.logger.Warn("prometheus redis collector failed", "err", err)
		return
	}

	for _, st := range statuses {
		emitGauge(ch, c.tasksByStatusDesc, float64(statusCmds[st].Val()), string(st))
	}
	emitGauge(ch, c.tasksTotalDesc, float64(totalCmd.Val()))
}

func emitGauge(ch chan<- prometheus.Metric, desc *prometheus.Desc, v float64, labelValues ...string) {
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, v, labelValues...)
	if err != nil {
		return
	}
	ch <- m
}

func keyTasksStatus(st domain.TaskStatus) string {
	return fmt.Sprintf("taskhub:tasks:status:%s", string(st))
}

var registerRedisCollectorOnce sync.Once

func RegisterRedisCollector(rdb *redis.Client, logger *slog.Logger) {
	registerRedisCollectorOnce.Do(func() {
		prometheus.MustRegister(newRedisCollector(rdb, logger))
	})
}
