package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/osvaldoandrade/taskhub/pkg/domain"
	"github.com/osvaldoandrade/taskhub/pkg/persistence"
)

// ReconcileService is the operator path for incomplete settlements: it
// re-drives a task's payout, resubmitting only the missing legs and resolving
// outstanding confirmations, then finalizes the task if settlement completed.
type ReconcileService interface {
	Reconcile(ctx context.Context, taskID string) (*domain.PayoutRecord, error)
}

type reconcileService struct {
	tasks      persistence.TaskStorage
	payouts    persistence.PayoutStorage
	settlement SettlementService
	logger     *slog.Logger
	now        func() time.Time
}

func NewReconcileService(tasks persistence.TaskStorage, payouts persistence.PayoutStorage, settlement SettlementService, logger *slog.Logger, now func() time.Time) ReconcileService {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &reconcileService{tasks: tasks, payouts: payouts, settlement: settlement, logger: logger, now: now}
}

func (s *reconcileService) Reconcile(ctx context.Context, taskID string) (*domain.PayoutRecord, error) {
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	// Reconciliation only re-drives an existing settlement attempt; a task
	// with no payout record has nothing to recover.
	if _, err := s.payouts.GetByTask(ctx, taskID); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	rec, err := s.settlement.Settle(ctx, task)
	if err != nil {
		s.logger.Warn("reconciliation incomplete", "taskId", taskID, "err", err)
		return nil, err
	}

	// Settlement is complete; promote a task stuck in submitted to approved.
	if task.Status == domain.StatusSubmitted {
		ts := s.now()
		updated := *task
		updated.Status = domain.StatusApproved
		updated.ApprovedAt = &ts
		if err := s.tasks.Update(ctx, &updated, domain.StatusSubmitted); err != nil && !errors.Is(err, persistence.ErrConflict) {
			return rec, err
		}
	}
	s.logger.Info("reconciliation completed", "taskId", taskID, "payoutId", rec.ID)
	return rec, nil
}
