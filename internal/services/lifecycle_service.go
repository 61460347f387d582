package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/osvaldoandrade/taskhub/internal/metrics"
	"github.com/osvaldoandrade/taskhub/pkg/domain"
	"github.com/osvaldoandrade/taskhub/pkg/persistence"
	"github.com/shopspring/decimal"
)

// LifecycleService owns the task state machine: open → claimed → submitted →
// approved|rejected. Preconditions fail fast with no side effects; approval
// settles synchronously and the task advances only after settlement succeeds.
type LifecycleService interface {
	CreateTask(ctx context.Context, posterID, title, description string, amount decimal.Decimal, deadline *time.Time) (*domain.Task, error)
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	ListTasks(ctx context.Context, status domain.TaskStatus, skip, limit int) ([]*domain.Task, error)
	Claim(ctx context.Context, taskID, claimerID string) (*domain.Task, error)
	Submit(ctx context.Context, taskID, actorID, content string) (*domain.Task, error)
	Review(ctx context.Context, taskID, actorID string, approved bool, feedback string) (*domain.Task, error)
}

type lifecycleService struct {
	tasks      persistence.TaskStorage
	settlement SettlementService
	now        func() time.Time
	tz         *time.Location
}

func NewLifecycleService(tasks persistence.TaskStorage, settlement SettlementService, now func() time.Time, tz *time.Location) LifecycleService {
	if now == nil {
		now = time.Now
	}
	if tz == nil {
		tz = time.UTC
	}
	return &lifecycleService{tasks: tasks, settlement: settlement, now: now, tz: tz}
}

func (s *lifecycleService) CreateTask(ctx context.Context, posterID, title, description string, amount decimal.Decimal, deadline *time.Time) (*domain.Task, error) {
	if strings.TrimSpace(posterID) == "" {
		return nil, errors.New("posterId is required")
	}
	if strings.TrimSpace(title) == "" {
		return nil, errors.New("title is required")
	}
	if !amount.IsPositive() {
		return nil, errors.New("amount must be positive")
	}
	task := &domain.Task{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(title),
		Description: description,
		Amount:      amount,
		Status:      domain.StatusOpen,
		PosterID:    posterID,
		CreatedAt:   s.now().In(s.tz),
		DeadlineAt:  deadline,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, err
	}
	metrics.TaskCreatedTotal.Inc()
	return task, nil
}

func (s *lifecycleService) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	task, err := s.tasks.Get(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return task, nil
}

func (s *lifecycleService) ListTasks(ctx context.Context, status domain.TaskStatus, skip, limit int) ([]*domain.Task, error) {
	if status != "" && !status.Valid() {
		return nil, errors.New("invalid status filter")
	}
	if limit <= 0 {
		limit = 50
	}
	if skip < 0 {
		skip = 0
	}
	return s.tasks.List(ctx, status, skip, limit)
}

func (s *lifecycleService) Claim(ctx context.Context, taskID, claimerID string) (*domain.Task, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != domain.StatusOpen {
		return nil, claimDenied(task)
	}

	updated := *task
	updated.Status = domain.StatusClaimed
	updated.ClaimerID = claimerID
	if err := s.tasks.Update(ctx, &updated, domain.StatusOpen); err != nil {
		if errors.Is(err, persistence.ErrConflict) {
			// Lost the race. Re-read to report the precise reason.
			current, rerr := s.GetTask(ctx, taskID)
			if rerr != nil {
				return nil, rerr
			}
			return nil, claimDenied(current)
		}
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	metrics.TaskClaimedTotal.Inc()
	return &updated, nil
}

func claimDenied(task *domain.Task) error {
	if task.ClaimerID != "" {
		return domain.ErrAlreadyClaimed
	}
	return domain.ErrInvalidState
}

func (s *lifecycleService) Submit(ctx context.Context, taskID, actorID, content string) (*domain.Task, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != domain.StatusClaimed {
		return nil, domain.ErrInvalidState
	}
	if task.ClaimerID != actorID {
		return nil, domain.ErrForbidden
	}

	updated := *task
	updated.Status = domain.StatusSubmitted
	updated.SubmissionContent = content
	if err := s.tasks.Update(ctx, &updated, domain.StatusClaimed); err != nil {
		if errors.Is(err, persistence.ErrConflict) {
			return nil, domain.ErrInvalidState
		}
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

func (s *lifecycleService) Review(ctx context.Context, taskID, actorID string, approved bool, feedback string) (*domain.Task, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != domain.StatusSubmitted {
		return nil, domain.ErrInvalidState
	}
	if task.PosterID != actorID {
		return nil, domain.ErrForbidden
	}

	if !approved {
		ts := s.now().In(s.tz)
		updated := *task
		updated.Status = domain.StatusRejected
		updated.ReviewFeedback = feedback
		updated.RejectedAt = &ts
		if err := s.tasks.Update(ctx, &updated, domain.StatusSubmitted); err != nil {
			if errors.Is(err, persistence.ErrConflict) {
				return nil, domain.ErrInvalidState
			}
			return nil, err
		}
		metrics.TaskReviewedTotal.WithLabelValues("rejected").Inc()
		return &updated, nil
	}

	// Settle before committing the terminal state. On failure the task stays
	// submitted and the poster can retry the review; retries complete only the
	// missing legs.
	if _, err := s.settlement.Settle(ctx, task); err != nil {
		return nil, err
	}

	ts := s.now().In(s.tz)
	updated := *task
	updated.Status = domain.StatusApproved
	updated.ReviewFeedback = feedback
	updated.ApprovedAt = &ts
	if err := s.tasks.Update(ctx, &updated, domain.StatusSubmitted); err != nil {
		if errors.Is(err, persistence.ErrConflict) {
			return nil, domain.ErrInvalidState
		}
		return nil, err
	}
	metrics.TaskReviewedTotal.WithLabelValues("approved").Inc()
	return &updated, nil
}
