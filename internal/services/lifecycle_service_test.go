package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/osvaldoandrade/taskhub/pkg/domain"
	"github.com/osvaldoandrade/taskhub/pkg/persistence"
	redisplugin "github.com/osvaldoandrade/taskhub/pkg/persistence/redis"
	"github.com/shopspring/decimal"
)

// mockSettlement scripts the settlement outcome for lifecycle tests.
type mockSettlement struct {
	mu    sync.Mutex
	rec   *domain.PayoutRecord
	err   error
	calls int
}

func (m *mockSettlement) Settle(ctx context.Context, task *domain.Task) (*domain.PayoutRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if m.rec != nil {
		return m.rec, nil
	}
	return &domain.PayoutRecord{ID: "payout-1", TaskID: task.ID, Status: domain.PayoutCompleted}, nil
}

func (m *mockSettlement) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func setupLifecycleTest(t *testing.T) (context.Context, persistence.PluginPersistence, *mockSettlement, LifecycleService) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := redisplugin.NewPluginWithClient(rdb, time.UTC)
	settlement := &mockSettlement{}
	now := func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	svc := NewLifecycleService(store.TaskStorage(), settlement, now, time.UTC)

	return context.Background(), store, settlement, svc
}

func mustCreateTask(t *testing.T, ctx context.Context, svc LifecycleService, posterID string) *domain.Task {
	t.Helper()
	task, err := svc.CreateTask(ctx, posterID, "summarize paper", "one page", decimal.RequireFromString("5.0"), nil)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestCreateTaskSuccess(t *testing.T) {
	ctx, _, _, svc := setupLifecycleTest(t)

	task := mustCreateTask(t, ctx, svc, "poster-1")

	if task.Status != domain.StatusOpen {
		t.Fatalf("expected status open, got %s", task.Status)
	}
	if task.PosterID != "poster-1" {
		t.Fatalf("expected poster-1, got %s", task.PosterID)
	}
	if task.ID == "" {
		t.Fatal("expected generated id")
	}

	got, err := svc.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Title != "summarize paper" {
		t.Fatalf("unexpected title %q", got.Title)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	ctx, _, _, svc := setupLifecycleTest(t)

	if _, err := svc.CreateTask(ctx, "poster-1", "", "", decimal.RequireFromString("5.0"), nil); err == nil {
		t.Fatal("expected error for empty title")
	}
	if _, err := svc.CreateTask(ctx, "poster-1", "t", "", decimal.Zero, nil); err == nil {
		t.Fatal("expected error for zero amount")
	}
	if _, err := svc.CreateTask(ctx, "poster-1", "t", "", decimal.RequireFromString("-1"), nil); err == nil {
		t.Fatal("expected error for negative amount")
	}
	if _, err := svc.CreateTask(ctx, "", "t", "", decimal.RequireFromString("1"), nil); err == nil {
		t.Fatal("expected error for empty poster")
	}
}

func TestGetTaskNotFound(t *testing.T) {
	ctx, _, _, svc := setupLifecycleTest(t)

	if _, err := svc.GetTask(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListTasksByStatus(t *testing.T) {
	ctx, _, _, svc := setupLifecycleTest(t)

	t1 := mustCreateTask(t, ctx, svc, "poster-1")
	mustCreateTask(t, ctx, svc, "poster-1")
	if _, err := svc.Claim(ctx, t1.ID, "claimer-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	open, err := svc.ListTasks(ctx, domain.StatusOpen, 0, 10)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected 1 open task, got %d", len(open))
	}

	claimed, err := svc.ListTasks(ctx, domain.StatusClaimed, 0, 10)
	if err != nil {
		t.Fatalf("list claimed: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != t1.ID {
		t.Fatalf("expected claimed task %s, got %+v", t1.ID, claimed)
	}

	if _, err := svc.ListTasks(ctx, domain.TaskStatus("bogus"), 0, 10); err == nil {
		t.Fatal("expected error for invalid status filter")
	}
}

func TestClaimSuccess(t *testing.T) {
	ctx, _, _, svc := setupLifecycleTest(t)
	task := mustCreateTask(t, ctx, svc, "poster-1")

	claimed, err := svc.Claim(ctx, task.ID, "claimer-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != domain.StatusClaimed {
		t.Fatalf("expected claimed, got %s", claimed.Status)
	}
	if claimed.ClaimerID != "claimer-1" {
		t.Fatalf("expected claimer-1, got %s", claimed.ClaimerID)
	}
}

func TestClaimAlreadyClaimed(t *testing.T) {
	ctx, _, _, svc := setupLifecycleTest(t)
	task := mustCreateTask(t, ctx, svc, "poster-1")

	if _, err := svc.Claim(ctx, task.ID, "claimer-1"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := svc.Claim(ctx, task.ID, "claimer-2"); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
}

func TestClaimNotFound(t *testing.T) {
	ctx, _, _, svc := setupLifecycleTest(t)

	if _, err := svc.Claim(ctx, "missing", "claimer-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClaimConcurrentSingleWinner(t *testing.T) {
	ctx, _, _, svc := setupLifecycleTest(t)
	task := mustCreateTask(t, ctx, svc, "poster-1")

	const claimers = 8
	var wg sync.WaitGroup
	errs := make([]error, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Claim(ctx, task.ID, "claimer-"+string(rune('a'+i)))
		}(i)
	}
	wg.Wait()

	winners, losers := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, domain.ErrAlreadyClaimed):
			losers++
		default:
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	if winners != 1 || losers != claimers-1 {
		t.Fatalf("expected 1 winner and %d AlreadyClaimed, got %d/%d", claimers-1, winners, losers)
	}
}

func TestSubmitRequiresClaimer(t *testing.T) {
	ctx, _, _, svc := setupLifecycleTest(t)
	task := mustCreateTask(t, ctx, svc, "poster-1")
	if _, err := svc.Claim(ctx, task.ID, "claimer-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if _, err := svc.Submit(ctx, task.ID, "someone-else", "work"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	submitted, err := svc.Submit(ctx, task.ID, "claimer-1", "summary")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.Status != domain.StatusSubmitted {
		t.Fatalf("expected submitted, got %s", submitted.Status)
	}
	if submitted.SubmissionContent != "summary" {
		t.Fatalf("unexpected content %q", submitted.SubmissionContent)
	}
}

func TestSubmitInvalidState(t *testing.T) {
	ctx, _, _, svc := setupLifecycleTest(t)
	task := mustCreateTask(t, ctx, svc, "poster-1")

	if _, err := svc.Submit(ctx, task.ID, "claimer-1", "work"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for open task, got %v", err)
	}
}

func TestReviewRequiresPoster(t *testing.T) {
	ctx, _, _, svc := setupLifecycleTest(t)
	task := mustCreateTask(t, ctx, svc, "poster-1")
	if _, err := svc.Claim(ctx, task.ID, "claimer-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := svc.Submit(ctx, task.ID, "claimer-1", "work"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := svc.Review(ctx, task.ID, "claimer-1", true, ""); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestReviewReject(t *testing.T) {
	ctx, _, settlement, svc := setupLifecycleTest(t)
	task := mustCreateTask(t, ctx, svc, "poster-1")
	if _, err := svc.Claim(ctx, task.ID, "claimer-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := svc.Submit(ctx, task.ID, "claimer-1", "work"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	rejected, err := svc.Review(ctx, task.ID, "poster-1", false, "not good enough")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if rejected.Status != domain.StatusRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}
	if rejected.RejectedAt == nil {
		t.Fatal("expected rejectedAt to be set")
	}
	if rejected.ReviewFeedback != "not good enough" {
		t.Fatalf("unexpected feedback %q", rejected.ReviewFeedback)
	}
	if settlement.callCount() != 0 {
		t.Fatalf("rejection must not settle, got %d calls", settlement.callCount())
	}
}

func TestReviewApproveSuccess(t *testing.T) {
	ctx, _, settlement, svc := setupLifecycleTest(t)
	task := mustCreateTask(t, ctx, svc, "poster-1")
	if _, err := svc.Claim(ctx, task.ID, "claimer-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := svc.Submit(ctx, task.ID, "claimer-1", "work"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	approved, err := svc.Review(ctx, task.ID, "poster-1", true, "great")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if approved.Status != domain.StatusApproved {
		t.Fatalf("expected approved, got %s", approved.Status)
	}
	if approved.ApprovedAt == nil {
		t.Fatal("expected approvedAt to be set")
	}
	if settlement.callCount() != 1 {
		t.Fatalf("expected 1 settlement call, got %d", settlement.callCount())
	}
}

func TestReviewApproveSettlementFailureLeavesSubmitted(t *testing.T) {
	ctx, _, settlement, svc := setupLifecycleTest(t)
	task := mustCreateTask(t, ctx, svc, "poster-1")
	if _, err := svc.Claim(ctx, task.ID, "claimer-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := svc.Submit(ctx, task.ID, "claimer-1", "work"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	settlement.err = &domain.SettlementError{TaskID: task.ID, Err: errors.New("gateway down")}
	if _, err := svc.Review(ctx, task.ID, "poster-1", true, ""); err == nil {
		t.Fatal("expected settlement error")
	}

	current, err := svc.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if current.Status != domain.StatusSubmitted {
		t.Fatalf("task must stay submitted after settlement failure, got %s", current.Status)
	}

	// Once the ledger recovers, the same review succeeds.
	settlement.err = nil
	approved, err := svc.Review(ctx, task.ID, "poster-1", true, "")
	if err != nil {
		t.Fatalf("retried review: %v", err)
	}
	if approved.Status != domain.StatusApproved {
		t.Fatalf("expected approved after retry, got %s", approved.Status)
	}
}

func TestReviewInvalidOnTerminal(t *testing.T) {
	ctx, _, _, svc := setupLifecycleTest(t)
	task := mustCreateTask(t, ctx, svc, "poster-1")
	if _, err := svc.Claim(ctx, task.ID, "claimer-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := svc.Submit(ctx, task.ID, "claimer-1", "work"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.Review(ctx, task.ID, "poster-1", false, ""); err != nil {
		t.Fatalf("review: %v", err)
	}

	if _, err := svc.Review(ctx, task.ID, "poster-1", true, ""); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on terminal task, got %v", err)
	}
	if _, err := svc.Claim(ctx, task.ID, "claimer-2"); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed on terminal task, got %v", err)
	}
}
