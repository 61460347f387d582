package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/osvaldoandrade/taskhub/internal/ledger"
	"github.com/osvaldoandrade/taskhub/pkg/domain"
)

func TestReconcileNoPayoutRecord(t *testing.T) {
	ctx, store, _, settlement, task := setupSettlementTest(t, 100)
	svc := NewReconcileService(store.TaskStorage(), store.PayoutStorage(), settlement, nil, nil)

	if _, err := svc.Reconcile(ctx, task.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound without a payout record, got %v", err)
	}
}

func TestReconcileTaskNotFound(t *testing.T) {
	ctx, store, _, settlement, _ := setupSettlementTest(t, 100)
	svc := NewReconcileService(store.TaskStorage(), store.PayoutStorage(), settlement, nil, nil)

	if _, err := svc.Reconcile(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReconcileCompletesMissingLegAndPromotesTask(t *testing.T) {
	ctx, store, lc, settlement, task := setupSettlementTest(t, 100)
	svc := NewReconcileService(store.TaskStorage(), store.PayoutStorage(), settlement, nil, nil)

	// First settlement ends partial: fee committed, bounty rejected.
	lc.transferFn = func(call int, signer, to string, amount int64) (*ledger.Receipt, error) {
		if to == claimerAddr {
			return nil, fmt.Errorf("%w: reverted", ledger.ErrTransferRejected)
		}
		return lc.ack(), nil
	}
	if _, err := settlement.Settle(ctx, task); !isPartial(err) {
		t.Fatalf("expected partial settlement, got %v", err)
	}

	// Operator re-drives once the ledger accepts transfers again.
	lc.transferFn = nil
	rec, err := svc.Reconcile(ctx, task.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if rec.Status != domain.PayoutCompleted {
		t.Fatalf("expected completed payout, got %s", rec.Status)
	}
	if got := len(lc.transfersTo(feeAddr)); got != 1 {
		t.Fatalf("fee leg must not be re-paid, got %d transfers", got)
	}

	// The submitted task is promoted to approved once settlement is whole.
	current, err := store.TaskStorage().Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if current.Status != domain.StatusApproved {
		t.Fatalf("expected approved task, got %s", current.Status)
	}
	if current.ApprovedAt == nil {
		t.Fatal("expected approvedAt to be set")
	}
}

func TestReconcileStillFailingSurfacesError(t *testing.T) {
	ctx, store, lc, settlement, task := setupSettlementTest(t, 100)
	svc := NewReconcileService(store.TaskStorage(), store.PayoutStorage(), settlement, nil, nil)

	lc.transferFn = func(call int, signer, to string, amount int64) (*ledger.Receipt, error) {
		if to == claimerAddr {
			return nil, fmt.Errorf("%w: reverted", ledger.ErrTransferRejected)
		}
		return lc.ack(), nil
	}
	if _, err := settlement.Settle(ctx, task); !isPartial(err) {
		t.Fatalf("expected partial settlement, got %v", err)
	}

	if _, err := svc.Reconcile(ctx, task.ID); !isPartial(err) {
		t.Fatalf("expected partial error while ledger still rejects, got %v", err)
	}

	current, err := store.TaskStorage().Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if current.Status != domain.StatusSubmitted {
		t.Fatalf("task must stay submitted while settlement is incomplete, got %s", current.Status)
	}
}
