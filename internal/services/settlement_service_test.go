package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/osvaldoandrade/taskhub/internal/ledger"
	"github.com/osvaldoandrade/taskhub/pkg/domain"
	"github.com/osvaldoandrade/taskhub/pkg/persistence"
	redisplugin "github.com/osvaldoandrade/taskhub/pkg/persistence/redis"
	"github.com/shopspring/decimal"
)

type ledgerCall struct {
	signer string
	to     string
	amount int64
}

// mockLedger scripts ledger behavior per call. Defaults: every transfer is
// acknowledged with a fresh txRef and every confirmation succeeds.
type mockLedger struct {
	mu       sync.Mutex
	decimals int
	balance  int64

	transferFn func(call int, signer, to string, amount int64) (*ledger.Receipt, error)
	awaitFn    func(txRef string) error

	calls []ledgerCall
	seq   uint64
}

func newMockLedger() *mockLedger {
	return &mockLedger{decimals: 6, balance: 1 << 60}
}

func (m *mockLedger) GetDecimals(ctx context.Context) (int, error) { return m.decimals, nil }

func (m *mockLedger) GetBalance(ctx context.Context, address string) (int64, error) {
	return m.balance, nil
}

func (m *mockLedger) Approve(ctx context.Context, signerKey, spender string, amountMinor int64) (*ledger.Receipt, error) {
	return &ledger.Receipt{TxRef: "approve-tx", Sequence: 0}, nil
}

func (m *mockLedger) Transfer(ctx context.Context, signerKey, to string, amountMinor int64) (*ledger.Receipt, error) {
	m.mu.Lock()
	call := len(m.calls)
	m.calls = append(m.calls, ledgerCall{signer: signerKey, to: to, amount: amountMinor})
	fn := m.transferFn
	m.mu.Unlock()

	if fn != nil {
		return fn(call, signerKey, to, amountMinor)
	}
	m.mu.Lock()
	m.seq++
	rcpt := &ledger.Receipt{TxRef: fmt.Sprintf("tx-%d", m.seq), Sequence: m.seq}
	m.mu.Unlock()
	return rcpt, nil
}

func (m *mockLedger) AwaitConfirmation(ctx context.Context, txRef string) error {
	m.mu.Lock()
	fn := m.awaitFn
	m.mu.Unlock()
	if fn != nil {
		return fn(txRef)
	}
	return nil
}

func (m *mockLedger) transfersTo(addr string) []ledgerCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledgerCall
	for _, c := range m.calls {
		if c.to == addr {
			out = append(out, c)
		}
	}
	return out
}

func (m *mockLedger) ack() *ledger.Receipt {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return &ledger.Receipt{TxRef: fmt.Sprintf("tx-%d", m.seq), Sequence: m.seq}
}

const (
	posterAddr  = "acct-poster"
	claimerAddr = "acct-claimer"
	feeAddr     = "acct-fees"
)

func setupSettlementTest(t *testing.T, feeRateBps int) (context.Context, persistence.PluginPersistence, *mockLedger, SettlementService, *domain.Task) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := redisplugin.NewPluginWithClient(rdb, time.UTC)
	ctx := context.Background()

	poster := &domain.Agent{ID: "poster-1", Name: "poster", APIKey: "k1", LedgerAddress: posterAddr}
	claimer := &domain.Agent{ID: "claimer-1", Name: "claimer", APIKey: "k2", LedgerAddress: claimerAddr}
	if err := store.AgentStorage().Create(ctx, poster); err != nil {
		t.Fatalf("create poster: %v", err)
	}
	if err := store.AgentStorage().Create(ctx, claimer); err != nil {
		t.Fatalf("create claimer: %v", err)
	}

	task := &domain.Task{
		ID:        "task-1",
		Title:     "summarize paper",
		Amount:    decimal.RequireFromString("100.00"),
		Status:    domain.StatusSubmitted,
		PosterID:  "poster-1",
		ClaimerID: "claimer-1",
		CreatedAt: time.Now().UTC(),
	}
	if err := store.TaskStorage().Create(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}

	lc := newMockLedger()
	now := func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	svc := NewSettlementService(store.AgentStorage(), store.PayoutStorage(), lc, ledger.NewAccountLocks(), feeAddr, feeRateBps, nil, now)

	return ctx, store, lc, svc, task
}

func TestSettleTwoLegsSuccess(t *testing.T) {
	ctx, store, lc, svc, task := setupSettlementTest(t, 100)

	rec, err := svc.Settle(ctx, task)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if rec.Status != domain.PayoutCompleted {
		t.Fatalf("expected completed, got %s", rec.Status)
	}
	if !rec.FeeSettled || !rec.BountySettled {
		t.Fatalf("expected both legs settled, got fee=%t bounty=%t", rec.FeeSettled, rec.BountySettled)
	}
	// 100.00 at 6 decimals, 1% fee.
	if rec.FeeAmount != 1_000_000 || rec.NetAmount != 99_000_000 {
		t.Fatalf("unexpected split fee=%d net=%d", rec.FeeAmount, rec.NetAmount)
	}
	if rec.FeeTxRef == "" || rec.BountyTxRef == "" {
		t.Fatal("expected both txRefs populated")
	}

	// Fee leg first, both from the poster's account.
	if len(lc.calls) != 2 {
		t.Fatalf("expected 2 transfers, got %d", len(lc.calls))
	}
	if lc.calls[0].to != feeAddr || lc.calls[0].amount != 1_000_000 || lc.calls[0].signer != posterAddr {
		t.Fatalf("unexpected fee leg %+v", lc.calls[0])
	}
	if lc.calls[1].to != claimerAddr || lc.calls[1].amount != 99_000_000 || lc.calls[1].signer != posterAddr {
		t.Fatalf("unexpected bounty leg %+v", lc.calls[1])
	}

	stored, err := store.PayoutStorage().GetByTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("payout by task: %v", err)
	}
	if stored.Status != domain.PayoutCompleted {
		t.Fatalf("stored record not completed: %s", stored.Status)
	}
}

func TestSettleZeroFeeSkipsFeeLeg(t *testing.T) {
	ctx, _, lc, svc, task := setupSettlementTest(t, 0)

	rec, err := svc.Settle(ctx, task)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if rec.FeeAmount != 0 || rec.FeeTxRef != "" {
		t.Fatalf("expected no fee leg, got amount=%d txRef=%q", rec.FeeAmount, rec.FeeTxRef)
	}
	if rec.NetAmount != 100_000_000 {
		t.Fatalf("expected full amount as net, got %d", rec.NetAmount)
	}
	if len(lc.calls) != 1 || lc.calls[0].to != claimerAddr {
		t.Fatalf("expected single bounty transfer, got %+v", lc.calls)
	}
	if rec.Status != domain.PayoutCompleted {
		t.Fatalf("expected completed, got %s", rec.Status)
	}
}

func TestSettleFeeBroadcastFailure(t *testing.T) {
	ctx, store, lc, svc, task := setupSettlementTest(t, 100)
	lc.transferFn = func(call int, signer, to string, amount int64) (*ledger.Receipt, error) {
		return nil, fmt.Errorf("%w: connection refused", ledger.ErrUnavailable)
	}

	_, err := svc.Settle(ctx, task)
	if err == nil {
		t.Fatal("expected settlement error")
	}
	var serr *domain.SettlementError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SettlementError, got %T", err)
	}
	if !errors.Is(err, ledger.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable in chain, got %v", err)
	}
	if isPartial(err) {
		t.Fatal("fee-leg failure before any commit must not be partial")
	}

	// Only the fee leg was attempted; the bounty leg never reached the ledger.
	if len(lc.calls) != 1 || lc.calls[0].to != feeAddr {
		t.Fatalf("expected single fee attempt, got %+v", lc.calls)
	}

	rec, err := store.PayoutStorage().GetByTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("payout by task: %v", err)
	}
	if rec.Status != domain.PayoutFailed {
		t.Fatalf("expected failed record, got %s", rec.Status)
	}
	if rec.FeeSettled || rec.BountySettled {
		t.Fatalf("no leg may be settled, got fee=%t bounty=%t", rec.FeeSettled, rec.BountySettled)
	}
}

func TestSettlePartialFailureFeeCommittedBountyRejected(t *testing.T) {
	ctx, store, lc, svc, task := setupSettlementTest(t, 100)
	lc.transferFn = func(call int, signer, to string, amount int64) (*ledger.Receipt, error) {
		if to == claimerAddr {
			return nil, fmt.Errorf("%w: reverted", ledger.ErrTransferRejected)
		}
		return lc.ack(), nil
	}

	_, err := svc.Settle(ctx, task)
	var perr *domain.PartialSettlementError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PartialSettlementError, got %v", err)
	}
	if !perr.FeeSettled || perr.BountySettled {
		t.Fatalf("expected fee=true bounty=false, got fee=%t bounty=%t", perr.FeeSettled, perr.BountySettled)
	}

	rec, err := store.PayoutStorage().GetByTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("payout by task: %v", err)
	}
	if rec.Status != domain.PayoutFailed {
		t.Fatalf("expected failed record, got %s", rec.Status)
	}
	if !rec.FeeSettled || rec.BountySettled {
		t.Fatalf("record must track legs distinctly, got fee=%t bounty=%t", rec.FeeSettled, rec.BountySettled)
	}
	if rec.FeeTxRef == "" {
		t.Fatal("fee txRef must be preserved for reconciliation")
	}
}

func TestSettleRetryResubmitsOnlyMissingLeg(t *testing.T) {
	ctx, _, lc, svc, task := setupSettlementTest(t, 100)
	lc.transferFn = func(call int, signer, to string, amount int64) (*ledger.Receipt, error) {
		if to == claimerAddr {
			return nil, fmt.Errorf("%w: reverted", ledger.ErrTransferRejected)
		}
		return lc.ack(), nil
	}

	if _, err := svc.Settle(ctx, task); !isPartial(err) {
		t.Fatalf("expected partial settlement, got %v", err)
	}

	// Ledger recovers; the retry must not re-pay the fee.
	lc.transferFn = nil
	rec, err := svc.Settle(ctx, task)
	if err != nil {
		t.Fatalf("retry settle: %v", err)
	}
	if rec.Status != domain.PayoutCompleted {
		t.Fatalf("expected completed after retry, got %s", rec.Status)
	}
	if got := len(lc.transfersTo(feeAddr)); got != 1 {
		t.Fatalf("fee leg must be paid exactly once, got %d transfers", got)
	}
	if got := len(lc.transfersTo(claimerAddr)); got != 2 {
		t.Fatalf("expected 2 bounty attempts (reverted + retried), got %d", got)
	}
}

func TestSettleInsufficientFunds(t *testing.T) {
	ctx, _, lc, svc, task := setupSettlementTest(t, 100)
	lc.balance = 1000 // far below 100.00 at 6 decimals

	_, err := svc.Settle(ctx, task)
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if len(lc.calls) != 0 {
		t.Fatalf("no transfer may be broadcast with insufficient funds, got %+v", lc.calls)
	}
}

func TestSettleConfirmationPendingKeepsTxRef(t *testing.T) {
	ctx, store, lc, svc, task := setupSettlementTest(t, 100)
	lc.awaitFn = func(txRef string) error {
		return fmt.Errorf("%w: tx %s", ledger.ErrConfirmationPending, txRef)
	}

	_, err := svc.Settle(ctx, task)
	if !errors.Is(err, ledger.ErrConfirmationPending) {
		t.Fatalf("expected ErrConfirmationPending, got %v", err)
	}
	if isPartial(err) {
		t.Fatal("pending confirmation is unresolved, not partial")
	}

	rec, err := store.PayoutStorage().GetByTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("payout by task: %v", err)
	}
	// Timeout is not failure: the transfer is outstanding and must be polled,
	// never resubmitted.
	if rec.Status != domain.PayoutPending {
		t.Fatalf("expected record to stay pending, got %s", rec.Status)
	}
	if rec.FeeTxRef == "" {
		t.Fatal("outstanding fee txRef must be preserved")
	}

	// Confirmations eventually land; the retry confirms without rebroadcasting.
	lc.awaitFn = nil
	rec, err = svc.Settle(ctx, task)
	if err != nil {
		t.Fatalf("retry settle: %v", err)
	}
	if rec.Status != domain.PayoutCompleted {
		t.Fatalf("expected completed, got %s", rec.Status)
	}
	if got := len(lc.transfersTo(feeAddr)); got != 1 {
		t.Fatalf("fee leg must not be rebroadcast while outstanding, got %d", got)
	}
	if got := len(lc.transfersTo(claimerAddr)); got != 1 {
		t.Fatalf("bounty leg must not be rebroadcast while outstanding, got %d", got)
	}
}

func TestSettleIdempotentOnCompletedRecord(t *testing.T) {
	ctx, _, lc, svc, task := setupSettlementTest(t, 100)

	if _, err := svc.Settle(ctx, task); err != nil {
		t.Fatalf("settle: %v", err)
	}
	before := len(lc.calls)

	rec, err := svc.Settle(ctx, task)
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if rec.Status != domain.PayoutCompleted {
		t.Fatalf("expected completed, got %s", rec.Status)
	}
	if len(lc.calls) != before {
		t.Fatalf("completed settlement must not touch the ledger again, got %d extra calls", len(lc.calls)-before)
	}
}

func TestSettleExactSplitConservation(t *testing.T) {
	amounts := []string{"5.0", "0.01", "100.00", "123.456789", "0.333333"}
	for _, a := range amounts {
		ctx, _, _, svc, task := setupSettlementTest(t, 100)
		task.Amount = decimal.RequireFromString(a)

		rec, err := svc.Settle(ctx, task)
		if err != nil {
			t.Fatalf("settle %s: %v", a, err)
		}
		total := decimal.RequireFromString(a).Shift(6).IntPart()
		if rec.FeeAmount+rec.NetAmount != total {
			t.Fatalf("amount %s: fee %d + net %d != total %d", a, rec.FeeAmount, rec.NetAmount, total)
		}
	}
}
