package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/osvaldoandrade/taskhub/internal/ledger"
	"github.com/osvaldoandrade/taskhub/internal/metrics"
	"github.com/osvaldoandrade/taskhub/internal/money"
	"github.com/osvaldoandrade/taskhub/pkg/domain"
	"github.com/osvaldoandrade/taskhub/pkg/persistence"
)

// SettlementService drives the two-leg payout of an approved bounty: the
// platform fee leg and the net bounty leg, both drawn from the poster's
// ledger account. Legs are broadcast in order under a per-account lock so
// their sequence numbers never race, then confirmed in order. Every outcome
// is persisted on the PayoutRecord before the error is surfaced, so a retry
// resubmits only what is missing.
type SettlementService interface {
	Settle(ctx context.Context, task *domain.Task) (*domain.PayoutRecord, error)
}

type settlementService struct {
	agents       persistence.AgentStorage
	payouts      persistence.PayoutStorage
	client       ledger.Client
	locks        *ledger.AccountLocks
	feeRecipient string
	feeRateBps   int64
	logger       *slog.Logger
	now          func() time.Time
}

func NewSettlementService(agents persistence.AgentStorage, payouts persistence.PayoutStorage, client ledger.Client, locks *ledger.AccountLocks, feeRecipient string, feeRateBps int, logger *slog.Logger, now func() time.Time) SettlementService {
	if locks == nil {
		locks = ledger.NewAccountLocks()
	}
	if feeRateBps < 0 {
		feeRateBps = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &settlementService{
		agents:       agents,
		payouts:      payouts,
		client:       client,
		locks:        locks,
		feeRecipient: feeRecipient,
		feeRateBps:   int64(feeRateBps),
		logger:       logger,
		now:          now,
	}
}

func (s *settlementService) Settle(ctx context.Context, task *domain.Task) (*domain.PayoutRecord, error) {
	started := s.now()
	rec, err := s.settle(ctx, task)
	metrics.SettlementLatencySeconds.Observe(s.now().Sub(started).Seconds())
	switch {
	case err == nil:
		metrics.SettlementTotal.WithLabelValues("completed").Inc()
	case isPartial(err):
		metrics.SettlementTotal.WithLabelValues("partial").Inc()
	case errors.Is(err, ledger.ErrConfirmationPending):
		metrics.SettlementTotal.WithLabelValues("pending").Inc()
	default:
		metrics.SettlementTotal.WithLabelValues("failed").Inc()
	}
	return rec, err
}

func isPartial(err error) bool {
	var p *domain.PartialSettlementError
	return errors.As(err, &p)
}

func (s *settlementService) settle(ctx context.Context, task *domain.Task) (*domain.PayoutRecord, error) {
	rec, err := s.loadOrInitRecord(ctx, task)
	if err != nil {
		return nil, err
	}
	if rec.Settled() {
		// Review retry after a completed settlement: nothing left to move.
		if rec.Status != domain.PayoutCompleted {
			rec.Status = domain.PayoutCompleted
			rec.Error = ""
			s.persist(ctx, rec)
		}
		return rec, nil
	}

	// Both legs draw from the same account; its sequence numbers must not be
	// raced by another settlement.
	unlock := s.locks.Lock(rec.FromAddress)
	defer unlock()

	if err := s.checkBalance(ctx, task.ID, rec); err != nil {
		return nil, err
	}

	// Broadcast phase. The fee leg goes first; its acknowledgment fixes the
	// sequence number that orders the bounty leg behind it.
	if rec.FeeAmount > 0 && !rec.FeeSettled && rec.FeeTxRef == "" {
		receipt, err := s.client.Transfer(ctx, rec.FromAddress, rec.FeeAddress, rec.FeeAmount)
		if err != nil {
			metrics.SettlementLegTotal.WithLabelValues("fee", "broadcast_failed").Inc()
			return nil, s.failBeforeBounty(ctx, task.ID, rec, fmt.Errorf("fee leg: %w", err))
		}
		rec.FeeTxRef = receipt.TxRef
		s.persist(ctx, rec)
		s.logger.Info("fee leg broadcast", "taskId", task.ID, "txRef", receipt.TxRef, "sequence", receipt.Sequence)
	}
	if !rec.BountySettled && rec.BountyTxRef == "" {
		receipt, err := s.client.Transfer(ctx, rec.FromAddress, rec.ToAddress, rec.NetAmount)
		if err != nil {
			metrics.SettlementLegTotal.WithLabelValues("bounty", "broadcast_failed").Inc()
			return nil, s.failAfterFeeBroadcast(ctx, task.ID, rec, fmt.Errorf("bounty leg: %w", err))
		}
		rec.BountyTxRef = receipt.TxRef
		s.persist(ctx, rec)
		s.logger.Info("bounty leg broadcast", "taskId", task.ID, "txRef", receipt.TxRef, "sequence", receipt.Sequence)
	}

	// Confirmation phase, in broadcast order.
	if rec.FeeAmount > 0 && !rec.FeeSettled {
		if err := s.client.AwaitConfirmation(ctx, rec.FeeTxRef); err != nil {
			if errors.Is(err, ledger.ErrConfirmationPending) {
				// Outstanding, not failed. Keep the txRef for reconciliation.
				rec.Error = err.Error()
				s.persist(ctx, rec)
				return nil, &domain.SettlementError{TaskID: task.ID, Err: err}
			}
			metrics.SettlementLegTotal.WithLabelValues("fee", "reverted").Inc()
			return nil, s.resolveFeeRevert(ctx, task.ID, rec, fmt.Errorf("fee leg: %w", err))
		}
		rec.FeeSettled = true
		s.persist(ctx, rec)
		metrics.SettlementLegTotal.WithLabelValues("fee", "settled").Inc()
	}
	if !rec.BountySettled {
		if err := s.client.AwaitConfirmation(ctx, rec.BountyTxRef); err != nil {
			if errors.Is(err, ledger.ErrConfirmationPending) {
				rec.Error = err.Error()
				s.persist(ctx, rec)
				return nil, &domain.SettlementError{TaskID: task.ID, Err: err}
			}
			metrics.SettlementLegTotal.WithLabelValues("bounty", "reverted").Inc()
			// A reverted transfer is gone from the ledger; clear the ref so a
			// retry rebroadcasts this leg.
			rec.BountyTxRef = ""
			wrapped := fmt.Errorf("bounty leg: %w", err)
			rec.Status = domain.PayoutFailed
			rec.Error = wrapped.Error()
			s.persist(ctx, rec)
			if rec.FeeSettled {
				return nil, &domain.PartialSettlementError{TaskID: task.ID, FeeSettled: true, BountySettled: false, Err: wrapped}
			}
			return nil, &domain.SettlementError{TaskID: task.ID, Err: wrapped}
		}
		rec.BountySettled = true
		metrics.SettlementLegTotal.WithLabelValues("bounty", "settled").Inc()
	}

	rec.Status = domain.PayoutCompleted
	rec.Error = ""
	s.persist(ctx, rec)
	s.logger.Info("settlement completed", "taskId", task.ID, "feeTxRef", rec.FeeTxRef, "bountyTxRef", rec.BountyTxRef)
	return rec, nil
}

// loadOrInitRecord returns the task's existing payout record, or computes the
// fee split and creates a pending one.
func (s *settlementService) loadOrInitRecord(ctx context.Context, task *domain.Task) (*domain.PayoutRecord, error) {
	rec, err := s.payouts.GetByTask(ctx, task.ID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return nil, &domain.SettlementError{TaskID: task.ID, Err: err}
	}

	poster, err := s.agents.Get(ctx, task.PosterID)
	if err != nil {
		return nil, &domain.SettlementError{TaskID: task.ID, Err: fmt.Errorf("poster %s: %w", task.PosterID, err)}
	}
	claimer, err := s.agents.Get(ctx, task.ClaimerID)
	if err != nil {
		return nil, &domain.SettlementError{TaskID: task.ID, Err: fmt.Errorf("claimer %s: %w", task.ClaimerID, err)}
	}

	decimals, err := s.client.GetDecimals(ctx)
	if err != nil {
		return nil, &domain.SettlementError{TaskID: task.ID, Err: err}
	}
	totalMinor, err := money.ToMinor(task.Amount, decimals)
	if err != nil {
		return nil, &domain.SettlementError{TaskID: task.ID, Err: err}
	}
	fee, net := money.Split(totalMinor, s.feeRateBps)

	ts := s.now()
	rec = &domain.PayoutRecord{
		ID:          uuid.NewString(),
		TaskID:      task.ID,
		FromAddress: poster.LedgerAddress,
		ToAddress:   claimer.LedgerAddress,
		FeeAddress:  s.feeRecipient,
		Status:      domain.PayoutPending,
		NetAmount:   net,
		FeeAmount:   fee,
		Decimals:    decimals,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	if err := s.payouts.Save(ctx, rec); err != nil {
		return nil, &domain.SettlementError{TaskID: task.ID, Err: err}
	}
	return rec, nil
}

// checkBalance verifies the sender covers every leg not yet broadcast.
// Already-broadcast legs are excluded: their funds are committed or in flight.
func (s *settlementService) checkBalance(ctx context.Context, taskID string, rec *domain.PayoutRecord) error {
	var outstanding int64
	if rec.FeeAmount > 0 && !rec.FeeSettled && rec.FeeTxRef == "" {
		outstanding += rec.FeeAmount
	}
	if !rec.BountySettled && rec.BountyTxRef == "" {
		outstanding += rec.NetAmount
	}
	if outstanding == 0 {
		return nil
	}
	balance, err := s.client.GetBalance(ctx, rec.FromAddress)
	if err != nil {
		return &domain.SettlementError{TaskID: taskID, Err: err}
	}
	if balance < outstanding {
		return &domain.SettlementError{
			TaskID: taskID,
			Err:    fmt.Errorf("%w: balance %d < outstanding %d minor units", ledger.ErrInsufficientFunds, balance, outstanding),
		}
	}
	return nil
}

// failBeforeBounty handles a fee-leg broadcast failure. Nothing new moved, but
// a retried settlement may already have a settled bounty leg on record.
func (s *settlementService) failBeforeBounty(ctx context.Context, taskID string, rec *domain.PayoutRecord, cause error) error {
	rec.Status = domain.PayoutFailed
	rec.Error = cause.Error()
	s.persist(ctx, rec)
	if rec.BountySettled {
		return &domain.PartialSettlementError{TaskID: taskID, FeeSettled: false, BountySettled: true, Err: cause}
	}
	return &domain.SettlementError{TaskID: taskID, Err: cause}
}

// failAfterFeeBroadcast handles a bounty-leg broadcast failure once the fee
// leg is out. The fee may already be irreversibly committed; resolve it before
// classifying the failure as partial.
func (s *settlementService) failAfterFeeBroadcast(ctx context.Context, taskID string, rec *domain.PayoutRecord, cause error) error {
	if rec.FeeAmount > 0 && !rec.FeeSettled && rec.FeeTxRef != "" {
		switch err := s.client.AwaitConfirmation(ctx, rec.FeeTxRef); {
		case err == nil:
			rec.FeeSettled = true
			metrics.SettlementLegTotal.WithLabelValues("fee", "settled").Inc()
		case errors.Is(err, ledger.ErrConfirmationPending):
			// Fee outcome unknown; leave the record pending for reconciliation.
			rec.Error = cause.Error()
			s.persist(ctx, rec)
			return &domain.SettlementError{TaskID: taskID, Err: cause}
		default:
			rec.FeeTxRef = ""
			metrics.SettlementLegTotal.WithLabelValues("fee", "reverted").Inc()
		}
	}
	rec.Status = domain.PayoutFailed
	rec.Error = cause.Error()
	s.persist(ctx, rec)
	if rec.FeeSettled {
		return &domain.PartialSettlementError{TaskID: taskID, FeeSettled: true, BountySettled: rec.BountySettled, Err: cause}
	}
	return &domain.SettlementError{TaskID: taskID, Err: cause}
}

// resolveFeeRevert handles a reverted fee leg after the bounty leg was
// broadcast: the bounty can still commit on its own, which is the inverse
// partial-settlement state.
func (s *settlementService) resolveFeeRevert(ctx context.Context, taskID string, rec *domain.PayoutRecord, cause error) error {
	rec.FeeTxRef = ""
	if !rec.BountySettled && rec.BountyTxRef != "" {
		switch err := s.client.AwaitConfirmation(ctx, rec.BountyTxRef); {
		case err == nil:
			rec.BountySettled = true
			metrics.SettlementLegTotal.WithLabelValues("bounty", "settled").Inc()
		case errors.Is(err, ledger.ErrConfirmationPending):
			rec.Error = cause.Error()
			s.persist(ctx, rec)
			return &domain.SettlementError{TaskID: taskID, Err: cause}
		default:
			rec.BountyTxRef = ""
			metrics.SettlementLegTotal.WithLabelValues("bounty", "reverted").Inc()
		}
	}
	rec.Status = domain.PayoutFailed
	rec.Error = cause.Error()
	s.persist(ctx, rec)
	if rec.BountySettled {
		return &domain.PartialSettlementError{TaskID: taskID, FeeSettled: false, BountySettled: true, Err: cause}
	}
	return &domain.SettlementError{TaskID: taskID, Err: cause}
}

func (s *settlementService) persist(ctx context.Context, rec *domain.PayoutRecord) {
	rec.UpdatedAt = s.now()
	if err := s.payouts.Save(ctx, rec); err != nil {
		// The ledger has already moved; losing the record write must not lose
		// the leg state silently.
		s.logger.Error("payout record persist failed", "payoutId", rec.ID, "taskId", rec.TaskID, "err", err)
	}
}
