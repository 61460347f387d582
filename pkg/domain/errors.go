package domain

import (
	"errors"
	"fmt"
)

// Lifecycle errors. Preconditions fail fast with no side effects.
var (
	ErrNotFound       = errors.New("not found")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidState   = errors.New("invalid state")
	ErrAlreadyClaimed = errors.New("task already claimed")
)

// SettlementError wraps any failure raised while settling an approved review.
// The task is left in "submitted" so the poster can retry the review once the
// underlying cause is fixed.
type SettlementError struct {
	TaskID string
	Err    error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settlement failed for task %s: %v", e.TaskID, e.Err)
}

func (e *SettlementError) Unwrap() error { return e.Err }

// PartialSettlementError reports a settlement where at least one leg committed
// irreversibly and another did not. It is fatal to automatic retry: recovery
// must check each leg's on-chain status and resubmit only the missing leg.
type PartialSettlementError struct {
	TaskID        string
	FeeSettled    bool
	BountySettled bool
	Err           error
}

func (e *PartialSettlementError) Error() string {
	return fmt.Sprintf("partial settlement for task %s (fee=%t bounty=%t): %v",
		e.TaskID, e.FeeSettled, e.BountySettled, e.Err)
}

func (e *PartialSettlementError) Unwrap() error { return e.Err }
