// Package ledger abstracts the external account-based value-transfer network
// that settles bounty payouts. The settlement engine depends only on Client;
// the wire protocol lives behind it.
package ledger

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnavailable marks transient transport failures. The whole operation
	// may be retried once the ledger recovers.
	ErrUnavailable = errors.New("ledger unavailable")

	// ErrInsufficientFunds is fatal for the attempt; no transfer was broadcast.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrTransferRejected means the ledger refused or reverted the transfer.
	ErrTransferRejected = errors.New("transfer rejected")

	// ErrConfirmationPending means a broadcast transfer did not confirm within
	// the configured window. The transfer is still outstanding: callers must
	// poll its status, never resubmit.
	ErrConfirmationPending = errors.New("confirmation pending")
)

// Receipt describes a broadcast transfer. Sequence is the per-account ordering
// counter the ledger assigned; the gateway queries the authoritative next
// sequence immediately before signing, so restarts cannot drift it.
type Receipt struct {
	TxRef    string `json:"txRef"`
	Sequence uint64 `json:"sequence"`
}

// Client is the abstract ledger capability consumed by settlement.
//
// Transfer returns once the ledger acknowledged the broadcast (not once the
// transfer confirmed); the acknowledgment fixes the sequence number, which is
// what lets a second transfer from the same account be submitted safely.
// AwaitConfirmation blocks until the transfer is final, fails, or ctx ends.
type Client interface {
	GetDecimals(ctx context.Context) (int, error)
	GetBalance(ctx context.Context, address string) (int64, error)
	Approve(ctx context.Context, signerKey, spender string, amountMinor int64) (*Receipt, error)
	Transfer(ctx context.Context, signerKey, to string, amountMinor int64) (*Receipt, error)
	AwaitConfirmation(ctx context.Context, txRef string) error
}

// Classify wraps err with the taxonomy sentinel matching a gateway status
// code, keeping the original text for operators.
func classify(status int, body string) error {
	switch {
	case status == 402:
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, body)
	case status == 409 || status == 422:
		return fmt.Errorf("%w: %s", ErrTransferRejected, body)
	case status >= 500 || status == 429:
		return fmt.Errorf("%w: gateway status %d: %s", ErrUnavailable, status, body)
	default:
		return fmt.Errorf("%w: unexpected gateway status %d: %s", ErrTransferRejected, status, body)
	}
}
