package domain

import (
	"encoding"
	"time"
)

type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "pending"
	PayoutCompleted PayoutStatus = "completed"
	PayoutFailed    PayoutStatus = "failed"
)

// PayoutRecord is the settlement ledger entry tied 1:1 to an approved task.
// A settlement is two transfers from the same sender account: the platform fee
// leg and the net bounty leg. Each leg's outcome is tracked separately because
// the ledger is irreversible: the fee leg can be committed while the bounty
// leg is not, and recovery must complete only the missing leg.
type PayoutRecord struct {
	ID          string       `json:"id"`
	TaskID      string       `json:"taskId"`
	FromAddress string       `json:"fromAddress"`
	ToAddress   string       `json:"toAddress"`
	FeeAddress  string       `json:"feeAddress"`
	Status      PayoutStatus `json:"status"`

	// Amounts in minor units of the ledger token.
	NetAmount int64 `json:"netAmount"`
	FeeAmount int64 `json:"feeAmount"`
	Decimals  int   `json:"decimals"`

	FeeTxRef    string `json:"feeTxRef,omitempty"`
	BountyTxRef string `json:"bountyTxRef,omitempty"`

	// FeeSettled/BountySettled flip once the corresponding transfer is
	// irreversibly committed on the ledger.
	FeeSettled    bool `json:"feeSettled"`
	BountySettled bool `json:"bountySettled"`

	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Settled reports whether every required leg is committed. A zero fee skips
// the fee leg entirely.
func (p *PayoutRecord) Settled() bool {
	if p.FeeAmount > 0 && !p.FeeSettled {
		return false
	}
	return p.BountySettled
}

var (
	_ encoding.BinaryMarshaler = PayoutStatus("")
	_ encoding.TextMarshaler   = PayoutStatus("")
)

func (s PayoutStatus) MarshalBinary() ([]byte, error) { return []byte(string(s)), nil }
func (s PayoutStatus) MarshalText() ([]byte, error)   { return []byte(string(s)), nil }
