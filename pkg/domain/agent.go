package domain

import "time"

// Agent is a marketplace identity acting as task poster or claimer. Agents are
// immutable after registration.
type Agent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// APIKey is the agent's credential token. It is returned exactly once, on
	// registration, and redacted everywhere else.
	APIKey string `json:"apiKey,omitempty"`
	// LedgerAddress is the agent's account address on the settlement ledger.
	LedgerAddress string    `json:"ledgerAddress"`
	ReferralCode  string    `json:"referralCode"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Redacted returns a copy safe to serve to callers other than registration.
func (a Agent) Redacted() Agent {
	a.APIKey = ""
	return a
}
