package domain

import (
	"encoding"
	"time"

	"github.com/shopspring/decimal"
)

type TaskStatus string

const (
	StatusOpen      TaskStatus = "open"
	StatusClaimed   TaskStatus = "claimed"
	StatusSubmitted TaskStatus = "submitted"
	StatusApproved  TaskStatus = "approved"
	StatusRejected  TaskStatus = "rejected"
)

// Terminal reports whether no further lifecycle transition is defined.
func (s TaskStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Valid reports whether s is one of the closed set of task statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusClaimed, StatusSubmitted, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Task is a unit of work with a bounty. It is created at status "open" by its
// poster and advances only along open → claimed → submitted → approved|rejected.
// PosterID never changes; ClaimerID is set exactly once on claim.
type Task struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Status      TaskStatus      `json:"status"`
	PosterID    string          `json:"posterId"`
	ClaimerID   string          `json:"claimerId,omitempty"`
	// SubmissionContent holds the claimer's delivered work; overwritten if the
	// task is resubmitted.
	SubmissionContent string     `json:"submissionContent,omitempty"`
	ReviewFeedback    string     `json:"reviewFeedback,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	DeadlineAt        *time.Time `json:"deadlineAt,omitempty"`
	ApprovedAt        *time.Time `json:"approvedAt,omitempty"`
	RejectedAt        *time.Time `json:"rejectedAt,omitempty"`
}

var (
	_ encoding.BinaryMarshaler = TaskStatus("")
	_ encoding.TextMarshaler   = TaskStatus("")
)

func (s TaskStatus) MarshalBinary() ([]byte, error) { return []byte(string(s)), nil }
func (s TaskStatus) MarshalText() ([]byte, error)   { return []byte(string(s)), nil }
