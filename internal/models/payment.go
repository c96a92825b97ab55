package models

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrMissingCorrelationID = errors.New("correlationId is required")
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
)

// Partition names one of the two settlement result sets.
type Partition string

const (
	PartitionDefault  Partition = "default"
	PartitionFallback Partition = "fallback"
)

// Role identifies which queue a worker pool drains.
type Role string

const (
	RolePrimary  Role = "primary"
	RoleFallback Role = "fallback"
)

// Partition returns the ledger partition that settlements from this role land in.
func (r Role) Partition() Partition {
	if r == RoleFallback {
		return PartitionFallback
	}
	return PartitionDefault
}

// Outcome classifies a single dispatch attempt.
type Outcome int

const (
	OutcomeSettled Outcome = iota
	OutcomeRejected
	OutcomeUnreachable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSettled:
		return "settled"
	case OutcomeRejected:
		return "rejected"
	case OutcomeUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// PaymentRequest is what callers hand to the enqueue boundary.
type PaymentRequest struct {
	CorrelationID string          `json:"correlationId"`
	Amount        decimal.Decimal `json:"amount"`
}

// Normalize trims the id and rounds the amount to cents, rejecting invalid requests.
func (r PaymentRequest) Normalize() (PaymentRequest, error) {
	r.CorrelationID = strings.TrimSpace(r.CorrelationID)
	if r.CorrelationID == "" {
		return r, ErrMissingCorrelationID
	}
	r.Amount = r.Amount.Round(2)
	if !r.Amount.IsPositive() {
		return r, ErrInvalidAmount
	}
	return r, nil
}

// QueueItem is the unit of work carried by the primary, fallback and dead-letter queues.
type QueueItem struct {
	CorrelationID string          `json:"correlationId"`
	Amount        decimal.Decimal `json:"amount"`
	RetryCount    int             `json:"retryCount"`
}

// NewQueueItem wraps a request as a fresh item with no retries.
func NewQueueItem(r PaymentRequest) QueueItem {
	return QueueItem{CorrelationID: r.CorrelationID, Amount: r.Amount}
}

// Retried returns a copy with the retry counter advanced by one.
func (i QueueItem) Retried() QueueItem {
	i.RetryCount++
	return i
}

// LedgerRecord is one settled payment.
type LedgerRecord struct {
	CorrelationID string          `json:"correlationId"`
	Amount        decimal.Decimal `json:"amount"`
	SettledAt     time.Time       `json:"settledAt"`
	Partition     Partition       `json:"partition"`
}

// PartitionTotals aggregates one partition over a time range.
type PartitionTotals struct {
	Count int64           `json:"totalRequests"`
	Total decimal.Decimal `json:"totalAmount"`
}

// Summary is the range aggregate across both partitions.
type Summary struct {
	Default  PartitionTotals `json:"default"`
	Fallback PartitionTotals `json:"fallback"`
}
