// Package payments is the boundary the inbound layers (HTTP API, operator CLI)
// use to reach the processing core: enqueue, summary, purge and dead-letter
// inspection.
package payments

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"payment-router/internal/models"
	"payment-router/internal/queue"
	"payment-router/internal/telemetry"
)

// Queue is the part of the queue adapter the boundary needs.
type Queue interface {
	Primary() string
	Push(ctx context.Context, name string, item models.QueueItem) error
	DeadLetters(ctx context.Context, count int64) ([]queue.DeadLetter, error)
}

// Ledger answers range summaries and can be wiped. Both the Redis and the
// Postgres ledgers satisfy it.
type Ledger interface {
	Summary(ctx context.Context, from, to *time.Time) (models.Summary, error)
	Purge(ctx context.Context) error
}

// Service wires the boundary operations to the queue and the ledger.
type Service struct {
	queue  Queue
	ledger Ledger
	logger *zap.Logger
}

// NewService builds the boundary over q and l.
func NewService(q Queue, l Ledger, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{queue: q, ledger: l, logger: logger}
}

// Enqueue validates the request and appends a fresh item to the primary queue.
// It returns as soon as the item is queued; settlement happens asynchronously.
func (s *Service) Enqueue(ctx context.Context, req models.PaymentRequest) error {
	req, err := req.Normalize()
	if err != nil {
		return err
	}
	if err := s.queue.Push(ctx, s.queue.Primary(), models.NewQueueItem(req)); err != nil {
		return fmt.Errorf("enqueue %s: %w", req.CorrelationID, err)
	}
	telemetry.Enqueued.Inc()
	return nil
}

// Summary returns per-partition totals for settlements in [from, to]. A nil
// bound is open.
func (s *Service) Summary(ctx context.Context, from, to *time.Time) (models.Summary, error) {
	return s.ledger.Summary(ctx, from, to)
}

// Purge clears both ledger partitions. Idempotency markers are left alone so
// redeliveries of already-settled payments are still skipped.
func (s *Service) Purge(ctx context.Context) error {
	if err := s.ledger.Purge(ctx); err != nil {
		return fmt.Errorf("purge ledger: %w", err)
	}
	s.logger.Warn("ledger purged")
	return nil
}

// DeadLetters lists up to limit dead-lettered entries, most recent first.
func (s *Service) DeadLetters(ctx context.Context, limit int64) ([]queue.DeadLetter, error) {
	return s.queue.DeadLetters(ctx, limit)
}
