// Package retry decides where a failed queue item goes next.
//
// An item's position in its lifecycle is carried entirely by which queue holds
// it and its RetryCount: the first failure on the primary path crosses over to
// the fallback queue, later failures back off exponentially and stay on the
// fallback queue, and once RetryCount would exceed the limit the item is
// dead-lettered for good.
package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"payment-router/internal/models"
	"payment-router/internal/telemetry"
)

// Pusher appends an item to a named queue.
type Pusher interface {
	Push(ctx context.Context, name string, item models.QueueItem) error
}

// Queues names the lists the router may push to.
type Queues struct {
	Fallback   string
	DeadLetter string
}

// Router applies the reroute / backoff / dead-letter policy.
type Router struct {
	pusher     Pusher
	queues     Queues
	maxRetries int
	unit       time.Duration
	logger     *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRouter builds a router pushing through pusher. A nil logger is replaced by a no-op.
func NewRouter(pusher Pusher, queues Queues, maxRetries int, unit time.Duration, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		pusher:     pusher,
		queues:     queues,
		maxRetries: maxRetries,
		unit:       unit,
		logger:     logger,
		sleep:      Sleep,
	}
}

// Backoff is the delay before the next fallback attempt of an item that has
// already been retried retryCount times: 2^retryCount units.
func Backoff(unit time.Duration, retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 30 {
		retryCount = 30
	}
	return unit * time.Duration(1<<uint(retryCount))
}

// Route handles the outcome of one dispatch attempt of item taken from origin.
// The item is always pushed somewhere on failure, even if ctx is cancelled
// while backing off; ctx cancellation only shortens the wait.
func (r *Router) Route(ctx context.Context, origin models.Role, item models.QueueItem, outcome models.Outcome) error {
	if outcome == models.OutcomeSettled {
		return nil
	}
	next := item.Retried()
	log := r.logger.With(
		zap.String("correlation_id", item.CorrelationID),
		zap.String("origin", string(origin)),
		zap.String("outcome", outcome.String()),
		zap.Int("retry_count", next.RetryCount),
	)
	pushCtx := context.WithoutCancel(ctx)

	if next.RetryCount > r.maxRetries {
		if err := r.pusher.Push(pushCtx, r.queues.DeadLetter, next); err != nil {
			return fmt.Errorf("dead-letter %s: %w", item.CorrelationID, err)
		}
		telemetry.DeadLettered.Inc()
		log.Warn("retries exhausted, item dead-lettered")
		return nil
	}

	if origin == models.RolePrimary {
		if err := r.pusher.Push(pushCtx, r.queues.Fallback, next); err != nil {
			return fmt.Errorf("reroute %s to fallback: %w", item.CorrelationID, err)
		}
		telemetry.Rerouted.WithLabelValues("fallback").Inc()
		log.Debug("rerouted to fallback queue")
		return nil
	}

	wait := Backoff(r.unit, item.RetryCount)
	if err := r.sleep(ctx, wait); err != nil {
		log.Info("backoff interrupted by shutdown, requeueing now", zap.Duration("backoff", wait))
	}
	if err := r.pusher.Push(pushCtx, r.queues.Fallback, next); err != nil {
		return fmt.Errorf("requeue %s after backoff: %w", item.CorrelationID, err)
	}
	telemetry.Rerouted.WithLabelValues("backoff").Inc()
	log.Debug("requeued to fallback queue after backoff", zap.Duration("backoff", wait))
	return nil
}

// Sleep blocks for d or until ctx is done, returning ctx.Err() in the latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
