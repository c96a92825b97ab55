// Package idempotency records which correlation ids have already been settled.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"payment-router/internal/models"
)

const DefaultPrefix = "payments:processed:"

// Guard stores one expiring marker per settled correlation id.
type Guard struct {
	client *redis.Client
	prefix string
}

// NewGuard builds a guard whose markers live under prefix (DefaultPrefix when empty).
func NewGuard(client *redis.Client, prefix string) *Guard {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Guard{client: client, prefix: prefix}
}

func (g *Guard) key(correlationID string) string {
	return g.prefix + correlationID
}

// AlreadySettled reports whether a live marker exists for the id.
func (g *Guard) AlreadySettled(ctx context.Context, correlationID string) (bool, error) {
	n, err := g.client.Exists(ctx, g.key(correlationID)).Result()
	if err != nil {
		return false, fmt.Errorf("check marker %s: %w", correlationID, err)
	}
	return n == 1, nil
}

// MarkSettled writes the marker with the settlement partition as its value.
// Rewriting an existing marker only refreshes its TTL.
func (g *Guard) MarkSettled(ctx context.Context, correlationID string, partition models.Partition, ttl time.Duration) error {
	if err := g.client.Set(ctx, g.key(correlationID), string(partition), ttl).Err(); err != nil {
		return fmt.Errorf("mark %s settled: %w", correlationID, err)
	}
	return nil
}

// Partition returns the partition recorded by the marker, or "" when none is live.
func (g *Guard) Partition(ctx context.Context, correlationID string) (models.Partition, error) {
	v, err := g.client.Get(ctx, g.key(correlationID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read marker %s: %w", correlationID, err)
	}
	return models.Partition(v), nil
}
