package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"payment-router/internal/config"
	"payment-router/internal/models"
)

// NewRedisClient builds the client shared by the queue, ledger, guard and health monitor.
func NewRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// RedisQueue coordinates the primary, fallback and dead-letter lists in Redis.
// Items are pushed to the head and popped from the tail, so each list is FIFO.
type RedisQueue struct {
	client        *redis.Client
	primaryKey    string
	fallbackKey   string
	deadLetterKey string
}

// NewRedisQueue builds a queue over an existing client using the configured list names.
func NewRedisQueue(client *redis.Client, cfg config.Config) *RedisQueue {
	return &RedisQueue{
		client:        client,
		primaryKey:    cfg.PrimaryQueue,
		fallbackKey:   cfg.FallbackQueue,
		deadLetterKey: cfg.DeadLetterQueue,
	}
}

// Primary is the list the HTTP layer enqueues into.
func (q *RedisQueue) Primary() string { return q.primaryKey }

// Fallback is the list failed primary items are rerouted to.
func (q *RedisQueue) Fallback() string { return q.fallbackKey }

// DeadLetter is the terminal list for items that exhausted their retries.
func (q *RedisQueue) DeadLetter() string { return q.deadLetterKey }

// For returns the list drained by pools of the given role.
func (q *RedisQueue) For(role models.Role) string {
	if role == models.RoleFallback {
		return q.fallbackKey
	}
	return q.primaryKey
}

// Push encodes the item and appends it to the head of the named list.
func (q *RedisQueue) Push(ctx context.Context, name string, item models.QueueItem) error {
	raw, err := Encode(item)
	if err != nil {
		return err
	}
	return q.PushRaw(ctx, name, raw)
}

// PushRaw appends an already encoded payload, used to requeue an item unchanged.
func (q *RedisQueue) PushRaw(ctx context.Context, name string, raw string) error {
	if err := q.client.LPush(ctx, name, raw).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", name, err)
	}
	return nil
}

// Pop blocks up to timeout for the oldest payload on the named list.
// An empty list yields ("", nil).
func (q *RedisQueue) Pop(ctx context.Context, name string, timeout time.Duration) (string, error) {
	res, err := q.client.BRPop(ctx, timeout, name).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("brpop %s: %w", name, err)
	}
	if len(res) != 2 {
		return "", fmt.Errorf("unexpected brpop reply of length %d", len(res))
	}
	return res[1], nil
}

// DeadLetter is one entry of the dead-letter list. Raw is set only when the
// payload could not be decoded.
type DeadLetter struct {
	Item models.QueueItem `json:"item"`
	Raw  string           `json:"raw,omitempty"`
}

// DeadLetters reads up to count dead-lettered entries, most recent first.
func (q *RedisQueue) DeadLetters(ctx context.Context, count int64) ([]DeadLetter, error) {
	if count <= 0 {
		return nil, nil
	}
	raws, err := q.client.LRange(ctx, q.deadLetterKey, 0, count-1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", q.deadLetterKey, err)
	}
	out := make([]DeadLetter, 0, len(raws))
	for _, raw := range raws {
		item, err := Decode(raw)
		if err != nil {
			out = append(out, DeadLetter{Raw: raw})
			continue
		}
		out = append(out, DeadLetter{Item: item})
	}
	return out, nil
}

// Depths returns the length of each of the three lists keyed by list name.
func (q *RedisQueue) Depths(ctx context.Context) (map[string]int64, error) {
	names := []string{q.primaryKey, q.fallbackKey, q.deadLetterKey}
	pipe := q.client.Pipeline()
	cmds := make([]*redis.IntCmd, 0, len(names))
	for _, n := range names {
		cmds = append(cmds, pipe.LLen(ctx, n))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(names))
	for i, c := range cmds {
		out[names[i]] = c.Val()
	}
	return out, nil
}

// Encode renders the queue wire form of an item.
func Encode(item models.QueueItem) (string, error) {
	b, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("encode queue item: %w", err)
	}
	return string(b), nil
}

// Decode parses a queue payload.
func Decode(raw string) (models.QueueItem, error) {
	var item models.QueueItem
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return item, fmt.Errorf("decode queue item: %w", err)
	}
	if item.CorrelationID == "" {
		return item, models.ErrMissingCorrelationID
	}
	if item.RetryCount < 0 {
		return item, fmt.Errorf("decode queue item: negative retryCount %d", item.RetryCount)
	}
	return item, nil
}
