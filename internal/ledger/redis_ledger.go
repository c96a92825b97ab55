// Package ledger keeps settled payments in two Redis sorted sets, one per
// partition, scored by settlement time in unix microseconds, the precision Postgres keeps. Amounts live in a
// companion hash as integer cents so the aggregation script can sum them exactly.
package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"payment-router/internal/models"
)

// Keys names the Redis structures backing the ledger.
type Keys struct {
	Default  string
	Fallback string
	Amounts  string
}

// DefaultKeys are used when the caller does not override them.
var DefaultKeys = Keys{
	Default:  "payments:ledger:default",
	Fallback: "payments:ledger:fallback",
	Amounts:  "payments:ledger:amounts",
}

// RedisLedger is the Redis-backed settlement ledger.
type RedisLedger struct {
	client *redis.Client
	keys   Keys
}

// NewRedisLedger builds a ledger over client. Zero Keys select DefaultKeys.
func NewRedisLedger(client *redis.Client, keys Keys) *RedisLedger {
	if keys == (Keys{}) {
		keys = DefaultKeys
	}
	return &RedisLedger{client: client, keys: keys}
}

func (l *RedisLedger) partitionKeys(p models.Partition) (own, other string, err error) {
	switch p {
	case models.PartitionDefault:
		return l.keys.Default, l.keys.Fallback, nil
	case models.PartitionFallback:
		return l.keys.Fallback, l.keys.Default, nil
	default:
		return "", "", fmt.Errorf("unknown partition %q", p)
	}
}

// Record appends a settled payment to its partition. It returns false without
// writing when the correlation id is already present in either partition.
func (l *RedisLedger) Record(ctx context.Context, rec models.LedgerRecord) (bool, error) {
	own, other, err := l.partitionKeys(rec.Partition)
	if err != nil {
		return false, err
	}
	cents := toCents(rec.Amount)
	res, err := recordScript.Run(ctx, l.client,
		[]string{own, other, l.keys.Amounts},
		rec.CorrelationID, rec.SettledAt.UnixMicro(), cents,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("record %s: %w", rec.CorrelationID, err)
	}
	return res == 1, nil
}

// Summary aggregates both partitions over [from, to] in one server-side script,
// so a settlement landing mid-query is either fully counted or not at all.
// A nil bound is open-ended.
func (l *RedisLedger) Summary(ctx context.Context, from, to *time.Time) (models.Summary, error) {
	res, err := summaryScript.Run(ctx, l.client,
		[]string{l.keys.Default, l.keys.Fallback, l.keys.Amounts},
		fromBound(from), toBound(to),
	).Int64Slice()
	if err != nil {
		return models.Summary{}, fmt.Errorf("summary: %w", err)
	}
	if len(res) != 4 {
		return models.Summary{}, fmt.Errorf("summary: unexpected reply of length %d", len(res))
	}
	return models.Summary{
		Default:  models.PartitionTotals{Count: res[0], Total: fromCents(res[1])},
		Fallback: models.PartitionTotals{Count: res[2], Total: fromCents(res[3])},
	}, nil
}

// Purge drops every record from both partitions.
func (l *RedisLedger) Purge(ctx context.Context) error {
	if err := l.client.Del(ctx, l.keys.Default, l.keys.Fallback, l.keys.Amounts).Err(); err != nil {
		return fmt.Errorf("purge ledger: %w", err)
	}
	return nil
}

// fromBound rounds up to the next whole microsecond so a record scored below
// from is never counted.
func fromBound(t *time.Time) string {
	if t == nil {
		return "-inf"
	}
	us := t.UnixMicro()
	if t.Nanosecond()%int(time.Microsecond) != 0 {
		us++
	}
	return strconv.FormatInt(us, 10)
}

// toBound rounds down, which is already inclusive for whole microseconds.
func toBound(t *time.Time) string {
	if t == nil {
		return "+inf"
	}
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func toCents(amount decimal.Decimal) int64 {
	return amount.Round(2).Shift(2).IntPart()
}

func fromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

var recordScript = redis.NewScript(`
local own = KEYS[1]
local other = KEYS[2]
local amounts = KEYS[3]
local id = ARGV[1]

if redis.call('ZSCORE', own, id) or redis.call('ZSCORE', other, id) then
  return 0
end
redis.call('ZADD', own, ARGV[2], id)
redis.call('HSET', amounts, id, ARGV[3])
return 1
`)

var summaryScript = redis.NewScript(`
local amounts = KEYS[3]
local min = ARGV[1]
local max = ARGV[2]

local function totals(key)
  local ids = redis.call('ZRANGEBYSCORE', key, min, max)
  local count = #ids
  local sum = 0
  -- HMGET in chunks to stay clear of the unpack() stack limit.
  for i = 1, count, 500 do
    local chunk = {}
    for j = i, math.min(i + 499, count) do
      chunk[#chunk + 1] = ids[j]
    end
    local values = redis.call('HMGET', amounts, unpack(chunk))
    for _, v in ipairs(values) do
      sum = sum + (tonumber(v) or 0)
    end
  end
  return {count, sum}
end

local d = totals(KEYS[1])
local f = totals(KEYS[2])
return {d[1], d[2], f[1], f[2]}
`)
