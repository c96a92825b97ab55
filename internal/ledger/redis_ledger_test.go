package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"payment-router/internal/models"
)

func newTestLedger(t *testing.T) *RedisLedger {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLedger(client, Keys{})
}

func rec(id, amount string, at time.Time, p models.Partition) models.LedgerRecord {
	return models.LedgerRecord{
		CorrelationID: id,
		Amount:        decimal.RequireFromString(amount),
		SettledAt:     at,
		Partition:     p,
	}
}

func mustRecord(t *testing.T, l *RedisLedger, r models.LedgerRecord) {
	t.Helper()
	ok, err := l.Record(context.Background(), r)
	if err != nil {
		t.Fatalf("record %s: %v", r.CorrelationID, err)
	}
	if !ok {
		t.Fatalf("record %s was skipped", r.CorrelationID)
	}
}

func TestSummaryAcrossPartitions(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	t0 := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)

	mustRecord(t, l, rec("d1", "100", t0.Add(10*time.Second), models.PartitionDefault))
	mustRecord(t, l, rec("f1", "30", t0.Add(20*time.Second), models.PartitionFallback))

	sum, err := l.Summary(ctx, &t0, &t1)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Default.Count != 1 || !sum.Default.Total.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected default totals %+v", sum.Default)
	}
	if sum.Fallback.Count != 1 || !sum.Fallback.Total.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("unexpected fallback totals %+v", sum.Fallback)
	}
}

func TestSummaryRangeBounds(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	base := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	mustRecord(t, l, rec("early", "1.10", base.Add(-time.Hour), models.PartitionDefault))
	mustRecord(t, l, rec("from-edge", "2.20", base, models.PartitionDefault))
	mustRecord(t, l, rec("to-edge", "3.30", base.Add(time.Minute), models.PartitionDefault))
	mustRecord(t, l, rec("late", "4.40", base.Add(time.Hour), models.PartitionFallback))

	from, to := base, base.Add(time.Minute)
	tests := []struct {
		name      string
		from, to  *time.Time
		wantCount int64
		wantTotal string
		wantFb    int64
	}{
		{name: "closed_range_inclusive", from: &from, to: &to, wantCount: 2, wantTotal: "5.5", wantFb: 0},
		{name: "open_from", from: nil, to: &to, wantCount: 3, wantTotal: "6.6", wantFb: 0},
		{name: "open_to", from: &from, to: nil, wantCount: 2, wantTotal: "5.5", wantFb: 1},
		{name: "fully_open", from: nil, to: nil, wantCount: 3, wantTotal: "6.6", wantFb: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum, err := l.Summary(ctx, tt.from, tt.to)
			if err != nil {
				t.Fatalf("summary: %v", err)
			}
			if sum.Default.Count != tt.wantCount || !sum.Default.Total.Equal(decimal.RequireFromString(tt.wantTotal)) {
				t.Fatalf("unexpected default totals %+v", sum.Default)
			}
			if sum.Fallback.Count != tt.wantFb {
				t.Fatalf("unexpected fallback count %d", sum.Fallback.Count)
			}
		})
	}
}

func TestSummarySubMillisecondBounds(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	base := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	mustRecord(t, l, rec("early", "1.00", base.Add(200*time.Microsecond), models.PartitionDefault))
	mustRecord(t, l, rec("late", "2.00", base.Add(900*time.Microsecond), models.PartitionFallback))

	mid := base.Add(500 * time.Microsecond)
	midNanos := base.Add(500*time.Microsecond + 1)
	tests := []struct {
		name         string
		from, to     *time.Time
		wantDefault  int64
		wantFallback int64
	}{
		{name: "to_before_late", from: nil, to: &mid, wantDefault: 1, wantFallback: 0},
		{name: "from_after_early", from: &mid, to: nil, wantDefault: 0, wantFallback: 1},
		{name: "from_with_nanoseconds", from: &midNanos, to: nil, wantDefault: 0, wantFallback: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum, err := l.Summary(ctx, tt.from, tt.to)
			if err != nil {
				t.Fatalf("summary: %v", err)
			}
			if sum.Default.Count != tt.wantDefault || sum.Fallback.Count != tt.wantFallback {
				t.Fatalf("expected %d/%d, got %+v", tt.wantDefault, tt.wantFallback, sum)
			}
		})
	}

	edge := base.Add(900 * time.Microsecond)
	sum, err := l.Summary(ctx, &edge, &edge)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Fallback.Count != 1 {
		t.Fatalf("record exactly on both bounds must be counted, got %+v", sum)
	}
}

func TestRecordSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	now := time.Now()

	mustRecord(t, l, rec("a1", "100", now, models.PartitionDefault))

	for _, p := range []models.Partition{models.PartitionDefault, models.PartitionFallback} {
		ok, err := l.Record(ctx, rec("a1", "100", now.Add(time.Second), p))
		if err != nil {
			t.Fatalf("record duplicate: %v", err)
		}
		if ok {
			t.Fatalf("duplicate into %s partition should be skipped", p)
		}
	}

	sum, err := l.Summary(ctx, nil, nil)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Default.Count != 1 || sum.Fallback.Count != 0 {
		t.Fatalf("expected exactly one record, got %+v", sum)
	}
}

func TestRecordRejectsUnknownPartition(t *testing.T) {
	l := newTestLedger(t)
	if _, err := l.Record(context.Background(), rec("a1", "1", time.Now(), "other")); err == nil {
		t.Fatalf("expected error for unknown partition")
	}
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	mustRecord(t, l, rec("a1", "1", time.Now(), models.PartitionDefault))
	mustRecord(t, l, rec("a2", "2", time.Now(), models.PartitionFallback))

	if err := l.Purge(ctx); err != nil {
		t.Fatalf("purge: %v", err)
	}
	sum, err := l.Summary(ctx, nil, nil)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Default.Count != 0 || sum.Fallback.Count != 0 || !sum.Default.Total.IsZero() {
		t.Fatalf("expected empty ledger, got %+v", sum)
	}
	// A purged id can be recorded again.
	mustRecord(t, l, rec("a1", "1", time.Now(), models.PartitionDefault))
}

func TestSummaryConsistentUnderConcurrentRecords(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	unit := decimal.RequireFromString("19.90")
	base := time.Now()

	const writers, perWriter = 4, 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				p := models.PartitionDefault
				if i%2 == 1 {
					p = models.PartitionFallback
				}
				r := models.LedgerRecord{
					CorrelationID: fmt.Sprintf("w%d-%d", w, i),
					Amount:        unit,
					SettledAt:     base.Add(time.Duration(i) * time.Millisecond),
					Partition:     p,
				}
				if _, err := l.Record(ctx, r); err != nil {
					t.Errorf("record: %v", err)
					return
				}
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var last int64
	for reading := true; reading; {
		select {
		case <-done:
			reading = false
		default:
		}
		sum, err := l.Summary(ctx, nil, nil)
		if err != nil {
			t.Fatalf("summary: %v", err)
		}
		for _, pt := range []models.PartitionTotals{sum.Default, sum.Fallback} {
			if !pt.Total.Equal(unit.Mul(decimal.NewFromInt(pt.Count))) {
				t.Fatalf("torn partition read: count=%d total=%s", pt.Count, pt.Total)
			}
		}
		total := sum.Default.Count + sum.Fallback.Count
		if total < last {
			t.Fatalf("record count went backwards: %d < %d", total, last)
		}
		last = total
	}

	sum, err := l.Summary(ctx, nil, nil)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	half := int64(writers * perWriter / 2)
	if sum.Default.Count != half || sum.Fallback.Count != half {
		t.Fatalf("expected %d records per partition, got %+v", half, sum)
	}
	if !sum.Default.Total.Equal(unit.Mul(decimal.NewFromInt(half))) {
		t.Fatalf("unexpected default total %s", sum.Default.Total)
	}
}
