// Package store holds the Postgres implementation of the settlement ledger,
// selected with LEDGER_BACKEND=postgres.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"payment-router/internal/models"
)

// PostgresLedger keeps both partitions in one settlements table keyed by
// correlation id, so an id can be recorded at most once across partitions.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*PostgresLedger, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresLedger{pool: pool}, nil
}

func (l *PostgresLedger) Close() {
	if l.pool != nil {
		l.pool.Close()
	}
}

// Record inserts a settlement. It returns false when the id is already present.
func (l *PostgresLedger) Record(ctx context.Context, rec models.LedgerRecord) (bool, error) {
	if err := validPartition(rec.Partition); err != nil {
		return false, err
	}
	tag, err := l.pool.Exec(ctx, insertSettlement,
		rec.CorrelationID, rec.Amount.Round(2).String(), rec.SettledAt.UTC(), string(rec.Partition))
	if err != nil {
		return false, fmt.Errorf("insert settlement %s: %w", rec.CorrelationID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Summary aggregates both partitions in one statement, so both totals come
// from the same snapshot.
func (l *PostgresLedger) Summary(ctx context.Context, from, to *time.Time) (models.Summary, error) {
	var (
		defCount, fbCount int64
		defTotal, fbTotal string
	)
	err := l.pool.QueryRow(ctx, summarySettlements, utcOrNil(from), utcOrNil(to)).
		Scan(&defCount, &defTotal, &fbCount, &fbTotal)
	if err != nil {
		return models.Summary{}, fmt.Errorf("summarize settlements: %w", err)
	}

	def, err := totals(defCount, defTotal)
	if err != nil {
		return models.Summary{}, err
	}
	fb, err := totals(fbCount, fbTotal)
	if err != nil {
		return models.Summary{}, err
	}
	return models.Summary{Default: def, Fallback: fb}, nil
}

// Purge removes every settlement.
func (l *PostgresLedger) Purge(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, `TRUNCATE settlements`); err != nil {
		return fmt.Errorf("truncate settlements: %w", err)
	}
	return nil
}

const insertSettlement = `
	INSERT INTO settlements (correlation_id, amount, settled_at, processor)
	VALUES ($1, $2::numeric, $3, $4)
	ON CONFLICT (correlation_id) DO NOTHING
`

// Amounts are read back as text to keep them exact.
const summarySettlements = `
	SELECT
		COUNT(*) FILTER (WHERE processor = 'default'),
		COALESCE(SUM(amount) FILTER (WHERE processor = 'default'), 0)::text,
		COUNT(*) FILTER (WHERE processor = 'fallback'),
		COALESCE(SUM(amount) FILTER (WHERE processor = 'fallback'), 0)::text
	FROM settlements
	WHERE ($1::timestamptz IS NULL OR settled_at >= $1)
	  AND ($2::timestamptz IS NULL OR settled_at <= $2)
`

func totals(count int64, sum string) (models.PartitionTotals, error) {
	total, err := decimal.NewFromString(sum)
	if err != nil {
		return models.PartitionTotals{}, fmt.Errorf("parse total %q: %w", sum, err)
	}
	return models.PartitionTotals{Count: count, Total: total}, nil
}

func validPartition(p models.Partition) error {
	switch p {
	case models.PartitionDefault, models.PartitionFallback:
		return nil
	}
	return fmt.Errorf("unknown partition %q", p)
}

func utcOrNil(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
