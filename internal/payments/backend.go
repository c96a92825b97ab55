package payments

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"payment-router/internal/config"
	"payment-router/internal/ledger"
	"payment-router/internal/models"
	"payment-router/internal/store"
)

// RecordingLedger is a ledger workers record into and the boundary reads from.
type RecordingLedger interface {
	Ledger
	Record(ctx context.Context, rec models.LedgerRecord) (bool, error)
}

// OpenLedger returns the ledger selected by cfg.LedgerBackend and a function
// releasing its resources. The Postgres backend is migrated before use.
func OpenLedger(ctx context.Context, cfg config.Config, client *redis.Client) (RecordingLedger, func(), error) {
	switch cfg.LedgerBackend {
	case config.LedgerRedis, "":
		return ledger.NewRedisLedger(client, ledger.DefaultKeys), func() {}, nil
	case config.LedgerPostgres:
		pg, err := store.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.RunMigrations(ctx); err != nil {
			pg.Close()
			return nil, nil, fmt.Errorf("migrations: %w", err)
		}
		return pg, pg.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
}
