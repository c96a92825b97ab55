package main

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"payment-router/internal/config"
	"payment-router/internal/idempotency"
	"payment-router/internal/models"
	"payment-router/internal/payments"
	"payment-router/internal/queue"
)

// env is what every subcommand needs: the service plus the raw client.
type env struct {
	svc    *payments.Service
	client *redis.Client
	close  func()
}

func openEnv(ctx context.Context) (*env, error) {
	cfg := config.Load()
	client := queue.NewRedisClient(cfg)
	ledger, closeLedger, err := payments.OpenLedger(ctx, cfg, client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	svc := payments.NewService(queue.NewRedisQueue(client, cfg), ledger, zap.NewNop())
	return &env{
		svc:    svc,
		client: client,
		close: func() {
			closeLedger()
			_ = client.Close()
		},
	}, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func summaryCmd() *cobra.Command {
	var fromFlag, toFlag string
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show settled totals per processor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseTime(fromFlag)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			to, err := parseTime(toFlag)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}

			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			s, err := e.svc.Summary(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"default":  totals(s.Default),
				"fallback": totals(s.Fallback),
			})
		},
	}
	cmd.Flags().StringVar(&fromFlag, "from", "", "Range start (RFC 3339)")
	cmd.Flags().StringVar(&toFlag, "to", "", "Range end (RFC 3339)")
	return cmd
}

func purgeCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every settlement from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to purge without --yes")
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			if err := e.svc.Purge(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All payments purged.")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm the purge")
	return cmd
}

func deadLettersCmd() *cobra.Command {
	var limit int64
	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "List dead-lettered payments, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			items, err := e.svc.DeadLetters(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"items": items})
		},
	}
	cmd.Flags().Int64VarP(&limit, "limit", "n", 20, "Maximum entries")
	return cmd
}

func enqueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <correlation-id> <amount>",
		Short: "Queue a payment on the primary queue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("amount: %w", err)
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			if err := e.svc.Enqueue(cmd.Context(), models.PaymentRequest{CorrelationID: args[0], Amount: amount}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "accepted %s\n", args[0])
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <correlation-id>",
		Short: "Show whether a payment is marked settled and by which processor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			p, err := idempotency.NewGuard(e.client, idempotency.DefaultPrefix).Partition(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if p == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: not settled (or marker expired)\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: settled by %s\n", args[0], p)
			return nil
		},
	}
}

func totals(t models.PartitionTotals) map[string]any {
	return map[string]any{
		"totalRequests": t.Count,
		"totalAmount":   json.Number(t.Total.StringFixed(2)),
	}
}

func parseTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
