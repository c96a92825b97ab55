package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	api "payment-router/internal/api"
	"payment-router/internal/config"
	"payment-router/internal/logging"
	"payment-router/internal/payments"
	"payment-router/internal/queue"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Env, "api")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	client := queue.NewRedisClient(cfg)
	defer client.Close()
	q := queue.NewRedisQueue(client, cfg)

	ledger, closeLedger, err := payments.OpenLedger(ctx, cfg, client)
	if err != nil {
		logger.Fatal("open ledger", zap.String("backend", cfg.LedgerBackend), zap.Error(err))
	}
	defer closeLedger()

	server := api.New(payments.NewService(q, ledger, logger.Named("payments")), logger.Named("http"))
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("api listening", zap.String("port", cfg.HTTPPort), zap.String("ledger", cfg.LedgerBackend))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
