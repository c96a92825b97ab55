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

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"payment-router/internal/config"
	"payment-router/internal/gateway"
	"payment-router/internal/health"
	"payment-router/internal/idempotency"
	"payment-router/internal/logging"
	"payment-router/internal/models"
	"payment-router/internal/payments"
	"payment-router/internal/queue"
	"payment-router/internal/retry"
	"payment-router/internal/telemetry"
	"payment-router/internal/worker"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Env, "worker")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		logger.Info("shutdown requested, draining in-flight payments")
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

	workerID := resolveWorkerID(cfg.WorkerID)
	logger = logger.With(zap.String("worker_instance", workerID))

	guard := idempotency.NewGuard(client, idempotency.DefaultPrefix)
	router := retry.NewRouter(q, retry.Queues{
		Fallback:   q.Fallback(),
		DeadLetter: q.DeadLetter(),
	}, cfg.MaxRetries, cfg.BackoffUnit, logger.Named("retry"))

	g, gctx := errgroup.WithContext(ctx)

	routes := []struct {
		role        models.Role
		url         string
		concurrency int
	}{
		{role: models.RolePrimary, url: cfg.DefaultProcessorURL, concurrency: cfg.PrimaryWorkers},
		{role: models.RoleFallback, url: cfg.FallbackProcessorURL, concurrency: cfg.FallbackWorkers},
	}
	for _, rt := range routes {
		name := string(rt.role.Partition())
		circuit := health.NewCircuit(name, cfg.PacingFloor)
		monitor := health.NewMonitor(circuit, health.MonitorOptions{
			EndpointURL: rt.url,
			Interval:    cfg.HealthInterval,
			Floor:       cfg.PacingFloor,
			Timeout:     cfg.DispatchTimeout,
			Redis:       client,
			Owner:       workerID,
			Logger:      logger.Named("health"),
		})
		gw := gateway.New(gateway.Options{
			Name:           name,
			URL:            rt.url,
			Timeout:        cfg.DispatchTimeout,
			ConnectTimeout: cfg.ConnectTimeout,
			Hinter:         circuit,
			Logger:         logger.Named("gateway"),
		})
		pool := worker.NewPool(worker.Options{
			Role:            rt.role,
			QueueName:       q.For(rt.role),
			DeadLetterQueue: q.DeadLetter(),
			Concurrency:     rt.concurrency,
			PopTimeout:      cfg.PopTimeout,
			ErrorPause:      cfg.ErrorPause,
			MarkerTTL:       cfg.IdempotencyTTL,
			Queue:           q,
			Dispatcher:      gw,
			Guard:           guard,
			Ledger:          ledger,
			Router:          router,
			Circuit:         circuit,
			Logger:          logger.Named("worker"),
		})

		g.Go(func() error { return monitor.Run(gctx) })
		g.Go(func() error { return pool.Run(gctx) })
	}

	g.Go(func() error { return worker.SampleDepths(gctx, q, cfg.HealthInterval, logger.Named("depth")) })

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: telemetry.Handler()}
	g.Go(func() error {
		// A broken metrics listener must not stop payment processing.
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		return metricsServer.Shutdown(shutdownCtx)
	})

	logger.Info("worker started",
		zap.Int("primary_workers", cfg.PrimaryWorkers),
		zap.Int("fallback_workers", cfg.FallbackWorkers),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("backoff_unit", cfg.BackoffUnit),
		zap.String("ledger", cfg.LedgerBackend),
	)
	if err := g.Wait(); err != nil {
		logger.Error("worker stopped", zap.Error(err))
		return
	}
	logger.Info("worker stopped")
}

// resolveWorkerID prefers WORKER_ID, then the hostname. A random suffix keeps
// replicas sharing a hostname apart in the probe lock.
func resolveWorkerID(configured string) string {
	if configured != "" {
		return configured
	}
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return hostname + "-" + uuid.NewString()[:8]
}
