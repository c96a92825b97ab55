package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payment-router/internal/health"
	"payment-router/internal/models"
	"payment-router/internal/queue"
	"payment-router/internal/retry"
	"payment-router/internal/telemetry"
)

// Dispatcher makes a single settlement attempt against one processor.
type Dispatcher interface {
	Dispatch(ctx context.Context, correlationID string, amount decimal.Decimal, requestedAt time.Time) models.Outcome
}

// Queue is the list substrate a pool drains and requeues into.
type Queue interface {
	Pop(ctx context.Context, name string, timeout time.Duration) (string, error)
	PushRaw(ctx context.Context, name string, raw string) error
}

// Guard tracks already-settled correlation ids.
type Guard interface {
	AlreadySettled(ctx context.Context, correlationID string) (bool, error)
	MarkSettled(ctx context.Context, correlationID string, partition models.Partition, ttl time.Duration) error
}

// Ledger records settled payments.
type Ledger interface {
	Record(ctx context.Context, rec models.LedgerRecord) (bool, error)
}

// Router decides where a failed item goes next.
type Router interface {
	Route(ctx context.Context, origin models.Role, item models.QueueItem, outcome models.Outcome) error
}

// Options configures a Pool.
type Options struct {
	Role            models.Role
	QueueName       string
	DeadLetterQueue string
	Concurrency     int
	PopTimeout      time.Duration
	ErrorPause      time.Duration
	MarkerTTL       time.Duration

	Queue      Queue
	Dispatcher Dispatcher
	Guard      Guard
	Ledger     Ledger
	Router     Router
	// Circuit is consulted before every dispatch. Optional.
	Circuit *health.Circuit
	Logger  *zap.Logger
}

// Pool runs Concurrency independent loops draining one queue.
type Pool struct {
	role        models.Role
	queueName   string
	deadLetter  string
	concurrency int
	popTimeout  time.Duration
	errorPause  time.Duration
	markerTTL   time.Duration

	queue      Queue
	dispatcher Dispatcher
	guard      Guard
	ledger     Ledger
	router     Router
	circuit    *health.Circuit
	logger     *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewPool applies defaults to opts. PopTimeout is raised to at least one second.
func NewPool(opts Options) *Pool {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PopTimeout < time.Second {
		// BRPOP timeouts are whole seconds; zero would block forever.
		opts.PopTimeout = time.Second
	}
	if opts.ErrorPause <= 0 {
		opts.ErrorPause = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Pool{
		role:        opts.Role,
		queueName:   opts.QueueName,
		deadLetter:  opts.DeadLetterQueue,
		concurrency: opts.Concurrency,
		popTimeout:  opts.PopTimeout,
		errorPause:  opts.ErrorPause,
		markerTTL:   opts.MarkerTTL,
		queue:       opts.Queue,
		dispatcher:  opts.Dispatcher,
		guard:       opts.Guard,
		ledger:      opts.Ledger,
		router:      opts.Router,
		circuit:     opts.Circuit,
		logger:      opts.Logger.With(zap.String("pool", string(opts.Role)), zap.String("queue", opts.QueueName)),
		sleep:       retry.Sleep,
		now:         time.Now,
	}
}

// Run starts the loops and blocks until all of them have exited after ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool started", zap.Int("concurrency", p.concurrency), zap.Duration("pop_timeout", p.popTimeout))

	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	wg.Wait()

	p.logger.Info("worker pool stopped")
	return nil
}

// loop pops one item at a time. Work already popped is never abandoned on
// shutdown: network calls run on a context detached from ctx, and ctx is only
// checked between pops.
func (p *Pool) loop(ctx context.Context, id int) {
	log := p.logger.With(zap.Int("worker_id", id))
	detached := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		raw, err := p.queue.Pop(detached, p.queueName, p.popTimeout)
		if err != nil {
			log.Warn("pop failed", zap.Error(err))
			_ = p.sleep(ctx, p.errorPause)
			continue
		}
		if raw == "" {
			continue
		}

		if err := p.process(ctx, raw); err != nil {
			log.Error("pipeline failed, requeueing item unchanged", zap.Error(err), zap.String("payload", raw))
			if rqErr := p.queue.PushRaw(detached, p.queueName, raw); rqErr != nil {
				log.Error("requeue failed, item lost", zap.Error(rqErr), zap.String("payload", raw))
			} else {
				telemetry.Requeued.WithLabelValues(string(p.role)).Inc()
			}
			_ = p.sleep(ctx, p.errorPause)
		}
	}
}

// process runs the dispatch pipeline for one raw payload. A returned error is
// an infrastructure fault; settlement failures are handed to the router.
func (p *Pool) process(ctx context.Context, raw string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in pipeline: %v", r)
		}
	}()
	detached := context.WithoutCancel(ctx)

	item, err := queue.Decode(raw)
	if err != nil {
		p.logger.Error("undecodable payload, dead-lettering", zap.Error(err), zap.String("payload", raw))
		if pushErr := p.queue.PushRaw(detached, p.deadLetter, raw); pushErr != nil {
			return fmt.Errorf("dead-letter poison payload: %w", pushErr)
		}
		telemetry.DeadLettered.Inc()
		return nil
	}
	log := p.logger.With(zap.String("correlation_id", item.CorrelationID), zap.Int("retry_count", item.RetryCount))

	settled, err := p.guard.AlreadySettled(detached, item.CorrelationID)
	if err != nil {
		return err
	}
	if settled {
		telemetry.Duplicates.Inc()
		log.Debug("already settled, dropping redelivery")
		return nil
	}

	p.pace(detached)

	// Millisecond precision matches the requestedAt the processor receives.
	settledAt := p.now().UTC().Truncate(time.Millisecond)
	start := time.Now()
	outcome := p.dispatcher.Dispatch(detached, item.CorrelationID, item.Amount, settledAt)
	telemetry.DispatchLatency.WithLabelValues(p.processorName(), outcome.String()).Observe(time.Since(start).Seconds())

	if outcome != models.OutcomeSettled {
		telemetry.DispatchFailures.WithLabelValues(string(p.role), outcome.String()).Inc()
		return p.router.Route(ctx, p.role, item, outcome)
	}

	partition := p.role.Partition()
	recorded, err := p.ledger.Record(detached, models.LedgerRecord{
		CorrelationID: item.CorrelationID,
		Amount:        item.Amount,
		SettledAt:     settledAt,
		Partition:     partition,
	})
	if err != nil {
		return err
	}
	if err := p.guard.MarkSettled(detached, item.CorrelationID, partition, p.markerTTL); err != nil {
		return err
	}
	if !recorded {
		telemetry.Duplicates.Inc()
		log.Warn("processor settled an id the ledger already holds")
		return nil
	}
	telemetry.Settled.WithLabelValues(string(partition)).Inc()
	log.Debug("payment settled", zap.String("partition", string(partition)))
	return nil
}

// pace delays a dispatch toward a processor believed to be failing. The call
// still goes out afterwards so recovery is noticed.
func (p *Pool) pace(ctx context.Context) {
	if p.circuit == nil {
		return
	}
	state := p.circuit.Load()
	if !state.Failing || state.PacingDelay <= 0 {
		return
	}
	telemetry.PacingSleeps.WithLabelValues(p.circuit.Name()).Inc()
	_ = p.sleep(ctx, state.PacingDelay)
}

func (p *Pool) processorName() string {
	if p.circuit != nil {
		return p.circuit.Name()
	}
	return string(p.role.Partition())
}
