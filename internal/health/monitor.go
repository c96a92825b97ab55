// Package health tracks whether a payment processor is believed to be failing
// and how long workers should pace themselves before calling it.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"payment-router/internal/telemetry"
)

const keyPrefix = "payments:circuit:"

// Monitor periodically probes one processor's health endpoint and publishes the
// result into its Circuit. When a Redis client is configured, only one process
// per interval probes (guarded by a SET NX lock); the others adopt the state it
// shares under the circuit key.
type Monitor struct {
	circuit    *Circuit
	healthURL  string
	httpClient *http.Client
	redis      *redis.Client
	owner      string
	interval   time.Duration
	floor      time.Duration
	logger     *zap.Logger
}

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	// EndpointURL is the processor's settlement URL; the probe targets EndpointURL + "/service-health".
	EndpointURL string
	Interval    time.Duration
	Floor       time.Duration
	Timeout     time.Duration
	// Redis enables cross-process sharing of probe results. Optional.
	Redis *redis.Client
	// Owner identifies this process in the probe lock.
	Owner  string
	Logger *zap.Logger
}

// NewMonitor builds a monitor for circuit. Timeout is capped at Interval.
func NewMonitor(circuit *Circuit, opts MonitorOptions) *Monitor {
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	timeout := opts.Timeout
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		circuit:    circuit,
		healthURL:  strings.TrimRight(opts.EndpointURL, "/") + "/service-health",
		httpClient: &http.Client{Timeout: timeout},
		redis:      opts.Redis,
		owner:      opts.Owner,
		interval:   interval,
		floor:      opts.Floor,
		logger:     logger.With(zap.String("processor", circuit.Name())),
	}
}

// Run ticks immediately and then every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("health monitor started", zap.Duration("interval", m.interval), zap.String("url", m.healthURL))
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.Tick(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick performs one monitoring round. Failures are logged and leave the
// current circuit state untouched.
func (m *Monitor) Tick(ctx context.Context) {
	if m.redis != nil {
		won, err := m.redis.SetNX(ctx, m.lockKey(), m.owner, m.lockTTL()).Result()
		if err != nil {
			m.logger.Warn("probe lock unavailable, probing locally", zap.Error(err))
		} else if !won {
			m.adoptShared(ctx)
			return
		}
	}

	state, err := m.probe(ctx)
	if err != nil {
		telemetry.ProbeFailures.WithLabelValues(m.circuit.Name()).Inc()
		m.logger.Warn("health probe failed, keeping previous circuit state", zap.Error(err))
		return
	}
	m.publish(state)
	if m.redis != nil {
		m.share(ctx, state)
	}
}

// lockTTL is shorter than the interval, so the lock taken a little after one
// tick has expired by the next one.
func (m *Monitor) lockTTL() time.Duration { return m.interval - m.interval/10 }

func (m *Monitor) lockKey() string  { return keyPrefix + m.circuit.Name() + ":probe" }
func (m *Monitor) stateKey() string { return keyPrefix + m.circuit.Name() }

type healthResponse struct {
	Failing         bool  `json:"failing"`
	MinResponseTime int64 `json:"minResponseTime"`
}

func (m *Monitor) probe(ctx context.Context) (CircuitState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.healthURL, nil)
	if err != nil {
		return CircuitState{}, fmt.Errorf("build probe: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return CircuitState{}, fmt.Errorf("probe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return CircuitState{}, fmt.Errorf("probe: status %d", resp.StatusCode)
	}
	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return CircuitState{}, fmt.Errorf("decode probe: %w", err)
	}
	return CircuitState{
		Failing:     body.Failing,
		PacingDelay: PacingFor(time.Duration(body.MinResponseTime)*time.Millisecond, m.floor),
		UpdatedAt:   time.Now(),
		Source:      SourceProbe,
	}, nil
}

func (m *Monitor) publish(state CircuitState) {
	prev := m.circuit.Load()
	m.circuit.Publish(state)
	failing := 0.0
	if state.Failing {
		failing = 1
	}
	telemetry.CircuitFailing.WithLabelValues(m.circuit.Name()).Set(failing)
	if prev.Failing != state.Failing {
		m.logger.Info("circuit state changed",
			zap.Bool("failing", state.Failing),
			zap.Duration("pacing_delay", state.PacingDelay),
			zap.String("source", string(state.Source)))
	}
}

func (m *Monitor) share(ctx context.Context, state CircuitState) {
	b, err := json.Marshal(state)
	if err != nil {
		m.logger.Warn("encode shared circuit state", zap.Error(err))
		return
	}
	if err := m.redis.Set(ctx, m.stateKey(), b, 3*m.interval).Err(); err != nil {
		m.logger.Warn("share circuit state", zap.Error(err))
	}
}

func (m *Monitor) adoptShared(ctx context.Context) {
	b, err := m.redis.Get(ctx, m.stateKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return
	}
	if err != nil {
		m.logger.Warn("read shared circuit state", zap.Error(err))
		return
	}
	var state CircuitState
	if err := json.Unmarshal(b, &state); err != nil {
		m.logger.Warn("decode shared circuit state", zap.Error(err))
		return
	}
	// Re-publishing the same probe result on every tick is pointless.
	if cur := m.circuit.Load(); cur.Source != SourceHint && cur.UpdatedAt.Equal(state.UpdatedAt) {
		return
	}
	state.Source = SourceShared
	m.publish(state)
}
