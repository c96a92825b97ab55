package health

import (
	"sync/atomic"
	"time"
)

// Source records who last wrote a circuit state.
type Source string

const (
	SourceInitial Source = "initial"
	SourceProbe   Source = "probe"
	SourceShared  Source = "shared"
	SourceHint    Source = "hint"
)

// CircuitState is the believed health of one processor. Values are immutable;
// writers publish a fresh value into the Circuit cell.
type CircuitState struct {
	Failing     bool          `json:"failing"`
	PacingDelay time.Duration `json:"pacingDelay"`
	UpdatedAt   time.Time     `json:"updatedAt"`
	Source      Source        `json:"source"`
}

// Circuit is a single-writer, multi-reader cell holding the current CircuitState.
// The Monitor is the authoritative writer; the gateway may only raise a hint,
// which the Monitor's next successful probe overwrites.
type Circuit struct {
	name  string
	floor time.Duration
	state atomic.Pointer[CircuitState]
}

// NewCircuit starts closed with the pacing floor as its delay.
func NewCircuit(name string, floor time.Duration) *Circuit {
	c := &Circuit{name: name, floor: floor}
	c.state.Store(&CircuitState{PacingDelay: floor, UpdatedAt: time.Now(), Source: SourceInitial})
	return c
}

// Name is the processor this circuit tracks.
func (c *Circuit) Name() string { return c.name }

// Load returns the current state.
func (c *Circuit) Load() CircuitState {
	return *c.state.Load()
}

// Publish replaces the state.
func (c *Circuit) Publish(s CircuitState) {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}
	c.state.Store(&s)
}

// Hint marks the processor as possibly failing after a 5xx answer, keeping the
// current pacing delay. It never clears a failing flag.
func (c *Circuit) Hint() {
	old := c.state.Load()
	if old.Failing {
		return
	}
	next := *old
	next.Failing = true
	next.Source = SourceHint
	next.UpdatedAt = time.Now()
	// A concurrent Publish wins: losing the swap drops the hint.
	c.state.CompareAndSwap(old, &next)
}

// PacingFor derives the pacing delay from a reported minimum response time:
// 1.5x the larger of the report and the floor.
func PacingFor(minResponse, floor time.Duration) time.Duration {
	d := minResponse
	if floor > d {
		d = floor
	}
	return d * 3 / 2
}
