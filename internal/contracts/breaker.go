package contracts

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// BreakerResult is the outcome of one circuit-breaker-guarded call.
type BreakerResult struct {
	Value interface{}
	Error error
}

// BreakerFactory creates and manages one circuit breaker per energy
// category, guarding contract execute. A tripped category fails its
// matches fast without touching the other categories' execute paths.
type BreakerFactory struct {
	logger   *zap.Logger
	breakers map[string]*gobreaker.CircuitBreaker
	settings map[string]gobreaker.Settings
	mu       sync.RWMutex
	metrics  *BreakerMetrics
}

// BreakerFactoryParams is the fx constructor's parameter object.
type BreakerFactoryParams struct {
	fx.In

	Logger *zap.Logger
}

// NewBreakerFactory builds a BreakerFactory.
func NewBreakerFactory(params BreakerFactoryParams) *BreakerFactory {
	return &BreakerFactory{
		logger:   params.Logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		settings: make(map[string]gobreaker.Settings),
		metrics:  NewBreakerMetrics(),
	}
}

// DefaultSettings returns the breaker policy used when a category hasn't
// set custom settings: trip after 3 consecutive failures.
func DefaultSettings(name string, logger *zap.Logger, metrics *BreakerMetrics) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("contract execute breaker state change",
				zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
			metrics.RecordStateChange(name, from.String(), to.String())
		},
	}
}

// GetCircuitBreaker gets or lazily creates the breaker for name using
// DefaultSettings.
func (f *BreakerFactory) GetCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	f.mu.RLock()
	cb, exists := f.breakers[name]
	f.mu.RUnlock()
	if exists {
		return cb
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, exists = f.breakers[name]; exists {
		return cb
	}

	settings := DefaultSettings(name, f.logger, f.metrics)
	cb = gobreaker.NewCircuitBreaker(settings)
	f.breakers[name] = cb
	f.settings[name] = settings
	return cb
}

// Execute runs fn behind name's breaker, recording latency and
// success/failure into the factory's metrics.
func (f *BreakerFactory) Execute(name string, fn func() (interface{}, error)) BreakerResult {
	cb := f.GetCircuitBreaker(name)

	start := time.Now()
	result, err := cb.Execute(fn)
	f.metrics.RecordExecution(name, err == nil, time.Since(start))

	return BreakerResult{Value: result, Error: err}
}

// ExecuteWithContext is Execute for a context-bound fn.
func (f *BreakerFactory) ExecuteWithContext(ctx context.Context, name string, fn func(ctx context.Context) (interface{}, error)) BreakerResult {
	return f.Execute(name, func() (interface{}, error) { return fn(ctx) })
}

// State returns the current state of name's breaker, or closed if it
// has never been created.
func (f *BreakerFactory) State(name string) gobreaker.State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	cb, ok := f.breakers[name]
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

// BreakerMetrics tracks per-category execution counts, latencies and
// state transitions for the analytics aggregator and operator tooling.
type BreakerMetrics struct {
	mu sync.RWMutex

	executions map[string]int64
	successes  map[string]int64
	failures   map[string]int64

	executionTimes map[string][]time.Duration
	stateChanges   map[string]map[string]map[string]int64
}

// NewBreakerMetrics builds an empty BreakerMetrics.
func NewBreakerMetrics() *BreakerMetrics {
	return &BreakerMetrics{
		executions:     make(map[string]int64),
		successes:      make(map[string]int64),
		failures:       make(map[string]int64),
		executionTimes: make(map[string][]time.Duration),
		stateChanges:   make(map[string]map[string]map[string]int64),
	}
}

func (m *BreakerMetrics) RecordExecution(name string, success bool, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.executions[name]++
	if success {
		m.successes[name]++
	} else {
		m.failures[name]++
	}

	times := append(m.executionTimes[name], duration)
	if len(times) > 100 {
		times = times[1:]
	}
	m.executionTimes[name] = times
}

func (m *BreakerMetrics) RecordStateChange(name, from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.stateChanges[name]; !ok {
		m.stateChanges[name] = make(map[string]map[string]int64)
	}
	if _, ok := m.stateChanges[name][from]; !ok {
		m.stateChanges[name][from] = make(map[string]int64)
	}
	m.stateChanges[name][from][to]++
}

// SuccessRate returns name's fraction of successful executions, or zero
// if it has never run.
func (m *BreakerMetrics) SuccessRate(name string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := m.executions[name]
	if total == 0 {
		return 0
	}
	return float64(m.successes[name]) / float64(total)
}

// AverageExecutionTime returns name's mean recorded execution duration
// over its last 100 calls.
func (m *BreakerMetrics) AverageExecutionTime(name string) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	times := m.executionTimes[name]
	if len(times) == 0 {
		return 0
	}
	var sum time.Duration
	for _, t := range times {
		sum += t
	}
	return sum / time.Duration(len(times))
}
