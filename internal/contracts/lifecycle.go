// Package contracts implements the contract lifecycle. Every match
// produced by the matching engine becomes a Contract here, carried
// through deploy, execute and verify with latency accounting, with
// execution guarded by a per-category circuit breaker and run on a
// bounded worker pool off the matching writer.
package contracts

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/panjf2000/ants/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/astroleaf/ecoflux-exchange/internal/domain"
	"github.com/astroleaf/ecoflux-exchange/internal/engineerrors"
	"github.com/astroleaf/ecoflux-exchange/internal/hashutil"
)

// Lifecycle owns every contract ever created and drives it through
// pending -> active -> (completed | failed), plus verification.
type Lifecycle struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.RWMutex
	contracts map[string]*domain.Contract

	verifyCache *lru.Cache // key: id+":"+txHash -> bool

	verifyMu        sync.Mutex
	verifyLatencies []time.Duration

	pool          *ants.Pool
	breakers      *BreakerFactory
	executePanics int64

	// failInjector, when set, lets tests force a contract's execute to
	// fail deterministically instead of wiring a real fault into the
	// gas-draw goroutine.
	failInjector func(contractID string) error
}

// SetFailInjector installs a hook consulted at the start of every
// execute; it's a test seam, not a production code path.
func (l *Lifecycle) SetFailInjector(f func(contractID string) error) {
	l.failInjector = f
}

// TryAbort atomically transitions a contract from pending to failed, if
// it hasn't already moved past pending. It's the mechanism a racing
// cancellation uses to win against an in-flight deploy: the loser of
// the race observes a non-pending state and must not proceed.
func (l *Lifecycle) TryAbort(contractID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.contracts[contractID]
	if !ok || c.State != domain.ContractPending {
		return false
	}
	c.State = domain.ContractFailed
	c.FailureReason = "aborted: counterparty cancelled before deploy"
	return true
}

// New builds a Lifecycle with its verification cache, executor pool and
// per-category circuit breakers.
func New(logger *zap.Logger, cfg Config) (*Lifecycle, error) {
	cache, err := lru.New(cfg.VerifyCacheCapacity)
	if err != nil {
		return nil, engineerrors.Wrap(err, engineerrors.Conflict, "failed to size verification cache")
	}

	l := &Lifecycle{
		cfg:         cfg,
		logger:      logger,
		contracts:   make(map[string]*domain.Contract),
		verifyCache: cache,
		breakers:    NewBreakerFactory(BreakerFactoryParams{Logger: logger}),
	}

	pool, err := ants.NewPool(cfg.ExecutorPoolSize, ants.WithOptions(ants.Options{
		ExpiryDuration:   10 * time.Minute,
		PreAlloc:         true,
		MaxBlockingTasks: 1000,
		Nonblocking:      false,
		PanicHandler: func(v interface{}) {
			logger.Error("contract execute task panicked", zap.Any("panic", v))
			atomic.AddInt64(&l.executePanics, 1)
		},
	}))
	if err != nil {
		return nil, engineerrors.Wrap(err, engineerrors.Conflict, "failed to start execute worker pool")
	}
	l.pool = pool

	return l, nil
}

// ExecutePanics returns how many execute tasks have panicked and been
// recovered by the pool's panic handler.
func (l *Lifecycle) ExecutePanics() int64 {
	return atomic.LoadInt64(&l.executePanics)
}

// Close releases the executor pool.
func (l *Lifecycle) Close() {
	l.pool.Release()
}

// BreakerMetrics exposes the per-category breaker metrics for the
// analytics aggregator and operator tooling.
func (l *Lifecycle) BreakerMetrics() *BreakerMetrics {
	return l.breakers.metrics
}

// Create builds a new pending contract for one match. The txHash is
// computed deterministically over the contract's immutable fields and
// never changes for the life of the contract.
func (l *Lifecycle) Create(buyerUserID, sellerUserID string, category domain.Category, quantity, executionPrice float64) *domain.Contract {
	now := time.Now()
	c := &domain.Contract{
		ID:             uuid.NewString(),
		BuyerUserID:    buyerUserID,
		SellerUserID:   sellerUserID,
		Category:       category,
		Quantity:       quantity,
		ExecutionPrice: executionPrice,
		TotalValue:     quantity * executionPrice,
		State:          domain.ContractPending,
		Verification:   domain.VerificationUnverified,
		CreatedAt:      now,
	}
	c.TxHash = hashutil.TxHash(buyerUserID, sellerUserID, category, quantity, executionPrice, now)

	l.mu.Lock()
	l.contracts[c.ID] = c
	l.mu.Unlock()

	return c
}

// Deploy transitions a contract pending -> active. Idempotent: deploying
// an already-active contract just returns its stable txHash.
func (l *Lifecycle) Deploy(contractID string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.contracts[contractID]
	if !ok {
		return "", engineerrors.Newf(engineerrors.NotFound, "contract %q not found", contractID)
	}

	switch c.State {
	case domain.ContractActive:
		return c.TxHash, nil
	case domain.ContractPending:
		now := time.Now()
		c.State = domain.ContractActive
		c.DeployedAt = &now
		return c.TxHash, nil
	default:
		return "", engineerrors.Newf(engineerrors.Conflict, "contract %q cannot deploy from state %s", contractID, c.State)
	}
}

// ExecuteResult is the outcome of an asynchronous Execute call.
type ExecuteResult struct {
	Contract *domain.Contract
	Err      error
}

// ExecuteAsync runs Execute on the contract's worker pool so the matching
// writer never blocks inside its critical section while a contract
// executes. The result arrives on the returned channel exactly once.
func (l *Lifecycle) ExecuteAsync(contractID string, category domain.Category) <-chan ExecuteResult {
	out := make(chan ExecuteResult, 1)
	err := l.pool.Submit(func() {
		// A panicking task must still answer its caller before the
		// pool's panic handler takes over, or the waiting writer would
		// block forever.
		defer func() {
			if r := recover(); r != nil {
				_ = l.Fail(contractID, "execute panicked")
				out <- ExecuteResult{Err: engineerrors.Newf(engineerrors.ContractExecutionFailed, "contract execute panicked: %v", r)}
				panic(r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), l.cfg.ExecuteTimeout)
		defer cancel()
		c, execErr := l.execute(ctx, contractID, category)
		out <- ExecuteResult{Contract: c, Err: execErr}
	})
	if err != nil {
		out <- ExecuteResult{Err: engineerrors.Wrap(err, engineerrors.Conflict, "failed to submit execute task")}
	}
	return out
}

// execute runs the contract's simulated blockchain execution behind a
// per-category circuit breaker, bounded by ctx's deadline.
func (l *Lifecycle) execute(ctx context.Context, contractID string, category domain.Category) (*domain.Contract, error) {
	res := l.breakers.ExecuteWithContext(ctx, string(category), func(ctx context.Context) (interface{}, error) {
		return l.doExecute(ctx, contractID)
	})
	if res.Error != nil {
		if res.Error == gobreaker.ErrOpenState || res.Error == gobreaker.ErrTooManyRequests {
			return nil, engineerrors.Wrap(res.Error, engineerrors.Conflict, "contract execute circuit open for category "+string(category))
		}
		return nil, res.Error
	}
	return res.Value.(*domain.Contract), nil
}

func (l *Lifecycle) doExecute(ctx context.Context, contractID string) (*domain.Contract, error) {
	l.mu.Lock()
	c, ok := l.contracts[contractID]
	if !ok {
		l.mu.Unlock()
		return nil, engineerrors.Newf(engineerrors.NotFound, "contract %q not found", contractID)
	}
	if c.State != domain.ContractActive {
		l.mu.Unlock()
		return nil, engineerrors.Newf(engineerrors.Conflict, "contract %q not active (state %s)", contractID, c.State)
	}
	l.mu.Unlock()

	if l.failInjector != nil {
		if injErr := l.failInjector(contractID); injErr != nil {
			l.mu.Lock()
			c.State = domain.ContractFailed
			c.FailureReason = injErr.Error()
			l.mu.Unlock()
			return nil, engineerrors.Wrap(injErr, engineerrors.ContractExecutionFailed, "contract execute failed")
		}
	}

	start := time.Now()
	done := make(chan struct{})
	var gas float64
	go func() {
		// The measured work itself: gas draw plus bookkeeping. No
		// artificial sleep is injected; execution duration reflects
		// real work time.
		gas = l.cfg.GasRangeMinEth + rand.Float64()*(l.cfg.GasRangeMaxEth-l.cfg.GasRangeMinEth)
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		l.mu.Lock()
		c.State = domain.ContractFailed
		c.FailureReason = "execute timed out"
		l.mu.Unlock()
		return nil, engineerrors.New(engineerrors.Timeout, "contract execute exceeded budget")
	}

	duration := time.Since(start)

	l.mu.Lock()
	now := time.Now()
	c.ExecutedAt = &now
	c.ExecutionDurationNanos = int64(duration)
	c.GasUsed = gas
	c.State = domain.ContractCompleted
	l.mu.Unlock()

	return c, nil
}

// Verify checks whether txHash authenticates contractID, caching the
// answer by the (id, txHash) pair so repeated calls are idempotent and
// cheap. A cache hit skips re-evaluation entirely.
func (l *Lifecycle) Verify(contractID, txHash string) (bool, time.Duration, error) {
	key := contractID + ":" + txHash
	if cached, ok := l.verifyCache.Get(key); ok {
		return cached.(bool), 0, nil
	}

	l.mu.Lock()
	c, ok := l.contracts[contractID]
	l.mu.Unlock()
	if !ok {
		return false, 0, engineerrors.Newf(engineerrors.NotFound, "contract %q not found", contractID)
	}

	start := time.Now()
	valid := hashutil.VerifyHash(contractID, txHash)
	latency := time.Since(start)

	l.verifyCache.Add(key, valid)

	l.mu.Lock()
	if valid {
		c.Verification = domain.VerificationVerified
	} else {
		c.Verification = domain.VerificationFailed
	}
	l.mu.Unlock()

	l.verifyMu.Lock()
	l.verifyLatencies = append(l.verifyLatencies, latency)
	l.verifyMu.Unlock()

	if !valid {
		return false, latency, engineerrors.New(engineerrors.VerificationMismatch, "txHash does not authenticate contract")
	}
	return true, latency, nil
}

// BatchVerify verifies each id against its corresponding txHash,
// preserving input order.
func (l *Lifecycle) BatchVerify(ids, txHashes []string) []bool {
	out := make([]bool, len(ids))
	for i := range ids {
		ok, _, _ := l.Verify(ids[i], txHashes[i])
		out[i] = ok
	}
	return out
}

// Fail marks a contract failed with a reason, used when the matching
// engine aborts a match outside of Execute itself (e.g. the counterparty
// was cancelled mid-flight).
func (l *Lifecycle) Fail(contractID, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.contracts[contractID]
	if !ok {
		return engineerrors.Newf(engineerrors.NotFound, "contract %q not found", contractID)
	}
	c.State = domain.ContractFailed
	c.FailureReason = reason
	return nil
}

// Get returns a defensive copy of the contract with the given id.
func (l *Lifecycle) Get(id string) (*domain.Contract, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.contracts[id]
	if !ok {
		return nil, engineerrors.Newf(engineerrors.NotFound, "contract %q not found", id)
	}
	return c.Clone(), nil
}

// All returns a snapshot copy of every contract, for analytics scans.
func (l *Lifecycle) All() []*domain.Contract {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*domain.Contract, 0, len(l.contracts))
	for _, c := range l.contracts {
		out = append(out, c.Clone())
	}
	return out
}

// VerifyLatencies returns every measured verify latency recorded so far,
// feeding the analytics aggregator's verification reduction metric.
func (l *Lifecycle) VerifyLatencies() []time.Duration {
	l.verifyMu.Lock()
	defer l.verifyMu.Unlock()
	out := make([]time.Duration, len(l.verifyLatencies))
	copy(out, l.verifyLatencies)
	return out
}

// EstimateGas estimates the simulated deployment cost for a prospective
// contract: an administrative helper independent of the executed
// contract's actual (randomly drawn) gas usage.
func EstimateGas(quantity, price float64, cfg Config) float64 {
	complexity := (quantity * price) / 1000
	base := cfg.GasRangeMinEth
	return base + complexity*(cfg.GasRangeMaxEth-cfg.GasRangeMinEth)
}
