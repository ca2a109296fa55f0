// Package matching implements the continuous double-auction matching
// engine: it accepts submissions, enforces validation, matches against
// the order book, drives order and contract state transitions, and
// emits events for every significant one. Each energy category gets its
// own writer goroutine, so matching within a category is strictly
// serialized while categories proceed independently.
package matching

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/astroleaf/ecoflux-exchange/internal/contracts"
	"github.com/astroleaf/ecoflux-exchange/internal/domain"
	"github.com/astroleaf/ecoflux-exchange/internal/engineerrors"
	"github.com/astroleaf/ecoflux-exchange/internal/events"
	"github.com/astroleaf/ecoflux-exchange/internal/monitoring"
	"github.com/astroleaf/ecoflux-exchange/internal/orderbook"
	"github.com/astroleaf/ecoflux-exchange/internal/registry"
)

// Engine wires the order book, registry and contract lifecycle together
// behind one writer goroutine per category. No operation ever holds two
// categories' writers at once, and no writer ever blocks on contract
// execute — that work is hatched onto the lifecycle's worker pool and
// rejoins the writer later as a finalize job.
type Engine struct {
	cfg      Config
	logger   *zap.Logger
	book     *orderbook.Book
	registry *registry.Registry
	lc       *contracts.Lifecycle
	sink     events.Sink
	metrics  *monitoring.Collector

	queues map[domain.Category]chan job

	haltedMu sync.RWMutex
	halted   map[domain.Category]bool

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds an Engine and starts one writer goroutine per category.
func New(cfg Config, logger *zap.Logger, book *orderbook.Book, reg *registry.Registry, lc *contracts.Lifecycle, sink events.Sink, metrics *monitoring.Collector) *Engine {
	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		book:     book,
		registry: reg,
		lc:       lc,
		sink:     sink,
		metrics:  metrics,
		queues:   make(map[domain.Category]chan job, len(domain.Categories)),
		halted:   make(map[domain.Category]bool, len(domain.Categories)),
		stopCh:   make(chan struct{}),
	}
	for _, c := range domain.Categories {
		q := make(chan job, cfg.QueueDepth)
		e.queues[c] = q
		e.wg.Add(1)
		go e.writerLoop(c, q)
	}
	return e
}

// Close stops every writer goroutine. In-flight finalize jobs posted
// after Close has begun are dropped; callers should drain the contract
// lifecycle's own worker pool first.
func (e *Engine) Close() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

func (e *Engine) isHalted(category domain.Category) bool {
	e.haltedMu.RLock()
	defer e.haltedMu.RUnlock()
	return e.halted[category]
}

func (e *Engine) halt(category domain.Category, reason string) {
	e.haltedMu.Lock()
	e.halted[category] = true
	e.haltedMu.Unlock()
	e.logger.Error("category writer halted, refusing further submissions",
		zap.String("category", string(category)), zap.String("reason", reason))
}

// Resume clears a halted category. Halting is deliberately sticky —
// only an operator decision reopens a category whose execute path
// tripped its breaker.
func (e *Engine) Resume(category domain.Category) {
	e.haltedMu.Lock()
	delete(e.halted, category)
	e.haltedMu.Unlock()
}

// Submit admits a validated order into its category's writer queue and
// blocks until it has either rested in the book or matched.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (orderID string, matched bool, err error) {
	if err := validateSubmit(req); err != nil {
		return "", false, err
	}

	ctx, cancel := e.boundCtx(ctx)
	defer cancel()

	category := domain.Category(req.Category)
	side := domain.Side(req.Side)

	if e.isHalted(category) {
		return "", false, engineerrors.Newf(engineerrors.Conflict, "category %q is halted", category)
	}

	q, ok := e.queues[category]
	if !ok {
		return "", false, engineerrors.Newf(engineerrors.Validation, "unknown category %q", category)
	}

	j := job{
		kind:       jobSubmit,
		side:       side,
		quantity:   req.Quantity,
		limitPrice: req.LimitPrice,
		userID:     req.UserID,
		resultCh:   make(chan jobResult, 1),
	}

	select {
	case q <- j:
	case <-ctx.Done():
		return "", false, engineerrors.Wrap(ctx.Err(), engineerrors.Timeout, "submit queue full or caller cancelled")
	}

	select {
	case res := <-j.resultCh:
		return res.orderID, res.matched, res.err
	case <-ctx.Done():
		return "", false, engineerrors.Wrap(ctx.Err(), engineerrors.Timeout, "submit timed out waiting for writer")
	}
}

// Cancel requests cancellation of an order, routed to its category's
// writer so the decision is serialized against any in-flight match for
// the same order.
func (e *Engine) Cancel(ctx context.Context, orderID string) (bool, error) {
	o, err := e.registry.Get(orderID)
	if err != nil {
		return false, err
	}

	ctx, cancel := e.boundCtx(ctx)
	defer cancel()

	q, ok := e.queues[o.Category]
	if !ok {
		return false, engineerrors.Newf(engineerrors.Validation, "unknown category %q", o.Category)
	}

	j := job{kind: jobCancel, orderID: orderID, resultCh: make(chan jobResult, 1)}

	select {
	case q <- j:
	case <-ctx.Done():
		return false, engineerrors.Wrap(ctx.Err(), engineerrors.Timeout, "cancel queue full or caller cancelled")
	}

	select {
	case res := <-j.resultCh:
		return res.cancelled, res.err
	case <-ctx.Done():
		return false, engineerrors.Wrap(ctx.Err(), engineerrors.Timeout, "cancel timed out waiting for writer")
	}
}

// boundCtx caps how long Submit/Cancel wait on their writer, so a
// wedged category fails callers fast instead of piling them up.
func (e *Engine) boundCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.SubmitTimeoutMs <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, time.Duration(e.cfg.SubmitTimeoutMs)*time.Millisecond)
}

func (e *Engine) enqueueFinalize(category domain.Category, j job) {
	q, ok := e.queues[category]
	if !ok {
		return
	}
	select {
	case q <- j:
	case <-e.stopCh:
	}
}

// writerLoop is the single writer for one category: every submit,
// cancel and finalize job for that category passes through here, one at
// a time, in arrival order.
func (e *Engine) writerLoop(category domain.Category, q chan job) {
	defer e.wg.Done()
	for {
		select {
		case j := <-q:
			e.process(category, j)
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) process(category domain.Category, j job) {
	switch j.kind {
	case jobSubmit:
		orderID, matched, err := e.handleSubmit(category, j)
		j.resultCh <- jobResult{orderID: orderID, matched: matched, err: err}
	case jobCancel:
		cancelled, err := e.handleCancel(category, j.orderID)
		j.resultCh <- jobResult{cancelled: cancelled, err: err}
	case jobFinalize:
		e.handleFinalize(category, j)
	}
}

func (e *Engine) handleSubmit(category domain.Category, j job) (string, bool, error) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.RecordSubmit(string(category), string(j.side), time.Since(start))
		}
	}()

	now := time.Now()
	order := &domain.Order{
		ID:         uuid.NewString(),
		Side:       j.side,
		Category:   category,
		Quantity:   j.quantity,
		LimitPrice: j.limitPrice,
		UserID:     j.userID,
		CreatedAt:  now,
		UpdatedAt:  now,
		State:      domain.OrderPending,
	}
	e.registry.Create(order)

	oppSide := j.side.Opposite()
	bestID, bestPrice, _, ok := e.book.PeekBest(category, oppSide)

	if ok && priceCompatible(j.side, j.limitPrice, bestPrice) {
		counterparty, err := e.registry.Get(bestID)
		if err == nil && counterparty.Quantity == order.Quantity {
			e.book.Remove(category, oppSide, bestID)
			e.stageMatch(category, order, counterparty)
			return order.ID, true, nil
		}
	}

	if err := e.book.Insert(category, j.side, order.ID, j.limitPrice, now, j.quantity); err != nil {
		return "", false, err
	}
	e.publish(events.NewOrderAdmitted(order.ID, string(category), string(j.side)))
	return order.ID, false, nil
}

// priceCompatible reports whether a resting order at bestPrice crosses
// an incoming order at limitPrice: a buy crosses a resting ask at or
// below its limit; a sell crosses a resting bid at or above.
func priceCompatible(incomingSide domain.Side, limitPrice, bestPrice float64) bool {
	if incomingSide == domain.SideBuy {
		return bestPrice <= limitPrice
	}
	return bestPrice >= limitPrice
}

// stageMatch records the match, creates the pending contract and emits
// OrderMatched, then hands the contract off to an async deploy/execute
// goroutine so the writer is free for the next job immediately. The
// counterparty stays matched, never re-enters the book, until a finalize
// job (success or failure) or a racing cancellation resolves it.
func (e *Engine) stageMatch(category domain.Category, incoming, counterparty *domain.Order) {
	var buyOrder, sellOrder *domain.Order
	if incoming.Side == domain.SideBuy {
		buyOrder, sellOrder = incoming, counterparty
	} else {
		buyOrder, sellOrder = counterparty, incoming
	}

	executionPrice := (buyOrder.LimitPrice + sellOrder.LimitPrice) / 2

	if err := e.registry.RecordMatch(incoming.ID, counterparty.ID); err != nil {
		e.logger.Error("failed to record match", zap.Error(err))
		return
	}

	contract := e.lc.Create(buyOrder.UserID, sellOrder.UserID, category, incoming.Quantity, executionPrice)

	e.publish(events.NewOrderMatched(buyOrder.ID, sellOrder.ID, contract.ID, executionPrice, incoming.Quantity))
	if e.metrics != nil {
		e.metrics.RecordMatch(string(category))
	}

	e.wg.Add(1)
	go e.settle(category, contract.ID, buyOrder.ID, sellOrder.ID)
}

// settle runs entirely off the writer: deploy, then execute, then post
// whatever happened back to the category's writer as a finalize job. If
// a racing cancellation already aborted the contract, Deploy fails and
// settle posts nothing — the cancel job already resolved both orders.
func (e *Engine) settle(category domain.Category, contractID, buyOrderID, sellOrderID string) {
	defer e.wg.Done()

	txHash, err := e.lc.Deploy(contractID)
	if err != nil {
		e.logger.Info("contract deploy aborted, counterparty likely cancelled",
			zap.String("contract_id", contractID), zap.Error(err))
		return
	}
	e.publish(events.NewContractDeployed(contractID, txHash))
	if e.metrics != nil {
		e.metrics.RecordDeploy(string(category))
	}

	resCh := e.lc.ExecuteAsync(contractID, category)
	res := <-resCh

	e.enqueueFinalize(category, job{
		kind:        jobFinalize,
		contractID:  contractID,
		buyOrderID:  buyOrderID,
		sellOrderID: sellOrderID,
		execResult:  res,
	})
}

func (e *Engine) handleFinalize(category domain.Category, j job) {
	buyOrder, errB := e.registry.Get(j.buyOrderID)
	sellOrder, errS := e.registry.Get(j.sellOrderID)
	if errB != nil || errS != nil {
		return
	}
	// A racing cancellation may already have resolved one side (e.g. to
	// cancelled) before execute returned; finalize is then a no-op.
	if buyOrder.State != domain.OrderMatched || sellOrder.State != domain.OrderMatched {
		return
	}

	if j.execResult.Err == nil {
		latency := j.execResult.Contract.ExecutionDuration()
		_ = e.registry.RecordCompletion(j.buyOrderID, j.contractID, latency)
		_ = e.registry.RecordCompletion(j.sellOrderID, j.contractID, latency)
		e.publish(events.NewContractExecuted(j.contractID, latency.Milliseconds(), j.execResult.Contract.GasUsed))
		if e.metrics != nil {
			e.metrics.RecordCompletion(string(category))
			e.metrics.RecordExecute(string(category), latency, false)
		}
		return
	}

	reason := j.execResult.Err.Error()
	_ = e.registry.RevertToPending(j.buyOrderID, j.sellOrderID)
	_ = e.lc.Fail(j.contractID, reason)
	e.reinsertAfterRevert(category, j.buyOrderID)
	e.reinsertAfterRevert(category, j.sellOrderID)
	e.publish(events.NewContractFailed(j.contractID, reason))
	if e.metrics != nil {
		e.metrics.RecordExecute(string(category), 0, true)
	}

	if engineerrors.GetCode(j.execResult.Err) == engineerrors.Conflict {
		e.halt(category, fmt.Sprintf("contract %s execute circuit open", j.contractID))
	}
}

func (e *Engine) reinsertAfterRevert(category domain.Category, orderID string) {
	o, err := e.registry.Get(orderID)
	if err != nil {
		return
	}
	if err := e.book.Insert(category, o.Side, o.ID, o.LimitPrice, o.CreatedAt, o.Quantity); err != nil {
		e.logger.Error("failed to reinsert reverted order", zap.String("order_id", orderID), zap.Error(err))
	}
}

func (e *Engine) handleCancel(category domain.Category, orderID string) (bool, error) {
	order, err := e.registry.Get(orderID)
	if err != nil {
		return false, err
	}
	if !order.CanCancel() {
		if order.State == domain.OrderCancelled {
			return false, engineerrors.New(engineerrors.AlreadyCancelled, "order already cancelled")
		}
		return false, engineerrors.New(engineerrors.NotCancellable, "order cannot be cancelled in its current state")
	}

	if order.State == domain.OrderPending {
		e.book.Remove(category, order.Side, orderID)
		if err := e.registry.SetState(orderID, domain.OrderCancelled); err != nil {
			return false, err
		}
		e.publish(events.NewOrderCancelled(orderID))
		if e.metrics != nil {
			e.metrics.RecordCancel(string(category))
		}
		return true, nil
	}

	// order.State == domain.OrderMatched: only cancellable while its
	// contract has not yet reached active.
	contract, err := e.lc.Get(order.ContractID)
	if err != nil {
		return false, engineerrors.New(engineerrors.NotCancellable, "matched order has no resolvable contract")
	}
	if contract.State != domain.ContractPending {
		return false, engineerrors.New(engineerrors.NotCancellable, "contract already left pending, cancellation lost the race")
	}
	if !e.lc.TryAbort(order.ContractID) {
		return false, engineerrors.New(engineerrors.NotCancellable, "contract already left pending, cancellation lost the race")
	}

	counterpartyID := order.MatchedWith
	if err := e.registry.RevertToPending(orderID, counterpartyID); err != nil {
		return false, err
	}
	if err := e.registry.SetState(orderID, domain.OrderCancelled); err != nil {
		return false, err
	}
	e.reinsertAfterRevert(category, counterpartyID)
	e.publish(events.NewContractFailed(order.ContractID, "counterparty cancelled before deploy"))
	e.publish(events.NewOrderCancelled(orderID))
	if e.metrics != nil {
		e.metrics.RecordCancel(string(category))
	}
	return true, nil
}

func (e *Engine) publish(evt events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.sink.Publish(ctx, evt); err != nil {
		e.logger.Warn("failed to publish event", zap.String("event_type", string(evt.Type)), zap.Error(err))
	}
}

// OrderBookSnapshot returns a copy-on-read view of one category's book.
func (e *Engine) OrderBookSnapshot(category domain.Category) (orderbook.Snapshot, error) {
	return e.book.Snapshot(category)
}

// QueryOrder returns a defensive copy of one order's current state.
func (e *Engine) QueryOrder(orderID string) (*domain.Order, error) {
	return e.registry.Get(orderID)
}

// ListOrders narrows the registry by state/user, capped at 200 rows.
func (e *Engine) ListOrders(f registry.Filter) []*domain.Order {
	return e.registry.List(f)
}

// VerifyContract checks a txHash against a contract and reports the
// outcome to the event sink.
func (e *Engine) VerifyContract(contractID, txHash string) (bool, time.Duration, error) {
	ok, latency, err := e.lc.Verify(contractID, txHash)
	if err != nil && engineerrors.GetCode(err) == engineerrors.NotFound {
		return ok, latency, err
	}
	e.publish(events.NewContractVerified(contractID, ok))
	if e.metrics != nil {
		if c, getErr := e.lc.Get(contractID); getErr == nil {
			e.metrics.RecordVerify(string(c.Category), latency)
		}
	}
	return ok, latency, err
}

// BatchVerifyContracts verifies each (id, txHash) pair, preserving
// input order.
func (e *Engine) BatchVerifyContracts(ids, txHashes []string) []bool {
	return e.lc.BatchVerify(ids, txHashes)
}

// QueryContract returns a defensive copy of one contract's current state.
func (e *Engine) QueryContract(contractID string) (*domain.Contract, error) {
	return e.lc.Get(contractID)
}

// FetchOrder and FetchContract satisfy store.Fetcher, letting an optional
// store.Mirror resolve the ids on an emitted event back to full objects
// without the store package importing the registry or contract lifecycle.
func (e *Engine) FetchOrder(id string) (*domain.Order, bool) {
	o, err := e.registry.Get(id)
	if err != nil {
		return nil, false
	}
	return o, true
}

func (e *Engine) FetchContract(id string) (*domain.Contract, bool) {
	c, err := e.lc.Get(id)
	if err != nil {
		return nil, false
	}
	return c, true
}
