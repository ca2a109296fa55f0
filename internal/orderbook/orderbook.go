// Package orderbook implements the per-category, per-side resting order
// books that back price-time priority matching. Books store only order
// handles; the registry remains the single owner of order state, so "is
// the book entry in sync with the order?" collapses to a registry lookup.
package orderbook

import (
	"container/heap"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/astroleaf/ecoflux-exchange/internal/domain"
	"github.com/astroleaf/ecoflux-exchange/internal/engineerrors"
)

// Entry is the handle a book holds for one resting order: enough to sort
// and to look the order up in the registry, never a copy of its mutable
// state.
type Entry struct {
	ID         string
	LimitPrice float64
	CreatedAt  time.Time

	index int // maintained by container/heap, do not set directly
}

// heapSide is a heap.Interface over resting entries for one (category,
// side): buy descending price then ascending createdAt; sell ascending
// price then ascending createdAt; ties on both break on ID ascending for
// determinism under identical timestamps.
type heapSide struct {
	entries []*Entry
	buy     bool
}

func (h *heapSide) Len() int { return len(h.entries) }

func (h *heapSide) Less(i, j int) bool {
	a, b := h.entries[i], h.entries[j]
	if a.LimitPrice != b.LimitPrice {
		if h.buy {
			return a.LimitPrice > b.LimitPrice
		}
		return a.LimitPrice < b.LimitPrice
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (h *heapSide) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
	h.entries[i].index = i
	h.entries[j].index = j
}

func (h *heapSide) Push(x interface{}) {
	e := x.(*Entry)
	e.index = len(h.entries)
	h.entries = append(h.entries, e)
}

func (h *heapSide) Pop() interface{} {
	old := h.entries
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	h.entries = old[:n-1]
	return e
}

// categoryBook holds the two sides of one energy category.
type categoryBook struct {
	mu        sync.RWMutex
	bid       *heapSide
	ask       *heapSide
	byID      map[string]*Entry // id -> entry, whichever side it's on
	volume    map[domain.Side]float64
	volumeLog map[string]float64 // id -> quantity, to keep volume accurate on remove
}

func newCategoryBook() *categoryBook {
	return &categoryBook{
		bid:       &heapSide{buy: true},
		ask:       &heapSide{buy: false},
		byID:      make(map[string]*Entry),
		volume:    map[domain.Side]float64{domain.SideBuy: 0, domain.SideSell: 0},
		volumeLog: make(map[string]float64),
	}
}

func (cb *categoryBook) sideHeap(side domain.Side) *heapSide {
	if side == domain.SideBuy {
		return cb.bid
	}
	return cb.ask
}

// Book is the set of per-category order books, indexed by domain.Category.
type Book struct {
	logger     *zap.Logger
	categories map[domain.Category]*categoryBook
}

// New creates an empty Book with one heap pair per recognized category.
func New(logger *zap.Logger) *Book {
	b := &Book{
		logger:     logger,
		categories: make(map[domain.Category]*categoryBook, len(domain.Categories)),
	}
	for _, c := range domain.Categories {
		b.categories[c] = newCategoryBook()
	}
	return b
}

// Insert rests an order's handle in its (category, side) book. O(log n).
func (b *Book) Insert(category domain.Category, side domain.Side, id string, limitPrice float64, createdAt time.Time, quantity float64) error {
	cb, ok := b.categories[category]
	if !ok {
		return engineerrors.Newf(engineerrors.Validation, "unknown category %q", category)
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	e := &Entry{ID: id, LimitPrice: limitPrice, CreatedAt: createdAt}
	heap.Push(cb.sideHeap(side), e)
	cb.byID[id] = e
	cb.volumeLog[id] = quantity
	cb.volume[side] += quantity

	b.logger.Debug("order rested in book",
		zap.String("order_id", id),
		zap.String("category", string(category)),
		zap.String("side", string(side)))

	return nil
}

// Remove takes an order's handle out of its book by id, if present.
// Returns false as a no-op when the id isn't resting anywhere in the
// category. O(log n).
func (b *Book) Remove(category domain.Category, side domain.Side, id string) bool {
	cb, ok := b.categories[category]
	if !ok {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	e, ok := cb.byID[id]
	if !ok {
		return false
	}
	delete(cb.byID, id)

	h := cb.sideHeap(side)
	heap.Remove(h, e.index)

	if qty, ok := cb.volumeLog[id]; ok {
		cb.volume[side] -= qty
		delete(cb.volumeLog, id)
	}

	return true
}

// PeekBest returns the id, limit price and createdAt of the head of one
// (category, side) book without removing it, or ok=false if empty. O(1).
func (b *Book) PeekBest(category domain.Category, side domain.Side) (id string, limitPrice float64, createdAt time.Time, ok bool) {
	cb, exists := b.categories[category]
	if !exists {
		return "", 0, time.Time{}, false
	}

	cb.mu.RLock()
	defer cb.mu.RUnlock()

	h := cb.sideHeap(side)
	if h.Len() == 0 {
		return "", 0, time.Time{}, false
	}
	top := h.entries[0]
	return top.ID, top.LimitPrice, top.CreatedAt, true
}

// Level is one (price, id, createdAt) row of a snapshot, ordered by book
// priority.
type Level struct {
	ID         string    `json:"id"`
	LimitPrice float64   `json:"limit_price"`
	CreatedAt  time.Time `json:"created_at"`
}

// Snapshot is an immutable, copy-on-read view of one category's book.
type Snapshot struct {
	Category        domain.Category `json:"category"`
	Buy             []Level         `json:"buy"`
	Sell            []Level         `json:"sell"`
	BestBid         *float64        `json:"best_bid"`
	BestAsk         *float64        `json:"best_ask"`
	Spread          *float64        `json:"spread"`
	TotalBuyVolume  float64         `json:"total_buy_volume"`
	TotalSellVolume float64         `json:"total_sell_volume"`
}

// Snapshot copies out the current state of one category's book. Readers
// never observe a match in progress because the copy happens entirely
// under the category's read lock.
func (b *Book) Snapshot(category domain.Category) (Snapshot, error) {
	cb, ok := b.categories[category]
	if !ok {
		return Snapshot{}, engineerrors.Newf(engineerrors.Validation, "unknown category %q", category)
	}

	cb.mu.RLock()
	defer cb.mu.RUnlock()

	snap := Snapshot{
		Category:        category,
		Buy:             levelsOf(cb.bid),
		Sell:            levelsOf(cb.ask),
		TotalBuyVolume:  cb.volume[domain.SideBuy],
		TotalSellVolume: cb.volume[domain.SideSell],
	}

	if len(snap.Buy) > 0 {
		v := snap.Buy[0].LimitPrice
		snap.BestBid = &v
	}
	if len(snap.Sell) > 0 {
		v := snap.Sell[0].LimitPrice
		snap.BestAsk = &v
	}
	if snap.BestBid != nil && snap.BestAsk != nil {
		s := *snap.BestAsk - *snap.BestBid
		snap.Spread = &s
	}

	return snap, nil
}

func levelsOf(h *heapSide) []Level {
	out := make([]Level, len(h.entries))
	ordered := append([]*Entry(nil), h.entries...)
	// entries is heap-ordered, not fully sorted; present priority order
	// by sorting a throwaway copy of the entry slice.
	sortByPriority(ordered, h.buy)
	for i, e := range ordered {
		out[i] = Level{ID: e.ID, LimitPrice: e.LimitPrice, CreatedAt: e.CreatedAt}
	}
	return out
}

func sortByPriority(entries []*Entry, buy bool) {
	// Insertion sort: books stay small (bounded by resting liquidity per
	// category) and snapshot isn't on the matching hot path.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && less(entries[j], entries[j-1], buy); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

func less(a, b *Entry, buy bool) bool {
	if a.LimitPrice != b.LimitPrice {
		if buy {
			return a.LimitPrice > b.LimitPrice
		}
		return a.LimitPrice < b.LimitPrice
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// BestBidAsk returns the best bid and ask prices for one category; a
// nil pointer means that side is empty.
func (b *Book) BestBidAsk(category domain.Category) (bestBid, bestAsk *float64) {
	cb, ok := b.categories[category]
	if !ok {
		return nil, nil
	}
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	if cb.bid.Len() > 0 {
		v := cb.bid.entries[0].LimitPrice
		bestBid = &v
	}
	if cb.ask.Len() > 0 {
		v := cb.ask.entries[0].LimitPrice
		bestAsk = &v
	}
	return bestBid, bestAsk
}

// TotalVolume returns the summed quantity of resting orders on one
// (category, side).
func (b *Book) TotalVolume(category domain.Category, side domain.Side) float64 {
	cb, ok := b.categories[category]
	if !ok {
		return 0
	}
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.volume[side]
}
