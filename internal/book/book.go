// Package book implements the per-symbol L2 order book: two price->qty
// maps plus a lazy max-heap (bids) and min-heap (asks) of price keys so
// best-bid/best-ask extraction stays amortized O(log n) under heavy churn,
// even though levels are removed far more often than the heap shrinks.
package book

import (
	"container/heap"
	"math"

	"garm/internal/types"
)

// priceScale is the fixed-point scale spec.md mandates for level-indexing
// keys: round(price * 1e9). Using an integer key instead of the raw float64
// sidesteps float identity mismatches in maps/heaps while all arithmetic
// still runs on the original float64 price.
const priceScale = 1_000_000_000.0

// PriceKey converts a float64 price into the deterministic integer key used
// for level-indexing. Exported because the broker's maker level index must
// key on the same scale.
func PriceKey(price float64) int64 {
	return int64(math.Round(price * priceScale))
}

// bidHeap is a lazy max-heap of price keys: it may contain keys for levels
// that have since been removed. BestBid discards stale entries on sight.
type bidHeap []int64

func (h bidHeap) Len() int            { return len(h) }
func (h bidHeap) Less(i, j int) bool  { return h[i] > h[j] } // highest price first
func (h bidHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *bidHeap) Push(x interface{}) { *h = append(*h, x.(int64)) }
func (h *bidHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// askHeap is the mirror min-heap for the ask side (lowest price first).
type askHeap []int64

func (h askHeap) Len() int            { return len(h) }
func (h askHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h askHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *askHeap) Push(x interface{}) { *h = append(*h, x.(int64)) }
func (h *askHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// L2Book is an incrementally maintained two-sided order book for one symbol.
// Zero value is not usable; construct with New.
type L2Book struct {
	bids     map[int64]float64 // price key -> qty, only entries with qty > 0
	asks     map[int64]float64
	bidPrice map[int64]float64 // price key -> original float price
	askPrice map[int64]float64
	bidHeap  bidHeap
	askHeap  askHeap
}

// New constructs an empty book.
func New() *L2Book {
	return &L2Book{
		bids:     make(map[int64]float64),
		asks:     make(map[int64]float64),
		bidPrice: make(map[int64]float64),
		askPrice: make(map[int64]float64),
	}
}

// Clear empties the book in place: used by the book guard on a trip reset.
func (b *L2Book) Clear() {
	b.bids = make(map[int64]float64)
	b.asks = make(map[int64]float64)
	b.bidPrice = make(map[int64]float64)
	b.askPrice = make(map[int64]float64)
	b.bidHeap = b.bidHeap[:0]
	b.askHeap = b.askHeap[:0]
}

// ApplyLevel sets (or, if qty <= eps, removes) one price level on one side.
// Repeated updates to an existing level never grow the heap: a push only
// happens the first time a level transitions from absent to present.
func (b *L2Book) ApplyLevel(side types.Side, price, qty float64) {
	const eps = 1e-12
	key := PriceKey(price)

	if side == types.Buy {
		if qty <= eps {
			delete(b.bids, key)
			delete(b.bidPrice, key)
			return
		}
		_, present := b.bids[key]
		b.bids[key] = qty
		b.bidPrice[key] = price
		if !present {
			heap.Push(&b.bidHeap, key)
		}
		return
	}

	if qty <= eps {
		delete(b.asks, key)
		delete(b.askPrice, key)
		return
	}
	_, present := b.asks[key]
	b.asks[key] = qty
	b.askPrice[key] = price
	if !present {
		heap.Push(&b.askHeap, key)
	}
}

// ApplyDepthUpdate applies a batch of bid/ask level updates.
func (b *L2Book) ApplyDepthUpdate(bidUpdates, askUpdates []types.PriceLevelUpdate) {
	for _, u := range bidUpdates {
		b.ApplyLevel(types.Buy, u.Price, u.Qty)
	}
	for _, u := range askUpdates {
		b.ApplyLevel(types.Sell, u.Price, u.Qty)
	}
}

// BestBid returns the highest present bid price, discarding stale heap
// entries along the way.
func (b *L2Book) BestBid() (float64, bool) {
	for b.bidHeap.Len() > 0 {
		key := b.bidHeap[0]
		if _, ok := b.bids[key]; ok {
			return b.bidPrice[key], true
		}
		heap.Pop(&b.bidHeap)
	}
	return 0, false
}

// BestAsk returns the lowest present ask price, discarding stale heap
// entries along the way.
func (b *L2Book) BestAsk() (float64, bool) {
	for b.askHeap.Len() > 0 {
		key := b.askHeap[0]
		if _, ok := b.asks[key]; ok {
			return b.askPrice[key], true
		}
		heap.Pop(&b.askHeap)
	}
	return 0, false
}

// MidPrice is (best_bid+best_ask)/2 when both sides are present.
func (b *L2Book) MidPrice() (float64, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return (bid + ask) / 2.0, true
}

// BidQty returns the raw resting quantity at price on the bid side (0 if
// the level is absent). Used by the maker queue model to read visible
// depth at a specific price, not necessarily the best level.
func (b *L2Book) BidQty(price float64) float64 {
	return b.bids[PriceKey(price)]
}

// AskQty is the ask-side mirror of BidQty.
func (b *L2Book) AskQty(price float64) float64 {
	return b.asks[PriceKey(price)]
}

// ImpactVWAP walks the opposite side of `side` in price order, accumulating
// quantity until `notional` is consumed, and returns the resulting
// volume-weighted average price. If maxLevels is exhausted before the
// notional is filled, it retries once with unlimited depth (an
// opportunistic fast path for the common case where a handful of levels
// suffice). Returns ok=false (treat as NaN) if the full side can't cover
// the requested notional.
func (b *L2Book) ImpactVWAP(side types.Side, notional float64, maxLevels int) (float64, bool) {
	if px, ok := b.walkVWAP(side, notional, maxLevels); ok {
		return px, true
	}
	if maxLevels <= 0 {
		return 0, false
	}
	return b.walkVWAP(side, notional, 0)
}

// walkVWAP does one walk of the book opposite `side`. maxLevels <= 0 means
// unlimited depth.
func (b *L2Book) walkVWAP(side types.Side, notional float64, maxLevels int) (float64, bool) {
	var keys []int64
	var priceOf map[int64]float64
	var qtyOf map[int64]float64

	if side == types.Buy {
		keys = append([]int64(nil), b.askHeap...)
		priceOf = b.askPrice
		qtyOf = b.asks
	} else {
		keys = append([]int64(nil), b.bidHeap...)
		priceOf = b.bidPrice
		qtyOf = b.bids
	}

	// Sort a scratch copy of the heap's keys into price order; the heap
	// itself is left untouched (this is a read-only walk).
	sortKeys(keys, side)

	remainingNotional := notional
	cost := 0.0
	qty := 0.0
	levels := 0

	for _, key := range keys {
		lvlQty, ok := qtyOf[key]
		if !ok {
			continue // stale heap entry
		}
		if maxLevels > 0 && levels >= maxLevels {
			break
		}
		levels++

		price := priceOf[key]
		lvlNotional := lvlQty * price
		if lvlNotional >= remainingNotional {
			take := remainingNotional / price
			cost += take * price
			qty += take
			remainingNotional = 0
			break
		}
		cost += lvlNotional
		qty += lvlQty
		remainingNotional -= lvlNotional
	}

	if remainingNotional > 1e-9 || qty <= 0 {
		return 0, false
	}
	return cost / qty, true
}

// sortKeys orders a slice of price keys ascending (ask side, low to high)
// or descending (bid side, high to low) using the local insertionSort.
func sortKeys(keys []int64, side types.Side) {
	less := func(i, j int) bool { return keys[i] < keys[j] }
	if side == types.Buy {
		// Walking asks low-to-high.
		less = func(i, j int) bool { return keys[i] < keys[j] }
	} else {
		// Walking bids high-to-low.
		less = func(i, j int) bool { return keys[i] > keys[j] }
	}
	insertionSort(keys, less)
}

// insertionSort is a tiny dependency-free sort for the (typically small)
// per-call scratch slice of heap keys; avoids pulling in sort.Slice's
// reflection-based comparator for a hot path.
func insertionSort(a []int64, less func(i, j int) bool) {
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			a[j], a[j-1] = a[j-1], a[j]
		}
	}
}
