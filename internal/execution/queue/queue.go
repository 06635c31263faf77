// Package queue models a resting maker order's position in line at its
// price level: how much visible quantity sits ahead of it, and how that
// quantity shrinks as the tape prints trades and the book's depth moves.
package queue

import (
	"garm/internal/book"
	"garm/internal/types"
)

// Order is one resting maker order's queue-position state. QueueAhead
// starts at the visible quantity observed at placement time (scaled by the
// broker's queue_ahead_factor/extra) and only ever shrinks.
type Order struct {
	OrderID       string
	Symbol        string
	Side          types.Side
	Price         float64
	Quantity      float64 // original order size
	FilledQty     float64
	QueueAhead    float64
	Participation float64 // trade_participation in (0,1], this order's share of matching tape volume
	PrioritySeq   int64   // placement order, oldest first, for per-level dispatch
}

// NewOrder places a maker order with its initial queue position computed
// from the visible book quantity at its price.
func NewOrder(orderID, symbol string, side types.Side, price, qty float64, visibleQty, queueAheadFactor, queueAheadExtra, participation float64, prioritySeq int64) *Order {
	return &Order{
		OrderID:       orderID,
		Symbol:        symbol,
		Side:          side,
		Price:         price,
		Quantity:      qty,
		QueueAhead:    visibleQty*queueAheadFactor + queueAheadExtra,
		Participation: participation,
		PrioritySeq:   prioritySeq,
	}
}

// RemainingQty is the order's unfilled size.
func (o *Order) RemainingQty() float64 {
	return o.Quantity - o.FilledQty
}

// IsFilled reports whether the order has no remaining quantity.
func (o *Order) IsFilled() bool {
	return o.RemainingQty() <= 1e-12
}

// OnBookQtyUpdate applies a shrink-only update to queue_ahead when the
// visible quantity at this order's (symbol, side, price) level changes:
// new liquidity joining the level (an increase) never grows our queue
// position, since it joins behind us.
func (o *Order) OnBookQtyUpdate(newVisibleQty float64) {
	if newVisibleQty < o.QueueAhead {
		o.QueueAhead = newVisibleQty
	}
}

// matchesTradeSide reports whether a trade with the given aggressor flag
// would match a resting maker on this order's side: a buyer-initiated
// trade (is_buyer_maker==false) lifts resting asks, a seller-initiated
// trade (is_buyer_maker==true) hits resting bids.
func (o *Order) matchesTradeSide(isBuyerMaker bool) bool {
	if o.Side == types.Buy {
		return isBuyerMaker
	}
	return !isBuyerMaker
}

// OnTradeBudgeted applies one trade print's effective volume against this
// order's queue position, consuming up to `budget` of the trade's volume.
// Returns (filledQty, consumedTradeQty): consumedTradeQty is how much of
// the shared per-trade/per-level budget this order used, so the broker's
// dispatch loop can decrement a budget shared across same-level makers
// processed in priority order.
//
// Returns (0, 0) if the trade doesn't match this order's side, the order
// is already filled, or price doesn't match.
func (o *Order) OnTradeBudgeted(trade types.Trade, budget float64) (float64, float64) {
	if o.IsFilled() || budget <= 0 {
		return 0, 0
	}
	if book.PriceKey(trade.Price) != book.PriceKey(o.Price) {
		return 0, 0
	}
	if !o.matchesTradeSide(trade.IsBuyerMaker) {
		return 0, 0
	}

	v := trade.Quantity * o.Participation
	if v > budget {
		v = budget
	}
	if v <= 0 {
		return 0, 0
	}

	if o.QueueAhead >= v {
		o.QueueAhead -= v
		return 0, v
	}

	excess := v - o.QueueAhead
	o.QueueAhead = 0

	fillable := excess
	if remaining := o.RemainingQty(); fillable > remaining {
		fillable = remaining
	}
	o.FilledQty += fillable

	// consumed is the portion of the trade's volume actually used: the
	// queue-ahead drained plus whatever excess produced a fill. Any excess
	// beyond this order's remaining capacity is not consumed by this order
	// and stays available for the next order at this level.
	consumed := (v - excess) + fillable
	return fillable, consumed
}
