// Package taker implements aggressive order execution against an L2 book:
// walking resting liquidity, applying a slippage overlay to the realized
// price, and preserving any caller-supplied limit.
package taker

import (
	"errors"
	"math"

	"garm/internal/book"
	"garm/internal/types"
)

// ErrNonPositiveQuantity is returned by Consume when qty <= 0.
var ErrNonPositiveQuantity = errors.New("taker: quantity must be positive")

// Slippage holds the three non-negative coefficients combined into the
// execution-price overlay applied on top of the book-walk result.
type Slippage struct {
	Abs        float64 // flat price offset
	Bps        float64 // proportional to raw execution price, in basis points
	SpreadFrac float64 // proportional to the prevailing spread
}

// Validate checks that every coefficient is non-negative.
func (s Slippage) Validate() error {
	if s.Abs < 0 || s.Bps < 0 || s.SpreadFrac < 0 {
		return errors.New("taker: slippage coefficients must be >= 0")
	}
	return nil
}

// Consume walks the book on the side opposite `side` (a buy consumes asks,
// a sell consumes bids), mutating the book in place as each level is
// drained or decremented. limitPrice, if non-nil, stops the walk once the
// next level would cross it and clamps the final execution price to it.
//
// Returns the volume-weighted average execution price (after slippage) and
// the filled quantity. If nothing fills, returns (NaN, 0).
func Consume(b *book.L2Book, side types.Side, qty float64, limitPrice *float64, slip Slippage) (float64, float64, error) {
	if qty <= 0 {
		return math.NaN(), 0, ErrNonPositiveQuantity
	}
	if err := slip.Validate(); err != nil {
		return math.NaN(), 0, err
	}

	crosses := func(p float64) bool {
		if limitPrice == nil {
			return false
		}
		if side == types.Buy {
			return p > *limitPrice
		}
		return p < *limitPrice
	}

	preBid, preBidOk := b.BestBid()
	preAsk, preAskOk := b.BestAsk()
	preSpread := 0.0
	if preBidOk && preAskOk {
		preSpread = preAsk - preBid
	}

	remaining := qty
	cost := 0.0
	filled := 0.0

	for remaining > 1e-12 {
		var levelPrice float64
		var ok bool
		if side == types.Buy {
			levelPrice, ok = b.BestAsk()
		} else {
			levelPrice, ok = b.BestBid()
		}
		if !ok || crosses(levelPrice) {
			break
		}

		var levelQty float64
		if side == types.Buy {
			levelQty = b.AskQty(levelPrice)
		} else {
			levelQty = b.BidQty(levelPrice)
		}
		if levelQty <= 0 {
			break
		}

		take := math.Min(levelQty, remaining)
		cost += take * levelPrice
		filled += take
		remaining -= take

		newLevelQty := levelQty - take
		if side == types.Buy {
			b.ApplyLevel(types.Sell, levelPrice, newLevelQty)
		} else {
			b.ApplyLevel(types.Buy, levelPrice, newLevelQty)
		}
	}

	if filled <= 0 {
		return math.NaN(), 0, nil
	}

	rawPx := cost / filled
	execPx := applySlippage(side, rawPx, preSpread, slip)

	if limitPrice != nil {
		if side == types.Buy && execPx > *limitPrice {
			execPx = *limitPrice
		}
		if side == types.Sell && execPx < *limitPrice {
			execPx = *limitPrice
		}
	}

	return execPx, filled, nil
}

// applySlippage adds the slippage overlay on top of the raw walked price:
// positive for buys (worse fill), negative for sells (worse fill). spread
// must be captured before the book-walk in Consume mutates the touch, so
// the overlay reflects the pre-trade spread rather than a post-walk one.
func applySlippage(side types.Side, rawPx float64, spread float64, slip Slippage) float64 {
	s := slip.Abs + rawPx*slip.Bps/10000 + spread*slip.SpreadFrac
	if side == types.Buy {
		return rawPx + s
	}
	return rawPx - s
}
