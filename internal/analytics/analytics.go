// Package analytics derives round-trip trade statistics and drawdown
// metrics from a broker's fill log and equity curve, independent of the
// live portfolio (funding is deliberately excluded: a round trip replays
// fills through a fresh ledger, not the portfolio's funding-inclusive one).
package analytics

import "garm/internal/types"

// RoundTrip is one position segment from flat to flat: the fills that
// opened and closed it, and its gross/net PnL and fees. A fill that flips
// the position has its fee split between the two round trips in
// proportion to the quantity each one takes.
type RoundTrip struct {
	Symbol      string
	Side        types.Side // side of the opening fill
	EntryTimeMs int64
	ExitTimeMs  int64
	Quantity    float64 // total quantity that passed through the round trip
	GrossPnL    float64
	Fees        float64
	NetPnL      float64
}

// ledgerPosition is round_trips_from_fills' private per-symbol replay
// state: deliberately independent of internal/portfolio.Position, since
// it tracks the fills and realized PnL belonging to the round trip
// currently open, not the account's lifetime bookkeeping.
type ledgerPosition struct {
	qty         float64
	avgPrice    float64
	entryTimeMs int64
	entrySide   types.Side
	grossPnL    float64
	fees        float64
	totalQty    float64
}

// RoundTripsFromFills replays fills, grouped by symbol and taken in the
// order given, through a fresh ledger per symbol. Every transition from a
// nonzero position to exactly zero closes one round trip. A flip (fill
// larger than the open quantity) closes the current round trip and opens
// the next one with the remainder, starting a new entry at the fill's
// price and time.
func RoundTripsFromFills(fills []types.Fill) []RoundTrip {
	ledgers := make(map[string]*ledgerPosition)
	var trips []RoundTrip

	for _, f := range fills {
		lg, ok := ledgers[f.Symbol]
		if !ok {
			lg = &ledgerPosition{}
			ledgers[f.Symbol] = lg
		}

		d := f.Quantity
		if f.Side == types.Sell {
			d = -d
		}

		if lg.qty == 0 {
			lg.qty = d
			lg.avgPrice = f.Price
			lg.entryTimeMs = f.EventTimeMs
			lg.entrySide = f.Side
			lg.grossPnL = 0
			lg.fees = f.FeeUsdt
			lg.totalQty = f.Quantity
			continue
		}

		sameSign := (lg.qty > 0 && d > 0) || (lg.qty < 0 && d < 0)
		if sameSign {
			newQty := lg.qty + d
			lg.avgPrice = (abs(lg.qty)*lg.avgPrice + abs(d)*f.Price) / abs(newQty)
			lg.qty = newQty
			lg.fees += f.FeeUsdt
			lg.totalQty += f.Quantity
			continue
		}

		if abs(d) <= abs(lg.qty) {
			closeQty := abs(d)
			lg.grossPnL += sign(lg.qty) * (f.Price - lg.avgPrice) * closeQty
			lg.fees += f.FeeUsdt
			lg.totalQty += f.Quantity
			lg.qty += d

			if lg.qty == 0 {
				trips = append(trips, RoundTrip{
					Symbol:      f.Symbol,
					Side:        lg.entrySide,
					EntryTimeMs: lg.entryTimeMs,
					ExitTimeMs:  f.EventTimeMs,
					Quantity:    lg.totalQty,
					GrossPnL:    lg.grossPnL,
					Fees:        lg.fees,
					NetPnL:      lg.grossPnL - lg.fees,
				})
				*lg = ledgerPosition{}
			}
			continue
		}

		// Flipping: close the full current position at this fill's price,
		// then open the remainder as a fresh position. The fill's fee is
		// split pro rata between the closing and the opening part.
		closeFee := f.FeeUsdt * abs(lg.qty) / abs(d)
		lg.grossPnL += sign(lg.qty) * (f.Price - lg.avgPrice) * abs(lg.qty)
		lg.fees += closeFee
		lg.totalQty += abs(lg.qty)

		trips = append(trips, RoundTrip{
			Symbol:      f.Symbol,
			Side:        lg.entrySide,
			EntryTimeMs: lg.entryTimeMs,
			ExitTimeMs:  f.EventTimeMs,
			Quantity:    lg.totalQty,
			GrossPnL:    lg.grossPnL,
			Fees:        lg.fees,
			NetPnL:      lg.grossPnL - lg.fees,
		})

		remainder := lg.qty + d // same sign as d, smaller magnitude
		*lg = ledgerPosition{
			qty:         remainder,
			avgPrice:    f.Price,
			entryTimeMs: f.EventTimeMs,
			entrySide:   f.Side,
			fees:        f.FeeUsdt - closeFee,
			totalQty:    abs(remainder),
		}
	}

	return trips
}

// MaxDrawdown returns min(eq_i - max_{j<=i} eq_j) over the equity curve;
// 0 for an empty or monotonically non-decreasing curve.
func MaxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := equity[0]
	worst := 0.0
	for _, eq := range equity {
		if eq > peak {
			peak = eq
		}
		if dd := eq - peak; dd < worst {
			worst = dd
		}
	}
	return worst
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
