// Package strategies holds reference Strategy implementations exercised
// by this package's tests and the demo CLI: EntryExit (scheduled
// enter/exit cycles) and MaCross (bar-aggregated moving-average cross).
package strategies

import (
	"fmt"

	"garm/internal/engine"
	"garm/internal/types"
)

// EntryExitCycle is one (enter_ms, exit_ms) pair in an EntryExit
// strategy's schedule.
type EntryExitCycle struct {
	EnterMs int64
	ExitMs  int64
}

// EntryExit enters a fixed-direction market position at each cycle's
// enter time and exits it at the cycle's exit time, sampling its equity
// curve on every MarkPrice tick for the symbol.
type EntryExit struct {
	Symbol          string
	Direction       types.Side // Buy = long, Sell = short
	TargetQty       float64
	Schedule        []EntryExitCycle
	ForceCloseOnEnd bool

	EquityCurve []EquityPoint

	cycle      int
	inPosition bool
}

// EquityPoint is one (event_time_ms, equity) sample.
type EquityPoint struct {
	TimeMs int64
	Equity float64
}

func (s *EntryExit) OnStart(ctx *engine.Context) {}

func (s *EntryExit) posQty(ctx *engine.Context) float64 {
	return ctx.Broker.Position(s.Symbol)
}

func (s *EntryExit) closeQty(ctx *engine.Context) float64 {
	return abs(s.posQty(ctx))
}

func (s *EntryExit) submitEntry(ctx *engine.Context) {
	_, _ = ctx.Broker.Submit(types.Order{
		ID:        fmt.Sprintf("entry_%d", s.cycle),
		Symbol:    s.Symbol,
		Side:      s.Direction,
		OrderType: types.MarketOrder,
		Quantity:  s.TargetQty,
	}, ctx.NowMs)
	s.inPosition = s.posQty(ctx) != 0
}

func (s *EntryExit) submitExit(ctx *engine.Context) {
	q := s.closeQty(ctx)
	if q <= 0 {
		s.inPosition = false
		return
	}
	side := types.Sell
	if s.posQty(ctx) < 0 {
		side = types.Buy
	}
	_, _ = ctx.Broker.Submit(types.Order{
		ID:        fmt.Sprintf("exit_%d", s.cycle),
		Symbol:    s.Symbol,
		Side:      side,
		OrderType: types.MarketOrder,
		Quantity:  q,
	}, ctx.NowMs)
	s.inPosition = s.posQty(ctx) != 0
}

func (s *EntryExit) OnTick(ctx *engine.Context) {}

func (s *EntryExit) OnEvent(ctx *engine.Context, event types.Event) {
	if m, ok := event.(types.MarkPrice); ok && m.Symbol == s.Symbol {
		s.sampleEquity(ctx, m)
		return
	}

	du, ok := event.(types.DepthUpdate)
	if !ok || du.Symbol != s.Symbol {
		return
	}
	if s.cycle >= len(s.Schedule) {
		return
	}

	c := s.Schedule[s.cycle]
	now := ctx.NowMs

	bk := ctx.Broker.Book(s.Symbol)
	if _, ok := bk.BestBid(); !ok {
		return
	}
	if _, ok := bk.BestAsk(); !ok {
		return
	}

	if !s.inPosition && now >= c.EnterMs {
		s.submitEntry(ctx)
		return
	}
	if s.inPosition && now >= c.ExitMs {
		s.submitExit(ctx)
		if !s.inPosition {
			s.cycle++
		}
	}
}

func (s *EntryExit) sampleEquity(ctx *engine.Context, m types.MarkPrice) {
	eq := ctx.Broker.Equity(map[string]float64{s.Symbol: m.MarkPriceVal})
	s.EquityCurve = append(s.EquityCurve, EquityPoint{TimeMs: m.EventTimeMsVal, Equity: eq})
}

func (s *EntryExit) OnEnd(ctx *engine.Context) {
	if !s.ForceCloseOnEnd {
		return
	}
	if s.closeQty(ctx) <= 0 {
		return
	}
	s.submitExit(ctx)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
