package strategies

import (
	"fmt"

	"garm/internal/engine"
	"garm/internal/types"
)

// Bar is one closed timeframe candle.
type Bar struct {
	StartMs int64
	Open    float64
	High    float64
	Low     float64
	Close   float64
}

// BarBuilder aggregates a price stream into fixed-timeframe bars. A bar
// is considered closed when the first tick of the next bar arrives.
type BarBuilder struct {
	TfMs        int64
	FillMissing bool

	haveBar bool
	barID   int64
	bar     Bar
}

// OnPrice feeds one (t_ms, price) tick and returns any bars that closed
// as a result (zero, one, or more than one if FillMissing back-fills a
// gap).
func (bb *BarBuilder) OnPrice(tMs int64, price float64) []Bar {
	if bb.TfMs <= 0 {
		panic("strategies: BarBuilder.TfMs must be > 0")
	}
	bid := tMs / bb.TfMs

	if !bb.haveBar {
		bb.haveBar = true
		bb.barID = bid
		start := bid * bb.TfMs
		bb.bar = Bar{StartMs: start, Open: price, High: price, Low: price, Close: price}
		return nil
	}

	if bid == bb.barID {
		if price > bb.bar.High {
			bb.bar.High = price
		}
		if price < bb.bar.Low {
			bb.bar.Low = price
		}
		bb.bar.Close = price
		return nil
	}

	closed := []Bar{bb.bar}

	if bb.FillMissing && bid > bb.barID+1 {
		lastClose := bb.bar.Close
		for mid := bb.barID + 1; mid < bid; mid++ {
			start := mid * bb.TfMs
			closed = append(closed, Bar{StartMs: start, Open: lastClose, High: lastClose, Low: lastClose, Close: lastClose})
		}
	}

	bb.barID = bid
	start := bid * bb.TfMs
	bb.bar = Bar{StartMs: start, Open: price, High: price, Low: price, Close: price}
	return closed
}

// MaCrossRule selects whether positions change only on an MA cross
// ("cross") or continuously track the desired side ("state").
type MaCrossRule int

const (
	RuleCross MaCrossRule = iota
	RuleState
)

// MaCrossMode restricts the strategy to long-only or allows shorting.
type MaCrossMode int

const (
	LongShort MaCrossMode = iota
	LongOnly
)

// PriceSource selects which event stream feeds the bar builder.
type PriceSource int

const (
	SourceMark PriceSource = iota
	SourceTrade
)

// MaCross targets a long/short/flat position based on a simple moving
// average of closed bar prices, rebuilt from mark price or trade ticks.
type MaCross struct {
	Symbol          string
	Qty             float64
	TfMs            int64
	MaLen           int
	Rule            MaCrossRule
	Mode            MaCrossMode
	PriceSource     PriceSource
	FillMissingBars bool
	EpsQty          float64

	Bars        []Bar
	EquityCurve []EquityPoint

	closes   []float64
	prevDiff *float64
	haveDiff bool
	builder  *BarBuilder

	submitSeq int64
}

func (s *MaCross) OnStart(ctx *engine.Context) {
	if s.Qty <= 0 {
		panic("strategies: MaCross.Qty must be > 0")
	}
	if s.MaLen <= 0 {
		panic("strategies: MaCross.MaLen must be > 0")
	}
	if s.EpsQty <= 0 {
		s.EpsQty = 1e-12
	}
	s.builder = &BarBuilder{TfMs: s.TfMs, FillMissing: s.FillMissingBars}
}

func (s *MaCross) posQty(ctx *engine.Context) float64 {
	return ctx.Broker.Position(s.Symbol)
}

func (s *MaCross) bookReady(ctx *engine.Context) bool {
	bk := ctx.Broker.Book(s.Symbol)
	if _, ok := bk.BestBid(); !ok {
		return false
	}
	_, ok := bk.BestAsk()
	return ok
}

func (s *MaCross) setTarget(ctx *engine.Context, targetQty float64, reason string) {
	if !s.bookReady(ctx) {
		return
	}
	cur := s.posQty(ctx)
	delta := targetQty - cur
	if abs(delta) <= s.EpsQty {
		return
	}

	side := types.Buy
	if delta < 0 {
		side = types.Sell
	}
	s.submitSeq++
	_, _ = ctx.Broker.Submit(types.Order{
		ID:        fmt.Sprintf("ma_%s_%d_%d", reason, ctx.NowMs, s.submitSeq),
		Symbol:    s.Symbol,
		Side:      side,
		OrderType: types.MarketOrder,
		Quantity:  abs(delta),
	}, ctx.NowMs)
}

func (s *MaCross) onClosedBar(b Bar, ctx *engine.Context) {
	s.Bars = append(s.Bars, b)
	s.closes = append(s.closes, b.Close)

	if len(s.closes) < s.MaLen {
		return
	}

	window := s.closes[len(s.closes)-s.MaLen:]
	sum := 0.0
	for _, c := range window {
		sum += c
	}
	ma := sum / float64(len(window))
	diff := b.Close - ma

	var desired string // "long", "short", or "" for no change
	switch s.Rule {
	case RuleState:
		if diff >= 0 {
			desired = "long"
		} else {
			desired = "short"
		}
	default: // RuleCross
		if s.haveDiff {
			prev := *s.prevDiff
			if prev <= 0 && diff > 0 {
				desired = "long"
			} else if prev >= 0 && diff < 0 {
				desired = "short"
			}
		} else {
			if diff > 0 {
				desired = "long"
			} else if diff < 0 {
				desired = "short"
			}
		}
	}

	s.prevDiff = &diff
	s.haveDiff = true

	if desired == "" {
		return
	}
	if s.Mode == LongOnly && desired == "short" {
		desired = "flat"
	}

	switch desired {
	case "long":
		s.setTarget(ctx, s.Qty, "long")
	case "short":
		s.setTarget(ctx, -s.Qty, "short")
	default:
		s.setTarget(ctx, 0, "flat")
	}
}

func (s *MaCross) OnTick(ctx *engine.Context) {}

func (s *MaCross) OnEvent(ctx *engine.Context, event types.Event) {
	if m, ok := event.(types.MarkPrice); ok && m.Symbol == s.Symbol {
		s.sampleEquity(ctx, m.EventTimeMsVal, m.MarkPriceVal)
	}

	if s.builder == nil {
		return
	}

	var tMs int64
	var price float64
	switch s.PriceSource {
	case SourceMark:
		m, ok := event.(types.MarkPrice)
		if !ok || m.Symbol != s.Symbol {
			return
		}
		tMs, price = m.EventTimeMsVal, m.MarkPriceVal
	default: // SourceTrade
		tr, ok := event.(types.Trade)
		if !ok || tr.Symbol != s.Symbol {
			return
		}
		tMs, price = tr.EventTimeMsVal, tr.Price
	}

	for _, b := range s.builder.OnPrice(tMs, price) {
		s.onClosedBar(b, ctx)
	}
}

func (s *MaCross) sampleEquity(ctx *engine.Context, tMs int64, markPrice float64) {
	eq := ctx.Broker.Equity(map[string]float64{s.Symbol: markPrice})
	s.EquityCurve = append(s.EquityCurve, EquityPoint{TimeMs: tMs, Equity: eq})
}

func (s *MaCross) OnEnd(ctx *engine.Context) {
	s.setTarget(ctx, 0, "end")
}
