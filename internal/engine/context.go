// Package engine drives the tick-aligned event loop: it pulls merged
// events, dispatches them to the book/broker/context caches, applies
// funding at most once per funding timestamp per symbol, and calls the
// strategy's lifecycle hooks in the order spec.md prescribes.
package engine

import (
	"garm/internal/broker"
	"garm/internal/types"
)

// Context is the mutable state a Strategy observes and acts through: the
// current simulated time, the broker (for submit/cancel), and per-symbol
// caches of the latest ancillary snapshots.
type Context struct {
	NowMs int64

	Broker broker.Broker

	marks        map[string]types.MarkPrice
	tickers      map[string]types.Ticker
	openInterest map[string]types.OpenInterest
	liquidations map[string]types.Liquidation

	fundingWatermark map[string]int64
}

// NewContext constructs an empty Context wired to a broker.
func NewContext(b broker.Broker) *Context {
	return &Context{
		Broker:           b,
		marks:            make(map[string]types.MarkPrice),
		tickers:          make(map[string]types.Ticker),
		openInterest:     make(map[string]types.OpenInterest),
		liquidations:     make(map[string]types.Liquidation),
		fundingWatermark: make(map[string]int64),
	}
}

// MarkPrice returns the symbol's most recently cached mark price snapshot.
func (c *Context) MarkPrice(symbol string) (types.MarkPrice, bool) {
	m, ok := c.marks[symbol]
	return m, ok
}

// Ticker returns the symbol's most recently cached ticker snapshot.
func (c *Context) Ticker(symbol string) (types.Ticker, bool) {
	t, ok := c.tickers[symbol]
	return t, ok
}

// OpenInterest returns the symbol's most recently cached open-interest snapshot.
func (c *Context) OpenInterest(symbol string) (types.OpenInterest, bool) {
	oi, ok := c.openInterest[symbol]
	return oi, ok
}

// Liquidation returns the symbol's most recently cached liquidation print.
func (c *Context) Liquidation(symbol string) (types.Liquidation, bool) {
	l, ok := c.liquidations[symbol]
	return l, ok
}

// applyFundingIfDue settles a funding payment at most once per funding
// timestamp per symbol, tracked by a per-symbol watermark of the last
// next_funding_time_ms applied.
func (c *Context) applyFundingIfDue(m types.MarkPrice) {
	if m.NextFundingTimeMs <= 0 || m.EventTimeMsVal < m.NextFundingTimeMs {
		return
	}
	if watermark, ok := c.fundingWatermark[m.Symbol]; ok && m.NextFundingTimeMs <= watermark {
		return
	}
	c.fundingWatermark[m.Symbol] = m.NextFundingTimeMs
	c.Broker.ApplyFunding(m.Symbol, m.MarkPriceVal, m.FundingRate)
}
