package broker

import (
	"garm/internal/book"
	"garm/internal/types"
)

// WindowMode selects how submits are treated outside the trading window.
type WindowMode int

const (
	// EntryOnly forwards reducing orders even outside the window, rejecting
	// anything that would open or add to a position.
	EntryOnly WindowMode = iota
	// BlockAll rejects every submit outside the window, reducing or not.
	BlockAll
)

// TradingWindowGateConfig bounds the window during which non-reducing
// orders are allowed through.
type TradingWindowGateConfig struct {
	TradingStartMs int64
	TradingEndMs   int64
	Mode           WindowMode
}

// TradingWindowGate wraps a Broker, restricting order entry to a
// configured time window. Reduce-only orders pass only if they reduce the
// position. Outside the window, EntryOnly lets reducing orders through and
// BlockAll rejects every order.
type TradingWindowGate struct {
	inner Broker
	cfg   TradingWindowGateConfig
}

// NewTradingWindowGate wraps inner with the given window config.
func NewTradingWindowGate(inner Broker, cfg TradingWindowGateConfig) *TradingWindowGate {
	return &TradingWindowGate{inner: inner, cfg: cfg}
}

// reduces reports whether order would reduce (not flip past flat) the
// symbol's current position: the position is non-zero, the order opposes
// its sign, and the order's quantity doesn't exceed it beyond an epsilon.
func (g *TradingWindowGate) reduces(order types.Order) bool {
	pos := g.inner.Position(order.Symbol)
	if pos == 0 {
		return false
	}
	opposes := (pos > 0 && order.Side == types.Sell) || (pos < 0 && order.Side == types.Buy)
	if !opposes {
		return false
	}
	return order.Quantity <= abs(pos)+1e-9
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Submit enforces reduce-only semantics first, then the trading-window
// policy for everything else.
func (g *TradingWindowGate) Submit(order types.Order, nowMs int64) (string, error) {
	if order.ReduceOnly && !g.reduces(order) {
		return "", errRejected("reduce-only order would not reduce position")
	}

	inWindow := nowMs >= g.cfg.TradingStartMs && nowMs <= g.cfg.TradingEndMs
	if inWindow {
		return g.inner.Submit(order, nowMs)
	}

	switch g.cfg.Mode {
	case EntryOnly:
		if g.reduces(order) {
			return g.inner.Submit(order, nowMs)
		}
		return "", errRejected("outside trading window, order does not reduce position")
	default: // BlockAll
		return "", errRejected("outside trading window")
	}
}

func (g *TradingWindowGate) Cancel(orderID string, nowMs int64) { g.inner.Cancel(orderID, nowMs) }
func (g *TradingWindowGate) CancelSymbolOrders(symbol string, cancelActiveMakers, cancelPendingSubmits bool, nowMs int64) {
	g.inner.CancelSymbolOrders(symbol, cancelActiveMakers, cancelPendingSubmits, nowMs)
}
func (g *TradingWindowGate) OnTime(nowMs int64)                  { g.inner.OnTime(nowMs) }
func (g *TradingWindowGate) OnDepthUpdate(du types.DepthUpdate)  { g.inner.OnDepthUpdate(du) }
func (g *TradingWindowGate) OnTrade(trade types.Trade)           { g.inner.OnTrade(trade) }
func (g *TradingWindowGate) Fills() []types.Fill                 { return g.inner.Fills() }
func (g *TradingWindowGate) Book(symbol string) *book.L2Book     { return g.inner.Book(symbol) }
func (g *TradingWindowGate) Position(symbol string) float64      { return g.inner.Position(symbol) }
func (g *TradingWindowGate) HasPendingOrders(symbol string) bool { return g.inner.HasPendingOrders(symbol) }
func (g *TradingWindowGate) HasOpenOrders(symbol string) bool    { return g.inner.HasOpenOrders(symbol) }
func (g *TradingWindowGate) ApplyFunding(symbol string, markPrice, fundingRate float64) {
	g.inner.ApplyFunding(symbol, markPrice, fundingRate)
}
func (g *TradingWindowGate) RealizedPnL() float64                    { return g.inner.RealizedPnL() }
func (g *TradingWindowGate) FeesPaid() float64                        { return g.inner.FeesPaid() }
func (g *TradingWindowGate) Equity(marks map[string]float64) float64 { return g.inner.Equity(marks) }
