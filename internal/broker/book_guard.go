package broker

import (
	"github.com/rs/zerolog/log"

	"garm/internal/book"
	"garm/internal/types"
)

// BookGuardConfig parameterizes per-symbol book-validity checks: sequence
// continuity, staleness, crossed-book detection, and spread bounds.
type BookGuardConfig struct {
	Enabled            bool
	Symbol             string
	MaxStalenessMs     int64
	MaxSpread          *float64 // absolute price units; nil disables the check
	MaxSpreadBps       *float64 // basis points; nil disables the check
	WarmupDepthUpdates int
	CooldownMs         int64
	ResetOnMismatch    bool
	ResetOnCrossed     bool
	ResetOnMissingSide bool
	ResetOnSpread      bool
	ResetOnStale       bool
}

// guardState is one symbol's running book-validity bookkeeping.
type guardState struct {
	blockedUntilMs    int64
	warmupRemaining   int
	lastFinalUpdateID int64
	haveLastFinal     bool
	lastDepthEventMs  int64

	cooldownRejectCount int64
	mismatchCount       int64
	crossedCount        int64
	staleCount          int64
	spreadCount         int64
	missingCount        int64
}

// BookGuard wraps a Broker, rejecting submits while the book looks
// untrustworthy (stale, crossed, too wide, missing a side, or after a
// sequence gap) and
// resetting the book on a trip when configured to.
type BookGuard struct {
	inner Broker
	cfg   BookGuardConfig
	state guardState
}

// NewBookGuard wraps inner with the given config.
func NewBookGuard(inner Broker, cfg BookGuardConfig) *BookGuard {
	g := &BookGuard{inner: inner, cfg: cfg}
	g.state.warmupRemaining = cfg.WarmupDepthUpdates
	return g
}

func (g *BookGuard) applies(symbol string) bool {
	return g.cfg.Enabled && symbol == g.cfg.Symbol
}

// OnDepthUpdate runs the per-update validity checks before and after
// applying the update to the book, per spec order: decrement warmup, check
// sequence continuity, apply, then check for a crossed book.
func (g *BookGuard) OnDepthUpdate(du types.DepthUpdate) {
	if !g.applies(du.Symbol) {
		g.inner.OnDepthUpdate(du)
		return
	}

	if g.state.warmupRemaining > 0 {
		g.state.warmupRemaining--
	}

	if g.state.haveLastFinal && du.PrevFinalUpdateID != g.state.lastFinalUpdateID {
		g.state.mismatchCount++
		g.trip("mismatch", g.cfg.ResetOnMismatch, du.EventTimeMsVal)
	}
	g.state.lastFinalUpdateID = du.FinalUpdateID
	g.state.haveLastFinal = true
	g.state.lastDepthEventMs = du.EventTimeMsVal

	g.inner.OnDepthUpdate(du)

	bk := g.inner.Book(du.Symbol)
	bid, okBid := bk.BestBid()
	ask, okAsk := bk.BestAsk()
	if okBid && okAsk && bid >= ask {
		g.state.crossedCount++
		g.trip("crossed", g.cfg.ResetOnCrossed, du.EventTimeMsVal)
	}
}

// trip extends the cooldown, resets warmup, and sets the symbol's cancel
// cutoff so submits still pending at the trip are discarded when they come
// due. If resetOnThisReason is true, it also clears the book and drops the
// symbol's active makers.
func (g *BookGuard) trip(reason string, resetOnThisReason bool, nowMs int64) {
	g.state.blockedUntilMs = nowMs + g.cfg.CooldownMs
	g.state.warmupRemaining = g.cfg.WarmupDepthUpdates

	log.Warn().Str("symbol", g.cfg.Symbol).Str("reason", reason).Msg("book guard tripped")

	if !resetOnThisReason {
		g.inner.CancelSymbolOrders(g.cfg.Symbol, false, true, nowMs)
		return
	}
	g.inner.Book(g.cfg.Symbol).Clear()
	g.inner.CancelSymbolOrders(g.cfg.Symbol, true, true, nowMs)
	g.state.haveLastFinal = false
}

// Submit rejects in the order spec.md prescribes: cooldown, warmup,
// staleness, missing side, crossed, absolute spread, spread in bps.
func (g *BookGuard) Submit(order types.Order, nowMs int64) (string, error) {
	if !g.applies(order.Symbol) {
		return g.inner.Submit(order, nowMs)
	}

	if nowMs < g.state.blockedUntilMs {
		g.state.cooldownRejectCount++
		return "", errRejected("cooldown active")
	}
	if g.state.warmupRemaining > 0 {
		return "", errRejected("warmup still active")
	}
	if g.cfg.MaxStalenessMs > 0 && nowMs-g.state.lastDepthEventMs > g.cfg.MaxStalenessMs {
		g.state.staleCount++
		g.trip("stale", g.cfg.ResetOnStale, nowMs)
		return "", errRejected("book stale")
	}

	bk := g.inner.Book(order.Symbol)
	bid, okBid := bk.BestBid()
	ask, okAsk := bk.BestAsk()
	if !okBid || !okAsk {
		g.state.missingCount++
		g.trip("missing_side", g.cfg.ResetOnMissingSide, nowMs)
		return "", errRejected("missing bid or ask")
	}
	if bid >= ask {
		g.state.crossedCount++
		g.trip("crossed", g.cfg.ResetOnCrossed, nowMs)
		return "", errRejected("crossed book")
	}
	spread := ask - bid
	if g.cfg.MaxSpread != nil && spread > *g.cfg.MaxSpread {
		g.state.spreadCount++
		g.trip("spread", g.cfg.ResetOnSpread, nowMs)
		return "", errRejected("spread too wide")
	}
	if g.cfg.MaxSpreadBps != nil {
		mid, ok := bk.MidPrice()
		if ok && mid > 0 {
			bps := spread / mid * 10000
			if bps > *g.cfg.MaxSpreadBps {
				g.state.spreadCount++
				g.trip("spread_bps", g.cfg.ResetOnSpread, nowMs)
				return "", errRejected("spread bps too wide")
			}
		}
	}

	return g.inner.Submit(order, nowMs)
}

func (g *BookGuard) Cancel(orderID string, nowMs int64) { g.inner.Cancel(orderID, nowMs) }
func (g *BookGuard) CancelSymbolOrders(symbol string, cancelActiveMakers, cancelPendingSubmits bool, nowMs int64) {
	g.inner.CancelSymbolOrders(symbol, cancelActiveMakers, cancelPendingSubmits, nowMs)
}
func (g *BookGuard) OnTime(nowMs int64)                  { g.inner.OnTime(nowMs) }
func (g *BookGuard) OnTrade(trade types.Trade)           { g.inner.OnTrade(trade) }
func (g *BookGuard) Fills() []types.Fill                 { return g.inner.Fills() }
func (g *BookGuard) Book(symbol string) *book.L2Book     { return g.inner.Book(symbol) }
func (g *BookGuard) Position(symbol string) float64      { return g.inner.Position(symbol) }
func (g *BookGuard) HasPendingOrders(symbol string) bool { return g.inner.HasPendingOrders(symbol) }
func (g *BookGuard) HasOpenOrders(symbol string) bool    { return g.inner.HasOpenOrders(symbol) }
func (g *BookGuard) ApplyFunding(symbol string, markPrice, fundingRate float64) {
	g.inner.ApplyFunding(symbol, markPrice, fundingRate)
}
func (g *BookGuard) RealizedPnL() float64                     { return g.inner.RealizedPnL() }
func (g *BookGuard) FeesPaid() float64                         { return g.inner.FeesPaid() }
func (g *BookGuard) Equity(marks map[string]float64) float64  { return g.inner.Equity(marks) }

// rejectedError is a sentinel-style error carrying the guard's rejection
// reason for logging and strategy introspection.
type rejectedError struct{ reason string }

func (e *rejectedError) Error() string { return "broker: submit rejected: " + e.reason }

func errRejected(reason string) error { return &rejectedError{reason: reason} }
