package engine

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"garm/internal/types"
)

// BrokerTimeMode selects when on_time is called relative to an event's own
// dispatch within the same timestamp.
type BrokerTimeMode int

const (
	// BeforeEvent calls broker.OnTime before the event is dispatched.
	BeforeEvent BrokerTimeMode = iota
	// AfterEvent calls broker.OnTime after the event is dispatched.
	AfterEvent
)

// Strategy is the callback surface a backtest implements.
type Strategy interface {
	OnStart(ctx *Context)
	OnTick(ctx *Context)
	OnEvent(ctx *Context, event types.Event)
	OnEnd(ctx *Context)
}

// Config parameterizes the tick grid and ordering semantics of one run.
type Config struct {
	TickIntervalMs           int64 // <= 0 disables the tick grid entirely
	BrokerTimeMode           BrokerTimeMode
	StrictEventTimeMonotonic bool
	EmitFinalTick            bool
}

// BacktestEngine drives a merged event stream through a Strategy.
type BacktestEngine struct {
	cfg      Config
	ctx      *Context
	strategy Strategy

	lastEventTimeMs int64
	haveLastEvent   bool
	nextTickMs      int64
	tickAnchored    bool
}

// New constructs a BacktestEngine. Call on_start via Run, not here.
func New(cfg Config, ctx *Context, strategy Strategy) *BacktestEngine {
	return &BacktestEngine{cfg: cfg, ctx: ctx, strategy: strategy}
}

// Run drives events (already merged into non-decreasing event_time_ms
// order) through the tick grid and strategy callbacks.
func (e *BacktestEngine) Run(events []types.Event) error {
	e.strategy.OnStart(e.ctx)

	for _, ev := range events {
		if err := e.processEvent(ev); err != nil {
			return err
		}
	}

	if e.cfg.EmitFinalTick && e.tickAnchored {
		e.ctx.NowMs = e.nextTickMs
		e.ctx.Broker.OnTime(e.nextTickMs)
		e.strategy.OnTick(e.ctx)
	}

	e.strategy.OnEnd(e.ctx)
	return nil
}

func (e *BacktestEngine) processEvent(ev types.Event) error {
	t := ev.EventTimeMs()

	if e.cfg.StrictEventTimeMonotonic && e.haveLastEvent && t < e.lastEventTimeMs {
		return fmt.Errorf("engine: event_time_ms %d precedes prior event at %d", t, e.lastEventTimeMs)
	}
	e.lastEventTimeMs = t
	e.haveLastEvent = true

	ticksEnabled := e.cfg.TickIntervalMs > 0
	if ticksEnabled && !e.tickAnchored {
		e.nextTickMs = t
		e.tickAnchored = true
	}

	for ticksEnabled && e.nextTickMs < t {
		e.ctx.NowMs = e.nextTickMs
		e.ctx.Broker.OnTime(e.nextTickMs)
		e.strategy.OnTick(e.ctx)
		e.nextTickMs += e.cfg.TickIntervalMs
	}

	e.ctx.NowMs = t
	if e.cfg.BrokerTimeMode == BeforeEvent {
		e.ctx.Broker.OnTime(t)
	}

	e.dispatch(ev)

	if e.cfg.BrokerTimeMode == AfterEvent {
		e.ctx.Broker.OnTime(t)
	}

	if ticksEnabled && e.nextTickMs == t {
		// on_time already ran above (before or after dispatch); just run the
		// strategy's tick callback for this aligned timestamp.
		e.strategy.OnTick(e.ctx)
		e.nextTickMs += e.cfg.TickIntervalMs
	}

	e.strategy.OnEvent(e.ctx, ev)
	return nil
}

func (e *BacktestEngine) dispatch(ev types.Event) {
	switch v := ev.(type) {
	case types.DepthUpdate:
		e.ctx.Broker.OnDepthUpdate(v)
	case types.Trade:
		e.ctx.Broker.OnTrade(v)
	case types.MarkPrice:
		e.ctx.marks[v.Symbol] = v
		e.ctx.applyFundingIfDue(v)
	case types.Ticker:
		e.ctx.tickers[v.Symbol] = v
	case types.OpenInterest:
		e.ctx.openInterest[v.Symbol] = v
	case types.Liquidation:
		e.ctx.liquidations[v.Symbol] = v
	default:
		log.Warn().Msg("engine: unknown event type in dispatch")
	}
}
