package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"garm/internal/broker"
	"garm/internal/types"
)

type recordingStrategy struct {
	starts   int
	ticks    []int64
	events   []types.Event
	ends     int
}

func (s *recordingStrategy) OnStart(ctx *Context)               { s.starts++ }
func (s *recordingStrategy) OnTick(ctx *Context)                { s.ticks = append(s.ticks, ctx.NowMs) }
func (s *recordingStrategy) OnEvent(ctx *Context, e types.Event) { s.events = append(s.events, e) }
func (s *recordingStrategy) OnEnd(ctx *Context)                  { s.ends++ }

func trade(t int64) types.Trade {
	return types.Trade{EventTimeMsVal: t}
}

func TestRunCallsLifecycleHooksInOrder(t *testing.T) {
	b := broker.New(broker.DefaultConfig())
	ctx := NewContext(b)
	strat := &recordingStrategy{}
	e := New(Config{}, ctx, strat)

	require.NoError(t, e.Run([]types.Event{trade(100), trade(200)}))
	assert.Equal(t, 1, strat.starts)
	assert.Equal(t, 1, strat.ends)
	assert.Len(t, strat.events, 2)
}

func TestTickGridAnchorsToFirstEventAndAdvances(t *testing.T) {
	b := broker.New(broker.DefaultConfig())
	ctx := NewContext(b)
	strat := &recordingStrategy{}
	e := New(Config{TickIntervalMs: 100}, ctx, strat)

	require.NoError(t, e.Run([]types.Event{trade(1050), trade(1260)}))
	// Ticks fire at 1050 (anchor, aligned to first event), then 1150 and
	// 1250 before the second event is dispatched. 1260 is not on the grid,
	// so no tick fires at it; the next tick is due at 1350.
	assert.Contains(t, strat.ticks, int64(1050))
	assert.Contains(t, strat.ticks, int64(1150))
}

func TestEmitFinalTickFiresAfterLastEvent(t *testing.T) {
	b := broker.New(broker.DefaultConfig())
	ctx := NewContext(b)
	strat := &recordingStrategy{}
	e := New(Config{TickIntervalMs: 100, EmitFinalTick: true}, ctx, strat)

	require.NoError(t, e.Run([]types.Event{trade(100)}))
	// 100 is the tick aligned to the event; 200 is the final tick.
	assert.Equal(t, []int64{100, 200}, strat.ticks)
}

func TestStrictMonotonicFailsOnOutOfOrderEvent(t *testing.T) {
	b := broker.New(broker.DefaultConfig())
	ctx := NewContext(b)
	strat := &recordingStrategy{}
	e := New(Config{StrictEventTimeMonotonic: true}, ctx, strat)

	err := e.Run([]types.Event{trade(200), trade(100)})
	assert.Error(t, err)
}

func TestDepthUpdateRoutesToBroker(t *testing.T) {
	b := broker.New(broker.DefaultConfig())
	ctx := NewContext(b)
	strat := &recordingStrategy{}
	e := New(Config{}, ctx, strat)

	du := types.DepthUpdate{Symbol: "BTCUSDT", EventTimeMsVal: 100, BidUpdates: []types.PriceLevelUpdate{{Price: 100, Qty: 1}}}
	require.NoError(t, e.Run([]types.Event{du}))

	bid, ok := b.Book("BTCUSDT").BestBid()
	require.True(t, ok)
	assert.Equal(t, 100.0, bid)
}

func TestMarkPriceCachesAndAppliesFundingOnce(t *testing.T) {
	b := broker.New(broker.DefaultConfig())
	_, err := b.Submit(types.Order{Symbol: "BTCUSDT", Side: types.Buy, OrderType: types.MarketOrder, Quantity: 0}, 0)
	_ = err
	ctx := NewContext(b)
	strat := &recordingStrategy{}
	e := New(Config{}, ctx, strat)

	m1 := types.MarkPrice{Symbol: "BTCUSDT", EventTimeMsVal: 1000, MarkPriceVal: 100, FundingRate: 0.01, NextFundingTimeMs: 1000}
	m2 := types.MarkPrice{Symbol: "BTCUSDT", EventTimeMsVal: 1001, MarkPriceVal: 100, FundingRate: 0.01, NextFundingTimeMs: 1000}

	require.NoError(t, e.Run([]types.Event{m1, m2}))

	cached, ok := ctx.MarkPrice("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, int64(1001), cached.EventTimeMsVal)
	assert.Equal(t, int64(1000), ctx.fundingWatermark["BTCUSDT"])
}

func TestFundingNotAppliedBeforeItsDue(t *testing.T) {
	b := broker.New(broker.DefaultConfig())
	ctx := NewContext(b)
	m := types.MarkPrice{Symbol: "BTCUSDT", EventTimeMsVal: 500, NextFundingTimeMs: 1000}
	ctx.applyFundingIfDue(m)
	_, applied := ctx.fundingWatermark["BTCUSDT"]
	assert.False(t, applied)
}
