package strategies

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"garm/internal/broker"
	"garm/internal/engine"
	"garm/internal/types"
)

func TestBarBuilderAccumulatesAndCloses(t *testing.T) {
	bb := &BarBuilder{TfMs: 100}
	closed := bb.OnPrice(0, 10)
	assert.Empty(t, closed)

	closed = bb.OnPrice(50, 12)
	assert.Empty(t, closed)

	closed = bb.OnPrice(110, 8)
	require.Len(t, closed, 1)
	assert.Equal(t, 10.0, closed[0].Open)
	assert.Equal(t, 12.0, closed[0].High)
	assert.Equal(t, 10.0, closed[0].Low)
	assert.Equal(t, 12.0, closed[0].Close)
}

func TestBarBuilderFillsMissingBars(t *testing.T) {
	bb := &BarBuilder{TfMs: 100, FillMissing: true}
	bb.OnPrice(0, 10)
	closed := bb.OnPrice(310, 20)
	// bar 0 closes, plus synthetic bars for 100 and 200 at last close (10).
	require.Len(t, closed, 3)
	assert.Equal(t, 10.0, closed[1].Close)
	assert.Equal(t, 10.0, closed[2].Close)
}

func seededBook(b *broker.SimBroker, symbol string) {
	b.OnDepthUpdate(types.DepthUpdate{
		Symbol:     symbol,
		BidUpdates: []types.PriceLevelUpdate{{Price: 99, Qty: 100}},
		AskUpdates: []types.PriceLevelUpdate{{Price: 101, Qty: 100}},
	})
}

func TestMaCrossOpensLongOnUpwardCross(t *testing.T) {
	b := broker.New(broker.DefaultConfig())
	seededBook(b, "BTCUSDT")
	ctx := engine.NewContext(b)

	s := &MaCross{Symbol: "BTCUSDT", Qty: 1, TfMs: 10, MaLen: 2, PriceSource: SourceMark}
	s.OnStart(ctx)

	// Flat bars sit on the MA (diff 0), then a bar above it triggers a cross
	// to long.
	prices := []float64{100, 100, 100, 130}
	for i, p := range prices {
		ev := types.MarkPrice{Symbol: "BTCUSDT", EventTimeMsVal: int64(i) * 10, MarkPriceVal: p}
		s.OnEvent(ctx, ev)
	}
	// Force the last bar closed by advancing time.
	s.OnEvent(ctx, types.MarkPrice{Symbol: "BTCUSDT", EventTimeMsVal: 100, MarkPriceVal: 130})

	assert.Equal(t, 1.0, b.Position("BTCUSDT"))
}

func TestMaCrossLongOnlyNeverShorts(t *testing.T) {
	b := broker.New(broker.DefaultConfig())
	seededBook(b, "BTCUSDT")
	ctx := engine.NewContext(b)

	s := &MaCross{Symbol: "BTCUSDT", Qty: 1, TfMs: 10, MaLen: 2, Mode: LongOnly, Rule: RuleState, PriceSource: SourceMark}
	s.OnStart(ctx)

	for i, p := range []float64{100, 100, 80, 70} {
		s.OnEvent(ctx, types.MarkPrice{Symbol: "BTCUSDT", EventTimeMsVal: int64(i) * 10, MarkPriceVal: p})
	}
	s.OnEvent(ctx, types.MarkPrice{Symbol: "BTCUSDT", EventTimeMsVal: 100, MarkPriceVal: 70})

	assert.GreaterOrEqual(t, b.Position("BTCUSDT"), 0.0)
}

func TestMaCrossOnEndFlattens(t *testing.T) {
	b := broker.New(broker.DefaultConfig())
	seededBook(b, "BTCUSDT")
	ctx := engine.NewContext(b)

	s := &MaCross{Symbol: "BTCUSDT", Qty: 1, TfMs: 10, MaLen: 1, Rule: RuleState, PriceSource: SourceMark}
	s.OnStart(ctx)
	s.OnEvent(ctx, types.MarkPrice{Symbol: "BTCUSDT", EventTimeMsVal: 0, MarkPriceVal: 100})
	s.OnEvent(ctx, types.MarkPrice{Symbol: "BTCUSDT", EventTimeMsVal: 10, MarkPriceVal: 110})

	require.NotEqual(t, 0.0, b.Position("BTCUSDT"))
	s.OnEnd(ctx)
	assert.Equal(t, 0.0, b.Position("BTCUSDT"))
}
