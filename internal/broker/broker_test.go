package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"garm/internal/types"
)

func seedBook(b *SimBroker, symbol string) {
	bk := b.Book(symbol)
	bk.ApplyLevel(types.Buy, 99.0, 5.0)
	bk.ApplyLevel(types.Buy, 98.5, 5.0)
	bk.ApplyLevel(types.Sell, 100.0, 5.0)
	bk.ApplyLevel(types.Sell, 100.5, 5.0)
}

func TestSubmitMarketOrderFillsImmediately(t *testing.T) {
	b := New(DefaultConfig())
	seedBook(b, "BTCUSDT")

	_, err := b.Submit(types.Order{Symbol: "BTCUSDT", Side: types.Buy, OrderType: types.MarketOrder, Quantity: 2.0}, 0)
	require.NoError(t, err)

	fills := b.Fills()
	require.Len(t, fills, 1)
	assert.Equal(t, types.Taker, fills[0].Liquidity)
	assert.InDelta(t, 100.0, fills[0].Price, 1e-9)
}

func TestPostOnlyRejectsSilentlyWhenCrossing(t *testing.T) {
	b := New(DefaultConfig())
	seedBook(b, "BTCUSDT")

	id, err := b.Submit(types.Order{Symbol: "BTCUSDT", Side: types.Buy, OrderType: types.LimitOrder, PostOnly: true, Price: 100.5, Quantity: 1.0}, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Empty(t, b.Fills())
	assert.False(t, b.HasOpenOrders("BTCUSDT"))
}

func TestPostOnlyRestsWhenNotCrossing(t *testing.T) {
	b := New(DefaultConfig())
	seedBook(b, "BTCUSDT")

	_, err := b.Submit(types.Order{Symbol: "BTCUSDT", Side: types.Buy, OrderType: types.LimitOrder, PostOnly: true, Price: 99.0, Quantity: 1.0}, 0)
	require.NoError(t, err)
	assert.True(t, b.HasOpenOrders("BTCUSDT"))
}

func TestIOCLimitDiscardsUnfilledRemainder(t *testing.T) {
	b := New(DefaultConfig())
	seedBook(b, "BTCUSDT")

	limit := 100.0
	_, err := b.Submit(types.Order{Symbol: "BTCUSDT", Side: types.Buy, OrderType: types.LimitOrder, TimeInForce: types.IOC, Price: limit, Quantity: 10.0}, 0)
	require.NoError(t, err)

	fills := b.Fills()
	require.Len(t, fills, 1)
	assert.InDelta(t, 5.0, fills[0].Quantity, 1e-9) // only the 100.0 level qualifies
	assert.False(t, b.HasOpenOrders("BTCUSDT"))
}

func TestGTCLimitTakesThenRestsRemainder(t *testing.T) {
	b := New(DefaultConfig())
	seedBook(b, "BTCUSDT")

	_, err := b.Submit(types.Order{Symbol: "BTCUSDT", Side: types.Buy, OrderType: types.LimitOrder, Price: 100.0, Quantity: 8.0}, 0)
	require.NoError(t, err)

	fills := b.Fills()
	require.Len(t, fills, 1)
	assert.InDelta(t, 5.0, fills[0].Quantity, 1e-9)
	assert.True(t, b.HasOpenOrders("BTCUSDT"))
}

func TestSubmitLatencyQueuesUntilOnTime(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SubmitLatencyMs = 100
	b := New(cfg)
	seedBook(b, "BTCUSDT")

	_, err := b.Submit(types.Order{Symbol: "BTCUSDT", Side: types.Buy, OrderType: types.MarketOrder, Quantity: 1.0}, 0)
	require.NoError(t, err)
	assert.Empty(t, b.Fills())
	assert.True(t, b.HasPendingOrders("BTCUSDT"))

	b.OnTime(50)
	assert.Empty(t, b.Fills(), "not due yet")

	b.OnTime(100)
	assert.Len(t, b.Fills(), 1)
	assert.False(t, b.HasPendingOrders("BTCUSDT"))
}

func TestCancelBeforeActivationDiscardsLatentSubmit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SubmitLatencyMs = 100
	b := New(cfg)
	seedBook(b, "BTCUSDT")

	id, err := b.Submit(types.Order{ID: "order-1", Symbol: "BTCUSDT", Side: types.Buy, OrderType: types.MarketOrder, Quantity: 1.0}, 0)
	require.NoError(t, err)

	b.Cancel(id, 10) // cancels immediately (no cancel latency configured)
	b.OnTime(100)    // submit becomes due, but its seq predates the cancel cutoff

	assert.Empty(t, b.Fills())
}

func TestCancelRemovesRestingMakerOrder(t *testing.T) {
	b := New(DefaultConfig())
	seedBook(b, "BTCUSDT")

	id, err := b.Submit(types.Order{Symbol: "BTCUSDT", Side: types.Buy, OrderType: types.LimitOrder, PostOnly: true, Price: 99.0, Quantity: 1.0}, 0)
	require.NoError(t, err)
	require.True(t, b.HasOpenOrders("BTCUSDT"))

	b.Cancel(id, 0)
	assert.False(t, b.HasOpenOrders("BTCUSDT"))
}

func TestOnTradeFillsRestingMakerAtItsPrice(t *testing.T) {
	b := New(DefaultConfig())
	seedBook(b, "BTCUSDT")

	_, err := b.Submit(types.Order{Symbol: "BTCUSDT", Side: types.Buy, OrderType: types.LimitOrder, PostOnly: true, Price: 99.0, Quantity: 1.0}, 0)
	require.NoError(t, err)

	// Maker placed with queue_ahead = visible qty at 99.0 = 5.0 (QueueAheadFactor=1).
	// A seller-initiated trade (is_buyer_maker=true) at 99.0 for 5.0 drains
	// the queue but doesn't fill; a second trade of 2.0 fills us.
	b.OnTrade(types.Trade{Symbol: "BTCUSDT", Price: 99.0, Quantity: 5.0, IsBuyerMaker: true})
	assert.Empty(t, b.Fills())
	assert.True(t, b.HasOpenOrders("BTCUSDT"))

	b.OnTrade(types.Trade{Symbol: "BTCUSDT", Price: 99.0, Quantity: 2.0, IsBuyerMaker: true})
	fills := b.Fills()
	require.Len(t, fills, 1)
	assert.Equal(t, types.Maker, fills[0].Liquidity)
	assert.InDelta(t, 1.0, fills[0].Quantity, 1e-9)
	assert.False(t, b.HasOpenOrders("BTCUSDT"))
}

func TestOnDepthUpdateShrinksQueueAheadOnly(t *testing.T) {
	b := New(DefaultConfig())
	seedBook(b, "BTCUSDT")

	_, err := b.Submit(types.Order{Symbol: "BTCUSDT", Side: types.Buy, OrderType: types.LimitOrder, PostOnly: true, Price: 99.0, Quantity: 1.0}, 0)
	require.NoError(t, err)

	b.OnDepthUpdate(types.DepthUpdate{Symbol: "BTCUSDT", BidUpdates: []types.PriceLevelUpdate{{Price: 99.0, Qty: 2.0}}})
	// A trade of 3.0 now drains queue_ahead (down to 2.0) and the 1.0
	// excess fills us; with the unshrunk queue of 5.0 it would not.
	b.OnTrade(types.Trade{Symbol: "BTCUSDT", Price: 99.0, Quantity: 3.0, IsBuyerMaker: true})

	fills := b.Fills()
	require.Len(t, fills, 1)
	assert.InDelta(t, 1.0, fills[0].Quantity, 1e-9)
}

func TestCancelSymbolOrdersRemovesActiveMakers(t *testing.T) {
	b := New(DefaultConfig())
	seedBook(b, "BTCUSDT")

	_, err := b.Submit(types.Order{Symbol: "BTCUSDT", Side: types.Buy, OrderType: types.LimitOrder, PostOnly: true, Price: 99.0, Quantity: 1.0}, 0)
	require.NoError(t, err)

	b.CancelSymbolOrders("BTCUSDT", true, true, 0)
	assert.False(t, b.HasOpenOrders("BTCUSDT"))
}

func TestCancelSymbolOrdersDiscardsPendingSubmits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SubmitLatencyMs = 100
	b := New(cfg)
	seedBook(b, "BTCUSDT")

	_, err := b.Submit(types.Order{Symbol: "BTCUSDT", Side: types.Buy, OrderType: types.MarketOrder, Quantity: 1.0}, 0)
	require.NoError(t, err)

	b.CancelSymbolOrders("BTCUSDT", false, true, 10)
	b.OnTime(100)
	assert.Empty(t, b.Fills())
}

func TestPositionReflectsAppliedFills(t *testing.T) {
	b := New(DefaultConfig())
	seedBook(b, "BTCUSDT")

	_, err := b.Submit(types.Order{Symbol: "BTCUSDT", Side: types.Buy, OrderType: types.MarketOrder, Quantity: 2.0}, 0)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, b.Position("BTCUSDT"), 1e-9)
}
