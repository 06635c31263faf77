package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"garm/internal/types"
)

func fill(symbol string, side types.Side, qty, price, fee float64, t int64) types.Fill {
	return types.Fill{Symbol: symbol, Side: side, Quantity: qty, Price: price, FeeUsdt: fee, EventTimeMs: t}
}

func TestRoundTripClosesOnReturnToFlat(t *testing.T) {
	fills := []types.Fill{
		fill("BTCUSDT", types.Buy, 1, 100, 0.1, 1000),
		fill("BTCUSDT", types.Sell, 1, 110, 0.1, 2000),
	}
	trips := RoundTripsFromFills(fills)
	require := assert.New(t)
	require.Len(trips, 1)
	rt := trips[0]
	require.Equal("BTCUSDT", rt.Symbol)
	require.Equal(types.Buy, rt.Side)
	require.Equal(int64(1000), rt.EntryTimeMs)
	require.Equal(int64(2000), rt.ExitTimeMs)
	require.InDelta(10.0, rt.GrossPnL, 1e-9)
	require.InDelta(0.2, rt.Fees, 1e-9)
	require.InDelta(9.8, rt.NetPnL, 1e-9)
}

func TestRoundTripZeroPnLOnFlatBuySell(t *testing.T) {
	fills := []types.Fill{
		fill("BTCUSDT", types.Buy, 1, 100, 0, 1000),
		fill("BTCUSDT", types.Sell, 1, 100, 0, 2000),
	}
	trips := RoundTripsFromFills(fills)
	assert.Len(t, trips, 1)
	assert.Equal(t, 0.0, trips[0].NetPnL)
}

func TestRoundTripAveragesInOnSameSignAdds(t *testing.T) {
	fills := []types.Fill{
		fill("BTCUSDT", types.Buy, 1, 100, 0, 1000),
		fill("BTCUSDT", types.Buy, 1, 110, 0, 1500),
		fill("BTCUSDT", types.Sell, 2, 120, 0, 2000),
	}
	trips := RoundTripsFromFills(fills)
	require := assert.New(t)
	require.Len(trips, 1)
	// avg entry = 105, exit at 120 for qty 2 => gross = (120-105)*2 = 30
	require.InDelta(30.0, trips[0].GrossPnL, 1e-9)
	require.InDelta(4.0, trips[0].Quantity, 1e-9)
}

func TestRoundTripSplitsOnFlip(t *testing.T) {
	fills := []types.Fill{
		fill("BTCUSDT", types.Buy, 1, 100, 0, 1000),
		fill("BTCUSDT", types.Sell, 2, 110, 0, 2000), // closes long, opens short 1 @ 110
		fill("BTCUSDT", types.Buy, 1, 105, 0, 3000),  // closes short
	}
	trips := RoundTripsFromFills(fills)
	require := assert.New(t)
	require.Len(trips, 2)
	require.InDelta(10.0, trips[0].GrossPnL, 1e-9) // long closed at +10
	require.Equal(types.Sell, trips[1].Side)
	require.InDelta(5.0, trips[1].GrossPnL, 1e-9) // short closed at 110->105, qty 1
}

func TestRoundTripsIndependentPerSymbol(t *testing.T) {
	fills := []types.Fill{
		fill("BTCUSDT", types.Buy, 1, 100, 0, 1000),
		fill("ETHUSDT", types.Buy, 1, 10, 0, 1000),
		fill("BTCUSDT", types.Sell, 1, 110, 0, 2000),
		fill("ETHUSDT", types.Sell, 1, 12, 0, 2000),
	}
	trips := RoundTripsFromFills(fills)
	assert.Len(t, trips, 2)
}

func TestRoundTripsEmptyFillsReturnsNil(t *testing.T) {
	assert.Nil(t, RoundTripsFromFills(nil))
}

func TestRoundTripsOpenPositionNeverClosed(t *testing.T) {
	fills := []types.Fill{
		fill("BTCUSDT", types.Buy, 1, 100, 0, 1000),
	}
	assert.Empty(t, RoundTripsFromFills(fills))
}

func TestMaxDrawdownOnMonotonicRiseIsZero(t *testing.T) {
	assert.Equal(t, 0.0, MaxDrawdown([]float64{1, 2, 3, 4}))
}

func TestMaxDrawdownFindsDeepestDip(t *testing.T) {
	eq := []float64{100, 120, 90, 95, 130, 80}
	// peak before the deepest dip is 130, dip to 80 => -50
	assert.InDelta(t, -50.0, MaxDrawdown(eq), 1e-9)
}

func TestMaxDrawdownEmptyIsZero(t *testing.T) {
	assert.Equal(t, 0.0, MaxDrawdown(nil))
}
