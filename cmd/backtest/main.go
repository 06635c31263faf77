// Command backtest is a demo CLI wiring the engine, a reference
// strategy, and synthetic in-memory data for a short illustrative run.
// It is not a parquet-reading CLI: concrete file-format readers are
// out of scope for this module (see internal/iterator).
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"garm/internal/align"
	"garm/internal/analytics"
	"garm/internal/broker"
	"garm/internal/engine"
	"garm/internal/iterator"
	"garm/internal/replay"
	"garm/internal/strategies"
	"garm/internal/types"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	symbol := "BTCUSDT"
	streams := syntheticStream(symbol)

	aligner, err := align.New(align.Config{Mode: align.FixedDelay, Base: 20})
	if err != nil {
		log.Fatal().Err(err).Msg("invalid alignment config")
	}

	aligned := make([]replay.Stream, len(streams))
	for i, s := range streams {
		out, err := aligner.Align(s)
		if err != nil {
			log.Fatal().Err(err).Msg("alignment failed")
		}
		aligned[i] = out
	}

	merged := replay.Merge(aligned...)

	b := broker.New(broker.Config{
		MakerFeeRate:     0.0002,
		TakerFeeRate:     0.0004,
		QueueAheadFactor: 1.0,
		Participation:    1.0,
	})
	ctx := engine.NewContext(b)

	strat := &strategies.MaCross{
		Symbol:      symbol,
		Qty:         0.01,
		TfMs:        60_000,
		MaLen:       3,
		Rule:        strategies.RuleCross,
		Mode:        strategies.LongShort,
		PriceSource: strategies.SourceMark,
	}

	eng := engine.New(engine.Config{
		TickIntervalMs: 1_000,
		BrokerTimeMode: engine.BeforeEvent,
		EmitFinalTick:  true,
	}, ctx, strat)

	it := iterator.NewSliceIterator(merged)
	drained, err := iterator.Drain(it)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to drain synthetic stream")
	}

	if err := eng.Run(drained); err != nil {
		log.Fatal().Err(err).Msg("backtest run failed")
	}

	fills := b.Fills()
	trips := analytics.RoundTripsFromFills(fills)

	equity := make([]float64, len(strat.EquityCurve))
	for i, p := range strat.EquityCurve {
		equity[i] = p.Equity
	}
	maxDD := analytics.MaxDrawdown(equity)

	fmt.Printf("fills=%d round_trips=%d realized_pnl=%.4f fees_paid=%.4f max_drawdown=%.4f\n",
		len(fills), len(trips), b.RealizedPnL(), b.FeesPaid(), maxDD)
}

// syntheticStream builds a handful of depth updates, trades, and mark
// prices for one symbol spanning a few minutes, standing in for a real
// per-day stream.
func syntheticStream(symbol string) []replay.Stream {
	var depth replay.Stream
	var trades replay.Stream
	var marks replay.Stream

	price := 100.0
	for i := int64(0); i < 600; i++ {
		t := i * 1000
		bid := price - 0.5
		ask := price + 0.5

		depth = append(depth, types.DepthUpdate{
			Symbol:         symbol,
			EventTimeMsVal: t,
			FinalUpdateID:  i,
			BidUpdates:     []types.PriceLevelUpdate{{Price: bid, Qty: 5}},
			AskUpdates:     []types.PriceLevelUpdate{{Price: ask, Qty: 5}},
		})

		if i%5 == 0 {
			trades = append(trades, types.Trade{
				Symbol:         symbol,
				EventTimeMsVal: t,
				TradeID:        i / 5,
				TradeTimeMs:    t,
				Price:          price,
				Quantity:       0.5,
				IsBuyerMaker:   i%10 == 0,
			})
		}

		if i%60 == 0 {
			marks = append(marks, types.MarkPrice{
				Symbol:         symbol,
				EventTimeMsVal: t,
				MarkPriceVal:   price,
				FundingRate:    0.0001,
			})
		}

		price += driftStep(i)
	}

	return []replay.Stream{depth, trades, marks}
}

// driftStep is a small deterministic wobble so the synthetic price
// trends rather than staying perfectly flat, enough to exercise the
// moving-average cross.
func driftStep(i int64) float64 {
	phase := i % 200
	if phase < 100 {
		return 0.05
	}
	return -0.05
}
