// Package types holds the event and order domain model shared by every
// other package: market-data events coming off the replay merger, and the
// order/fill shapes the broker and portfolio operate on.
package types

// Side is which side of the book an order or trade sits on.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// OrderType distinguishes market orders (immediate, no limit) from limit orders.
type OrderType int

const (
	MarketOrder OrderType = iota
	LimitOrder
)

func (t OrderType) String() string {
	if t == MarketOrder {
		return "market"
	}
	return "limit"
}

// TimeInForce controls what happens to the unfilled remainder of a limit order.
type TimeInForce int

const (
	GTC TimeInForce = iota // good-til-canceled: rests until filled or canceled
	IOC                    // immediate-or-cancel: unfilled remainder is discarded
)

func (tif TimeInForce) String() string {
	if tif == IOC {
		return "IOC"
	}
	return "GTC"
}

// Liquidity marks whether a fill crossed the spread (taker) or rested (maker).
type Liquidity int

const (
	Taker Liquidity = iota
	Maker
)

func (l Liquidity) String() string {
	if l == Taker {
		return "taker"
	}
	return "maker"
}

// Event is the common shape every market-data variant satisfies: a logical
// event time and the capture wall-clock used for tie-break and lag
// measurement. A zero ReceivedTimeNs means "absent" (see replay.EventID).
type Event interface {
	EventTimeMs() int64
	ReceivedTimeNs() int64
}

// PriceLevelUpdate is one (price, qty) entry in a DepthUpdate; qty == 0 removes the level.
type PriceLevelUpdate struct {
	Price float64
	Qty   float64
}

// DepthUpdate carries an incremental L2 book update for one symbol.
type DepthUpdate struct {
	Symbol            string
	EventTimeMsVal    int64
	ReceivedTimeNsVal int64
	FirstUpdateID     int64
	FinalUpdateID     int64
	PrevFinalUpdateID int64
	BidUpdates        []PriceLevelUpdate
	AskUpdates        []PriceLevelUpdate
}

func (e DepthUpdate) EventTimeMs() int64    { return e.EventTimeMsVal }
func (e DepthUpdate) ReceivedTimeNs() int64 { return e.ReceivedTimeNsVal }

// Trade is one executed trade print on the exchange tape.
// IsBuyerMaker == true means the aggressor was a seller hitting resting bids.
type Trade struct {
	Symbol            string
	EventTimeMsVal     int64
	ReceivedTimeNsVal  int64
	TradeID            int64
	TradeTimeMs        int64
	Price              float64
	Quantity           float64
	IsBuyerMaker       bool
}

func (e Trade) EventTimeMs() int64    { return e.EventTimeMsVal }
func (e Trade) ReceivedTimeNs() int64 { return e.ReceivedTimeNsVal }

// MarkPrice is a mark/index price + funding-rate snapshot for a perpetual symbol.
type MarkPrice struct {
	Symbol             string
	EventTimeMsVal      int64
	ReceivedTimeNsVal   int64
	MarkPriceVal        float64
	IndexPrice          float64
	FundingRate         float64
	NextFundingTimeMs   int64
}

func (e MarkPrice) EventTimeMs() int64    { return e.EventTimeMsVal }
func (e MarkPrice) ReceivedTimeNs() int64 { return e.ReceivedTimeNsVal }

// Ticker is an ancillary best-quote/24h snapshot, cached by symbol.
type Ticker struct {
	Symbol            string
	EventTimeMsVal     int64
	ReceivedTimeNsVal  int64
	TimestampMs        int64
	BestBid            float64
	BestAsk            float64
	LastPrice          float64
}

func (e Ticker) EventTimeMs() int64    { return e.EventTimeMsVal }
func (e Ticker) ReceivedTimeNs() int64 { return e.ReceivedTimeNsVal }

// OpenInterest is a periodic open-interest snapshot, cached by symbol.
type OpenInterest struct {
	Symbol            string
	EventTimeMsVal     int64
	ReceivedTimeNsVal  int64
	TimestampMs        int64
	OpenInterest       float64
}

func (e OpenInterest) EventTimeMs() int64    { return e.EventTimeMsVal }
func (e OpenInterest) ReceivedTimeNs() int64 { return e.ReceivedTimeNsVal }

// Liquidation is a forced-liquidation print, cached by symbol.
type Liquidation struct {
	Symbol            string
	EventTimeMsVal     int64
	ReceivedTimeNsVal  int64
	TradeTimeMs        int64
	Side               Side
	Price              float64
	Quantity           float64
}

func (e Liquidation) EventTimeMs() int64    { return e.EventTimeMsVal }
func (e Liquidation) ReceivedTimeNs() int64 { return e.ReceivedTimeNsVal }

// Order is a strategy's instruction to the broker. Price is ignored for
// market orders. TimeInForce and PostOnly are only meaningful for limit
// orders.
type Order struct {
	ID             string
	Symbol         string
	Side           Side
	OrderType      OrderType
	Quantity       float64
	Price          float64 // only meaningful when OrderType == LimitOrder
	TimeInForce    TimeInForce
	PostOnly       bool
	ReduceOnly     bool
	CreatedTimeMs  int64
}

// Fill is an append-only execution record owned by the broker.
type Fill struct {
	OrderID       string
	Symbol        string
	Side          Side
	Quantity      float64
	Price         float64
	FeeUsdt       float64
	EventTimeMs   int64
	Liquidity     Liquidity
}
