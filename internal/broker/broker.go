// Package broker simulates order submission, cancellation, and matching
// against the book and trade tape: the taker/maker execution paths,
// submit/cancel latency queues with lazy pre-activation cancellation, and
// the maker level index used for keyed dispatch on depth updates and trades.
package broker

import (
	"container/heap"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/btree"

	"garm/internal/book"
	"garm/internal/execution/queue"
	"garm/internal/execution/taker"
	"garm/internal/portfolio"
	"garm/internal/types"
)

// Broker is the common interface implemented by SimBroker and its
// decorators (BookGuard, TradingWindowGate), letting policy layers wrap
// the core simulator transparently.
type Broker interface {
	Submit(order types.Order, nowMs int64) (string, error)
	Cancel(orderID string, nowMs int64)
	CancelSymbolOrders(symbol string, cancelActiveMakers, cancelPendingSubmits bool, nowMs int64)
	OnTime(nowMs int64)
	OnDepthUpdate(du types.DepthUpdate)
	OnTrade(trade types.Trade)
	Fills() []types.Fill
	Book(symbol string) *book.L2Book
	Position(symbol string) float64
	HasPendingOrders(symbol string) bool
	HasOpenOrders(symbol string) bool
	ApplyFunding(symbol string, markPrice, fundingRate float64)
	RealizedPnL() float64
	FeesPaid() float64
	Equity(marks map[string]float64) float64
}

// Config parameterizes a SimBroker's latency, fee, and queue-model
// coefficients.
type Config struct {
	SubmitLatencyMs   int64
	CancelLatencyMs   int64
	MakerFeeRate      float64
	TakerFeeRate      float64
	QueueAheadFactor  float64
	QueueAheadExtra   float64
	Participation     float64 // trade_participation in (0,1]
	TradeVolumeBudget float64 // per-trade, per-level shared cap; <= 0 means unlimited (capped only by the trade's own quantity)
	Slippage          taker.Slippage
}

// DefaultConfig returns reasonable zero-latency, zero-fee coefficients
// useful for unit tests and quick experiments.
func DefaultConfig() Config {
	return Config{
		QueueAheadFactor: 1.0,
		Participation:    1.0,
	}
}

// submitItem is a latent order submission queued for activation at a later
// tick.
type submitItem struct {
	dueMs int64
	seq   int64
	order types.Order
}

// cancelItem is a latent cancel queued for a later tick.
type cancelItem struct {
	dueMs   int64
	seq     int64
	orderID string
}

type submitHeap []submitItem

func (h submitHeap) Len() int            { return len(h) }
func (h submitHeap) Less(i, j int) bool  { return h[i].dueMs < h[j].dueMs || (h[i].dueMs == h[j].dueMs && h[i].seq < h[j].seq) }
func (h submitHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *submitHeap) Push(x interface{}) { *h = append(*h, x.(submitItem)) }
func (h *submitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

type cancelHeap []cancelItem

func (h cancelHeap) Len() int            { return len(h) }
func (h cancelHeap) Less(i, j int) bool  { return h[i].dueMs < h[j].dueMs || (h[i].dueMs == h[j].dueMs && h[i].seq < h[j].seq) }
func (h cancelHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *cancelHeap) Push(x interface{}) { *h = append(*h, x.(cancelItem)) }
func (h *cancelHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// levelKey identifies one maker price level: a resting-order bucket at one
// symbol, side, and fixed-point price.
type levelKey struct {
	Symbol   string
	Side     types.Side
	PriceKey int64
}

func lessLevelKey(a, b levelKey) bool {
	if a.Symbol != b.Symbol {
		return a.Symbol < b.Symbol
	}
	if a.Side != b.Side {
		return a.Side < b.Side
	}
	return a.PriceKey < b.PriceKey
}

// level is one maker level's resting orders, kept in priority_seq order
// (oldest first) since orders are only ever appended with an increasing
// seq and removals preserve relative order.
type level struct {
	key    levelKey
	orders []*queue.Order
}

// SimBroker is the core order-matching simulator: taker/maker execution,
// a fills log, and the latency/cancellation machinery every decorator
// builds on.
type SimBroker struct {
	cfg Config

	books   map[string]*book.L2Book
	port    *portfolio.Portfolio
	fills   []types.Fill
	seq     int64

	activeMakers map[string]*queue.Order // orderID -> order
	levels       *btree.BTreeG[*level]

	orderCancelCutoff  map[string]int64
	symbolCancelCutoff map[string]int64

	pendingSubmits submitHeap
	pendingCancels cancelHeap
}

// New constructs an empty SimBroker.
func New(cfg Config) *SimBroker {
	return &SimBroker{
		cfg:                cfg,
		books:              make(map[string]*book.L2Book),
		port:               portfolio.New(),
		activeMakers:       make(map[string]*queue.Order),
		levels:             btree.NewBTreeG(func(a, b *level) bool { return lessLevelKey(a.key, b.key) }),
		orderCancelCutoff:  make(map[string]int64),
		symbolCancelCutoff: make(map[string]int64),
	}
}

// Book returns (creating if necessary) the per-symbol L2 book.
func (b *SimBroker) Book(symbol string) *book.L2Book {
	bk, ok := b.books[symbol]
	if !ok {
		bk = book.New()
		b.books[symbol] = bk
	}
	return bk
}

// Position reports the symbol's current signed position size.
func (b *SimBroker) Position(symbol string) float64 {
	return b.port.Position(symbol).Qty
}

// Fills returns the append-only execution log.
func (b *SimBroker) Fills() []types.Fill {
	return b.fills
}

func (b *SimBroker) nextSeq() int64 {
	b.seq++
	return b.seq
}

// Submit queues or immediately activates a new order. A blank order.ID is
// assigned a uuid.
func (b *SimBroker) Submit(order types.Order, nowMs int64) (string, error) {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	seq := b.nextSeq()

	if b.cfg.SubmitLatencyMs > 0 {
		heap.Push(&b.pendingSubmits, submitItem{dueMs: nowMs + b.cfg.SubmitLatencyMs, seq: seq, order: order})
		return order.ID, nil
	}
	b.activate(order, nowMs)
	return order.ID, nil
}

// crosses reports whether a limit order at `price` would immediately match
// resting opposite-side liquidity.
func (b *SimBroker) crosses(symbol string, side types.Side, price float64) bool {
	bk := b.Book(symbol)
	if side == types.Buy {
		ask, ok := bk.BestAsk()
		return ok && price >= ask
	}
	bid, ok := bk.BestBid()
	return ok && price <= bid
}

func (b *SimBroker) activate(order types.Order, nowMs int64) {
	switch {
	case order.OrderType == types.MarketOrder:
		b.takerFill(order, nil, nowMs)

	case order.OrderType == types.LimitOrder && order.PostOnly:
		if b.crosses(order.Symbol, order.Side, order.Price) {
			log.Debug().Str("order_id", order.ID).Msg("post-only order would cross, rejected silently")
			return
		}
		b.rest(order, nowMs)

	case order.OrderType == types.LimitOrder && order.TimeInForce == types.IOC:
		limit := order.Price
		b.takerFill(order, &limit, nowMs)

	default:
		// GTC limit, not post-only: take what crosses, rest the remainder.
		limit := order.Price
		filled := b.takerFill(order, &limit, nowMs)
		remaining := order.Quantity - filled
		if remaining > 1e-12 {
			restOrder := order
			restOrder.Quantity = remaining
			b.rest(restOrder, nowMs)
		}
	}
}

// takerFill runs the aggressive execution path and returns the filled
// quantity.
func (b *SimBroker) takerFill(order types.Order, limitPrice *float64, nowMs int64) float64 {
	bk := b.Book(order.Symbol)
	px, filled, err := taker.Consume(bk, order.Side, order.Quantity, limitPrice, b.cfg.Slippage)
	if err != nil {
		log.Warn().Err(err).Str("order_id", order.ID).Msg("taker consume failed")
		return 0
	}
	if filled <= 0 {
		return 0
	}
	fee := filled * px * b.cfg.TakerFeeRate
	b.recordFill(order.ID, order.Symbol, order.Side, filled, px, fee, nowMs, types.Taker)
	return filled
}

// rest places (or merges with existing liquidity at) a maker level.
func (b *SimBroker) rest(order types.Order, nowMs int64) {
	bk := b.Book(order.Symbol)
	var visible float64
	if order.Side == types.Buy {
		visible = bk.BidQty(order.Price)
	} else {
		visible = bk.AskQty(order.Price)
	}

	mk := queue.NewOrder(order.ID, order.Symbol, order.Side, order.Price, order.Quantity,
		visible, b.cfg.QueueAheadFactor, b.cfg.QueueAheadExtra, b.cfg.Participation, b.nextSeq())

	b.activeMakers[order.ID] = mk
	lvl := b.levelFor(order.Symbol, order.Side, order.Price, true)
	lvl.orders = append(lvl.orders, mk)
}

func (b *SimBroker) levelFor(symbol string, side types.Side, price float64, create bool) *level {
	key := levelKey{Symbol: symbol, Side: side, PriceKey: book.PriceKey(price)}
	probe := &level{key: key}
	if lvl, ok := b.levels.GetMut(probe); ok {
		return lvl
	}
	if !create {
		return nil
	}
	b.levels.Set(probe)
	return probe
}

// Cancel removes (or queues removal of) an active maker order.
func (b *SimBroker) Cancel(orderID string, nowMs int64) {
	seq := b.nextSeq()
	if b.cfg.CancelLatencyMs > 0 {
		heap.Push(&b.pendingCancels, cancelItem{dueMs: nowMs + b.cfg.CancelLatencyMs, seq: seq, orderID: orderID})
		return
	}
	b.cancelNow(orderID, seq)
}

func (b *SimBroker) cancelNow(orderID string, seq int64) {
	b.orderCancelCutoff[orderID] = seq
	mk, ok := b.activeMakers[orderID]
	if !ok {
		return
	}
	delete(b.activeMakers, orderID)
	b.removeFromLevel(mk)
}

func (b *SimBroker) removeFromLevel(mk *queue.Order) {
	lvl := b.levelFor(mk.Symbol, mk.Side, mk.Price, false)
	if lvl == nil {
		return
	}
	for i, o := range lvl.orders {
		if o.OrderID == mk.OrderID {
			lvl.orders = append(lvl.orders[:i], lvl.orders[i+1:]...)
			break
		}
	}
}

// CancelSymbolOrders sets a per-symbol cutoff (discarding not-yet-activated
// submits for the symbol when cancelPendingSubmits is true) and optionally
// cancels every currently resting maker for the symbol.
func (b *SimBroker) CancelSymbolOrders(symbol string, cancelActiveMakers, cancelPendingSubmits bool, nowMs int64) {
	seq := b.nextSeq()
	if cancelPendingSubmits {
		b.symbolCancelCutoff[symbol] = seq
	}
	if cancelActiveMakers {
		for id, mk := range b.activeMakers {
			if mk.Symbol != symbol {
				continue
			}
			delete(b.activeMakers, id)
			b.removeFromLevel(mk)
			b.orderCancelCutoff[id] = seq
		}
	}
}

// OnTime drains due cancels, then activates due submits (cancels win ties).
func (b *SimBroker) OnTime(nowMs int64) {
	for b.pendingCancels.Len() > 0 && b.pendingCancels[0].dueMs <= nowMs {
		item := heap.Pop(&b.pendingCancels).(cancelItem)
		b.cancelNow(item.orderID, item.seq)
	}

	for b.pendingSubmits.Len() > 0 && b.pendingSubmits[0].dueMs <= nowMs {
		item := heap.Pop(&b.pendingSubmits).(submitItem)
		if cutoff, ok := b.orderCancelCutoff[item.order.ID]; ok && item.seq <= cutoff {
			continue
		}
		if cutoff, ok := b.symbolCancelCutoff[item.order.Symbol]; ok && item.seq <= cutoff {
			continue
		}
		b.activate(item.order, nowMs)
	}
}

// OnDepthUpdate applies a depth update to the symbol's book and notifies
// resting makers on every touched level of the new visible quantity
// (shrink-only).
func (b *SimBroker) OnDepthUpdate(du types.DepthUpdate) {
	bk := b.Book(du.Symbol)
	bk.ApplyDepthUpdate(du.BidUpdates, du.AskUpdates)

	for _, u := range du.BidUpdates {
		b.notifyLevel(du.Symbol, types.Buy, u.Price, bk.BidQty(u.Price))
	}
	for _, u := range du.AskUpdates {
		b.notifyLevel(du.Symbol, types.Sell, u.Price, bk.AskQty(u.Price))
	}
}

func (b *SimBroker) notifyLevel(symbol string, side types.Side, price, newVisibleQty float64) {
	lvl := b.levelFor(symbol, side, price, false)
	if lvl == nil {
		return
	}
	for _, mk := range lvl.orders {
		mk.OnBookQtyUpdate(newVisibleQty)
	}
}

// OnTrade dispatches a trade print to the resting maker bucket it crosses,
// in priority_seq order, sharing one trade-volume budget across the level.
func (b *SimBroker) OnTrade(trade types.Trade) {
	makerSide := types.Sell
	if trade.IsBuyerMaker {
		makerSide = types.Buy
	}

	lvl := b.levelFor(trade.Symbol, makerSide, trade.Price, false)
	if lvl == nil || len(lvl.orders) == 0 {
		return
	}

	budget := b.cfg.TradeVolumeBudget
	if budget <= 0 || budget > trade.Quantity {
		budget = trade.Quantity
	}

	var drained []int
	for i, mk := range lvl.orders {
		if budget <= 0 {
			break
		}
		filled, consumed := mk.OnTradeBudgeted(trade, budget)
		budget -= consumed
		if filled > 0 {
			fee := filled * trade.Price * b.cfg.MakerFeeRate
			b.recordFill(mk.OrderID, mk.Symbol, mk.Side, filled, trade.Price, fee, trade.EventTimeMs(), types.Maker)
		}
		if mk.IsFilled() {
			delete(b.activeMakers, mk.OrderID)
			drained = append(drained, i)
		}
	}

	if len(drained) > 0 {
		kept := lvl.orders[:0]
		drainedSet := make(map[int]bool, len(drained))
		for _, i := range drained {
			drainedSet[i] = true
		}
		for i, mk := range lvl.orders {
			if !drainedSet[i] {
				kept = append(kept, mk)
			}
		}
		lvl.orders = kept
	}
}

func (b *SimBroker) recordFill(orderID, symbol string, side types.Side, qty, price, fee float64, eventTimeMs int64, liq types.Liquidity) {
	b.fills = append(b.fills, types.Fill{
		OrderID:     orderID,
		Symbol:      symbol,
		Side:        side,
		Quantity:    qty,
		Price:       price,
		FeeUsdt:     fee,
		EventTimeMs: eventTimeMs,
		Liquidity:   liq,
	})
	b.port.ApplyFill(symbol, side, qty, price, fee)
}

// HasPendingOrders reports whether any not-yet-activated submit is queued
// for this symbol.
func (b *SimBroker) HasPendingOrders(symbol string) bool {
	for _, item := range b.pendingSubmits {
		if item.order.Symbol == symbol {
			return true
		}
	}
	return false
}

// HasOpenOrders reports whether any maker order is currently resting for
// this symbol.
func (b *SimBroker) HasOpenOrders(symbol string) bool {
	for _, mk := range b.activeMakers {
		if mk.Symbol == symbol {
			return true
		}
	}
	return false
}

// ApplyFunding settles one funding payment against the symbol's position.
func (b *SimBroker) ApplyFunding(symbol string, markPrice, fundingRate float64) {
	b.port.ApplyFunding(symbol, markPrice, fundingRate)
}

// RealizedPnL is the account-wide realized PnL, including fees and funding.
func (b *SimBroker) RealizedPnL() float64 { return b.port.RealizedPnL }

// FeesPaid is the account-wide cumulative fee total.
func (b *SimBroker) FeesPaid() float64 { return b.port.FeesPaid }

// Equity is realized PnL plus unrealized PnL valued against marks.
func (b *SimBroker) Equity(marks map[string]float64) float64 { return b.port.Equity(marks) }

