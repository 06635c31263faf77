// Package replay merges per-stream market-data events into one
// non-decreasing event_time_ms sequence using a deterministic,
// type-priority-free tie-break, and supports early-terminating time slices
// over an already-ordered sequence.
package replay

import (
	"container/heap"
	"math"

	"garm/internal/types"
)

// maxInt64Sentinel stands in for an absent received_time_ns: it always
// sorts after any real capture timestamp.
const maxInt64Sentinel = math.MaxInt64

// eventIDer describes an event that exposes a deterministic identifier
// usable in the tie-break key. The event types do not implement it;
// eventID below switches on the concrete type instead, and each per-type
// helper returns the field that type actually has.
type eventIDer interface {
	eventID() (id int64, ok bool)
}

// The probe order is: transaction_time_ms, trade_time_ms, timestamp_ms,
// final_update_id, trade_id, next_funding_time_ms. None of the event types
// in this package carry transaction_time_ms (that field exists upstream of
// this feed), so the probe starts at trade_time_ms.

func depthUpdateID(e types.DepthUpdate) (int64, bool) {
	return e.FinalUpdateID, true
}

func tradeID(e types.Trade) (int64, bool) {
	if e.TradeTimeMs != 0 {
		return e.TradeTimeMs, true
	}
	return e.TradeID, true
}

func markPriceID(e types.MarkPrice) (int64, bool) {
	return e.NextFundingTimeMs, true
}

func tickerID(e types.Ticker) (int64, bool) {
	return e.TimestampMs, true
}

func openInterestID(e types.OpenInterest) (int64, bool) {
	return e.TimestampMs, true
}

func liquidationID(e types.Liquidation) (int64, bool) {
	return e.TradeTimeMs, true
}

// eventID extracts the deterministic tie-break id for any supported event
// type. ok=false means "absent" (sorts after any present id).
func eventID(e types.Event) (int64, bool) {
	switch v := e.(type) {
	case types.DepthUpdate:
		return depthUpdateID(v)
	case types.Trade:
		return tradeID(v)
	case types.MarkPrice:
		return markPriceID(v)
	case types.Ticker:
		return tickerID(v)
	case types.OpenInterest:
		return openInterestID(v)
	case types.Liquidation:
		return liquidationID(v)
	default:
		return 0, false
	}
}

// receivedTimeKey returns the sort value for an event's received_time_ns:
// the raw value if present (non-zero), else the absent sentinel.
func receivedTimeKey(e types.Event) int64 {
	if ns := e.ReceivedTimeNs(); ns != 0 {
		return ns
	}
	return maxInt64Sentinel
}

// item is one buffered event paired with its originating stream index, so
// ties can fall back to stream insertion order.
type item struct {
	event     types.Event
	streamIdx int
}

func less(a, b item) bool {
	if a.event.EventTimeMs() != b.event.EventTimeMs() {
		return a.event.EventTimeMs() < b.event.EventTimeMs()
	}
	ra, rb := receivedTimeKey(a.event), receivedTimeKey(b.event)
	if ra != rb {
		return ra < rb
	}
	idA, okA := eventID(a.event)
	idB, okB := eventID(b.event)
	switch {
	case okA && okB && idA != idB:
		return idA < idB
	case okA != okB:
		// Absent sorts after present.
		return okA
	}
	return a.streamIdx < b.streamIdx
}

// mergeHeap is a min-heap of items ordered by the tie-break key above.
type mergeHeap []item

func (h mergeHeap) Len() int            { return len(h) }
func (h mergeHeap) Less(i, j int) bool  { return less(h[i], h[j]) }
func (h mergeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(item)) }
func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// Stream is a single already-time-ordered input sequence. The merger does
// not validate internal ordering of a stream; callers must supply streams
// that are each non-decreasing in event_time_ms.
type Stream []types.Event

// Merge performs a k-way merge of streams into one slice ordered by the
// deterministic tie-break key: event_time_ms, then received_time_ns
// (absent sorts last), then a type-specific deterministic id (absent sorts
// last), then stream insertion order. No event-type priority is applied.
func Merge(streams ...Stream) []types.Event {
	h := make(mergeHeap, 0, len(streams))
	cursors := make([]int, len(streams))

	for i, s := range streams {
		if len(s) == 0 {
			continue
		}
		h = append(h, item{event: s[0], streamIdx: i})
		cursors[i] = 1
	}
	heap.Init(&h)

	out := make([]types.Event, 0)
	for h.Len() > 0 {
		next := heap.Pop(&h).(item)
		out = append(out, next.event)

		idx := next.streamIdx
		if cursors[idx] < len(streams[idx]) {
			heap.Push(&h, item{event: streams[idx][cursors[idx]], streamIdx: idx})
			cursors[idx]++
		}
	}
	return out
}

// Slice returns the contiguous sub-range of an already time-ordered event
// sequence with start_ms <= event_time_ms < end_ms. A nil start/end bound
// is unbounded on that side. Terminates the scan at the first event with
// t >= end_ms, relying on the caller's ordering guarantee.
func Slice(events []types.Event, startMs, endMs *int64) []types.Event {
	out := make([]types.Event, 0)
	for _, e := range events {
		t := e.EventTimeMs()
		if startMs != nil && t < *startMs {
			continue
		}
		if endMs != nil && t >= *endMs {
			break
		}
		out = append(out, e)
	}
	return out
}
