// Package iterator defines the consumer-side contract a market-data
// stream must satisfy to feed the replay merger, plus an in-memory
// implementation used by tests and the demo CLI. Concrete file-format
// readers (parquet, arrow, S3) are deliberately out of scope.
package iterator

import (
	"errors"

	"garm/internal/types"
)

// ErrNotFound is the sentinel a day-stream layer returns when a
// per-hour or per-day source file is absent. The engine wrapper catches
// it and skips the stream when configured to.
var ErrNotFound = errors.New("iterator: source not found")

// NotFoundError wraps ErrNotFound with the missing resource's context
// (day, hour, symbol, or file path, depending on the caller).
type NotFoundError struct {
	Context string
}

func (e *NotFoundError) Error() string { return "iterator: not found: " + e.Context }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// EventIterator is a lazy, finite sequence of events of one stream,
// already sorted by event_time_ms within the stream. Next returns
// (event, true, nil) while events remain, (zero, false, nil) at
// exhaustion, or a non-nil error (possibly a *NotFoundError) on failure.
type EventIterator interface {
	Next() (types.Event, bool, error)
}

// SliceIterator is an in-memory EventIterator over a pre-built,
// pre-sorted slice — used by tests and the demo CLI in place of a real
// file-backed reader.
type SliceIterator struct {
	events []types.Event
	pos    int
}

// NewSliceIterator wraps events, consumed in the given order.
func NewSliceIterator(events []types.Event) *SliceIterator {
	return &SliceIterator{events: events}
}

func (s *SliceIterator) Next() (types.Event, bool, error) {
	if s.pos >= len(s.events) {
		return nil, false, nil
	}
	e := s.events[s.pos]
	s.pos++
	return e, true, nil
}

// LimitedIterator wraps an EventIterator, capping the number of events
// it yields — the mechanism spec.md names for applying a `max_events`
// bound without modifying the underlying source.
type LimitedIterator struct {
	inner     EventIterator
	unlimited bool
	remaining int
}

// NewLimitedIterator caps inner at maxEvents. maxEvents <= 0 means unlimited.
func NewLimitedIterator(inner EventIterator, maxEvents int) *LimitedIterator {
	if maxEvents <= 0 {
		return &LimitedIterator{inner: inner, unlimited: true}
	}
	return &LimitedIterator{inner: inner, remaining: maxEvents}
}

func (l *LimitedIterator) Next() (types.Event, bool, error) {
	if !l.unlimited && l.remaining <= 0 {
		return nil, false, nil
	}
	e, ok, err := l.inner.Next()
	if err != nil || !ok {
		return e, ok, err
	}
	if !l.unlimited {
		l.remaining--
	}
	return e, true, nil
}

// Drain pulls every remaining event from it into a slice, stopping at
// exhaustion or the first error.
func Drain(it EventIterator) ([]types.Event, error) {
	var out []types.Event
	for {
		e, ok, err := it.Next()
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, e)
	}
}
