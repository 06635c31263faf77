// Package align shifts each event's logical time forward to model
// availability time: when the datum would actually have been observable to
// a live consumer, given measured capture lag. It never reorders a stream
// in place; it only recomputes event_time_ms before the stream reaches the
// replay merger.
package align

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"garm/internal/types"
)

// Mode selects how a stream's per-event delay is computed.
type Mode int

const (
	// None passes events through with no time shift.
	None Mode = iota
	// FixedDelay applies a single calibrated delay to every event.
	FixedDelay
	// CausalAsof computes delay from a strictly-causal rolling quantile of
	// lags observed so far in the stream.
	CausalAsof
	// CausalAsofGlobal computes one quantile over the entire materialized
	// stream and applies it uniformly; not strictly causal.
	CausalAsofGlobal
)

// defaultMaxRows caps how many events CausalAsofGlobal will materialize
// before refusing to compute a global quantile, guarding against
// accidentally loading an unbounded stream into memory.
const defaultMaxRows = 5_000_000

// ErrRowLimitExceeded is returned by Align when a CausalAsofGlobal stream
// exceeds Config.MaxRows (or the default cap).
var ErrRowLimitExceeded = errors.New("align: stream exceeds row-limit safety cap for causal_asof_global")

// Config parameterizes one stream's aligner. Min/Max/CalibratedFloor are
// optional bounds; nil means unset.
type Config struct {
	Mode            Mode
	Base            float64 // configured fixed delay, ms
	Min             *float64
	Max             *float64
	Quantile        float64 // q in [0,1], used by the two causal modes
	WindowSize      int     // H, rolling history size for CausalAsof
	CalibratedFloor *float64
	MaxRows         int // safety cap for CausalAsofGlobal; 0 means defaultMaxRows
}

// Validate checks the invariants spec.md requires: q in [0,1], min >= 0,
// max >= min if both present, H >= 1 for the causal mode.
func (c Config) Validate() error {
	if c.Quantile < 0 || c.Quantile > 1 {
		return fmt.Errorf("align: quantile %v out of [0,1]", c.Quantile)
	}
	if c.Min != nil && *c.Min < 0 {
		return fmt.Errorf("align: min %v must be >= 0", *c.Min)
	}
	if c.Min != nil && c.Max != nil && *c.Max < *c.Min {
		return fmt.Errorf("align: max %v must be >= min %v", *c.Max, *c.Min)
	}
	if c.Mode == CausalAsof && c.WindowSize < 1 {
		return fmt.Errorf("align: window size %d must be >= 1 for causal_asof", c.WindowSize)
	}
	return nil
}

func (c Config) clamp(v float64) float64 {
	if c.Min != nil && v < *c.Min {
		v = *c.Min
	}
	if c.Max != nil && v > *c.Max {
		v = *c.Max
	}
	return v
}

func (c Config) base() float64 {
	b := c.Base
	if c.CalibratedFloor != nil && *c.CalibratedFloor > b {
		b = *c.CalibratedFloor
	}
	return b
}

// Aligner applies one Config to a stream. Each call to Align starts from
// fresh state: no rolling history carries over from one call to the next.
type Aligner struct {
	cfg Config
}

// New validates cfg and returns a ready Aligner.
func New(cfg Config) (*Aligner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Aligner{cfg: cfg}, nil
}

// lag computes L_i = max(0, received_time_ns/1e6 - event_time_ms).
func lag(e types.Event) float64 {
	l := float64(e.ReceivedTimeNs())/1e6 - float64(e.EventTimeMs())
	if l < 0 {
		return 0
	}
	return l
}

// quantileInterpolated returns the q-quantile of sorted (ascending) samples
// using linear interpolation between the two bracketing order statistics,
// rounded to the nearest integer millisecond.
func quantileInterpolated(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return math.Round(sorted[0])
	}
	x := q * float64(n-1)
	lo := int(math.Floor(x))
	hi := lo + 1
	if hi > n-1 {
		hi = n - 1
	}
	frac := x - float64(lo)
	v := (1-frac)*sorted[lo] + frac*sorted[hi]
	return math.Round(v)
}

// rollingQuantile maintains a sliding window of the most recent H lag
// samples using a FIFO for eviction order and a parallel sorted slice for
// O(log n) quantile lookups, mirroring a classic bisect.insort-based
// rolling-quantile structure.
type rollingQuantile struct {
	window int
	fifo   []float64
	sorted []float64
}

func newRollingQuantile(window int) *rollingQuantile {
	return &rollingQuantile{window: window}
}

func (r *rollingQuantile) add(v float64) {
	r.fifo = append(r.fifo, v)
	idx := sort.SearchFloat64s(r.sorted, v)
	r.sorted = append(r.sorted, 0)
	copy(r.sorted[idx+1:], r.sorted[idx:])
	r.sorted[idx] = v

	if len(r.fifo) > r.window {
		oldest := r.fifo[0]
		r.fifo = r.fifo[1:]
		i := sort.SearchFloat64s(r.sorted, oldest)
		r.sorted = append(r.sorted[:i], r.sorted[i+1:]...)
	}
}

func (r *rollingQuantile) quantile(q float64) (float64, bool) {
	if len(r.sorted) == 0 {
		return 0, false
	}
	return quantileInterpolated(r.sorted, q), true
}

// Align shifts every event's event_time_ms into a new slice (the input
// events are never mutated since types.Event values are immutable
// structs) and applies monotonicity repair: if a computed
// output time would fall before the previous output time in this stream,
// it is clamped up to match it.
func (a *Aligner) Align(stream []types.Event) ([]types.Event, error) {
	switch a.cfg.Mode {
	case None:
		return a.alignNone(stream)
	case FixedDelay:
		return a.alignFixed(stream)
	case CausalAsof:
		return a.alignCausal(stream)
	case CausalAsofGlobal:
		return a.alignCausalGlobal(stream)
	default:
		return nil, fmt.Errorf("align: unknown mode %d", a.cfg.Mode)
	}
}

func (a *Aligner) alignNone(stream []types.Event) ([]types.Event, error) {
	out := make([]types.Event, len(stream))
	copy(out, stream)
	return out, nil
}

func (a *Aligner) alignFixed(stream []types.Event) ([]types.Event, error) {
	delay := a.cfg.clamp(a.cfg.base())
	out := make([]types.Event, 0, len(stream))
	var prevOutput int64
	first := true
	for _, e := range stream {
		shifted := shiftEventTime(e, delay)
		out = append(out, repairMonotonicity(shifted, &prevOutput, &first))
	}
	return out, nil
}

func (a *Aligner) alignCausal(stream []types.Event) ([]types.Event, error) {
	rq := newRollingQuantile(a.cfg.WindowSize)
	out := make([]types.Event, 0, len(stream))
	var prevOutput int64
	first := true

	for _, e := range stream {
		var delay float64
		if q, ok := rq.quantile(a.cfg.Quantile); ok {
			delay = math.Max(a.cfg.base(), q)
		} else {
			delay = a.cfg.base()
		}
		delay = a.cfg.clamp(delay)

		shifted := shiftEventTime(e, delay)
		out = append(out, repairMonotonicity(shifted, &prevOutput, &first))

		rq.add(lag(e))
	}
	return out, nil
}

func (a *Aligner) alignCausalGlobal(stream []types.Event) ([]types.Event, error) {
	maxRows := a.cfg.MaxRows
	if maxRows <= 0 {
		maxRows = defaultMaxRows
	}
	if len(stream) > maxRows {
		return nil, fmt.Errorf("%w: %d events > cap %d", ErrRowLimitExceeded, len(stream), maxRows)
	}

	lags := make([]float64, len(stream))
	for i, e := range stream {
		lags[i] = lag(e)
	}
	sort.Float64s(lags)
	globalQ := quantileInterpolated(lags, a.cfg.Quantile)
	delay := a.cfg.clamp(math.Max(a.cfg.base(), globalQ))

	out := make([]types.Event, 0, len(stream))
	var prevOutput int64
	first := true
	for _, e := range stream {
		shifted := shiftEventTime(e, delay)
		out = append(out, repairMonotonicity(shifted, &prevOutput, &first))
	}
	return out, nil
}

// repairMonotonicity enforces non-decreasing output times within a stream.
func repairMonotonicity(e types.Event, prevOutput *int64, first *bool) types.Event {
	t := e.EventTimeMs()
	if !*first && t < *prevOutput {
		t = *prevOutput
		e = withEventTime(e, t)
	}
	*prevOutput = t
	*first = false
	return e
}

// shiftEventTime returns a copy of e with event_time_ms advanced by delayMs
// (rounded to the nearest integer ms).
func shiftEventTime(e types.Event, delayMs float64) types.Event {
	return withEventTime(e, e.EventTimeMs()+int64(math.Round(delayMs)))
}

// withEventTime returns a copy of e with its event_time_ms field replaced.
// Each concrete event type is a plain struct, so this is a type switch over
// field assignment rather than reflection.
func withEventTime(e types.Event, t int64) types.Event {
	switch v := e.(type) {
	case types.DepthUpdate:
		v.EventTimeMsVal = t
		return v
	case types.Trade:
		v.EventTimeMsVal = t
		return v
	case types.MarkPrice:
		v.EventTimeMsVal = t
		return v
	case types.Ticker:
		v.EventTimeMsVal = t
		return v
	case types.OpenInterest:
		v.EventTimeMsVal = t
		return v
	case types.Liquidation:
		v.EventTimeMsVal = t
		return v
	default:
		return e
	}
}
