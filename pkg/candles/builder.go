// Package candles builds OHLCV candles from raw tick streams for the
// time-frame, tick-count, volume, range, Renko and point-and-figure
// aggregation rules.
//
// One state machine serves both operating modes: incremental (live, one
// tick at a time, emitting the building candle after every update) and
// batch (a pre-sorted historical sequence, emitting finished candles and
// at most one trailing building candle). A Builder owns the accumulator
// for exactly one stream and must not be shared across streams.
package candles

import (
	"errors"
	"fmt"
	"time"

	"mdstore/pkg/data"
)

// ErrNotCandleType reports a stream key whose data type is not a candle
// kind.
var ErrNotCandleType = errors.New("candles: not a candle data type")

// Builder accumulates ticks into candles per one aggregation rule.
type Builder struct {
	typeArg data.TypeArg
	rule    rule

	open  *data.Candle
	ticks int64
	last  time.Time
	fed   bool
}

// NewBuilder constructs a builder for a candle type and argument.
func NewBuilder(ta data.TypeArg) (*Builder, error) {
	r, err := ruleFor(ta)
	if err != nil {
		return nil, err
	}
	return &Builder{typeArg: ta, rule: r}, nil
}

func ruleFor(ta data.TypeArg) (rule, error) {
	switch ta.Type {
	case data.TypeCandleTimeFrame:
		if ta.Arg.TimeFrame <= 0 {
			return nil, fmt.Errorf("candles: time frame must be positive, got %s", ta.Arg.TimeFrame)
		}
		return timeFrameRule{frame: ta.Arg.TimeFrame}, nil
	case data.TypeCandleTick:
		if ta.Arg.Count <= 0 {
			return nil, fmt.Errorf("candles: tick count must be positive, got %d", ta.Arg.Count)
		}
		return tickCountRule{count: ta.Arg.Count}, nil
	case data.TypeCandleVolume:
		if ta.Arg.Count <= 0 {
			return nil, fmt.Errorf("candles: volume threshold must be positive, got %d", ta.Arg.Count)
		}
		return volumeRule{threshold: ta.Arg.Count}, nil
	case data.TypeCandleRange:
		if ta.Arg.Count <= 0 {
			return nil, fmt.Errorf("candles: price range must be positive, got %d", ta.Arg.Count)
		}
		return rangeRule{span: ta.Arg.Count}, nil
	case data.TypeCandleRenko:
		if ta.Arg.Count <= 0 {
			return nil, fmt.Errorf("candles: box size must be positive, got %d", ta.Arg.Count)
		}
		return renkoRule{box: ta.Arg.Count}, nil
	case data.TypeCandlePnF:
		if ta.Arg.Count <= 0 || ta.Arg.Reversal <= 0 {
			return nil, fmt.Errorf("candles: box size and reversal must be positive, got %d/%d", ta.Arg.Count, ta.Arg.Reversal)
		}
		return &pnfRule{box: ta.Arg.Count, reversal: ta.Arg.Reversal}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotCandleType, ta.Type)
	}
}

// Process consumes one tick. It returns the candles finished by this
// tick (usually zero or one; Renko may emit several) and a snapshot of
// the candle still building, nil when the tick left no open candle.
// Input must arrive in non-decreasing time order.
func (b *Builder) Process(t data.Tick) (finished []data.Candle, active *data.Candle, err error) {
	ts := t.Time.UTC()
	if b.fed && ts.Before(b.last) {
		return nil, nil, &OutOfOrderInputError{Got: ts, Last: b.last}
	}
	b.last = ts
	b.fed = true
	t.Time = ts

	finished = b.rule.process(b, t)
	if b.open != nil {
		snapshot := *b.open
		active = &snapshot
	}
	return finished, active, nil
}

// Flush closes and returns the candle still building, if any. Callers
// use it at an end-of-day or end-of-session boundary where the current
// period is known to be complete.
func (b *Builder) Flush() (data.Candle, bool) {
	if b.open == nil {
		return data.Candle{}, false
	}
	return b.finish(b.last), true
}

// Active returns a snapshot of the currently building candle, nil if no
// candle is open.
func (b *Builder) Active() *data.Candle {
	if b.open == nil {
		return nil
	}
	snapshot := *b.open
	return &snapshot
}

// BuildAll reconstructs the full candle series from a pre-sorted batch.
// Only finished candles are returned, except possibly the last, which
// stays Active when the input ends mid-period. An empty input yields an
// empty output with no error.
func BuildAll(ta data.TypeArg, ticks []data.Tick) ([]data.Candle, error) {
	b, err := NewBuilder(ta)
	if err != nil {
		return nil, err
	}
	var out []data.Candle
	for _, t := range ticks {
		finished, _, err := b.Process(t)
		if err != nil {
			return nil, err
		}
		out = append(out, finished...)
	}
	if tail := b.Active(); tail != nil {
		out = append(out, *tail)
	}
	return out, nil
}

// --- Shared accumulator transitions -----------------------------------------

func (b *Builder) openCandle(t data.Tick, openTime time.Time) {
	b.open = &data.Candle{
		OpenTime:  openTime,
		CloseTime: t.Time,
		Open:      t.Price,
		High:      t.Price,
		Low:       t.Price,
		Close:     t.Price,
		Volume:    t.Volume,
		State:     data.CandleActive,
	}
	b.ticks = 1
}

func (b *Builder) applyTick(t data.Tick) {
	c := b.open
	if t.Price > c.High {
		c.High = t.Price
	}
	if t.Price < c.Low {
		c.Low = t.Price
	}
	c.Close = t.Price
	c.Volume += t.Volume
	c.CloseTime = t.Time
	b.ticks++
}

// finish closes the open candle and resets the accumulator.
func (b *Builder) finish(closeTime time.Time) data.Candle {
	c := *b.open
	c.CloseTime = closeTime
	c.State = data.CandleFinished
	b.open = nil
	b.ticks = 0
	return c
}

// --- Rules ------------------------------------------------------------------

// rule applies one tick to the builder's accumulator and returns the
// candles the tick finished. Implementations are the six closed
// aggregation modes; adding one means extending ruleFor.
type rule interface {
	process(b *Builder, t data.Tick) []data.Candle
}

// timeFrameRule closes the candle when a tick falls outside
// [openTime, openTime+frame).
type timeFrameRule struct {
	frame time.Duration
}

func (r timeFrameRule) process(b *Builder, t data.Tick) []data.Candle {
	var out []data.Candle
	if b.open != nil && !t.Time.Before(b.open.OpenTime.Add(r.frame)) {
		out = append(out, b.finish(b.open.OpenTime.Add(r.frame)))
	}
	if b.open == nil {
		b.openCandle(t, t.Time.Truncate(r.frame))
		return out
	}
	b.applyTick(t)
	return out
}

// tickCountRule closes the candle once it has absorbed count trades.
type tickCountRule struct {
	count int64
}

func (r tickCountRule) process(b *Builder, t data.Tick) []data.Candle {
	if b.open == nil {
		b.openCandle(t, t.Time)
	} else {
		b.applyTick(t)
	}
	if b.ticks >= r.count {
		return []data.Candle{b.finish(t.Time)}
	}
	return nil
}

// volumeRule closes the candle once cumulative volume reaches the
// threshold (scaled units).
type volumeRule struct {
	threshold int64
}

func (r volumeRule) process(b *Builder, t data.Tick) []data.Candle {
	if b.open == nil {
		b.openCandle(t, t.Time)
	} else {
		b.applyTick(t)
	}
	if b.open.Volume >= r.threshold {
		return []data.Candle{b.finish(t.Time)}
	}
	return nil
}

// rangeRule closes the candle once its high-low excursion reaches the
// configured span (scaled units).
type rangeRule struct {
	span int64
}

func (r rangeRule) process(b *Builder, t data.Tick) []data.Candle {
	if b.open == nil {
		b.openCandle(t, t.Time)
	} else {
		b.applyTick(t)
	}
	if b.open.High-b.open.Low >= r.span {
		return []data.Candle{b.finish(t.Time)}
	}
	return nil
}

// renkoRule emits one fully formed box candle every time price travels a
// whole box away from the current box's open; a single tick can emit
// several. Accumulated volume rides on the first box emitted by a tick.
type renkoRule struct {
	box int64
}

func (r renkoRule) process(b *Builder, t data.Tick) []data.Candle {
	if b.open == nil {
		b.openCandle(t, t.Time)
	} else {
		b.applyTick(t)
	}
	c := b.open
	var out []data.Candle
	for c.Close-c.Open >= r.box {
		fin := *c
		fin.Close = c.Open + r.box
		fin.High = fin.Close
		fin.Low = c.Open
		fin.State = data.CandleFinished
		out = append(out, fin)
		*c = data.Candle{
			OpenTime:  t.Time,
			CloseTime: t.Time,
			Open:      fin.Close,
			High:      maxInt64(t.Price, fin.Close),
			Low:       minInt64(t.Price, fin.Close),
			Close:     t.Price,
			State:     data.CandleActive,
		}
	}
	for c.Open-c.Close >= r.box {
		fin := *c
		fin.Close = c.Open - r.box
		fin.High = c.Open
		fin.Low = fin.Close
		fin.State = data.CandleFinished
		out = append(out, fin)
		*c = data.Candle{
			OpenTime:  t.Time,
			CloseTime: t.Time,
			Open:      fin.Close,
			High:      maxInt64(t.Price, fin.Close),
			Low:       minInt64(t.Price, fin.Close),
			Close:     t.Price,
			State:     data.CandleActive,
		}
	}
	return out
}

// pnfRule implements point-and-figure columns: the column extends while
// price keeps moving its way, and a new opposite column starts only
// after a reversal of at least reversal boxes from the column extreme.
type pnfRule struct {
	box      int64
	reversal int64

	dir int8 // 0 undetermined, +1 rising column, -1 falling column
}

func (r *pnfRule) process(b *Builder, t data.Tick) []data.Candle {
	if b.open == nil {
		b.openCandle(t, t.Time)
		r.dir = 0
		return nil
	}
	c := b.open

	if r.dir == 0 {
		b.applyTick(t)
		switch {
		case t.Price-c.Open >= r.box:
			r.dir = 1
		case c.Open-t.Price >= r.box:
			r.dir = -1
		}
		return nil
	}

	// A reversal tick belongs entirely to the new column: the finished
	// column keeps its pre-reversal extremes and volume.
	threshold := r.reversal * r.box
	switch r.dir {
	case 1:
		if c.High-t.Price >= threshold {
			fin := b.finish(c.CloseTime)
			// The new falling column starts one box below the extreme.
			b.openCandle(t, t.Time)
			b.open.Open = fin.High - r.box
			b.open.High = maxInt64(b.open.Open, t.Price)
			r.dir = -1
			return []data.Candle{fin}
		}
	case -1:
		if t.Price-c.Low >= threshold {
			fin := b.finish(c.CloseTime)
			b.openCandle(t, t.Time)
			b.open.Open = fin.Low + r.box
			b.open.Low = minInt64(b.open.Open, t.Price)
			r.dir = 1
			return []data.Candle{fin}
		}
	}
	b.applyTick(t)
	return nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
