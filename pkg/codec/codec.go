// Package codec serializes day-file record sequences to the compact
// binary block format and back.
//
// Timestamps are stored as varint deltas from the previous record (the
// first from the header base time); prices and volumes as zigzag varint
// deltas against the previous value (the first against the header base).
// Each record starts with a flag byte; when a delta would not fit the
// narrow range the flag marks the field wide and the absolute value is
// stored as a fixed 8-byte little-endian integer instead.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	"mdstore/pkg/data"
)

// Flag byte bits. Meaning of the upper bits depends on the record kind.
const (
	flagWideTime   = 1 << 0
	flagWidePrice  = 1 << 1
	flagWideVolume = 1 << 2
	flagFinished   = 1 << 3 // candle state
	sideShift      = 4      // tick side, two bits
)

// narrowLimit bounds deltas stored as varints; wider deltas switch the
// field to the fixed 8-byte representation.
const narrowLimit = math.MaxInt32

// Encode serializes records into one day-file block. Records must be
// ordered by non-decreasing server time and must all match the header's
// record kind; the header count is taken from len(records).
func Encode(h Header, records []data.Record) ([]byte, error) {
	h.Count = uint32(len(records))
	buf := h.appendTo(make([]byte, 0, headerSize+len(records)*16))

	st := newState(h)
	for i, rec := range records {
		ts := rec.ServerTime().UTC()
		if ts.Before(st.prevTime) {
			return nil, fmt.Errorf("%w: record %d at %s before %s", ErrUnordered, i, ts, st.prevTime)
		}
		var err error
		switch r := rec.(type) {
		case data.Tick:
			err = expectKind(h.Kind, data.KindTick)
			buf = st.appendTick(buf, r)
		case data.Level1:
			err = expectKind(h.Kind, data.KindLevel1)
			buf = st.appendLevel1(buf, r)
		case data.Depth:
			err = expectKind(h.Kind, data.KindDepth)
			buf = st.appendDepth(buf, r)
		case data.Candle:
			err = expectKind(h.Kind, data.KindCandle)
			buf = st.appendCandle(buf, r)
		default:
			err = fmt.Errorf("%w: %T", ErrKindMismatch, rec)
		}
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// Decode parses one day-file block produced by Encode. Any malformed
// input is reported as a CorruptDataError.
func Decode(buf []byte) (Header, []data.Record, error) {
	h, err := parseHeader(buf)
	if err != nil {
		return Header{}, nil, err
	}
	r := &reader{buf: buf, off: headerSize}
	st := newState(h)

	records := make([]data.Record, 0, h.Count)
	for i := uint32(0); i < h.Count; i++ {
		var (
			rec data.Record
			err error
		)
		switch h.Kind {
		case data.KindTick:
			rec, err = st.readTick(r)
		case data.KindLevel1:
			rec, err = st.readLevel1(r)
		case data.KindDepth:
			rec, err = st.readDepth(r)
		case data.KindCandle:
			rec, err = st.readCandle(r)
		}
		if err != nil {
			return Header{}, nil, err
		}
		records = append(records, rec)
	}
	if r.off != len(buf) {
		return Header{}, nil, corruptf("%w: %d trailing bytes", ErrRecordCountMismatch, len(buf)-r.off)
	}
	return h, records, nil
}

func expectKind(have, want data.RecordKind) error {
	if have != want {
		return fmt.Errorf("%w: stream kind %d, record kind %d", ErrKindMismatch, have, want)
	}
	return nil
}

// --- Delta state ------------------------------------------------------------

// state carries the running bases the per-record deltas are taken against.
type state struct {
	prevTime    time.Time
	prevPrice   int64
	prevVolume  int64
	prevTradeID int64
	prevFields  map[data.Level1Field]int64
}

func newState(h Header) *state {
	return &state{
		prevTime:   h.BaseTime,
		prevPrice:  h.BasePrice,
		prevVolume: h.BaseVolume,
		prevFields: make(map[data.Level1Field]int64),
	}
}

func narrow(delta int64) bool {
	return delta >= -narrowLimit && delta <= narrowLimit
}

// --- Tick -------------------------------------------------------------------

func (st *state) appendTick(buf []byte, t data.Tick) []byte {
	flags := byte(t.Side) << sideShift
	timeDelta := t.Time.UTC().Sub(st.prevTime).Nanoseconds()
	priceDelta := t.Price - st.prevPrice
	volumeDelta := t.Volume - st.prevVolume
	if timeDelta < 0 {
		flags |= flagWideTime
	}
	if !narrow(priceDelta) {
		flags |= flagWidePrice
	}
	if !narrow(volumeDelta) {
		flags |= flagWideVolume
	}
	buf = append(buf, flags)
	buf = appendTime(buf, flags&flagWideTime != 0, timeDelta, t.Time)
	buf = binary.AppendVarint(buf, t.TradeID-st.prevTradeID)
	buf = appendValue(buf, flags&flagWidePrice != 0, priceDelta, t.Price)
	buf = appendValue(buf, flags&flagWideVolume != 0, volumeDelta, t.Volume)

	st.prevTime = t.Time.UTC()
	st.prevPrice = t.Price
	st.prevVolume = t.Volume
	st.prevTradeID = t.TradeID
	return buf
}

func (st *state) readTick(r *reader) (data.Record, error) {
	flags, err := r.byte()
	if err != nil {
		return nil, err
	}
	ts, err := st.readTime(r, flags&flagWideTime != 0)
	if err != nil {
		return nil, err
	}
	idDelta, err := r.varint()
	if err != nil {
		return nil, err
	}
	price, err := readValue(r, flags&flagWidePrice != 0, st.prevPrice)
	if err != nil {
		return nil, err
	}
	volume, err := readValue(r, flags&flagWideVolume != 0, st.prevVolume)
	if err != nil {
		return nil, err
	}
	t := data.Tick{
		Time:    ts,
		TradeID: st.prevTradeID + idDelta,
		Price:   price,
		Volume:  volume,
		Side:    data.Side(flags >> sideShift),
	}
	st.prevTime = ts
	st.prevPrice = price
	st.prevVolume = volume
	st.prevTradeID = t.TradeID
	return t, nil
}

// --- Level1 -----------------------------------------------------------------

// Level1 field values are stored as varint deltas against the previous
// value of the same field within the file (base zero). Fields are sorted
// so the encoding is deterministic.
func (st *state) appendLevel1(buf []byte, l data.Level1) []byte {
	var flags byte
	timeDelta := l.Time.UTC().Sub(st.prevTime).Nanoseconds()
	if timeDelta < 0 {
		flags |= flagWideTime
	}
	buf = append(buf, flags)
	buf = appendTime(buf, flags&flagWideTime != 0, timeDelta, l.Time)

	fields := make([]data.Level1Field, 0, len(l.Fields))
	for f := range l.Fields {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })

	buf = binary.AppendUvarint(buf, uint64(len(fields)))
	for _, f := range fields {
		v := l.Fields[f]
		buf = append(buf, byte(f))
		buf = binary.AppendVarint(buf, v-st.prevFields[f])
		st.prevFields[f] = v
	}
	st.prevTime = l.Time.UTC()
	return buf
}

func (st *state) readLevel1(r *reader) (data.Record, error) {
	flags, err := r.byte()
	if err != nil {
		return nil, err
	}
	ts, err := st.readTime(r, flags&flagWideTime != 0)
	if err != nil {
		return nil, err
	}
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	l := data.Level1{Time: ts, Fields: make(map[data.Level1Field]int64, n)}
	for i := uint64(0); i < n; i++ {
		fb, err := r.byte()
		if err != nil {
			return nil, err
		}
		delta, err := r.varint()
		if err != nil {
			return nil, err
		}
		f := data.Level1Field(fb)
		v := st.prevFields[f] + delta
		l.Fields[f] = v
		st.prevFields[f] = v
	}
	st.prevTime = ts
	return l, nil
}

// --- Depth ------------------------------------------------------------------

func (st *state) appendDepth(buf []byte, d data.Depth) []byte {
	var flags byte
	timeDelta := d.Time.UTC().Sub(st.prevTime).Nanoseconds()
	if timeDelta < 0 {
		flags |= flagWideTime
	}
	buf = append(buf, flags)
	buf = appendTime(buf, flags&flagWideTime != 0, timeDelta, d.Time)
	buf = st.appendSide(buf, d.Bids)
	buf = st.appendSide(buf, d.Asks)
	st.prevTime = d.Time.UTC()
	return buf
}

// appendSide delta-encodes one book side: the first level against the
// running price base, following levels against the previous level.
func (st *state) appendSide(buf []byte, levels []data.PriceLevel) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(levels)))
	prev := st.prevPrice
	for _, lv := range levels {
		buf = binary.AppendVarint(buf, lv.Price-prev)
		buf = binary.AppendVarint(buf, lv.Volume)
		prev = lv.Price
	}
	if len(levels) > 0 {
		st.prevPrice = levels[0].Price
	}
	return buf
}

func (st *state) readDepth(r *reader) (data.Record, error) {
	flags, err := r.byte()
	if err != nil {
		return nil, err
	}
	ts, err := st.readTime(r, flags&flagWideTime != 0)
	if err != nil {
		return nil, err
	}
	bids, err := st.readSide(r)
	if err != nil {
		return nil, err
	}
	asks, err := st.readSide(r)
	if err != nil {
		return nil, err
	}
	st.prevTime = ts
	return data.Depth{Time: ts, Bids: bids, Asks: asks}, nil
}

func (st *state) readSide(r *reader) ([]data.PriceLevel, error) {
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(len(r.buf)) {
		return nil, corruptf("codec: depth side of %d levels exceeds payload", n)
	}
	levels := make([]data.PriceLevel, 0, n)
	prev := st.prevPrice
	for i := uint64(0); i < n; i++ {
		priceDelta, err := r.varint()
		if err != nil {
			return nil, err
		}
		volume, err := r.varint()
		if err != nil {
			return nil, err
		}
		price := prev + priceDelta
		levels = append(levels, data.PriceLevel{Price: price, Volume: volume})
		prev = price
	}
	if len(levels) > 0 {
		st.prevPrice = levels[0].Price
	}
	return levels, nil
}

// --- Candle -----------------------------------------------------------------

func (st *state) appendCandle(buf []byte, c data.Candle) []byte {
	var flags byte
	timeDelta := c.OpenTime.UTC().Sub(st.prevTime).Nanoseconds()
	openDelta := c.Open - st.prevPrice
	volumeDelta := c.Volume - st.prevVolume
	if timeDelta < 0 {
		flags |= flagWideTime
	}
	if !narrow(openDelta) {
		flags |= flagWidePrice
	}
	if !narrow(volumeDelta) {
		flags |= flagWideVolume
	}
	if c.State == data.CandleFinished {
		flags |= flagFinished
	}
	buf = append(buf, flags)
	buf = appendTime(buf, flags&flagWideTime != 0, timeDelta, c.OpenTime)
	buf = binary.AppendUvarint(buf, uint64(c.CloseTime.UTC().Sub(c.OpenTime.UTC()).Nanoseconds()))
	buf = appendValue(buf, flags&flagWidePrice != 0, openDelta, c.Open)
	buf = binary.AppendVarint(buf, c.High-c.Open)
	buf = binary.AppendVarint(buf, c.Low-c.Open)
	buf = binary.AppendVarint(buf, c.Close-c.Open)
	buf = appendValue(buf, flags&flagWideVolume != 0, volumeDelta, c.Volume)

	st.prevTime = c.OpenTime.UTC()
	st.prevPrice = c.Close
	st.prevVolume = c.Volume
	return buf
}

func (st *state) readCandle(r *reader) (data.Record, error) {
	flags, err := r.byte()
	if err != nil {
		return nil, err
	}
	openTime, err := st.readTime(r, flags&flagWideTime != 0)
	if err != nil {
		return nil, err
	}
	span, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	open, err := readValue(r, flags&flagWidePrice != 0, st.prevPrice)
	if err != nil {
		return nil, err
	}
	highDelta, err := r.varint()
	if err != nil {
		return nil, err
	}
	lowDelta, err := r.varint()
	if err != nil {
		return nil, err
	}
	closeDelta, err := r.varint()
	if err != nil {
		return nil, err
	}
	volume, err := readValue(r, flags&flagWideVolume != 0, st.prevVolume)
	if err != nil {
		return nil, err
	}
	c := data.Candle{
		OpenTime:  openTime,
		CloseTime: openTime.Add(time.Duration(span)),
		Open:      open,
		High:      open + highDelta,
		Low:       open + lowDelta,
		Close:     open + closeDelta,
		Volume:    volume,
		State:     data.CandleActive,
	}
	if flags&flagFinished != 0 {
		c.State = data.CandleFinished
	}
	st.prevTime = openTime
	st.prevPrice = c.Close
	st.prevVolume = volume
	return c, nil
}

// --- Field helpers ----------------------------------------------------------

func appendTime(buf []byte, wide bool, delta int64, abs time.Time) []byte {
	if wide {
		return binary.LittleEndian.AppendUint64(buf, uint64(abs.UTC().UnixNano()))
	}
	return binary.AppendUvarint(buf, uint64(delta))
}

func (st *state) readTime(r *reader, wide bool) (time.Time, error) {
	if wide {
		v, err := r.u64()
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, int64(v)).UTC(), nil
	}
	delta, err := r.uvarint()
	if err != nil {
		return time.Time{}, err
	}
	return st.prevTime.Add(time.Duration(delta)), nil
}

func appendValue(buf []byte, wide bool, delta, abs int64) []byte {
	if wide {
		return binary.LittleEndian.AppendUint64(buf, uint64(abs))
	}
	return binary.AppendVarint(buf, delta)
}

func readValue(r *reader, wide bool, prev int64) (int64, error) {
	if wide {
		v, err := r.u64()
		if err != nil {
			return 0, err
		}
		return int64(v), nil
	}
	delta, err := r.varint()
	if err != nil {
		return 0, err
	}
	return prev + delta, nil
}

// --- Buffer reader ----------------------------------------------------------

type reader struct {
	buf []byte
	off int
}

func (r *reader) byte() (byte, error) {
	if r.off >= len(r.buf) {
		return 0, corrupt(ErrTruncated)
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *reader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		return 0, corrupt(ErrTruncated)
	}
	r.off += n
	return v, nil
}

func (r *reader) varint() (int64, error) {
	v, n := binary.Varint(r.buf[r.off:])
	if n <= 0 {
		return 0, corrupt(ErrTruncated)
	}
	r.off += n
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if r.off+8 > len(r.buf) {
		return 0, corrupt(ErrTruncated)
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}
