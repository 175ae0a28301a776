// Package data defines the stream identifiers and record variants shared
// by the codec, the file store and the candle builder.
//
// Price and volume fields use a fixed decimal representation: scaled
// int64 values, with the number of decimal digits carried by the day-file
// header (and originally by the instrument metadata). Timestamps are
// always normalized to UTC before storage.
package data

import "time"

// Side marks the aggressor side of a trade.
type Side int8

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

// CandleState tells whether a candle is still accumulating input.
type CandleState int8

const (
	CandleActive CandleState = iota
	CandleFinished
)

// Level1Field enumerates the fields a level1 record can carry.
type Level1Field int8

const (
	FieldBestBidPrice Level1Field = iota + 1
	FieldBestBidVolume
	FieldBestAskPrice
	FieldBestAskVolume
	FieldLastTradePrice
	FieldLastTradeVolume
	FieldOpenInterest
	FieldVolume
)

// Record is the closed set of stored market data variants. Concrete types:
// Tick, Level1, Depth, Candle. Every record reports the server timestamp
// that orders it within a day file.
type Record interface {
	ServerTime() time.Time
}

// Tick is one executed trade.
type Tick struct {
	Time    time.Time
	TradeID int64
	Price   int64
	Volume  int64
	Side    Side
}

// ServerTime implements Record.
func (t Tick) ServerTime() time.Time { return t.Time }

// Level1 is a partial best bid/ask/last update: only the fields present
// in the map were reported.
type Level1 struct {
	Time   time.Time
	Fields map[Level1Field]int64
}

// ServerTime implements Record.
func (l Level1) ServerTime() time.Time { return l.Time }

// PriceLevel is one side entry of an order book snapshot.
type PriceLevel struct {
	Price  int64
	Volume int64
}

// Depth is an order book snapshot: bids sorted best-first, asks
// sorted best-first.
type Depth struct {
	Time time.Time
	Bids []PriceLevel
	Asks []PriceLevel
}

// ServerTime implements Record.
func (d Depth) ServerTime() time.Time { return d.Time }

// Candle is one OHLCV aggregate over a sub-period of raw data.
type Candle struct {
	OpenTime  time.Time
	CloseTime time.Time
	Open      int64
	High      int64
	Low       int64
	Close     int64
	Volume    int64
	State     CandleState
}

// ServerTime implements Record. Candles are ordered by open time.
func (c Candle) ServerTime() time.Time { return c.OpenTime }

// RecordKind tags the concrete record type of a day file for the codec.
type RecordKind uint8

const (
	KindTick RecordKind = iota + 1
	KindLevel1
	KindDepth
	KindCandle
)

// KindOf returns the record kind stored for a data type. Order log and
// transaction streams reuse the tick layout (time, id, price, volume,
// side); news has no binary layout and reports zero.
func KindOf(t DataType) RecordKind {
	switch t {
	case TypeTicks, TypeOrderLog, TypeTransactions:
		return KindTick
	case TypeLevel1:
		return KindLevel1
	case TypeOrderBook:
		return KindDepth
	case TypeNews:
		return 0
	default:
		if t.IsCandle() {
			return KindCandle
		}
		return 0
	}
}

// DateOf normalizes a record timestamp to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
