package data

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DataType enumerates the stored market data kinds. The set is closed:
// codec and storage dispatch over it exhaustively.
type DataType int

const (
	TypeUnknown DataType = iota
	TypeTicks
	TypeLevel1
	TypeOrderBook
	TypeOrderLog
	TypeNews
	TypeTransactions
	TypeCandleTimeFrame
	TypeCandleTick
	TypeCandleVolume
	TypeCandleRange
	TypeCandleRenko
	TypeCandlePnF
)

var typeNames = map[DataType]string{
	TypeTicks:           "Ticks",
	TypeLevel1:          "Level1",
	TypeOrderBook:       "OrderBook",
	TypeOrderLog:        "OrderLog",
	TypeNews:            "News",
	TypeTransactions:    "Transactions",
	TypeCandleTimeFrame: "Candle.TimeFrame",
	TypeCandleTick:      "Candle.Tick",
	TypeCandleVolume:    "Candle.Volume",
	TypeCandleRange:     "Candle.Range",
	TypeCandleRenko:     "Candle.Renko",
	TypeCandlePnF:       "Candle.PnF",
}

func (t DataType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// IsCandle reports whether the data type is one of the candle kinds.
func (t DataType) IsCandle() bool {
	return t >= TypeCandleTimeFrame && t <= TypeCandlePnF
}

// Arg parametrizes a candle data type. Exactly the fields relevant to the
// type are set: TimeFrame for time-frame candles, Count for tick count /
// volume threshold / price range / box size (scaled units), Reversal for
// point-and-figure reversal boxes.
type Arg struct {
	TimeFrame time.Duration
	Count     int64
	Reversal  int64
}

// TypeArg pairs a data type with its aggregation argument. Non-candle
// types carry a zero Arg.
type TypeArg struct {
	Type DataType
	Arg  Arg
}

// StreamKey identifies one logical time series: instrument, data type and
// aggregation argument. It is a comparable value usable as a map key.
type StreamKey struct {
	Security SecurityID
	Type     DataType
	Arg      Arg
}

// TypeArg returns the key's type and argument pair.
func (k StreamKey) TypeArg() TypeArg {
	return TypeArg{Type: k.Type, Arg: k.Arg}
}

// ArgString renders the aggregation argument for display and event
// payloads, e.g. "5m" for a time frame or "20/3" for point-and-figure.
// Non-candle types render empty.
func (ta TypeArg) ArgString() string {
	switch ta.Type {
	case TypeCandleTimeFrame:
		return formatTimeFrame(ta.Arg.TimeFrame)
	case TypeCandlePnF:
		return fmt.Sprintf("%d/%d", ta.Arg.Count, ta.Arg.Reversal)
	case TypeCandleTick, TypeCandleVolume, TypeCandleRange, TypeCandleRenko:
		return strconv.FormatInt(ta.Arg.Count, 10)
	default:
		return ""
	}
}

func (k StreamKey) String() string {
	return fmt.Sprintf("%s/%s", k.Security, FileName(k.TypeArg()))
}

// --- Day-file naming --------------------------------------------------------

// Plain (non-candle) data types map to fixed file names; candle types
// embed the aggregation argument. External tools can locate day files by
// replicating this rule.
var plainFileNames = map[DataType]string{
	TypeTicks:        "trades",
	TypeLevel1:       "security",
	TypeOrderBook:    "quotes",
	TypeOrderLog:     "orderLog",
	TypeNews:         "news",
	TypeTransactions: "transactions",
}

var candleFileNames = map[DataType]string{
	TypeCandleTimeFrame: "timeframe",
	TypeCandleTick:      "tick",
	TypeCandleVolume:    "volume",
	TypeCandleRange:     "range",
	TypeCandleRenko:     "renko",
	TypeCandlePnF:       "pnf",
}

// ErrUnknownFileName indicates a day-file name that maps to no data type.
var ErrUnknownFileName = errors.New("data: unknown day file name")

// FileName builds the day-file base name (without extension) for a data
// type and argument, e.g. "trades" or "candles_timeframe_5m".
func FileName(ta TypeArg) string {
	if name, ok := plainFileNames[ta.Type]; ok {
		return name
	}
	kind, ok := candleFileNames[ta.Type]
	if !ok {
		return "unknown"
	}
	switch ta.Type {
	case TypeCandleTimeFrame:
		return fmt.Sprintf("candles_%s_%s", kind, formatTimeFrame(ta.Arg.TimeFrame))
	case TypeCandlePnF:
		return fmt.Sprintf("candles_%s_%d_%d", kind, ta.Arg.Count, ta.Arg.Reversal)
	default:
		return fmt.Sprintf("candles_%s_%d", kind, ta.Arg.Count)
	}
}

// ParseFileName is the inverse of FileName.
func ParseFileName(name string) (TypeArg, error) {
	for t, n := range plainFileNames {
		if n == name {
			return TypeArg{Type: t}, nil
		}
	}
	parts := strings.Split(name, "_")
	if len(parts) < 3 || parts[0] != "candles" {
		return TypeArg{}, fmt.Errorf("%w: %q", ErrUnknownFileName, name)
	}
	var kind DataType
	for t, n := range candleFileNames {
		if n == parts[1] {
			kind = t
			break
		}
	}
	switch kind {
	case TypeCandleTimeFrame:
		tf, err := time.ParseDuration(parts[2])
		if err != nil {
			return TypeArg{}, fmt.Errorf("%w: %q: %v", ErrUnknownFileName, name, err)
		}
		return TypeArg{Type: kind, Arg: Arg{TimeFrame: tf}}, nil
	case TypeCandleTick, TypeCandleVolume, TypeCandleRange, TypeCandleRenko:
		count, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return TypeArg{}, fmt.Errorf("%w: %q: %v", ErrUnknownFileName, name, err)
		}
		return TypeArg{Type: kind, Arg: Arg{Count: count}}, nil
	case TypeCandlePnF:
		if len(parts) != 4 {
			return TypeArg{}, fmt.Errorf("%w: %q", ErrUnknownFileName, name)
		}
		box, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return TypeArg{}, fmt.Errorf("%w: %q: %v", ErrUnknownFileName, name, err)
		}
		rev, err := strconv.ParseInt(parts[3], 10, 64)
		if err != nil {
			return TypeArg{}, fmt.Errorf("%w: %q: %v", ErrUnknownFileName, name, err)
		}
		return TypeArg{Type: kind, Arg: Arg{Count: box, Reversal: rev}}, nil
	default:
		return TypeArg{}, fmt.Errorf("%w: %q", ErrUnknownFileName, name)
	}
}

// formatTimeFrame renders a duration without the trailing zero units that
// time.Duration.String produces ("5m" rather than "5m0s").
func formatTimeFrame(d time.Duration) string {
	s := d.String()
	if strings.HasSuffix(s, "m0s") {
		s = strings.TrimSuffix(s, "0s")
	}
	if strings.HasSuffix(s, "h0m") {
		s = strings.TrimSuffix(s, "0m")
	}
	return s
}

// ParseDataTypeName resolves a human-readable data type name ("Ticks",
// "Candle.TimeFrame", ...) used in configs and the remote protocol.
func ParseDataTypeName(s string) (DataType, error) {
	for t, n := range typeNames {
		if strings.EqualFold(n, s) {
			return t, nil
		}
	}
	return TypeUnknown, fmt.Errorf("data: unknown data type %q", s)
}
