// Package remote implements the Drive contract over HTTP against a
// central mdstore server, plus the wire types both sides of the protocol
// share. The client forwards GetDates / LoadStream / SaveStream /
// DeleteFile across the network so local code stays oblivious to where
// day files live.
package remote

import (
	"fmt"
	"time"

	"mdstore/pkg/data"
	"mdstore/pkg/storage"
)

// Format selects the wire encoding of protocol envelopes.
type Format string

const (
	// FormatBinary encodes envelopes with msgpack.
	FormatBinary Format = "binary"
	// FormatText encodes envelopes with JSON.
	FormatText Format = "text"
)

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatBinary {
		return "application/x-msgpack"
	}
	return "application/json"
}

// Permission is the per-(session, security, data type) access bitmask.
type Permission uint8

const (
	PermNone  Permission = 0
	PermRead  Permission = 1 << 0
	PermWrite Permission = 1 << 1
)

// CanRead reports read access.
func (p Permission) CanRead() bool { return p&PermRead != 0 }

// CanWrite reports write access.
func (p Permission) CanWrite() bool { return p&PermWrite != 0 }

// WireDate is the protocol's date representation, matching the local
// drive's directory naming.
const WireDate = "2006_01_02"

// StreamRef is the wire form of a stream key.
type StreamRef struct {
	Security  string `json:"security" msgpack:"security"`
	DataType  string `json:"dataType" msgpack:"dataType"`
	TimeFrame string `json:"timeFrame,omitempty" msgpack:"timeFrame,omitempty"`
	Count     int64  `json:"count,omitempty" msgpack:"count,omitempty"`
	Reversal  int64  `json:"reversal,omitempty" msgpack:"reversal,omitempty"`
}

// NewStreamRef converts a stream key to its wire form.
func NewStreamRef(key data.StreamKey) StreamRef {
	ref := StreamRef{
		Security: key.Security.String(),
		DataType: key.Type.String(),
		Count:    key.Arg.Count,
		Reversal: key.Arg.Reversal,
	}
	if key.Arg.TimeFrame > 0 {
		ref.TimeFrame = key.Arg.TimeFrame.String()
	}
	return ref
}

// StreamKey converts the wire form back to a stream key.
func (r StreamRef) StreamKey() (data.StreamKey, error) {
	sec, err := data.ParseSecurityID(r.Security)
	if err != nil {
		return data.StreamKey{}, err
	}
	dt, err := data.ParseDataTypeName(r.DataType)
	if err != nil {
		return data.StreamKey{}, err
	}
	arg := data.Arg{Count: r.Count, Reversal: r.Reversal}
	if r.TimeFrame != "" {
		tf, err := time.ParseDuration(r.TimeFrame)
		if err != nil {
			return data.StreamKey{}, fmt.Errorf("remote: bad timeFrame %q: %w", r.TimeFrame, err)
		}
		arg.TimeFrame = tf
	}
	return data.StreamKey{Security: sec, Type: dt, Arg: arg}, nil
}

// LookupRequest filters server-known instruments. An empty pattern
// matches everything.
type LookupRequest struct {
	Pattern string `json:"pattern,omitempty" msgpack:"pattern,omitempty"`
}

// SecurityInfo describes one instrument known to the server.
type SecurityInfo struct {
	ID          string `json:"id" msgpack:"id"`
	PriceScale  uint8  `json:"priceScale" msgpack:"priceScale"`
	VolumeScale uint8  `json:"volumeScale" msgpack:"volumeScale"`
	PriceStep   int64  `json:"priceStep,omitempty" msgpack:"priceStep,omitempty"`
}

// PriceStepText renders the minimal price increment as a decimal string,
// e.g. "0.01" for a step of 1 at scale 2. Empty when no step is known.
func (s SecurityInfo) PriceStepText() string {
	if s.PriceStep == 0 {
		return ""
	}
	return data.FormatScaled(s.PriceStep, s.PriceScale)
}

// LookupResponse lists matched instruments.
type LookupResponse struct {
	Securities []SecurityInfo `json:"securities" msgpack:"securities"`
}

// DataTypesRequest asks for the data types stored for an instrument.
type DataTypesRequest struct {
	Security string `json:"security" msgpack:"security"`
}

// DataTypeInfo is one available (data type, argument) pair.
type DataTypeInfo struct {
	DataType  string `json:"dataType" msgpack:"dataType"`
	TimeFrame string `json:"timeFrame,omitempty" msgpack:"timeFrame,omitempty"`
	Count     int64  `json:"count,omitempty" msgpack:"count,omitempty"`
	Reversal  int64  `json:"reversal,omitempty" msgpack:"reversal,omitempty"`
}

// TypeArg converts the wire pair to the domain form.
func (i DataTypeInfo) TypeArg() (data.TypeArg, error) {
	dt, err := data.ParseDataTypeName(i.DataType)
	if err != nil {
		return data.TypeArg{}, err
	}
	arg := data.Arg{Count: i.Count, Reversal: i.Reversal}
	if i.TimeFrame != "" {
		tf, err := time.ParseDuration(i.TimeFrame)
		if err != nil {
			return data.TypeArg{}, fmt.Errorf("remote: bad timeFrame %q: %w", i.TimeFrame, err)
		}
		arg.TimeFrame = tf
	}
	return data.TypeArg{Type: dt, Arg: arg}, nil
}

// NewDataTypeInfo converts a domain pair to its wire form.
func NewDataTypeInfo(ta data.TypeArg) DataTypeInfo {
	info := DataTypeInfo{
		DataType: ta.Type.String(),
		Count:    ta.Arg.Count,
		Reversal: ta.Arg.Reversal,
	}
	if ta.Arg.TimeFrame > 0 {
		info.TimeFrame = ta.Arg.TimeFrame.String()
	}
	return info
}

// DataTypesResponse lists the available pairs.
type DataTypesResponse struct {
	DataTypes []DataTypeInfo `json:"dataTypes" msgpack:"dataTypes"`
}

// DatesRequest asks for the dates a stream has data.
type DatesRequest struct {
	Stream StreamRef `json:"stream" msgpack:"stream"`
}

// DatesResponse carries dates in WireDate form, ascending.
type DatesResponse struct {
	Dates []string `json:"dates" msgpack:"dates"`
}

// LoadRequest fetches one raw day file.
type LoadRequest struct {
	Stream StreamRef `json:"stream" msgpack:"stream"`
	Date   string    `json:"date" msgpack:"date"`
}

// LoadResponse carries the raw day-file bytes.
type LoadResponse struct {
	Payload []byte `json:"payload" msgpack:"payload"`
}

// SaveRequest uploads one raw day file. Write permission required.
type SaveRequest struct {
	Stream  StreamRef `json:"stream" msgpack:"stream"`
	Date    string    `json:"date" msgpack:"date"`
	Payload []byte    `json:"payload" msgpack:"payload"`
}

// DeleteRequest removes day files in [From, To]. Write permission
// required.
type DeleteRequest struct {
	Stream StreamRef `json:"stream" msgpack:"stream"`
	From   string    `json:"from" msgpack:"from"`
	To     string    `json:"to" msgpack:"to"`
}

// ErrorResponse is the error body for non-2xx answers.
type ErrorResponse struct {
	Error string `json:"error" msgpack:"error"`
}

// ParseWireDate parses a protocol date.
func ParseWireDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(WireDate, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("remote: bad date %q: %w", s, err)
	}
	return t, nil
}

// interface guard: the client satisfies the drive contract.
var _ storage.Drive = (*Client)(nil)
