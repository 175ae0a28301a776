package codec

import (
	"encoding/binary"
	"time"

	"mdstore/pkg/data"
)

// Magic marks a day-file header ("MD" little-endian).
const Magic uint16 = 0x444D

// Version is the current day-file format version.
const Version uint16 = 1

// headerSize is the fixed byte length of the encoded header.
const headerSize = 2 + 2 + 1 + 1 + 1 + 1 + 4 + 8 + 8 + 8

// Header describes one encoded day file: the record kind, the decimal
// scales used by its price/volume fields, and the bases the first record's
// deltas are taken against.
type Header struct {
	Kind        data.RecordKind
	PriceScale  uint8
	VolumeScale uint8
	Count       uint32
	BaseTime    time.Time // UTC, normally midnight of the file's date
	BasePrice   int64     // scaled units
	BaseVolume  int64     // scaled units
}

func (h Header) appendTo(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, Magic)
	buf = binary.LittleEndian.AppendUint16(buf, Version)
	buf = append(buf, byte(h.Kind), h.PriceScale, h.VolumeScale, 0)
	buf = binary.LittleEndian.AppendUint32(buf, h.Count)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(h.BaseTime.UTC().UnixNano()))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(h.BasePrice))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(h.BaseVolume))
	return buf
}

func parseHeader(buf []byte) (Header, error) {
	if len(buf) < headerSize {
		return Header{}, corrupt(ErrTruncated)
	}
	if binary.LittleEndian.Uint16(buf[0:2]) != Magic {
		return Header{}, corrupt(ErrBadMagic)
	}
	if v := binary.LittleEndian.Uint16(buf[2:4]); v != Version {
		return Header{}, corruptf("%w: %d", ErrUnsupportedVersion, v)
	}
	h := Header{
		Kind:        data.RecordKind(buf[4]),
		PriceScale:  buf[5],
		VolumeScale: buf[6],
		Count:       binary.LittleEndian.Uint32(buf[8:12]),
		BaseTime:    time.Unix(0, int64(binary.LittleEndian.Uint64(buf[12:20]))).UTC(),
		BasePrice:   int64(binary.LittleEndian.Uint64(buf[20:28])),
		BaseVolume:  int64(binary.LittleEndian.Uint64(buf[28:36])),
	}
	switch h.Kind {
	case data.KindTick, data.KindLevel1, data.KindDepth, data.KindCandle:
	default:
		return Header{}, corruptf("codec: unknown record kind %d", h.Kind)
	}
	return h, nil
}
