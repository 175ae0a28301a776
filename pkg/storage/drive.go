// Package storage implements the date-partitioned day-file store: one
// binary file per (stream, UTC date), addressed through the Drive
// abstraction so local directories and remote servers share one contract.
package storage

import (
	"context"
	"time"

	"mdstore/pkg/data"
)

// Drive is an addressable backing store for day files. Local-filesystem
// and remote-HTTP implementations satisfy the same contract, so callers
// stay oblivious to where the data lives.
//
// LoadStream reports "no data for this date" as ok=false with a nil
// error; failures to reach or read the backing store are errors.
type Drive interface {
	// ListSecurities enumerates instruments with any stored data.
	ListSecurities(ctx context.Context) ([]data.SecurityID, error)
	// GetAvailableDataTypes discovers the data types stored for an
	// instrument.
	GetAvailableDataTypes(ctx context.Context, id data.SecurityID) ([]data.TypeArg, error)
	// GetDates returns the ordered set of UTC dates with data.
	GetDates(ctx context.Context, key data.StreamKey) ([]time.Time, error)
	// LoadStream fetches the raw day-file bytes for one date.
	LoadStream(ctx context.Context, key data.StreamKey, date time.Time) (payload []byte, ok bool, err error)
	// SaveStream replaces the day-file bytes for one date.
	SaveStream(ctx context.Context, key data.StreamKey, date time.Time, payload []byte) error
	// DeleteFile removes the day file for one date. Deleting an absent
	// file is a no-op.
	DeleteFile(ctx context.Context, key data.StreamKey, date time.Time) error
}
