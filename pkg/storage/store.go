package storage

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"time"

	"mdstore/pkg/codec"
	"mdstore/pkg/data"
)

// Default decimal scales applied when the instrument catalog has no entry
// for a security.
const (
	DefaultPriceScale  uint8 = 8
	DefaultVolumeScale uint8 = 8
)

// Store binds one stream key to a drive and provides the record-level
// read/write contract on top of raw day-file streams.
//
// Save uses merge-on-write: the existing day file is decoded, the new
// records are merged in by timestamp, and the whole file is re-encoded
// and atomically replaced. This trades write amplification for read
// simplicity: reads never reconcile multiple files within a date.
type Store struct {
	key         data.StreamKey
	drive       Drive
	locks       *lockTable
	priceScale  uint8
	volumeScale uint8
}

// NewStore builds a standalone store. Most callers obtain stores through
// a Registry instead, which shares the per-file lock table.
func NewStore(key data.StreamKey, drive Drive, sec data.SecurityProvider) *Store {
	return newStore(key, drive, sec, newLockTable())
}

func newStore(key data.StreamKey, drive Drive, sec data.SecurityProvider, locks *lockTable) *Store {
	priceScale, volumeScale := DefaultPriceScale, DefaultVolumeScale
	if sec != nil {
		if meta, ok := sec.LookupSecurity(key.Security); ok {
			priceScale, volumeScale = meta.PriceScale, meta.VolumeScale
		}
	}
	return &Store{
		key:         key,
		drive:       drive,
		locks:       locks,
		priceScale:  priceScale,
		volumeScale: volumeScale,
	}
}

// Key returns the stream key the store is bound to.
func (s *Store) Key() data.StreamKey { return s.key }

// Drive returns the backing drive captured at construction.
func (s *Store) Drive() Drive { return s.drive }

// GetDates returns the ordered set of UTC dates with data.
func (s *Store) GetDates(ctx context.Context) ([]time.Time, error) {
	return s.drive.GetDates(ctx, s.key)
}

// Save persists records, splitting them by each record's own UTC date.
// One day file is touched per date. An empty input is a no-op. Records
// identical to already-stored ones are not duplicated, so re-saving the
// same batch is idempotent.
func (s *Store) Save(ctx context.Context, records []data.Record) error {
	if len(records) == 0 {
		return nil
	}
	incoming := normalizeRecords(records)
	sort.SliceStable(incoming, func(i, j int) bool {
		return incoming[i].ServerTime().Before(incoming[j].ServerTime())
	})

	var (
		dates  []time.Time
		byDate = make(map[time.Time][]data.Record)
	)
	for _, rec := range incoming {
		date := data.DateOf(rec.ServerTime())
		if _, ok := byDate[date]; !ok {
			dates = append(dates, date)
		}
		byDate[date] = append(byDate[date], rec)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.saveDate(ctx, date, byDate[date]); err != nil {
			return err
		}
	}
	return nil
}

// saveDate performs the read-modify-write for a single day file,
// serialized per (stream, date) so concurrent saves cannot corrupt it.
func (s *Store) saveDate(ctx context.Context, date time.Time, records []data.Record) error {
	unlock := s.locks.lock(s.key, date)
	defer unlock()

	existing, err := s.loadDate(ctx, date)
	if err != nil {
		return err
	}
	merged := mergeRecords(existing, records)
	if len(merged) == len(existing) {
		// Everything was a duplicate; keep the file untouched.
		return nil
	}
	payload, err := codec.Encode(s.header(date, merged), merged)
	if err != nil {
		return err
	}
	return s.drive.SaveStream(ctx, s.key, date, payload)
}

func (s *Store) header(date time.Time, records []data.Record) codec.Header {
	h := codec.Header{
		Kind:        data.KindOf(s.key.Type),
		PriceScale:  s.priceScale,
		VolumeScale: s.volumeScale,
		BaseTime:    date,
	}
	if len(records) > 0 {
		switch r := records[0].(type) {
		case data.Tick:
			h.BasePrice, h.BaseVolume = r.Price, r.Volume
		case data.Candle:
			h.BasePrice, h.BaseVolume = r.Open, r.Volume
		case data.Depth:
			if len(r.Bids) > 0 {
				h.BasePrice = r.Bids[0].Price
			} else if len(r.Asks) > 0 {
				h.BasePrice = r.Asks[0].Price
			}
		}
	}
	return h
}

// Load returns all records for one UTC date, ordered by server time.
// A missing day file yields an empty result with no error.
func (s *Store) Load(ctx context.Context, date time.Time) ([]data.Record, error) {
	return s.loadDate(ctx, data.DateOf(date))
}

func (s *Store) loadDate(ctx context.Context, date time.Time) ([]data.Record, error) {
	payload, ok, err := s.drive.LoadStream(ctx, s.key, date)
	if err != nil || !ok {
		return nil, err
	}
	_, records, err := codec.Decode(payload)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Iterator walks one day file lazily: the file is fetched and decoded on
// the first Next, and Reset restarts the walk without re-reading it.
type Iterator struct {
	store   *Store
	date    time.Time
	records []data.Record
	loaded  bool
	pos     int
}

// Iterate returns a restartable iterator over one UTC date.
func (s *Store) Iterate(date time.Time) *Iterator {
	return &Iterator{store: s, date: data.DateOf(date)}
}

// Next returns the next record, or ok=false at the end of the day.
func (it *Iterator) Next(ctx context.Context) (data.Record, bool, error) {
	if !it.loaded {
		records, err := it.store.loadDate(ctx, it.date)
		if err != nil {
			return nil, false, err
		}
		it.records, it.loaded = records, true
	}
	if it.pos >= len(it.records) {
		return nil, false, nil
	}
	rec := it.records[it.pos]
	it.pos++
	return rec, true, nil
}

// Reset restarts the iterator from the first record.
func (it *Iterator) Reset() { it.pos = 0 }

// BadDate reports one date within a range load that could not be read.
type BadDate struct {
	Date time.Time
	Err  error
}

// RangeResult is the outcome of a multi-date load. Partial marks a load
// stopped early by context cancellation; BadDates lists skipped corrupt
// dates, so the caller sees a partial series plus the indicator rather than
// a hard failure.
type RangeResult struct {
	Records  []data.Record
	BadDates []BadDate
	Partial  bool
}

// Progress reports best-effort completion of a long range load.
type Progress func(datesDone, datesTotal, records int)

// LoadRange loads all records with server time in [from, to], walking one
// date at a time. Corrupt dates are skipped and reported; I/O errors
// abort. Cancellation is honored at date boundaries and yields a partial
// result with a nil error.
func (s *Store) LoadRange(ctx context.Context, from, to time.Time, progress Progress) (RangeResult, error) {
	var res RangeResult
	dates, err := s.GetDates(ctx)
	if err != nil {
		return res, err
	}
	fromDate, toDate := data.DateOf(from), data.DateOf(to)
	inRange := dates[:0:0]
	for _, d := range dates {
		if !d.Before(fromDate) && !d.After(toDate) {
			inRange = append(inRange, d)
		}
	}
	for i, date := range inRange {
		if ctx.Err() != nil {
			res.Partial = true
			return res, nil
		}
		records, err := s.loadDate(ctx, date)
		switch {
		case codec.IsCorrupt(err):
			res.BadDates = append(res.BadDates, BadDate{Date: date, Err: err})
		case err != nil:
			return res, err
		default:
			for _, rec := range records {
				ts := rec.ServerTime()
				if ts.Before(from) || ts.After(to) {
					continue
				}
				res.Records = append(res.Records, rec)
			}
		}
		if progress != nil {
			progress(i+1, len(inRange), len(res.Records))
		}
	}
	return res, nil
}

// Delete removes all records with server time in [from, to]. Day files
// fully contained in the range are removed; partially overlapping ones
// are truncated by rewrite.
func (s *Store) Delete(ctx context.Context, from, to time.Time) error {
	dates, err := s.GetDates(ctx)
	if err != nil {
		return err
	}
	fromDate, toDate := data.DateOf(from), data.DateOf(to)
	for _, date := range dates {
		if date.Before(fromDate) || date.After(toDate) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		dayEnd := date.Add(24*time.Hour - time.Nanosecond)
		whole := !date.Before(from) && !dayEnd.After(to)
		if whole {
			if err := s.drive.DeleteFile(ctx, s.key, date); err != nil {
				return err
			}
			continue
		}
		if err := s.truncateDate(ctx, date, from, to); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) truncateDate(ctx context.Context, date, from, to time.Time) error {
	unlock := s.locks.lock(s.key, date)
	defer unlock()

	records, err := s.loadDate(ctx, date)
	if err != nil {
		return err
	}
	kept := records[:0:0]
	for _, rec := range records {
		ts := rec.ServerTime()
		if ts.Before(from) || ts.After(to) {
			kept = append(kept, rec)
		}
	}
	if len(kept) == len(records) {
		return nil
	}
	if len(kept) == 0 {
		return s.drive.DeleteFile(ctx, s.key, date)
	}
	payload, err := codec.Encode(s.header(date, kept), kept)
	if err != nil {
		return err
	}
	return s.drive.SaveStream(ctx, s.key, date, payload)
}

// --- Merge ------------------------------------------------------------------

// mergeRecords merges sorted incoming records into the sorted existing
// sequence. The merge is stable: incoming records with a timestamp equal
// to stored ones land after them, preserving arrival order. Incoming
// records identical to an already-present record at the same timestamp
// are dropped.
func mergeRecords(existing, incoming []data.Record) []data.Record {
	out := make([]data.Record, 0, len(existing)+len(incoming))
	i := 0
	for _, rec := range incoming {
		ts := rec.ServerTime()
		for i < len(existing) && !existing[i].ServerTime().After(ts) {
			out = append(out, existing[i])
			i++
		}
		dup := false
		for k := len(out) - 1; k >= 0 && out[k].ServerTime().Equal(ts); k-- {
			if reflect.DeepEqual(out[k], rec) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, rec)
		}
	}
	out = append(out, existing[i:]...)
	return out
}

// normalizeRecords rewrites record timestamps to UTC before storage.
func normalizeRecords(records []data.Record) []data.Record {
	out := make([]data.Record, len(records))
	for i, rec := range records {
		switch r := rec.(type) {
		case data.Tick:
			r.Time = r.Time.UTC()
			out[i] = r
		case data.Level1:
			r.Time = r.Time.UTC()
			out[i] = r
		case data.Depth:
			r.Time = r.Time.UTC()
			out[i] = r
		case data.Candle:
			r.OpenTime = r.OpenTime.UTC()
			r.CloseTime = r.CloseTime.UTC()
			out[i] = r
		default:
			out[i] = rec
		}
	}
	return out
}

// --- Per-file locks ---------------------------------------------------------

type fileLockKey struct {
	key  data.StreamKey
	date time.Time
}

// lockTable serializes read-modify-write cycles per (stream, date).
type lockTable struct {
	mu    sync.Mutex
	files map[fileLockKey]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{files: make(map[fileLockKey]*sync.Mutex)}
}

func (t *lockTable) lock(key data.StreamKey, date time.Time) (unlock func()) {
	k := fileLockKey{key: key, date: date}
	t.mu.Lock()
	m, ok := t.files[k]
	if !ok {
		m = new(sync.Mutex)
		t.files[k] = m
	}
	t.mu.Unlock()
	m.Lock()
	return m.Unlock
}
