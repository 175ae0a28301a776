package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdstore/pkg/data"
	"mdstore/pkg/journal"
	"mdstore/pkg/storage"
	"mdstore/pkg/storage/remote"
)

// fakeRemote is an in-memory server side for session tests.
type fakeRemote struct {
	securities []remote.SecurityInfo
	types      map[data.SecurityID][]data.TypeArg
	dates      map[string][]time.Time
	payloads   map[string][]byte

	loadErr   map[string]error
	loadCalls []string
}

func streamDateKey(key data.StreamKey, date time.Time) string {
	return key.String() + "/" + date.Format(remote.WireDate)
}

func (f *fakeRemote) LookupSecurities(ctx context.Context, pattern string) ([]remote.SecurityInfo, error) {
	return f.securities, nil
}

func (f *fakeRemote) GetAvailableDataTypes(ctx context.Context, id data.SecurityID) ([]data.TypeArg, error) {
	return f.types[id], nil
}

func (f *fakeRemote) GetDates(ctx context.Context, key data.StreamKey) ([]time.Time, error) {
	return f.dates[key.String()], nil
}

func (f *fakeRemote) LoadStream(ctx context.Context, key data.StreamKey, date time.Time) ([]byte, bool, error) {
	sd := streamDateKey(key, date)
	f.loadCalls = append(f.loadCalls, sd)
	if err := f.loadErr[sd]; err != nil {
		return nil, false, err
	}
	payload, ok := f.payloads[sd]
	return payload, ok, nil
}

func date(day int) time.Time {
	return time.Date(2025, 3, day, 0, 0, 0, 0, time.UTC)
}

func newFakeRemote(key data.StreamKey, dates ...time.Time) *fakeRemote {
	f := &fakeRemote{
		securities: []remote.SecurityInfo{{ID: key.Security.String(), PriceScale: 2}},
		types:      map[data.SecurityID][]data.TypeArg{key.Security: {key.TypeArg()}},
		dates:      map[string][]time.Time{key.String(): dates},
		payloads:   make(map[string][]byte),
		loadErr:    make(map[string]error),
	}
	for i, d := range dates {
		f.payloads[streamDateKey(key, d)] = []byte{byte(i + 1), 0xAB}
	}
	return f
}

func TestSessionDownloadsOnlyMissingDates(t *testing.T) {
	key := data.StreamKey{Security: data.MustSecurityID("AAPL@NASDAQ"), Type: data.TypeTicks}
	rem := newFakeRemote(key, date(1), date(2), date(3))

	local, err := storage.NewLocalDrive(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	existing := []byte{0xEE}
	require.NoError(t, local.SaveStream(ctx, key, date(1), existing))

	sess := NewSession(rem, local)
	summary, err := sess.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Streams)
	assert.Equal(t, 2, summary.Downloaded())
	assert.Equal(t, 1, summary.UpToDate())
	assert.Empty(t, summary.Failed())
	assert.False(t, summary.Partial)

	// d1 was never re-fetched and its local bytes are untouched.
	assert.NotContains(t, rem.loadCalls, streamDateKey(key, date(1)))
	got, ok, err := local.LoadStream(ctx, key, date(1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, existing, got)

	for _, d := range []time.Time{date(2), date(3)} {
		got, ok, err := local.LoadStream(ctx, key, d)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, rem.payloads[streamDateKey(key, d)], got)
	}
}

func TestSessionIsolatesPerDateFailures(t *testing.T) {
	key := data.StreamKey{Security: data.MustSecurityID("AAPL@NASDAQ"), Type: data.TypeTicks}
	rem := newFakeRemote(key, date(1), date(2), date(3))
	rem.loadErr[streamDateKey(key, date(2))] = errors.New("connection reset")

	local, err := storage.NewLocalDrive(t.TempDir())
	require.NoError(t, err)

	summary, err := NewSession(rem, local).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Downloaded())
	require.Len(t, summary.Failed(), 1)
	failure := summary.Failed()[0]
	assert.Equal(t, key, failure.Key)
	assert.Equal(t, date(2), failure.Date)
	assert.ErrorContains(t, failure.Err, "connection reset")

	// The failed date was skipped, the following one still landed.
	_, ok, err := local.LoadStream(context.Background(), key, date(3))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSessionRedownloadIsIdempotent(t *testing.T) {
	key := data.StreamKey{Security: data.MustSecurityID("AAPL@NASDAQ"), Type: data.TypeTicks}
	rem := newFakeRemote(key, date(1), date(2))
	local, err := storage.NewLocalDrive(t.TempDir())
	require.NoError(t, err)

	first, err := NewSession(rem, local).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Downloaded())

	second, err := NewSession(rem, local).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Downloaded())
	assert.Equal(t, 2, second.UpToDate())
}

func TestSessionCancellationIsPartial(t *testing.T) {
	key := data.StreamKey{Security: data.MustSecurityID("AAPL@NASDAQ"), Type: data.TypeTicks}
	rem := newFakeRemote(key, date(1), date(2), date(3))
	local, err := storage.NewLocalDrive(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var progressed int
	sess := NewSession(rem, local, WithProgress(func(stream data.StreamKey, done, total int) {
		progressed++
		if done == 1 {
			cancel()
		}
	}))

	summary, err := sess.Run(ctx)
	require.NoError(t, err, "cancellation is a partial result, not an error")
	assert.True(t, summary.Partial)
	assert.Less(t, len(summary.Results), 3)
	assert.GreaterOrEqual(t, progressed, 1)
}

func TestSessionHonorsTypeFilter(t *testing.T) {
	id := data.MustSecurityID("AAPL@NASDAQ")
	ticks := data.StreamKey{Security: id, Type: data.TypeTicks}
	level1 := data.StreamKey{Security: id, Type: data.TypeLevel1}

	rem := newFakeRemote(ticks, date(1))
	rem.types[id] = append(rem.types[id], level1.TypeArg())
	rem.dates[level1.String()] = []time.Time{date(1)}
	rem.payloads[streamDateKey(level1, date(1))] = []byte{0x01}

	local, err := storage.NewLocalDrive(t.TempDir())
	require.NoError(t, err)

	summary, err := NewSession(rem, local,
		WithDataTypes([]data.TypeArg{{Type: data.TypeTicks}}),
	).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Streams)
	_, ok, err := local.LoadStream(context.Background(), level1, date(1))
	require.NoError(t, err)
	assert.False(t, ok, "filtered-out type must not be downloaded")
}

func TestSessionWritesJournal(t *testing.T) {
	key := data.StreamKey{Security: data.MustSecurityID("AAPL@NASDAQ"), Type: data.TypeTicks}
	rem := newFakeRemote(key, date(1))
	local, err := storage.NewLocalDrive(t.TempDir())
	require.NoError(t, err)

	dir := t.TempDir()
	w := journal.NewWriter(dir)
	_, err = NewSession(rem, local, WithJournal(w)).Run(context.Background())
	require.NoError(t, err)

	records, err := journal.ReadAll(dir)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Len(t, records[0].Downloaded, 1)
	assert.Equal(t, key.String(), records[0].Downloaded[0].Stream)
	assert.Equal(t, "2025_03_01", records[0].Downloaded[0].Date)
	assert.False(t, records[0].Partial)
}
