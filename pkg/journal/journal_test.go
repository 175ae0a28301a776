package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndReadSessions(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	first := &SessionRecord{
		Timestamp: time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC),
		Streams:   2,
		Downloaded: []DateEntry{
			{Stream: "AAPL@NASDAQ/Ticks", Date: "2025_03_13", Bytes: 512},
		},
		UpToDate: 1,
	}
	path, err := w.WriteSession(first)
	require.NoError(t, err)
	assert.FileExists(t, path)

	second := &SessionRecord{
		Timestamp: time.Date(2025, 3, 14, 11, 0, 0, 0, time.UTC),
		Streams:   1,
		Failed: []FailureEntry{
			{Stream: "MSFT@NASDAQ/Ticks", Date: "2025_03_13", Error: "connection reset"},
		},
		Partial: true,
	}
	_, err = w.WriteSession(second)
	require.NoError(t, err)

	records, err := ReadAll(dir)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, first.Downloaded, records[0].Downloaded)
	assert.True(t, records[1].Partial)
	assert.Equal(t, "connection reset", records[1].Failed[0].Error)
}

func TestWriteSessionRejectsNil(t *testing.T) {
	w := NewWriter(t.TempDir())
	_, err := w.WriteSession(nil)
	assert.Error(t, err)
}
