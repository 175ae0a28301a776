package candles

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdstore/pkg/data"
)

var sessionStart = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

func tick(offset time.Duration, price, volume int64) data.Tick {
	return data.Tick{Time: sessionStart.Add(offset), Price: price, Volume: volume, Side: data.SideBuy}
}

func timeFrameArg(d time.Duration) data.TypeArg {
	return data.TypeArg{Type: data.TypeCandleTimeFrame, Arg: data.Arg{TimeFrame: d}}
}

func TestTimeFrameBoundaries(t *testing.T) {
	b, err := NewBuilder(timeFrameArg(5 * time.Minute))
	require.NoError(t, err)

	ticks := []data.Tick{
		tick(0, 100, 10),
		tick(1*time.Minute, 102, 20),
		tick(2*time.Minute, 99, 5),
		tick(6*time.Minute, 105, 7),
		tick(7*time.Minute, 104, 3),
	}

	var finished []data.Candle
	for _, tk := range ticks {
		fin, active, err := b.Process(tk)
		require.NoError(t, err)
		finished = append(finished, fin...)
		require.NotNil(t, active)
	}
	if c, ok := b.Flush(); ok {
		finished = append(finished, c)
	}

	require.Len(t, finished, 2)

	first := finished[0]
	assert.Equal(t, sessionStart, first.OpenTime)
	assert.Equal(t, sessionStart.Add(5*time.Minute), first.CloseTime)
	assert.Equal(t, int64(100), first.Open)
	assert.Equal(t, int64(102), first.High)
	assert.Equal(t, int64(99), first.Low)
	assert.Equal(t, int64(99), first.Close)
	assert.Equal(t, int64(35), first.Volume)
	assert.Equal(t, data.CandleFinished, first.State)

	second := finished[1]
	assert.Equal(t, sessionStart.Add(5*time.Minute), second.OpenTime)
	assert.Equal(t, int64(105), second.Open)
	assert.Equal(t, int64(104), second.Close)
	assert.Equal(t, int64(10), second.Volume)
	assert.Equal(t, data.CandleFinished, second.State)
}

func TestOutOfOrderInputRejected(t *testing.T) {
	b, err := NewBuilder(timeFrameArg(time.Minute))
	require.NoError(t, err)

	_, _, err = b.Process(tick(time.Minute, 100, 1))
	require.NoError(t, err)
	_, _, err = b.Process(tick(0, 101, 1))

	var ooErr *OutOfOrderInputError
	require.ErrorAs(t, err, &ooErr)
	assert.Equal(t, sessionStart.Add(time.Minute), ooErr.Last)
	assert.Equal(t, sessionStart, ooErr.Got)
}

func TestEqualTimestampsAccepted(t *testing.T) {
	b, err := NewBuilder(timeFrameArg(time.Minute))
	require.NoError(t, err)
	_, _, err = b.Process(tick(0, 100, 1))
	require.NoError(t, err)
	_, active, err := b.Process(tick(0, 101, 2))
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, int64(101), active.Close)
	assert.Equal(t, int64(3), active.Volume)
}

func TestTickCountRule(t *testing.T) {
	b, err := NewBuilder(data.TypeArg{Type: data.TypeCandleTick, Arg: data.Arg{Count: 3}})
	require.NoError(t, err)

	var finished []data.Candle
	for i, price := range []int64{100, 103, 98, 101, 102, 99} {
		fin, _, err := b.Process(tick(time.Duration(i)*time.Second, price, 1))
		require.NoError(t, err)
		finished = append(finished, fin...)
	}
	require.Len(t, finished, 2)
	assert.Equal(t, int64(100), finished[0].Open)
	assert.Equal(t, int64(98), finished[0].Close)
	assert.Equal(t, int64(103), finished[0].High)
	assert.Equal(t, int64(101), finished[1].Open)
	assert.Equal(t, int64(99), finished[1].Close)
	assert.Nil(t, b.Active())
}

func TestVolumeRule(t *testing.T) {
	b, err := NewBuilder(data.TypeArg{Type: data.TypeCandleVolume, Arg: data.Arg{Count: 100}})
	require.NoError(t, err)

	fin, _, err := b.Process(tick(0, 100, 60))
	require.NoError(t, err)
	assert.Empty(t, fin)
	fin, _, err = b.Process(tick(time.Second, 101, 50))
	require.NoError(t, err)
	require.Len(t, fin, 1)
	assert.Equal(t, int64(110), fin[0].Volume)
	assert.Nil(t, b.Active())
}

func TestRangeRule(t *testing.T) {
	b, err := NewBuilder(data.TypeArg{Type: data.TypeCandleRange, Arg: data.Arg{Count: 10}})
	require.NoError(t, err)

	fin, _, err := b.Process(tick(0, 100, 1))
	require.NoError(t, err)
	assert.Empty(t, fin)
	fin, _, err = b.Process(tick(time.Second, 106, 1))
	require.NoError(t, err)
	assert.Empty(t, fin)
	fin, _, err = b.Process(tick(2*time.Second, 96, 1))
	require.NoError(t, err)
	require.Len(t, fin, 1)
	assert.Equal(t, int64(106), fin[0].High)
	assert.Equal(t, int64(96), fin[0].Low)
}

func TestRenkoEmitsMultipleBoxesPerTick(t *testing.T) {
	b, err := NewBuilder(data.TypeArg{Type: data.TypeCandleRenko, Arg: data.Arg{Count: 10}})
	require.NoError(t, err)

	fin, _, err := b.Process(tick(0, 100, 1))
	require.NoError(t, err)
	assert.Empty(t, fin)

	// One tick travelling 25 up emits two full boxes.
	fin, active, err := b.Process(tick(time.Second, 125, 1))
	require.NoError(t, err)
	require.Len(t, fin, 2)
	assert.Equal(t, int64(100), fin[0].Open)
	assert.Equal(t, int64(110), fin[0].Close)
	assert.Equal(t, int64(110), fin[1].Open)
	assert.Equal(t, int64(120), fin[1].Close)
	require.NotNil(t, active)
	assert.Equal(t, int64(120), active.Open)
	assert.Equal(t, int64(125), active.Close)

	// A falling move emits boxes downward.
	fin, _, err = b.Process(tick(2*time.Second, 108, 1))
	require.NoError(t, err)
	require.Len(t, fin, 1)
	assert.Equal(t, int64(120), fin[0].Open)
	assert.Equal(t, int64(110), fin[0].Close)
}

func TestPointAndFigureReversal(t *testing.T) {
	b, err := NewBuilder(data.TypeArg{Type: data.TypeCandlePnF, Arg: data.Arg{Count: 5, Reversal: 3}})
	require.NoError(t, err)

	// Rising column.
	for i, price := range []int64{100, 106, 112, 120} {
		fin, _, err := b.Process(tick(time.Duration(i)*time.Second, price, 1))
		require.NoError(t, err)
		assert.Empty(t, fin)
	}
	// A pullback smaller than reversal*box keeps the column open.
	fin, _, err := b.Process(tick(4*time.Second, 110, 1))
	require.NoError(t, err)
	assert.Empty(t, fin)

	// Dropping 15 (three boxes) from the 120 high closes the column.
	fin, active, err := b.Process(tick(5*time.Second, 105, 1))
	require.NoError(t, err)
	require.Len(t, fin, 1)
	assert.Equal(t, int64(120), fin[0].High)
	assert.Equal(t, data.CandleFinished, fin[0].State)
	require.NotNil(t, active)
	assert.Equal(t, int64(115), active.Open, "falling column opens one box below the extreme")
}

func TestPointAndFigureConservesVolume(t *testing.T) {
	b, err := NewBuilder(data.TypeArg{Type: data.TypeCandlePnF, Arg: data.Arg{Count: 10, Reversal: 3}})
	require.NoError(t, err)

	input := []data.Tick{
		tick(0, 100, 1),
		tick(time.Second, 115, 2),
		tick(2*time.Second, 80, 5),
	}
	var total int64
	var finished []data.Candle
	for _, tk := range input {
		fin, _, err := b.Process(tk)
		require.NoError(t, err)
		finished = append(finished, fin...)
		total += tk.Volume
	}

	var emitted int64
	for _, c := range finished {
		emitted += c.Volume
	}
	if active := b.Active(); active != nil {
		emitted += active.Volume
	}
	assert.Equal(t, total, emitted, "every tick's volume lands in exactly one column")

	// The reversal tick seeds the new column only: the finished rising
	// column keeps its pre-reversal close and low.
	require.Len(t, finished, 1)
	assert.Equal(t, int64(115), finished[0].Close)
	assert.Equal(t, int64(100), finished[0].Low)
	assert.Equal(t, int64(3), finished[0].Volume)
	require.NotNil(t, b.Active())
	assert.Equal(t, int64(5), b.Active().Volume)
}

func TestBuildAllMatchesIncremental(t *testing.T) {
	ta := timeFrameArg(time.Minute)
	var ticks []data.Tick
	prices := []int64{100, 104, 97, 103, 99, 105, 101, 98, 102, 100}
	for i, p := range prices {
		ticks = append(ticks, tick(time.Duration(i)*20*time.Second, p, int64(i+1)))
	}

	batch, err := BuildAll(ta, ticks)
	require.NoError(t, err)

	b, err := NewBuilder(ta)
	require.NoError(t, err)
	var incremental []data.Candle
	for _, tk := range ticks {
		fin, _, err := b.Process(tk)
		require.NoError(t, err)
		incremental = append(incremental, fin...)
	}
	if tail := b.Active(); tail != nil {
		incremental = append(incremental, *tail)
	}

	assert.Equal(t, batch, incremental)
}

func TestBuildAllEmptyInput(t *testing.T) {
	out, err := BuildAll(timeFrameArg(time.Minute), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestNewBuilderRejectsBadArgs(t *testing.T) {
	_, err := NewBuilder(data.TypeArg{Type: data.TypeTicks})
	assert.True(t, errors.Is(err, ErrNotCandleType))

	_, err = NewBuilder(timeFrameArg(0))
	assert.Error(t, err)

	_, err = NewBuilder(data.TypeArg{Type: data.TypeCandlePnF, Arg: data.Arg{Count: 5}})
	assert.Error(t, err, "reversal is required")
}

func TestStreamEmitsUpdates(t *testing.T) {
	b, err := NewBuilder(timeFrameArg(time.Minute))
	require.NoError(t, err)

	in := make(chan data.Tick)
	out := b.Stream(context.Background(), in)

	go func() {
		in <- tick(0, 100, 1)
		in <- tick(30*time.Second, 101, 1)
		in <- tick(90*time.Second, 102, 1)
		close(in)
	}()

	var updates []Update
	for u := range out {
		require.NoError(t, u.Err)
		updates = append(updates, u)
	}
	// Two building snapshots, then a finished candle plus the new
	// building one for the third tick.
	require.Len(t, updates, 4)
	assert.False(t, updates[0].Finished)
	assert.False(t, updates[1].Finished)
	assert.True(t, updates[2].Finished)
	assert.Equal(t, int64(101), updates[2].Candle.Close)
	assert.False(t, updates[3].Finished)
	assert.Equal(t, int64(102), updates[3].Candle.Close)
}

func TestStreamReportsOutOfOrder(t *testing.T) {
	b, err := NewBuilder(timeFrameArg(time.Minute))
	require.NoError(t, err)

	in := make(chan data.Tick, 2)
	in <- tick(time.Minute, 100, 1)
	in <- tick(0, 101, 1)
	close(in)

	var last Update
	for u := range b.Stream(context.Background(), in) {
		last = u
	}
	var ooErr *OutOfOrderInputError
	require.ErrorAs(t, last.Err, &ooErr)
}

func TestCompressTimeFrame(t *testing.T) {
	minute, err := BuildAll(timeFrameArg(time.Minute), []data.Tick{
		tick(0, 100, 10),
		tick(1*time.Minute, 103, 5),
		tick(2*time.Minute, 98, 5),
		tick(3*time.Minute, 101, 5),
		tick(4*time.Minute, 102, 5),
		tick(5*time.Minute, 104, 5),
	})
	require.NoError(t, err)
	require.Len(t, minute, 6)

	five, err := CompressTimeFrame(time.Minute, 5*time.Minute, minute)
	require.NoError(t, err)
	require.Len(t, five, 2)

	assert.Equal(t, sessionStart, five[0].OpenTime)
	assert.Equal(t, int64(100), five[0].Open)
	assert.Equal(t, int64(103), five[0].High)
	assert.Equal(t, int64(98), five[0].Low)
	assert.Equal(t, int64(102), five[0].Close)
	assert.Equal(t, int64(30), five[0].Volume)
	assert.Equal(t, data.CandleFinished, five[0].State)

	assert.Equal(t, sessionStart.Add(5*time.Minute), five[1].OpenTime)
	assert.Equal(t, data.CandleActive, five[1].State)

	_, err = CompressTimeFrame(2*time.Minute, 5*time.Minute, minute)
	assert.Error(t, err, "target must be a whole multiple of source")
}
