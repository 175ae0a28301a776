package candles

import (
	"fmt"
	"time"

	"mdstore/pkg/data"
)

// CompressTimeFrame rebuilds a higher time frame from stored
// lower-time-frame candles, e.g. 1m files into 5m candles. Input must be
// sorted by open time and the target frame must be a whole multiple of
// the source frame. All output candles are Finished except the last,
// which stays Active because the source range may end mid-period.
func CompressTimeFrame(source, target time.Duration, in []data.Candle) ([]data.Candle, error) {
	if source <= 0 || target <= 0 || target%source != 0 {
		return nil, fmt.Errorf("candles: cannot compress %s into %s", source, target)
	}
	var (
		out  []data.Candle
		last time.Time
	)
	for i, c := range in {
		open := c.OpenTime.UTC()
		if i > 0 && open.Before(last) {
			return nil, &OutOfOrderInputError{Got: open, Last: last}
		}
		last = open

		period := open.Truncate(target)
		if len(out) == 0 || !out[len(out)-1].OpenTime.Equal(period) {
			if len(out) > 0 {
				out[len(out)-1].State = data.CandleFinished
			}
			out = append(out, data.Candle{
				OpenTime:  period,
				CloseTime: c.CloseTime.UTC(),
				Open:      c.Open,
				High:      c.High,
				Low:       c.Low,
				Close:     c.Close,
				Volume:    c.Volume,
				State:     data.CandleActive,
			})
			continue
		}
		agg := &out[len(out)-1]
		if c.High > agg.High {
			agg.High = c.High
		}
		if c.Low < agg.Low {
			agg.Low = c.Low
		}
		agg.Close = c.Close
		agg.Volume += c.Volume
		agg.CloseTime = c.CloseTime.UTC()
	}
	return out, nil
}
