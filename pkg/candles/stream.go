package candles

import (
	"context"

	"mdstore/pkg/data"
)

// Update is one event on an incremental candle stream: either a progress
// snapshot of the building candle or a finished candle. Err is set on a
// contract violation, after which the stream closes.
type Update struct {
	Candle   data.Candle
	Finished bool
	Err      error
}

// Stream runs the builder over a live tick channel and returns the
// update channel: a Building snapshot after every tick plus a Finished
// event at each boundary. The producer-consumer handoff replaces any
// callback wiring: consumers read at their own pace from the returned
// channel, which closes when the input closes or the context ends.
func (b *Builder) Stream(ctx context.Context, in <-chan data.Tick) <-chan Update {
	out := make(chan Update, 64)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case t, ok := <-in:
				if !ok {
					return
				}
				finished, active, err := b.Process(t)
				if err != nil {
					out <- Update{Err: err}
					return
				}
				for _, c := range finished {
					select {
					case out <- Update{Candle: c, Finished: true}:
					case <-ctx.Done():
						return
					}
				}
				if active != nil {
					select {
					case out <- Update{Candle: *active}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out
}
