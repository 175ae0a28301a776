package candles

import (
	"fmt"
	"time"
)

// OutOfOrderInputError reports input that violates the builder's
// monotonic-time contract. It marks a programming error in the feeding
// code and is fatal for the stream's processing, not recoverable
// mid-stream.
type OutOfOrderInputError struct {
	Got  time.Time
	Last time.Time
}

func (e *OutOfOrderInputError) Error() string {
	return fmt.Sprintf("candles: out of order input: %s before %s", e.Got.Format(time.RFC3339Nano), e.Last.Format(time.RFC3339Nano))
}
