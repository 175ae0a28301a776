package remote

import (
	"errors"
	"fmt"
)

// ErrNotAuthorized indicates the server rejected the request for lack of
// permission. Surfaced distinctly from "no data" so callers can tell
// an empty date apart from a denied one.
var ErrNotAuthorized = errors.New("remote: not authorized")

// NetworkError wraps a transport failure during a remote call. Retryable
// per-date: the sync loop continues with remaining dates and reports the
// failed ones in its summary.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("remote: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsNetwork reports whether err is a remote transport failure.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
