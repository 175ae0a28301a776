package storage

import (
	"errors"
	"fmt"
)

// IOError wraps a disk or filesystem failure. Distinct from "no data for
// this date", which is not an error, and from codec corruption. Callers
// may retry with backoff; the store itself does not retry beyond the
// atomic temp-then-rename write.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// IsIO reports whether err is a storage I/O failure.
func IsIO(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr)
}

func wrapIO(op, path string, err error) error {
	return &IOError{Op: op, Path: path, Err: err}
}
