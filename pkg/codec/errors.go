package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrBadMagic indicates the buffer does not start with a day-file header.
	ErrBadMagic = errors.New("codec: bad magic")
	// ErrUnsupportedVersion indicates an unknown format version. Unknown
	// versions are rejected rather than guessed at.
	ErrUnsupportedVersion = errors.New("codec: unsupported format version")
	// ErrRecordCountMismatch indicates the header count does not match the
	// decoded stream length.
	ErrRecordCountMismatch = errors.New("codec: record count mismatch")
	// ErrTruncated indicates the buffer ended before the declared records.
	ErrTruncated = errors.New("codec: truncated payload")
	// ErrKindMismatch indicates a record that does not belong to the
	// stream's record kind.
	ErrKindMismatch = errors.New("codec: record kind mismatch")
	// ErrUnordered indicates input records with decreasing timestamps.
	ErrUnordered = errors.New("codec: records not ordered by time")
)

// CorruptDataError wraps any decode failure. The file is treated as
// unreadable but is never auto-deleted.
type CorruptDataError struct {
	Reason error
}

func (e *CorruptDataError) Error() string {
	return fmt.Sprintf("corrupt data: %v", e.Reason)
}

func (e *CorruptDataError) Unwrap() error { return e.Reason }

// IsCorrupt reports whether err is a decode corruption failure.
func IsCorrupt(err error) bool {
	var ce *CorruptDataError
	return errors.As(err, &ce)
}

func corrupt(reason error) error {
	return &CorruptDataError{Reason: reason}
}

func corruptf(format string, args ...any) error {
	return &CorruptDataError{Reason: fmt.Errorf(format, args...)}
}
