package storage

import "errors"

var (
	errNoSuchKey       = errors.New("no such key")
	errIndexOutOfRange = errors.New("index out of range")
)

// IsNoSuchKey reports whether err is the no-such-key sentinel, so the
// dispatcher can pick the exact reply text spec.md requires.
func IsNoSuchKey(err error) bool { return errors.Is(err, errNoSuchKey) }

// IsIndexOutOfRange reports whether err is the out-of-range sentinel.
func IsIndexOutOfRange(err error) bool { return errors.Is(err, errIndexOutOfRange) }
