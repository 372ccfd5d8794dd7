package ring

import "errors"

var (
	ErrNotFound    = errors.New("ring: segment not found")
	ErrBadSegment  = errors.New("ring: segment has unexpected size")
	ErrBadName     = errors.New("ring: invalid name")
	ErrClosed      = errors.New("ring: closed")
	ErrUnsupported = errors.New("ring: shared memory not supported on this platform")
)
