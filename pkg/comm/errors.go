package comm

import "errors"

var (
	// ErrNoFrameReady indicates no complete frame is buffered yet.
	ErrNoFrameReady = errors.New("no frame ready")
	// ErrFrame indicates the queue ran dry before the terminator of a
	// counted frame. The partial frame is dropped and the frame counter
	// is resynchronized.
	ErrFrame = errors.New("frame error")
	// ErrFrameOverflow indicates the frame did not fit the destination
	// buffer and was discarded.
	ErrFrameOverflow = errors.New("frame overflow")
)
