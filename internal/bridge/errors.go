package bridge

import "errors"

// ErrStreamClosed indicates a zero-length read where a response line was
// expected: the worker has exited (or was terminated) mid-exchange. The
// bridge never restarts the worker; the host must.
var ErrStreamClosed = errors.New("worker stream closed")

// ErrNoResult indicates a streaming query whose output ended before any
// terminal envelope arrived. Distinct from WorkerError so callers can tell
// "the worker told us it failed" from "we lost the worker".
var ErrNoResult = errors.New("stream ended without a result")

// WorkerError is a failure the worker itself reported through an
// error-typed envelope. It is not a bridge fault.
type WorkerError struct {
	Message string
}

func (e *WorkerError) Error() string {
	return e.Message
}
