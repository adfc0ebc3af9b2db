package mplex

import "errors"

// ErrShutdown is returned when operating on a shut down multiplexer.
var ErrShutdown = errors.New("mplex: session shut down")

// ErrTwoInitiators is returned when both sides think they're the initiator.
var ErrTwoInitiators = errors.New("mplex: two initiators")

// ErrInvalidState is returned when the other side does something it
// shouldn't. In this case, we close the connection to be safe.
var ErrInvalidState = errors.New("mplex: received an unexpected message from the peer")

// ErrStreamClosed is returned by Write once the local side of a stream has
// been closed. Read does not return it: once the incoming buffer has
// drained after the peer's Close, Read reports io.EOF.
var ErrStreamClosed = errors.New("mplex: stream closed")

// ErrStreamReset is returned by Read/Write once a stream has been reset by
// either side.
var ErrStreamReset = errors.New("mplex: stream reset")

// ErrMessageTooLarge is returned when a peer sends a frame whose declared
// length exceeds the configured maximum message size.
var ErrMessageTooLarge = errors.New("mplex: message size too large")

// ErrWriteTooLarge is returned by Write when the caller's own buffer
// exceeds the configured maximum message size, before anything is sent.
var ErrWriteTooLarge = errors.New("mplex: write exceeds maximum message size")

// ErrMemoryLimitExceeded is returned by BoundedMemoryManager when a
// reservation would exceed its configured limit.
var ErrMemoryLimitExceeded = errors.New("mplex: memory limit exceeded")

var errTimeout = timeoutError{}

// timeoutError satisfies net.Error so Stream deadlines compose with code
// written against net.Conn.
type timeoutError struct{}

func (timeoutError) Error() string   { return "mplex: i/o deadline exceeded" }
func (timeoutError) Temporary() bool { return true }
func (timeoutError) Timeout() bool   { return true }
