package protocol

import "errors"

// Error kinds shared by the codec, framer and dispatcher. Concrete failures
// wrap one of these with a diagnostic naming the violated contract.
var (
	// ErrUnserializableType is returned when encoding a host handle,
	// function or thread. Nothing is appended for the rejected value.
	ErrUnserializableType = errors.New("protocol: unserializable type")
	// ErrProtocolViolation covers unknown message kinds and malformed
	// payloads. The session cannot resynchronize after one.
	ErrProtocolViolation = errors.New("protocol: violation")
	// ErrChannel covers I/O failures and short reads on the channel.
	ErrChannel = errors.New("protocol: channel error")
	// ErrSessionTerminated is returned by a dispatcher that already stopped.
	ErrSessionTerminated = errors.New("protocol: session terminated")
)

// Fatal reports whether err must terminate the owning session.
func Fatal(err error) bool {
	return errors.Is(err, ErrProtocolViolation) ||
		errors.Is(err, ErrChannel) ||
		errors.Is(err, ErrSessionTerminated)
}
