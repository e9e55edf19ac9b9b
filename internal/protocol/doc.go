// Package protocol owns the host<->worker wire contract.
//
// Ownership boundary:
// - error kinds shared by every layer (this package)
// - value codec and range serializer (codec)
// - message header framing (frame)
// - kind registry and dispatch state machine (dispatch)
//
// All multi-byte fields on the wire are little-endian.
package protocol
