// Package engine performs request/response exchanges with one instrument
// over a half-duplex transport session.
//
// An exchange encodes a codec.Command, writes it, reads exactly one reply
// line within a timeout and decodes it. At most one exchange is in flight per
// Engine. Foreground callers (Execute) take precedence over background polls
// (Poll) waiting for the same session.
//
// Retry policy:
//   - a reply timeout is retried up to the configured retry limit, but only
//     for idempotent opcodes; exhaustion yields a *ProtocolError wrapping
//     ErrCommunicationTimeout
//   - a malformed reply is retried the same way and wraps ErrMalformedReply
//   - an error reply ("?<cmd>") yields *InstrumentRejected and is never retried
//
// Context cancellation is honoured while waiting for the session and during
// the turnaround gap. Once a command has been written its reply is awaited
// for the full timeout regardless of the context, so the session never holds
// an orphaned reply.
package engine
