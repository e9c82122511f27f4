// Package dispatch drives the VICE binary monitor conversation over one socket.
//
// The dispatcher pops pending commands from the queue and executes them one at
// a time. Each command is framed with the next request id, written, and then
// the loop waits for the frame that carries the same id.
//
// Key features:
//   - Single-flight FIFO dispatch (one request on the wire at a time)
//   - Dedicated reader goroutine per session; only the loop writes
//   - Response correlation by request id, with checkpoint list aggregation
//   - Unsolicited frames (stopped/resumed/jam events) routed to history,
//     observers and the event hub without touching the waiting caller
//   - Auto-resume probe after commands that leave the target paused
//   - History and performance sinks, plus an OpenTelemetry span per round trip
//
// Timeout handling:
//   - Each round trip waits at most Config.ResponseTimeout
//   - On expiry the caller gets a *TimeoutError and the connection stays open
//   - A late response for the abandoned id is treated as unsolicited
//
// Error handling:
//   - Socket read/write failure → *DisconnectedError for the in-flight
//     request and every queued request; Serve returns
//   - Framing error (bad marker, version, oversized body) → same as above
//   - Body too short for its type → *protocol.DecodeError for that caller only
//   - Non-OK error code → response delivered; Pending.Wait adds a
//     *protocol.ResponseError
//   - Context cancellation → in-flight request faulted, queue left for the
//     owner to abandon or retry
package dispatch
