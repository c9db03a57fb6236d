// Package transport owns the single websocket to the chat gateway.
//
// Ownership boundary:
// - dial / read loop / reconnect with fixed backoff
// - serialized outbound writes on the live connection
// - handing every inbound text frame to a Handler on its own goroutine
//
// Lifecycle:
// - disconnected -> connecting -> live -> backoff -> connecting -> ...
//
// - MaxConsecutiveFailures failed attempts in a row end Run with
//   ErrRetriesExhausted; an operator has to restart the process.
package transport
