// Package rpc turns the gateway's fire-and-forget frames into awaitable calls.
//
// Ownership boundary:
// - echo allocation and pending-call bookkeeping (Correlator)
// - paced request emission and reply awaiting (Client)
//
// Replies for unknown echoes are dropped silently. Await has no timeout of its
// own; callers bound it with their context when they need one.
package rpc
