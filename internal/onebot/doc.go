// Package onebot owns the JSON wire shapes exchanged with the chat gateway.
//
// Ownership boundary:
// - outbound request envelopes {action, params, echo}
// - inbound frame classification (correlated reply vs. event)
// - message text extraction for string and segment-array bodies
//
// Only the subset of OneBot v11 shapes the gatekeeper consumes is modeled.
package onebot
