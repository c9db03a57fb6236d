// Package gatekeeper owns the join-verification runtime.
//
// Ownership boundary:
// - inbound frame dispatch (replies to the correlator, events to flows)
// - verification sessions keyed by (member, group) and their deadlines
// - administrative whitelist commands
// - service wiring: store, transport, rpc client, status server
//
// Session lifecycle:
// - join below threshold -> challenged -> {passed | evicted}
//
// - exactly one of the correct-code flow and the deadline flow removes a
//   session; the loser observes the removal and does nothing.
//
// - sessions live only in memory; a restart forfeits in-flight challenges.
package gatekeeper
