// Package store persists which groups are monitored and their per-group
// challenge policy (reputation threshold and timeout) in an embedded badger DB.
//
// Reads are served from an in-process cache rebuilt lazily after every
// mutation. Unset policy values fall back to process-wide defaults.
package store
