// Package authority drives the two ends of a universe channel.
//
// The Responder owns the authoritative graph. It answers heartbeats,
// provisions resources on initialize, and replicates every graph mutation as
// facts. The Initiator keeps the link alive with pings, performs the
// initialize handshake, and mirrors the Responder's graph by applying
// replicated facts under a scoped authority.
//
// Both controllers are single-threaded: every handler runs on the scheduler
// they were built with, and their exported mutators must be called from it.
// State, Capabilities, Err and Done are safe from any goroutine.
package authority
