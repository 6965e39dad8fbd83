// Package protocol owns the envelope wire contract shared by both sides of a
// channel.
//
// Ownership boundary:
// - envelope {channel, name, args} encode/decode
// - positional argument packing
// - frame primitives for byte-stream transports (see frame)
package protocol
