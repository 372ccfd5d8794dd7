// Package peer keeps the set of live stream connections held by the relay.
//
// Contract:
//   - A Conn appears in a Registry at most once.
//   - Register, Unregister and Broadcast share one mutex, so a broadcast never
//     observes a half-added or half-removed peer.
//   - Broadcast writes to each peer in turn while holding that mutex. A slow
//     peer therefore delays every other recipient of the same broadcast.
package peer
