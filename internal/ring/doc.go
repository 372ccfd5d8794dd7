// Package ring is a fixed-capacity message log shared between processes on
// one host.
//
// Three named objects back a ring: a memory segment holding a 64-bit sequence
// counter followed by Slots fixed-width slots, a lock serializing writers and
// scanners, and a manual-reset event that writers set after every append.
// Message k lives in slot k mod Slots; once the ring wraps, older messages are
// overwritten without notice.
//
// Readers keep a private cursor (the last sequence they consumed) and on every
// wake re-scan from cursor+1 to the current sequence, so coalesced or raced
// signals never lose a message that is still in the ring.
package ring
