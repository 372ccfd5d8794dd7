// Package relay implements the stream broadcast engine.
//
// One goroutine accepts connections. Every accepted connection is registered
// and gets its own goroutine running a blocking read loop; each chunk read is
// written to every other registered peer before the next read is issued.
//
// There is no framing: a chunk is whatever one Read returned (at most
// transport.ServerReadSize bytes), so one client send may be split across
// broadcasts or merged with another, and receivers see the raw bytes.
//
// A peer is removed only by its own goroutine, after its read fails. A failed
// write during a broadcast is reported and otherwise ignored.
//
// A failed Accept never ends the loop: descriptor exhaustion and aborted
// handshakes back off and retry until Close.
//
// Connect and disconnect notices also go, undropped, to lifecycle handlers
// on the connection's goroutine; everything else reaches observers through
// the lossy event bus.
//
// Close is abrupt: the listener and every open handle are closed, and the
// connection goroutines exit through their own read failure.
package relay
