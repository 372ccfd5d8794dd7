// Package logx is the zerolog wrapper every relaychat binary logs through.
//
// A Service owns the sinks (console, append-only file) and can be re-applied
// when relayd reloads its config; Loggers derived from it follow the swap.
// Standalone loggers (NewConsole, NewWriter) serve the terminal clients, and
// the zero Logger discards everything.
package logx
