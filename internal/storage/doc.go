// Package storage keeps an optional audit trail of relay peer lifecycle
// events: who connected, from where, for how long, and how much they sent.
// Message bodies are never stored.
package storage
