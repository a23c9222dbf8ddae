// Package session drives one transfer handle through a connect-once,
// post-many lifecycle.
//
// Ownership boundary:
// - one transfer handle per Session, released by Close
// - header lists and body buffers scoped to a single Post call
// - tracing options re-applied after every handle reset
//
// A Session is not safe for concurrent use; calls must be sequential.
package session
