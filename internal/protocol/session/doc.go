// Package session binds one byte stream to the protocol: it owns the
// connection's phase, frames and codes messages in both directions and
// applies phase transitions once their triggering message has been handled
// or written.
//
// Ownership boundary:
// - phase tracking and transitions
// - framed send/receive with deadlines
// - disconnect with a diagnostic reason
// - dial retry backoff
package session
