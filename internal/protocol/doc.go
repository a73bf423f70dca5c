// Package protocol owns the wire contract and parsing primitives.
//
// Ownership boundary:
// - field primitives (varint, varlong, strings, uuids, byte arrays)
// - phase and direction scoped dispatch tables
// - payload encode/decode and the fatal error taxonomy
//
// Framing lives in protocol/frame, the message catalog in protocol/packets
// and per-connection phase ownership in protocol/session.
package protocol
