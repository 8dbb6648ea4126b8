// Package protocol defines the wire contract shared by the broker and its
// peers: the envelope every message travels in, the action tags, the opaque
// typed context payload, channel descriptors, error descriptors and the
// bootstrap handshake handed to a freshly launched peer.
//
// Design decisions:
//   - Pure data: nothing in this package holds state or performs I/O
//   - Opaque contexts: a Context is raw JSON, only its "type" field is read
//   - Errors travel as {code, message} descriptors that unwrap back into the
//     sentinel errors below, so errors.Is works on both ends of a connection
//   - The envelope schema can be exported with Schema for non-Go peers
//
// Envelope flow:
//
//	client ── CONNECT ─────────────▶ broker
//	client ◀──────── JOIN_CHANNEL ── broker
//	client ── ADD_CONTEXT_LISTENER ▶ broker
//	client ◀── BROADCAST{listenerId} broker (for every matching broadcast)
package protocol
