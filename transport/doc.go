// Package transport moves protocol envelopes between the broker and its
// peers. The broker only sees the Conn interface; this package supplies an
// in-memory pipe, a WebSocket adapter and a NATS adapter.
package transport
