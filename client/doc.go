// Package client is the peer side of the desktop protocol. A Client reads its
// bootstrap from launch parameters, connects to the broker, mirrors the
// channels it has seen as local proxies and dispatches inbound envelopes to
// the listeners application code registered.
//
// Operations that need a reply from the broker (Connect, JoinChannel,
// GetSystemChannels, Open) wait for a bounded time and fail with
// protocol.ErrConnectTimeout or protocol.ErrTimeout when it runs out. Nothing
// is retried.
package client
