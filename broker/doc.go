// Package broker is the authoritative registry and router of the desktop. It
// owns the peer directory, the system channels and the context and intent
// listener registries, and routes every inbound envelope on a single loop
// goroutine so one envelope is handled to completion before the next.
//
// Peers are created with Launch, which hands a bootstrap to a
// launcher.Launcher and starts reading the returned connection. A peer whose
// connection closes has its listeners released and is forgotten.
package broker
