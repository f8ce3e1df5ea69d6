// Package signal models the call-signaling protocol surface: the typed wire
// messages exchanged between peers, the call-key naming scheme, and the
// Transport interface the call engine uses to reach the outside world.
//
// The package validates aggressively on parse so the engine only ever sees
// well-formed messages.
package signal
