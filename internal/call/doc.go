// Package call implements the call session lifecycle: one state machine per
// call key, driven by signaling events and local intents, owning the peer
// connection and the local media lease for that call.
package call
