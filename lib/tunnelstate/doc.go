// Package tunnelstate models the lifecycle of a packet tunnel as a closed set
// of state variants, each carrying its own payload.
//
// A tunnel moves through these states:
//
//	Initial -> Connecting -> [NegotiatingEphemeralPeer] -> Connected
//	                 ^                                         |
//	                 +----------- Reconnecting <---------------+
//	any of the above -> Error -> Connecting | Reconnecting
//	any -> Disconnecting -> Disconnected
//
// Every function in this package is pure: it takes a State value and returns
// a new one. Nothing here blocks, performs I/O or keeps shared mutable state,
// so the owning controller can call into it from whatever goroutine holds the
// tunnel's single-writer lock.
//
// The State interface is sealed. Only the variant types declared in this
// package implement it, and per-variant behaviour lives in interface methods,
// so adding a variant fails to compile until every behaviour is supplied.
// The prior state carried by an Error is typed as PriorState, which only
// Initial, Connecting, Connected and Reconnecting implement; an Error can
// therefore never nest another Error.
package tunnelstate
