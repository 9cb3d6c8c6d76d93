// Package session implements the call session state machine: the lifecycle
// of one call from initiation or acceptance, through negotiation with each
// peer in the call room, to teardown.
//
// A CallSession runs as a single goroutine processing an inbox of events:
// signaling envelopes from the room channel, callbacks from peer links, and
// commands from the public API. Every state transition happens on that
// goroutine, which is what keeps the negotiation rules free of locks and
// races between remote messages and local operations.
//
// Negotiation follows the perfect-negotiation shape with a deterministic
// twist: for any pair of participants, the one with the lexicographically
// smaller identity creates the offer, and the other side answers. Both sides
// agree on the direction without exchanging any extra messages, so
// simultaneous joins cannot produce offer glare.
//
// The connection layer is abstracted behind PeerLink so the state machine is
// testable without network or devices; package rtc provides the
// pion/webrtc implementation.
package session
