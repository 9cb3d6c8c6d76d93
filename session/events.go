package session

import "github.com/skylark-im/callkit/signaling"

// Inbox events. Everything that can change session state arrives as one of
// these and is processed on the session goroutine.

// envelopeEvent carries a signaling envelope received from the room.
type envelopeEvent struct {
	env signaling.Envelope
}

// candidateEvent carries a locally gathered ICE candidate for a peer.
type candidateEvent struct {
	remoteID  string
	candidate signaling.CandidateInit
}

// trackEvent carries a remote track announcement from a peer link.
type trackEvent struct {
	remoteID string
	track    RemoteTrack
}

// linkStateEvent carries a connectivity change from a peer link.
type linkStateEvent struct {
	remoteID string
	state    LinkState
}

// confirmFailureEvent fires after the failure grace delay to check whether a
// failed link recovered.
type confirmFailureEvent struct {
	remoteID string
}

// tickEvent drives the periodic liveness check.
type tickEvent struct{}

// cmdEvent runs a public API operation on the session goroutine. done is
// closed after run returns.
type cmdEvent struct {
	run  func()
	done chan struct{}
}
