package session

import (
	"github.com/skylark-im/callkit/media"
	"github.com/skylark-im/callkit/signaling"
)

// PeerLink is one peer-to-peer media connection. Package rtc implements it
// on pion/webrtc; tests substitute fakes.
//
// Callback registration must happen before the first offer or answer is
// processed. Callbacks may fire from transport goroutines; the session posts
// them onto its own inbox, so implementations need not serialize.
type PeerLink interface {
	// CreateOffer produces the local offer and moves signaling to
	// have-local-offer.
	CreateOffer() (signaling.SessionDescription, error)

	// HandleOffer applies a remote offer and produces the answer, moving
	// signaling through have-remote-offer back to stable.
	HandleOffer(offer signaling.SessionDescription) (signaling.SessionDescription, error)

	// HandleAnswer applies a remote answer to a local offer.
	HandleAnswer(answer signaling.SessionDescription) error

	// AddCandidate applies a remote ICE candidate. Callers must not invoke
	// it before a remote description is set.
	AddCandidate(c signaling.CandidateInit) error

	// HasRemoteDescription reports whether a remote offer or answer has
	// been applied.
	HasRemoteDescription() bool

	// SignalingState reports the negotiation sub-state.
	SignalingState() SignalingState

	// AddTrack attaches a local track for sending.
	AddTrack(t media.Track) error

	// ReplaceVideoTrack swaps the outgoing video track in place, without
	// renegotiation. Used for background switches.
	ReplaceVideoTrack(t media.Track) error

	// SetOutgoingEnabled pauses or resumes sending of the given kind
	// without renegotiation. Used for mute and camera-off.
	SetOutgoingEnabled(kind media.TrackKind, enabled bool) error

	// OnCandidate registers the local trickle ICE callback. A nil candidate
	// marks the end of gathering and is not delivered.
	OnCandidate(fn func(signaling.CandidateInit))

	// OnTrack registers the remote track callback.
	OnTrack(fn func(RemoteTrack))

	// OnStateChange registers the connectivity state callback.
	OnStateChange(fn func(LinkState))

	// Close tears the connection down. Idempotent.
	Close() error
}

// LinkFactory creates the peer link for a remote participant.
type LinkFactory func(remoteID string) (PeerLink, error)
