package session

import (
	"fmt"

	"github.com/skylark-im/callkit/signaling"
)

// State is the top-level lifecycle state of a call session.
type State int

const (
	// StateIdle means no call is in progress.
	StateIdle State = iota
	// StateCalling means the session has joined the room and is ringing or
	// negotiating, with no active peer yet.
	StateCalling
	// StateActive means at least one peer completed activation.
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCalling:
		return "calling"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// LinkState is the connectivity state of one peer link, a condensed view of
// the underlying connection states.
type LinkState int

const (
	LinkNew LinkState = iota
	LinkConnecting
	LinkConnected
	LinkFailed
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkNew:
		return "new"
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkFailed:
		return "failed"
	case LinkClosed:
		return "closed"
	default:
		return fmt.Sprintf("linkstate(%d)", int(s))
	}
}

// SignalingState is the SDP negotiation sub-state of one peer link.
type SignalingState int

const (
	SignalingStable SignalingState = iota
	SignalingHaveLocalOffer
	SignalingHaveRemoteOffer
	SignalingClosed
)

func (s SignalingState) String() string {
	switch s {
	case SignalingStable:
		return "stable"
	case SignalingHaveLocalOffer:
		return "have-local-offer"
	case SignalingHaveRemoteOffer:
		return "have-remote-offer"
	case SignalingClosed:
		return "closed"
	default:
		return fmt.Sprintf("signalingstate(%d)", int(s))
	}
}

// EndReason explains why a session ended.
type EndReason int

const (
	// EndLocal means this side ended the call.
	EndLocal EndReason = iota
	// EndRemoteLeft means the other party of a direct call left.
	EndRemoteLeft
	// EndRejected means the invitation was declined.
	EndRejected
	// EndNotAnswered means the invitation rang out.
	EndNotAnswered
	// EndMediaFailure means local capture died mid-call.
	EndMediaFailure
	// EndConnectionFailed means every peer link failed and stayed failed.
	EndConnectionFailed
	// EndStalled means no peer link was ever attempted within the connect
	// window, typically a signaling outage.
	EndStalled
)

func (r EndReason) String() string {
	switch r {
	case EndLocal:
		return "local"
	case EndRemoteLeft:
		return "remote-left"
	case EndRejected:
		return "rejected"
	case EndNotAnswered:
		return "not-answered"
	case EndMediaFailure:
		return "media-failure"
	case EndConnectionFailed:
		return "connection-failed"
	case EndStalled:
		return "stalled"
	default:
		return fmt.Sprintf("endreason(%d)", int(r))
	}
}

// Target names who a call is with: a single user or a group.
type Target struct {
	peer    *signaling.Profile
	groupID string
}

// DirectTarget targets a one-on-one call with the given user.
func DirectTarget(peer signaling.Profile) Target {
	return Target{peer: &peer}
}

// GroupTarget targets a group call room.
func GroupTarget(groupID string) Target {
	return Target{groupID: groupID}
}

// Direct reports whether the target is a single user, and that user.
func (t Target) Direct() (signaling.Profile, bool) {
	if t.peer == nil {
		return signaling.Profile{}, false
	}
	return *t.peer, true
}

// RoomID derives the call room for this target as seen by selfID.
func (t Target) RoomID(selfID string) string {
	if t.peer != nil {
		return signaling.DirectRoomID(selfID, t.peer.ID)
	}
	return signaling.GroupRoomID(t.groupID)
}

func (t Target) valid() bool {
	return (t.peer != nil && t.peer.ID != "") != (t.groupID != "")
}

// RemoteTrack describes an incoming media track from a peer.
type RemoteTrack struct {
	ID   string
	Kind string
}

// PeerStats is a point-in-time snapshot of one peer link for Stats.
type PeerStats struct {
	RemoteID  string
	Profile   signaling.Profile
	Link      LinkState
	Signaling SignalingState
	Tracks    int
}

// Stats is a point-in-time snapshot of the session.
type Stats struct {
	State    State
	RoomID   string
	Mode     signaling.CallMode
	Peers    []PeerStats
	Pending  int // queued early candidates across all peers
	Attempts int // peer links created since the call started
}
