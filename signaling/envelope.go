package signaling

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// MessageType identifies the purpose of a signaling envelope.
type MessageType string

// In-room call negotiation messages.
const (
	// TypeJoin announces presence in a call room. Carries the sender's
	// profile for display purposes.
	TypeJoin MessageType = "join"
	// TypeOffer carries an SDP offer to a specific participant.
	TypeOffer MessageType = "offer"
	// TypeAnswer carries an SDP answer back to the offering participant.
	TypeAnswer MessageType = "answer"
	// TypeCandidate carries a trickled ICE candidate to a specific participant.
	TypeCandidate MessageType = "candidate"
	// TypeLeave announces departure from a call room.
	TypeLeave MessageType = "leave"
)

// Out-of-band notification messages, delivered on per-user notification
// addresses (see NotifyAddress) rather than call rooms.
const (
	// TypeIncomingCall rings a target user with the caller profile, the
	// proposed room, and the call mode.
	TypeIncomingCall MessageType = "incoming-call"
	// TypeCallRejected informs the caller that the target declined.
	TypeCallRejected MessageType = "call-rejected"
)

// CallMode distinguishes audio-only calls from audio+video calls.
type CallMode string

const (
	// CallModeAudio is an audio-only call.
	CallModeAudio CallMode = "audio"
	// CallModeVideo is an audio and video call.
	CallModeVideo CallMode = "video"
)

// Profile carries the display identity of a participant.
// It rides on join announcements and incoming-call notifications so the
// receiving side can render the caller without a directory lookup.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	Nickname string `json:"nickname,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// SessionDescription is an SDP offer or answer.
type SessionDescription struct {
	Type string `json:"type"` // "offer" or "answer"
	SDP  string `json:"sdp"`
}

// CandidateInit is a trickled ICE candidate in the standard
// RTCIceCandidateInit shape.
type CandidateInit struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Envelope is the single wire schema for both in-room signaling and
// out-of-band call notifications. Which fields are populated depends on Type;
// Validate enforces the per-type requirements.
//
// The transport gives no ordering or single-delivery guarantee, so receivers
// must treat every envelope as potentially duplicated or reordered. The ID
// field exists for log correlation, not for deduplication; duplicate handling
// is done by the protocol state checks in package session.
type Envelope struct {
	ID       string      `json:"id,omitempty"`
	Type     MessageType `json:"type"`
	SenderID string      `json:"senderId"`
	TargetID string      `json:"targetId,omitempty"`

	SDP       *SessionDescription `json:"sdp,omitempty"`
	Candidate *CandidateInit      `json:"candidate,omitempty"`
	User      *Profile            `json:"user,omitempty"`

	// Invitation fields (incoming-call / call-rejected only).
	RoomID             string   `json:"roomId,omitempty"`
	CallMode           CallMode `json:"callType,omitempty"`
	RejectedBy         string   `json:"rejectedBy,omitempty"`
	RejectedByUsername string   `json:"rejectedByUsername,omitempty"`
}

// NewEnvelope constructs an envelope of the given type with a fresh ID.
func NewEnvelope(t MessageType, senderID string) Envelope {
	return Envelope{
		ID:       uuid.NewString(),
		Type:     t,
		SenderID: senderID,
	}
}

// Envelope validation errors.
var (
	// ErrMissingSender indicates an envelope without a sender identity.
	ErrMissingSender = errors.New("envelope missing sender id")

	// ErrMissingTarget indicates a directed message without a target.
	ErrMissingTarget = errors.New("envelope missing target id")

	// ErrMissingPayload indicates a message without its required payload.
	ErrMissingPayload = errors.New("envelope missing required payload")

	// ErrUnknownType indicates an unrecognized message type.
	ErrUnknownType = errors.New("unknown envelope type")
)

// Validate checks that the envelope carries the fields its type requires.
func (e Envelope) Validate() error {
	if e.SenderID == "" {
		return ErrMissingSender
	}

	switch e.Type {
	case TypeJoin, TypeLeave:
		return nil
	case TypeOffer, TypeAnswer:
		if e.TargetID == "" {
			return fmt.Errorf("%s: %w", e.Type, ErrMissingTarget)
		}
		if e.SDP == nil || e.SDP.SDP == "" {
			return fmt.Errorf("%s: %w", e.Type, ErrMissingPayload)
		}
		return nil
	case TypeCandidate:
		if e.TargetID == "" {
			return fmt.Errorf("%s: %w", e.Type, ErrMissingTarget)
		}
		if e.Candidate == nil {
			return fmt.Errorf("%s: %w", e.Type, ErrMissingPayload)
		}
		return nil
	case TypeIncomingCall:
		if e.User == nil || e.RoomID == "" || e.CallMode == "" {
			return fmt.Errorf("%s: %w", e.Type, ErrMissingPayload)
		}
		return nil
	case TypeCallRejected:
		if e.RejectedBy == "" {
			return fmt.Errorf("%s: %w", e.Type, ErrMissingPayload)
		}
		return nil
	default:
		return fmt.Errorf("%q: %w", e.Type, ErrUnknownType)
	}
}

// DirectedAt reports whether the envelope is addressed to the given
// participant. Undirected broadcast messages (join, leave) are addressed to
// everyone.
func (e Envelope) DirectedAt(participantID string) bool {
	if e.TargetID == "" {
		return true
	}
	return e.TargetID == participantID
}
