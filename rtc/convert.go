package rtc

import (
	"github.com/pion/webrtc/v4"

	"github.com/skylark-im/callkit/session"
	"github.com/skylark-im/callkit/signaling"
)

func toWebrtcSDP(sd signaling.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{
		Type: webrtc.NewSDPType(sd.Type),
		SDP:  sd.SDP,
	}
}

func fromWebrtcSDP(sd webrtc.SessionDescription) signaling.SessionDescription {
	return signaling.SessionDescription{
		Type: sd.Type.String(),
		SDP:  sd.SDP,
	}
}

func toWebrtcCandidate(c signaling.CandidateInit) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func fromWebrtcCandidate(c webrtc.ICECandidateInit) signaling.CandidateInit {
	return signaling.CandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// linkState condenses the pion connection states. Disconnected maps to
// connecting because ICE may still recover within its timeouts; only failed
// and closed are terminal.
func linkState(s webrtc.PeerConnectionState) session.LinkState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return session.LinkNew
	case webrtc.PeerConnectionStateConnecting, webrtc.PeerConnectionStateDisconnected:
		return session.LinkConnecting
	case webrtc.PeerConnectionStateConnected:
		return session.LinkConnected
	case webrtc.PeerConnectionStateFailed:
		return session.LinkFailed
	default:
		return session.LinkClosed
	}
}

func signalingState(s webrtc.SignalingState) session.SignalingState {
	switch s {
	case webrtc.SignalingStateStable:
		return session.SignalingStable
	case webrtc.SignalingStateHaveLocalOffer, webrtc.SignalingStateHaveLocalPranswer:
		return session.SignalingHaveLocalOffer
	case webrtc.SignalingStateHaveRemoteOffer, webrtc.SignalingStateHaveRemotePranswer:
		return session.SignalingHaveRemoteOffer
	default:
		return session.SignalingClosed
	}
}
