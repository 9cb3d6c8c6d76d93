package rtc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/skylark-im/callkit/media"
	"github.com/skylark-im/callkit/session"
	"github.com/skylark-im/callkit/signaling"
)

// ErrTrackNotSendable indicates an attached track with no webrtc backing.
var ErrTrackNotSendable = errors.New("rtc: track does not expose a webrtc track")

// localTrack is what a media.Track must additionally provide to ride on a
// peer connection. media.DeviceCapturer tracks implement it.
type localTrack interface {
	TrackLocal() webrtc.TrackLocal
}

// link is one peer connection, owned by the session state machine.
type link struct {
	remoteID string
	pc       *webrtc.PeerConnection

	mu      sync.Mutex
	senders map[media.TrackKind]*webrtc.RTPSender
	locals  map[media.TrackKind]webrtc.TrackLocal
}

func newLink(remoteID string, pc *webrtc.PeerConnection) *link {
	return &link{
		remoteID: remoteID,
		pc:       pc,
		senders:  make(map[media.TrackKind]*webrtc.RTPSender),
		locals:   make(map[media.TrackKind]webrtc.TrackLocal),
	}
}

func (l *link) CreateOffer() (signaling.SessionDescription, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("rtc: create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("rtc: set local offer: %w", err)
	}
	return fromWebrtcSDP(offer), nil
}

func (l *link) HandleOffer(offer signaling.SessionDescription) (signaling.SessionDescription, error) {
	if err := l.pc.SetRemoteDescription(toWebrtcSDP(offer)); err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("rtc: set remote offer: %w", err)
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("rtc: create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("rtc: set local answer: %w", err)
	}
	return fromWebrtcSDP(answer), nil
}

func (l *link) HandleAnswer(answer signaling.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(toWebrtcSDP(answer)); err != nil {
		return fmt.Errorf("rtc: set remote answer: %w", err)
	}
	return nil
}

func (l *link) AddCandidate(c signaling.CandidateInit) error {
	if err := l.pc.AddICECandidate(toWebrtcCandidate(c)); err != nil {
		return fmt.Errorf("rtc: add candidate: %w", err)
	}
	return nil
}

func (l *link) HasRemoteDescription() bool {
	return l.pc.RemoteDescription() != nil
}

func (l *link) SignalingState() session.SignalingState {
	return signalingState(l.pc.SignalingState())
}

func (l *link) AddTrack(t media.Track) error {
	lt, ok := t.(localTrack)
	if !ok {
		return ErrTrackNotSendable
	}
	sender, err := l.pc.AddTrack(lt.TrackLocal())
	if err != nil {
		return fmt.Errorf("rtc: add track: %w", err)
	}
	l.mu.Lock()
	l.senders[t.Kind()] = sender
	l.locals[t.Kind()] = lt.TrackLocal()
	l.mu.Unlock()

	// Discard RTCP for the sender; the interceptors have already seen it.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

// ReplaceVideoTrack swaps the outgoing video without renegotiation.
func (l *link) ReplaceVideoTrack(t media.Track) error {
	lt, ok := t.(localTrack)
	if !ok {
		return ErrTrackNotSendable
	}
	l.mu.Lock()
	sender, haveSender := l.senders[media.KindVideo]
	l.mu.Unlock()
	if !haveSender {
		return fmt.Errorf("rtc: no video sender on link to %s", l.remoteID)
	}
	if err := sender.ReplaceTrack(lt.TrackLocal()); err != nil {
		return fmt.Errorf("rtc: replace video track: %w", err)
	}
	l.mu.Lock()
	l.locals[media.KindVideo] = lt.TrackLocal()
	l.mu.Unlock()
	return nil
}

// SetOutgoingEnabled pauses sending by swapping the sender's track out, and
// resumes by swapping it back in. The m-line and SSRC survive, so no
// renegotiation happens in either direction.
func (l *link) SetOutgoingEnabled(kind media.TrackKind, enabled bool) error {
	l.mu.Lock()
	sender, haveSender := l.senders[kind]
	local := l.locals[kind]
	l.mu.Unlock()
	if !haveSender {
		return fmt.Errorf("rtc: no %s sender on link to %s", kind, l.remoteID)
	}
	if !enabled {
		return sender.ReplaceTrack(nil)
	}
	if local == nil {
		return fmt.Errorf("rtc: no stored %s track on link to %s", kind, l.remoteID)
	}
	return sender.ReplaceTrack(local)
}

func (l *link) OnCandidate(fn func(signaling.CandidateInit)) {
	l.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			// End of gathering; nothing to trickle.
			return
		}
		fn(fromWebrtcCandidate(c.ToJSON()))
	})
}

func (l *link) OnTrack(fn func(session.RemoteTrack)) {
	l.pc.OnTrack(func(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		logrus.WithFields(logrus.Fields{
			"function": "OnTrack",
			"peer":     l.remoteID,
			"kind":     tr.Kind().String(),
		}).Debug("remote track arrived")
		fn(session.RemoteTrack{ID: tr.ID(), Kind: tr.Kind().String()})
	})
}

func (l *link) OnStateChange(fn func(session.LinkState)) {
	l.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		fn(linkState(s))
	})
}

func (l *link) Close() error {
	return l.pc.Close()
}
