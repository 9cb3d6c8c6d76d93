package session

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/skylark-im/callkit/media"
	"github.com/skylark-im/callkit/signaling"
)

// CallSession drives one call at a time for one local user. Create it once
// and reuse it across calls; Close releases it for good.
//
// All mutable state is owned by the session goroutine. Public methods post
// commands onto the inbox and wait for them to run, so they are safe from
// any goroutine.
type CallSession struct {
	self      signaling.Profile
	transport signaling.Transport
	links     LinkFactory
	capturer  media.Capturer
	config    Config
	clock     TimeProvider

	inbox     chan any
	done      chan struct{}
	closeOnce sync.Once

	// stateMirror lets State() answer without a round trip to the actor.
	stateMirror atomic.Int32

	// Everything below is touched only on the session goroutine.
	state        State
	mode         signaling.CallMode
	target       Target
	roomID       string
	channel      signaling.Channel
	pipeline     *media.Pipeline
	peers        map[string]*peer
	pending      *pendingCandidates
	linkAttempts int
	startedAt    time.Time

	onStateChange func(State)
	onEnded       func(EndReason)
	onPeerTrack   func(remoteID string, track RemoteTrack)
}

// New creates an idle session and starts its event loop.
func New(self signaling.Profile, transport signaling.Transport, links LinkFactory, capturer media.Capturer, config Config) (*CallSession, error) {
	if self.ID == "" {
		return nil, errors.New("session: empty self profile ID")
	}
	if transport == nil {
		return nil, errors.New("session: nil transport")
	}
	if links == nil {
		return nil, errors.New("session: nil link factory")
	}
	if capturer == nil {
		return nil, errors.New("session: nil capturer")
	}
	if config.InboxSize <= 0 || config.LivenessInterval <= 0 {
		return nil, errors.New("session: invalid config")
	}

	s := &CallSession{
		self:      self,
		transport: transport,
		links:     links,
		capturer:  capturer,
		config:    config,
		clock:     DefaultTimeProvider{},
		inbox:     make(chan any, config.InboxSize),
		done:      make(chan struct{}),
		peers:     make(map[string]*peer),
		pending:   newPendingCandidates(),
	}
	go s.run()
	return s, nil
}

// SetTimeProvider sets a custom time provider for deterministic testing.
// Call it before the first call starts.
func (s *CallSession) SetTimeProvider(tp TimeProvider) {
	if tp != nil {
		s.clock = tp
	}
}

// Callbacks run on the session goroutine. They must not call back into the
// session (State is the lone exception; even Stats would deadlock); dispatch
// to another goroutine first.

// SetStateCallback registers the lifecycle state callback.
func (s *CallSession) SetStateCallback(fn func(State)) {
	s.do(func() { s.onStateChange = fn })
}

// SetEndedCallback registers the call-ended callback. It fires exactly once
// per call, with the reason the call ended.
func (s *CallSession) SetEndedCallback(fn func(EndReason)) {
	s.do(func() { s.onEnded = fn })
}

// SetTrackCallback registers the remote track callback. It fires once per
// distinct remote track.
func (s *CallSession) SetTrackCallback(fn func(remoteID string, track RemoteTrack)) {
	s.do(func() { s.onPeerTrack = fn })
}

// State reports the lifecycle state.
func (s *CallSession) State() State {
	return State(s.stateMirror.Load())
}

// Initiate starts an outgoing call to target. It acquires local media,
// joins the call room, and announces presence; ringing the target is the
// caller's concern (see package invite).
func (s *CallSession) Initiate(ctx context.Context, target Target, mode signaling.CallMode) error {
	if !target.valid() {
		return ErrInvalidTarget
	}
	return s.start(ctx, target, mode)
}

// AcceptIncoming joins the room of an accepted invitation.
func (s *CallSession) AcceptIncoming(ctx context.Context, caller signaling.Profile, mode signaling.CallMode) error {
	if caller.ID == "" {
		return ErrInvalidTarget
	}
	return s.start(ctx, DirectTarget(caller), mode)
}

func (s *CallSession) start(ctx context.Context, target Target, mode signaling.CallMode) error {
	var startErr error
	err := s.do(func() {
		if s.state != StateIdle {
			startErr = ErrCallInProgress
			return
		}

		pipeline := media.NewPipeline(s.capturer)
		if err := pipeline.Acquire(ctx, mode == signaling.CallModeVideo); err != nil {
			startErr = err
			return
		}

		roomID := target.RoomID(s.self.ID)
		channel, err := s.transport.Join(ctx, roomID)
		if err != nil {
			pipeline.Stop()
			startErr = err
			return
		}
		channel.OnMessage(func(env signaling.Envelope) {
			s.post(envelopeEvent{env: env})
		})

		s.target = target
		s.mode = mode
		s.roomID = roomID
		s.channel = channel
		s.pipeline = pipeline
		s.peers = make(map[string]*peer)
		s.pending.clear()
		s.linkAttempts = 0
		s.startedAt = s.clock.Now()
		s.setState(StateCalling)

		s.sendJoin()

		logrus.WithFields(logrus.Fields{
			"function": "start",
			"room":     roomID,
			"mode":     mode,
		}).Info("call started")
	})
	if err != nil {
		return err
	}
	return startErr
}

// End hangs up the current call.
func (s *CallSession) End() error {
	var opErr error
	err := s.do(func() {
		if s.state == StateIdle {
			opErr = ErrNoCall
			return
		}
		s.end(EndLocal)
	})
	if err != nil {
		return err
	}
	return opErr
}

// Abort ends the current call with an externally determined reason, such as
// an invitation that rang out or was rejected.
func (s *CallSession) Abort(reason EndReason) error {
	var opErr error
	err := s.do(func() {
		if s.state == StateIdle {
			opErr = ErrNoCall
			return
		}
		s.end(reason)
	})
	if err != nil {
		return err
	}
	return opErr
}

// ToggleAudio flips the microphone mute across every peer link and reports
// the new muted state.
func (s *CallSession) ToggleAudio() (bool, error) {
	var muted bool
	var opErr error
	err := s.do(func() {
		if s.state == StateIdle {
			opErr = ErrNoCall
			return
		}
		muted, opErr = s.pipeline.ToggleAudio()
		if opErr != nil {
			return
		}
		s.eachLink(func(p *peer) {
			if err := p.link.SetOutgoingEnabled(media.KindAudio, !muted); err != nil {
				s.peerLog("ToggleAudio", p).WithError(err).Warn("audio toggle failed on link")
			}
		})
	})
	if err != nil {
		return false, err
	}
	return muted, opErr
}

// ToggleVideo flips the camera across every peer link and reports the new
// disabled state.
func (s *CallSession) ToggleVideo() (bool, error) {
	var disabled bool
	var opErr error
	err := s.do(func() {
		if s.state == StateIdle {
			opErr = ErrNoCall
			return
		}
		disabled, opErr = s.pipeline.ToggleVideo()
		if opErr != nil {
			return
		}
		s.eachLink(func(p *peer) {
			if err := p.link.SetOutgoingEnabled(media.KindVideo, !disabled); err != nil {
				s.peerLog("ToggleVideo", p).WithError(err).Warn("video toggle failed on link")
			}
		})
	})
	if err != nil {
		return false, err
	}
	return disabled, opErr
}

// SetBackground switches the virtual background mid-call. The new video
// track replaces the outgoing one on every peer link without renegotiation.
func (s *CallSession) SetBackground(bg media.Background, img image.Image) error {
	var opErr error
	err := s.do(func() {
		if s.state == StateIdle {
			opErr = ErrNoCall
			return
		}
		track, err := s.pipeline.SetBackground(bg, img)
		if err != nil {
			opErr = err
			return
		}
		s.eachLink(func(p *peer) {
			if err := p.link.ReplaceVideoTrack(track); err != nil {
				s.peerLog("SetBackground", p).WithError(err).Warn("video track replacement failed")
			}
		})
	})
	if err != nil {
		return err
	}
	return opErr
}

// Stats snapshots the session.
func (s *CallSession) Stats() (Stats, error) {
	var stats Stats
	err := s.do(func() {
		stats = Stats{
			State:    s.state,
			RoomID:   s.roomID,
			Mode:     s.mode,
			Pending:  s.pending.size(),
			Attempts: s.linkAttempts,
		}
		for _, p := range s.peers {
			stats.Peers = append(stats.Peers, PeerStats{
				RemoteID:  p.remoteID,
				Profile:   p.profile,
				Link:      p.state,
				Signaling: s.peerSignalingState(p),
				Tracks:    len(p.tracks),
			})
		}
	})
	return stats, err
}

// Close ends any current call and shuts the session down permanently.
func (s *CallSession) Close() error {
	s.closeOnce.Do(func() {
		s.do(func() {
			if s.state != StateIdle {
				s.end(EndLocal)
			}
		})
		close(s.done)
	})
	return nil
}

// do runs fn on the session goroutine and waits for it.
func (s *CallSession) do(fn func()) error {
	cmd := cmdEvent{run: fn, done: make(chan struct{})}
	select {
	case s.inbox <- cmd:
	case <-s.done:
		return ErrSessionClosed
	}
	select {
	case <-cmd.done:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

// post delivers an asynchronous event without blocking the caller. A full
// inbox drops the event; the liveness check and at-least-once signaling
// cover the loss.
func (s *CallSession) post(ev any) {
	select {
	case s.inbox <- ev:
	case <-s.done:
	default:
		logrus.WithFields(logrus.Fields{
			"function": "post",
			"event":    eventName(ev),
		}).Warn("session inbox full, event dropped")
	}
}

func eventName(ev any) string {
	switch ev.(type) {
	case envelopeEvent:
		return "envelope"
	case candidateEvent:
		return "candidate"
	case trackEvent:
		return "track"
	case linkStateEvent:
		return "link-state"
	case confirmFailureEvent:
		return "confirm-failure"
	case tickEvent:
		return "tick"
	default:
		return "cmd"
	}
}

func (s *CallSession) run() {
	ticker := time.NewTicker(s.config.LivenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.checkLiveness()
		case ev := <-s.inbox:
			s.handle(ev)
		}
	}
}

func (s *CallSession) handle(ev any) {
	switch e := ev.(type) {
	case cmdEvent:
		e.run()
		close(e.done)
	case envelopeEvent:
		s.handleEnvelope(e.env)
	case candidateEvent:
		s.handleLocalCandidate(e)
	case trackEvent:
		s.handleRemoteTrack(e)
	case linkStateEvent:
		s.handleLinkState(e)
	case confirmFailureEvent:
		s.confirmFailure(e.remoteID)
	case tickEvent:
		s.checkLiveness()
	}
}

// ── Envelope handling ────────────────────────────────────────────────

func (s *CallSession) handleEnvelope(env signaling.Envelope) {
	if s.state == StateIdle {
		return
	}
	if env.SenderID == s.self.ID || !env.DirectedAt(s.self.ID) {
		return
	}
	if err := env.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleEnvelope",
			"type":     env.Type,
			"sender":   env.SenderID,
		}).WithError(err).Warn("invalid envelope dropped")
		return
	}

	// For a direct call, anything the other party says in the room proves
	// they picked up. Their join itself can be lost when they announced
	// before we subscribed, so presence is inferred from any room message.
	if peerProfile, direct := s.target.Direct(); direct &&
		env.SenderID == peerProfile.ID && env.Type != signaling.TypeLeave {
		s.promote()
	}

	switch env.Type {
	case signaling.TypeJoin:
		s.handleJoin(env)
	case signaling.TypeOffer:
		s.handleOffer(env)
	case signaling.TypeAnswer:
		s.handleAnswer(env)
	case signaling.TypeCandidate:
		s.handleCandidate(env)
	case signaling.TypeLeave:
		s.handleLeave(env)
	default:
		// Invitation traffic does not belong in call rooms.
		logrus.WithFields(logrus.Fields{
			"function": "handleEnvelope",
			"type":     env.Type,
		}).Debug("ignoring non-room envelope")
	}
}

// handleJoin admits a peer and settles the offer direction: the side with
// the smaller identity offers, the other side answers. The answering side
// re-announces its own join once in case its original broadcast was lost
// before the offerer subscribed.
func (s *CallSession) handleJoin(env signaling.Envelope) {
	p := s.ensurePeer(env.SenderID)
	if env.User != nil {
		p.profile = *env.User
	}

	if s.self.ID < p.remoteID {
		s.maybeOffer(p)
		return
	}
	if !p.announced {
		p.announced = true
		s.sendJoin()
	}
}

// maybeOffer creates and sends an offer to p unless negotiation already
// started. Replayed joins fall through every guard and do nothing.
func (s *CallSession) maybeOffer(p *peer) {
	if p.offerPending {
		return
	}
	if err := s.ensureLink(p); err != nil {
		s.peerLog("maybeOffer", p).WithError(err).Error("link creation failed")
		return
	}
	if p.link.SignalingState() != SignalingStable || p.link.HasRemoteDescription() {
		return
	}

	offer, err := p.link.CreateOffer()
	if err != nil {
		s.peerLog("maybeOffer", p).WithError(err).Error("offer creation failed")
		return
	}
	p.offerPending = true

	env := signaling.NewEnvelope(signaling.TypeOffer, s.self.ID)
	env.TargetID = p.remoteID
	env.SDP = &offer
	s.send(env)
	s.peerLog("maybeOffer", p).Debug("offer sent")
}

func (s *CallSession) handleOffer(env signaling.Envelope) {
	p := s.ensurePeer(env.SenderID)
	if p.offerPending && s.self.ID < p.remoteID {
		// Glare from a peer that did not honor the offer direction. We are
		// the offerer for this pair; our offer stands and theirs is dropped.
		s.peerLog("handleOffer", p).Warn("dropping offer from answering side")
		return
	}
	if err := s.ensureLink(p); err != nil {
		s.peerLog("handleOffer", p).WithError(err).Error("link creation failed")
		return
	}
	if p.link.HasRemoteDescription() && p.link.SignalingState() == SignalingStable {
		// Replayed offer after negotiation completed.
		s.peerLog("handleOffer", p).Debug("duplicate offer ignored")
		return
	}

	answer, err := p.link.HandleOffer(*env.SDP)
	if err != nil {
		s.peerLog("handleOffer", p).WithError(err).Error("offer handling failed")
		return
	}
	s.flushCandidates(p)

	reply := signaling.NewEnvelope(signaling.TypeAnswer, s.self.ID)
	reply.TargetID = p.remoteID
	reply.SDP = &answer
	s.send(reply)
	s.peerLog("handleOffer", p).Debug("answer sent")
}

func (s *CallSession) handleAnswer(env signaling.Envelope) {
	p, ok := s.peers[env.SenderID]
	if !ok || !p.offerPending {
		logrus.WithFields(logrus.Fields{
			"function": "handleAnswer",
			"sender":   env.SenderID,
		}).Debug("unexpected answer ignored")
		return
	}
	if err := p.link.HandleAnswer(*env.SDP); err != nil {
		s.peerLog("handleAnswer", p).WithError(err).Error("answer handling failed")
		return
	}
	p.offerPending = false
	s.flushCandidates(p)
	s.peerLog("handleAnswer", p).Debug("answer applied")
}

// handleCandidate applies a remote candidate, or queues it when it raced
// ahead of the remote description for its peer.
func (s *CallSession) handleCandidate(env signaling.Envelope) {
	p, ok := s.peers[env.SenderID]
	if !ok || p.link == nil || !p.link.HasRemoteDescription() {
		if !s.pending.add(env.SenderID, *env.Candidate) {
			logrus.WithFields(logrus.Fields{
				"function": "handleCandidate",
				"sender":   env.SenderID,
			}).Warn("candidate queue full, candidate dropped")
		}
		return
	}
	if err := p.link.AddCandidate(*env.Candidate); err != nil {
		s.peerLog("handleCandidate", p).WithError(err).Warn("candidate rejected")
	}
}

// flushCandidates applies candidates queued before p's remote description.
func (s *CallSession) flushCandidates(p *peer) {
	for _, c := range s.pending.take(p.remoteID) {
		if err := p.link.AddCandidate(c); err != nil {
			s.peerLog("flushCandidates", p).WithError(err).Warn("queued candidate rejected")
		}
	}
}

func (s *CallSession) handleLeave(env signaling.Envelope) {
	if peerProfile, direct := s.target.Direct(); direct {
		if env.SenderID != peerProfile.ID {
			logrus.WithFields(logrus.Fields{
				"function": "handleLeave",
				"sender":   env.SenderID,
			}).Debug("leave from non-participant ignored")
			return
		}
		s.end(EndRemoteLeft)
		return
	}
	s.removePeer(env.SenderID)
}

// ── Peer and link plumbing ───────────────────────────────────────────

func (s *CallSession) ensurePeer(remoteID string) *peer {
	if p, ok := s.peers[remoteID]; ok {
		return p
	}
	p := newPeer(remoteID)
	s.peers[remoteID] = p
	return p
}

// ensureLink lazily builds p's connection: callbacks wired to the inbox and
// every local track attached.
func (s *CallSession) ensureLink(p *peer) error {
	if p.link != nil {
		return nil
	}
	link, err := s.links(p.remoteID)
	if err != nil {
		return err
	}
	remoteID := p.remoteID
	link.OnCandidate(func(c signaling.CandidateInit) {
		s.post(candidateEvent{remoteID: remoteID, candidate: c})
	})
	link.OnTrack(func(t RemoteTrack) {
		s.post(trackEvent{remoteID: remoteID, track: t})
	})
	link.OnStateChange(func(st LinkState) {
		s.post(linkStateEvent{remoteID: remoteID, state: st})
	})
	for _, tr := range s.pipeline.Tracks() {
		if err := link.AddTrack(tr); err != nil {
			link.Close()
			return err
		}
	}
	p.link = link
	s.linkAttempts++
	return nil
}

// eachLink visits every peer with an established link.
func (s *CallSession) eachLink(fn func(*peer)) {
	for _, p := range s.peers {
		if p.link != nil {
			fn(p)
		}
	}
}

func (s *CallSession) removePeer(remoteID string) {
	p, ok := s.peers[remoteID]
	if !ok {
		return
	}
	if p.link != nil {
		p.link.Close()
	}
	s.pending.drop(remoteID)
	delete(s.peers, remoteID)
	s.peerLog("removePeer", p).Info("peer left call")
}

func (s *CallSession) handleLocalCandidate(e candidateEvent) {
	if s.state == StateIdle {
		return
	}
	env := signaling.NewEnvelope(signaling.TypeCandidate, s.self.ID)
	env.TargetID = e.remoteID
	env.Candidate = &e.candidate
	s.send(env)
}

func (s *CallSession) handleRemoteTrack(e trackEvent) {
	p, ok := s.peers[e.remoteID]
	if !ok {
		return
	}
	if !p.addTrack(e.track) {
		return
	}
	s.promote()
	if s.onPeerTrack != nil {
		s.onPeerTrack(e.remoteID, e.track)
	}
}

func (s *CallSession) handleLinkState(e linkStateEvent) {
	p, ok := s.peers[e.remoteID]
	if !ok {
		return
	}
	p.state = e.state
	s.peerLog("handleLinkState", p).WithField("link_state", e.state).Debug("link state changed")

	switch e.state {
	case LinkConnected:
		p.failedAt = time.Time{}
		s.promote()
	case LinkFailed:
		p.failedAt = s.clock.Now()
		remoteID := e.remoteID
		time.AfterFunc(s.config.FailureConfirmDelay, func() {
			s.post(confirmFailureEvent{remoteID: remoteID})
		})
	}
}

// confirmFailure ends or prunes after the failure grace delay, unless the
// link recovered in the meantime.
func (s *CallSession) confirmFailure(remoteID string) {
	if s.state == StateIdle {
		return
	}
	p, ok := s.peers[remoteID]
	if !ok || p.state != LinkFailed || p.failedAt.IsZero() {
		return
	}
	if s.clock.Since(p.failedAt) < s.config.FailureConfirmDelay {
		return
	}
	if _, direct := s.target.Direct(); direct {
		s.peerLog("confirmFailure", p).Warn("peer connection lost")
		s.end(EndConnectionFailed)
		return
	}
	s.removePeer(remoteID)
}

// promote moves the session to active once real contact exists.
func (s *CallSession) promote() {
	if s.state == StateCalling {
		s.setState(StateActive)
	}
}

// ── Sending helpers ──────────────────────────────────────────────────

func (s *CallSession) sendJoin() {
	env := signaling.NewEnvelope(signaling.TypeJoin, s.self.ID)
	env.User = &s.self
	s.send(env)
}

// send delivers an envelope to the room, retrying once. The transport is
// at-least-once at best; a second failure is logged and accepted, because
// the liveness check catches calls that never progress.
func (s *CallSession) send(env signaling.Envelope) {
	if s.channel == nil {
		return
	}
	err := s.channel.Send(env)
	if err == nil {
		return
	}
	if err = s.channel.Send(env); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "send",
			"type":     env.Type,
			"room":     s.roomID,
		}).WithError(err).Warn("envelope send failed")
	}
}

// ── Teardown ─────────────────────────────────────────────────────────

// end is the single teardown path for a call.
func (s *CallSession) end(reason EndReason) {
	if s.state == StateIdle {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function": "end",
		"room":     s.roomID,
		"reason":   reason,
	}).Info("call ended")

	s.send(signaling.NewEnvelope(signaling.TypeLeave, s.self.ID))
	if s.channel != nil {
		s.channel.Leave()
		s.channel = nil
	}
	for _, p := range s.peers {
		if p.link != nil {
			p.link.Close()
		}
	}
	s.peers = make(map[string]*peer)
	s.pending.clear()
	if s.pipeline != nil {
		s.pipeline.Stop()
		s.pipeline = nil
	}
	s.roomID = ""
	s.setState(StateIdle)

	if s.onEnded != nil {
		s.onEnded(reason)
	}
}

func (s *CallSession) setState(st State) {
	if s.state == st {
		return
	}
	s.state = st
	s.stateMirror.Store(int32(st))
	if s.onStateChange != nil {
		s.onStateChange(st)
	}
}

func (s *CallSession) peerSignalingState(p *peer) SignalingState {
	if p.link == nil {
		return SignalingStable
	}
	return p.link.SignalingState()
}

func (s *CallSession) peerLog(function string, p *peer) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"function": function,
		"room":     s.roomID,
		"peer":     p.remoteID,
	})
}
