package callkit

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/skylark-im/callkit/invite"
	"github.com/skylark-im/callkit/media"
	"github.com/skylark-im/callkit/session"
	"github.com/skylark-im/callkit/signaling"
)

// Options configures a Client.
type Options struct {
	// Self is the local user's profile. ID is required.
	Self signaling.Profile

	// Transport carries all signaling. Required.
	Transport signaling.Transport

	// Links builds peer connections, typically rtc.Factory.LinkFactory().
	// Required.
	Links session.LinkFactory

	// Capturer acquires local devices, typically media.NewDeviceCapturer().
	// Required.
	Capturer media.Capturer

	// Session overrides session timing. Zero value means defaults.
	Session session.Config

	// Invite overrides invitation timing. Zero value means defaults.
	Invite invite.Config
}

// Client is the top-level calling facade for one local user.
type Client struct {
	self     signaling.Profile
	session  *session.CallSession
	notifier *invite.Notifier

	mu        sync.Mutex
	ringing   *invite.Invitation
	rejection *invite.Rejection

	onIncoming func(invite.IncomingCall)
	onEnded    func(session.EndReason, string)
	onState    func(session.State)
	onTrack    func(remoteID string, track session.RemoteTrack)
}

// New assembles a client. Callbacks should be registered before Start.
func New(opts Options) (*Client, error) {
	if opts.Self.ID == "" {
		return nil, errors.New("callkit: empty self profile ID")
	}
	sessionConfig := opts.Session
	if sessionConfig == (session.Config{}) {
		sessionConfig = session.DefaultConfig()
	}

	sess, err := session.New(opts.Self, opts.Transport, opts.Links, opts.Capturer, sessionConfig)
	if err != nil {
		return nil, fmt.Errorf("callkit: %w", err)
	}
	notifier, err := invite.NewNotifier(opts.Self, opts.Transport, opts.Invite)
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("callkit: %w", err)
	}

	c := &Client{
		self:     opts.Self,
		session:  sess,
		notifier: notifier,
	}
	sess.SetEndedCallback(c.handleEnded)
	sess.SetStateCallback(c.handleState)
	sess.SetTrackCallback(c.handleTrack)
	notifier.OnIncoming(c.handleIncoming)
	return c, nil
}

// Start begins listening for incoming invitations.
func (c *Client) Start(ctx context.Context) error {
	return c.notifier.Listen(ctx)
}

// OnIncomingCall registers the ringing callback.
func (c *Client) OnIncomingCall(fn func(invite.IncomingCall)) {
	c.mu.Lock()
	c.onIncoming = fn
	c.mu.Unlock()
}

// OnCallEnded registers the call-ended callback. The message is a
// display-ready sentence, empty when nothing needs showing.
func (c *Client) OnCallEnded(fn func(reason session.EndReason, message string)) {
	c.mu.Lock()
	c.onEnded = fn
	c.mu.Unlock()
}

// OnStateChange registers the session state callback.
func (c *Client) OnStateChange(fn func(session.State)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// OnPeerTrack registers the remote track callback.
func (c *Client) OnPeerTrack(fn func(remoteID string, track session.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

// CallUser starts a call to target: local media comes up, the call room is
// joined, and the target's device rings. The call activates when the target
// joins the room; if the invitation rings out or is rejected the call ends
// with the matching reason.
func (c *Client) CallUser(ctx context.Context, target signaling.Profile, mode signaling.CallMode) error {
	if err := c.session.Initiate(ctx, session.DirectTarget(target), mode); err != nil {
		return err
	}

	inv, err := c.notifier.Invite(ctx, target, mode)
	if err != nil {
		c.session.End()
		return err
	}
	c.mu.Lock()
	c.ringing = inv
	c.rejection = nil
	c.mu.Unlock()

	go c.watchInvitation(inv)
	return nil
}

// watchInvitation converts invitation outcomes into session teardowns.
func (c *Client) watchInvitation(inv *invite.Invitation) {
	res := <-inv.Done()

	c.mu.Lock()
	if c.ringing == inv {
		c.ringing = nil
	}
	c.mu.Unlock()

	switch res.Outcome {
	case invite.OutcomeTimedOut:
		if err := c.session.Abort(session.EndNotAnswered); err != nil && !errors.Is(err, session.ErrNoCall) {
			c.logAbort(err)
		}
	case invite.OutcomeRejected:
		c.mu.Lock()
		c.rejection = res.Rejection
		c.mu.Unlock()
		if err := c.session.Abort(session.EndRejected); err != nil && !errors.Is(err, session.ErrNoCall) {
			c.logAbort(err)
		}
	}
}

func (c *Client) logAbort(err error) {
	logrus.WithFields(logrus.Fields{
		"function": "watchInvitation",
	}).WithError(err).Warn("abort after invitation outcome failed")
}

// CallGroup joins a group call room. Group calls have no ringing phase;
// whoever is in the room connects.
func (c *Client) CallGroup(ctx context.Context, groupID string, mode signaling.CallMode) error {
	return c.session.Initiate(ctx, session.GroupTarget(groupID), mode)
}

// Accept answers a ringing incoming call.
func (c *Client) Accept(ctx context.Context, call invite.IncomingCall) error {
	return c.session.AcceptIncoming(ctx, call.Caller, call.Mode)
}

// Reject declines a ringing incoming call.
func (c *Client) Reject(ctx context.Context, call invite.IncomingCall) error {
	return c.notifier.Reject(ctx, call)
}

// End hangs up the current call.
func (c *Client) End() error {
	c.cancelRinging()
	return c.session.End()
}

// ToggleAudio flips the microphone mute, reporting the new muted state.
func (c *Client) ToggleAudio() (bool, error) {
	return c.session.ToggleAudio()
}

// ToggleVideo flips the camera, reporting the new disabled state.
func (c *Client) ToggleVideo() (bool, error) {
	return c.session.ToggleVideo()
}

// SetBackground switches the virtual background on outgoing video.
func (c *Client) SetBackground(bg media.Background, img image.Image) error {
	return c.session.SetBackground(bg, img)
}

// Stats snapshots the current call.
func (c *Client) Stats() (session.Stats, error) {
	return c.session.Stats()
}

// Kill releases everything. The client is unusable afterwards.
func (c *Client) Kill() {
	c.cancelRinging()
	c.notifier.Close()
	c.session.Close()
}

func (c *Client) cancelRinging() {
	c.mu.Lock()
	inv := c.ringing
	c.ringing = nil
	c.mu.Unlock()
	if inv != nil {
		inv.Cancel()
	}
}

func (c *Client) handleIncoming(call invite.IncomingCall) {
	c.mu.Lock()
	fn := c.onIncoming
	c.mu.Unlock()
	if fn != nil {
		fn(call)
	}
}

func (c *Client) handleState(st session.State) {
	if st == session.StateActive {
		// The callee showed up; the ring is over.
		c.mu.Lock()
		inv := c.ringing
		c.ringing = nil
		c.mu.Unlock()
		if inv != nil {
			inv.Accept()
		}
	}

	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (c *Client) handleTrack(remoteID string, track session.RemoteTrack) {
	c.mu.Lock()
	fn := c.onTrack
	c.mu.Unlock()
	if fn != nil {
		fn(remoteID, track)
	}
}

func (c *Client) handleEnded(reason session.EndReason) {
	c.cancelRinging()

	c.mu.Lock()
	rejection := c.rejection
	c.rejection = nil
	fn := c.onEnded
	c.mu.Unlock()

	if fn != nil {
		fn(reason, endMessage(reason, rejection))
	}
}

// endMessage renders an end reason as a sentence for the user. Local
// hangups produce nothing; the user knows what they did.
func endMessage(reason session.EndReason, rejection *invite.Rejection) string {
	switch reason {
	case session.EndLocal:
		return ""
	case session.EndRemoteLeft:
		return "The other user has ended the call."
	case session.EndNotAnswered:
		return "The call was not answered."
	case session.EndRejected:
		who := "The other user"
		if rejection != nil && rejection.Username != "" {
			who = rejection.Username
		}
		return fmt.Sprintf("%s rejected the call.", who)
	case session.EndMediaFailure:
		return "The call ended because the camera or microphone stopped working."
	case session.EndConnectionFailed, session.EndStalled:
		return "The call was lost due to a connection problem."
	default:
		return ""
	}
}
