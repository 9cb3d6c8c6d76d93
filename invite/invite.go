package invite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/skylark-im/callkit/signaling"
)

// DefaultRingTimeout is how long an invitation rings before it times out.
const DefaultRingTimeout = 30 * time.Second

var (
	// ErrNotListening indicates an Invite before Listen. Without the
	// listener the caller could never observe a rejection.
	ErrNotListening = errors.New("invite: notifier is not listening")

	// ErrInvitePending indicates a second invitation to a target that is
	// still ringing.
	ErrInvitePending = errors.New("invite: invitation already pending for target")

	// ErrNotifierClosed indicates an operation on a closed notifier.
	ErrNotifierClosed = errors.New("invite: notifier closed")
)

// Config tunes the notifier.
type Config struct {
	// RingTimeout bounds how long an outgoing invitation rings. Zero means
	// DefaultRingTimeout.
	RingTimeout time.Duration
}

func (c Config) ringTimeout() time.Duration {
	if c.RingTimeout <= 0 {
		return DefaultRingTimeout
	}
	return c.RingTimeout
}

// IncomingCall describes a ringing invitation on the callee side.
type IncomingCall struct {
	Caller     signaling.Profile
	RoomID     string
	Mode       signaling.CallMode
	ReceivedAt time.Time
}

// Rejection carries who declined an invitation.
type Rejection struct {
	By       string
	Username string
}

// Outcome is how an invitation resolved.
type Outcome int

const (
	// OutcomeAccepted means the callee showed up in the call room.
	OutcomeAccepted Outcome = iota
	// OutcomeRejected means the callee declined.
	OutcomeRejected
	// OutcomeTimedOut means the ring window elapsed.
	OutcomeTimedOut
	// OutcomeCancelled means the caller gave up first.
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	case OutcomeTimedOut:
		return "timed-out"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the resolution of one invitation.
type Result struct {
	Outcome   Outcome
	Rejection *Rejection // set when Outcome is OutcomeRejected
}

// Invitation is one outgoing ring. It resolves exactly once; the first of
// acceptance, rejection, timeout, or cancellation wins and the rest are
// ignored.
type Invitation struct {
	TargetID string
	RoomID   string

	done    chan Result
	resolve sync.Once
	timer   *time.Timer
	release func()
}

// Done delivers the resolution. It is buffered; the result is never lost to
// a slow reader.
func (i *Invitation) Done() <-chan Result { return i.done }

// Accept resolves the invitation as accepted. The caller invokes it when it
// observes the callee in the call room.
func (i *Invitation) Accept() { i.finish(Result{Outcome: OutcomeAccepted}) }

// Cancel resolves the invitation as cancelled.
func (i *Invitation) Cancel() { i.finish(Result{Outcome: OutcomeCancelled}) }

func (i *Invitation) finish(r Result) {
	i.resolve.Do(func() {
		if i.timer != nil {
			i.timer.Stop()
		}
		if i.release != nil {
			i.release()
		}
		i.done <- r
		logrus.WithFields(logrus.Fields{
			"function": "finish",
			"target":   i.TargetID,
			"outcome":  r.Outcome,
		}).Info("invitation resolved")
	})
}

// Notifier sends and receives call invitations for one local user.
type Notifier struct {
	self      signaling.Profile
	transport signaling.Transport
	config    Config

	mu         sync.Mutex
	listener   signaling.Channel
	pending    map[string]*Invitation
	onIncoming func(IncomingCall)
	closed     bool
}

// NewNotifier creates an idle notifier. Call Listen before inviting.
func NewNotifier(self signaling.Profile, transport signaling.Transport, config Config) (*Notifier, error) {
	if self.ID == "" {
		return nil, errors.New("invite: empty self profile ID")
	}
	if transport == nil {
		return nil, errors.New("invite: nil transport")
	}
	return &Notifier{
		self:      self,
		transport: transport,
		config:    config,
		pending:   make(map[string]*Invitation),
	}, nil
}

// OnIncoming registers the incoming-call callback. Register before Listen.
func (n *Notifier) OnIncoming(fn func(IncomingCall)) {
	n.mu.Lock()
	n.onIncoming = fn
	n.mu.Unlock()
}

// Listen subscribes to the local user's notification address. Idempotent.
func (n *Notifier) Listen(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrNotifierClosed
	}
	if n.listener != nil {
		n.mu.Unlock()
		return nil
	}
	n.mu.Unlock()

	ch, err := n.transport.Join(ctx, signaling.NotifyAddress(n.self.ID))
	if err != nil {
		return fmt.Errorf("invite: listen: %w", err)
	}
	ch.OnMessage(n.handle)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		ch.Leave()
		return ErrNotifierClosed
	}
	n.listener = ch
	n.mu.Unlock()
	return nil
}

func (n *Notifier) handle(env signaling.Envelope) {
	if err := env.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handle",
			"type":     env.Type,
		}).WithError(err).Warn("invalid notification dropped")
		return
	}

	switch env.Type {
	case signaling.TypeIncomingCall:
		n.mu.Lock()
		fn := n.onIncoming
		n.mu.Unlock()
		if fn == nil {
			return
		}
		fn(IncomingCall{
			Caller:     *env.User,
			RoomID:     env.RoomID,
			Mode:       env.CallMode,
			ReceivedAt: time.Now(),
		})

	case signaling.TypeCallRejected:
		n.mu.Lock()
		inv := n.pending[env.RejectedBy]
		n.mu.Unlock()
		if inv == nil {
			return
		}
		inv.finish(Result{
			Outcome: OutcomeRejected,
			Rejection: &Rejection{
				By:       env.RejectedBy,
				Username: env.RejectedByUsername,
			},
		})

	default:
		// Room traffic does not belong on notification addresses.
	}
}

// Invite rings target with a call in mode. The invitation times out on its
// own after the ring window; acceptance must be reported via Accept by
// whoever watches the call room.
func (n *Notifier) Invite(ctx context.Context, target signaling.Profile, mode signaling.CallMode) (*Invitation, error) {
	if target.ID == "" {
		return nil, errors.New("invite: empty target ID")
	}

	roomID := signaling.DirectRoomID(n.self.ID, target.ID)
	inv := &Invitation{
		TargetID: target.ID,
		RoomID:   roomID,
		done:     make(chan Result, 1),
	}

	n.mu.Lock()
	switch {
	case n.closed:
		n.mu.Unlock()
		return nil, ErrNotifierClosed
	case n.listener == nil:
		n.mu.Unlock()
		return nil, ErrNotListening
	case n.pending[target.ID] != nil:
		n.mu.Unlock()
		return nil, ErrInvitePending
	}
	n.pending[target.ID] = inv
	n.mu.Unlock()

	inv.release = func() {
		n.mu.Lock()
		delete(n.pending, target.ID)
		n.mu.Unlock()
	}

	if err := n.ring(ctx, target, roomID, mode); err != nil {
		inv.release()
		return nil, err
	}

	inv.timer = time.AfterFunc(n.config.ringTimeout(), func() {
		inv.finish(Result{Outcome: OutcomeTimedOut})
	})
	logrus.WithFields(logrus.Fields{
		"function": "Invite",
		"target":   target.ID,
		"room":     roomID,
		"mode":     mode,
	}).Info("invitation sent")
	return inv, nil
}

// ring joins the target's notification address just long enough to deliver
// the invitation.
func (n *Notifier) ring(ctx context.Context, target signaling.Profile, roomID string, mode signaling.CallMode) error {
	ch, err := n.transport.Join(ctx, signaling.NotifyAddress(target.ID))
	if err != nil {
		return fmt.Errorf("invite: ring %s: %w", target.ID, err)
	}
	defer ch.Leave()

	env := signaling.NewEnvelope(signaling.TypeIncomingCall, n.self.ID)
	env.TargetID = target.ID
	env.User = &n.self
	env.RoomID = roomID
	env.CallMode = mode
	if err := ch.Send(env); err != nil {
		return fmt.Errorf("invite: ring %s: %w", target.ID, err)
	}
	return nil
}

// Reject declines an incoming call, informing the caller on their
// notification address.
func (n *Notifier) Reject(ctx context.Context, call IncomingCall) error {
	ch, err := n.transport.Join(ctx, signaling.NotifyAddress(call.Caller.ID))
	if err != nil {
		return fmt.Errorf("invite: reject: %w", err)
	}
	defer ch.Leave()

	env := signaling.NewEnvelope(signaling.TypeCallRejected, n.self.ID)
	env.TargetID = call.Caller.ID
	env.RejectedBy = n.self.ID
	env.RejectedByUsername = n.self.Username
	if err := ch.Send(env); err != nil {
		return fmt.Errorf("invite: reject: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "Reject",
		"caller":   call.Caller.ID,
	}).Info("invitation rejected")
	return nil
}

// Close cancels pending invitations and stops listening.
func (n *Notifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	listener := n.listener
	n.listener = nil
	var pending []*Invitation
	for _, inv := range n.pending {
		pending = append(pending, inv)
	}
	n.mu.Unlock()

	for _, inv := range pending {
		inv.Cancel()
	}
	if listener != nil {
		return listener.Leave()
	}
	return nil
}
