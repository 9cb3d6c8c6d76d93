package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/skylark-im/callkit/media"
	"github.com/skylark-im/callkit/signaling"
)

// waitUntil polls cond until it holds or the deadline passes.
func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// mockClock is a settable TimeProvider.
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock() *mockClock {
	return &mockClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

func (c *mockClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeTrack is an in-memory media.Track.
type fakeTrack struct {
	id   string
	kind media.TrackKind

	mu      sync.Mutex
	enabled bool
	ended   bool
	closed  bool
}

func newFakeTrack(id string, kind media.TrackKind) *fakeTrack {
	return &fakeTrack{id: id, kind: kind, enabled: true}
}

func (t *fakeTrack) ID() string            { return t.id }
func (t *fakeTrack) Kind() media.TrackKind { return t.kind }

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

func (t *fakeTrack) end() {
	t.mu.Lock()
	t.ended = true
	t.mu.Unlock()
}

func (t *fakeTrack) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

// fakeCapturer hands out fresh fake tracks per capture.
type fakeCapturer struct {
	mu    sync.Mutex
	err   error
	audio *fakeTrack
	video *fakeTrack
}

func newFakeCapturer() *fakeCapturer { return &fakeCapturer{} }

func (c *fakeCapturer) Capture(_ context.Context, req media.CaptureRequest) ([]media.Track, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	var out []media.Track
	if req.Audio {
		c.audio = newFakeTrack("mic", media.KindAudio)
		out = append(out, c.audio)
	}
	if req.Video {
		c.video = newFakeTrack("cam", media.KindVideo)
		out = append(out, c.video)
	}
	return out, nil
}

func (c *fakeCapturer) audioTrack() *fakeTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audio
}

func (c *fakeCapturer) videoTrack() *fakeTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.video
}

// fakeLink is an in-memory PeerLink with scripted SDP handling.
type fakeLink struct {
	remoteID string

	mu             sync.Mutex
	sigState       SignalingState
	hasRemote      bool
	offersCreated  int
	offersHandled  int
	answersHandled int
	candidates     []signaling.CandidateInit
	tracks         []media.Track
	replacedVideo  []media.Track
	outgoing       map[media.TrackKind]bool
	closed         bool

	onCandidate func(signaling.CandidateInit)
	onTrack     func(RemoteTrack)
	onState     func(LinkState)
}

func newFakeLink(remoteID string) *fakeLink {
	return &fakeLink{
		remoteID: remoteID,
		sigState: SignalingStable,
		outgoing: map[media.TrackKind]bool{},
	}
}

func (l *fakeLink) CreateOffer() (signaling.SessionDescription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.offersCreated++
	l.sigState = SignalingHaveLocalOffer
	return signaling.SessionDescription{Type: "offer", SDP: fmt.Sprintf("offer-%d", l.offersCreated)}, nil
}

func (l *fakeLink) HandleOffer(offer signaling.SessionDescription) (signaling.SessionDescription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.offersHandled++
	l.hasRemote = true
	l.sigState = SignalingStable
	return signaling.SessionDescription{Type: "answer", SDP: "answer-to-" + offer.SDP}, nil
}

func (l *fakeLink) HandleAnswer(signaling.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.answersHandled++
	l.hasRemote = true
	l.sigState = SignalingStable
	return nil
}

func (l *fakeLink) AddCandidate(c signaling.CandidateInit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.hasRemote {
		return fmt.Errorf("candidate before remote description")
	}
	l.candidates = append(l.candidates, c)
	return nil
}

func (l *fakeLink) HasRemoteDescription() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hasRemote
}

func (l *fakeLink) SignalingState() SignalingState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sigState
}

func (l *fakeLink) AddTrack(t media.Track) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tracks = append(l.tracks, t)
	return nil
}

func (l *fakeLink) ReplaceVideoTrack(t media.Track) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.replacedVideo = append(l.replacedVideo, t)
	return nil
}

func (l *fakeLink) SetOutgoingEnabled(kind media.TrackKind, enabled bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outgoing[kind] = enabled
	return nil
}

func (l *fakeLink) OnCandidate(fn func(signaling.CandidateInit)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onCandidate = fn
}

func (l *fakeLink) OnTrack(fn func(RemoteTrack)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onTrack = fn
}

func (l *fakeLink) OnStateChange(fn func(LinkState)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onState = fn
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLink) fireCandidate(c signaling.CandidateInit) {
	l.mu.Lock()
	fn := l.onCandidate
	l.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

func (l *fakeLink) fireTrack(t RemoteTrack) {
	l.mu.Lock()
	fn := l.onTrack
	l.mu.Unlock()
	if fn != nil {
		fn(t)
	}
}

func (l *fakeLink) fireState(st LinkState) {
	l.mu.Lock()
	fn := l.onState
	l.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (l *fakeLink) offerCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.offersCreated
}

func (l *fakeLink) answersHandledCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.answersHandled
}

func (l *fakeLink) answeredOffers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.offersHandled
}

func (l *fakeLink) appliedCandidates() []signaling.CandidateInit {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]signaling.CandidateInit, len(l.candidates))
	copy(out, l.candidates)
	return out
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// fakeLinks is a LinkFactory that records every link it makes.
type fakeLinks struct {
	mu    sync.Mutex
	links map[string]*fakeLink
	err   error
}

func newFakeLinks() *fakeLinks {
	return &fakeLinks{links: make(map[string]*fakeLink)}
}

func (f *fakeLinks) factory(remoteID string) (PeerLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	l := newFakeLink(remoteID)
	f.links[remoteID] = l
	return l, nil
}

func (f *fakeLinks) get(remoteID string) *fakeLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.links[remoteID]
}

func (f *fakeLinks) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.links)
}

// observer joins a room on the broker and records everything it sees,
// standing in for the remote participant.
type observer struct {
	t       *testing.T
	channel signaling.Channel
	selfID  string

	mu   sync.Mutex
	seen []signaling.Envelope
}

func newObserver(t *testing.T, broker *signaling.MemoryBroker, room, selfID string) *observer {
	t.Helper()
	ch, err := broker.Join(context.Background(), room)
	if err != nil {
		t.Fatalf("observer join: %v", err)
	}
	o := &observer{t: t, channel: ch, selfID: selfID}
	ch.OnMessage(func(env signaling.Envelope) {
		o.mu.Lock()
		o.seen = append(o.seen, env)
		o.mu.Unlock()
	})
	t.Cleanup(func() { ch.Leave() })
	return o
}

func (o *observer) send(env signaling.Envelope) {
	if err := o.channel.Send(env); err != nil {
		o.t.Errorf("observer send: %v", err)
	}
}

func (o *observer) sendJoin() {
	env := signaling.NewEnvelope(signaling.TypeJoin, o.selfID)
	env.User = &signaling.Profile{ID: o.selfID, Username: o.selfID}
	o.send(env)
}

func (o *observer) envelopes(typ signaling.MessageType) []signaling.Envelope {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []signaling.Envelope
	for _, env := range o.seen {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

// testConfig shrinks timing so liveness paths run inside a test.
func testConfig() Config {
	return Config{
		ConnectTimeout:      time.Minute,
		LivenessInterval:    10 * time.Millisecond,
		FailureConfirmDelay: 30 * time.Millisecond,
		InboxSize:           128,
	}
}

// endCollector records ended-callback reasons.
type endCollector struct {
	mu      sync.Mutex
	reasons []EndReason
}

func (c *endCollector) record(r EndReason) {
	c.mu.Lock()
	c.reasons = append(c.reasons, r)
	c.mu.Unlock()
}

func (c *endCollector) all() []EndReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EndReason, len(c.reasons))
	copy(out, c.reasons)
	return out
}

// newTestSession wires a session over the broker with fakes and registers
// cleanup.
func newTestSession(t *testing.T, broker *signaling.MemoryBroker, selfID string) (*CallSession, *fakeLinks, *fakeCapturer, *endCollector) {
	t.Helper()
	links := newFakeLinks()
	capturer := newFakeCapturer()
	ends := &endCollector{}
	s, err := New(
		signaling.Profile{ID: selfID, Username: selfID},
		broker,
		links.factory,
		capturer,
		testConfig(),
	)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	s.SetEndedCallback(ends.record)
	t.Cleanup(func() { s.Close() })
	return s, links, capturer, ends
}
