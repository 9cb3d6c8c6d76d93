package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylark-im/callkit/signaling"
)

func TestStalledCallTimesOut(t *testing.T) {
	broker := signaling.NewMemoryBroker()
	clock := newMockClock()

	s, _, _, ends := newTestSession(t, broker, "alice")
	s.SetTimeProvider(clock)
	require.NoError(t, s.Initiate(context.Background(), DirectTarget(signaling.Profile{ID: "bob"}), signaling.CallModeAudio))

	// Nobody answers and no negotiation ever starts.
	clock.advance(2 * time.Minute)

	waitUntil(t, func() bool { return s.State() == StateIdle }, "stalled call never timed out")
	assert.Equal(t, []EndReason{EndStalled}, ends.all())
}

func TestCallWithNegotiationIsNotStalled(t *testing.T) {
	broker := signaling.NewMemoryBroker()
	room := signaling.DirectRoomID("alice", "bob")
	remote := newObserver(t, broker, room, "bob")
	clock := newMockClock()

	s, links, _, ends := newTestSession(t, broker, "alice")
	s.SetTimeProvider(clock)
	require.NoError(t, s.Initiate(context.Background(), DirectTarget(signaling.Profile{ID: "bob"}), signaling.CallModeAudio))
	remote.sendJoin()
	waitUntil(t, func() bool { return links.count() == 1 }, "link never created")

	clock.advance(2 * time.Minute)
	time.Sleep(50 * time.Millisecond) // several liveness ticks

	assert.NotEqual(t, StateIdle, s.State())
	assert.Empty(t, ends.all())
}

func TestMediaFailureEndsActiveCall(t *testing.T) {
	broker := signaling.NewMemoryBroker()
	room := signaling.DirectRoomID("alice", "bob")
	remote := newObserver(t, broker, room, "bob")

	s, _, capturer, ends := newTestSession(t, broker, "alice")
	require.NoError(t, s.Initiate(context.Background(), DirectTarget(signaling.Profile{ID: "bob"}), signaling.CallModeVideo))
	remote.sendJoin()
	waitUntil(t, func() bool { return s.State() == StateActive }, "call never activated")

	// The camera dies mid-call.
	capturer.videoTrack().end()

	waitUntil(t, func() bool { return s.State() == StateIdle }, "dead pipeline did not end the call")
	assert.Equal(t, []EndReason{EndMediaFailure}, ends.all())
}

func TestConfirmedLinkFailureEndsDirectCall(t *testing.T) {
	broker := signaling.NewMemoryBroker()
	room := signaling.DirectRoomID("alice", "bob")
	remote := newObserver(t, broker, room, "bob")
	clock := newMockClock()

	s, links, _, ends := newTestSession(t, broker, "alice")
	s.SetTimeProvider(clock)
	require.NoError(t, s.Initiate(context.Background(), DirectTarget(signaling.Profile{ID: "bob"}), signaling.CallModeAudio))
	remote.sendJoin()
	waitUntil(t, func() bool { return links.count() == 1 }, "link never created")

	links.get("bob").fireState(LinkFailed)
	require.NoError(t, s.do(func() {})) // failure recorded
	clock.advance(time.Second)

	waitUntil(t, func() bool { return s.State() == StateIdle }, "confirmed failure did not end the call")
	assert.Equal(t, []EndReason{EndConnectionFailed}, ends.all())
}

func TestTransientLinkFailureRecovers(t *testing.T) {
	broker := signaling.NewMemoryBroker()
	room := signaling.DirectRoomID("alice", "bob")
	remote := newObserver(t, broker, room, "bob")
	clock := newMockClock()

	s, links, _, ends := newTestSession(t, broker, "alice")
	s.SetTimeProvider(clock)
	require.NoError(t, s.Initiate(context.Background(), DirectTarget(signaling.Profile{ID: "bob"}), signaling.CallModeAudio))
	remote.sendJoin()
	waitUntil(t, func() bool { return links.count() == 1 }, "link never created")

	// Failure followed by recovery before the clock confirms it.
	links.get("bob").fireState(LinkFailed)
	links.get("bob").fireState(LinkConnected)
	require.NoError(t, s.do(func() {}))
	clock.advance(time.Second)
	time.Sleep(100 * time.Millisecond) // confirmation timer and liveness ticks

	assert.Equal(t, StateActive, s.State())
	assert.Empty(t, ends.all())
}
