package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylark-im/callkit/signaling"
)

func candidateEnvelope(sender, target, payload string) signaling.Envelope {
	env := signaling.NewEnvelope(signaling.TypeCandidate, sender)
	env.TargetID = target
	env.Candidate = &signaling.CandidateInit{Candidate: payload}
	return env
}

func TestEarlyCandidatesQueuedThenFlushedInOrder(t *testing.T) {
	// bob answers, so candidates from alice can outrun her offer.
	broker := signaling.NewMemoryBroker()
	room := signaling.DirectRoomID("alice", "bob")
	alice := newObserver(t, broker, room, "alice")

	s, links, _, _ := newTestSession(t, broker, "bob")
	require.NoError(t, s.AcceptIncoming(context.Background(), signaling.Profile{ID: "alice"}, signaling.CallModeAudio))

	alice.send(candidateEnvelope("alice", "bob", "cand-1"))
	alice.send(candidateEnvelope("alice", "bob", "cand-2"))
	alice.send(candidateEnvelope("alice", "bob", "cand-3"))

	waitUntil(t, func() bool {
		stats, err := s.Stats()
		return err == nil && stats.Pending == 3
	}, "early candidates were not queued")

	offer := signaling.NewEnvelope(signaling.TypeOffer, "alice")
	offer.TargetID = "bob"
	offer.SDP = &signaling.SessionDescription{Type: "offer", SDP: "offer-1"}
	alice.send(offer)

	waitUntil(t, func() bool {
		l := links.get("alice")
		return l != nil && len(l.appliedCandidates()) == 3
	}, "queued candidates were not applied after the offer")

	applied := links.get("alice").appliedCandidates()
	assert.Equal(t, "cand-1", applied[0].Candidate)
	assert.Equal(t, "cand-2", applied[1].Candidate)
	assert.Equal(t, "cand-3", applied[2].Candidate)

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)
}

func TestCandidateAfterDescriptionAppliesDirectly(t *testing.T) {
	broker := signaling.NewMemoryBroker()
	room := signaling.DirectRoomID("alice", "bob")
	alice := newObserver(t, broker, room, "alice")

	s, links, _, _ := newTestSession(t, broker, "bob")
	require.NoError(t, s.AcceptIncoming(context.Background(), signaling.Profile{ID: "alice"}, signaling.CallModeAudio))

	offer := signaling.NewEnvelope(signaling.TypeOffer, "alice")
	offer.TargetID = "bob"
	offer.SDP = &signaling.SessionDescription{Type: "offer", SDP: "offer-1"}
	alice.send(offer)
	waitUntil(t, func() bool { return links.get("alice") != nil }, "link never created")

	alice.send(candidateEnvelope("alice", "bob", "cand-late"))

	waitUntil(t, func() bool { return len(links.get("alice").appliedCandidates()) == 1 },
		"late candidate not applied")
	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.Pending, "late candidate must not be queued")
}

func TestCandidateQueueBounded(t *testing.T) {
	broker := signaling.NewMemoryBroker()
	room := signaling.DirectRoomID("alice", "bob")
	alice := newObserver(t, broker, room, "alice")

	s, _, _, _ := newTestSession(t, broker, "bob")
	require.NoError(t, s.AcceptIncoming(context.Background(), signaling.Profile{ID: "alice"}, signaling.CallModeAudio))

	for i := 0; i < maxQueuedCandidates+8; i++ {
		alice.send(candidateEnvelope("alice", "bob", fmt.Sprintf("cand-%d", i)))
		if i%16 == 0 {
			// Pace the sends so the broker inbox never overflows.
			require.NoError(t, s.do(func() {}))
		}
	}

	waitUntil(t, func() bool {
		stats, err := s.Stats()
		return err == nil && stats.Pending == maxQueuedCandidates
	}, "candidate queue should cap out, dropping the overflow")
}

func TestPendingQueuesBoundedAcrossSenders(t *testing.T) {
	// The per-sender cap alone would let arbitrarily many unknown senders
	// each grow a queue; the sender map is capped too.
	q := newPendingCandidates()

	for i := 0; i < maxPendingPeers; i++ {
		sender := fmt.Sprintf("sender-%d", i)
		assert.True(t, q.add(sender, signaling.CandidateInit{Candidate: "c"}))
	}
	assert.False(t, q.add("one-too-many", signaling.CandidateInit{Candidate: "c"}),
		"a new sender past the cap must be refused")

	// Senders that already hold a queue keep accepting.
	assert.True(t, q.add("sender-0", signaling.CandidateInit{Candidate: "c2"}))
	assert.Equal(t, maxPendingPeers+1, q.size())

	// Draining a sender frees a slot.
	assert.Len(t, q.take("sender-0"), 2)
	assert.True(t, q.add("one-too-many", signaling.CandidateInit{Candidate: "c"}))
}

func TestCandidateForAbsentPeerQueuedUntilJoin(t *testing.T) {
	// A candidate can arrive before any join or offer from its sender; it
	// waits with the rest of the early queue.
	broker := signaling.NewMemoryBroker()
	room := signaling.GroupRoomID("g1")
	carol := newObserver(t, broker, room, "carol")

	s, _, _, _ := newTestSession(t, broker, "bob")
	require.NoError(t, s.Initiate(context.Background(), GroupTarget("g1"), signaling.CallModeAudio))

	carol.send(candidateEnvelope("carol", "bob", "cand-early"))

	waitUntil(t, func() bool {
		stats, err := s.Stats()
		return err == nil && stats.Pending == 1
	}, "candidate from unknown sender should queue")

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Empty(t, stats.Peers, "queueing a candidate must not admit the peer")
}

func TestLocalCandidatesForwardedToPeer(t *testing.T) {
	broker := signaling.NewMemoryBroker()
	room := signaling.DirectRoomID("alice", "bob")
	remote := newObserver(t, broker, room, "bob")

	s, links, _, _ := newTestSession(t, broker, "alice")
	require.NoError(t, s.Initiate(context.Background(), DirectTarget(signaling.Profile{ID: "bob"}), signaling.CallModeVideo))
	remote.sendJoin()
	waitUntil(t, func() bool { return links.count() == 1 }, "link never created")

	links.get("bob").fireCandidate(signaling.CandidateInit{Candidate: "local-cand"})

	waitUntil(t, func() bool { return len(remote.envelopes(signaling.TypeCandidate)) == 1 },
		"local candidate never reached the peer")
	env := remote.envelopes(signaling.TypeCandidate)[0]
	assert.Equal(t, "bob", env.TargetID)
	require.NotNil(t, env.Candidate)
	assert.Equal(t, "local-cand", env.Candidate.Candidate)
}
