package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylark-im/callkit/signaling"
)

func TestLowerIDCreatesSingleOffer(t *testing.T) {
	broker := signaling.NewMemoryBroker()
	room := signaling.DirectRoomID("alice", "bob")
	remote := newObserver(t, broker, room, "bob")

	s, links, _, _ := newTestSession(t, broker, "alice")
	require.NoError(t, s.Initiate(context.Background(), DirectTarget(signaling.Profile{ID: "bob"}), signaling.CallModeVideo))

	remote.sendJoin()
	waitUntil(t, func() bool { return len(remote.envelopes(signaling.TypeOffer)) == 1 },
		"lower-ID side never offered")

	// The transport may replay the join; the session must not offer again.
	remote.sendJoin()
	remote.sendJoin()
	require.NoError(t, s.do(func() {}))
	assert.Equal(t, 1, links.get("bob").offerCount(), "replayed joins must not re-offer")
	assert.Len(t, remote.envelopes(signaling.TypeOffer), 1)

	offer := remote.envelopes(signaling.TypeOffer)[0]
	assert.Equal(t, "bob", offer.TargetID)
	require.NotNil(t, offer.SDP)
	assert.Equal(t, "offer", offer.SDP.Type)
}

func TestHigherIDNeverOffers(t *testing.T) {
	broker := signaling.NewMemoryBroker()
	room := signaling.DirectRoomID("alice", "bob")
	remote := newObserver(t, broker, room, "alice")

	s, links, _, _ := newTestSession(t, broker, "bob")
	require.NoError(t, s.AcceptIncoming(context.Background(), signaling.Profile{ID: "alice"}, signaling.CallModeVideo))

	remote.sendJoin()
	waitUntil(t, func() bool { return len(remote.envelopes(signaling.TypeJoin)) == 2 },
		"higher-ID side should re-announce once")

	// Further join replays neither offer nor re-announce again.
	remote.sendJoin()
	require.NoError(t, s.do(func() {}))
	assert.Len(t, remote.envelopes(signaling.TypeJoin), 2)
	assert.Empty(t, remote.envelopes(signaling.TypeOffer))
	assert.Equal(t, 0, links.count(), "the answering side builds its link on the offer, not the join")
}

func TestSimultaneousJoinProducesOneOffer(t *testing.T) {
	// Both sides start the call at once. The deterministic direction rule
	// must leave exactly one offer on the wire and a completed negotiation
	// on both ends.
	broker := signaling.NewMemoryBroker()

	alice, aliceLinks, _, _ := newTestSession(t, broker, "alice")
	bob, bobLinks, _, _ := newTestSession(t, broker, "bob")

	errs := make(chan error, 2)
	go func() {
		errs <- alice.Initiate(context.Background(), DirectTarget(signaling.Profile{ID: "bob"}), signaling.CallModeVideo)
	}()
	go func() {
		errs <- bob.Initiate(context.Background(), DirectTarget(signaling.Profile{ID: "alice"}), signaling.CallModeVideo)
	}()
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	waitUntil(t, func() bool {
		a := aliceLinks.get("bob")
		b := bobLinks.get("alice")
		return a != nil && b != nil && a.answersHandledCount() == 1 && b.answeredOffers() == 1
	}, "negotiation never completed")

	assert.Equal(t, 1, aliceLinks.get("bob").offerCount(), "alice offers exactly once")
	assert.Equal(t, 0, bobLinks.get("alice").offerCount(), "bob must not offer")
	assert.True(t, aliceLinks.get("bob").HasRemoteDescription())
	assert.True(t, bobLinks.get("alice").HasRemoteDescription())
}

func TestGlareOfferFromAnsweringSideDropped(t *testing.T) {
	// alice (lower ID) has an offer in flight; a misbehaving bob sends his
	// own offer anyway. Alice keeps hers and drops his.
	broker := signaling.NewMemoryBroker()
	room := signaling.DirectRoomID("alice", "bob")
	remote := newObserver(t, broker, room, "bob")

	s, links, _, _ := newTestSession(t, broker, "alice")
	require.NoError(t, s.Initiate(context.Background(), DirectTarget(signaling.Profile{ID: "bob"}), signaling.CallModeVideo))
	remote.sendJoin()
	waitUntil(t, func() bool { return len(remote.envelopes(signaling.TypeOffer)) == 1 }, "no offer sent")

	rogue := signaling.NewEnvelope(signaling.TypeOffer, "bob")
	rogue.TargetID = "alice"
	rogue.SDP = &signaling.SessionDescription{Type: "offer", SDP: "rogue"}
	remote.send(rogue)

	require.NoError(t, s.do(func() {}))
	link := links.get("bob")
	assert.Equal(t, 0, link.answeredOffers(), "rogue offer must not be answered")
	assert.Empty(t, remote.envelopes(signaling.TypeAnswer))
	assert.Equal(t, SignalingHaveLocalOffer, link.SignalingState(), "our own offer stays in flight")
}

func TestReplayedOfferNotReapplied(t *testing.T) {
	// The transport may deliver the same offer twice. The second copy must
	// neither touch the link nor put a second answer on the wire.
	broker := signaling.NewMemoryBroker()
	room := signaling.DirectRoomID("alice", "bob")
	alice := newObserver(t, broker, room, "alice")

	s, links, _, _ := newTestSession(t, broker, "bob")
	require.NoError(t, s.AcceptIncoming(context.Background(), signaling.Profile{ID: "alice"}, signaling.CallModeVideo))
	alice.sendJoin()
	waitUntil(t, func() bool { return len(alice.envelopes(signaling.TypeJoin)) == 2 },
		"higher-ID side should re-announce its join")

	offer := signaling.NewEnvelope(signaling.TypeOffer, "alice")
	offer.TargetID = "bob"
	offer.SDP = &signaling.SessionDescription{Type: "offer", SDP: "offer-1"}
	alice.send(offer)
	waitUntil(t, func() bool { return len(alice.envelopes(signaling.TypeAnswer)) == 1 },
		"offer was never answered")

	alice.send(offer)
	require.NoError(t, s.do(func() {}))
	assert.Equal(t, 1, links.get("alice").answeredOffers(), "replayed offer must not be re-applied")
	assert.Len(t, alice.envelopes(signaling.TypeAnswer), 1, "replayed offer must not produce a second answer")
}

func TestReplayedAnswerNotReapplied(t *testing.T) {
	broker := signaling.NewMemoryBroker()
	room := signaling.DirectRoomID("alice", "bob")
	remote := newObserver(t, broker, room, "bob")

	s, links, _, _ := newTestSession(t, broker, "alice")
	require.NoError(t, s.Initiate(context.Background(), DirectTarget(signaling.Profile{ID: "bob"}), signaling.CallModeVideo))
	remote.sendJoin()
	waitUntil(t, func() bool { return len(remote.envelopes(signaling.TypeOffer)) == 1 },
		"no offer sent")

	answer := signaling.NewEnvelope(signaling.TypeAnswer, "bob")
	answer.TargetID = "alice"
	answer.SDP = &signaling.SessionDescription{Type: "answer", SDP: "answer-1"}
	remote.send(answer)
	waitUntil(t, func() bool { return links.get("bob").answersHandledCount() == 1 },
		"answer was never applied")

	remote.send(answer)
	require.NoError(t, s.do(func() {}))
	assert.Equal(t, 1, links.get("bob").answersHandledCount(), "replayed answer must not be re-applied")
	assert.Equal(t, SignalingStable, links.get("bob").SignalingState())
}
