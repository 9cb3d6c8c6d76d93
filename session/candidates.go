package session

import "github.com/skylark-im/callkit/signaling"

// maxQueuedCandidates bounds the early-candidate queue per peer. Real
// gatherings produce a couple dozen candidates at most; an unbounded queue
// would let a misbehaving peer grow memory before negotiation completes.
const maxQueuedCandidates = 64

// maxPendingPeers bounds how many distinct senders may hold queues at once.
// Queues are keyed by sender before any join proves the sender real, so the
// map itself needs a cap, not just each queue.
const maxPendingPeers = 16

// pendingCandidates holds ICE candidates that arrived before the remote
// description for their peer. Candidates applied to a link without a remote
// description would be rejected, so they wait here and flush in arrival
// order once the description lands.
//
// Owned by the session goroutine; no locking.
type pendingCandidates struct {
	byPeer map[string][]signaling.CandidateInit
}

func newPendingCandidates() *pendingCandidates {
	return &pendingCandidates{byPeer: make(map[string][]signaling.CandidateInit)}
}

// add queues a candidate for a peer, reporting false when the candidate was
// dropped because the peer's queue is full or too many senders already hold
// queues.
func (q *pendingCandidates) add(remoteID string, c signaling.CandidateInit) bool {
	queue, ok := q.byPeer[remoteID]
	if !ok && len(q.byPeer) >= maxPendingPeers {
		return false
	}
	if len(queue) >= maxQueuedCandidates {
		return false
	}
	q.byPeer[remoteID] = append(queue, c)
	return true
}

// take removes and returns the queued candidates for a peer in arrival order.
func (q *pendingCandidates) take(remoteID string) []signaling.CandidateInit {
	queue := q.byPeer[remoteID]
	delete(q.byPeer, remoteID)
	return queue
}

// drop discards the queue for a peer.
func (q *pendingCandidates) drop(remoteID string) {
	delete(q.byPeer, remoteID)
}

// size reports the total queued candidates across peers.
func (q *pendingCandidates) size() int {
	n := 0
	for _, queue := range q.byPeer {
		n += len(queue)
	}
	return n
}

// clear discards every queue.
func (q *pendingCandidates) clear() {
	q.byPeer = make(map[string][]signaling.CandidateInit)
}
