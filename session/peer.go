package session

import (
	"time"

	"github.com/skylark-im/callkit/signaling"
)

// peer is the session's record of one remote participant. Owned by the
// session goroutine; no locking.
type peer struct {
	remoteID string
	profile  signaling.Profile
	link     PeerLink
	state    LinkState

	// tracks dedupes remote track announcements by track ID.
	tracks map[string]RemoteTrack

	// offerPending is set between sending our offer and applying the
	// answer, and suppresses duplicate offers for replayed joins.
	offerPending bool

	// announced is set once we have re-announced our join toward this
	// peer, covering the case where our original join broadcast was lost.
	announced bool

	// failedAt records when the link entered the failed state, zero while
	// healthy. Failures are confirmed after a grace delay.
	failedAt time.Time
}

func newPeer(remoteID string) *peer {
	return &peer{
		remoteID: remoteID,
		state:    LinkNew,
		tracks:   make(map[string]RemoteTrack),
	}
}

// addTrack records a remote track, reporting whether it was new.
func (p *peer) addTrack(t RemoteTrack) bool {
	if _, seen := p.tracks[t.ID]; seen {
		return false
	}
	p.tracks[t.ID] = t
	return true
}
