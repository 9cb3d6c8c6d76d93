package session

import "github.com/sirupsen/logrus"

// checkLiveness runs on the liveness interval and ends calls that can no
// longer make progress. Runs on the session goroutine.
func (s *CallSession) checkLiveness() {
	switch s.state {
	case StateCalling:
		// A call that has rung for the whole connect window without a
		// single link attempt has a dead signaling path; nothing will
		// arrive to rescue it.
		if s.linkAttempts == 0 && s.clock.Since(s.startedAt) > s.config.ConnectTimeout {
			logrus.WithFields(logrus.Fields{
				"function": "checkLiveness",
				"room":     s.roomID,
			}).Warn("no negotiation within connect window")
			s.end(EndStalled)
		}

	case StateActive:
		if s.pipeline == nil || !s.pipeline.Live() {
			logrus.WithFields(logrus.Fields{
				"function": "checkLiveness",
				"room":     s.roomID,
			}).Warn("local media pipeline died")
			s.end(EndMediaFailure)
			return
		}
		if len(s.peers) > 0 && s.allLinksFailed() {
			logrus.WithFields(logrus.Fields{
				"function": "checkLiveness",
				"room":     s.roomID,
			}).Warn("all peer links failed")
			s.end(EndConnectionFailed)
		}
	}
}

// allLinksFailed reports whether every peer link has confirmed failure,
// meaning it failed longer ago than the grace delay allows.
func (s *CallSession) allLinksFailed() bool {
	for _, p := range s.peers {
		if p.state != LinkFailed {
			return false
		}
		if p.failedAt.IsZero() || s.clock.Since(p.failedAt) < s.config.FailureConfirmDelay {
			return false
		}
	}
	return true
}
