// Package rtc implements the session.PeerLink interface on pion/webrtc.
//
// A Factory holds the shared webrtc API, built once from a media engine and
// interceptor registry, and stamps out one peer connection per remote
// participant. Mute and background switches operate on RTP senders via
// ReplaceTrack, so they never trigger renegotiation.
package rtc
