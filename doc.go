// Package callkit implements peer-to-peer call signaling and session
// negotiation for chat applications: one-on-one and group calls with SDP
// offer/answer exchange, trickle ICE, ring-and-answer invitations, and a
// local media pipeline with virtual backgrounds.
//
// The Client is the main API facade wiring together the subpackages:
// signaling rooms (package signaling), the call state machine (package
// session), call invitations (package invite), the webrtc connection layer
// (package rtc), and local capture (package media).
//
// # Getting Started
//
// Build a client from its parts and set up callbacks before starting:
//
//	transport, err := signaling.NewWebsocketTransport("ws://relay:8090/ws", self.ID)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	capturer, err := media.NewDeviceCapturer()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	factory, err := rtc.NewFactory(rtc.Config{Populate: capturer.PopulateMediaEngine})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client, err := callkit.New(callkit.Options{
//	    Self:      self,
//	    Transport: transport,
//	    Links:     factory.LinkFactory(),
//	    Capturer:  capturer,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Kill()
//
//	client.OnIncomingCall(func(call invite.IncomingCall) {
//	    // Ring the UI; call client.Accept or client.Reject.
//	})
//	client.OnCallEnded(func(reason session.EndReason, message string) {
//	    // Show message when non-empty.
//	})
//	if err := client.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Place a call with CallUser or CallGroup, control it with ToggleAudio,
// ToggleVideo, and SetBackground, and hang up with End.
//
// # Signaling Model
//
// All coordination runs over named rooms on a publish/subscribe transport
// with at-least-once, unordered delivery. Call rooms carry join, offer,
// answer, candidate, and leave envelopes; per-user notification addresses
// carry invitations and rejections. The session layer tolerates duplicated
// and reordered envelopes by construction, so any transport honoring the
// signaling.Transport contract can back a client.
package callkit
