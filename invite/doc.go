// Package invite handles call invitations: ringing a user, waiting out the
// ring window, and carrying rejections back to the caller.
//
// Invitations travel over per-user notification addresses on the signaling
// transport, not over call rooms, because the call room has no subscribers
// on the callee side while the phone is still ringing. A Notifier listens on
// the local user's address for incoming calls and rejections, and rings
// remote users by briefly joining their address.
//
// An Invitation resolves exactly once: accepted, rejected, timed out, or
// cancelled. Acceptance is observed, not signaled; the caller resolves the
// invitation when the callee shows up in the call room.
package invite
