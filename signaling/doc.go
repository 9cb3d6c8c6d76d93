// Package signaling defines the message envelope, room naming, and transport
// abstraction used to coordinate call setup between participants.
//
// The transport is an at-least-once, unordered publish/subscribe channel keyed
// by room name. Messages sent before a peer subscribes are lost, which is why
// the call protocol announces presence with an explicit "join" message instead
// of relying on replay. Two implementations are provided:
//
//   - MemoryBroker: an in-process broker used by tests and single-process
//     deployments.
//   - WebsocketTransport: a client for the relay server in package relay,
//     speaking the frame protocol defined in frame.go.
//
// Room identifiers are derived deterministically from participant identities
// (DirectRoomID, GroupRoomID) so that every participant computes the same room
// without a negotiation round-trip.
package signaling
