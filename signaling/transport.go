package signaling

import "context"

// Transport joins named rooms on a message-relay service.
//
// Delivery semantics are at-least-once and unordered, with no delivery to
// absent subscribers: an envelope sent before a peer subscribes is lost to
// that peer. Join returns only after the subscription is confirmed by the
// relay, which gates the first send: a participant never announces itself
// into a room it is not yet guaranteed to receive from.
type Transport interface {
	Join(ctx context.Context, room string) (Channel, error)
}

// Channel is a live subscription to one room.
//
// Handlers registered with OnMessage are invoked one at a time per channel,
// in delivery order as seen by this subscriber. Send may be called from any
// goroutine. Leave releases the subscription; after Leave, no further
// handler invocations occur.
type Channel interface {
	// Room returns the room this channel is subscribed to.
	Room() string

	// Send publishes an envelope to every other subscriber of the room.
	// The sender does not receive its own messages back.
	Send(env Envelope) error

	// OnMessage registers a handler for inbound envelopes. Multiple
	// handlers may be registered; each receives every envelope.
	OnMessage(fn func(env Envelope))

	// Leave unsubscribes from the room and releases the channel.
	// It is safe to call more than once.
	Leave() error
}
