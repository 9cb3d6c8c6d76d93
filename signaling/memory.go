package signaling

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// memoryInboxSize bounds the per-subscriber delivery queue. A subscriber
// that cannot keep up loses messages, matching the transport's no-guarantee
// delivery contract.
const memoryInboxSize = 64

// ErrChannelClosed indicates an operation on a channel after Leave.
var ErrChannelClosed = errors.New("signaling channel closed")

// MemoryBroker is an in-process Transport. Every subscriber of a room
// receives envelopes published by the other subscribers of that room,
// asynchronously and without ordering guarantees across senders.
//
// It backs the test suites and is usable as-is when all participants live in
// one process.
type MemoryBroker struct {
	mu    sync.RWMutex
	rooms map[string]map[*memoryChannel]struct{}
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		rooms: make(map[string]map[*memoryChannel]struct{}),
	}
}

// Join subscribes to a room. The subscription is live when Join returns.
func (b *MemoryBroker) Join(ctx context.Context, room string) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := &memoryChannel{
		broker: b,
		room:   room,
		inbox:  make(chan Envelope, memoryInboxSize),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	members, ok := b.rooms[room]
	if !ok {
		members = make(map[*memoryChannel]struct{})
		b.rooms[room] = members
	}
	members[ch] = struct{}{}
	b.mu.Unlock()

	go ch.dispatch()

	logrus.WithFields(logrus.Fields{
		"function": "Join",
		"room":     room,
	}).Debug("memory broker subscription confirmed")

	return ch, nil
}

// broadcast fans an envelope out to every room member except the sender.
// Slow subscribers whose inbox is full simply miss the envelope.
func (b *MemoryBroker) broadcast(room string, from *memoryChannel, env Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for member := range b.rooms[room] {
		if member == from {
			continue
		}
		select {
		case member.inbox <- env:
		default:
			logrus.WithFields(logrus.Fields{
				"function": "broadcast",
				"room":     room,
				"type":     env.Type,
			}).Warn("memory broker dropped envelope for slow subscriber")
		}
	}
}

// remove drops a channel from its room, pruning empty rooms.
func (b *MemoryBroker) remove(ch *memoryChannel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	members, ok := b.rooms[ch.room]
	if !ok {
		return
	}
	delete(members, ch)
	if len(members) == 0 {
		delete(b.rooms, ch.room)
	}
}

// SubscriberCount reports how many channels are subscribed to a room.
// Exposed for liveness checks and tests.
func (b *MemoryBroker) SubscriberCount(room string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[room])
}

type memoryChannel struct {
	broker *MemoryBroker
	room   string

	inbox chan Envelope
	done  chan struct{}

	hmu      sync.RWMutex
	handlers []func(Envelope)

	leaveOnce sync.Once
}

func (c *memoryChannel) Room() string { return c.room }

func (c *memoryChannel) Send(env Envelope) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}
	c.broker.broadcast(c.room, c, env)
	return nil
}

func (c *memoryChannel) OnMessage(fn func(Envelope)) {
	c.hmu.Lock()
	c.handlers = append(c.handlers, fn)
	c.hmu.Unlock()
}

func (c *memoryChannel) Leave() error {
	c.leaveOnce.Do(func() {
		c.broker.remove(c)
		close(c.done)
	})
	return nil
}

// dispatch delivers queued envelopes to the registered handlers, one at a
// time, until the channel is left.
func (c *memoryChannel) dispatch() {
	for {
		select {
		case <-c.done:
			return
		case env := <-c.inbox:
			c.hmu.RLock()
			handlers := make([]func(Envelope), len(c.handlers))
			copy(handlers, c.handlers)
			c.hmu.RUnlock()
			for _, fn := range handlers {
				fn(env)
			}
		}
	}
}
