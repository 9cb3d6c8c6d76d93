package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	wsWriteTimeout    = 10 * time.Second
	wsSubscribeWindow = 15 * time.Second
)

// WebsocketTransport joins rooms on a callrelay server. Each Join opens a
// dedicated websocket connection, so rooms fail and recover independently.
type WebsocketTransport struct {
	baseURL string
	selfID  string
	dialer  *websocket.Dialer
}

// NewWebsocketTransport creates a transport that dials the relay at baseURL
// (ws:// or wss://). selfID identifies this participant on the handshake so
// the relay can exclude the sender from its own broadcasts.
func NewWebsocketTransport(baseURL, selfID string) (*WebsocketTransport, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("websocket transport: empty base URL")
	}
	if selfID == "" {
		return nil, fmt.Errorf("websocket transport: empty participant ID")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("websocket transport: parse base URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("websocket transport: unsupported scheme %q", u.Scheme)
	}
	return &WebsocketTransport{
		baseURL: baseURL,
		selfID:  selfID,
		dialer:  websocket.DefaultDialer,
	}, nil
}

// Join dials the relay, announces the room, and waits for the relay's
// subscription acknowledgement. It does not return a usable channel until the
// subscription is confirmed, so a Send by some other participant immediately
// after this returns will be delivered here.
func (t *WebsocketTransport) Join(ctx context.Context, room string) (Channel, error) {
	if room == "" {
		return nil, fmt.Errorf("websocket transport: empty room")
	}
	conn, err := t.dial(ctx, room)
	if err != nil {
		return nil, err
	}
	ch := &wsChannel{
		transport: t,
		room:      room,
		conn:      conn,
		closed:    make(chan struct{}),
	}
	go ch.readLoop(conn)
	return ch, nil
}

func (t *WebsocketTransport) dial(ctx context.Context, room string) (*websocket.Conn, error) {
	conn, _, err := t.dialer.DialContext(ctx, t.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket transport: dial %s: %w", t.baseURL, err)
	}
	join := Frame{Kind: FrameJoin, Room: room, PeerID: t.selfID}
	if err := writeFrame(conn, join); err != nil {
		conn.Close()
		return nil, fmt.Errorf("websocket transport: join %s: %w", room, err)
	}

	deadline := time.Now().Add(wsSubscribeWindow)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)
	var ack Frame
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("websocket transport: await subscription for %s: %w", room, err)
	}
	conn.SetReadDeadline(time.Time{})
	if ack.Kind == FrameError {
		conn.Close()
		return nil, fmt.Errorf("websocket transport: relay rejected join for %s: %s", room, ack.Error)
	}
	if ack.Kind != FrameSubscribed {
		conn.Close()
		return nil, fmt.Errorf("websocket transport: unexpected frame %q awaiting subscription", ack.Kind)
	}
	return conn, nil
}

func writeFrame(conn *websocket.Conn, f Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// wsChannel is one room subscription over one websocket connection.
type wsChannel struct {
	transport *WebsocketTransport
	room      string

	mu   sync.Mutex // guards conn and writes
	conn *websocket.Conn

	hmu      sync.RWMutex
	handlers []func(Envelope)

	leaveOnce sync.Once
	closed    chan struct{}
}

func (c *wsChannel) Room() string { return c.room }

// Send delivers env to the room. The relay may drop or duplicate under
// churn; one reconnect is attempted on a broken pipe before giving up.
func (c *wsChannel) Send(env Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	select {
	case <-c.closed:
		return ErrChannelClosed
	default:
	}
	frame := Frame{Kind: FrameSignal, Room: c.room, Envelope: &env}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := writeFrame(c.conn, frame); err == nil {
		return nil
	}
	// Stale connection. Redial once, resubscribe, and retry the write.
	logrus.WithFields(logrus.Fields{
		"function": "Send",
		"room":     c.room,
	}).Warn("websocket write failed, reconnecting")
	c.conn.Close()
	ctx, cancel := context.WithTimeout(context.Background(), wsSubscribeWindow)
	defer cancel()
	conn, err := c.transport.dial(ctx, c.room)
	if err != nil {
		return fmt.Errorf("websocket channel: reconnect: %w", err)
	}
	c.conn = conn
	go c.readLoop(conn)
	if err := writeFrame(conn, frame); err != nil {
		return fmt.Errorf("websocket channel: send after reconnect: %w", err)
	}
	return nil
}

func (c *wsChannel) OnMessage(fn func(Envelope)) {
	if fn == nil {
		return
	}
	c.hmu.Lock()
	c.handlers = append(c.handlers, fn)
	c.hmu.Unlock()
}

func (c *wsChannel) Leave() error {
	c.leaveOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		c.conn.Close()
		c.mu.Unlock()
	})
	return nil
}

func (c *wsChannel) readLoop(conn *websocket.Conn) {
	log := logrus.WithFields(logrus.Fields{
		"function": "readLoop",
		"room":     c.room,
	})
	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			select {
			case <-c.closed:
			default:
				log.WithError(err).Debug("websocket read ended")
			}
			return
		}
		if frame.Kind != FrameSignal || frame.Envelope == nil {
			continue
		}
		env := *frame.Envelope
		if env.SenderID == c.transport.selfID {
			// Relay should exclude the sender already; drop just in case.
			continue
		}
		c.hmu.RLock()
		handlers := append([]func(Envelope){}, c.handlers...)
		c.hmu.RUnlock()
		for _, fn := range handlers {
			fn(env)
		}
	}
}
