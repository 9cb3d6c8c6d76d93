package relay

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/skylark-im/callkit/signaling"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 90 * time.Second
	// pingPeriod must be under pongWait so the deadline refreshes in time.
	pingPeriod = 30 * time.Second

	// maxMessageSize fits an SDP with a generous margin.
	maxMessageSize = 128 << 10

	// sendBufferSize is the per-client outbound queue. A client that falls
	// this far behind is disconnected rather than throttling the room.
	sendBufferSize = 64

	// joinWait bounds how long a fresh connection may sit silent before
	// sending its join frame.
	joinWait = 15 * time.Second
)

// Hub is the signaling relay. It serves one websocket endpoint; each
// connection belongs to exactly one room for its whole lifetime.
type Hub struct {
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
}

// NewHub creates a hub allowing the given origins. "*" allows all.
func NewHub(allowedOrigins []string) *Hub {
	allowAll := false
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}

	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
		},
		rooms: make(map[string]map[*client]struct{}),
	}
}

// client is one websocket connection subscribed to one room.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	room   string
	peerID string
	send   chan []byte

	closeOnce sync.Once
}

// ServeHTTP upgrades the connection and runs the join handshake: the first
// frame must be a join, answered with a subscribed acknowledgement before
// any signal flows.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "ServeHTTP",
			"remote":   r.RemoteAddr,
		}).WithError(err).Warn("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxMessageSize)

	conn.SetReadDeadline(time.Now().Add(joinWait))
	var join signaling.Frame
	if err := conn.ReadJSON(&join); err != nil || join.Kind != signaling.FrameJoin || join.Room == "" {
		writeJSON(conn, signaling.Frame{Kind: signaling.FrameError, Error: "expected join frame"})
		conn.Close()
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		room:   join.Room,
		peerID: join.PeerID,
		send:   make(chan []byte, sendBufferSize),
	}
	h.register(c)

	// The subscription is live before the acknowledgement goes out, so a
	// signal sent right after the client sees it cannot miss this member.
	if err := writeJSON(conn, signaling.Frame{Kind: signaling.FrameSubscribed, Room: c.room}); err != nil {
		h.unregister(c)
		conn.Close()
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "ServeHTTP",
		"room":     c.room,
		"peer":     c.peerID,
	}).Debug("client subscribed")

	go c.writePump()
	c.readPump()
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[c.room]
	if !ok {
		members = make(map[*client]struct{})
		h.rooms[c.room] = members
	}
	members[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[c.room]
	if !ok {
		return
	}
	if _, member := members[c]; !member {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, c.room)
	}
	c.closeSend()
}

// broadcast forwards a raw frame to every room member except from.
func (h *Hub) broadcast(room string, from *client, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for member := range h.rooms[room] {
		if member == from {
			continue
		}
		select {
		case member.send <- payload:
		default:
			// The member is hopelessly behind; drop the frame and let its
			// read deadline reap the connection.
			logrus.WithFields(logrus.Fields{
				"function": "broadcast",
				"room":     room,
				"peer":     member.peerID,
			}).Warn("slow relay client, frame dropped")
		}
	}
}

// RoomSize reports the member count of a room. Exposed for health checks
// and tests.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (c *client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.WithFields(logrus.Fields{
					"function": "readPump",
					"room":     c.room,
					"peer":     c.peerID,
				}).WithError(err).Debug("unexpected close")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame signaling.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "readPump",
				"room":     c.room,
				"peer":     c.peerID,
			}).WithError(err).Warn("malformed frame dropped")
			continue
		}
		if frame.Kind != signaling.FrameSignal || frame.Envelope == nil {
			continue
		}
		c.hub.broadcast(c.room, c, raw)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeJSON(conn *websocket.Conn, frame signaling.Frame) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(frame)
}
