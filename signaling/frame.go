package signaling

// Frame is the websocket wire format spoken between WebsocketTransport and
// the relay server. One frame per websocket text message, JSON encoded.
//
// Handshake: the client's first frame on a connection is FrameJoin naming the
// room; the relay acknowledges with FrameSubscribed before delivering or
// accepting any signal frames. The acknowledgement is what makes Join a
// subscription-confirmed operation.
type Frame struct {
	Kind     string    `json:"kind"`
	Room     string    `json:"room,omitempty"`
	PeerID   string    `json:"peerId,omitempty"`
	Envelope *Envelope `json:"envelope,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Frame kinds.
const (
	FrameJoin       = "join"
	FrameSubscribed = "subscribed"
	FrameSignal     = "signal"
	FrameError      = "error"
)
