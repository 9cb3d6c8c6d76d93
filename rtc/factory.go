package rtc

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/skylark-im/callkit/session"
)

// ICE timeouts. The pion default disconnect timeout of five seconds is too
// eager for relay paths with short outages; thirty seconds lets ICE recover
// before the session's own failure handling takes over.
const (
	iceDisconnectedTimeout = 30 * time.Second
	iceFailedTimeout       = 120 * time.Second
	iceKeepaliveInterval   = 2 * time.Second
)

// Config configures the shared webrtc API.
type Config struct {
	// ICEServers lists STUN and TURN servers. Empty means DefaultICEServers.
	ICEServers []webrtc.ICEServer

	// Populate registers codecs on the media engine. Nil registers the
	// pion defaults. Device-captured tracks need the capturer's own codecs
	// here (see media.DeviceCapturer.PopulateMediaEngine).
	Populate func(*webrtc.MediaEngine) error
}

// DefaultICEServers returns the fallback STUN configuration.
func DefaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
	}
}

// Factory builds peer links from one shared webrtc API.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

// NewFactory builds the webrtc API with the configured codecs and the
// default interceptors.
func NewFactory(config Config) (*Factory, error) {
	engine := &webrtc.MediaEngine{}
	if config.Populate != nil {
		if err := config.Populate(engine); err != nil {
			return nil, fmt.Errorf("rtc: populate media engine: %w", err)
		}
	} else if err := engine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("rtc: register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(engine, registry); err != nil {
		return nil, fmt.Errorf("rtc: register interceptors: %w", err)
	}

	settings := webrtc.SettingEngine{}
	settings.SetICETimeouts(iceDisconnectedTimeout, iceFailedTimeout, iceKeepaliveInterval)

	servers := config.ICEServers
	if len(servers) == 0 {
		servers = DefaultICEServers()
	}

	return &Factory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(engine),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(settings),
		),
		config: webrtc.Configuration{ICEServers: servers},
	}, nil
}

// NewLink creates the peer connection for one remote participant.
func (f *Factory) NewLink(remoteID string) (session.PeerLink, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("rtc: peer connection for %s: %w", remoteID, err)
	}
	return newLink(remoteID, pc), nil
}

// LinkFactory adapts the factory to the session layer.
func (f *Factory) LinkFactory() session.LinkFactory {
	return f.NewLink
}
