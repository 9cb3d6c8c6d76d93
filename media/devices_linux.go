//go:build linux && cgo

package media

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// videoBitRate caps VP8 output. Higher rates add encode latency without a
// visible gain at the capped capture resolution.
const videoBitRate = 1_500_000

// DeviceCapturer captures camera and microphone tracks through
// pion/mediadevices (V4L2 and malgo on Linux), encoding VP8 and Opus.
type DeviceCapturer struct {
	selector *mediadevices.CodecSelector
}

// NewDeviceCapturer builds a capturer with VP8 video and Opus audio encoders.
func NewDeviceCapturer() (*DeviceCapturer, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("device capturer: vp8 params: %w", err)
	}
	vpxParams.BitRate = videoBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("device capturer: opus params: %w", err)
	}

	return &DeviceCapturer{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// PopulateMediaEngine registers the capturer's codecs on a webrtc
// MediaEngine. Peer connections that carry these tracks must be built from
// an engine populated here, or offer and capture codecs will not line up.
func (c *DeviceCapturer) PopulateMediaEngine(engine *webrtc.MediaEngine) error {
	return c.selector.Populate(engine)
}

// Capture opens the requested devices. Either every requested kind opens or
// the call fails with nothing held open.
func (c *DeviceCapturer) Capture(ctx context.Context, req CaptureRequest) ([]Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !req.Audio && !req.Video {
		return nil, nil
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: c.selector}
	if req.Video {
		constraints.Video = func(mt *mediadevices.MediaTrackConstraints) {
			// Raw frame formats only. Some cameras expose an MJPEG node
			// whose malformed frames poison the VP8 encoder.
			mt.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			mt.Width = prop.IntRanged{Max: 640}
			mt.Height = prop.IntRanged{Max: 480}
		}
	}
	if req.Audio {
		constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, Classify(err)
	}

	var out []Track
	for _, mt := range stream.GetTracks() {
		out = append(out, newDeviceTrack(mt, c.selector))
	}
	logrus.WithFields(logrus.Fields{
		"function": "Capture",
		"tracks":   len(out),
	}).Info("device capture opened")
	return out, nil
}

// deviceTrack adapts a mediadevices track. The enabled flag is advisory
// here; actual muting happens at the RTP sender, which swaps the track out
// of the connection without touching the device.
type deviceTrack struct {
	track    mediadevices.Track
	selector *mediadevices.CodecSelector
	kind     TrackKind

	mu      sync.Mutex
	enabled bool
	ended   bool
}

func newDeviceTrack(mt mediadevices.Track, selector *mediadevices.CodecSelector) *deviceTrack {
	kind := KindAudio
	if mt.Kind() == webrtc.RTPCodecTypeVideo {
		kind = KindVideo
	}
	t := &deviceTrack{track: mt, selector: selector, kind: kind, enabled: true}
	mt.OnEnded(func(err error) {
		t.mu.Lock()
		t.ended = true
		t.mu.Unlock()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "OnEnded",
				"track":    mt.ID(),
				"kind":     kind,
			}).WithError(err).Warn("device track ended")
		}
	})
	return t
}

func (t *deviceTrack) ID() string      { return t.track.ID() }
func (t *deviceTrack) Kind() TrackKind { return t.kind }

func (t *deviceTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *deviceTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *deviceTrack) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

func (t *deviceTrack) Close() error { return t.track.Close() }

// TrackLocal exposes the underlying webrtc track for the connection layer.
func (t *deviceTrack) TrackLocal() webrtc.TrackLocal { return t.track }

// Composite derives a VP8 track whose frames pass through transform, fed by
// a broadcast reader on the same camera. The derived track encodes
// independently, so the raw track keeps working alongside it.
func (t *deviceTrack) Composite(transform FrameTransform) (Track, error) {
	vt, ok := t.track.(*mediadevices.VideoTrack)
	if !ok {
		return nil, ErrNoVideoTrack
	}
	src := &transformedSource{
		id:        uuid.NewString(),
		reader:    vt.NewReader(false),
		transform: transform,
	}
	derived := mediadevices.NewVideoTrack(src, t.selector)
	return newDeviceTrack(derived, t.selector), nil
}

// transformedSource is a mediadevices VideoSource that rewrites each frame
// of an upstream reader.
type transformedSource struct {
	id        string
	reader    video.Reader
	transform FrameTransform
}

func (s *transformedSource) ID() string { return s.id }

func (s *transformedSource) Read() (image.Image, func(), error) {
	img, release, err := s.reader.Read()
	if err != nil {
		return nil, nil, err
	}
	out := s.transform(img)
	if out != img && release != nil {
		release()
		release = nil
	}
	if release == nil {
		release = func() {}
	}
	return out, release, nil
}

func (s *transformedSource) Close() error { return nil }
