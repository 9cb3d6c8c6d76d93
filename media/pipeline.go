package media

import (
	"context"
	"image"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Pipeline owns the local capture tracks for one call.
//
// A pipeline is acquired at most once. Toggles and background switches
// operate on the live tracks; Stop releases every device and is idempotent.
// All methods are safe for concurrent use.
type Pipeline struct {
	capturer Capturer

	mu       sync.Mutex
	acquired bool
	stopped  bool

	audio    Track
	rawVideo Track // camera track as captured
	outVideo Track // track actually sent: rawVideo or a composited wrapper

	background Background
	matte      MatteFunc
}

// NewPipeline creates a pipeline that will acquire devices from capturer.
func NewPipeline(capturer Capturer) *Pipeline {
	return &Pipeline{
		capturer:   capturer,
		background: BackgroundNone,
	}
}

// SetMatte installs a foreground matte used by background compositing.
// Optional; without it the compositor keeps a fixed center region sharp.
// Must be called before SetBackground takes effect on the next switch.
func (p *Pipeline) SetMatte(matte MatteFunc) {
	p.mu.Lock()
	p.matte = matte
	p.mu.Unlock()
}

// Acquire opens the microphone, and the camera when withVideo is set.
// It blocks while devices open and fails without acquiring anything if any
// requested device cannot be opened.
func (p *Pipeline) Acquire(ctx context.Context, withVideo bool) error {
	p.mu.Lock()
	if p.acquired {
		p.mu.Unlock()
		return ErrAlreadyAcquired
	}
	if p.stopped {
		p.mu.Unlock()
		return ErrNotAcquired
	}
	p.mu.Unlock()

	tracks, err := p.capturer.Capture(ctx, CaptureRequest{Audio: true, Video: withVideo})
	if err != nil {
		return Classify(err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		for _, tr := range tracks {
			tr.Close()
		}
		return ErrNotAcquired
	}
	for _, tr := range tracks {
		switch tr.Kind() {
		case KindAudio:
			p.audio = tr
		case KindVideo:
			p.rawVideo = tr
			p.outVideo = tr
		}
	}
	p.acquired = true

	logrus.WithFields(logrus.Fields{
		"function": "Acquire",
		"audio":    p.audio != nil,
		"video":    p.rawVideo != nil,
	}).Info("local media acquired")
	return nil
}

// Tracks returns the tracks to attach to peer connections: the microphone
// track and, for video calls, the current outgoing video track.
func (p *Pipeline) Tracks() []Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Track
	if p.audio != nil {
		out = append(out, p.audio)
	}
	if p.outVideo != nil {
		out = append(out, p.outVideo)
	}
	return out
}

// ToggleAudio flips the microphone mute and reports the new muted state.
func (p *Pipeline) ToggleAudio() (muted bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.acquired || p.audio == nil {
		return false, ErrNotAcquired
	}
	enabled := !p.audio.Enabled()
	p.audio.SetEnabled(enabled)
	return !enabled, nil
}

// ToggleVideo flips the camera and reports the new disabled state.
func (p *Pipeline) ToggleVideo() (disabled bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.acquired {
		return false, ErrNotAcquired
	}
	if p.outVideo == nil {
		return false, ErrNoVideoTrack
	}
	enabled := !p.outVideo.Enabled()
	p.outVideo.SetEnabled(enabled)
	if p.outVideo != p.rawVideo && p.rawVideo != nil {
		p.rawVideo.SetEnabled(enabled)
	}
	return !enabled, nil
}

// SetBackground switches the virtual background and returns the video track
// that should now be sent. BackgroundNone restores the raw camera track;
// other selections wrap the camera in a compositing track. img is the still
// used by BackgroundImage and ignored otherwise.
func (p *Pipeline) SetBackground(bg Background, img image.Image) (Track, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.acquired {
		return nil, ErrNotAcquired
	}
	if p.rawVideo == nil {
		return nil, ErrNoVideoTrack
	}
	if bg == p.background && bg != BackgroundImage {
		return p.outVideo, nil
	}

	prev := p.outVideo
	next := p.rawVideo
	if bg != BackgroundNone {
		transform := transformFor(bg, img, p.matte)
		composited, err := p.composite(transform)
		if err != nil {
			return nil, err
		}
		next = composited
	}

	next.SetEnabled(prev == nil || prev.Enabled())
	p.outVideo = next
	p.background = bg
	if prev != nil && prev != p.rawVideo {
		prev.Close()
	}

	logrus.WithFields(logrus.Fields{
		"function":   "SetBackground",
		"background": bg,
	}).Info("virtual background switched")
	return next, nil
}

func (p *Pipeline) composite(transform FrameTransform) (Track, error) {
	if ct, ok := p.rawVideo.(ComposableTrack); ok {
		return ct.Composite(transform)
	}
	if fs, ok := p.rawVideo.(FrameSource); ok {
		return newCompositedTrack(p.rawVideo, fs, transform), nil
	}
	return nil, ErrNoVideoTrack
}

// Background reports the current background selection.
func (p *Pipeline) Background() Background {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.background
}

// Live reports whether the pipeline holds at least one healthy track.
// A track ending on its own, a camera unplugged for instance, makes the
// pipeline not live.
func (p *Pipeline) Live() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.acquired || p.stopped {
		return false
	}
	for _, tr := range []Track{p.audio, p.rawVideo} {
		if tr != nil && tr.Ended() {
			return false
		}
	}
	return p.audio != nil || p.rawVideo != nil
}

// Stop releases all devices. Safe to call more than once.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	for _, tr := range []Track{p.outVideo, p.rawVideo, p.audio} {
		if tr == nil {
			continue
		}
		if err := tr.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Stop",
				"track":    tr.ID(),
			}).WithError(err).Warn("track close failed")
		}
	}
	p.audio, p.rawVideo, p.outVideo = nil, nil, nil
	p.acquired = false
}

// compositedTrack runs a FrameTransform over the frames of a base video
// track. It shares the base device, so Close releases only the wrapper.
type compositedTrack struct {
	id        string
	base      Track
	source    FrameSource
	transform FrameTransform

	mu      sync.Mutex
	enabled bool
	closed  bool
}

func newCompositedTrack(base Track, source FrameSource, transform FrameTransform) *compositedTrack {
	return &compositedTrack{
		id:        uuid.NewString(),
		base:      base,
		source:    source,
		transform: transform,
		enabled:   base.Enabled(),
	}
}

func (t *compositedTrack) ID() string      { return t.id }
func (t *compositedTrack) Kind() TrackKind { return KindVideo }

func (t *compositedTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *compositedTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *compositedTrack) Ended() bool { return t.base.Ended() }

func (t *compositedTrack) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

// ReadFrame pulls the next camera frame and applies the transform.
func (t *compositedTrack) ReadFrame() (image.Image, func(), error) {
	img, release, err := t.source.ReadFrame()
	if err != nil {
		return nil, nil, err
	}
	out := t.transform(img)
	if release != nil {
		release()
	}
	return out, func() {}, nil
}
