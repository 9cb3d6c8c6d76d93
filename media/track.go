package media

import "image"

// TrackKind distinguishes audio from video tracks.
type TrackKind string

const (
	// KindAudio is a microphone track.
	KindAudio TrackKind = "audio"
	// KindVideo is a camera track.
	KindVideo TrackKind = "video"
)

// Track is a local capture track. Implementations wrap a platform device
// track; tests use in-memory fakes.
//
// SetEnabled flips whether the track produces live content without touching
// the underlying device: a disabled audio track is muted, a disabled video
// track sends nothing. Ended reports whether the device stopped on its own,
// for example a camera being unplugged mid-call.
type Track interface {
	ID() string
	Kind() TrackKind
	SetEnabled(enabled bool)
	Enabled() bool
	Ended() bool
	Close() error
}

// FrameSource yields decoded video frames from a capture track. The release
// function returns the frame buffer to the producer and must be called once
// the frame has been consumed.
//
// Video tracks that can expose their frames implement this alongside Track,
// which is what makes background compositing possible.
type FrameSource interface {
	ReadFrame() (img image.Image, release func(), err error)
}

// ComposableTrack is a video track that can produce a derived track whose
// frames pass through a transform. The derived track shares the underlying
// camera device with the original.
type ComposableTrack interface {
	Track
	Composite(transform FrameTransform) (Track, error)
}
