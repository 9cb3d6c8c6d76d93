//go:build !linux || !cgo

package media

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// DeviceCapturer is a placeholder on platforms without mediadevices driver
// support. Every capture attempt reports ErrUnsupported; callers provide
// their own Capturer on these platforms.
type DeviceCapturer struct{}

// NewDeviceCapturer reports ErrUnsupported outside Linux.
func NewDeviceCapturer() (*DeviceCapturer, error) {
	return nil, ErrUnsupported
}

// PopulateMediaEngine is a no-op on unsupported platforms.
func (c *DeviceCapturer) PopulateMediaEngine(_ *webrtc.MediaEngine) error { return nil }

// Capture always fails with ErrUnsupported.
func (c *DeviceCapturer) Capture(_ context.Context, _ CaptureRequest) ([]Track, error) {
	return nil, ErrUnsupported
}
