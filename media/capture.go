package media

import "context"

// CaptureRequest names the device kinds to acquire.
type CaptureRequest struct {
	Audio bool
	Video bool
}

// Capturer acquires local device tracks. Capture blocks while the platform
// prompts for permission or opens devices, and returns every track it managed
// to open or an error with none.
type Capturer interface {
	Capture(ctx context.Context, req CaptureRequest) ([]Track, error)
}
