package media

import (
	"errors"
	"strings"
)

// Capture failure categories. Device errors surface from platform layers as
// free-form strings; Classify maps them onto these sentinels so callers can
// branch without string matching, and UserMessage renders them for display.
var (
	// ErrPermissionDenied indicates the user or OS refused device access.
	ErrPermissionDenied = errors.New("media device permission denied")

	// ErrDeviceNotFound indicates no capture device of the requested kind.
	ErrDeviceNotFound = errors.New("media device not found")

	// ErrDeviceBusy indicates the device is claimed by another application.
	ErrDeviceBusy = errors.New("media device in use by another application")

	// ErrUnsupported indicates device capture is not available on this
	// platform build.
	ErrUnsupported = errors.New("media capture not supported on this platform")

	// ErrAlreadyAcquired indicates Acquire was called on a live pipeline.
	ErrAlreadyAcquired = errors.New("media pipeline already acquired")

	// ErrNotAcquired indicates a track operation before Acquire.
	ErrNotAcquired = errors.New("media pipeline not acquired")

	// ErrNoVideoTrack indicates a video operation on an audio-only pipeline.
	ErrNoVideoTrack = errors.New("no video track in pipeline")
)

// Classify wraps a raw capture error with the matching sentinel, keyed on
// the vocabulary the platform capture stacks actually emit. Unrecognized
// errors pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceNotFound) ||
		errors.Is(err, ErrDeviceBusy) || errors.Is(err, ErrUnsupported) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "not allowed") ||
		strings.Contains(msg, "access denied"):
		return errors.Join(ErrPermissionDenied, err)
	case strings.Contains(msg, "not found") || strings.Contains(msg, "no such") ||
		strings.Contains(msg, "no device"):
		return errors.Join(ErrDeviceNotFound, err)
	case strings.Contains(msg, "busy") || strings.Contains(msg, "in use"):
		return errors.Join(ErrDeviceBusy, err)
	}
	return err
}

// UserMessage renders a capture error as a sentence fit for an end user.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return "Permission to use the camera or microphone was denied. Please allow access and try again."
	case errors.Is(err, ErrDeviceNotFound):
		return "No camera or microphone was found. Please connect a device and try again."
	case errors.Is(err, ErrDeviceBusy):
		return "The camera or microphone is in use by another application."
	case errors.Is(err, ErrUnsupported):
		return "Calling is not supported on this device."
	default:
		return "Could not access the camera or microphone."
	}
}
