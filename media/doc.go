// Package media manages local capture for calls: microphone and camera
// acquisition, mute and camera toggles, and virtual-background compositing.
//
// The Pipeline owns the local tracks for one call. It acquires devices once
// per call through a Capturer, hands the resulting tracks to the connection
// layer, and tears everything down on Stop. Toggling audio or video flips
// track state without re-acquiring devices, and switching the virtual
// background swaps the outgoing video track for a composited one built from
// the same camera source.
//
// Device capture is platform specific. On Linux a mediadevices-backed
// Capturer is available via NewDeviceCapturer; elsewhere NewDeviceCapturer
// reports ErrUnsupported and callers supply their own Capturer.
package media
