// Package media acquires local camera video through GStreamer and hands it
// to the transports as either JPEG frames (relay) or H.264 samples
// (realtime).
package media

import (
	"fmt"
	"time"
)

// Reason codes an access failure so the consumer can show actionable text.
type Reason string

const (
	ReasonPermissionDenied Reason = "permission-denied"
	ReasonNotFound         Reason = "not-found"
	ReasonDeviceBusy       Reason = "device-busy"
	ReasonUnknown          Reason = "unknown"
)

// AccessError reports a camera acquisition failure.
type AccessError struct {
	Reason Reason
	Device string
	Err    error
}

func (e *AccessError) Error() string {
	if e.Device != "" {
		return fmt.Sprintf("media access failed (%s) on %s: %v", e.Reason, e.Device, e.Err)
	}
	return fmt.Sprintf("media access failed (%s): %v", e.Reason, e.Err)
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

// Profile selects the capture output shape.
type Profile int

const (
	// ProfileJPEG emits JPEG-encoded frames, one per tick of the relay
	// capture loop.
	ProfileJPEG Profile = iota
	// ProfileH264 emits H.264 byte-stream samples for a realtime local
	// track.
	ProfileH264
)

func (p Profile) String() string {
	switch p {
	case ProfileJPEG:
		return "jpeg"
	case ProfileH264:
		return "h264"
	default:
		return "unknown"
	}
}

// ValueRange bounds a constraint. Ideal wins when set; otherwise Max, then
// Min. Zero means unconstrained.
type ValueRange struct {
	Min   int
	Ideal int
	Max   int
}

// Constraints describe the requested capture shape.
type Constraints struct {
	// Device is the V4L2 device path (for example /dev/video0). Empty
	// selects the first available device.
	Device    string
	Width     ValueRange
	Height    ValueRange
	FrameRate ValueRange
}

// Defaults used when a constraint leaves a dimension unbounded.
const (
	defaultWidth     = 1280
	defaultHeight    = 720
	defaultFrameRate = 15
)

func (r ValueRange) resolve(fallback int) int {
	switch {
	case r.Ideal > 0:
		return r.Ideal
	case r.Max > 0:
		return r.Max
	case r.Min > 0:
		return r.Min
	default:
		return fallback
	}
}

// Resolve picks concrete width, height, and frame rate from the ranges.
func (c Constraints) Resolve() (width, height, fps int) {
	return c.Width.resolve(defaultWidth),
		c.Height.resolve(defaultHeight),
		c.FrameRate.resolve(defaultFrameRate)
}

// Frame is one captured, encoded video frame.
type Frame struct {
	// Seq is the monotonic sequence number.
	Seq uint64
	// Timestamp is when the frame left the encoder.
	Timestamp time.Time
	// Width and Height are the capture dimensions in pixels.
	Width  int
	Height int
	// Data is the JPEG-encoded frame.
	Data []byte
	// TraceID identifies the frame for debugging across components.
	TraceID string
}

// Sample is one H.264 byte-stream access unit for a realtime track.
type Sample struct {
	Data      []byte
	Duration  time.Duration
	Timestamp time.Time
}

// Source is a live local capture. Exactly one of Frames/Samples delivers
// data depending on the profile it was acquired with; the other channel is
// nil. Close must be idempotent and must release the device on every path.
type Source interface {
	Frames() <-chan Frame
	Samples() <-chan Sample
	Device() string
	Close() error
}
