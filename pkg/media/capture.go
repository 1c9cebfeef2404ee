package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

var gstOnce sync.Once

func initGst() {
	gstOnce.Do(func() {
		gst.Init(nil)
	})
}

// channel depth before old frames are dropped; a slow consumer must never
// stall the appsink callback.
const captureQueueDepth = 4

var _ Source = (*Capture)(nil)

// Capture is a running GStreamer pipeline reading a V4L2 device. It
// implements Source.
type Capture struct {
	device  string
	profile Profile
	width   int
	height  int
	fps     int

	pipeline *gst.Pipeline

	frames  chan Frame
	samples chan Sample

	seq       uint64
	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
}

// Acquire opens the device named by the constraints (or the first available
// device) and starts capturing in the requested profile. Failures are
// returned as *AccessError with a classified reason.
func Acquire(ctx context.Context, profile Profile, c Constraints) (*Capture, error) {
	initGst()

	device := c.Device
	if device == "" {
		devices, err := ListDevices()
		if err != nil {
			return nil, &AccessError{Reason: ReasonUnknown, Err: err}
		}
		if len(devices) == 0 {
			return nil, &AccessError{Reason: ReasonNotFound, Err: errors.New("no video capture devices present")}
		}
		device = devices[0]
	}
	if err := checkDevice(device); err != nil {
		return nil, err
	}

	width, height, fps := c.Resolve()

	capture := &Capture{
		device:  device,
		profile: profile,
		width:   width,
		height:  height,
		fps:     fps,
	}
	switch profile {
	case ProfileJPEG:
		capture.frames = make(chan Frame, captureQueueDepth)
	case ProfileH264:
		capture.samples = make(chan Sample, captureQueueDepth)
	default:
		return nil, &AccessError{Reason: ReasonUnknown, Device: device, Err: fmt.Errorf("unsupported profile %v", profile)}
	}

	if err := capture.buildPipeline(); err != nil {
		return nil, err
	}
	if err := capture.start(ctx); err != nil {
		capture.Close()
		return nil, err
	}
	return capture, nil
}

func (c *Capture) buildPipeline() error {
	pipeline, err := gst.NewPipeline("capture")
	if err != nil {
		return &AccessError{Reason: ReasonUnknown, Device: c.device, Err: err}
	}

	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return &AccessError{Reason: ReasonUnknown, Device: c.device, Err: err}
	}
	if err := src.SetProperty("device", c.device); err != nil {
		return &AccessError{Reason: ReasonUnknown, Device: c.device, Err: err}
	}

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return &AccessError{Reason: ReasonUnknown, Device: c.device, Err: err}
	}
	scale, err := gst.NewElement("videoscale")
	if err != nil {
		return &AccessError{Reason: ReasonUnknown, Device: c.device, Err: err}
	}
	rate, err := gst.NewElement("videorate")
	if err != nil {
		return &AccessError{Reason: ReasonUnknown, Device: c.device, Err: err}
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return &AccessError{Reason: ReasonUnknown, Device: c.device, Err: err}
	}
	if err := capsfilter.SetProperty("caps", gst.NewCapsFromString(rawCaps(c.width, c.height, c.fps))); err != nil {
		return &AccessError{Reason: ReasonUnknown, Device: c.device, Err: err}
	}

	sink, err := app.NewAppSink()
	if err != nil {
		return &AccessError{Reason: ReasonUnknown, Device: c.device, Err: err}
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", uint(captureQueueDepth))
	sink.SetProperty("drop", true)

	elements := []*gst.Element{src, convert, scale, rate, capsfilter}

	switch c.profile {
	case ProfileJPEG:
		enc, err := gst.NewElement("jpegenc")
		if err != nil {
			return &AccessError{Reason: ReasonUnknown, Device: c.device, Err: err}
		}
		elements = append(elements, enc)
		sink.SetCallbacks(&app.SinkCallbacks{NewSampleFunc: c.onJPEGSample})
	case ProfileH264:
		enc, err := gst.NewElement("x264enc")
		if err != nil {
			return &AccessError{Reason: ReasonUnknown, Device: c.device, Err: err}
		}
		enc.SetProperty("tune", "zerolatency")
		enc.SetProperty("speed-preset", "ultrafast")
		enc.SetProperty("key-int-max", uint(c.fps*2))
		parse, err := gst.NewElement("capsfilter")
		if err != nil {
			return &AccessError{Reason: ReasonUnknown, Device: c.device, Err: err}
		}
		if err := parse.SetProperty("caps", gst.NewCapsFromString(h264Caps())); err != nil {
			return &AccessError{Reason: ReasonUnknown, Device: c.device, Err: err}
		}
		elements = append(elements, enc, parse)
		sink.SetCallbacks(&app.SinkCallbacks{NewSampleFunc: c.onH264Sample})
	}

	elements = append(elements, sink.Element)
	if err := pipeline.AddMany(elements...); err != nil {
		return &AccessError{Reason: ReasonUnknown, Device: c.device, Err: err}
	}
	if err := gst.ElementLinkMany(elements...); err != nil {
		return &AccessError{Reason: ReasonUnknown, Device: c.device, Err: err}
	}

	c.pipeline = pipeline
	return nil
}

// start moves the pipeline to PLAYING and waits for the transition or an
// error from the bus, bounded by the context.
func (c *Capture) start(ctx context.Context) error {
	if err := c.pipeline.SetState(gst.StatePlaying); err != nil {
		return &AccessError{Reason: ReasonUnknown, Device: c.device, Err: err}
	}

	bus := c.pipeline.GetPipelineBus()
	deadline := time.Now().Add(5 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	for {
		if time.Now().After(deadline) {
			return &AccessError{Reason: ReasonUnknown, Device: c.device, Err: errors.New("timed out waiting for pipeline to start")}
		}
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			return &AccessError{Reason: classifyGstError(gerr.Error()), Device: c.device, Err: gerr}
		case gst.MessageEOS:
			return &AccessError{Reason: ReasonUnknown, Device: c.device, Err: errors.New("unexpected end of stream during startup")}
		case gst.MessageStateChanged:
			if msg.Source() != c.pipeline.GetName() {
				continue
			}
			_, newState := msg.ParseStateChanged()
			if newState == gst.StatePlaying {
				return nil
			}
		}
	}
}

func (c *Capture) onJPEGSample(sink *app.Sink) gst.FlowReturn {
	if c.closed.Load() {
		return gst.FlowEOS
	}
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowEOS
	}

	buf := sample.GetBuffer()
	if buf == nil {
		return gst.FlowOK
	}
	mapInfo := buf.Map(gst.MapRead)
	raw := mapInfo.Bytes()
	if len(raw) == 0 {
		buf.Unmap()
		return gst.FlowOK
	}
	data := make([]byte, len(raw))
	copy(data, raw)
	buf.Unmap()

	frame := Frame{
		Seq:       atomic.AddUint64(&c.seq, 1),
		Timestamp: time.Now(),
		Width:     c.width,
		Height:    c.height,
		Data:      data,
		TraceID:   uuid.NewString(),
	}
	select {
	case c.frames <- frame:
	default:
		// consumer is behind; drop rather than block the streaming thread
	}
	return gst.FlowOK
}

func (c *Capture) onH264Sample(sink *app.Sink) gst.FlowReturn {
	if c.closed.Load() {
		return gst.FlowEOS
	}
	gsample := sink.PullSample()
	if gsample == nil {
		return gst.FlowEOS
	}

	buf := gsample.GetBuffer()
	if buf == nil {
		return gst.FlowOK
	}
	mapInfo := buf.Map(gst.MapRead)
	raw := mapInfo.Bytes()
	if len(raw) == 0 {
		buf.Unmap()
		return gst.FlowOK
	}
	data := make([]byte, len(raw))
	copy(data, raw)
	buf.Unmap()

	sample := Sample{
		Data:      data,
		Duration:  time.Second / time.Duration(c.fps),
		Timestamp: time.Now(),
	}
	select {
	case c.samples <- sample:
	default:
	}
	return gst.FlowOK
}

// Frames delivers JPEG frames when acquired with ProfileJPEG, nil otherwise.
func (c *Capture) Frames() <-chan Frame { return c.frames }

// Samples delivers H.264 samples when acquired with ProfileH264, nil
// otherwise.
func (c *Capture) Samples() <-chan Sample { return c.samples }

// Device returns the V4L2 device path in use.
func (c *Capture) Device() string { return c.device }

// Close stops the pipeline and releases the device. Safe to call from
// multiple goroutines; only the first call does the work.
func (c *Capture) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.pipeline != nil {
			c.closeErr = c.pipeline.SetState(gst.StateNull)
		}
		if c.frames != nil {
			close(c.frames)
		}
		if c.samples != nil {
			close(c.samples)
		}
	})
	return c.closeErr
}

// checkDevice classifies obvious failures before building a pipeline; the
// bus error that v4l2src produces for a missing node is less specific than
// the stat result.
func checkDevice(device string) error {
	if _, err := os.Stat(device); err != nil {
		reason := ReasonUnknown
		switch {
		case errors.Is(err, fs.ErrNotExist):
			reason = ReasonNotFound
		case errors.Is(err, fs.ErrPermission):
			reason = ReasonPermissionDenied
		}
		return &AccessError{Reason: reason, Device: device, Err: err}
	}
	return nil
}

// classifyGstError maps a pipeline bus error message to a Reason.
func classifyGstError(msg string) Reason {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "not authorized"):
		return ReasonPermissionDenied
	case strings.Contains(lower, "busy"), strings.Contains(lower, "in use"):
		return ReasonDeviceBusy
	case strings.Contains(lower, "no such file"), strings.Contains(lower, "no such device"), strings.Contains(lower, "cannot identify device"):
		return ReasonNotFound
	default:
		return ReasonUnknown
	}
}

func rawCaps(width, height, fps int) string {
	return fmt.Sprintf("video/x-raw,width=%d,height=%d,framerate=%d/1", width, height, fps)
}

func h264Caps() string {
	return "video/x-h264,stream-format=byte-stream,alignment=au,profile=constrained-baseline"
}
