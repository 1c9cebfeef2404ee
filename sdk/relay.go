package assay

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/assaylab/assay-go/pkg/media"
	"github.com/assaylab/assay-go/pkg/protocol"
)

// relayTransport streams JPEG frames over a WebSocket and receives annotated
// frames and status snapshots back.
type relayTransport struct {
	controller *Controller
	sessionID  string

	conn    *websocket.Conn
	writeMu sync.Mutex

	// live gates the capture loop; every tick checks it before doing work,
	// so halting reliably stops the loop without a separate cancellation
	// primitive.
	live atomic.Bool
	done chan struct{}

	haltOnce  sync.Once
	closeOnce sync.Once

	latest atomic.Pointer[media.Frame]
	sent   atomic.Uint64
}

// connectRelay negotiates the frame-relay fallback: create a session record,
// open the socket scoped to it, then start the capture loop.
func (c *Controller) connectRelay(ctx context.Context, constraints media.Constraints) (*Session, error) {
	capture, err := c.openMedia(ctx, media.ProfileJPEG, constraints)
	if err != nil {
		return nil, wrapMediaError(err)
	}

	sessionID, err := c.client.CreateSession(ctx)
	if err != nil {
		capture.Close()
		return nil, err
	}

	wsURL, err := c.client.websocketEndpoint(sessionID)
	if err != nil {
		capture.Close()
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.socketOpenTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, c.socketOpenTimeout)
	defer cancel()
	conn, _, err := dialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		capture.Close()
		return nil, NewSignalingError("relay socket open failed", err)
	}

	t := &relayTransport{
		controller: c,
		sessionID:  sessionID,
		conn:       conn,
		done:       make(chan struct{}),
	}
	t.live.Store(true)

	// Seed the observable status with the session defaults so Status() is
	// meaningful before the first server snapshot arrives.
	c.dispatchStatus(protocol.SessionStatus{
		SessionID:   sessionID,
		CurrentTask: protocol.TaskRubbing,
		Mode:        string(ModeRelay),
	})

	go t.trackLatest(capture.Frames())
	go t.captureLoop(c.captureInterval)
	go t.readLoop()

	return &Session{
		id:        sessionID,
		mode:      ModeRelay,
		transport: t,
		capture:   capture,
	}, nil
}

// trackLatest drains captured frames, keeping only the newest. The ticker
// sends at its own fixed cadence; the camera's rate does not drive the wire.
func (t *relayTransport) trackLatest(frames <-chan media.Frame) {
	for frame := range frames {
		f := frame
		t.latest.Store(&f)
	}
}

// captureLoop pushes the current frame at a fixed interval. A missing frame
// or a halted transport skips the tick; transient gaps are tolerated.
func (t *relayTransport) captureLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		if !t.live.Load() {
			return
		}
		frame := t.latest.Load()
		if frame == nil || frame.Seq == t.sent.Load() {
			continue
		}
		msg := protocol.ClientMessage{
			Action: protocol.ActionFrame,
			Data:   base64.StdEncoding.EncodeToString(frame.Data),
		}
		if err := t.writeJSON(msg); err != nil {
			t.controller.logger.Debug("frame send failed", "session_id", t.sessionID, "error", err)
			continue
		}
		t.sent.Store(frame.Seq)
	}
}

// readLoop decodes incoming tagged messages. Malformed messages are logged
// and dropped; server error messages are never fatal. An unexpected socket
// close after establishment surfaces only through the connection-state
// callback.
func (t *relayTransport) readLoop() {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if t.live.Load() {
				t.controller.logger.Warn("relay socket closed", "session_id", t.sessionID, "error", err)
				t.controller.dispatchConnectionState(StateFailed)
			}
			return
		}
		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			t.controller.logger.Debug("dropping malformed relay message", "session_id", t.sessionID, "error", err)
			continue
		}
		switch m := msg.(type) {
		case protocol.FrameMessage:
			t.controller.dispatchAnnotatedFrame(m.Frame)
			t.controller.dispatchStatus(m.Status.Snapshot(t.sessionID, string(ModeRelay)))
		case protocol.StatusMessage:
			t.controller.dispatchStatus(m.EmbeddedStatus.Snapshot(t.sessionID, string(ModeRelay)))
		case protocol.ErrorMessage:
			t.controller.logger.Warn("relay server error", "session_id", t.sessionID, "message", m.Message)
		}
	}
}

func (t *relayTransport) writeJSON(v any) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteJSON(v)
}

// SetTask sends the switch as a socket message; relay mode never uses REST
// for task control.
func (t *relayTransport) SetTask(ctx context.Context, task Task) error {
	if !t.live.Load() {
		return errors.New("transport halted")
	}
	return t.writeJSON(protocol.ClientMessage{Action: protocol.ActionSetTask, Task: string(task)})
}

func (t *relayTransport) Reset(ctx context.Context) error {
	if !t.live.Load() {
		return errors.New("transport halted")
	}
	return t.writeJSON(protocol.ClientMessage{Action: protocol.ActionReset})
}

func (t *relayTransport) halt() {
	t.haltOnce.Do(func() {
		t.live.Store(false)
		close(t.done)
	})
}

func (t *relayTransport) Close() {
	t.halt()
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		t.conn.Close()
	})
}

func (t *relayTransport) Mode() TransportMode { return ModeRelay }

func (t *relayTransport) SessionID() string { return t.sessionID }

// wrapMediaError maps an acquisition failure into the session error
// taxonomy, preserving the reason code.
func wrapMediaError(err error) error {
	var access *media.AccessError
	if errors.As(err, &access) {
		return NewMediaError("camera acquisition failed", string(access.Reason), err)
	}
	return NewMediaError("camera acquisition failed", string(media.ReasonUnknown), err)
}
