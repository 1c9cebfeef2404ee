package assay

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"go.opentelemetry.io/otel/trace"

	"github.com/assaylab/assay-go/pkg/media"
	"github.com/assaylab/assay-go/pkg/protocol"
)

const (
	defaultGatherTimeout     = 3000 * time.Millisecond
	defaultSocketOpenTimeout = 5000 * time.Millisecond
	defaultCaptureInterval   = 66 * time.Millisecond
	teardownTimeout          = 2 * time.Second
)

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithMediaOpener replaces the camera acquisition function.
func WithMediaOpener(open MediaOpener) ControllerOption {
	return func(c *Controller) { c.openMedia = open }
}

// WithConstraints sets the base capture constraints used on Connect.
func WithConstraints(constraints media.Constraints) ControllerOption {
	return func(c *Controller) { c.constraints = constraints }
}

// WithICEServers sets the ICE servers for realtime negotiation.
func WithICEServers(servers []webrtc.ICEServer) ControllerOption {
	return func(c *Controller) { c.iceServers = servers }
}

// WithGatherTimeout bounds the ICE candidate gathering wait.
func WithGatherTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) { c.gatherTimeout = d }
}

// WithSocketOpenTimeout bounds the relay socket open wait.
func WithSocketOpenTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) { c.socketOpenTimeout = d }
}

// WithCaptureInterval sets the relay frame-send period.
func WithCaptureInterval(d time.Duration) ControllerOption {
	return func(c *Controller) { c.captureInterval = d }
}

// Controller owns at most one live Session and unifies the two transports
// behind a single handle. It is caller-owned; create one per consuming view
// and Disconnect it when the view goes away.
type Controller struct {
	client *Client
	logger *slog.Logger

	openMedia         MediaOpener
	constraints       media.Constraints
	iceServers        []webrtc.ICEServer
	gatherTimeout     time.Duration
	socketOpenTimeout time.Duration
	captureInterval   time.Duration

	// connectMu serializes Connect attempts; generation detects a newer
	// attempt superseding a stale resolution.
	connectMu  sync.Mutex
	generation atomic.Uint64
	session    atomic.Pointer[Session]

	cbMu             sync.Mutex
	onRemoteStream   RemoteStreamHandler
	onAnnotatedFrame AnnotatedFrameHandler
	onStatusChange   StatusChangeHandler
	onConnState      ConnectionStateHandler

	statusMu   sync.Mutex
	lastStatus protocol.SessionStatus
}

// NewController creates a Controller on top of an existing Client.
func NewController(client *Client, opts ...ControllerOption) *Controller {
	c := &Controller{
		client:            client,
		logger:            client.logger,
		gatherTimeout:     defaultGatherTimeout,
		socketOpenTimeout: defaultSocketOpenTimeout,
		captureInterval:   defaultCaptureInterval,
	}
	c.openMedia = func(ctx context.Context, profile media.Profile, mc media.Constraints) (media.Source, error) {
		return media.Acquire(ctx, profile, mc)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect probes the service's capability, negotiates the matching transport,
// and commits the resulting Session. Any step failure releases whatever was
// created and returns one error; the Controller stays disconnected. If a
// session is already active it is torn down first.
func (c *Controller) Connect(ctx context.Context, opts ConnectOptions) (*Session, error) {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.client.tracer != nil {
		var span trace.Span
		ctx, span = c.client.tracer.Start(ctx, "assay.Connect")
		defer span.End()
	}

	if c.session.Load() != nil {
		c.Disconnect()
	}
	gen := c.generation.Add(1)

	c.dispatchConnectionState(StateConnecting)

	mode, err := c.client.probeMode(ctx)
	if err != nil {
		c.dispatchConnectionState(StateDisconnected)
		return nil, err
	}

	constraints := c.constraints
	if opts.DeviceID != "" {
		constraints.Device = opts.DeviceID
	}

	var sess *Session
	switch mode {
	case ModeRealtime:
		sess, err = c.connectRealtime(ctx, constraints)
	default:
		sess, err = c.connectRelay(ctx, constraints)
	}
	if err != nil {
		c.dispatchConnectionState(StateDisconnected)
		return nil, err
	}

	// A Disconnect between probe and here bumps the generation; a stale
	// resolution must not clobber the newer state.
	if c.generation.Load() != gen {
		c.teardown(sess)
		return nil, NewSignalingError("connect superseded", nil)
	}
	c.session.Store(sess)
	c.dispatchConnectionState(StateConnected)
	c.logger.Info("session connected", "session_id", sess.id, "mode", sess.mode)
	return sess, nil
}

// SetTask switches the active analysis task, routed over the data channel's
// REST companion in realtime mode or as a socket message in relay mode.
// Never returns an error; failures come back as false.
func (c *Controller) SetTask(ctx context.Context, task Task) bool {
	sess := c.session.Load()
	if sess == nil {
		return false
	}
	if !protocol.ValidTask(string(task)) {
		c.logger.Warn("rejecting unknown task", "task", string(task))
		return false
	}
	if err := sess.transport.SetTask(ctx, task); err != nil {
		c.logger.Warn("set task failed", "task", string(task), "error", err)
		return false
	}
	return true
}

// Reset clears the remote detection state. Same routing and failure
// semantics as SetTask.
func (c *Controller) Reset(ctx context.Context) bool {
	sess := c.session.Load()
	if sess == nil {
		return false
	}
	if err := sess.transport.Reset(ctx); err != nil {
		c.logger.Warn("reset failed", "error", err)
		return false
	}
	return true
}

// Status returns the last status snapshot observed from the transport. No
// network call is made.
func (c *Controller) Status() protocol.SessionStatus {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.lastStatus
}

// Session returns the active session, or nil.
func (c *Controller) Session() *Session {
	return c.session.Load()
}

// Disconnect tears the active session down. Idempotent and safe under
// concurrent calls: the session reference is cleared atomically before any
// release work, so resources are freed exactly once. Teardown errors are
// swallowed; the remote session may already be gone.
func (c *Controller) Disconnect() {
	c.generation.Add(1)
	sess := c.session.Swap(nil)
	if sess == nil {
		return
	}
	c.teardown(sess)
	c.dispatchConnectionState(StateDisconnected)
	c.logger.Info("session disconnected", "session_id", sess.id)
}

// teardown releases a session's resources in a fixed order: stop loops and
// timers, best-effort remote delete, release the camera, then close the
// socket or peer connection.
func (c *Controller) teardown(sess *Session) {
	sess.transport.halt()

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := c.client.DeleteSession(ctx, sess.id); err != nil {
		c.logger.Debug("remote session delete failed", "session_id", sess.id, "error", err)
	}

	if sess.capture != nil {
		if err := sess.capture.Close(); err != nil {
			c.logger.Debug("capture close failed", "error", err)
		}
	}
	sess.transport.Close()
}

// OnRemoteStream registers the remote-stream handler. Single slot; the last
// registration wins.
func (c *Controller) OnRemoteStream(h RemoteStreamHandler) {
	c.cbMu.Lock()
	c.onRemoteStream = h
	c.cbMu.Unlock()
}

// OnAnnotatedFrame registers the annotated-frame handler (relay mode only).
func (c *Controller) OnAnnotatedFrame(h AnnotatedFrameHandler) {
	c.cbMu.Lock()
	c.onAnnotatedFrame = h
	c.cbMu.Unlock()
}

// OnStatusChange registers the status handler.
func (c *Controller) OnStatusChange(h StatusChangeHandler) {
	c.cbMu.Lock()
	c.onStatusChange = h
	c.cbMu.Unlock()
}

// OnConnectionStateChange registers the connection-state handler. Mid-session
// transport failures surface only here; there is no auto-reconnect.
func (c *Controller) OnConnectionStateChange(h ConnectionStateHandler) {
	c.cbMu.Lock()
	c.onConnState = h
	c.cbMu.Unlock()
}

func (c *Controller) dispatchRemoteStream(stream *RemoteStream) {
	c.cbMu.Lock()
	h := c.onRemoteStream
	c.cbMu.Unlock()
	if h != nil {
		h(stream)
	}
}

func (c *Controller) dispatchAnnotatedFrame(frame string) {
	c.cbMu.Lock()
	h := c.onAnnotatedFrame
	c.cbMu.Unlock()
	if h != nil {
		h(frame)
	}
}

func (c *Controller) dispatchStatus(status protocol.SessionStatus) {
	c.statusMu.Lock()
	c.lastStatus = status
	c.statusMu.Unlock()

	c.cbMu.Lock()
	h := c.onStatusChange
	c.cbMu.Unlock()
	if h != nil {
		h(status)
	}
}

func (c *Controller) dispatchConnectionState(state ConnectionState) {
	c.cbMu.Lock()
	h := c.onConnState
	c.cbMu.Unlock()
	if h != nil {
		h(state)
	}
}
