package assay

import (
	"context"

	"github.com/assaylab/assay-go/pkg/protocol"
)

// TransportMode identifies which transport a session runs on.
type TransportMode string

const (
	// ModeRealtime is the peer-to-peer WebRTC path.
	ModeRealtime TransportMode = "realtime"
	// ModeRelay is the WebSocket frame-relay fallback.
	ModeRelay TransportMode = "relay"
)

// ConnectionState is the transport liveness reported to the consumer through
// OnConnectionStateChange.
type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
	StateClosed       ConnectionState = "closed"
)

// Task is an analysis step the remote service can be switched to.
type Task string

const (
	TaskRubbing Task = Task(protocol.TaskRubbing)
	TaskAcid    Task = Task(protocol.TaskAcid)
	TaskDone    Task = Task(protocol.TaskDone)
)

// Transport is one established session transport. The Controller depends
// only on this interface; the concrete variant is chosen once from the
// capability probe.
type Transport interface {
	// SetTask switches the active analysis task.
	SetTask(ctx context.Context, task Task) error
	// Reset clears the remote detection state.
	Reset(ctx context.Context) error
	// Close releases the transport's own resources. Idempotent.
	Close()
	// Mode reports the transport variant.
	Mode() TransportMode
	// SessionID is the server-issued session identifier.
	SessionID() string

	// halt stops capture loops and pumps without closing the underlying
	// connection; teardown closes connections after the camera is
	// released.
	halt()
}
