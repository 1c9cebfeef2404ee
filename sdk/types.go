package assay

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/assaylab/assay-go/pkg/media"
	"github.com/assaylab/assay-go/pkg/protocol"
)

// Session is the live handle unifying local media, the chosen transport, and
// (in realtime mode) the remote stream for one analysis run. It is created
// by Controller.Connect and owned exclusively by the Controller.
type Session struct {
	id        string
	mode      TransportMode
	transport Transport
	capture   media.Source
	remote    *RemoteStream
}

// ID returns the server-issued session id.
func (s *Session) ID() string { return s.id }

// Mode returns the transport variant the session was negotiated on.
func (s *Session) Mode() TransportMode { return s.mode }

// Remote returns the accumulated remote stream, or nil in relay mode or
// before any remote track has arrived.
func (s *Session) Remote() *RemoteStream { return s.remote }

// RemoteStream accumulates remote tracks as they arrive. Tracks show up
// asynchronously after the answer is applied; the stream object exists from
// negotiation so the first-arrival callback always has a stable handle.
type RemoteStream struct {
	mu     sync.Mutex
	tracks []*webrtc.TrackRemote
}

func (r *RemoteStream) add(track *webrtc.TrackRemote) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracks = append(r.tracks, track)
	return len(r.tracks) == 1
}

// Tracks returns the remote tracks received so far.
func (r *RemoteStream) Tracks() []*webrtc.TrackRemote {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*webrtc.TrackRemote, len(r.tracks))
	copy(out, r.tracks)
	return out
}

// Callback types. Registration is single-slot: the last registered handler
// wins, and handlers are invoked synchronously from transport event delivery
// with no additional buffering.
type (
	RemoteStreamHandler    func(*RemoteStream)
	AnnotatedFrameHandler  func(frameBase64 string)
	StatusChangeHandler    func(protocol.SessionStatus)
	ConnectionStateHandler func(ConnectionState)
)

// MediaOpener acquires local capture. Swappable for tests.
type MediaOpener func(ctx context.Context, profile media.Profile, c media.Constraints) (media.Source, error)

// ConnectOptions tune a single Connect attempt.
type ConnectOptions struct {
	// DeviceID selects a specific capture device; empty picks the first
	// available one.
	DeviceID string
}
