package assay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/assaylab/assay-go/pkg/media"
	"github.com/assaylab/assay-go/pkg/protocol"
)

// testServer fakes the inference service: REST signaling, the relay socket,
// and a real answering peer connection for realtime offers.
type testServer struct {
	t   *testing.T
	srv *httptest.Server

	webrtcAvailable atomic.Bool
	rejectStream    atomic.Bool
	failTask        atomic.Bool

	sessionID string

	statusPolls atomic.Int32
	deletes     atomic.Int32
	resets      atomic.Int32

	// relay socket side
	clientMsgs chan protocol.ClientMessage
	conns      chan *websocket.Conn

	mu        sync.Mutex
	tasks     []string
	answerPCs []*webrtc.PeerConnection

	upgrader websocket.Upgrader
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{
		t:          t,
		sessionID:  "sess-test-1",
		clientMsgs: make(chan protocol.ClientMessage, 64),
		conns:      make(chan *websocket.Conn, 4),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, protocol.StatusResponse{
			WebRTC: protocol.WebRTCCapability{WebRTCAvailable: s.webrtcAvailable.Load()},
		})
	})
	mux.HandleFunc("POST /session/create", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, protocol.CreateSessionResponse{Success: true, SessionID: s.sessionID})
	})
	mux.HandleFunc("POST /offer", s.handleOffer)
	mux.HandleFunc("GET /session/{id}/stream", s.handleStream)
	mux.HandleFunc("GET /session/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.statusPolls.Add(1)
		writeJSON(w, protocol.SessionStatus{SessionID: r.PathValue("id")})
	})
	mux.HandleFunc("POST /session/{id}/task", func(w http.ResponseWriter, r *http.Request) {
		if s.failTask.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		var req protocol.TaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.tasks = append(s.tasks, req.Task)
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /session/{id}/reset", func(w http.ResponseWriter, r *http.Request) {
		if s.failTask.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		s.resets.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("DELETE /session/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.deletes.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})

	s.srv = httptest.NewServer(mux)
	t.Cleanup(func() {
		s.srv.Close()
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, pc := range s.answerPCs {
			pc.Close()
		}
	})
	return s
}

func (s *testServer) handleOffer(w http.ResponseWriter, r *http.Request) {
	var req protocol.OfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.mu.Lock()
	s.answerPCs = append(s.answerPCs, pc)
	s.mu.Unlock()

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: req.SDP}
	if err := pc.SetRemoteDescription(offer); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	select {
	case <-gathered:
	case <-time.After(2 * time.Second):
	}

	local := pc.LocalDescription()
	writeJSON(w, protocol.OfferResponse{
		Success:   true,
		SessionID: s.sessionID,
		Answer:    protocol.SessionDescription{SDP: local.SDP, Type: local.Type.String()},
	})
}

func (s *testServer) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.rejectStream.Load() {
		http.Error(w, "no stream for you", http.StatusForbidden)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	select {
	case s.conns <- conn:
	default:
	}
	for {
		var msg protocol.ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		select {
		case s.clientMsgs <- msg:
		default:
		}
	}
}

// waitClientMsg blocks until the relay socket receives a message matching
// the action, failing the test on timeout.
func (s *testServer) waitClientMsg(action string, timeout time.Duration) protocol.ClientMessage {
	s.t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-s.clientMsgs:
			if msg.Action == action {
				return msg
			}
		case <-deadline:
			s.t.Fatalf("timed out waiting for %q message", action)
			return protocol.ClientMessage{}
		}
	}
}

// waitConn returns the server side of the relay socket.
func (s *testServer) waitConn(timeout time.Duration) *websocket.Conn {
	s.t.Helper()
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(timeout):
		s.t.Fatal("timed out waiting for relay socket")
		return nil
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// fakeSource stands in for the camera. It counts releases so teardown paths
// can be asserted.
type fakeSource struct {
	frames  chan media.Frame
	samples chan media.Sample
	device  string

	closeOnce sync.Once
	released  atomic.Int32
	acquires  atomic.Int32
}

func newFakeFrameSource() *fakeSource {
	return &fakeSource{frames: make(chan media.Frame, 8), device: "/dev/video0"}
}

func newFakeSampleSource() *fakeSource {
	return &fakeSource{samples: make(chan media.Sample, 8), device: "/dev/video0"}
}

func (f *fakeSource) Frames() <-chan media.Frame   { return f.frames }
func (f *fakeSource) Samples() <-chan media.Sample { return f.samples }
func (f *fakeSource) Device() string               { return f.device }

func (f *fakeSource) Close() error {
	f.closeOnce.Do(func() {
		f.released.Add(1)
		if f.frames != nil {
			close(f.frames)
		}
		if f.samples != nil {
			close(f.samples)
		}
	})
	return nil
}

func (f *fakeSource) opener() MediaOpener {
	return func(ctx context.Context, profile media.Profile, c media.Constraints) (media.Source, error) {
		f.acquires.Add(1)
		return f, nil
	}
}

// newTestController wires a Controller against the test server with fast
// timeouts and the fake camera.
func newTestController(t *testing.T, s *testServer, src *fakeSource, opts ...ControllerOption) *Controller {
	t.Helper()
	client := NewClient(s.srv.URL, WithRetries(0))
	base := []ControllerOption{
		WithMediaOpener(src.opener()),
		WithCaptureInterval(5 * time.Millisecond),
		WithSocketOpenTimeout(2 * time.Second),
	}
	ctrl := NewController(client, append(base, opts...)...)
	t.Cleanup(ctrl.Disconnect)
	return ctrl
}
