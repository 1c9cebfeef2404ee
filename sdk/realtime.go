package assay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/assaylab/assay-go/pkg/media"
	"github.com/assaylab/assay-go/pkg/protocol"
)

// realtimeTransport is the peer-to-peer path: H.264 over a local track, with
// status updates arriving on a reliable ordered data channel. Task control
// goes over REST; status polling is disallowed in this mode.
type realtimeTransport struct {
	controller *Controller
	client     *Client
	sessionID  string

	pc *webrtc.PeerConnection

	live      atomic.Bool
	haltOnce  sync.Once
	closeOnce sync.Once
}

// connectRealtime performs the single-round-trip offer/answer exchange over
// HTTP. Any step failure closes the peer connection and the capture and
// returns one error.
func (c *Controller) connectRealtime(ctx context.Context, constraints media.Constraints) (*Session, error) {
	capture, err := c.openMedia(ctx, media.ProfileH264, constraints)
	if err != nil {
		return nil, wrapMediaError(err)
	}

	settings := webrtc.SettingEngine{LoggerFactory: newPionLoggerFactory(c.logger)}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settings))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: c.iceServers})
	if err != nil {
		capture.Close()
		return nil, NewSignalingError("create peer connection", err)
	}
	fail := func(msg string, cause error) (*Session, error) {
		pc.Close()
		capture.Close()
		return nil, NewSignalingError(msg, cause)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264},
		"video", "assay-capture",
	)
	if err != nil {
		return fail("create local track", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		return fail("attach local track", err)
	}

	t := &realtimeTransport{
		controller: c,
		client:     c.client,
		pc:         pc,
	}
	t.live.Store(true)

	// The control channel must exist before the offer so its description
	// rides along; the server only answers, it never initiates.
	ordered := true
	dc, err := pc.CreateDataChannel("status", &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return fail("create control channel", err)
	}
	dc.OnMessage(t.onControlMessage)

	remote := &RemoteStream{}
	pc.OnTrack(func(trk *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.add(trk) {
			c.dispatchRemoteStream(remote)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if !t.live.Load() {
			return
		}
		switch state {
		case webrtc.PeerConnectionStateFailed:
			c.dispatchConnectionState(StateFailed)
		case webrtc.PeerConnectionStateDisconnected:
			c.dispatchConnectionState(StateDisconnected)
		case webrtc.PeerConnectionStateClosed:
			c.dispatchConnectionState(StateClosed)
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fail("create offer", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fail("set local description", err)
	}

	// Bounded gather: on timeout proceed with whatever candidates exist
	// rather than blocking the connect indefinitely.
	select {
	case <-webrtc.GatheringCompletePromise(pc):
	case <-time.After(c.gatherTimeout):
		c.logger.Debug("ice gathering timed out, proceeding with partial candidates")
	case <-ctx.Done():
		pc.Close()
		capture.Close()
		return nil, NewSignalingError("connect canceled during ice gathering", ctx.Err())
	}

	local := pc.LocalDescription()
	resp, err := c.client.PostOffer(ctx, protocol.OfferRequest{
		SDP:  local.SDP,
		Type: local.Type.String(),
	})
	if err != nil {
		pc.Close()
		capture.Close()
		return nil, err
	}
	t.sessionID = resp.SessionID

	answer := webrtc.SessionDescription{
		Type: webrtc.NewSDPType(resp.Answer.Type),
		SDP:  resp.Answer.SDP,
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fail("apply remote description", err)
	}

	c.dispatchStatus(protocol.SessionStatus{
		SessionID:   t.sessionID,
		CurrentTask: protocol.TaskRubbing,
		Mode:        string(ModeRealtime),
	})

	go t.pumpSamples(track, capture.Samples())

	return &Session{
		id:        t.sessionID,
		mode:      ModeRealtime,
		transport: t,
		capture:   capture,
		remote:    remote,
	}, nil
}

// pumpSamples moves encoded access units from the capture onto the local
// track until the capture channel closes or the transport halts.
func (t *realtimeTransport) pumpSamples(track *webrtc.TrackLocalStaticSample, samples <-chan media.Sample) {
	for sample := range samples {
		if !t.live.Load() {
			return
		}
		err := track.WriteSample(pionmedia.Sample{
			Data:     sample.Data,
			Duration: sample.Duration,
		})
		if err != nil {
			t.controller.logger.Debug("track write failed", "session_id", t.sessionID, "error", err)
		}
	}
}

// onControlMessage handles status snapshots from the data channel. Malformed
// payloads are logged and dropped.
func (t *realtimeTransport) onControlMessage(msg webrtc.DataChannelMessage) {
	decoded, err := protocol.DecodeServerMessage(msg.Data)
	if err != nil {
		t.controller.logger.Debug("dropping malformed control message", "session_id", t.sessionID, "error", err)
		return
	}
	switch m := decoded.(type) {
	case protocol.StatusMessage:
		t.controller.dispatchStatus(m.EmbeddedStatus.Snapshot(t.sessionID, string(ModeRealtime)))
	case protocol.ErrorMessage:
		t.controller.logger.Warn("control channel error", "session_id", t.sessionID, "message", m.Message)
	default:
		t.controller.logger.Debug("ignoring unexpected control message", "session_id", t.sessionID)
	}
}

// SetTask routes over REST in realtime mode; the control channel is
// server-to-client only.
func (t *realtimeTransport) SetTask(ctx context.Context, task Task) error {
	if !t.live.Load() {
		return errors.New("transport halted")
	}
	return t.client.PostTask(ctx, t.sessionID, string(task))
}

func (t *realtimeTransport) Reset(ctx context.Context) error {
	if !t.live.Load() {
		return errors.New("transport halted")
	}
	return t.client.PostReset(ctx, t.sessionID)
}

func (t *realtimeTransport) halt() {
	t.haltOnce.Do(func() {
		t.live.Store(false)
	})
}

func (t *realtimeTransport) Close() {
	t.halt()
	t.closeOnce.Do(func() {
		t.pc.Close()
	})
}

func (t *realtimeTransport) Mode() TransportMode { return ModeRealtime }

func (t *realtimeTransport) SessionID() string { return t.sessionID }
