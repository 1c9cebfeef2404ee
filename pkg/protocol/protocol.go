// Package protocol defines the wire shapes exchanged with the assay
// inference service: REST signaling payloads, relay socket frames, and the
// realtime control-channel status updates.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Task names the physical test step the inference service is watching for.
const (
	TaskRubbing = "rubbing"
	TaskAcid    = "acid"
	TaskDone    = "done"
)

// Client → server socket actions.
const (
	ActionFrame   = "frame"
	ActionSetTask = "set_task"
	ActionReset   = "reset"
)

// Server → client message types (socket and control channel).
const (
	TypeFrame  = "frame"
	TypeStatus = "status"
	TypeError  = "error"
)

// ValidTask reports whether s is a recognized task name.
func ValidTask(s string) bool {
	switch s {
	case TaskRubbing, TaskAcid, TaskDone:
		return true
	}
	return false
}

// DecodeError reports a malformed incoming message. Callers log and drop;
// a bad frame never tears a session down.
type DecodeError struct {
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Message: message, Param: param}
}

// --- REST payloads ---

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	WebRTC WebRTCCapability `json:"webrtc"`
}

// WebRTCCapability reports whether the service can terminate a peer
// connection.
type WebRTCCapability struct {
	WebRTCAvailable bool `json:"webrtc_available"`
}

// CreateSessionResponse is the body of POST /session/create.
type CreateSessionResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	Error     string `json:"error,omitempty"`
}

// SessionDescription carries an SDP blob plus its type.
type SessionDescription struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// OfferRequest is the body of POST /offer.
type OfferRequest struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// OfferResponse is the body returned by POST /offer. SessionID is issued by
// the server; the client never generates one in realtime mode.
type OfferResponse struct {
	Success   bool               `json:"success"`
	SessionID string             `json:"session_id"`
	Answer    SessionDescription `json:"answer"`
	Error     string             `json:"error,omitempty"`
}

// TaskRequest is the body of POST /session/{id}/task.
type TaskRequest struct {
	Task string `json:"task"`
}

// DetectionStatus reports which physical test steps the inference service
// has recognized so far. GoldPurity is null until a reading exists.
type DetectionStatus struct {
	RubbingDetected bool    `json:"rubbing_detected"`
	AcidDetected    bool    `json:"acid_detected"`
	GoldPurity      *string `json:"gold_purity"`
}

// SessionStatus is the continuously produced session snapshot. Last value
// wins; there is no cross-message ordering guarantee beyond per-transport
// arrival order.
type SessionStatus struct {
	SessionID       string          `json:"session_id"`
	CreatedAt       string          `json:"created_at,omitempty"`
	CurrentTask     string          `json:"current_task"`
	DetectionStatus DetectionStatus `json:"detection_status"`
	Mode            string          `json:"mode,omitempty"`
	ConnectionState string          `json:"connection_state,omitempty"`
}

// --- Relay socket frames ---

// ClientMessage is the tagged union sent over the relay socket.
// Exactly one of the optional fields is set depending on Action.
type ClientMessage struct {
	Action string `json:"action"`
	Data   string `json:"data,omitempty"`
	Task   string `json:"task,omitempty"`
}

// FrameMessage carries an annotated JPEG plus an embedded status snapshot.
type FrameMessage struct {
	Type   string         `json:"type"`
	Frame  string         `json:"frame"`
	Status EmbeddedStatus `json:"status"`
}

// EmbeddedStatus is the status snapshot piggybacked on relay frames and sent
// standalone over the realtime control channel.
type EmbeddedStatus struct {
	CurrentTask     string  `json:"current_task"`
	RubbingDetected bool    `json:"rubbing_detected"`
	AcidDetected    bool    `json:"acid_detected"`
	GoldPurity      *string `json:"gold_purity"`
}

// ErrorMessage is a non-fatal server-side report.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// StatusMessage is the control-channel status update in realtime mode. The
// relay path never uses it standalone; status rides on FrameMessage there.
type StatusMessage struct {
	Type string `json:"type"`
	EmbeddedStatus
}

// DecodeServerMessage decodes one incoming text frame into its concrete
// message type, dispatching on the `type` envelope field.
func DecodeServerMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badFrame("decode message envelope: "+err.Error(), "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badFrame("message missing type", "type")
	}

	switch typ {
	case TypeFrame:
		var msg FrameMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("decode frame message: "+err.Error(), "frame")
		}
		return msg, nil
	case TypeStatus:
		var msg StatusMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("decode status message: "+err.Error(), "status")
		}
		return msg, nil
	case TypeError:
		var msg ErrorMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("decode error message: "+err.Error(), "error")
		}
		return msg, nil
	default:
		return nil, badFrame(fmt.Sprintf("unknown message type %q", typ), "type")
	}
}

// Snapshot converts an embedded status into a full SessionStatus for the
// given session and transport mode.
func (s EmbeddedStatus) Snapshot(sessionID, mode string) SessionStatus {
	return SessionStatus{
		SessionID:   sessionID,
		CurrentTask: s.CurrentTask,
		DetectionStatus: DetectionStatus{
			RubbingDetected: s.RubbingDetected,
			AcidDetected:    s.AcidDetected,
			GoldPurity:      s.GoldPurity,
		},
		Mode: mode,
	}
}
