package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDecodeServerMessage_Frame(t *testing.T) {
	raw := []byte(`{
		"type": "frame",
		"frame": "aGVsbG8=",
		"status": {
			"current_task": "acid",
			"rubbing_detected": true,
			"acid_detected": false,
			"gold_purity": null
		}
	}`)

	decoded, err := DecodeServerMessage(raw)
	if err != nil {
		t.Fatalf("DecodeServerMessage error: %v", err)
	}
	msg, ok := decoded.(FrameMessage)
	if !ok {
		t.Fatalf("decoded %T, want FrameMessage", decoded)
	}
	if msg.Frame != "aGVsbG8=" {
		t.Fatalf("frame=%q", msg.Frame)
	}
	if !msg.Status.RubbingDetected || msg.Status.AcidDetected {
		t.Fatalf("status=%+v", msg.Status)
	}
	if msg.Status.CurrentTask != TaskAcid {
		t.Fatalf("current_task=%q, want %q", msg.Status.CurrentTask, TaskAcid)
	}
}

func TestDecodeServerMessage_Status(t *testing.T) {
	purity := "22K"
	raw, _ := json.Marshal(StatusMessage{
		Type: TypeStatus,
		EmbeddedStatus: EmbeddedStatus{
			CurrentTask:     TaskDone,
			RubbingDetected: true,
			AcidDetected:    true,
			GoldPurity:      &purity,
		},
	})

	decoded, err := DecodeServerMessage(raw)
	if err != nil {
		t.Fatalf("DecodeServerMessage error: %v", err)
	}
	msg, ok := decoded.(StatusMessage)
	if !ok {
		t.Fatalf("decoded %T, want StatusMessage", decoded)
	}
	if msg.GoldPurity == nil || *msg.GoldPurity != "22K" {
		t.Fatalf("gold_purity=%v", msg.GoldPurity)
	}
}

func TestDecodeServerMessage_Error(t *testing.T) {
	decoded, err := DecodeServerMessage([]byte(`{"type":"error","message":"inference overloaded"}`))
	if err != nil {
		t.Fatalf("DecodeServerMessage error: %v", err)
	}
	msg, ok := decoded.(ErrorMessage)
	if !ok {
		t.Fatalf("decoded %T, want ErrorMessage", decoded)
	}
	if msg.Message != "inference overloaded" {
		t.Fatalf("message=%q", msg.Message)
	}
}

func TestDecodeServerMessage_Malformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{{`},
		{"missing type", `{"frame":"x"}`},
		{"unknown type", `{"type":"telemetry"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeServerMessage([]byte(tc.raw))
			if err == nil {
				t.Fatalf("expected decode error for %q", tc.raw)
			}
			var decodeErr *DecodeError
			if !asDecodeError(err, &decodeErr) {
				t.Fatalf("error %T, want *DecodeError", err)
			}
		})
	}
}

func asDecodeError(err error, target **DecodeError) bool {
	de, ok := err.(*DecodeError)
	if ok {
		*target = de
	}
	return ok
}

func TestEmbeddedStatusSnapshot(t *testing.T) {
	s := EmbeddedStatus{CurrentTask: TaskRubbing, RubbingDetected: true}
	snap := s.Snapshot("abc123", "relay")
	if snap.SessionID != "abc123" || snap.Mode != "relay" {
		t.Fatalf("snapshot=%+v", snap)
	}
	if !snap.DetectionStatus.RubbingDetected || snap.DetectionStatus.AcidDetected {
		t.Fatalf("detection=%+v", snap.DetectionStatus)
	}
}

func TestValidTask(t *testing.T) {
	for _, task := range []string{TaskRubbing, TaskAcid, TaskDone} {
		if !ValidTask(task) {
			t.Errorf("ValidTask(%q)=false", task)
		}
	}
	if ValidTask("polish") {
		t.Errorf("ValidTask accepted unknown task")
	}
	if ValidTask("") {
		t.Errorf("ValidTask accepted empty task")
	}
}

func TestClientMessageWire(t *testing.T) {
	raw, err := json.Marshal(ClientMessage{Action: ActionSetTask, Task: TaskAcid})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "data") {
		t.Fatalf("set_task frame should omit data: %s", raw)
	}
	if !strings.Contains(string(raw), `"action":"set_task"`) {
		t.Fatalf("wire=%s", raw)
	}
}
