package assay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestProbeMode(t *testing.T) {
	tests := []struct {
		name string
		body string
		want TransportMode
	}{
		{"available", `{"webrtc":{"webrtc_available":true}}`, ModeRealtime},
		{"unavailable", `{"webrtc":{"webrtc_available":false}}`, ModeRelay},
		{"missing flag", `{"webrtc":{}}`, ModeRelay},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/status" {
					http.NotFound(w, r)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewClient(srv.URL, WithRetries(0))
			mode, err := client.probeMode(context.Background())
			if err != nil {
				t.Fatalf("probeMode: %v", err)
			}
			if mode != tt.want {
				t.Errorf("mode = %v, want %v", mode, tt.want)
			}
		})
	}
}

func TestProbeUnreachable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", WithRetries(0))
	_, err := client.probeMode(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var coreErr *Error
	if !errors.As(err, &coreErr) || coreErr.Type != ErrProbe {
		t.Errorf("error = %v, want probe error", err)
	}
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Errorf("probe error should wrap the transport failure, got %v", err)
	}
}

func TestCreateSessionRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":false,"error":"at capacity"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithRetries(0))
	_, err := client.CreateSession(context.Background())
	var coreErr *Error
	if !errors.As(err, &coreErr) || coreErr.Type != ErrSignaling {
		t.Errorf("error = %v, want signaling error", err)
	}
}

func TestWebsocketEndpoint(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://example.com", "ws://example.com/session/s1/stream"},
		{"https://example.com/api", "wss://example.com/api/session/s1/stream"},
		{"http://example.com/", "ws://example.com/session/s1/stream"},
	}
	for _, tt := range tests {
		client := NewClient(tt.base)
		got, err := client.websocketEndpoint("s1")
		if err != nil {
			t.Fatalf("websocketEndpoint(%q): %v", tt.base, err)
		}
		if got != tt.want {
			t.Errorf("websocketEndpoint(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestSessionStatusFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session/s1" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"session_id":"s1","current_task":"acid","detection_status":{"rubbing_detected":true,"acid_detected":false,"gold_purity":null}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithRetries(0))
	status, err := client.SessionStatus(context.Background(), "s1")
	if err != nil {
		t.Fatalf("SessionStatus: %v", err)
	}
	if status.CurrentTask != "acid" || !status.DetectionStatus.RubbingDetected {
		t.Errorf("status = %+v", status)
	}
	if status.DetectionStatus.GoldPurity != nil {
		t.Errorf("gold purity should be nil, got %v", *status.DetectionStatus.GoldPurity)
	}
}

func TestAPIKeyHeader(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"webrtc":{"webrtc_available":false}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithAPIKey("sk-assay-123"), WithRetries(0))
	if _, err := client.Probe(context.Background()); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if auth != "Bearer sk-assay-123" {
		t.Errorf("Authorization = %q", auth)
	}
}
