package core

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorString(t *testing.T) {
	err := NewMediaError("camera unavailable", "device-busy", nil)
	if !strings.Contains(err.Error(), "media_error") {
		t.Fatalf("error=%q, expected media_error type", err.Error())
	}
	if !strings.Contains(err.Error(), "device-busy") {
		t.Fatalf("error=%q, expected reason code", err.Error())
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewProbeError("status endpoint unreachable", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected Unwrap to expose the cause")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("error=%q, expected cause in message", err.Error())
	}
}

func TestFatalToConnect(t *testing.T) {
	cases := []struct {
		err   *Error
		fatal bool
	}{
		{NewProbeError("x", nil), true},
		{NewMediaError("x", "not-found", nil), true},
		{NewSignalingError("x", nil), true},
		{NewTransportRuntimeError("x", nil), false},
		{NewControlError("x", nil), false},
	}
	for _, tc := range cases {
		if got := tc.err.FatalToConnect(); got != tc.fatal {
			t.Errorf("%s: FatalToConnect=%v, want %v", tc.err.Type, got, tc.fatal)
		}
	}
}
