// Package assay provides the Go client SDK for live gold-assay video
// sessions.
//
// A Controller owns at most one live Session against the remote inference
// service, reached over either a WebRTC peer connection (realtime) or a
// WebSocket frame relay (fallback). The Client underneath handles the REST
// signaling surface.
package assay

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Client talks to the inference service's REST signaling surface.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer

	maxRetries   int
	retryBackoff time.Duration
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		logger:       slog.Default(),
		maxRetries:   2,
		retryBackoff: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = newDefaultHTTPClient()
	}
	return c
}

// BaseURL returns the configured service base URL, without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}
