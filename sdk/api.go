package assay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/assaylab/assay-go/pkg/protocol"
)

// doJSON performs one JSON request/response exchange against the signaling
// surface, retrying transport failures and 5xx responses with backoff. A nil
// out skips response decoding.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	endpoint := c.baseURL + path

	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
	}

	backoff := c.retryBackoff
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return &TransportError{Op: method, URL: endpoint, Err: ctx.Err()}
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return &TransportError{Op: method, URL: endpoint, Err: err}
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = &TransportError{Op: method, URL: endpoint, Err: err}
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = &TransportError{Op: method, URL: endpoint, Err: readErr}
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = NewSignalingError(fmt.Sprintf("%s %s: server returned %d", method, path, resp.StatusCode), nil)
			continue
		}
		if resp.StatusCode >= 400 {
			return NewSignalingError(fmt.Sprintf("%s %s: server returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data))), nil)
		}

		if out != nil {
			if err := json.Unmarshal(data, out); err != nil {
				return NewSignalingError(fmt.Sprintf("%s %s: decode response", method, path), err)
			}
		}
		return nil
	}
	return lastErr
}

// Probe asks the service which transports it supports.
func (c *Client) Probe(ctx context.Context) (protocol.StatusResponse, error) {
	var out protocol.StatusResponse
	if err := c.doJSON(ctx, http.MethodGet, "/status", nil, &out); err != nil {
		return out, NewProbeError("status endpoint unreachable", err)
	}
	return out, nil
}

// CreateSession registers a new session record and returns its id.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	var out protocol.CreateSessionResponse
	if err := c.doJSON(ctx, http.MethodPost, "/session/create", nil, &out); err != nil {
		return "", err
	}
	if !out.Success || out.SessionID == "" {
		return "", NewSignalingError(fmt.Sprintf("session create rejected: %s", out.Error), nil)
	}
	return out.SessionID, nil
}

// PostOffer submits a local session description and returns the remote
// answer along with the server-issued session id.
func (c *Client) PostOffer(ctx context.Context, offer protocol.OfferRequest) (protocol.OfferResponse, error) {
	var out protocol.OfferResponse
	if err := c.doJSON(ctx, http.MethodPost, "/offer", offer, &out); err != nil {
		return out, err
	}
	if !out.Success {
		return out, NewSignalingError(fmt.Sprintf("offer rejected: %s", out.Error), nil)
	}
	return out, nil
}

// SessionStatus fetches the current status snapshot for a session.
func (c *Client) SessionStatus(ctx context.Context, sessionID string) (protocol.SessionStatus, error) {
	var out protocol.SessionStatus
	err := c.doJSON(ctx, http.MethodGet, "/session/"+url.PathEscape(sessionID), nil, &out)
	return out, err
}

// PostTask switches the session's active task over REST.
func (c *Client) PostTask(ctx context.Context, sessionID, task string) error {
	return c.doJSON(ctx, http.MethodPost, "/session/"+url.PathEscape(sessionID)+"/task", protocol.TaskRequest{Task: task}, nil)
}

// PostReset resets the session's detection state over REST.
func (c *Client) PostReset(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodPost, "/session/"+url.PathEscape(sessionID)+"/reset", nil, nil)
}

// DeleteSession tears down the remote session record. Callers treat failures
// as best-effort; the remote side may already have expired the session.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/session/"+url.PathEscape(sessionID), nil, nil)
}

// websocketEndpoint maps the REST base URL onto the frame-relay socket for a
// session, swapping the scheme to its WebSocket counterpart.
func (c *Client) websocketEndpoint(sessionID string) (string, error) {
	parsed, err := url.Parse(c.baseURL)
	if err != nil {
		return "", NewSignalingError("invalid base URL", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", NewSignalingError(fmt.Sprintf("unsupported base URL scheme %q", parsed.Scheme), nil)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/session/" + url.PathEscape(sessionID) + "/stream"
	return parsed.String(), nil
}
