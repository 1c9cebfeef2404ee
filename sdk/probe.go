package assay

import "context"

// probeMode asks the service for its transport capability and maps it to a
// mode. A probe failure is fatal to the connect attempt; there is no silent
// fallback, since mode selection gates everything downstream.
func (c *Client) probeMode(ctx context.Context) (TransportMode, error) {
	status, err := c.Probe(ctx)
	if err != nil {
		return "", err
	}
	if status.WebRTC.WebRTCAvailable {
		return ModeRealtime, nil
	}
	return ModeRelay, nil
}
