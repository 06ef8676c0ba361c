package frontcamera

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/junsooki/framerelay/internal/channel"
	"github.com/junsooki/framerelay/internal/frame"
)

// Client is the viewer's typed view of the front camera channels.
type Client struct {
	ch *channel.Client
}

func NewClient(ch *channel.Client) *Client {
	return &Client{ch: ch}
}

// StartCapture asks the relay to start capturing. Failures come back as
// *channel.MethodError carrying the relay's error code.
func (c *Client) StartCapture(ctx context.Context) error {
	_, err := c.ch.InvokeMethod(ctx, MethodChannel, MethodStart, nil)
	return err
}

// StopCapture asks the relay to stop capturing.
func (c *Client) StopCapture(ctx context.Context) error {
	_, err := c.ch.InvokeMethod(ctx, MethodChannel, MethodStop, nil)
	return err
}

// Listen subscribes to frames over the channel connection.
func (c *Client) Listen(ctx context.Context, onFrame func(*frame.Frame)) error {
	return c.ch.Listen(ctx, EventChannel, onFrame)
}

// Cancel unsubscribes from frames.
func (c *Client) Cancel(ctx context.Context) error {
	return c.ch.Cancel(ctx, EventChannel)
}

// Negotiate sends a WebRTC offer and returns the relay's answer.
func (c *Client) Negotiate(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	res, err := c.ch.InvokeMethod(ctx, MethodChannel, MethodNegotiate, offer)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(res, &answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("decode answer: %w", err)
	}
	return answer, nil
}
