package peer

import (
	"context"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/junsooki/framerelay/internal/log"
	"github.com/junsooki/framerelay/internal/transport"
)

// Controller is the viewer side of a WebRTC frame transport.
type Controller struct {
	pc        *webrtc.PeerConnection
	transport *transport.DataChannelTransport
	log       *logrus.Entry
}

// NewController creates a Controller and its frames data channel.
func NewController(iceServers []string) (*Controller, error) {
	pc, err := NewPeerConnection(iceServers)
	if err != nil {
		return nil, err
	}

	ctrl := &Controller{
		pc:  pc,
		log: log.For("peer"),
	}

	// Late frames are useless, so the channel neither orders nor retransmits.
	ordered := false
	maxRetransmits := uint16(0)
	dc, err := pc.CreateDataChannel(FramesLabel, &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
	})
	if err != nil {
		pc.Close()
		return nil, err
	}
	dc.OnOpen(func() {
		ctrl.log.Info("frames data channel open")
	})
	ctrl.transport = transport.NewDataChannelTransport(dc)

	return ctrl, nil
}

// Transport returns the DataChannelTransport.
func (c *Controller) Transport() *transport.DataChannelTransport {
	return c.transport
}

// Offer creates the offer including all ICE candidates.
func (c *Controller) Offer(ctx context.Context) (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return localDescription(ctx, c.pc, offer)
}

// HandleAnswer applies the relay's answer.
func (c *Controller) HandleAnswer(answer webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(answer)
}

// Close shuts down the peer connection.
func (c *Controller) Close() error {
	return c.pc.Close()
}
