package peer

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/junsooki/framerelay/internal/log"
	"github.com/junsooki/framerelay/internal/transport"
)

// Host is the relay side of a WebRTC frame transport. The viewer offers
// and opens the frames channel; the host answers.
type Host struct {
	pc        *webrtc.PeerConnection
	transport *transport.DataChannelTransport
	log       *logrus.Entry

	mu       sync.Mutex
	onReady  func(*transport.DataChannelTransport)
	onClosed func()
	closed   bool
}

// NewHost creates a Host peer manager.
func NewHost(iceServers []string) (*Host, error) {
	pc, err := NewPeerConnection(iceServers)
	if err != nil {
		return nil, err
	}

	h := &Host{
		pc:        pc,
		transport: transport.NewDataChannelTransport(nil),
		log:       log.For("peer"),
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		h.log.Infof("data channel received: %s", dc.Label())
		if dc.Label() != FramesLabel {
			return
		}
		h.transport.SetFramesChannel(dc)
		dc.OnOpen(func() {
			h.log.Info("frames data channel open")
			h.mu.Lock()
			cb := h.onReady
			h.mu.Unlock()
			if cb != nil {
				cb(h.transport)
			}
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			h.fireClosed()
		}
	})

	return h, nil
}

// OnReady sets the callback run once the frames channel is open.
func (h *Host) OnReady(cb func(*transport.DataChannelTransport)) {
	h.mu.Lock()
	h.onReady = cb
	h.mu.Unlock()
}

// OnClosed sets the callback run once when the connection goes away.
func (h *Host) OnClosed(cb func()) {
	h.mu.Lock()
	h.onClosed = cb
	h.mu.Unlock()
}

// Transport returns the DataChannelTransport for sending frames.
func (h *Host) Transport() *transport.DataChannelTransport {
	return h.transport
}

// Answer applies the viewer's offer and returns the complete answer.
func (h *Host) Answer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := h.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := h.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return localDescription(ctx, h.pc, answer)
}

func (h *Host) fireClosed() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	cb := h.onClosed
	h.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Close shuts down the peer connection.
func (h *Host) Close() error {
	h.fireClosed()
	return h.pc.Close()
}
