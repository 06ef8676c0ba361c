// Package frontcamera exposes the frame relay on the message channel: a
// method channel to start and stop capture and an event channel that
// streams the frames.
package frontcamera

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/junsooki/framerelay/internal/channel"
	"github.com/junsooki/framerelay/internal/log"
	"github.com/junsooki/framerelay/internal/peer"
	"github.com/junsooki/framerelay/internal/relay"
	"github.com/junsooki/framerelay/internal/transport"
)

const (
	MethodChannel = "framerelay/front_camera"
	EventChannel  = "framerelay/front_camera_frames"

	MethodStart     = "startFrontCameraFrameCapture"
	MethodStop      = "stopFrontCameraFrameCapture"
	MethodNegotiate = "negotiateFrameTransport"
)

// Relay is the part of *relay.Relay the bridge drives.
type Relay interface {
	Start(ctx context.Context) error
	Stop()
	Subscribe(sink relay.Sink)
	Unsubscribe(sink relay.Sink)
}

// Bridge registers the front camera channels on a channel.Server.
type Bridge struct {
	relay      Relay
	iceServers []string
	log        *logrus.Entry

	mu    sync.Mutex
	peers map[*channel.Conn]*peer.Host
}

// NewBridge creates a bridge for r. iceServers configures WebRTC frame
// transports; nil selects the default STUN servers.
func NewBridge(r Relay, iceServers []string) *Bridge {
	return &Bridge{
		relay:      r,
		iceServers: iceServers,
		log:        log.For("frontcamera"),
		peers:      make(map[*channel.Conn]*peer.Host),
	}
}

// Register installs the method and event channels on s.
func (b *Bridge) Register(s *channel.Server) {
	s.SetMethodCallHandler(MethodChannel, b)
	s.SetStreamHandler(EventChannel, streamHandler{b})
	s.OnDisconnect(b.closePeer)
}

// HandleMethod implements channel.MethodHandler.
func (b *Bridge) HandleMethod(ctx context.Context, conn *channel.Conn, call channel.MethodCall) (any, error) {
	switch call.Method {
	case MethodStart:
		if err := b.relay.Start(ctx); err != nil {
			return nil, methodError(err)
		}
		return true, nil
	case MethodStop:
		b.relay.Stop()
		return true, nil
	case MethodNegotiate:
		var offer webrtc.SessionDescription
		if err := json.Unmarshal(call.Args, &offer); err != nil {
			return nil, &channel.MethodError{Code: string(relay.CodeError), Message: "invalid offer: " + err.Error()}
		}
		return b.negotiate(ctx, conn, offer)
	}
	return nil, channel.NotImplemented("method " + call.Method)
}

// methodError maps relay failures onto channel error codes.
func methodError(err error) *channel.MethodError {
	var re *relay.Error
	if errors.As(err, &re) {
		return &channel.MethodError{Code: string(re.Code), Message: re.Message}
	}
	return &channel.MethodError{Code: string(relay.CodeError), Message: err.Error()}
}

// negotiate answers a viewer's offer. Once the frames data channel opens
// it becomes the relay's listener; one peer per connection.
func (b *Bridge) negotiate(ctx context.Context, conn *channel.Conn, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	host, err := peer.NewHost(b.iceServers)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create peer: %w", err)
	}

	l := b.log.WithField("conn", conn.ID())
	var sink *transport.DataChannelTransport
	var sinkMu sync.Mutex
	host.OnReady(func(tr *transport.DataChannelTransport) {
		l.Info("frames moved to data channel")
		sinkMu.Lock()
		sink = tr
		sinkMu.Unlock()
		b.relay.Subscribe(tr)
	})
	host.OnClosed(func() {
		sinkMu.Lock()
		tr := sink
		sinkMu.Unlock()
		if tr != nil {
			b.relay.Unsubscribe(tr)
		}
		b.mu.Lock()
		if b.peers[conn] == host {
			delete(b.peers, conn)
		}
		b.mu.Unlock()
		l.Info("frame data channel closed")
	})

	b.mu.Lock()
	prev := b.peers[conn]
	b.peers[conn] = host
	b.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}

	answer, err := host.Answer(ctx, offer)
	if err != nil {
		_ = host.Close()
		return webrtc.SessionDescription{}, fmt.Errorf("answer offer: %w", err)
	}
	return answer, nil
}

func (b *Bridge) closePeer(conn *channel.Conn) {
	b.mu.Lock()
	host := b.peers[conn]
	delete(b.peers, conn)
	b.mu.Unlock()
	if host != nil {
		_ = host.Close()
	}
}

// Close tears down all WebRTC transports.
func (b *Bridge) Close() {
	b.mu.Lock()
	hosts := make([]*peer.Host, 0, len(b.peers))
	for _, h := range b.peers {
		hosts = append(hosts, h)
	}
	b.peers = make(map[*channel.Conn]*peer.Host)
	b.mu.Unlock()
	for _, h := range hosts {
		_ = h.Close()
	}
}

type streamHandler struct{ b *Bridge }

func (s streamHandler) OnListen(conn *channel.Conn, _ json.RawMessage) error {
	s.b.relay.Subscribe(conn.EventSink(EventChannel))
	return nil
}

func (s streamHandler) OnCancel(conn *channel.Conn, _ json.RawMessage) error {
	s.b.relay.Unsubscribe(conn.EventSink(EventChannel))
	return nil
}

var _ relay.QueueingSink = (*channel.EventSink)(nil)
