package peer

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/junsooki/framerelay/internal/log"
)

// FramesLabel is the label of the data channel that carries frames.
const FramesLabel = "frames"

// DefaultICEServers is used when no ICE servers are configured.
var DefaultICEServers = []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"}

// NewPeerConnection creates a configured PeerConnection. A nil iceServers
// selects DefaultICEServers; an empty one disables STUN/TURN.
func NewPeerConnection(iceServers []string) (*webrtc.PeerConnection, error) {
	if iceServers == nil {
		iceServers = DefaultICEServers
	}
	var cfg webrtc.Configuration
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	logger := log.For("peer")
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Infof("peer connection state: %s", state.String())
	})
	return pc, nil
}

// localDescription sets desc as the local description and waits until ICE
// gathering finished, so the returned description carries all candidates.
func localDescription(ctx context.Context, pc *webrtc.PeerConnection, desc webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		return webrtc.SessionDescription{}, err
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return webrtc.SessionDescription{}, fmt.Errorf("ice gathering: %w", ctx.Err())
	}
	ld := pc.LocalDescription()
	if ld == nil {
		return webrtc.SessionDescription{}, fmt.Errorf("no local description")
	}
	return *ld, nil
}
