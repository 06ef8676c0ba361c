package transport

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/junsooki/framerelay/internal/frame"
	"github.com/junsooki/framerelay/internal/log"
)

// MaxBufferedAmount is how much unsent data the frames channel may hold
// before new frames are dropped instead of queued.
const MaxBufferedAmount = 4 * 1024 * 1024

// ErrCongested is returned when a frame is dropped because the channel's
// send buffer is full.
var ErrCongested = errors.New("transport: data channel congested")

// DataChannelTransport carries frames over a WebRTC DataChannel.
type DataChannelTransport struct {
	mu       sync.Mutex
	framesDC *webrtc.DataChannel
	onFrame  func(f *frame.Frame)
	rx       reassembler

	nextID    atomic.Uint32
	chunkSize int
	log       *logrus.Entry
}

// NewDataChannelTransport wraps the frames DataChannel. dc may be nil and
// set later with SetFramesChannel.
func NewDataChannelTransport(dc *webrtc.DataChannel) *DataChannelTransport {
	t := &DataChannelTransport{
		chunkSize: DefaultChunkSize,
		log:       log.For("transport"),
	}
	if dc != nil {
		t.SetFramesChannel(dc)
	}
	return t
}

// SendFrame encodes f and sends it as a sequence of chunks. A frame is
// dropped when the channel is congested.
func (t *DataChannelTransport) SendFrame(f *frame.Frame) error {
	t.mu.Lock()
	dc := t.framesDC
	t.mu.Unlock()
	if dc == nil {
		return fmt.Errorf("frames data channel not set")
	}
	if dc.BufferedAmount() > MaxBufferedAmount {
		return ErrCongested
	}

	msg, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	chunks, err := split(t.nextID.Add(1), msg, t.chunkSize)
	if err != nil {
		return err
	}
	for _, c := range chunks {
		if err := dc.Send(c); err != nil {
			return err
		}
	}
	return nil
}

// OnFrame sets the callback for reassembled incoming frames.
func (t *DataChannelTransport) OnFrame(cb func(f *frame.Frame)) {
	t.mu.Lock()
	t.onFrame = cb
	t.mu.Unlock()
}

// SetFramesChannel sets or replaces the frames DataChannel (used when
// receiving negotiated channels).
func (t *DataChannelTransport) SetFramesChannel(dc *webrtc.DataChannel) {
	t.mu.Lock()
	t.framesDC = dc
	t.rx = reassembler{}
	t.mu.Unlock()

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.receive(msg.Data)
	})
}

func (t *DataChannelTransport) receive(chunk []byte) {
	t.mu.Lock()
	msg, err := t.rx.add(chunk)
	cb := t.onFrame
	t.mu.Unlock()

	if err != nil {
		if !errors.Is(err, errStaleChunk) {
			t.log.WithError(err).Debug("drop chunk")
		}
		return
	}
	if msg == nil || cb == nil {
		return
	}

	var f frame.Frame
	if err := f.UnmarshalBinary(msg); err != nil {
		t.log.WithError(err).Debug("drop frame")
		return
	}
	cb(&f)
}

var (
	_ FrameSender   = (*DataChannelTransport)(nil)
	_ FrameReceiver = (*DataChannelTransport)(nil)
)
