package capture

import (
	"sync"
	"sync/atomic"

	"github.com/junsooki/framerelay/internal/dispatch"
	"github.com/junsooki/framerelay/internal/frame"
)

// SampleBufferDelegate receives captured frames.
type SampleBufferDelegate interface {
	CaptureOutput(sample *SampleBuffer)
}

// VideoDataOutput delivers raw frames to a delegate on a caller-chosen
// queue. While a callback is still running, newer frames are discarded
// when AlwaysDiscardsLateFrames is set.
type VideoDataOutput struct {
	format frame.PixelFormat

	AlwaysDiscardsLateFrames bool

	mu       sync.Mutex
	delegate SampleBufferDelegate
	queue    *dispatch.Queue

	inflight atomic.Int32
	dropped  atomic.Uint64
}

// NewVideoDataOutput creates an output producing the given pixel format.
func NewVideoDataOutput(format frame.PixelFormat) *VideoDataOutput {
	return &VideoDataOutput{format: format, AlwaysDiscardsLateFrames: true}
}

// PixelFormat returns the configured pixel format.
func (o *VideoDataOutput) PixelFormat() frame.PixelFormat {
	return o.format
}

// SetSampleBufferDelegate installs the delegate and its queue. Passing a
// nil delegate detaches the output.
func (o *VideoDataOutput) SetSampleBufferDelegate(d SampleBufferDelegate, q *dispatch.Queue) {
	o.mu.Lock()
	o.delegate = d
	o.queue = q
	o.mu.Unlock()
}

// Dropped reports frames discarded because the delegate was still busy.
func (o *VideoDataOutput) Dropped() uint64 {
	return o.dropped.Load()
}

func (o *VideoDataOutput) deliver(sample *SampleBuffer) {
	o.mu.Lock()
	d, q := o.delegate, o.queue
	o.mu.Unlock()
	if d == nil || q == nil {
		return
	}

	if o.AlwaysDiscardsLateFrames && o.inflight.Load() > 0 {
		o.dropped.Add(1)
		return
	}
	o.inflight.Add(1)
	if !q.Async(func() {
		defer o.inflight.Add(-1)
		d.CaptureOutput(sample)
	}) {
		o.inflight.Add(-1)
	}
}
