// Package transport moves encoded frames between peers.
package transport

import "github.com/junsooki/framerelay/internal/frame"

// FrameSender sends frames.
type FrameSender interface {
	SendFrame(f *frame.Frame) error
}

// FrameReceiver receives frames.
type FrameReceiver interface {
	OnFrame(callback func(f *frame.Frame))
}
