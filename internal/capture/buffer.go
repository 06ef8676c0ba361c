package capture

import (
	"sync"
	"time"

	"github.com/junsooki/framerelay/internal/frame"
)

// PixelBuffer is one frame's pixel memory. The base address is only
// readable between LockBaseAddress and UnlockBaseAddress.
type PixelBuffer struct {
	mu          sync.Mutex
	locks       int
	data        []byte
	width       int
	height      int
	bytesPerRow int
	format      frame.PixelFormat
}

// NewPixelBuffer wraps data laid out as height rows of bytesPerRow bytes.
func NewPixelBuffer(data []byte, width, height, bytesPerRow int, format frame.PixelFormat) *PixelBuffer {
	return &PixelBuffer{
		data:        data,
		width:       width,
		height:      height,
		bytesPerRow: bytesPerRow,
		format:      format,
	}
}

func (b *PixelBuffer) Width() int                     { return b.width }
func (b *PixelBuffer) Height() int                    { return b.height }
func (b *PixelBuffer) BytesPerRow() int               { return b.bytesPerRow }
func (b *PixelBuffer) PixelFormat() frame.PixelFormat { return b.format }

// LockBaseAddress pins the buffer for read-only access.
func (b *PixelBuffer) LockBaseAddress() {
	b.mu.Lock()
	b.locks++
	b.mu.Unlock()
}

// UnlockBaseAddress releases a lock taken with LockBaseAddress.
func (b *PixelBuffer) UnlockBaseAddress() {
	b.mu.Lock()
	if b.locks > 0 {
		b.locks--
	}
	b.mu.Unlock()
}

// BaseAddress returns the pixel memory, or nil when the buffer is not
// locked. Callers must not modify or retain the returned slice.
func (b *PixelBuffer) BaseAddress() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.locks == 0 {
		return nil
	}
	return b.data
}

// SampleBuffer is what a video data output hands to its delegate.
type SampleBuffer struct {
	image     *PixelBuffer
	Sequence  uint64
	Timestamp time.Time
}

// NewSampleBuffer wraps a pixel buffer captured at ts.
func NewSampleBuffer(img *PixelBuffer, seq uint64, ts time.Time) *SampleBuffer {
	return &SampleBuffer{image: img, Sequence: seq, Timestamp: ts}
}

// ImageBuffer returns the frame's pixels, or nil when the sample carries
// none.
func (s *SampleBuffer) ImageBuffer() *PixelBuffer {
	if s == nil {
		return nil
	}
	return s.image
}
