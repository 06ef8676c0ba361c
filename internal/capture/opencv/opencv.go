//go:build opencv

// Package opencv exposes a V4L/AVFoundation/DirectShow webcam through
// OpenCV as a capture device.
package opencv

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"github.com/junsooki/framerelay/internal/capture"
	"github.com/junsooki/framerelay/internal/frame"
)

// Camera is an OpenCV video capture device.
type Camera struct {
	index    int
	fps      int
	position capture.Position
}

// NewCamera creates a device for the OpenCV camera index.
func NewCamera(index, fps int, position capture.Position) *Camera {
	return &Camera{index: index, fps: fps, position: position}
}

func (c *Camera) ID() string                 { return fmt.Sprintf("opencv-%d", c.index) }
func (c *Camera) Name() string               { return fmt.Sprintf("OpenCV camera %d", c.index) }
func (c *Camera) Position() capture.Position { return c.position }

// Open starts the webcam at the preset's resolution. The driver may pick
// the nearest size it supports.
func (c *Camera) Open(preset capture.Preset) (capture.Stream, error) {
	webcam, err := gocv.OpenVideoCapture(c.index)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", c.index, err)
	}
	w, h := preset.Dimensions()
	webcam.Set(gocv.VideoCaptureFrameWidth, float64(w))
	webcam.Set(gocv.VideoCaptureFrameHeight, float64(h))
	if c.fps > 0 {
		webcam.Set(gocv.VideoCaptureFPS, float64(c.fps))
	}

	return &stream{
		webcam: webcam,
		img:    gocv.NewMat(),
		bgra:   gocv.NewMat(),
	}, nil
}

type stream struct {
	mu     sync.Mutex
	webcam *gocv.VideoCapture
	img    gocv.Mat
	bgra   gocv.Mat
	closed bool
}

func (s *stream) ReadBuffer() (*capture.PixelBuffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, capture.ErrStreamClosed
	}

	if ok := s.webcam.Read(&s.img); !ok || s.img.Empty() {
		return nil, fmt.Errorf("read frame: device returned no image")
	}
	if err := gocv.CvtColor(s.img, &s.bgra, gocv.ColorBGRToBGRA); err != nil {
		return nil, fmt.Errorf("convert to BGRA: %w", err)
	}

	data := make([]byte, s.bgra.Rows()*s.bgra.Step())
	copy(data, s.bgra.ToBytes())
	return capture.NewPixelBuffer(data, s.bgra.Cols(), s.bgra.Rows(), s.bgra.Step(), frame.FormatBGRA32), nil
}

// Close releases the webcam. It waits for an in-flight read to finish.
func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.img.Close()
	s.bgra.Close()
	return s.webcam.Close()
}
