package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/junsooki/framerelay/internal/frame"
)

// Synthetic is a camera that renders a moving test pattern. Rows carry
// RowPadding extra bytes so consumers must honour bytes-per-row.
type Synthetic struct {
	id         string
	name       string
	position   Position
	fps        int
	RowPadding int
}

// NewSynthetic creates a synthetic camera at the given position and rate.
func NewSynthetic(id string, position Position, fps int) (*Synthetic, error) {
	if fps <= 0 || fps > 120 {
		return nil, fmt.Errorf("fps must be 1-120, got %d", fps)
	}
	return &Synthetic{
		id:         id,
		name:       fmt.Sprintf("Synthetic %s camera", position),
		position:   position,
		fps:        fps,
		RowPadding: 32,
	}, nil
}

func (d *Synthetic) ID() string         { return d.id }
func (d *Synthetic) Name() string       { return d.name }
func (d *Synthetic) Position() Position { return d.position }

// Open starts the frame clock.
func (d *Synthetic) Open(preset Preset) (Stream, error) {
	w, h := preset.Dimensions()
	return &syntheticStream{
		width:       w,
		height:      h,
		bytesPerRow: w*4 + d.RowPadding,
		ticker:      time.NewTicker(time.Second / time.Duration(d.fps)),
		closed:      make(chan struct{}),
	}, nil
}

type syntheticStream struct {
	width       int
	height      int
	bytesPerRow int
	ticker      *time.Ticker
	tick        int

	closeOnce sync.Once
	closed    chan struct{}
}

func (s *syntheticStream) ReadBuffer() (*PixelBuffer, error) {
	select {
	case <-s.closed:
		return nil, ErrStreamClosed
	case <-s.ticker.C:
	}
	s.tick++
	return NewPixelBuffer(s.render(), s.width, s.height, s.bytesPerRow, frame.FormatBGRA32), nil
}

func (s *syntheticStream) Close() error {
	s.closeOnce.Do(func() {
		s.ticker.Stop()
		close(s.closed)
	})
	return nil
}

// render draws a gradient with a bar sweeping left to right. Padding bytes
// stay zero.
func (s *syntheticStream) render() []byte {
	data := make([]byte, s.height*s.bytesPerRow)
	bar := (s.tick * 8) % s.width
	for y := 0; y < s.height; y++ {
		row := data[y*s.bytesPerRow:]
		for x := 0; x < s.width; x++ {
			px := row[x*4 : x*4+4]
			if x >= bar && x < bar+16 {
				px[0], px[1], px[2] = 0xff, 0xff, 0xff
			} else {
				px[0] = byte(x * 255 / s.width)
				px[1] = byte(y * 255 / s.height)
				px[2] = byte(s.tick)
			}
			px[3] = 0xff
		}
	}
	return data
}
