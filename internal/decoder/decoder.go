package decoder

import (
	"image"

	"github.com/junsooki/framerelay/internal/frame"
)

// Decoder turns a received frame into an image.
type Decoder interface {
	Decode(f *frame.Frame) (*image.RGBA, error)
}
