package decoder

import (
	"fmt"
	"image"

	"github.com/junsooki/framerelay/internal/frame"
)

// BGRADecoder converts BGRA32 frames to RGBA, dropping row padding.
type BGRADecoder struct {
	// reused across frames of the same size
	buf *image.RGBA
}

func NewBGRADecoder() *BGRADecoder {
	return &BGRADecoder{}
}

// Decode converts f. The returned image is reused by the next call, so
// callers that keep it must copy it first.
func (d *BGRADecoder) Decode(f *frame.Frame) (*image.RGBA, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if f.Format != frame.FormatBGRA32 {
		return nil, fmt.Errorf("unsupported pixel format %s", f.Format)
	}

	if d.buf == nil || d.buf.Rect.Dx() != f.Width || d.buf.Rect.Dy() != f.Height {
		d.buf = image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	}
	dst := d.buf
	rowBytes := f.Width * 4
	for y := 0; y < f.Height; y++ {
		src := f.Data[y*f.BytesPerRow : y*f.BytesPerRow+rowBytes]
		out := dst.Pix[y*dst.Stride : y*dst.Stride+rowBytes]
		for x := 0; x < rowBytes; x += 4 {
			out[x+0] = src[x+2]
			out[x+1] = src[x+1]
			out[x+2] = src[x+0]
			out[x+3] = src[x+3]
		}
	}
	return dst, nil
}
