package encoder

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// JPEGEncoder encodes frames as JPEG.
type JPEGEncoder struct {
	quality int
}

// NewJPEGEncoder creates a JPEG encoder with the given quality (1-100).
// Zero selects DefaultQuality.
func NewJPEGEncoder(quality int) *JPEGEncoder {
	if quality == 0 {
		quality = DefaultQuality
	}
	e := &JPEGEncoder{}
	e.SetQuality(quality)
	return e
}

// SetQuality clamps quality to 1-100.
func (e *JPEGEncoder) SetQuality(quality int) {
	e.quality = max(1, min(quality, 100))
}

// Quality returns the current quality.
func (e *JPEGEncoder) Quality() int {
	return e.quality
}

// Encode compresses img. The output buffer is sized from the pixel count,
// which JPEG rarely exceeds by a tenth.
func (e *JPEGEncoder) Encode(img *image.RGBA) ([]byte, error) {
	if img == nil || img.Rect.Empty() {
		return nil, fmt.Errorf("jpeg: empty image")
	}
	var buf bytes.Buffer
	buf.Grow(img.Rect.Dx() * img.Rect.Dy() / 10)
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, fmt.Errorf("jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
