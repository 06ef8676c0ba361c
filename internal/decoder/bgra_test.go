package decoder

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junsooki/framerelay/internal/frame"
)

func TestBGRADecoder_SkipsRowPadding(t *testing.T) {
	const w, h, bpr = 2, 2, 16
	data := make([]byte, h*bpr)
	for i := range data {
		data[i] = 0xEE // padding marker
	}
	put := func(x, y int, b, g, r, a byte) {
		o := y*bpr + x*4
		data[o], data[o+1], data[o+2], data[o+3] = b, g, r, a
	}
	put(0, 0, 1, 2, 3, 255)
	put(1, 0, 4, 5, 6, 255)
	put(0, 1, 7, 8, 9, 255)
	put(1, 1, 10, 11, 12, 128)

	d := NewBGRADecoder()
	img, err := d.Decode(&frame.Frame{Data: data, Width: w, Height: h, BytesPerRow: bpr, Format: frame.FormatBGRA32})
	require.NoError(t, err)

	assert.Equal(t, color.RGBA{3, 2, 1, 255}, img.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{6, 5, 4, 255}, img.RGBAAt(1, 0))
	assert.Equal(t, color.RGBA{9, 8, 7, 255}, img.RGBAAt(0, 1))
	assert.Equal(t, color.RGBA{12, 11, 10, 128}, img.RGBAAt(1, 1))
}

func TestBGRADecoder_Rejects(t *testing.T) {
	d := NewBGRADecoder()

	_, err := d.Decode(&frame.Frame{Data: make([]byte, 4), Width: 1, Height: 1, BytesPerRow: 4})
	assert.Error(t, err, "unknown format")

	_, err = d.Decode(&frame.Frame{Data: make([]byte, 3), Width: 1, Height: 1, BytesPerRow: 4, Format: frame.FormatBGRA32})
	assert.Error(t, err, "short data")
}

func TestBGRADecoder_ReusesBuffer(t *testing.T) {
	d := NewBGRADecoder()
	f := &frame.Frame{Data: make([]byte, 16), Width: 2, Height: 2, BytesPerRow: 8, Format: frame.FormatBGRA32}
	a, err := d.Decode(f)
	require.NoError(t, err)
	b, err := d.Decode(f)
	require.NoError(t, err)
	assert.Same(t, a, b)

	f2 := &frame.Frame{Data: make([]byte, 12), Width: 3, Height: 1, BytesPerRow: 12, Format: frame.FormatBGRA32}
	c, err := d.Decode(f2)
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	assert.Equal(t, 3, c.Rect.Dx())
}
