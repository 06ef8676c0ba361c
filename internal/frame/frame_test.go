package frame

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paddedFrame(w, h, pad int) *Frame {
	bpr := w*4 + pad
	data := make([]byte, h*bpr)
	for i := range data {
		data[i] = byte(i)
	}
	return &Frame{
		Data:        data,
		Width:       w,
		Height:      h,
		BytesPerRow: bpr,
		Format:      FormatBGRA32,
		Sequence:    7,
		Timestamp:   time.Unix(1700000000, 42),
	}
}

func TestFrame_BinaryKeepsStride(t *testing.T) {
	in := paddedFrame(5, 3, 12)

	b, err := in.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, b, HeaderSize+3*(5*4+12))

	var out Frame
	require.NoError(t, out.UnmarshalBinary(b))
	assert.Equal(t, 32, out.BytesPerRow)
	assert.Equal(t, 5, out.Width)
	assert.Equal(t, 3, out.Height)
	assert.Equal(t, FormatBGRA32, out.Format)
	assert.Equal(t, uint64(7), out.Sequence)
	assert.True(t, in.Timestamp.Equal(out.Timestamp))
	assert.Equal(t, in.Data, out.Data)
	assert.Len(t, out.Data, out.Height*out.BytesPerRow)
}

func TestFrame_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *Frame)
	}{
		{"zero width", func(f *Frame) { f.Width = 0 }},
		{"unknown format", func(f *Frame) { f.Format = FormatUnknown }},
		{"stride too short", func(f *Frame) { f.BytesPerRow = f.Width*4 - 1 }},
		{"truncated payload", func(f *Frame) { f.Data = f.Data[:len(f.Data)-1] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := paddedFrame(4, 4, 0)
			tt.mutate(f)
			assert.Error(t, f.Validate())
			_, err := f.MarshalBinary()
			assert.Error(t, err)
		})
	}
}

func TestFrame_UnmarshalRejectsGarbage(t *testing.T) {
	var f Frame
	assert.ErrorIs(t, f.UnmarshalBinary([]byte{1, 2, 3}), ErrShortMessage)

	b := make([]byte, HeaderSize)
	assert.Error(t, f.UnmarshalBinary(b))
}

func TestFrame_BinaryKeepsFullSequence(t *testing.T) {
	f := &Frame{
		Data:        make([]byte, 4),
		Width:       1,
		Height:      1,
		BytesPerRow: 4,
		Format:      FormatBGRA32,
		Sequence:    1<<32 + 5,
		Timestamp:   time.Unix(1700000000, 42),
	}
	b, err := f.MarshalBinary()
	require.NoError(t, err)

	var out Frame
	require.NoError(t, out.UnmarshalBinary(b))
	assert.Equal(t, uint64(1<<32+5), out.Sequence)
	assert.True(t, f.Timestamp.Equal(out.Timestamp))
}
