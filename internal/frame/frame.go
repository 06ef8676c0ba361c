// Package frame defines the frame message forwarded from the capture
// pipeline to listeners and its binary wire encoding.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// PixelFormat identifies the memory layout of a frame's pixels.
type PixelFormat uint8

const (
	FormatUnknown PixelFormat = 0
	// FormatBGRA32 is 8-bit B, G, R, A per pixel.
	FormatBGRA32 PixelFormat = 1
)

// BytesPerPixel returns the pixel size, or 0 for unknown formats.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatBGRA32:
		return 4
	}
	return 0
}

func (f PixelFormat) String() string {
	switch f {
	case FormatBGRA32:
		return "BGRA32"
	}
	return "unknown"
}

// Frame is a single captured image. Data holds Height rows of BytesPerRow
// bytes each; BytesPerRow may exceed Width*BytesPerPixel when rows are
// padded.
type Frame struct {
	Data        []byte
	Width       int
	Height      int
	BytesPerRow int
	Format      PixelFormat
	Sequence    uint64
	Timestamp   time.Time
}

// Validate checks the frame's geometry against its payload.
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", f.Width, f.Height)
	}
	if bpp := f.Format.BytesPerPixel(); bpp == 0 {
		return fmt.Errorf("unsupported pixel format %d", f.Format)
	} else if f.BytesPerRow < f.Width*bpp {
		return fmt.Errorf("bytes per row %d shorter than %d pixels", f.BytesPerRow, f.Width)
	}
	if want := f.Height * f.BytesPerRow; len(f.Data) != want {
		return fmt.Errorf("payload is %d bytes, want %d", len(f.Data), want)
	}
	return nil
}

// HeaderSize is the length of the fixed header preceding the pixel data.
const HeaderSize = 40

var magic = [4]byte{'F', 'R', 'L', 'Y'}

// ErrShortMessage is returned when a buffer is too small to hold a header.
var ErrShortMessage = errors.New("frame: message shorter than header")

// MarshalBinary encodes the frame as header followed by pixel data.
//
// Layout (big endian): magic[4] format[1] reserved[3] width[4] height[4]
// bytesPerRow[4] reserved[4] sequence[8] timestamp-unix-nanos[8].
func (f *Frame) MarshalBinary() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("frame: %w", err)
	}
	buf := make([]byte, HeaderSize+len(f.Data))
	copy(buf[0:4], magic[:])
	buf[4] = byte(f.Format)
	binary.BigEndian.PutUint32(buf[8:12], uint32(f.Width))
	binary.BigEndian.PutUint32(buf[12:16], uint32(f.Height))
	binary.BigEndian.PutUint32(buf[16:20], uint32(f.BytesPerRow))
	binary.BigEndian.PutUint64(buf[24:32], f.Sequence)
	var ts int64
	if !f.Timestamp.IsZero() {
		ts = f.Timestamp.UnixNano()
	}
	binary.BigEndian.PutUint64(buf[32:40], uint64(ts))
	copy(buf[HeaderSize:], f.Data)
	return buf, nil
}

// UnmarshalBinary decodes a message produced by MarshalBinary. The pixel
// data is copied out of b.
func (f *Frame) UnmarshalBinary(b []byte) error {
	if len(b) < HeaderSize {
		return ErrShortMessage
	}
	if [4]byte(b[0:4]) != magic {
		return errors.New("frame: bad magic")
	}
	f.Format = PixelFormat(b[4])
	f.Width = int(binary.BigEndian.Uint32(b[8:12]))
	f.Height = int(binary.BigEndian.Uint32(b[12:16]))
	f.BytesPerRow = int(binary.BigEndian.Uint32(b[16:20]))
	f.Sequence = binary.BigEndian.Uint64(b[24:32])
	if ts := int64(binary.BigEndian.Uint64(b[32:40])); ts != 0 {
		f.Timestamp = time.Unix(0, ts)
	} else {
		f.Timestamp = time.Time{}
	}
	f.Data = append([]byte(nil), b[HeaderSize:]...)
	if err := f.Validate(); err != nil {
		return fmt.Errorf("frame: %w", err)
	}
	return nil
}
