// Package capture models a camera capture framework: devices, a capture
// session coordinating one input and one output, and a delegate that
// receives every captured frame on a dispatch queue.
package capture

import (
	"errors"
	"fmt"
	"strings"
)

// Position is where a camera faces relative to the screen.
type Position int

const (
	PositionUnspecified Position = iota
	PositionFront
	PositionBack
)

func (p Position) String() string {
	switch p {
	case PositionFront:
		return "front"
	case PositionBack:
		return "back"
	}
	return "unspecified"
}

// ParsePosition accepts "front", "back" or "" / "unspecified".
func ParsePosition(s string) (Position, error) {
	switch strings.ToLower(s) {
	case "front":
		return PositionFront, nil
	case "back":
		return PositionBack, nil
	case "", "unspecified":
		return PositionUnspecified, nil
	}
	return PositionUnspecified, fmt.Errorf("unknown camera position %q", s)
}

// Preset selects the capture resolution.
type Preset string

const (
	PresetLow    Preset = "low"
	PresetMedium Preset = "medium"
	PresetHigh   Preset = "high"
)

// Dimensions returns the frame size produced at this preset.
func (p Preset) Dimensions() (width, height int) {
	switch p {
	case PresetLow:
		return 352, 288
	case PresetHigh:
		return 1280, 720
	default:
		return 480, 360
	}
}

// ParsePreset validates a preset name.
func ParsePreset(s string) (Preset, error) {
	switch p := Preset(strings.ToLower(s)); p {
	case PresetLow, PresetMedium, PresetHigh:
		return p, nil
	}
	return "", fmt.Errorf("unknown preset %q", s)
}

// ErrStreamClosed is returned by Stream.ReadBuffer after Close.
var ErrStreamClosed = errors.New("capture: stream closed")

// Device is a camera that can be opened for capture.
type Device interface {
	ID() string
	Name() string
	Position() Position
	Open(preset Preset) (Stream, error)
}

// Stream yields frames from an opened device. ReadBuffer blocks until the
// next frame is available; Close unblocks it with ErrStreamClosed.
type Stream interface {
	ReadBuffer() (*PixelBuffer, error)
	Close() error
}

// Provider enumerates devices.
type Provider struct {
	devices []Device
}

// NewProvider creates a provider over the given devices.
func NewProvider(devices ...Device) *Provider {
	return &Provider{devices: devices}
}

// Devices lists every known device.
func (p *Provider) Devices() []Device {
	return append([]Device(nil), p.devices...)
}

// Default returns the first device at the given position, or nil.
func (p *Provider) Default(pos Position) Device {
	for _, d := range p.devices {
		if d.Position() == pos {
			return d
		}
	}
	return nil
}
