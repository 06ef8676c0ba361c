//go:build !darwin

package screen

import (
	"errors"

	"github.com/junsooki/framerelay/internal/capture"
)

// NewDisplay is only available on macOS.
func NewDisplay(displayIndex, fps int, position capture.Position) (capture.Device, error) {
	return nil, errors.New("screen capture is only supported on macOS")
}
