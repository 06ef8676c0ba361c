package main

import (
	"fmt"

	"github.com/junsooki/framerelay/internal/capture"
	"github.com/junsooki/framerelay/internal/capture/screen"
	"github.com/junsooki/framerelay/internal/config"
)

// openDevices builds the device list for the configured backend. The
// configured device is registered as the front camera.
func openDevices(cfg config.CameraConfig) (*capture.Provider, error) {
	var dev capture.Device
	switch cfg.Backend {
	case "synthetic":
		d, err := capture.NewSynthetic(fmt.Sprintf("synthetic-%d", cfg.Device), capture.PositionFront, cfg.FPS)
		if err != nil {
			return nil, err
		}
		dev = d
	case "opencv":
		d, err := openCVCamera(cfg.Device, cfg.FPS)
		if err != nil {
			return nil, err
		}
		dev = d
	case "screen":
		d, err := screen.NewDisplay(cfg.Device, cfg.FPS, capture.PositionFront)
		if err != nil {
			return nil, err
		}
		dev = d
	default:
		return nil, fmt.Errorf("unknown camera backend %q", cfg.Backend)
	}
	return capture.NewProvider(dev), nil
}
