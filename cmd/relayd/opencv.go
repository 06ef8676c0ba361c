//go:build opencv

package main

import (
	"github.com/junsooki/framerelay/internal/capture"
	"github.com/junsooki/framerelay/internal/capture/opencv"
)

func openCVCamera(index, fps int) (capture.Device, error) {
	return opencv.NewCamera(index, fps, capture.PositionFront), nil
}
