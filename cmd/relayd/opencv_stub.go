//go:build !opencv

package main

import (
	"errors"

	"github.com/junsooki/framerelay/internal/capture"
)

func openCVCamera(int, int) (capture.Device, error) {
	return nil, errors.New("opencv backend not built in; rebuild with -tags opencv")
}
