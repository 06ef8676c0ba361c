// Package encoder turns decoded frames into image files.
package encoder

import "image"

// Encoder compresses a decoded frame.
type Encoder interface {
	Encode(img *image.RGBA) ([]byte, error)
	// Quality is the setting Encode currently uses, 1-100.
	Quality() int
	SetQuality(quality int)
}

// DefaultQuality is used for snapshots when none is configured.
const DefaultQuality = 85
