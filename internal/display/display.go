package display

import (
	"image"
	"math"
)

// Display shows decoded frames until the user quits.
type Display interface {
	SetFrame(img *image.RGBA, seq uint64)
	Run() error
}

// Controls are the viewer actions a display can trigger.
type Controls struct {
	// OnToggle starts capture when stopped and stops it when running.
	OnToggle func()
	// OnSnapshot saves the current frame.
	OnSnapshot func()
}

// aspectFitTransform returns scale and offsets to fit frame into view with letterboxing.
func aspectFitTransform(viewW, viewH, frameW, frameH float64) (scale, offsetX, offsetY float64) {
	scale = math.Min(viewW/frameW, viewH/frameH)
	offsetX = (viewW - frameW*scale) / 2
	offsetY = (viewH - frameH*scale) / 2
	return
}

// mirror flips img horizontally in place. Front cameras deliver the
// unmirrored sensor image; viewers expect a mirror.
func mirror(img *image.RGBA) {
	w := img.Rect.Dx()
	for y := 0; y < img.Rect.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for l, r := 0, w-1; l < r; l, r = l+1, r-1 {
			for c := 0; c < 4; c++ {
				row[l*4+c], row[r*4+c] = row[r*4+c], row[l*4+c]
			}
		}
	}
}
