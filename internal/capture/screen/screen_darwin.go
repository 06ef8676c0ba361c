//go:build darwin

// Package screen exposes a macOS display as a capture device. It is
// mostly useful for exercising the relay on machines without a camera.
package screen

/*
#cgo LDFLAGS: -framework CoreGraphics -framework CoreFoundation
#include <CoreGraphics/CoreGraphics.h>
#include <dlfcn.h>
#include <stdlib.h>

typedef struct {
    void*  data;
    size_t size;
    int    width;
    int    height;
    size_t bytesPerRow;
} FrameData;

// CGWindowListCreateImage is unavailable in the macOS 15 SDK headers but still
// present in the CoreGraphics dylib. Load it dynamically.
typedef CGImageRef (*CGWindowListCreateImageFunc)(
    CGRect screenBounds,
    uint32_t listOption,
    uint32_t windowID,
    uint32_t imageOption
);

static CGWindowListCreateImageFunc getCGWindowListCreateImage(void) {
    static CGWindowListCreateImageFunc fn = NULL;
    if (!fn) {
        fn = (CGWindowListCreateImageFunc)dlsym(RTLD_DEFAULT, "CGWindowListCreateImage");
    }
    return fn;
}

FrameData captureDisplayBGRA(CGDirectDisplayID displayID) {
    FrameData result = {0};

    CGWindowListCreateImageFunc fn = getCGWindowListCreateImage();
    if (!fn) {
        return result;
    }

    CGRect bounds = CGDisplayBounds(displayID);
    // kCGWindowListOptionOnScreenOnly = 1, kCGNullWindowID = 0, kCGWindowImageDefault = 0
    CGImageRef image = fn(bounds, 1, 0, 0);
    if (!image) {
        return result;
    }

    result.width  = (int)CGImageGetWidth(image);
    result.height = (int)CGImageGetHeight(image);

    // Rows are aligned to 64 bytes, matching CoreVideo pixel buffers.
    result.bytesPerRow = ((size_t)result.width * 4 + 63) & ~(size_t)63;
    result.size        = result.bytesPerRow * result.height;
    result.data        = malloc(result.size);
    if (!result.data) {
        CGImageRelease(image);
        result.size = 0;
        return result;
    }

    CGColorSpaceRef cs = CGColorSpaceCreateDeviceRGB();
    CGContextRef ctx = CGBitmapContextCreate(
        result.data,
        result.width,
        result.height,
        8,
        result.bytesPerRow,
        cs,
        kCGImageAlphaPremultipliedFirst | kCGBitmapByteOrder32Little
    );
    CGContextDrawImage(ctx, CGRectMake(0, 0, result.width, result.height), image);
    CGContextRelease(ctx);
    CGColorSpaceRelease(cs);
    CGImageRelease(image);

    return result;
}

void freeFrameData(void* data) {
    free(data);
}
*/
import "C"

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/junsooki/framerelay/internal/capture"
	"github.com/junsooki/framerelay/internal/frame"
)

// Display captures a CoreGraphics display as BGRA frames.
type Display struct {
	displayID C.CGDirectDisplayID
	index     int
	fps       int
	position  capture.Position
}

// NewDisplay creates a device for the given display index at the given
// FPS. The device reports position so it can stand in for a camera.
func NewDisplay(displayIndex, fps int, position capture.Position) (*Display, error) {
	if fps <= 0 || fps > 60 {
		return nil, fmt.Errorf("fps must be 1-60, got %d", fps)
	}

	var displayID C.CGDirectDisplayID
	if displayIndex == 0 {
		displayID = C.CGMainDisplayID()
	} else {
		var displays [16]C.CGDirectDisplayID
		var count C.uint32_t
		C.CGGetActiveDisplayList(16, &displays[0], &count)
		if displayIndex >= int(count) {
			return nil, fmt.Errorf("display index %d out of range (have %d displays)", displayIndex, count)
		}
		displayID = displays[displayIndex]
	}

	return &Display{
		displayID: displayID,
		index:     displayIndex,
		fps:       fps,
		position:  position,
	}, nil
}

func (d *Display) ID() string                 { return fmt.Sprintf("display-%d", d.index) }
func (d *Display) Name() string               { return fmt.Sprintf("Display %d", d.index) }
func (d *Display) Position() capture.Position { return d.position }

// Open ignores the preset; frames keep the display's native size.
func (d *Display) Open(capture.Preset) (capture.Stream, error) {
	return &displayStream{
		displayID: d.displayID,
		ticker:    time.NewTicker(time.Second / time.Duration(d.fps)),
		closed:    make(chan struct{}),
	}, nil
}

type displayStream struct {
	displayID C.CGDirectDisplayID
	ticker    *time.Ticker
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *displayStream) ReadBuffer() (*capture.PixelBuffer, error) {
	select {
	case <-s.closed:
		return nil, capture.ErrStreamClosed
	case <-s.ticker.C:
	}

	fd := C.captureDisplayBGRA(s.displayID)
	if fd.data == nil {
		return nil, fmt.Errorf("display %d: capture failed", s.displayID)
	}
	defer C.freeFrameData(fd.data)

	byteLen := int(fd.size)
	pix := make([]byte, byteLen)
	copy(pix, unsafe.Slice((*byte)(fd.data), byteLen))

	return capture.NewPixelBuffer(pix, int(fd.width), int(fd.height), int(fd.bytesPerRow), frame.FormatBGRA32), nil
}

func (s *displayStream) Close() error {
	s.closeOnce.Do(func() {
		s.ticker.Stop()
		close(s.closed)
	})
	return nil
}
