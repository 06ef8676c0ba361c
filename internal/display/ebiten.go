package display

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
)

// errQuit ends the game loop when the user presses Escape.
var errQuit = errors.New("quit")

// EbitenDisplay renders the relayed camera using Ebitengine.
type EbitenDisplay struct {
	mu          sync.Mutex
	frame       *image.RGBA
	seq         uint64
	frames      int
	ebitenImage *ebiten.Image

	controls Controls
	title    string
	mirrored bool
	hud      bool
	closed   chan struct{}
}

// NewEbitenDisplay creates an Ebitengine-based display.
func NewEbitenDisplay(title string, controls Controls) *EbitenDisplay {
	return &EbitenDisplay{
		controls: controls,
		title:    title,
		mirrored: true,
		hud:      true,
		closed:   make(chan struct{}),
	}
}

// SetFrame updates the displayed frame (called from network goroutine).
// img is copied because decoders reuse their buffers.
func (d *EbitenDisplay) SetFrame(img *image.RGBA, seq uint64) {
	if img == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.frame == nil || d.frame.Rect != img.Rect {
		d.frame = image.NewRGBA(img.Rect)
	}
	copy(d.frame.Pix, img.Pix)
	if d.mirrored {
		mirror(d.frame)
	}
	d.seq = seq
	d.frames++
}

// Close makes Run return.
func (d *EbitenDisplay) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	select {
	case <-d.closed:
	default:
		close(d.closed)
	}
}

// Run starts the Ebitengine game loop. Must be called from the main goroutine.
func (d *EbitenDisplay) Run() error {
	ebiten.SetWindowSize(960, 720)
	ebiten.SetWindowTitle(d.title)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	err := ebiten.RunGame(d)
	if errors.Is(err, errQuit) {
		return nil
	}
	return err
}

// --- ebiten.Game interface ---

func (d *EbitenDisplay) Update() error {
	select {
	case <-d.closed:
		return errQuit
	default:
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		return errQuit
	}
	if inpututil.IsKeyJustPressed(ebiten.KeySpace) && d.controls.OnToggle != nil {
		go d.controls.OnToggle()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyS) && d.controls.OnSnapshot != nil {
		go d.controls.OnSnapshot()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyM) {
		d.mu.Lock()
		d.mirrored = !d.mirrored
		d.mu.Unlock()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyH) {
		d.hud = !d.hud
	}
	return nil
}

func (d *EbitenDisplay) Draw(screen *ebiten.Image) {
	d.mu.Lock()
	frame := d.frame
	seq, frames := d.seq, d.frames
	if frame != nil {
		if d.ebitenImage == nil || d.ebitenImage.Bounds() != frame.Bounds() {
			d.ebitenImage = ebiten.NewImage(frame.Bounds().Dx(), frame.Bounds().Dy())
		}
		d.ebitenImage.WritePixels(frame.Pix)
	}
	d.mu.Unlock()

	if frame == nil {
		ebitenutil.DebugPrint(screen, "waiting for frames (space: start/stop)")
		return
	}

	sw, sh := screen.Bounds().Dx(), screen.Bounds().Dy()
	fw, fh := float64(frame.Bounds().Dx()), float64(frame.Bounds().Dy())
	scale, offsetX, offsetY := aspectFitTransform(float64(sw), float64(sh), fw, fh)

	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(scale, scale)
	op.GeoM.Translate(offsetX, offsetY)
	screen.DrawImage(d.ebitenImage, op)

	if d.hud {
		ebitenutil.DebugPrint(screen, fmt.Sprintf("%dx%d  seq %d  frames %d  fps %.1f",
			frame.Bounds().Dx(), frame.Bounds().Dy(), seq, frames, ebiten.ActualFPS()))
	}
}

func (d *EbitenDisplay) Layout(outsideWidth, outsideHeight int) (int, int) {
	return outsideWidth, outsideHeight
}
