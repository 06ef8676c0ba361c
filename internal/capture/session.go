package capture

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/junsooki/framerelay/internal/frame"
	"github.com/junsooki/framerelay/internal/log"
)

// Devices can be attached to only one session at a time.
var (
	claimsMu sync.Mutex
	claims   = map[string]*Session{}
)

func claim(dev Device, s *Session) bool {
	claimsMu.Lock()
	defer claimsMu.Unlock()
	if owner, ok := claims[dev.ID()]; ok && owner != s {
		return false
	}
	claims[dev.ID()] = s
	return true
}

func release(dev Device, s *Session) {
	claimsMu.Lock()
	defer claimsMu.Unlock()
	if claims[dev.ID()] == s {
		delete(claims, dev.ID())
	}
}

func claimedByOther(dev Device, s *Session) bool {
	claimsMu.Lock()
	defer claimsMu.Unlock()
	owner, ok := claims[dev.ID()]
	return ok && owner != s
}

var (
	ErrCannotAddInput  = errors.New("capture: cannot add input")
	ErrCannotAddOutput = errors.New("capture: cannot add output")
	ErrNoInput         = errors.New("capture: session has no input")
	ErrAlreadyRunning  = errors.New("capture: session already running")
)

// Session coordinates one device input and one video data output.
type Session struct {
	mu      sync.Mutex
	preset  Preset
	input   *DeviceInput
	output  *VideoDataOutput
	stream  Stream
	running bool
	stopCh  chan struct{}
	done    chan struct{}

	log *logrus.Entry
}

// NewSession creates an idle session at the medium preset.
func NewSession() *Session {
	return &Session{
		preset: PresetMedium,
		log:    log.For("capture"),
	}
}

// SetPreset changes the resolution used the next time the session starts.
func (s *Session) SetPreset(p Preset) {
	s.mu.Lock()
	s.preset = p
	s.mu.Unlock()
}

// Preset returns the configured preset.
func (s *Session) Preset() Preset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preset
}

// CanAddInput reports whether in can be attached: the session has no
// input yet and the device is not held by another session.
func (s *Session) CanAddInput(in *DeviceInput) bool {
	if in == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input == nil && !claimedByOther(in.device, s)
}

// AddInput attaches in and claims its device.
func (s *Session) AddInput(in *DeviceInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in == nil || s.input != nil || !claim(in.device, s) {
		return ErrCannotAddInput
	}
	s.input = in
	return nil
}

// CanAddOutput reports whether out can be attached.
func (s *Session) CanAddOutput(out *VideoDataOutput) bool {
	if out == nil || out.PixelFormat() != frame.FormatBGRA32 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output == nil
}

// AddOutput attaches out.
func (s *Session) AddOutput(out *VideoDataOutput) error {
	if !s.CanAddOutput(out) {
		return ErrCannotAddOutput
	}
	s.mu.Lock()
	s.output = out
	s.mu.Unlock()
	return nil
}

// IsRunning reports whether frames are flowing.
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// StartRunning opens the input device and starts delivering frames to the
// output. It returns once the device stream is open.
func (s *Session) StartRunning() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	if s.input == nil {
		return ErrNoInput
	}

	stream, err := s.input.device.Open(s.preset)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.input.device.Name(), err)
	}

	s.stream = stream
	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(stream, s.output, s.stopCh, s.done)

	s.log.WithFields(logrus.Fields{
		"device": s.input.device.Name(),
		"preset": s.preset,
	}).Info("capture session running")
	return nil
}

// StopRunning halts frame delivery and closes the device stream. It waits
// for the capture goroutine to exit. Calling it on a stopped session is a
// no-op.
func (s *Session) StopRunning() {
	if err := s.stop(); err != nil {
		s.log.WithError(err).Warn("close capture stream")
	}
}

func (s *Session) stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	stream, stopCh, done := s.stream, s.stopCh, s.done
	s.stream = nil
	s.mu.Unlock()

	close(stopCh)
	err := stream.Close()
	<-done
	s.log.Info("capture session stopped")
	return err
}

// Close stops the session and detaches its input and output, releasing
// the device for other sessions.
func (s *Session) Close() error {
	var result *multierror.Error
	if err := s.stop(); err != nil {
		result = multierror.Append(result, fmt.Errorf("stop: %w", err))
	}

	s.mu.Lock()
	if s.input != nil {
		release(s.input.device, s)
		s.input = nil
	}
	if s.output != nil {
		s.output.SetSampleBufferDelegate(nil, nil)
		s.output = nil
	}
	s.mu.Unlock()
	return result.ErrorOrNil()
}

func (s *Session) loop(stream Stream, out *VideoDataOutput, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	var seq uint64
	for {
		buf, err := stream.ReadBuffer()
		select {
		case <-stopCh:
			return
		default:
		}
		if errors.Is(err, ErrStreamClosed) {
			return
		}
		if err != nil {
			s.log.WithError(err).Debug("read frame")
			time.Sleep(10 * time.Millisecond)
			continue
		}
		seq++
		if out != nil {
			out.deliver(NewSampleBuffer(buf, seq, time.Now()))
		}
	}
}
