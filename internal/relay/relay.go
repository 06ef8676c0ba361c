// Package relay streams frames from the front camera to a single listener.
//
// All relay state lives on a serial "main" queue. Start and Stop block the
// calling goroutine until their work on that queue is done. Captured frames
// arrive on a per-session capture queue, are copied into a single-slot
// mailbox and handed to the listener from the main queue. A frame never
// outlives the session that produced it.
package relay

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/junsooki/framerelay/internal/capture"
	"github.com/junsooki/framerelay/internal/dispatch"
	"github.com/junsooki/framerelay/internal/frame"
	"github.com/junsooki/framerelay/internal/log"
	"github.com/junsooki/framerelay/internal/permissions"
)

// Sink receives frames. Implementations must be comparable (pointer
// types) so Unsubscribe can tell them apart. SendFrame runs on the relay's
// main queue and must not call back into the relay.
type Sink interface {
	SendFrame(f *frame.Frame) error
}

// QueueingSink is a Sink that queues frames and writes them later. The
// relay calls DiscardPending when the sink stops being the listener so no
// queued frame goes out after Stop or Unsubscribe returns.
type QueueingSink interface {
	Sink
	DiscardPending()
}

// DeviceProvider resolves a camera by position.
type DeviceProvider interface {
	Default(pos capture.Position) capture.Device
}

// Options configures a Relay.
type Options struct {
	Devices    DeviceProvider
	Authorizer permissions.Authorizer
	// Preset defaults to capture.PresetMedium.
	Preset capture.Preset
	// MinFrameInterval is the shortest gap between two frames handed to the
	// listener. Zero forwards every frame.
	MinFrameInterval time.Duration
}

// Stats counts what happened to captured frames.
type Stats struct {
	Captured   uint64
	Delivered  uint64
	Replaced   uint64
	Throttled  uint64
	Stale      uint64
	NoListener uint64
	Unreadable uint64
	SendFailed uint64
}

type counters struct {
	captured   atomic.Uint64
	delivered  atomic.Uint64
	replaced   atomic.Uint64
	throttled  atomic.Uint64
	stale      atomic.Uint64
	noListener atomic.Uint64
	unreadable atomic.Uint64
	sendFailed atomic.Uint64
}

// Relay owns at most one capture session and at most one listener.
type Relay struct {
	devices     DeviceProvider
	auth        permissions.Authorizer
	preset      capture.Preset
	minInterval time.Duration

	main *dispatch.Queue
	log  *logrus.Entry
	now  func() time.Time

	// Owned by main.
	state           State
	generation      uint64
	session         *capture.Session
	captureQueue    *dispatch.Queue
	sink            Sink
	subscribedAfter uint64
	lastSent        time.Time
	timerArmed      bool

	// Shared with capture queues.
	order     atomic.Uint64
	box       mailbox
	scheduled atomic.Bool
	stats     counters
}

// New creates an idle relay.
func New(opts Options) (*Relay, error) {
	if opts.Devices == nil {
		return nil, errors.New("relay: no device provider")
	}
	if opts.Authorizer == nil {
		return nil, errors.New("relay: no authorizer")
	}
	if opts.Preset == "" {
		opts.Preset = capture.PresetMedium
	}
	if opts.MinFrameInterval < 0 {
		opts.MinFrameInterval = 0
	}
	return &Relay{
		devices:     opts.Devices,
		auth:        opts.Authorizer,
		preset:      opts.Preset,
		minInterval: opts.MinFrameInterval,
		main:        dispatch.NewQueue("main"),
		log:         log.For("relay"),
		now:         time.Now,
	}, nil
}

// Start asks for camera permission, opens the front camera and begins
// capturing. It returns nil once the session is running, or an *Error.
// Starting a running relay is a no-op; starting while a start or stop is
// in progress fails with ErrBusy. If Stop is called while permission is
// still pending, Start fails with ErrCancelled and no session is created.
func (r *Relay) Start(ctx context.Context) error {
	var (
		gen     uint64
		running bool
		err     error
	)
	if !r.main.Sync(func() {
		switch r.state {
		case StateRunning:
			running = true
		case StateIdle:
			r.generation++
			gen = r.generation
			r.state = StateStarting
		default:
			err = ErrBusy
		}
	}) {
		return ErrClosed
	}
	if running {
		r.log.Debug("start ignored: already running")
		return nil
	}
	if err != nil {
		return err
	}

	granted := make(chan bool, 1)
	r.auth.RequestAccess(func(ok bool) { granted <- ok })

	select {
	case ok := <-granted:
		if !ok {
			r.abandon(gen)
			r.log.Warn("camera permission denied")
			return ErrPermissionDenied
		}
	case <-ctx.Done():
		r.abandon(gen)
		return generic(ctx.Err())
	}

	if !r.main.Sync(func() { err = r.configure(gen) }) {
		return ErrClosed
	}
	return err
}

// Stop halts the session, releases the camera and clears the listener.
// It never fails and is a no-op when nothing is running.
func (r *Relay) Stop() {
	r.main.Sync(r.stop)
}

// Subscribe makes sink the listener, replacing any previous one. Only
// frames captured after this call are delivered to it.
func (r *Relay) Subscribe(sink Sink) {
	r.main.Sync(func() {
		r.setSink(sink)
		r.subscribedAfter = r.order.Load()
	})
}

// Unsubscribe clears the listener if it is sink. A nil sink clears any
// listener.
func (r *Relay) Unsubscribe(sink Sink) {
	r.main.Sync(func() {
		if sink == nil || r.sink == sink {
			r.setSink(nil)
		}
	})
}

// State returns the session state.
func (r *Relay) State() State {
	st := StateIdle
	r.main.Sync(func() { st = r.state })
	return st
}

// Stats returns a snapshot of the frame counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Captured:   r.stats.captured.Load(),
		Delivered:  r.stats.delivered.Load(),
		Replaced:   r.stats.replaced.Load(),
		Throttled:  r.stats.throttled.Load(),
		Stale:      r.stats.stale.Load(),
		NoListener: r.stats.noListener.Load(),
		Unreadable: r.stats.unreadable.Load(),
		SendFailed: r.stats.sendFailed.Load(),
	}
}

// Close stops capture and shuts the relay down. Later calls to Start fail
// with ErrClosed.
func (r *Relay) Close() {
	r.Stop()
	r.main.Close()
}

func (r *Relay) abandon(gen uint64) {
	r.main.Sync(func() {
		if r.generation == gen && r.state == StateStarting {
			r.state = StateIdle
		}
	})
}

// configure builds and starts the session. Runs on main.
func (r *Relay) configure(gen uint64) error {
	if r.generation != gen || r.state != StateStarting {
		r.log.Info("permission granted after stop; not starting")
		return ErrCancelled
	}

	dev := r.devices.Default(capture.PositionFront)
	if dev == nil {
		return r.fail(nil, nil, ErrNoCamera)
	}

	session := capture.NewSession()
	session.SetPreset(r.preset)

	input, err := capture.NewDeviceInput(dev)
	if err != nil {
		return r.fail(session, nil, generic(err))
	}
	if !session.CanAddInput(input) || session.AddInput(input) != nil {
		return r.fail(session, nil, ErrCannotAddInput)
	}

	queue := dispatch.NewQueue("frontCameraQueue")
	output := capture.NewVideoDataOutput(frame.FormatBGRA32)
	output.SetSampleBufferDelegate(&delegate{relay: r, generation: gen}, queue)
	if !session.CanAddOutput(output) || session.AddOutput(output) != nil {
		return r.fail(session, queue, ErrCannotAddOutput)
	}

	if err := session.StartRunning(); err != nil {
		return r.fail(session, queue, generic(err))
	}

	r.session = session
	r.captureQueue = queue
	r.state = StateRunning
	r.log.WithFields(logrus.Fields{
		"device": dev.Name(),
		"preset": r.preset,
	}).Info("front camera capture started")
	return nil
}

func (r *Relay) fail(session *capture.Session, queue *dispatch.Queue, e *Error) error {
	r.state = StateIdle
	if err := teardown(session, queue); err != nil {
		r.log.WithError(err).Warn("release partial session")
	}
	r.log.WithField("code", e.Code).Warn(e.Message)
	return e
}

// stop runs on main.
func (r *Relay) stop() {
	switch r.state {
	case StateStarting:
		r.generation++
		r.state = StateIdle
		r.log.Info("capture start cancelled")
	case StateRunning:
		r.state = StateStopping
		r.generation++
		session, queue := r.session, r.captureQueue
		r.session, r.captureQueue = nil, nil
		if err := teardown(session, queue); err != nil {
			r.log.WithError(err).Warn("stop capture session")
		}
		r.box.clear()
		r.state = StateIdle

		st := r.Stats()
		r.log.WithFields(logrus.Fields{
			"captured":  st.Captured,
			"delivered": st.Delivered,
			"replaced":  st.Replaced,
			"throttled": st.Throttled,
		}).Info("front camera capture stopped")
	}
	r.setSink(nil)
}

// setSink replaces the listener. Runs on main.
func (r *Relay) setSink(sink Sink) {
	if old, ok := r.sink.(QueueingSink); ok && r.sink != sink {
		old.DiscardPending()
	}
	r.sink = sink
}

func teardown(session *capture.Session, queue *dispatch.Queue) error {
	var result *multierror.Error
	if session != nil {
		if err := session.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if queue != nil {
		queue.Close()
	}
	return result.ErrorOrNil()
}

func (r *Relay) scheduleDelivery() {
	if r.scheduled.CompareAndSwap(false, true) {
		if !r.main.Async(r.deliver) {
			r.scheduled.Store(false)
		}
	}
}

// deliver hands the mailbox frame to the listener. Runs on main.
func (r *Relay) deliver() {
	r.scheduled.Store(false)

	e := r.box.take()
	if e == nil {
		return
	}
	if e.generation != r.generation || r.state != StateRunning {
		r.stats.stale.Add(1)
		return
	}
	if r.sink == nil {
		r.stats.noListener.Add(1)
		return
	}
	if e.order <= r.subscribedAfter {
		r.stats.stale.Add(1)
		return
	}

	if r.minInterval > 0 && !r.lastSent.IsZero() {
		if wait := r.minInterval - r.now().Sub(r.lastSent); wait > 0 {
			if !r.box.restore(e) {
				r.stats.throttled.Add(1)
			}
			r.armTimer(wait)
			return
		}
	}

	if err := r.sink.SendFrame(e.frame); err != nil {
		r.stats.sendFailed.Add(1)
		r.log.WithError(err).Debug("send frame")
		return
	}
	r.lastSent = r.now()
	r.stats.delivered.Add(1)
}

// armTimer retries delivery once the throttle window has passed. Runs on
// main.
func (r *Relay) armTimer(wait time.Duration) {
	if r.timerArmed {
		return
	}
	r.timerArmed = true
	time.AfterFunc(wait, func() {
		r.main.Async(func() { r.timerArmed = false })
		r.scheduleDelivery()
	})
}

// delegate receives frames for one session generation.
type delegate struct {
	relay      *Relay
	generation uint64
}

// CaptureOutput runs on the session's capture queue.
func (d *delegate) CaptureOutput(sample *capture.SampleBuffer) {
	r := d.relay
	r.stats.captured.Add(1)

	pb := sample.ImageBuffer()
	if pb == nil {
		r.stats.unreadable.Add(1)
		return
	}

	pb.LockBaseAddress()
	defer pb.UnlockBaseAddress()

	n := pb.Height() * pb.BytesPerRow()
	base := pb.BaseAddress()
	if base == nil || n <= 0 || len(base) < n {
		r.stats.unreadable.Add(1)
		return
	}
	data := make([]byte, n)
	copy(data, base[:n])

	e := &envelope{
		generation: d.generation,
		order:      r.order.Add(1),
		frame: &frame.Frame{
			Data:        data,
			Width:       pb.Width(),
			Height:      pb.Height(),
			BytesPerRow: pb.BytesPerRow(),
			Format:      pb.PixelFormat(),
			Sequence:    sample.Sequence,
			Timestamp:   sample.Timestamp,
		},
	}
	if r.box.put(e) {
		r.stats.replaced.Add(1)
	}
	r.scheduleDelivery()
}
