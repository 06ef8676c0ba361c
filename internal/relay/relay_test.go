package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junsooki/framerelay/internal/capture"
	"github.com/junsooki/framerelay/internal/frame"
	"github.com/junsooki/framerelay/internal/permissions"
)

// fakeDevice yields the buffers pushed to it by the test.
type fakeDevice struct {
	id      string
	opens   atomic.Int32
	openErr error
	buffers chan *capture.PixelBuffer
}

func newFakeDevice(id string) *fakeDevice {
	return &fakeDevice{id: id, buffers: make(chan *capture.PixelBuffer, 64)}
}

func (d *fakeDevice) ID() string                 { return d.id }
func (d *fakeDevice) Name() string               { return "fake " + d.id }
func (d *fakeDevice) Position() capture.Position { return capture.PositionFront }

func (d *fakeDevice) Open(capture.Preset) (capture.Stream, error) {
	d.opens.Add(1)
	if d.openErr != nil {
		return nil, d.openErr
	}
	return &fakeStream{buffers: d.buffers, closed: make(chan struct{})}, nil
}

func (d *fakeDevice) push(w, h, pad int) {
	bpr := w*4 + pad
	d.buffers <- capture.NewPixelBuffer(make([]byte, h*bpr), w, h, bpr, frame.FormatBGRA32)
}

type fakeStream struct {
	buffers chan *capture.PixelBuffer
	once    sync.Once
	closed  chan struct{}
}

func (s *fakeStream) ReadBuffer() (*capture.PixelBuffer, error) {
	select {
	case <-s.closed:
		return nil, capture.ErrStreamClosed
	case b := <-s.buffers:
		return b, nil
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// heldAuthorizer answers only when the test says so.
type heldAuthorizer struct {
	requested chan func(bool)
}

func (a *heldAuthorizer) Status() permissions.Status { return permissions.StatusNotDetermined }
func (a *heldAuthorizer) RequestAccess(completion func(bool)) {
	a.requested <- completion
}

type recordingSink struct {
	mu     sync.Mutex
	frames []*frame.Frame
	err    error
}

func (s *recordingSink) SendFrame(f *frame.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *recordingSink) last() *frame.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

func newRelay(t *testing.T, auth permissions.Authorizer, devices ...capture.Device) *Relay {
	t.Helper()
	r, err := New(Options{
		Devices:    capture.NewProvider(devices...),
		Authorizer: auth,
		Preset:     capture.PresetLow,
	})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func sample(w, h, bpr int, seq uint64) *capture.SampleBuffer {
	pb := capture.NewPixelBuffer(make([]byte, h*bpr), w, h, bpr, frame.FormatBGRA32)
	return capture.NewSampleBuffer(pb, seq, time.Now())
}

func TestRelay_PermissionDenied(t *testing.T) {
	dev := newFakeDevice("denied")
	r := newRelay(t, permissions.NewStatic(false), dev)

	err := r.Start(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, CodePermissionDenied, CodeOf(err))
	assert.Equal(t, StateIdle, r.State())
	assert.Zero(t, dev.opens.Load())
}

func TestRelay_NoCamera(t *testing.T) {
	r := newRelay(t, permissions.NewStatic(true))

	err := r.Start(context.Background())
	assert.ErrorIs(t, err, ErrNoCamera)
	assert.Equal(t, StateIdle, r.State())
}

func TestRelay_InputRejectedWhenDeviceBusy(t *testing.T) {
	dev := newFakeDevice("busy")
	other := capture.NewSession()
	in, err := capture.NewDeviceInput(dev)
	require.NoError(t, err)
	require.NoError(t, other.AddInput(in))
	defer other.Close()

	r := newRelay(t, permissions.NewStatic(true), dev)
	err = r.Start(context.Background())
	assert.ErrorIs(t, err, ErrCannotAddInput)
	assert.Equal(t, StateIdle, r.State())
}

func TestRelay_GenericErrorPassesMessageThrough(t *testing.T) {
	dev := newFakeDevice("broken")
	dev.openErr = errors.New("device is on fire")
	r := newRelay(t, permissions.NewStatic(true), dev)

	err := r.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, CodeError, CodeOf(err))
	assert.Contains(t, err.Error(), "device is on fire")
	assert.Equal(t, StateIdle, r.State())

	// The device claim was released, so a retry reaches the device again.
	dev.openErr = nil
	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, int32(2), dev.opens.Load())
}

func TestRelay_StartTwiceKeepsOneSession(t *testing.T) {
	dev := newFakeDevice("twice")
	r := newRelay(t, permissions.NewStatic(true), dev)

	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, int32(1), dev.opens.Load())
	assert.Equal(t, StateRunning, r.State())
}

func TestRelay_StopIsIdempotent(t *testing.T) {
	dev := newFakeDevice("stop")
	r := newRelay(t, permissions.NewStatic(true), dev)

	r.Stop()
	r.Stop()
	assert.Equal(t, StateIdle, r.State())

	require.NoError(t, r.Start(context.Background()))
	r.Stop()
	r.Stop()
	assert.Equal(t, StateIdle, r.State())
}

func TestRelay_ForwardsFullStride(t *testing.T) {
	dev := newFakeDevice("stride")
	r := newRelay(t, permissions.NewStatic(true), dev)
	sink := &recordingSink{}
	r.Subscribe(sink)

	require.NoError(t, r.Start(context.Background()))
	dev.push(10, 4, 24)

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	f := sink.last()
	assert.Equal(t, 10, f.Width)
	assert.Equal(t, 4, f.Height)
	assert.Equal(t, 64, f.BytesPerRow)
	assert.NotEqual(t, f.Width*4, f.BytesPerRow)
	assert.Len(t, f.Data, f.Height*f.BytesPerRow)
	assert.NoError(t, f.Validate())
}

func TestRelay_NoFramesAfterStop(t *testing.T) {
	dev := newFakeDevice("after-stop")
	r := newRelay(t, permissions.NewStatic(true), dev)
	sink := &recordingSink{}
	r.Subscribe(sink)

	require.NoError(t, r.Start(context.Background()))
	var gen uint64
	r.main.Sync(func() { gen = r.generation })

	dev.push(8, 8, 0)
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)

	r.Stop()

	// The capture framework keeps calling the old delegate.
	d := &delegate{relay: r, generation: gen}
	for i := 0; i < 5; i++ {
		d.CaptureOutput(sample(8, 8, 32, uint64(i)))
	}
	r.main.Sync(func() {})

	assert.Equal(t, 1, sink.count())
	assert.Greater(t, r.Stats().Stale+r.Stats().Replaced, uint64(0))
}

func TestRelay_StopClearsListener(t *testing.T) {
	dev := newFakeDevice("clear")
	r := newRelay(t, permissions.NewStatic(true), dev)
	sink := &recordingSink{}
	r.Subscribe(sink)

	require.NoError(t, r.Start(context.Background()))
	r.Stop()
	require.NoError(t, r.Start(context.Background()))

	dev.push(8, 8, 0)
	require.Eventually(t, func() bool { return r.Stats().NoListener == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, sink.count())
}

func TestRelay_LateSubscriberGetsNoReplay(t *testing.T) {
	dev := newFakeDevice("late")
	r := newRelay(t, permissions.NewStatic(true), dev)
	require.NoError(t, r.Start(context.Background()))

	var gen uint64
	r.main.Sync(func() { gen = r.generation })
	d := &delegate{relay: r, generation: gen}

	// Hold delivery so the frame sits in the mailbox across Subscribe.
	r.scheduled.Store(true)
	d.CaptureOutput(sample(4, 4, 16, 1))

	sink := &recordingSink{}
	r.Subscribe(sink)
	r.main.Sync(r.deliver)
	assert.Zero(t, sink.count())

	d.CaptureOutput(sample(4, 4, 16, 2))
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(2), sink.last().Sequence)
}

func TestRelay_ThrottleKeepsLatestFrame(t *testing.T) {
	dev := newFakeDevice("throttle")
	r, err := New(Options{
		Devices:          capture.NewProvider(dev),
		Authorizer:       permissions.NewStatic(true),
		MinFrameInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer r.Close()

	var mu sync.Mutex
	clock := time.Unix(1000, 0)
	r.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}

	sink := &recordingSink{}
	r.Subscribe(sink)
	require.NoError(t, r.Start(context.Background()))
	var gen uint64
	r.main.Sync(func() { gen = r.generation })
	d := &delegate{relay: r, generation: gen}

	d.CaptureOutput(sample(4, 4, 16, 1))
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, time.Millisecond)

	d.CaptureOutput(sample(4, 4, 16, 2))
	d.CaptureOutput(sample(4, 4, 16, 3))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, sink.count(), "frames inside the interval are held back")

	mu.Lock()
	clock = clock.Add(time.Second)
	mu.Unlock()

	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, uint64(3), sink.last().Sequence)
}

func TestRelay_PermissionGrantedAfterStop(t *testing.T) {
	dev := newFakeDevice("late-grant")
	auth := &heldAuthorizer{requested: make(chan func(bool), 1)}
	r := newRelay(t, auth, dev)

	result := make(chan error, 1)
	go func() { result <- r.Start(context.Background()) }()

	completion := <-auth.requested
	assert.Equal(t, StateStarting, r.State())

	assert.ErrorIs(t, r.Start(context.Background()), ErrBusy)

	r.Stop()
	completion(true)

	assert.ErrorIs(t, <-result, ErrCancelled)
	assert.Equal(t, StateIdle, r.State())
	assert.Zero(t, dev.opens.Load())
}

func TestRelay_ContextCancelledWhileAwaitingPermission(t *testing.T) {
	dev := newFakeDevice("ctx")
	auth := &heldAuthorizer{requested: make(chan func(bool), 1)}
	r := newRelay(t, auth, dev)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- r.Start(ctx) }()

	completion := <-auth.requested
	cancel()
	err := <-result
	assert.Equal(t, CodeError, CodeOf(err))
	assert.Equal(t, StateIdle, r.State())

	// A late answer must not start anything.
	completion(true)
	assert.Equal(t, StateIdle, r.State())
	assert.Zero(t, dev.opens.Load())
}

func TestRelay_UnsubscribeOnlyRemovesOwnSink(t *testing.T) {
	r := newRelay(t, permissions.NewStatic(true))
	a, b := &recordingSink{}, &recordingSink{}

	r.Subscribe(a)
	r.Subscribe(b)
	r.Unsubscribe(a)
	r.main.Sync(func() { assert.Equal(t, Sink(b), r.sink) })

	r.Unsubscribe(nil)
	r.main.Sync(func() { assert.Nil(t, r.sink) })
}

type queueingSink struct {
	recordingSink
	discards atomic.Int32
}

func (s *queueingSink) DiscardPending() { s.discards.Add(1) }

func TestRelay_QueuedFramesDiscardedWhenListenerCleared(t *testing.T) {
	r := newRelay(t, permissions.NewStatic(true), newFakeDevice("queue"))
	a, b := &queueingSink{}, &queueingSink{}

	r.Subscribe(a)
	r.Subscribe(a)
	assert.Zero(t, a.discards.Load(), "same sink again keeps its queue")

	r.Subscribe(b)
	assert.Equal(t, int32(1), a.discards.Load())

	require.NoError(t, r.Start(context.Background()))
	r.Stop()
	assert.Equal(t, int32(1), b.discards.Load())

	r.Subscribe(a)
	r.Unsubscribe(a)
	assert.Equal(t, int32(2), a.discards.Load())
}

func TestRelay_SendFailureIsCounted(t *testing.T) {
	dev := newFakeDevice("send-fail")
	r := newRelay(t, permissions.NewStatic(true), dev)
	r.Subscribe(&recordingSink{err: errors.New("broken pipe")})
	require.NoError(t, r.Start(context.Background()))

	dev.push(4, 4, 0)
	require.Eventually(t, func() bool { return r.Stats().SendFailed == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateRunning, r.State())
}

func TestRelay_StopMidStream(t *testing.T) {
	cam, err := capture.NewSynthetic("synthetic-mid", capture.PositionFront, 100)
	require.NoError(t, err)
	r := newRelay(t, permissions.NewStatic(true), cam)
	sink := &recordingSink{}
	r.Subscribe(sink)

	require.NoError(t, r.Start(context.Background()))
	require.Eventually(t, func() bool { return sink.count() >= 10 }, 3*time.Second, 5*time.Millisecond)

	r.Stop()
	atStop := sink.count()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, atStop, sink.count())
}

func TestRelay_ClosedRejectsStart(t *testing.T) {
	r, err := New(Options{
		Devices:    capture.NewProvider(),
		Authorizer: permissions.NewStatic(true),
	})
	require.NoError(t, err)
	r.Close()
	assert.ErrorIs(t, r.Start(context.Background()), ErrClosed)
	r.Stop()
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{Authorizer: permissions.NewStatic(true)})
	assert.Error(t, err)
	_, err = New(Options{Devices: capture.NewProvider()})
	assert.Error(t, err)
}
