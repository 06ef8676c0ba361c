package frontcamera

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junsooki/framerelay/internal/capture"
	"github.com/junsooki/framerelay/internal/channel"
	"github.com/junsooki/framerelay/internal/frame"
	"github.com/junsooki/framerelay/internal/peer"
	"github.com/junsooki/framerelay/internal/permissions"
	"github.com/junsooki/framerelay/internal/relay"
)

type frameLog struct {
	mu     sync.Mutex
	frames []*frame.Frame
}

func (l *frameLog) add(f *frame.Frame) {
	l.mu.Lock()
	l.frames = append(l.frames, f)
	l.mu.Unlock()
}

func (l *frameLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.frames)
}

func (l *frameLog) last() *frame.Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frames[len(l.frames)-1]
}

func setup(t *testing.T, devices ...capture.Device) (*relay.Relay, *Client) {
	t.Helper()
	return setupWithAuth(t, permissions.NewStatic(true), devices...)
}

func setupWithAuth(t *testing.T, auth permissions.Authorizer, devices ...capture.Device) (*relay.Relay, *Client) {
	t.Helper()
	r, err := relay.New(relay.Options{
		Devices:    capture.NewProvider(devices...),
		Authorizer: auth,
		Preset:     capture.PresetLow,
	})
	require.NoError(t, err)
	t.Cleanup(r.Close)

	srv := channel.NewServer()
	b := NewBridge(r, []string{})
	b.Register(srv)
	t.Cleanup(b.Close)

	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)
	t.Cleanup(srv.Close)

	ch := channel.NewClient("ws"+strings.TrimPrefix(hs.URL, "http"), channel.Handler{})
	require.NoError(t, ch.Connect(context.Background()))
	t.Cleanup(ch.Close)
	return r, NewClient(ch)
}

func synthetic(t *testing.T) capture.Device {
	t.Helper()
	cam, err := capture.NewSynthetic("front-0", capture.PositionFront, 60)
	require.NoError(t, err)
	return cam
}

func TestStartStreamStop(t *testing.T) {
	r, c := setup(t, synthetic(t))
	ctx := context.Background()

	var got frameLog
	require.NoError(t, c.Listen(ctx, got.add))
	require.NoError(t, c.StartCapture(ctx))
	assert.Equal(t, relay.StateRunning, r.State())

	require.Eventually(t, func() bool { return got.count() >= 3 }, 5*time.Second, 10*time.Millisecond)

	f := got.last()
	assert.Equal(t, 352, f.Width)
	assert.Equal(t, 288, f.Height)
	assert.Equal(t, frame.FormatBGRA32, f.Format)
	assert.GreaterOrEqual(t, f.BytesPerRow, 352*4)

	require.NoError(t, c.StopCapture(ctx))
	assert.Equal(t, relay.StateIdle, r.State())

	// Frames already on the wire may still land; after that nothing.
	time.Sleep(100 * time.Millisecond)
	n := got.count()
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, n, got.count())
}

func TestStartErrorsCarryCodes(t *testing.T) {
	ctx := context.Background()

	_, c := setup(t)
	err := c.StartCapture(ctx)
	var me *channel.MethodError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "NO_CAMERA", me.Code)
	assert.Equal(t, "Front camera not found", me.Message)

	_, c = setupWithAuth(t, permissions.NewStatic(false), synthetic(t))
	err = c.StartCapture(ctx)
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "PERMISSION_DENIED", me.Code)
	assert.Equal(t, "Camera permission denied", me.Message)
}

func TestStopWhenIdle(t *testing.T) {
	_, c := setup(t)
	assert.NoError(t, c.StopCapture(context.Background()))
	assert.NoError(t, c.StopCapture(context.Background()))
}

func TestUnknownMethod(t *testing.T) {
	_, c := setup(t)
	_, err := c.ch.InvokeMethod(context.Background(), MethodChannel, "takePicture", nil)
	var me *channel.MethodError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, channel.CodeNotImplemented, me.Code)
}

func TestCancelStopsDelivery(t *testing.T) {
	r, c := setup(t, synthetic(t))
	ctx := context.Background()

	var got frameLog
	require.NoError(t, c.Listen(ctx, got.add))
	require.NoError(t, c.StartCapture(ctx))
	require.Eventually(t, func() bool { return got.count() > 0 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Cancel(ctx))
	time.Sleep(100 * time.Millisecond)
	n := got.count()
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, n, got.count())

	// Capture keeps running without a listener.
	assert.Equal(t, relay.StateRunning, r.State())
	assert.Greater(t, r.Stats().NoListener, uint64(0))
}

func TestNegotiateRejectsGarbage(t *testing.T) {
	_, c := setup(t)
	_, err := c.ch.InvokeMethod(context.Background(), MethodChannel, MethodNegotiate, "not an offer")
	var me *channel.MethodError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "ERROR", me.Code)
}

func TestNegotiateMovesFramesToDataChannel(t *testing.T) {
	if testing.Short() {
		t.Skip("opens local ICE connections")
	}
	_, c := setup(t, synthetic(t))
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	viewer, err := peer.NewController([]string{})
	require.NoError(t, err)
	defer viewer.Close()

	var got frameLog
	viewer.Transport().OnFrame(got.add)

	offer, err := viewer.Offer(ctx)
	require.NoError(t, err)
	answer, err := c.Negotiate(ctx, offer)
	require.NoError(t, err)
	require.NoError(t, viewer.HandleAnswer(answer))

	require.NoError(t, c.StartCapture(ctx))
	require.Eventually(t, func() bool { return got.count() > 0 }, 10*time.Second, 20*time.Millisecond)
	assert.Equal(t, 352, got.last().Width)
	require.NoError(t, c.StopCapture(ctx))
}
