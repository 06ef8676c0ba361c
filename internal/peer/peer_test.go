package peer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junsooki/framerelay/internal/frame"
	"github.com/junsooki/framerelay/internal/transport"
)

func TestLoopbackFrames(t *testing.T) {
	if testing.Short() {
		t.Skip("opens local ICE connections")
	}
	// Host candidates only, no STUN round trip.
	noSTUN := []string{}

	host, err := NewHost(noSTUN)
	require.NoError(t, err)
	defer host.Close()
	viewer, err := NewController(noSTUN)
	require.NoError(t, err)
	defer viewer.Close()

	ready := make(chan *transport.DataChannelTransport, 1)
	host.OnReady(func(tr *transport.DataChannelTransport) { ready <- tr })

	got := make(chan *frame.Frame, 1)
	viewer.Transport().OnFrame(func(f *frame.Frame) {
		select {
		case got <- f:
		default:
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	offer, err := viewer.Offer(ctx)
	require.NoError(t, err)
	answer, err := host.Answer(ctx, offer)
	require.NoError(t, err)
	require.NoError(t, viewer.HandleAnswer(answer))

	var tr *transport.DataChannelTransport
	select {
	case tr = <-ready:
	case <-ctx.Done():
		t.Fatal("frames channel never opened")
	}

	f := &frame.Frame{
		Data:        make([]byte, 64*(32*4)),
		Width:       32,
		Height:      64,
		BytesPerRow: 32 * 4,
		Format:      frame.FormatBGRA32,
		Sequence:    3,
	}
	require.NoError(t, tr.SendFrame(f))

	select {
	case r := <-got:
		assert.Equal(t, 32, r.Width)
		assert.Equal(t, 64, r.Height)
		assert.Equal(t, uint64(3), r.Sequence)
	case <-ctx.Done():
		t.Fatal("frame not received")
	}
}

func TestHostCloseFiresOnce(t *testing.T) {
	host, err := NewHost([]string{})
	require.NoError(t, err)

	calls := 0
	host.OnClosed(func() { calls++ })
	_ = host.Close()
	_ = host.Close()
	assert.Equal(t, 1, calls)
}
