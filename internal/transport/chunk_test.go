package transport

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junsooki/framerelay/internal/frame"
)

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

func TestSplit_Sizes(t *testing.T) {
	chunks, err := split(1, payload(25), 10)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], chunkHeaderSize+10)
	assert.Len(t, chunks[2], chunkHeaderSize+5)

	chunks, err = split(1, nil, 10)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)

	_, err = split(1, payload(10), 0)
	assert.Error(t, err)
}

func TestReassembler_OutOfOrder(t *testing.T) {
	msg := payload(100)
	chunks, err := split(5, msg, 16)
	require.NoError(t, err)

	var r reassembler
	var got []byte
	for i := len(chunks) - 1; i >= 0; i-- {
		out, err := r.add(chunks[i])
		require.NoError(t, err)
		if out != nil {
			got = out
		}
	}
	assert.True(t, bytes.Equal(msg, got))

	// A late duplicate of a completed message is ignored.
	_, err = r.add(chunks[0])
	assert.ErrorIs(t, err, errStaleChunk)
}

func TestReassembler_NewerMessageAbandonsOlder(t *testing.T) {
	old, _ := split(1, payload(40), 16)
	newer, _ := split(2, payload(20), 16)

	var r reassembler
	out, err := r.add(old[0])
	require.NoError(t, err)
	assert.Nil(t, out)

	for _, c := range newer {
		out, err = r.add(c)
		require.NoError(t, err)
	}
	assert.Equal(t, payload(20), out)
	assert.Equal(t, 1, r.dropped)

	_, err = r.add(old[1])
	assert.ErrorIs(t, err, errStaleChunk)
}

func TestReassembler_IDWraparound(t *testing.T) {
	var r reassembler
	a, _ := split(0xffffffff, payload(4), 16)
	b, _ := split(0, payload(8), 16)

	out, err := r.add(a[0])
	require.NoError(t, err)
	assert.NotNil(t, out)

	out, err = r.add(b[0])
	require.NoError(t, err)
	assert.Equal(t, payload(8), out)
}

func TestReassembler_RejectsMalformed(t *testing.T) {
	var r reassembler
	_, err := r.add([]byte{1, 2})
	assert.Error(t, err)

	bad := make([]byte, chunkHeaderSize)
	bad[5] = 3 // index 3
	bad[7] = 2 // of 2
	_, err = r.add(bad)
	assert.Error(t, err)
}

func TestChunkedFrameRoundTrip(t *testing.T) {
	f := &frame.Frame{
		Data:        payload(360 * (480*4 + 64)),
		Width:       480,
		Height:      360,
		BytesPerRow: 480*4 + 64,
		Format:      frame.FormatBGRA32,
	}
	msg, err := f.MarshalBinary()
	require.NoError(t, err)

	chunks, err := split(9, msg, DefaultChunkSize)
	require.NoError(t, err)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 16*1024)
	}

	var r reassembler
	var out []byte
	for _, c := range chunks {
		out, err = r.add(c)
		require.NoError(t, err)
	}
	var got frame.Frame
	require.NoError(t, got.UnmarshalBinary(out))
	assert.Equal(t, f.BytesPerRow, got.BytesPerRow)
	assert.Equal(t, f.Data, got.Data)
}

func TestDataChannelTransport_SendWithoutChannel(t *testing.T) {
	tr := NewDataChannelTransport(nil)
	assert.Error(t, tr.SendFrame(&frame.Frame{}))
}
