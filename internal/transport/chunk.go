package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frames are larger than a data channel message, so they travel as
// chunks. Each chunk starts with a header: message id, chunk index and
// chunk count, all big endian.
const (
	chunkHeaderSize = 8
	// DefaultChunkSize keeps every message under the 16 KiB that all
	// WebRTC implementations accept.
	DefaultChunkSize = 16*1024 - chunkHeaderSize
)

// split cuts msg into chunks of at most size payload bytes.
func split(id uint32, msg []byte, size int) ([][]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid chunk size %d", size)
	}
	count := (len(msg) + size - 1) / size
	if count == 0 {
		count = 1
	}
	if count > 0xffff {
		return nil, fmt.Errorf("message of %d bytes needs too many chunks", len(msg))
	}

	chunks := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		start := i * size
		end := min(start+size, len(msg))
		c := make([]byte, chunkHeaderSize+end-start)
		binary.BigEndian.PutUint32(c[0:4], id)
		binary.BigEndian.PutUint16(c[4:6], uint16(i))
		binary.BigEndian.PutUint16(c[6:8], uint16(count))
		copy(c[chunkHeaderSize:], msg[start:end])
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// reassembler rebuilds messages from chunks that may arrive out of order
// or not at all. Only the newest message is tracked; chunks of older
// messages are dropped, and so is a message abandoned for a newer one.
type reassembler struct {
	active   bool
	id       uint32
	count    int
	received int
	parts    [][]byte

	done     bool
	lastDone uint32
	dropped  int
}

var errStaleChunk = errors.New("stale chunk")

// add stores a chunk and returns the full message once all chunks of it
// arrived.
func (r *reassembler) add(chunk []byte) ([]byte, error) {
	if len(chunk) < chunkHeaderSize {
		return nil, errors.New("chunk shorter than header")
	}
	id := binary.BigEndian.Uint32(chunk[0:4])
	index := int(binary.BigEndian.Uint16(chunk[4:6]))
	count := int(binary.BigEndian.Uint16(chunk[6:8]))
	if count == 0 || index >= count {
		return nil, fmt.Errorf("bad chunk %d of %d", index, count)
	}

	// Serial-number comparisons so ids may wrap around.
	if r.done && int32(id-r.lastDone) <= 0 {
		return nil, errStaleChunk
	}
	if r.active && id != r.id {
		if int32(id-r.id) < 0 {
			return nil, errStaleChunk
		}
		r.dropped++
		r.active = false
	}
	if !r.active {
		r.active = true
		r.id = id
		r.count = count
		r.received = 0
		r.parts = make([][]byte, count)
	}
	if count != r.count {
		return nil, fmt.Errorf("chunk count changed from %d to %d", r.count, count)
	}
	if r.parts[index] != nil {
		return nil, nil
	}
	r.parts[index] = append([]byte(nil), chunk[chunkHeaderSize:]...)
	r.received++
	if r.received < r.count {
		return nil, nil
	}

	size := 0
	for _, p := range r.parts {
		size += len(p)
	}
	msg := make([]byte, 0, size)
	for _, p := range r.parts {
		msg = append(msg, p...)
	}
	r.active = false
	r.parts = nil
	r.done = true
	r.lastDone = id
	return msg, nil
}
