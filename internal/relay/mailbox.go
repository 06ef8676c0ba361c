package relay

import (
	"sync"

	"github.com/junsooki/framerelay/internal/frame"
)

// envelope tags a frame with the session generation that produced it and
// its position in the relay-wide capture order.
type envelope struct {
	generation uint64
	order      uint64
	frame      *frame.Frame
}

// mailbox holds at most one undelivered frame. A newer frame replaces an
// older one.
type mailbox struct {
	mu   sync.Mutex
	slot *envelope
}

// put stores e and reports whether it displaced an undelivered frame.
func (m *mailbox) put(e *envelope) (replaced bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	replaced = m.slot != nil
	m.slot = e
	return replaced
}

// restore puts e back unless a newer frame arrived meanwhile. It reports
// whether e was kept.
func (m *mailbox) restore(e *envelope) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slot != nil {
		return false
	}
	m.slot = e
	return true
}

func (m *mailbox) take() *envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.slot
	m.slot = nil
	return e
}

func (m *mailbox) clear() {
	m.mu.Lock()
	m.slot = nil
	m.mu.Unlock()
}
