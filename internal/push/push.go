// Package push enables automatic registration with a push-messaging
// backend. Registration is fire-and-forget: failures are logged, never
// returned.
package push

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/junsooki/framerelay/internal/log"
)

// Registrar registers a device token with the push backend.
type Registrar interface {
	Register(ctx context.Context, token string) error
}

// NopRegistrar accepts every token. It stands in when push is not
// configured.
type NopRegistrar struct{}

func (NopRegistrar) Register(context.Context, string) error { return nil }

// RegisterTimeout bounds a single background registration attempt.
var RegisterTimeout = 30 * time.Second

// Messaging holds the process-wide auto-init setting.
type Messaging struct {
	mu        sync.Mutex
	autoInit  bool
	registrar Registrar
	token     string

	wg  sync.WaitGroup
	log *logrus.Entry
}

var defaultMessaging = New(NopRegistrar{}, "")

// Default returns the process-wide instance.
func Default() *Messaging {
	return defaultMessaging
}

// New creates an instance that registers token through r.
func New(r Registrar, token string) *Messaging {
	return &Messaging{
		registrar: r,
		token:     token,
		log:       log.For("push"),
	}
}

// Configure replaces the registrar and device token. It does not trigger a
// registration by itself.
func (m *Messaging) Configure(r Registrar, token string) {
	m.mu.Lock()
	m.registrar = r
	m.token = token
	m.mu.Unlock()
}

// IsAutoInitEnabled reports the current setting.
func (m *Messaging) IsAutoInitEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.autoInit
}

// SetAutoInitEnabled turns automatic registration on or off. Turning it on
// starts one background registration; setting the same value again does
// nothing.
func (m *Messaging) SetAutoInitEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.autoInit == enabled {
		return
	}
	m.autoInit = enabled
	m.log.WithField("enabled", enabled).Info("push auto-init changed")
	if !enabled {
		return
	}

	r, token := m.registrar, m.token
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.register(r, token)
	}()
}

func (m *Messaging) register(r Registrar, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), RegisterTimeout)
	defer cancel()

	if err := r.Register(ctx, token); err != nil {
		m.log.WithError(err).Warn("push registration failed")
		return
	}
	m.log.Info("push registration complete")
}

// wait blocks until background registrations finish.
func (m *Messaging) wait() {
	m.wg.Wait()
}
