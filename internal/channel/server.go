// Package channel carries method calls and event streams between the
// application layer and the relay over a WebSocket.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/junsooki/framerelay/internal/frame"
	"github.com/junsooki/framerelay/internal/log"
)

// MethodCall is an incoming request on a method channel.
type MethodCall struct {
	Method string
	Args   json.RawMessage
}

// MethodHandler answers calls on one method channel. Returning a
// *MethodError passes its code to the caller; any other error is reported
// with code "ERROR".
type MethodHandler interface {
	HandleMethod(ctx context.Context, conn *Conn, call MethodCall) (any, error)
}

// MethodHandlerFunc adapts a function to MethodHandler.
type MethodHandlerFunc func(ctx context.Context, conn *Conn, call MethodCall) (any, error)

func (f MethodHandlerFunc) HandleMethod(ctx context.Context, conn *Conn, call MethodCall) (any, error) {
	return f(ctx, conn, call)
}

// StreamHandler manages subscriptions on one event channel.
type StreamHandler interface {
	OnListen(conn *Conn, args json.RawMessage) error
	OnCancel(conn *Conn, args json.RawMessage) error
}

// NotImplemented reports an unknown method or channel.
func NotImplemented(what string) *MethodError {
	return &MethodError{Code: CodeNotImplemented, Message: what + " not implemented"}
}

const writeTimeout = 5 * time.Second

// DefaultPingInterval is how often the server pings idle clients. A client
// that stays silent for three intervals is disconnected.
const DefaultPingInterval = 25 * time.Second

// Server accepts channel connections.
type Server struct {
	upgrader websocket.Upgrader

	// PingInterval is read when a connection is accepted; zero disables
	// keep-alive pings and the idle timeout.
	PingInterval time.Duration

	mu           sync.Mutex
	methods      map[string]MethodHandler
	streams      map[string]StreamHandler
	conns        map[*Conn]struct{}
	onDisconnect []func(*Conn)

	log *logrus.Entry
}

// NewServer creates a server with no channels registered.
func NewServer() *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		PingInterval: DefaultPingInterval,
		methods:      make(map[string]MethodHandler),
		streams:      make(map[string]StreamHandler),
		conns:        make(map[*Conn]struct{}),
		log:          log.For("channel"),
	}
}

// SetMethodCallHandler registers h for a method channel. A nil handler
// removes the channel.
func (s *Server) SetMethodCallHandler(name string, h MethodHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == nil {
		delete(s.methods, name)
		return
	}
	s.methods[name] = h
}

// SetStreamHandler registers h for an event channel. A nil handler
// removes the channel.
func (s *Server) SetStreamHandler(name string, h StreamHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == nil {
		delete(s.streams, name)
		return
	}
	s.streams[name] = h
}

// OnDisconnect registers fn to run after a connection goes away and its
// subscriptions were cancelled.
func (s *Server) OnDisconnect(fn func(*Conn)) {
	s.mu.Lock()
	s.onDisconnect = append(s.onDisconnect, fn)
	s.mu.Unlock()
}

// ServeHTTP upgrades the request and serves the connection until it
// closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade")
		return
	}

	conn := newConn(ws, r.RemoteAddr)
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	l := s.log.WithFields(logrus.Fields{"conn": conn.ID(), "remote": conn.RemoteAddr()})
	l.Info("channel connected")

	if s.PingInterval > 0 {
		go conn.pingLoop(s.PingInterval)
	}
	s.serve(conn, l)

	s.cleanup(conn)
	l.Info("channel disconnected")
}

// Close disconnects every client.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func (s *Server) serve(conn *Conn, l *logrus.Entry) {
	for {
		if s.PingInterval > 0 {
			_ = conn.ws.SetReadDeadline(time.Now().Add(3 * s.PingInterval))
		}
		var msg Message
		if err := conn.ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !conn.isClosed() {
				l.WithError(err).Debug("channel read")
			}
			return
		}
		s.dispatch(conn, msg, l)
	}
}

func (s *Server) dispatch(conn *Conn, msg Message, l *logrus.Entry) {
	switch msg.Type {
	case TypeMethodCall:
		s.mu.Lock()
		h := s.methods[msg.Channel]
		s.mu.Unlock()
		if h == nil {
			conn.reply(msg.ID, nil, NotImplemented("channel "+msg.Channel))
			return
		}
		// Calls may block for a long time (permission prompts), so they
		// must not hold up the read loop.
		go func() {
			result, err := h.HandleMethod(conn.ctx, conn, MethodCall{Method: msg.Method, Args: msg.Args})
			if err != nil {
				l.WithError(err).WithField("method", msg.Method).Debug("method failed")
			}
			conn.reply(msg.ID, result, err)
		}()
	case TypeListen:
		h := s.stream(msg.Channel)
		if h == nil {
			conn.reply(msg.ID, nil, NotImplemented("event channel "+msg.Channel))
			return
		}
		if err := h.OnListen(conn, msg.Args); err != nil {
			conn.reply(msg.ID, nil, err)
			return
		}
		conn.setListening(msg.Channel, true)
		conn.reply(msg.ID, true, nil)
	case TypeCancel:
		h := s.stream(msg.Channel)
		if h == nil {
			conn.reply(msg.ID, nil, NotImplemented("event channel "+msg.Channel))
			return
		}
		conn.setListening(msg.Channel, false)
		if err := h.OnCancel(conn, msg.Args); err != nil {
			conn.reply(msg.ID, nil, err)
			return
		}
		conn.reply(msg.ID, true, nil)
	case TypePing:
		_ = conn.writeJSON(Message{Type: TypePong})
	case TypePong:
		// keep-alive answer; the read already extended the deadline
	default:
		_ = conn.writeJSON(Message{Type: TypeError, ID: msg.ID, Msg: "unknown message type " + msg.Type})
	}
}

func (s *Server) stream(name string) StreamHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams[name]
}

func (s *Server) cleanup(conn *Conn) {
	for _, name := range conn.listeningChannels() {
		if h := s.stream(name); h != nil {
			if err := h.OnCancel(conn, nil); err != nil {
				s.log.WithError(err).WithField("channel", name).Warn("cancel on disconnect")
			}
		}
	}

	s.mu.Lock()
	delete(s.conns, conn)
	hooks := slices.Clone(s.onDisconnect)
	s.mu.Unlock()

	conn.Close()
	for _, fn := range hooks {
		fn(conn)
	}
}

// Conn is one connected client.
type Conn struct {
	id     string
	remote string
	ws     *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu        sync.Mutex
	listening map[string]bool
	sinks     map[string]*EventSink
	closed    bool
}

func newConn(ws *websocket.Conn, remote string) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		id:        uuid.NewString(),
		remote:    remote,
		ws:        ws,
		ctx:       ctx,
		cancel:    cancel,
		listening: make(map[string]bool),
		sinks:     make(map[string]*EventSink),
	}
}

// ID uniquely identifies the connection.
func (c *Conn) ID() string { return c.id }

// RemoteAddr is the peer's network address.
func (c *Conn) RemoteAddr() string { return c.remote }

// Context is cancelled when the connection closes.
func (c *Conn) Context() context.Context { return c.ctx }

// EventSink returns the sink delivering frames on the named event
// channel. The same pointer is returned for the same channel.
func (c *Conn) EventSink(channel string) *EventSink {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sinks[channel]; ok {
		return s
	}
	s := newEventSink(c, channel)
	c.sinks[channel] = s
	return s
}

// Close closes the underlying WebSocket. Safe to call more than once.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.ws.Close()
}

func (c *Conn) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeJSON(Message{Type: TypePing}); err != nil {
				return
			}
		}
	}
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) setListening(channel string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.listening[channel] = true
	} else {
		delete(c.listening, channel)
	}
}

func (c *Conn) listeningChannels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.listening))
	for name := range c.listening {
		names = append(names, name)
	}
	return names
}

func (c *Conn) reply(id string, result any, err error) {
	msg := Message{Type: TypeMethodResult, ID: id}
	if err != nil {
		var me *MethodError
		if !errors.As(err, &me) {
			me = &MethodError{Code: "ERROR", Message: err.Error()}
		}
		msg.Error = me
	} else {
		b, merr := json.Marshal(result)
		if merr != nil {
			msg.Error = &MethodError{Code: "ERROR", Message: "encode result: " + merr.Error()}
		} else {
			msg.Result = b
		}
	}
	_ = c.writeJSON(msg)
}

func (c *Conn) writeJSON(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(msg)
}

func (c *Conn) writeBinary(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.BinaryMessage, b)
}

// EventSink sends frames on one event channel of one connection. Frames
// are written by a per-sink goroutine so SendFrame never waits on the
// network; while a write is in progress only the newest frame is kept.
type EventSink struct {
	conn    *Conn
	channel string

	start   sync.Once
	wake    chan struct{}
	mu      sync.Mutex
	pending *frame.Frame
	dropped atomic.Uint64
}

func newEventSink(c *Conn, channel string) *EventSink {
	return &EventSink{conn: c, channel: channel, wake: make(chan struct{}, 1)}
}

// SendFrame queues f for writing. A frame still waiting from an earlier
// call is replaced and counted as dropped.
func (s *EventSink) SendFrame(f *frame.Frame) error {
	if s.conn.isClosed() {
		return errors.New("channel: connection closed")
	}
	s.start.Do(func() { go s.writeLoop() })

	s.mu.Lock()
	if s.pending != nil {
		s.dropped.Add(1)
	}
	s.pending = f
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// DiscardPending drops a queued frame that was not written yet.
func (s *EventSink) DiscardPending() {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

// Dropped counts frames replaced before they could be written.
func (s *EventSink) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *EventSink) writeLoop() {
	for {
		select {
		case <-s.conn.ctx.Done():
			return
		case <-s.wake:
		}

		s.mu.Lock()
		f := s.pending
		s.pending = nil
		s.mu.Unlock()
		if f == nil {
			continue
		}

		b, err := EncodeEvent(s.channel, f)
		if err == nil {
			err = s.conn.writeBinary(b)
		}
		if err != nil {
			log.For("channel").WithError(err).WithField("channel", s.channel).Debug("write frame event")
		}
	}
}
