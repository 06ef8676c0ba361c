package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/junsooki/framerelay/internal/frame"
	"github.com/junsooki/framerelay/internal/log"
)

// Handler callbacks for connection-level events.
type Handler struct {
	OnError      func(msg string)
	OnDisconnect func(err error)
}

// Client is the application-layer end of a channel connection.
type Client struct {
	url     string
	handler Handler

	conn   *websocket.Conn
	mu     sync.Mutex
	done   chan struct{}
	closed bool

	pendingMu sync.Mutex
	pending   map[string]chan Message
	listeners map[string]func(*frame.Frame)

	log *logrus.Entry
}

// NewClient creates a client for the given WebSocket URL.
func NewClient(url string, handler Handler) *Client {
	return &Client{
		url:       url,
		handler:   handler,
		done:      make(chan struct{}),
		pending:   make(map[string]chan Message),
		listeners: make(map[string]func(*frame.Frame)),
		log:       log.For("channel-client"),
	}
}

// Connect dials the relay and starts reading messages.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("channel dial: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop()
	go c.pingLoop()
	return nil
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close shuts down the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.conn.Close()
	}
}

// InvokeMethod calls method on a method channel and waits for its result.
// A failure reported by the relay is returned as *MethodError.
func (c *Client) InvokeMethod(ctx context.Context, channel, method string, args any) (json.RawMessage, error) {
	msg := Message{Type: TypeMethodCall, Channel: channel, Method: method}
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encode args: %w", err)
		}
		msg.Args = b
	}
	return c.roundTrip(ctx, msg)
}

// Listen subscribes to an event channel. onFrame runs on the read
// goroutine for every frame until Cancel or disconnect.
func (c *Client) Listen(ctx context.Context, channel string, onFrame func(*frame.Frame)) error {
	c.pendingMu.Lock()
	c.listeners[channel] = onFrame
	c.pendingMu.Unlock()

	if _, err := c.roundTrip(ctx, Message{Type: TypeListen, Channel: channel}); err != nil {
		c.pendingMu.Lock()
		delete(c.listeners, channel)
		c.pendingMu.Unlock()
		return err
	}
	return nil
}

// Cancel unsubscribes from an event channel.
func (c *Client) Cancel(ctx context.Context, channel string) error {
	c.pendingMu.Lock()
	delete(c.listeners, channel)
	c.pendingMu.Unlock()

	_, err := c.roundTrip(ctx, Message{Type: TypeCancel, Channel: channel})
	return err
}

func (c *Client) roundTrip(ctx context.Context, msg Message) (json.RawMessage, error) {
	msg.ID = uuid.NewString()
	ch := make(chan Message, 1)

	c.pendingMu.Lock()
	c.pending[msg.ID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, msg.ID)
		c.pendingMu.Unlock()
	}()

	if err := c.send(msg); err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		if res.Error != nil {
			return nil, res.Error
		}
		return res.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("channel closed")
	}
}

func (c *Client) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.closed {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteJSON(msg)
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.WithError(err).Debug("channel read")
				if c.handler.OnDisconnect != nil {
					c.handler.OnDisconnect(err)
				}
			}
			return
		}

		switch kind {
		case websocket.BinaryMessage:
			c.dispatchEvent(data)
		case websocket.TextMessage:
			var msg Message
			if err := json.Unmarshal(data, &msg); err != nil {
				c.log.WithError(err).Warn("decode channel message")
				continue
			}
			c.dispatch(msg)
		}
	}
}

func (c *Client) dispatch(msg Message) {
	switch msg.Type {
	case TypeMethodResult:
		c.pendingMu.Lock()
		ch := c.pending[msg.ID]
		c.pendingMu.Unlock()
		if ch != nil {
			ch <- msg
		}
	case TypeError:
		if c.handler.OnError != nil {
			c.handler.OnError(msg.Msg)
		}
	case TypePing:
		_ = c.send(Message{Type: TypePong})
	case TypePong:
		// heartbeat response, nothing to do
	}
}

func (c *Client) dispatchEvent(data []byte) {
	channel, f, err := DecodeEvent(data)
	if err != nil {
		c.log.WithError(err).Debug("drop malformed event")
		return
	}
	c.pendingMu.Lock()
	fn := c.listeners[channel]
	c.pendingMu.Unlock()
	if fn != nil {
		fn(f)
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			_ = c.send(Message{Type: TypePing})
		}
	}
}
