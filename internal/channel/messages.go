package channel

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/junsooki/framerelay/internal/frame"
)

// Message types for the channel protocol.
const (
	TypeMethodCall   = "method-call"
	TypeMethodResult = "method-result"
	TypeListen       = "listen"
	TypeCancel       = "cancel"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeError        = "error"
)

// CodeNotImplemented is returned for methods or channels with no handler.
const CodeNotImplemented = "NOT_IMPLEMENTED"

// Message is the envelope for all text messages. Frame events are sent as
// binary messages instead (see EncodeEvent).
type Message struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Method  string          `json:"method,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *MethodError    `json:"error,omitempty"`
	Msg     string          `json:"message,omitempty"`
}

// MethodError is a structured failure returned by a method call.
type MethodError struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (e *MethodError) Error() string {
	return e.Code + ": " + e.Message
}

// EncodeEvent builds a binary event message: a one-byte channel name
// length, the channel name, then the encoded frame.
func EncodeEvent(channel string, f *frame.Frame) ([]byte, error) {
	if len(channel) == 0 || len(channel) > 255 {
		return nil, fmt.Errorf("invalid channel name length %d", len(channel))
	}
	body, err := f.MarshalBinary()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 1+len(channel)+len(body))
	buf = append(buf, byte(len(channel)))
	buf = append(buf, channel...)
	return append(buf, body...), nil
}

// DecodeEvent parses a message built by EncodeEvent.
func DecodeEvent(b []byte) (string, *frame.Frame, error) {
	if len(b) < 1 {
		return "", nil, errors.New("empty event")
	}
	n := int(b[0])
	if len(b) < 1+n {
		return "", nil, errors.New("truncated event channel name")
	}
	channel := string(b[1 : 1+n])
	var f frame.Frame
	if err := f.UnmarshalBinary(b[1+n:]); err != nil {
		return "", nil, err
	}
	return channel, &f, nil
}
