// Package permissions decides whether the process may use the camera.
package permissions

import "fmt"

// Status is the current camera authorization.
type Status int

const (
	StatusNotDetermined Status = iota
	StatusDenied
	StatusAuthorized
)

func (s Status) String() string {
	switch s {
	case StatusDenied:
		return "denied"
	case StatusAuthorized:
		return "authorized"
	}
	return "not-determined"
}

// Authorizer grants or denies camera access.
type Authorizer interface {
	// Status reports the current decision without prompting.
	Status() Status
	// RequestAccess asks for access if undecided. completion runs exactly
	// once, on a goroutine of the authorizer's choosing, possibly long
	// after the call returns.
	RequestAccess(completion func(granted bool))
}

// Static is an Authorizer with a fixed answer.
type Static struct {
	granted bool
}

// NewStatic returns an authorizer that always grants or always denies.
func NewStatic(granted bool) *Static {
	return &Static{granted: granted}
}

func (s *Static) Status() Status {
	if s.granted {
		return StatusAuthorized
	}
	return StatusDenied
}

func (s *Static) RequestAccess(completion func(granted bool)) {
	go completion(s.granted)
}

// FromMode builds an authorizer from a configuration mode: "granted",
// "denied" or "prompt".
func FromMode(mode string) (Authorizer, error) {
	switch mode {
	case "granted", "":
		return NewStatic(true), nil
	case "denied":
		return NewStatic(false), nil
	case "prompt":
		return NewTerminalPrompt()
	}
	return nil, fmt.Errorf("unknown permission mode %q", mode)
}
