package relay

import "errors"

// Code is the machine-readable kind of a start failure. The values are
// what the message channel reports to clients.
type Code string

const (
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeNoCamera         Code = "NO_CAMERA"
	CodeCannotAddInput   Code = "CANNOT_ADD_INPUT"
	CodeCannotAddOutput  Code = "CANNOT_ADD_OUTPUT"
	CodeError            Code = "ERROR"
)

// Error is a start failure.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

var (
	ErrPermissionDenied = &Error{Code: CodePermissionDenied, Message: "Camera permission denied"}
	ErrNoCamera         = &Error{Code: CodeNoCamera, Message: "Front camera not found"}
	ErrCannotAddInput   = &Error{Code: CodeCannotAddInput, Message: "Cannot add camera input"}
	ErrCannotAddOutput  = &Error{Code: CodeCannotAddOutput, Message: "Cannot add camera output"}

	ErrBusy      = &Error{Code: CodeError, Message: "capture is starting or stopping"}
	ErrCancelled = &Error{Code: CodeError, Message: "capture start cancelled"}
	ErrClosed    = &Error{Code: CodeError, Message: "relay closed"}
)

// generic wraps any other failure, passing its message through verbatim.
func generic(err error) *Error {
	return &Error{Code: CodeError, Message: err.Error()}
}

// CodeOf returns the code carried by err, or CodeError for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeError
}
