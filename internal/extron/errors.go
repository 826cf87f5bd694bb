package extron

import (
	"errors"
	"fmt"
)

// Sentinel errors for the session core.
var (
	// ErrOutOfRange indicates a route request outside the configured matrix size.
	// It is raised before anything is written to the wire.
	ErrOutOfRange = errors.New("out of range")

	// ErrCommandTimeout indicates the device did not answer a command in time.
	ErrCommandTimeout = errors.New("command timed out")

	// ErrConnectionLost indicates the transport terminated while requests were outstanding.
	ErrConnectionLost = errors.New("connection lost")

	// ErrCancelled indicates the session was closed by its owner.
	ErrCancelled = errors.New("session closed")

	// ErrNotConnected indicates a command was submitted while disconnected.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected indicates Connect was called on a live session.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrStale indicates the returned state may be out of date.
	ErrStale = errors.New("matrix state is stale")

	// ErrUnsupportedSignal indicates a signal class that cannot be routed.
	ErrUnsupportedSignal = errors.New("unsupported signal class")

	// ErrLineTooLong indicates the inbound stream lost line framing.
	ErrLineTooLong = errors.New("line too long")
)

// ConnectError reports a failure to open the transport.
type ConnectError struct {
	Address string
	Cause   error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s failed: %v", e.Address, e.Cause)
}

func (e *ConnectError) Unwrap() error {
	return e.Cause
}

// AuthenticationError reports a rejected or missing password.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Reason
}

// ErrorCode is a numeric SIS error response (E01, E10, ...).
type ErrorCode int

const (
	CodeInvalidInput     ErrorCode = 1
	CodeInvalidCommand   ErrorCode = 10
	CodeInvalidPreset    ErrorCode = 11
	CodeInvalidOutput    ErrorCode = 12
	CodeInvalidParameter ErrorCode = 13
	CodeInvalidForConfig ErrorCode = 14
	CodeTimeout          ErrorCode = 17
	CodeBusy             ErrorCode = 22
	CodePrivilege        ErrorCode = 24
)

var errorCodeText = map[ErrorCode]string{
	CodeInvalidInput:     "invalid input number",
	CodeInvalidCommand:   "invalid command",
	CodeInvalidPreset:    "invalid preset number",
	CodeInvalidOutput:    "invalid output number",
	CodeInvalidParameter: "invalid parameter",
	CodeInvalidForConfig: "not valid for this configuration",
	CodeTimeout:          "device timeout",
	CodeBusy:             "device busy",
	CodePrivilege:        "privilege violation",
}

func (c ErrorCode) String() string {
	if text, ok := errorCodeText[c]; ok {
		return text
	}
	return fmt.Sprintf("E%02d", int(c))
}

// DeviceError is the device rejecting a well-formed command. It doubles as
// the decoded event for an E<nn> line.
type DeviceError struct {
	Code ErrorCode
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error E%02d: %s", int(e.Code), e.Code)
}

func (*DeviceError) event() {}
