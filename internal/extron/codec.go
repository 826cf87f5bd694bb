// Package extron keeps a Simple Instruction Set (SIS) session with an Extron
// matrix switcher and tracks its routing.
//
//	Tie:      <input>*<output>!\r\n  ->  Out<output> In<input> All\r\n
//	Status:   <output>%\r\n          ->  <input>\r\n
//	Info:     I\r\n                  ->  V<in>X<out> A<in>X<out>\r\n
//	Login:    Password:              ->  <password>\r\n  ->  Login Administrator\r\n
//	Errors:   E01, E10, E12, ...
package extron

import (
	"fmt"
	"strconv"
	"time"
)

// SIS framing constants.
const (
	// LineTerminator ends every command and every device response line.
	LineTerminator = "\r\n"

	// MaxLineLength bounds a buffered line; exceeding it means framing is lost.
	MaxLineLength = 4096

	// DefaultPort is the device's telnet control port.
	DefaultPort = 23

	// DefaultCommandTimeout applies to each pending request.
	DefaultCommandTimeout = 3 * time.Second

	// DefaultLoginTimeout bounds the wait for a prompt and for a rejection.
	DefaultLoginTimeout = 5 * time.Second

	// DefaultConnectTimeout bounds opening the transport.
	DefaultConnectTimeout = 5 * time.Second
)

// Command is a request the session can queue. Resolve reports whether an
// event answers the command and what the answer is; DeviceError and timeouts
// are handled by the session for every command.
type Command interface {
	Encode() []byte
	Resolve(ev Event) (any, bool)
	String() string
}

// tieConfirmer marks commands whose answer is a confirmed routing change.
type tieConfirmer interface {
	confirmedTie() (output, input int, signal SignalClass)
}

// TieCommand routes Input to Output on all planes: "<I>*<O>!". Input 0 clears the output.
type TieCommand struct {
	Input  int
	Output int
}

func (c TieCommand) Encode() []byte {
	return []byte(c.String() + LineTerminator)
}

func (c TieCommand) Resolve(ev Event) (any, bool) {
	ack, ok := ev.(CommandAck)
	if !ok || ack.Output != c.Output || ack.Input != c.Input {
		return nil, false
	}
	return ack, true
}

func (c TieCommand) String() string {
	return fmt.Sprintf("%d*%d!", c.Input, c.Output)
}

func (c TieCommand) confirmedTie() (int, int, SignalClass) {
	return c.Output, c.Input, SignalVideo
}

// StatusCommand asks which video input feeds Output: "<O>%".
// The answer is the input number as an int.
type StatusCommand struct {
	Output int
}

func (c StatusCommand) Encode() []byte {
	return []byte(c.String() + LineTerminator)
}

// Resolve accepts the bare input number and the tagged forms some firmware
// sends instead: "Out<O> In<I> All" and "Out<O> In<I> Vid". A tagged line
// for the queried output cannot be told apart from a front-panel change on
// that output; if one arrives first it answers the query, and the bare
// number that follows may answer the next queued status command.
func (c StatusCommand) Resolve(ev Event) (any, bool) {
	switch e := ev.(type) {
	case RouteStatus:
		return e.Input, true
	case CommandAck:
		if e.Output == c.Output {
			return e.Input, true
		}
	case UnsolicitedTieChange:
		if e.Output == c.Output && e.Signal == SignalVideo {
			return e.Input, true
		}
	}
	return nil, false
}

func (c StatusCommand) String() string {
	return strconv.Itoa(c.Output) + "%"
}

// InfoCommand requests the matrix size: "I". The answer is an InfoReport.
type InfoCommand struct{}

func (InfoCommand) Encode() []byte {
	return []byte("I" + LineTerminator)
}

func (InfoCommand) Resolve(ev Event) (any, bool) {
	info, ok := ev.(InfoReport)
	return info, ok
}

func (InfoCommand) String() string {
	return "I"
}

// EncodePassword frames a password answer to the login prompt.
func EncodePassword(password string) []byte {
	return []byte(password + LineTerminator)
}
