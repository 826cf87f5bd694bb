package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MatrixDevice is the declared configuration of one switcher, as stored in
// the database or read from a device file.
type MatrixDevice struct {
	ID               uuid.UUID `json:"id" yaml:"-"`
	Name             string    `json:"name" yaml:"name"`
	Host             string    `json:"host" yaml:"host"`
	Port             int       `json:"port,omitempty" yaml:"port,omitempty"`
	Password         string    `json:"password,omitempty" yaml:"password,omitempty"`
	NumInputs        int       `json:"num_inputs" yaml:"num_inputs"`
	NumOutputs       int       `json:"num_outputs" yaml:"num_outputs"`
	Enabled          bool      `json:"enabled" yaml:"enabled"`
	CommandTimeoutMs int       `json:"command_timeout_ms,omitempty" yaml:"command_timeout_ms,omitempty"`
}

// Validate checks what the JSON schema cannot express.
func (d *MatrixDevice) Validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if d.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if d.Port < 0 || d.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d not in 1..65535", d.Port))
	}
	if d.NumInputs < 1 {
		errs = append(errs, fmt.Errorf("num_inputs must be positive, got %d", d.NumInputs))
	}
	if d.NumOutputs < 1 {
		errs = append(errs, fmt.Errorf("num_outputs must be positive, got %d", d.NumOutputs))
	}
	if d.CommandTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("command_timeout_ms must not be negative, got %d", d.CommandTimeoutMs))
	}
	return errors.Join(errs...)
}

func (d *MatrixDevice) CommandTimeout() time.Duration {
	return time.Duration(d.CommandTimeoutMs) * time.Millisecond
}

// Redacted returns a copy safe to send to API clients.
func (d MatrixDevice) Redacted() MatrixDevice {
	if d.Password != "" {
		d.Password = "********"
	}
	return d
}

// DeviceStatus is the runtime view of one switcher.
type DeviceStatus struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Host         string     `json:"host"`
	Port         int        `json:"port"`
	State        string     `json:"state"`
	Stale        bool       `json:"stale"`
	SessionID    string     `json:"session_id"`
	Pending      int        `json:"pending_commands"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// OutputStatus is one output and the inputs routed to it.
type OutputStatus struct {
	Output     int      `json:"output"`
	Name       string   `json:"name"`
	VideoInput int      `json:"video_input"`
	AudioInput int      `json:"audio_input"`
	Selection  string   `json:"selection"`
	Options    []string `json:"options,omitempty"`
	Available  bool     `json:"available"`
}
