package websocket

import (
	"time"

	"github.com/KevinKickass/OpenMatrixCore/internal/devices"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Matrix messages
	MessageTypeRouteChanged MessageType = "route_changed"
	MessageTypeDeviceState  MessageType = "device_state"

	// System messages
	MessageTypeSystemState MessageType = "system_state"

	// Connection messages
	MessageTypeAuthSuccess MessageType = "auth_success"
	MessageTypeAuthFailed  MessageType = "auth_failed"
	MessageTypeSubscribed  MessageType = "subscribed"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Device    string      `json:"device,omitempty"`
	Data      any         `json:"data,omitempty"`
}

// RouteChangedData is the payload of a route_changed message.
type RouteChangedData struct {
	DeviceID string `json:"device_id"`
	Output   int    `json:"output"`
	Signal   string `json:"signal"`
	Previous int    `json:"previous_input"`
	Input    int    `json:"input"`
	Source   string `json:"source"`
}

// DeviceStateData is the payload of a device_state message.
type DeviceStateData struct {
	DeviceID string `json:"device_id"`
	State    string `json:"state"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// SystemStateData is the payload of a system_state message.
type SystemStateData struct {
	State    string `json:"state"`
	Previous string `json:"previous_state"`
}

func NewSystemStateMessage(newState, previousState string) Message {
	return NewMessage(MessageTypeSystemState, SystemStateData{
		State:    newState,
		Previous: previousState,
	})
}

// NewEventMessage converts a device manager event.
func NewEventMessage(ev devices.Event) Message {
	msg := Message{
		Timestamp: ev.Timestamp,
		Device:    ev.Device,
	}

	switch ev.Type {
	case devices.EventRouteChanged:
		msg.Type = MessageTypeRouteChanged
		msg.Data = RouteChangedData{
			DeviceID: ev.DeviceID.String(),
			Output:   ev.Change.Output,
			Signal:   string(ev.Change.Signal),
			Previous: ev.Change.Previous,
			Input:    ev.Change.Input,
			Source:   string(ev.Change.Source),
		}
	case devices.EventDeviceState:
		msg.Type = MessageTypeDeviceState
		msg.Data = DeviceStateData{
			DeviceID: ev.DeviceID.String(),
			State:    ev.State.String(),
		}
	}
	return msg
}
