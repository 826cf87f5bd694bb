package storage

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// RouteEvent is one recorded routing change.
type RouteEvent struct {
	ID         int64     `json:"id"`
	DeviceID   uuid.UUID `json:"device_id"`
	DeviceName string    `json:"device_name"`
	Output     int       `json:"output"`
	Signal     string    `json:"signal"`
	Previous   int       `json:"previous"`
	Input      int       `json:"input"`
	Source     string    `json:"source"`
	OccurredAt time.Time `json:"occurred_at"`
}
