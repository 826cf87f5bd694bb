package interfaces

import (
	"context"

	"github.com/google/uuid"

	"github.com/KevinKickass/OpenMatrixCore/internal/config"
	"github.com/KevinKickass/OpenMatrixCore/internal/devices"
	"github.com/KevinKickass/OpenMatrixCore/internal/storage"
	"github.com/KevinKickass/OpenMatrixCore/internal/types"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State        string `json:"state"`
	Uptime       string `json:"uptime"`
	DeviceCount  int    `json:"device_count"`
	ReadyDevices int    `json:"ready_devices"`
	StaleDevices int    `json:"stale_devices"`
	Persistence  bool   `json:"persistence"`
}

// DeviceStore is the persistence the API needs; *storage.PostgresClient implements it.
type DeviceStore interface {
	SaveDevice(ctx context.Context, d types.MatrixDevice) (uuid.UUID, error)
	DeleteDevice(ctx context.Context, id uuid.UUID) error
	ListRouteEvents(ctx context.Context, deviceID uuid.UUID, limit int) ([]storage.RouteEvent, error)
}

var _ DeviceStore = (*storage.PostgresClient)(nil)

type LifecycleManager interface {
	Config() *config.Config
	// Storage is nil when the database is disabled.
	Storage() DeviceStore
	DeviceManager() *devices.Manager
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
