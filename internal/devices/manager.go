package devices

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/KevinKickass/OpenMatrixCore/internal/config"
	"github.com/KevinKickass/OpenMatrixCore/internal/extron"
	"github.com/KevinKickass/OpenMatrixCore/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrDeviceNotFound  = errors.New("device not found")
	ErrDuplicateDevice = errors.New("device name already in use")
)

// EventType names what a manager Event carries.
type EventType string

const (
	EventRouteChanged EventType = "route_changed"
	EventDeviceState  EventType = "device_state"
)

// Event is a routing change or a session state change of one device.
type Event struct {
	Type      EventType
	DeviceID  uuid.UUID
	Device    string
	Change    extron.Change
	State     extron.State
	Timestamp time.Time
}

// Device is one managed switcher.
type Device struct {
	ID         uuid.UUID
	Definition types.MatrixDevice
	Client     *extron.Client

	supervisor  *Supervisor
	unsubscribe []func()
}

// Status reports the runtime view of the device.
func (d *Device) Status() types.DeviceStatus {
	status := types.DeviceStatus{
		ID:        d.ID,
		Name:      d.Definition.Name,
		Host:      d.Definition.Host,
		Port:      d.Client.Config().Port,
		State:     d.Client.State().String(),
		Stale:     d.Client.Stale(),
		SessionID: d.Client.SessionID(),
		Pending:   d.Client.Pending(),
	}
	if last := d.Client.LastActivity(); !last.IsZero() {
		status.LastActivity = &last
	}
	return status
}

// Outputs reports every output with its last known ties.
func (d *Device) Outputs() []types.OutputStatus {
	snap := d.Client.Snapshot()
	units := d.Client.Outputs()

	outputs := make([]types.OutputStatus, 0, len(units))
	for _, u := range units {
		outputs = append(outputs, outputStatus(u, snap))
	}
	return outputs
}

// Output reports one output.
func (d *Device) Output(n int) (types.OutputStatus, error) {
	u, err := d.Client.Output(n)
	if err != nil {
		return types.OutputStatus{}, err
	}
	status := outputStatus(u, d.Client.Snapshot())
	status.Options = u.Options()
	return status, nil
}

func outputStatus(u *extron.OutputUnit, snap extron.Snapshot) types.OutputStatus {
	return types.OutputStatus{
		Output:     u.Number(),
		Name:       u.Name(),
		VideoInput: snap[extron.Tie{Output: u.Number(), Signal: extron.SignalVideo}],
		AudioInput: snap[extron.Tie{Output: u.Number(), Signal: extron.SignalAudio}],
		Selection:  u.Current(),
		Available:  u.Available(),
	}
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithDialer makes every client dial through d.
func WithDialer(d extron.Dialer) ManagerOption {
	return func(m *Manager) {
		m.dialer = d
	}
}

type Manager struct {
	cfg       config.ExtronConfig
	validator *Validator
	loader    *DefinitionLoader
	dialer    extron.Dialer

	devices map[uuid.UUID]*Device
	mu      sync.RWMutex

	listenersMu  sync.RWMutex
	listeners    map[uint64]func(Event)
	nextListener uint64

	logger *zap.Logger
}

func NewManager(cfg config.ExtronConfig, searchPaths []string, logger *zap.Logger, opts ...ManagerOption) (*Manager, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	m := &Manager{
		cfg:       cfg,
		validator: validator,
		loader:    NewDefinitionLoader(searchPaths, validator),
		devices:   make(map[uuid.UUID]*Device),
		listeners: make(map[uint64]func(Event)),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) Validator() *Validator {
	return m.validator
}

// LoadDefinitions reads the device files from the search paths.
func (m *Manager) LoadDefinitions() ([]types.MatrixDevice, error) {
	return m.loader.LoadAll()
}

// AddDevice creates the client for def and, if the device is enabled,
// starts supervising it.
func (m *Manager) AddDevice(def types.MatrixDevice) (*Device, error) {
	if err := m.validator.ValidateDevice(&def); err != nil {
		return nil, fmt.Errorf("invalid device %q: %w", def.Name, err)
	}
	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.devices {
		if d.Definition.Name == def.Name {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDevice, def.Name)
		}
	}
	if _, exists := m.devices[def.ID]; exists {
		return nil, fmt.Errorf("%w: id %s", ErrDuplicateDevice, def.ID)
	}

	commandTimeout := m.cfg.CommandTimeout
	if def.CommandTimeoutMs > 0 {
		commandTimeout = def.CommandTimeout()
	}

	var clientOpts []extron.Option
	if m.dialer != nil {
		clientOpts = append(clientOpts, extron.WithDialer(m.dialer))
	}
	client, err := extron.NewClient(extron.Config{
		Host:           def.Host,
		Port:           def.Port,
		Password:       def.Password,
		NumInputs:      def.NumInputs,
		NumOutputs:     def.NumOutputs,
		CommandTimeout: commandTimeout,
		LoginTimeout:   m.cfg.LoginTimeout,
		ConnectTimeout: m.cfg.ConnectTimeout,
	}, m.logger.With(zap.String("device", def.Name)), clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	device := &Device{
		ID:         def.ID,
		Definition: def,
		Client:     client,
	}
	device.supervisor = NewSupervisor(device, m.superviseInterval(), m.cfg.ReconnectBackoff, m.logger)

	device.unsubscribe = append(device.unsubscribe,
		client.Subscribe(func(c extron.Change) {
			m.emit(Event{
				Type:      EventRouteChanged,
				DeviceID:  device.ID,
				Device:    def.Name,
				Change:    c,
				Timestamp: time.Now(),
			})
		}),
		client.OnStateChange(func(s extron.State) {
			m.emit(Event{
				Type:      EventDeviceState,
				DeviceID:  device.ID,
				Device:    def.Name,
				State:     s,
				Timestamp: time.Now(),
			})
			if s == extron.StateDisconnected {
				device.supervisor.Nudge()
			}
		}),
	)

	m.devices[device.ID] = device

	if def.Enabled {
		device.supervisor.Start()
	}

	m.logger.Info("Device added",
		zap.String("device", def.Name),
		zap.String("address", client.Config().Host),
		zap.Int("inputs", def.NumInputs),
		zap.Int("outputs", def.NumOutputs),
		zap.Bool("enabled", def.Enabled))

	return device, nil
}

func (m *Manager) superviseInterval() time.Duration {
	if m.cfg.SuperviseInterval <= 0 {
		return 30 * time.Second
	}
	return m.cfg.SuperviseInterval
}

// RemoveDevice stops supervising the device and closes its session.
func (m *Manager) RemoveDevice(id uuid.UUID) error {
	m.mu.Lock()
	device, exists := m.devices[id]
	delete(m.devices, id)
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	m.shutdownDevice(device)
	m.logger.Info("Device removed", zap.String("device", device.Definition.Name))
	return nil
}

func (m *Manager) shutdownDevice(device *Device) {
	device.supervisor.Stop()
	for _, unsubscribe := range device.unsubscribe {
		unsubscribe()
	}
	if err := device.Client.Close(); err != nil {
		m.logger.Error("Failed to close device session",
			zap.String("device", device.Definition.Name),
			zap.Error(err))
	}
}

// GetDevice returns device by ID
func (m *Manager) GetDevice(id uuid.UUID) (*Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	device, exists := m.devices[id]
	return device, exists
}

// GetDeviceByName returns device by name
func (m *Manager) GetDeviceByName(name string) (*Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, device := range m.devices {
		if device.Definition.Name == name {
			return device, true
		}
	}

	return nil, false
}

// ListDevices returns all devices ordered by name.
func (m *Manager) ListDevices() []*Device {
	m.mu.RLock()
	devices := make([]*Device, 0, len(m.devices))
	for _, device := range m.devices {
		devices = append(devices, device)
	}
	m.mu.RUnlock()

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Definition.Name < devices[j].Definition.Name
	})
	return devices
}

// StopAll stops all supervisors and closes all sessions.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	devices := make([]*Device, 0, len(m.devices))
	for id, device := range m.devices {
		devices = append(devices, device)
		delete(m.devices, id)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for _, device := range devices {
			wg.Add(1)
			go func(d *Device) {
				defer wg.Done()
				m.shutdownDevice(d)
			}(device)
		}
		wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stopping devices: %w", ctx.Err())
	}
}

// Subscribe registers fn for every device event. fn runs on the device's
// session goroutine and must not block.
func (m *Manager) Subscribe(fn func(Event)) func() {
	m.listenersMu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	m.listenersMu.Unlock()

	return func() {
		m.listenersMu.Lock()
		delete(m.listeners, id)
		m.listenersMu.Unlock()
	}
}

func (m *Manager) emit(ev Event) {
	m.listenersMu.RLock()
	fns := make([]func(Event), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.listenersMu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
