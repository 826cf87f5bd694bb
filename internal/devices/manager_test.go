package devices

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenMatrixCore/internal/config"
	"github.com/KevinKickass/OpenMatrixCore/internal/extron"
	"github.com/KevinKickass/OpenMatrixCore/internal/extron/extrontest"
	"github.com/KevinKickass/OpenMatrixCore/internal/types"
	"go.uber.org/zap"
)

func testExtronConfig() config.ExtronConfig {
	return config.ExtronConfig{
		CommandTimeout:    time.Second,
		LoginTimeout:      time.Second,
		ConnectTimeout:    time.Second,
		SuperviseInterval: time.Hour,
		ReconnectBackoff:  10 * time.Millisecond,
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(testExtronConfig(), nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() { m.StopAll(context.Background()) })
	return m
}

func newSwitcher(t *testing.T, inputs, outputs int, opts ...extrontest.Option) *extrontest.Server {
	t.Helper()
	srv, err := extrontest.NewServer(inputs, outputs, opts...)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) ofType(typ EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestManagerSupervisesDevice(t *testing.T) {
	srv := newSwitcher(t, 8, 4, extrontest.WithPassword("extron"))
	srv.SetRoute(2, 5)

	m := newTestManager(t)
	log := &eventLog{}
	m.Subscribe(log.add)

	device, err := m.AddDevice(types.MatrixDevice{
		Name:       "studio-a",
		Host:       srv.Host(),
		Port:       srv.Port(),
		Password:   "extron",
		NumInputs:  8,
		NumOutputs: 4,
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}

	eventually(t, "device in sync", func() bool { return device.Client.Available() })

	out, err := device.Output(2)
	if err != nil {
		t.Fatalf("Output(2) error = %v", err)
	}
	if out.VideoInput != 5 || out.Selection != "Input 5" {
		t.Errorf("output 2 = %+v, want input 5", out)
	}
	if len(out.Options) != 9 {
		t.Errorf("options = %v", out.Options)
	}

	if err := device.Client.SetRoute(context.Background(), 1, 3, extron.SignalVideo); err != nil {
		t.Fatalf("SetRoute() error = %v", err)
	}
	if got := srv.Route(1); got != 3 {
		t.Errorf("switcher output 1 = %d, want 3", got)
	}

	routes := log.ofType(EventRouteChanged)
	if len(routes) == 0 {
		t.Fatal("no route_changed events")
	}
	last := routes[len(routes)-1]
	if last.Device != "studio-a" || last.Change.Output != 1 || last.Change.Input != 3 {
		t.Errorf("last route event = %+v", last)
	}
	if len(log.ofType(EventDeviceState)) == 0 {
		t.Error("no device_state events")
	}

	status := device.Status()
	if status.State != "READY" || status.Stale || status.LastActivity == nil {
		t.Errorf("status = %+v", status)
	}
}

func TestManagerReconnectsAfterDrop(t *testing.T) {
	srv := newSwitcher(t, 4, 2)
	m := newTestManager(t)
	log := &eventLog{}
	m.Subscribe(log.add)

	device, err := m.AddDevice(types.MatrixDevice{
		Name: "lobby", Host: srv.Host(), Port: srv.Port(), NumInputs: 4, NumOutputs: 2, Enabled: true,
	})
	if err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}
	eventually(t, "first connect", func() bool { return device.Client.Available() })
	firstSession := device.Client.SessionID()

	srv.SetRoute(1, 4)
	srv.DropClients()

	readyCount := func() int {
		n := 0
		for _, ev := range log.ofType(EventDeviceState) {
			if ev.State == extron.StateReady {
				n++
			}
		}
		return n
	}
	eventually(t, "reconnect", func() bool {
		return readyCount() >= 2 && device.Client.Available() && device.Client.Snapshot()[extron.Tie{Output: 1, Signal: extron.SignalVideo}] == 4
	})
	if device.Client.SessionID() != firstSession {
		t.Error("session identity changed across reconnect")
	}
}

func TestManagerDisabledDeviceStaysDisconnected(t *testing.T) {
	srv := newSwitcher(t, 4, 2)
	m := newTestManager(t)

	device, err := m.AddDevice(types.MatrixDevice{
		Name: "spare", Host: srv.Host(), Port: srv.Port(), NumInputs: 4, NumOutputs: 2,
	})
	if err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if device.Client.State() != extron.StateDisconnected {
		t.Errorf("State() = %s, want DISCONNECTED", device.Client.State())
	}
}

func TestManagerAddRemove(t *testing.T) {
	m := newTestManager(t)
	def := types.MatrixDevice{Name: "rack-1", Host: "192.0.2.10", NumInputs: 4, NumOutputs: 4}

	device, err := m.AddDevice(def)
	if err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}
	if device.Client.Config().Port != extron.DefaultPort {
		t.Errorf("port = %d, want default", device.Client.Config().Port)
	}

	if _, err := m.AddDevice(def); !errors.Is(err, ErrDuplicateDevice) {
		t.Errorf("duplicate AddDevice() error = %v, want ErrDuplicateDevice", err)
	}
	if _, ok := m.GetDeviceByName("rack-1"); !ok {
		t.Error("GetDeviceByName() missed the device")
	}
	if got := m.ListDevices(); len(got) != 1 {
		t.Errorf("ListDevices() = %d devices", len(got))
	}

	if err := m.RemoveDevice(device.ID); err != nil {
		t.Fatalf("RemoveDevice() error = %v", err)
	}
	if err := m.RemoveDevice(device.ID); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second RemoveDevice() error = %v, want ErrDeviceNotFound", err)
	}
	if _, ok := m.GetDevice(device.ID); ok {
		t.Error("device still listed after removal")
	}
}

func TestManagerRejectsInvalidDevice(t *testing.T) {
	m := newTestManager(t)

	tests := []types.MatrixDevice{
		{Name: "", Host: "h", NumInputs: 1, NumOutputs: 1},
		{Name: "bad name!", Host: "h", NumInputs: 1, NumOutputs: 1},
		{Name: "x", Host: "h", NumInputs: 0, NumOutputs: 1},
		{Name: "x", Host: "h", Port: 70000, NumInputs: 1, NumOutputs: 1},
	}
	for _, def := range tests {
		if _, err := m.AddDevice(def); err == nil {
			t.Errorf("AddDevice(%+v) accepted an invalid device", def)
		}
	}
}
