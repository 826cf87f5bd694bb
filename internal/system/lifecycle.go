package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/KevinKickass/OpenMatrixCore/internal/api/rest"
	"github.com/KevinKickass/OpenMatrixCore/internal/api/stream"
	"github.com/KevinKickass/OpenMatrixCore/internal/api/websocket"
	"github.com/KevinKickass/OpenMatrixCore/internal/auth"
	"github.com/KevinKickass/OpenMatrixCore/internal/config"
	"github.com/KevinKickass/OpenMatrixCore/internal/devices"
	"github.com/KevinKickass/OpenMatrixCore/internal/extron"
	"github.com/KevinKickass/OpenMatrixCore/internal/interfaces"
	"github.com/KevinKickass/OpenMatrixCore/internal/publish"
	"github.com/KevinKickass/OpenMatrixCore/internal/storage"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

type LifecycleManager struct {
	config        *config.Config
	storage       *storage.PostgresClient
	deviceManager *devices.Manager
	authService   *auth.AuthService
	wsHub         *websocket.Hub
	streamer      *stream.EventStreamer
	dispatchers   []*publish.Dispatcher
	logger        *zap.Logger

	restServer *rest.Server
	grpcServer *grpc.Server
	grpcAddr   net.Addr
	hubCancel  context.CancelFunc

	unsubscribe []func()

	stateMu      sync.RWMutex
	currentState SystemState
	startedAt    time.Time

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// LifecycleOption customizes a LifecycleManager.
type LifecycleOption func(*lifecycleOptions)

type lifecycleOptions struct {
	managerOpts []devices.ManagerOption
	sinks       []publish.Sink
}

// WithManagerOptions passes options to the device manager.
func WithManagerOptions(opts ...devices.ManagerOption) LifecycleOption {
	return func(o *lifecycleOptions) {
		o.managerOpts = append(o.managerOpts, opts...)
	}
}

// WithSink adds a route change sink beyond those the configuration enables.
func WithSink(sink publish.Sink) LifecycleOption {
	return func(o *lifecycleOptions) {
		o.sinks = append(o.sinks, sink)
	}
}

// NewLifecycleManager wires the system. db may be nil when the database is
// disabled.
func NewLifecycleManager(db *storage.PostgresClient, cfg *config.Config, logger *zap.Logger, opts ...LifecycleOption) (*LifecycleManager, error) {
	var o lifecycleOptions
	for _, opt := range opts {
		opt(&o)
	}

	deviceManager, err := devices.NewManager(cfg.Extron, cfg.Devices.SearchPaths, logger, o.managerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create device manager: %w", err)
	}

	authService := auth.NewAuthService(cfg.Auth, logger)

	sinks := o.sinks
	if db != nil {
		sinks = append(sinks, publish.NewHistorySink(db))
	}
	if cfg.Kafka.Enabled {
		kafkaSink, err := publish.NewKafkaSink(cfg.Kafka)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka sink: %w", err)
		}
		sinks = append(sinks, kafkaSink)
	}

	dispatchers := make([]*publish.Dispatcher, 0, len(sinks))
	for _, sink := range sinks {
		dispatchers = append(dispatchers, publish.NewDispatcher(sink, logger))
	}

	return &LifecycleManager{
		config:        cfg,
		storage:       db,
		deviceManager: deviceManager,
		authService:   authService,
		wsHub:         websocket.NewHub(logger, authService),
		streamer:      stream.NewEventStreamer(),
		dispatchers:   dispatchers,
		logger:        logger,
		currentState:  StateInitializing,
		shutdownChan:  make(chan struct{}),
	}, nil
}

// Start starts the entire system
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting OpenMatrixCore")
	lm.startedAt = time.Now()

	hubCtx, cancel := context.WithCancel(context.Background())
	lm.hubCancel = cancel
	go lm.wsHub.Run(hubCtx)

	// Every device event fans out to the live streams and the sinks.
	lm.unsubscribe = append(lm.unsubscribe,
		lm.deviceManager.Subscribe(func(ev devices.Event) {
			lm.wsHub.Broadcast(websocket.NewEventMessage(ev))
		}),
		lm.deviceManager.Subscribe(lm.streamer.Publish),
	)
	for _, d := range lm.dispatchers {
		lm.unsubscribe = append(lm.unsubscribe, lm.deviceManager.Subscribe(d.Publish))
	}

	if err := lm.loadDevices(); err != nil {
		lm.setError(err)
		return err
	}

	if err := lm.startGRPCServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start gRPC: %w", err))
		return err
	}

	if err := lm.startRESTServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	lm.setState(StateRunning)

	lm.logger.Info("System started successfully",
		zap.String("grpc_address", lm.grpcAddr.String()),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Int("devices", len(lm.deviceManager.ListDevices())),
		zap.Int("sinks", len(lm.dispatchers)))

	return nil
}

// loadDevices adds the devices from the device files, then those stored in
// the database. A file definition wins over a stored one with the same name.
func (lm *LifecycleManager) loadDevices() error {
	defs, err := lm.deviceManager.LoadDefinitions()
	if err != nil {
		return fmt.Errorf("failed to load device files: %w", err)
	}

	if lm.storage != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		stored, err := lm.storage.LoadDevices(ctx)
		cancel()
		if err != nil {
			// Continue anyway, file devices still work
			lm.logger.Warn("Failed to load devices from database", zap.Error(err))
		}
		defs = append(defs, stored...)
	}

	lm.logger.Info("Loading devices", zap.Int("count", len(defs)))

	for _, def := range defs {
		if _, err := lm.deviceManager.AddDevice(def); err != nil {
			if errors.Is(err, devices.ErrDuplicateDevice) {
				lm.logger.Warn("Skipping stored device shadowed by a device file",
					zap.String("device", def.Name))
				continue
			}
			lm.logger.Error("Failed to add device",
				zap.String("device", def.Name),
				zap.Error(err))
		}
	}
	return nil
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown completes.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 3+len(lm.dispatchers))

	// 1. Stop API servers so no new commands arrive
	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			// Ending the subscriptions lets open streams return.
			lm.streamer.Close()
			lm.stopGRPC(ctx)
		}()
	}
	wg.Wait()

	// 2. Close every device session; pending commands fail with ErrCancelled
	if err := lm.deviceManager.StopAll(ctx); err != nil {
		errChan <- fmt.Errorf("device manager stop failed: %w", err)
	}

	for _, unsubscribe := range lm.unsubscribe {
		unsubscribe()
	}

	// 3. Flush sinks and drop stream clients
	for _, d := range lm.dispatchers {
		if err := d.Close(ctx); err != nil {
			errChan <- fmt.Errorf("sink close failed: %w", err)
		}
	}
	if lm.hubCancel != nil {
		lm.hubCancel()
	}

	close(errChan)
	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		lm.logger.Info("Graceful shutdown completed")
	}
	return errors.Join(errs...)
}

// stopGRPC waits for open streams until ctx ends, then cuts them.
func (lm *LifecycleManager) stopGRPC(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		lm.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing gRPC stop")
		lm.grpcServer.Stop()
	}
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	lm.grpcAddr = lis.Addr()

	service := stream.NewRouteService(lm.deviceManager, lm.streamer, lm.logger)
	lm.grpcServer = stream.NewServer(service, lm.authService)

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.String("address", lis.Addr().String()),
			zap.String("services", "RouteService"))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

// GRPCAddr is the address the gRPC server listens on, once started.
func (lm *LifecycleManager) GRPCAddr() net.Addr {
	return lm.grpcAddr
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger, lm.wsHub, lm.authService)
	return lm.restServer.Start()
}

// RESTServer returns the REST server, once started.
func (lm *LifecycleManager) RESTServer() *rest.Server {
	return lm.restServer
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	previous := lm.currentState
	if err := ValidateTransition(previous, state); err != nil {
		lm.logger.Warn("Unexpected state transition", zap.Error(err))
	}
	lm.currentState = state
	lm.stateMu.Unlock()

	lm.wsHub.Broadcast(websocket.NewSystemStateMessage(state.String(), previous.String()))
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))
	lm.setState(StateError)
}

// State returns the current system state.
func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state := lm.currentState
	startedAt := lm.startedAt
	lm.stateMu.RUnlock()

	list := lm.deviceManager.ListDevices()
	status := interfaces.SystemStatus{
		State:       state.String(),
		DeviceCount: len(list),
		Persistence: lm.storage != nil,
	}
	if !startedAt.IsZero() {
		status.Uptime = time.Since(startedAt).Truncate(time.Second).String()
	}
	for _, d := range list {
		if d.Client.State() == extron.StateReady {
			status.ReadyDevices++
		}
		if d.Client.Stale() {
			status.StaleDevices++
		}
	}
	return status
}

// DeviceManager returns the device manager
func (lm *LifecycleManager) DeviceManager() *devices.Manager {
	return lm.deviceManager
}

// Storage returns the storage client, nil without a database
func (lm *LifecycleManager) Storage() interfaces.DeviceStore {
	if lm.storage == nil {
		return nil
	}
	return lm.storage
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

// AuthService returns the token service shared by REST and gRPC.
func (lm *LifecycleManager) AuthService() *auth.AuthService {
	return lm.authService
}

var _ interfaces.LifecycleManager = (*LifecycleManager)(nil)
