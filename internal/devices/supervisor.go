package devices

import (
	"context"
	"sync"
	"time"

	"github.com/KevinKickass/OpenMatrixCore/internal/extron"
	"go.uber.org/zap"
)

// Supervisor keeps one switcher connected: it reconnects a disconnected
// session and resyncs a ready one on every tick.
type Supervisor struct {
	device   *Device
	interval time.Duration
	backoff  time.Duration
	logger   *zap.Logger

	stopChan chan struct{}
	wake     chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

func NewSupervisor(device *Device, interval, backoff time.Duration, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		device:   device,
		interval: interval,
		backoff:  backoff,
		logger:   logger.With(zap.String("device", device.Definition.Name)),
		stopChan: make(chan struct{}),
		wake:     make(chan struct{}, 1),
	}
}

// Start begins supervision with an immediate connect attempt.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.wg.Add(1)

	go s.superviseLoop()

	s.logger.Info("Supervisor started", zap.Duration("interval", s.interval))
}

// Stop ends supervision; it does not close the session.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()

	s.logger.Info("Supervisor stopped")
}

// Nudge schedules a check now instead of at the next tick. The device calls
// it when its session drops.
func (s *Supervisor) Nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Supervisor) superviseLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.check()
	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.check()
		case <-s.wake:
			// Avoid hammering a device that refuses connections.
			select {
			case <-s.stopChan:
				return
			case <-time.After(s.backoff):
			}
			s.check()
		}
	}
}

func (s *Supervisor) check() {
	client := s.device.Client
	ctx, cancel := s.context()
	defer cancel()

	switch client.State() {
	case extron.StateDisconnected:
		if err := client.Connect(ctx); err != nil {
			s.logger.Warn("Reconnect failed", zap.Error(err))
		}
	case extron.StateReady:
		if err := client.Resync(ctx); err != nil {
			s.logger.Warn("Periodic resync failed", zap.Error(err))
		}
	}
}

// context bounds one check and is cancelled by Stop.
func (s *Supervisor) context() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	go func() {
		select {
		case <-s.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
