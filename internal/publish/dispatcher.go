// Package publish forwards route changes to external sinks (Kafka, the
// route history table) without ever blocking a device session.
package publish

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KevinKickass/OpenMatrixCore/internal/devices"
	"go.uber.org/zap"
)

// Sink receives batches of route change events.
type Sink interface {
	Name() string
	Write(ctx context.Context, events []devices.Event) error
	Close() error
}

type Option func(*Dispatcher)

func WithBatchSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

func WithFlushInterval(interval time.Duration) Option {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.flushInterval = interval
		}
	}
}

func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// Dispatcher queues route changes and writes them to a sink in batches.
// When the queue is full new events are dropped and counted.
type Dispatcher struct {
	sink   Sink
	logger *zap.Logger

	batchSize     int
	flushInterval time.Duration
	queueSize     int
	writeTimeout  time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan devices.Event
	done   chan struct{}

	dropped atomic.Uint64
	written atomic.Uint64
}

func NewDispatcher(sink Sink, logger *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sink:          sink,
		logger:        logger.With(zap.String("sink", sink.Name())),
		batchSize:     100,
		flushInterval: 500 * time.Millisecond,
		queueSize:     1024,
		writeTimeout:  10 * time.Second,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan devices.Event, d.queueSize)

	go d.run()
	return d
}

// Publish queues ev if it is a route change. It has the signature of a
// devices.Manager subscriber.
func (d *Dispatcher) Publish(ev devices.Event) {
	if ev.Type != devices.EventRouteChanged {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.queue <- ev:
	default:
		d.dropped.Add(1)
	}
}

// Dropped counts events lost to a full queue or a failed write.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Written counts events the sink accepted.
func (d *Dispatcher) Written() uint64 {
	return d.written.Load()
}

// Close flushes queued events and closes the sink.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	select {
	case <-d.done:
	case <-ctx.Done():
		d.logger.Warn("Flush on close timed out", zap.Error(ctx.Err()))
	}
	return d.sink.Close()
}

func (d *Dispatcher) run() {
	defer close(d.done)

	ticker := time.NewTicker(d.flushInterval)
	defer ticker.Stop()

	batch := make([]devices.Event, 0, d.batchSize)
	for {
		select {
		case ev, ok := <-d.queue:
			if !ok {
				d.flush(batch)
				return
			}
			batch = append(batch, ev)
			if len(batch) >= d.batchSize {
				d.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				d.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (d *Dispatcher) flush(batch []devices.Event) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.writeTimeout)
	defer cancel()

	if err := d.sink.Write(ctx, batch); err != nil {
		d.dropped.Add(uint64(len(batch)))
		d.logger.Warn("Failed to write route changes",
			zap.Int("count", len(batch)),
			zap.Error(err))
		return
	}
	d.written.Add(uint64(len(batch)))
}
