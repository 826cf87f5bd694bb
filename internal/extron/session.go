package extron

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// State is the session lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateReady:
		return "READY"
	default:
		return "UNKNOWN"
	}
}

// Endpoint identifies one physical device.
type Endpoint struct {
	Host     string
	Port     int
	Password string
}

func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// SessionOptions tune the per-request and handshake timeouts.
type SessionOptions struct {
	CommandTimeout time.Duration
	LoginTimeout   time.Duration
	ConnectTimeout time.Duration
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = DefaultCommandTimeout
	}
	if o.LoginTimeout <= 0 {
		o.LoginTimeout = DefaultLoginTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	return o
}

// Session is the single logical connection to one device. All wire I/O for
// the device goes through it; commands are sent one at a time in FIFO order.
type Session struct {
	id       uuid.UUID
	endpoint Endpoint
	dialer   Dialer
	matrix   *Matrix
	opts     SessionOptions
	logger   *zap.Logger

	mu           sync.Mutex
	state        State
	link         *link
	lastActivity time.Time
	listeners    map[uint64]func(State)
	nextListener uint64

	// pending counts queued plus in-flight requests.
	pending atomic.Int32

	resyncGroup singleflight.Group
}

// link is the lifetime of one transport connection.
type link struct {
	submit   chan *request
	closing  chan struct{}
	finished chan struct{}
	ready    chan error

	closeOnce sync.Once
	reason    error
	readyOnce sync.Once

	// err is why the link ended; readable once finished is closed.
	err error
}

func newLink() *link {
	return &link{
		submit:   make(chan *request),
		closing:  make(chan struct{}),
		finished: make(chan struct{}),
		ready:    make(chan error, 1),
	}
}

func (l *link) close(reason error) {
	l.closeOnce.Do(func() {
		l.reason = reason
		close(l.closing)
	})
}

func (l *link) signalReady(err error) {
	l.readyOnce.Do(func() {
		l.ready <- err
	})
}

// NewSession creates a disconnected session writing into matrix.
func NewSession(endpoint Endpoint, dialer Dialer, matrix *Matrix, opts SessionOptions, logger *zap.Logger) *Session {
	id := uuid.New()
	return &Session{
		id:        id,
		endpoint:  endpoint,
		dialer:    dialer,
		matrix:    matrix,
		opts:      opts.withDefaults(),
		logger:    logger.With(zap.String("session", id.String()), zap.String("address", endpoint.Address())),
		listeners: make(map[uint64]func(State)),
	}
}

func (s *Session) ID() uuid.UUID {
	return s.id
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivity is the time of the last byte written or read.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Pending returns the number of queued and in-flight commands.
func (s *Session) Pending() int {
	return int(s.pending.Load())
}

// OnStateChange registers fn for lifecycle transitions. fn runs on the
// session goroutine and must not block.
func (s *Session) OnStateChange(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Connect opens the transport, authenticates if needed and resynchronizes
// the matrix. It returns once the session is Ready or the attempt failed;
// a failed resync is logged and leaves the matrix stale.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	l := newLink()
	s.link = l
	// Claimed before unlocking so a concurrent Connect sees a busy session.
	s.state = StateConnecting
	s.mu.Unlock()

	s.transition(l, StateConnecting)
	s.logger.Info("Connecting to device")

	t, err := s.dial(ctx, l)
	if err != nil {
		s.abandon(l, err)
		s.logger.Warn("Connect failed", zap.Error(err))
		return err
	}

	go s.run(l, t)

	select {
	case err := <-l.ready:
		if err != nil {
			<-l.finished
			return err
		}
	case <-ctx.Done():
		l.close(fmt.Errorf("%w: %w", ErrCancelled, ctx.Err()))
		<-l.finished
		return l.err
	}

	if err := s.Resync(ctx); err != nil {
		s.logger.Warn("Initial resync failed", zap.Error(err))
	}
	return nil
}

func (s *Session) dial(ctx context.Context, l *link) (Transport, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	go func() {
		select {
		case <-l.closing:
			cancel()
		case <-dialCtx.Done():
		}
	}()

	t, err := s.dialer.Dial(dialCtx, s.endpoint.Address())
	if err != nil {
		var connectErr *ConnectError
		if !errors.As(err, &connectErr) {
			err = &ConnectError{Address: s.endpoint.Address(), Cause: err}
		}
		select {
		case <-l.closing:
			return nil, l.reason
		default:
		}
		return nil, err
	}

	select {
	case <-l.closing:
		t.Close()
		return nil, l.reason
	default:
	}
	return t, nil
}

// abandon ends a link whose run loop never started.
func (s *Session) abandon(l *link, err error) {
	l.err = err
	s.transition(l, StateDisconnected)
	l.signalReady(err)
	close(l.finished)
}

// Close tears the session down, failing outstanding requests with ErrCancelled.
func (s *Session) Close() error {
	s.mu.Lock()
	l := s.link
	s.mu.Unlock()

	if l == nil {
		return nil
	}
	l.close(ErrCancelled)
	<-l.finished
	return nil
}

// Submit queues cmd and waits for its answer. Requests are written one at a
// time; the next is sent only after the previous resolved.
func (s *Session) Submit(ctx context.Context, cmd Command) (any, error) {
	s.mu.Lock()
	l := s.link
	s.mu.Unlock()

	if l == nil {
		return nil, ErrNotConnected
	}

	req := newRequest(ctx, cmd, s.opts.CommandTimeout)
	select {
	case l.submit <- req:
	case <-l.finished:
		return nil, l.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-req.done:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resync reads every output's video tie from the device and replaces the
// matrix with the result. Concurrent calls share one query sequence.
func (s *Session) Resync(ctx context.Context) error {
	_, err, _ := s.resyncGroup.Do("resync", func() (any, error) {
		return nil, s.resync(ctx)
	})
	return err
}

func (s *Session) resync(ctx context.Context) error {
	since := s.matrix.Generation()
	_, outputs := s.matrix.Size()

	snap := make(Snapshot, outputs)
	for out := 1; out <= outputs; out++ {
		v, err := s.Submit(ctx, StatusCommand{Output: out})
		if err != nil {
			return fmt.Errorf("resync output %d: %w", out, err)
		}
		snap[Tie{Output: out, Signal: SignalVideo}] = v.(int)
	}

	s.matrix.Replace(snap, since)
	s.logger.Debug("Matrix resynchronized", zap.Int("outputs", outputs))
	return nil
}

func (s *Session) resyncInBackground() {
	_, outputs := s.matrix.Size()
	timeout := time.Duration(outputs+1) * s.opts.CommandTimeout

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.Resync(ctx); err != nil {
		s.logger.Warn("Resync after timeout failed", zap.Error(err))
	}
}

func (s *Session) transition(l *link, state State) {
	s.mu.Lock()
	if s.link != l {
		s.mu.Unlock()
		return
	}
	s.state = state
	if state == StateDisconnected {
		s.link = nil
	}
	fns := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	s.logger.Info("Session state changed", zap.Stringer("state", state))
	for _, fn := range fns {
		fn(state)
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}
