package extron

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

const waitTimeout = 2 * time.Second

// fakeTransport is a scripted device. Writes are recorded and may be
// answered by respond; tests push further lines with send.
type fakeTransport struct {
	mu      sync.Mutex
	writes  []string
	written chan string
	respond func(cmd string) []string

	chunks    chan Chunk
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport(respond func(cmd string) []string) *fakeTransport {
	return &fakeTransport{
		written: make(chan string, 256),
		respond: respond,
		chunks:  make(chan Chunk, 256),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTransport) Write(p []byte) error {
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
	}

	s := string(p)
	f.mu.Lock()
	f.writes = append(f.writes, s)
	respond := f.respond
	f.mu.Unlock()

	f.written <- s
	if respond != nil {
		for _, line := range respond(strings.TrimSuffix(s, LineTerminator)) {
			f.send(line + LineTerminator)
		}
	}
	return nil
}

func (f *fakeTransport) Chunks() <-chan Chunk {
	return f.chunks
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// send delivers raw bytes as one chunk.
func (f *fakeTransport) send(raw string) {
	f.chunks <- Chunk{Data: []byte(raw)}
}

// drop ends the stream the way a reset connection does.
func (f *fakeTransport) drop(err error) {
	f.chunks <- Chunk{Err: err}
}

func (f *fakeTransport) setRespond(fn func(cmd string) []string) {
	f.mu.Lock()
	f.respond = fn
	f.mu.Unlock()
}

func (f *fakeTransport) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// waitWrite skips writes until want appears.
func (f *fakeTransport) waitWrite(t *testing.T, want string) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case got := <-f.written:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for write %q", want)
		}
	}
}

// expectNoWrite fails if anything is written within d.
func (f *fakeTransport) expectNoWrite(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case got := <-f.written:
		t.Fatalf("unexpected write %q", got)
	case <-time.After(d):
	}
}

type fakeDialer struct {
	mu        sync.Mutex
	transport *fakeTransport
	err       error
	dials     int
}

func (d *fakeDialer) Dial(ctx context.Context, address string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	return d.transport, nil
}

// statusResponder answers "<O>%" with the input in routes (0 when absent).
func statusResponder(routes map[int]int) func(string) []string {
	return func(cmd string) []string {
		out, ok := strings.CutSuffix(cmd, "%")
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(out)
		if err != nil {
			return nil
		}
		return []string{strconv.Itoa(routes[n])}
	}
}

func testOptions() SessionOptions {
	return SessionOptions{
		CommandTimeout: time.Second,
		LoginTimeout:   time.Second,
		ConnectTimeout: time.Second,
	}
}

func newTestSession(t *testing.T, endpoint Endpoint, transport *fakeTransport, inputs, outputs int, opts SessionOptions, logger *zap.Logger) (*Session, *Matrix) {
	t.Helper()
	if logger == nil {
		// Session goroutines may still log after the test returns.
		logger = zap.NewNop()
	}
	m := NewMatrix(inputs, outputs)
	s := NewSession(endpoint, &fakeDialer{transport: transport}, m, opts, logger)
	t.Cleanup(func() { s.Close() })
	return s, m
}

// eventually polls cond until it holds or the wait times out.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// changeRecorder collects notifications from a matrix subscription.
type changeRecorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *changeRecorder) record(c Change) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func (r *changeRecorder) snapshot() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Change(nil), r.changes...)
}
