package extron

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// Chunk is one read from the transport. A chunk with a non-nil Err is
// terminal; the channel is closed after it.
type Chunk struct {
	Data []byte
	Err  error
}

// Transport owns one raw stream connection.
type Transport interface {
	Write(p []byte) error
	Chunks() <-chan Chunk
	// Close unblocks any in-progress read or write.
	Close() error
}

// Dialer opens transports. The session redials through it on every Connect.
type Dialer interface {
	Dial(ctx context.Context, address string) (Transport, error)
}

// TCPDialer dials the device's telnet port.
type TCPDialer struct {
	Timeout      time.Duration
	WriteTimeout time.Duration
}

func (d TCPDialer) Dial(ctx context.Context, address string) (Transport, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &ConnectError{Address: address, Cause: err}
	}
	return NewConnTransport(conn, d.WriteTimeout), nil
}

var (
	_ Dialer    = TCPDialer{}
	_ Transport = (*connTransport)(nil)
)

type connTransport struct {
	conn         net.Conn
	writeTimeout time.Duration
	chunks       chan Chunk

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// NewConnTransport wraps an established connection and starts reading from it.
func NewConnTransport(conn net.Conn, writeTimeout time.Duration) Transport {
	t := &connTransport{
		conn:         conn,
		writeTimeout: writeTimeout,
		chunks:       make(chan Chunk, 16),
		done:         make(chan struct{}),
	}
	go t.readLoop()
	return t
}

func (t *connTransport) Chunks() <-chan Chunk {
	return t.chunks
}

func (t *connTransport) Write(p []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if _, err := t.conn.Write(p); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

func (t *connTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}

func (t *connTransport) readLoop() {
	defer close(t.chunks)

	buf := make([]byte, 1024)
	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !t.deliver(Chunk{Data: data}) {
				return
			}
		}
		if err != nil {
			// Closed by us: no terminal chunk.
			select {
			case <-t.done:
				return
			default:
			}
			t.deliver(Chunk{Err: fmt.Errorf("read failed: %w", err)})
			return
		}
	}
}

func (t *connTransport) deliver(c Chunk) bool {
	select {
	case t.chunks <- c:
		return true
	case <-t.done:
		return false
	}
}
