// Package extrontest provides an in-process SIS switcher for tests.
package extrontest

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
)

// Server emulates a matrix switcher on a loopback TCP port. Ties are applied
// and echoed, status and information queries are answered from its state.
type Server struct {
	password string

	inputs  int
	outputs int

	ln net.Listener
	wg sync.WaitGroup

	mu       sync.Mutex
	routes   map[int]int
	conns    map[net.Conn]struct{}
	received []string
	silent   bool
}

// Option configures a Server.
type Option func(*Server)

// WithPassword makes every connection log in first.
func WithPassword(password string) Option {
	return func(s *Server) {
		s.password = password
	}
}

// NewServer starts a switcher with the given size.
func NewServer(inputs, outputs int, opts ...Option) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	s := &Server{
		inputs:  inputs,
		outputs: outputs,
		ln:      ln,
		routes:  make(map[int]int),
		conns:   make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Host and Port locate the listener.
func (s *Server) Host() string {
	return s.ln.Addr().(*net.TCPAddr).IP.String()
}

func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Route returns the input currently tied to output.
func (s *Server) Route(output int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.routes[output]
}

// SetRoute changes a tie locally, as the front panel would, and reports it
// to every connected client.
func (s *Server) SetRoute(output, input int) {
	s.mu.Lock()
	s.routes[output] = input
	s.mu.Unlock()
	s.Broadcast(fmt.Sprintf("Out%d In%d All", output, input))
}

// SetSilent stops the server from answering, to provoke command timeouts.
func (s *Server) SetSilent(silent bool) {
	s.mu.Lock()
	s.silent = silent
	s.mu.Unlock()
}

// Received returns every line clients sent, in order.
func (s *Server) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

// Broadcast writes line to every connected client.
func (s *Server) Broadcast(line string) {
	s.mu.Lock()
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Write([]byte(line + "\r\n"))
	}
}

// DropClients closes every open connection; the listener stays up.
func (s *Server) DropClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

// Close stops the listener and all connections.
func (s *Server) Close() error {
	err := s.ln.Close()
	s.DropClients()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	conn.Write([]byte("(c) Copyright 2024, Extron Electronics, Test Matrix\r\n"))

	r := bufio.NewReader(conn)
	if s.password != "" {
		if !s.login(conn, r) {
			return
		}
	}

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)

		s.mu.Lock()
		s.received = append(s.received, line)
		silent := s.silent
		s.mu.Unlock()

		if silent || line == "" {
			continue
		}
		conn.Write([]byte(s.answer(line) + "\r\n"))
	}
}

func (s *Server) login(conn net.Conn, r *bufio.Reader) bool {
	for attempt := 0; attempt < 3; attempt++ {
		conn.Write([]byte("Password:"))
		line, err := r.ReadString('\n')
		if err != nil {
			return false
		}
		if strings.TrimSpace(line) == s.password {
			conn.Write([]byte("\r\nLogin Administrator\r\n"))
			return true
		}
		conn.Write([]byte("\r\n"))
	}
	return false
}

func (s *Server) answer(line string) string {
	switch {
	case line == "I":
		return fmt.Sprintf("V%dX%d A%dX%d", s.inputs, s.outputs, s.inputs, s.outputs)

	case strings.HasSuffix(line, "%"):
		out, err := strconv.Atoi(strings.TrimSuffix(line, "%"))
		if err != nil {
			return "E10"
		}
		if out < 1 || out > s.outputs {
			return "E12"
		}
		return strconv.Itoa(s.Route(out))

	case strings.HasSuffix(line, "!"):
		in, out, ok := strings.Cut(strings.TrimSuffix(line, "!"), "*")
		if !ok {
			return "E10"
		}
		input, err1 := strconv.Atoi(in)
		output, err2 := strconv.Atoi(out)
		if err1 != nil || err2 != nil {
			return "E10"
		}
		if input < 0 || input > s.inputs {
			return "E01"
		}
		if output < 1 || output > s.outputs {
			return "E12"
		}
		s.mu.Lock()
		s.routes[output] = input
		s.mu.Unlock()
		return fmt.Sprintf("Out%d In%d All", output, input)
	}
	return "E10"
}
