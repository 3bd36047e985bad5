package judgewire

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"slices"
	"sync"
)

// Server accepts master connections and hands them to a Worker.
type Server struct {
	connections []*Conn
	mutex       sync.RWMutex
	listener    net.Listener
	worker      *Worker
	wg          sync.WaitGroup
}

// NewServer creates a new server
func NewServer(worker *Worker) *Server {
	return &Server{
		worker: worker,
	}
}

// AddConnection adds a connection to the pool
func (s *Server) AddConnection(conn *Conn) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.connections = append(s.connections, conn)
}

// RemoveConnection removes a connection from the pool
func (s *Server) RemoveConnection(conn *Conn) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i, c := range s.connections {
		if c == conn {
			s.connections = slices.Delete(s.connections, i, i+1)
			slog.Info("Removed connection from pool", "remaining", len(s.connections))
			return true
		}
	}

	return false // Connection not found
}

// ConnectionCount returns the number of open connections
func (s *Server) ConnectionCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.connections)
}

// CreateListener creates the TCP listener. With a non-nil tlsConfig every
// connection is wrapped in TLS before the protocol starts.
func (s *Server) CreateListener(addr string, tlsConfig *tls.Config) error {
	slog.Info("Creating judge server", "addr", addr, "tls", tlsConfig != nil)

	var (
		listener net.Listener
		err      error
	)
	if tlsConfig != nil {
		listener, err = tls.Listen("tcp", addr, tlsConfig)
	} else {
		listener, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return err
	}

	s.listener = listener
	return nil
}

// Addr returns the listener address, or nil before CreateListener.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start begins accepting connections on the listener. It returns nil once the
// listener is closed.
func (s *Server) Start(ctx context.Context) error {
	if s.listener == nil {
		return &net.OpError{Op: "listen", Net: "tcp", Err: net.ErrClosed}
	}

	slog.Info("Judge server started, waiting for connections...", "addr", s.listener.Addr())

	connectionID := 0
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Check if listener was closed
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("Failed to accept connection", "error", err)
			continue
		}

		connectionID++
		slog.Info("Accepted new connection", "connectionID", connectionID, "remote", conn.RemoteAddr())

		// Handle each connection in a new goroutine
		s.wg.Add(1)
		go s.handleConnection(ctx, conn, connectionID)
	}
}

// handleConnection handles an individual master connection
func (s *Server) handleConnection(ctx context.Context, nc net.Conn, connectionID int) {
	defer s.wg.Done()

	conn := s.worker.NewConn(nc)
	defer conn.Close()

	// Register the connection
	s.AddConnection(conn)
	defer s.RemoveConnection(conn)

	s.worker.ServeConn(ctx, conn, connectionID)
}

// Close closes the listener and every open connection, then waits for the
// connection handlers to exit.
func (s *Server) Close() error {
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.mutex.RLock()
	conns := slices.Clone(s.connections)
	s.mutex.RUnlock()
	for _, c := range conns {
		c.Close()
	}

	s.wg.Wait()
	return err
}
