// Package httpserver hosts the daemon's loopback status endpoint.
package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// ShutdownTimeout controls how long to wait for graceful shutdowns.
var ShutdownTimeout = 10 * time.Second

// Server is the local status listener. It binds to loopback only; the status
// surface is not meant to leave the machine.
type Server struct {
	inner *http.Server
	addr  string
}

// New constructs a server for the provided loopback port. Port 0 picks a free
// port, resolvable via Addr after Start.
func New(port int, handler http.Handler) *Server {
	return &Server{
		inner: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       time.Minute,
		},
		addr: fmt.Sprintf("127.0.0.1:%d", port),
	}
}

// Addr returns the bound address once Start has been called.
func (s *Server) Addr() string {
	return s.addr
}

// Start listens and serves until Shutdown or a listener error.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("bind status listener: %w", err)
	}
	s.addr = ln.Addr().String()
	return s.inner.Serve(ln)
}

// Shutdown gracefully terminates the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
