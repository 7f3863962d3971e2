package webservice

import (
	"net"
	"net/http"
)

type DConfigManager = dConfigManager

// HTTPServer returns the HTTP server for testing purposes.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// PrimaryAddr returns the true address of the primary server.
func (s *Server) PrimaryAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.primaryAddr
}

// MetricsAddr returns the true address of the metrics server.
func (s *Server) MetricsAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metricsAddr
}
