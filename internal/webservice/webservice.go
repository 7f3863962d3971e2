// Package webservice provides an HTTP server that answers preflight version lookups.
package webservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/helix-pages/preflight/internal/versionfetch"
	"github.com/helix-pages/preflight/internal/webservice/handlers"
	"github.com/helix-pages/preflight/internal/webservice/metrics"
	"github.com/helix-pages/preflight/internal/webservice/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Server is a struct that holds the HTTP servers and their configuration.
type Server struct {
	httpServer    *http.Server
	metricsServer *http.Server
	cm            dConfigManager

	mu          sync.RWMutex
	primaryAddr net.Addr
	metricsAddr net.Addr

	// This context is used to interrupt any action.
	// It must be the parent of gracefulCtx.
	ctx    context.Context
	cancel context.CancelFunc

	// This context waits until the next blocking Recv to interrupt.
	gracefulCtx    context.Context
	gracefulCancel context.CancelFunc
}

// StaticConfig holds the static configuration for the server.
type StaticConfig struct {
	ConfigPath string

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	MaxHeaderBytes int

	ListenHost string
	ListenPort int

	MetricsHost string
	MetricsPort int

	RateLimit float64
	RateBurst int

	FetchTimeout      time.Duration
	FetchDisableHTTP2 bool
	FetchUserAgent    string
}

type dConfigManager interface {
	Load() error
	Watch(context.Context) (<-chan struct{}, <-chan error, error)
	DefaultRoot() string
	IsRootAllowed(string) bool
}

// New creates a new Server instance with the given config manager and static configuration.
func New(ctx context.Context, cm dConfigManager, sc StaticConfig) (*Server, error) {
	if err := cm.Load(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	gCtx, gCancel := context.WithCancel(ctx)

	s := Server{
		cm:     cm,
		ctx:    ctx,
		cancel: cancel,

		gracefulCtx:    gCtx,
		gracefulCancel: gCancel}

	fetcher := versionfetch.New(versionfetch.Config{
		Timeout:      sc.FetchTimeout,
		DisableHTTP2: sc.FetchDisableHTTP2,
		UserAgent:    sc.FetchUserAgent,
	})

	registry := prometheus.NewRegistry()
	mw := metrics.NewMiddleware(registry)
	outcomes := metrics.NewPreflightOutcomes(registry)

	preflightHandler := handlers.NewPreflight(cm, fetcher, outcomes)
	mux := http.NewServeMux()
	mux.Handle("GET /preflight", mw.WrapEndpoint("preflight", metrics.WithPathLabel(preflightHandler)))
	mux.Handle("GET /version", mw.WrapEndpoint("version", metrics.WithPathLabel(http.HandlerFunc(handlers.VersionHandler))))

	var handler http.Handler = mw.WrapMux(mux)
	if sc.RateLimit > 0 {
		limiter := middleware.NewIPLimiter(rate.Limit(sc.RateLimit), sc.RateBurst)
		handler = limiter.RateLimit(handler)
	}
	if sc.RequestTimeout > 0 {
		handler = http.TimeoutHandler(handler, sc.RequestTimeout, "")
	}

	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf("%s:%d", sc.ListenHost, sc.ListenPort),
		ReadTimeout:    sc.ReadTimeout,
		WriteTimeout:   sc.WriteTimeout,
		Handler:        handler,
		MaxHeaderBytes: sc.MaxHeaderBytes,
	}

	if sc.MetricsPort > 0 {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
		s.metricsServer = &http.Server{
			Addr:           fmt.Sprintf("%s:%d", sc.MetricsHost, sc.MetricsPort),
			ReadTimeout:    sc.ReadTimeout,
			WriteTimeout:   sc.WriteTimeout,
			Handler:        metricsMux,
			MaxHeaderBytes: sc.MaxHeaderBytes,
		}
	}

	return &s, nil
}

// Run starts the HTTP servers and listens for incoming requests.
func (s *Server) Run() error {
	slog.Info("Starting server", "addr", s.httpServer.Addr)

	// already asked to quit?
	select {
	case <-s.gracefulCtx.Done():
		return errors.New("server is already shutting down")
	default:
	}

	_, watchErr, err := s.cm.Watch(s.gracefulCtx)
	if err != nil {
		return fmt.Errorf("failed to start watching configuration: %v", err)
	}

	serverErr := make(chan error, 2)

	lis, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("failed to listen on %s: %v", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.primaryAddr = lis.Addr()
	s.mu.Unlock()

	go func() {
		if err := s.httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	if s.metricsServer != nil {
		mlis, err := net.Listen("tcp", s.metricsServer.Addr)
		if err != nil {
			errC := s.httpServer.Close()
			s.cancel()
			return errors.Join(fmt.Errorf("failed to listen on %s: %v", s.metricsServer.Addr, err), errC)
		}
		s.mu.Lock()
		s.metricsAddr = mlis.Addr()
		s.mu.Unlock()

		slog.Info("Starting metrics server", "addr", mlis.Addr())
		go func() {
			if err := s.metricsServer.Serve(mlis); err != nil && err != http.ErrServerClosed {
				serverErr <- err
			}
		}()
	}

	select {
	case <-s.gracefulCtx.Done():
		slog.Info("Graceful shutdown initiated")
		// use parent ctx so if you call s.cancel() elsewhere it unblocks Shutdown immediately
		err := s.httpServer.Shutdown(s.ctx)
		if s.metricsServer != nil {
			err = errors.Join(err, s.metricsServer.Shutdown(s.ctx))
		}
		if err != nil {
			slog.Error("Graceful shutdown failed", "err", err)
			s.cancel()
			return err
		}
		slog.Info("Server shut down gracefully")
		// now kill everything else (watchers, handlers, etc.)
		s.cancel()
		return nil

	case err := <-serverErr:
		slog.Error("Server encountered error", "err", err)
		errC := s.closeAll()
		s.cancel()
		return errors.Join(err, errC)

	case err := <-watchErr:
		if err != nil {
			slog.Error("Config watcher encountered unrecoverable error", "err", err)
		}
		errC := s.closeAll()
		s.cancel()

		return errors.Join(err, errC)
	}
}

// Quit shuts down the HTTP servers gracefully, or forcefully if requested.
func (s *Server) Quit(force bool) {
	defer s.cancel()

	if force {
		s.closeAll()
		s.cancel()
	} else {
		s.gracefulCancel()
	}
	slog.Info("Server quit")
}

func (s *Server) closeAll() error {
	err := s.httpServer.Close()
	if s.metricsServer != nil {
		err = errors.Join(err, s.metricsServer.Close())
	}
	return err
}
