// Package server exposes the relay's HTTP API: health, version and the
// stream registry.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/sirupsen/logrus"

	"github.com/zsiec/nalrelay/internal/config"
	apperrors "github.com/zsiec/nalrelay/internal/errors"
	"github.com/zsiec/nalrelay/internal/health"
	"github.com/zsiec/nalrelay/internal/logger"
	"github.com/zsiec/nalrelay/internal/registry"
	"github.com/zsiec/nalrelay/internal/transport"
)

const defaultShutdownTimeout = 10 * time.Second

// SessionController gives the API access to the streams served by this
// process.
type SessionController interface {
	Session(id string) (*registry.Stream, bool)
	Disconnect(id string) bool
}

// Server serves the API over HTTP/1.1 and, when configured, HTTP/3.
type Server struct {
	config       *config.ServerConfig
	router       *mux.Router
	logger       *logrus.Logger
	registry     registry.Registry
	sessions     SessionController
	healthMgr    *health.Manager
	errorHandler *apperrors.ErrorHandler

	mu          sync.Mutex
	httpServer  *http.Server
	http3Server *http3.Server
	addr        net.Addr
}

// New builds the server and its routes. sessions may be nil, in which case
// streams can be listed but not disconnected.
func New(cfg *config.ServerConfig, log *logrus.Logger, reg registry.Registry, sessions SessionController, healthMgr *health.Manager) *Server {
	s := &Server{
		config:       cfg,
		router:       mux.NewRouter(),
		logger:       log,
		registry:     reg,
		sessions:     sessions,
		healthMgr:    healthMgr,
		errorHandler: apperrors.NewErrorHandler(log),
	}
	s.setupRoutes()
	return s
}

// Start serves until ctx is done, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.ListenAddr, strconv.Itoa(s.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	var tlsConfig *tls.Config
	if s.config.TLSCertFile != "" || s.config.HTTP3Port > 0 {
		tlsConfig, err = transport.ServerTLSConfig(config.TLSConfig{
			CertFile: s.config.TLSCertFile,
			KeyFile:  s.config.TLSKeyFile,
		})
		if err != nil {
			ln.Close()
			return err
		}
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	if s.config.TLSCertFile != "" {
		s.httpServer.TLSConfig = &tls.Config{
			Certificates: tlsConfig.Certificates,
			MinVersion:   tls.VersionTLS12,
		}
	}
	if s.config.HTTP3Port > 0 {
		s.http3Server = &http3.Server{
			Addr:       net.JoinHostPort(s.config.ListenAddr, strconv.Itoa(s.config.HTTP3Port)),
			Handler:    s.router,
			TLSConfig:  http3.ConfigureTLSConfig(tlsConfig.Clone()),
			QUICConfig: &quic.Config{},
		}
	}
	httpServer, http3Server := s.httpServer, s.http3Server
	s.mu.Unlock()

	errCh := make(chan error, 2)

	go func() {
		s.logger.WithFields(logrus.Fields{
			"addr": ln.Addr().String(),
			"tls":  s.config.TLSCertFile != "",
		}).Info("Starting HTTP server")

		var err error
		if httpServer.TLSConfig != nil {
			err = httpServer.ServeTLS(ln, "", "")
		} else {
			err = httpServer.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if http3Server != nil {
		go func() {
			s.logger.WithField("port", s.config.HTTP3Port).Info("Starting HTTP/3 server")
			if err := http3Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http3 server: %w", err)
			}
		}()
	}

	select {
	case err := <-errCh:
		s.Shutdown(context.Background())
		return err
	case <-ctx.Done():
		timeout := s.config.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown stops both servers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	httpServer, http3Server := s.httpServer, s.http3Server
	s.mu.Unlock()

	s.logger.Info("Shutting down HTTP server")

	var errs []error
	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	// http3.Server.Close does not drain; in-flight requests are cut.
	if http3Server != nil {
		if err := http3Server.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	return nil
}

// Addr returns the HTTP listener address once Start has bound it.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Router returns the root handler.
func (s *Server) Router() *mux.Router {
	return s.router
}

// RegisterRoutes adds routes to the router.
func (s *Server) RegisterRoutes(register func(*mux.Router)) {
	register(s.router)
}

func (s *Server) setupRoutes() {
	s.router.Use(logger.RequestLoggerMiddleware(s.logger))
	s.router.Use(s.errorHandler.Middleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.altSvcMiddleware)

	healthHandler := health.NewHandler(s.healthMgr)
	s.router.HandleFunc("/health", healthHandler.HandleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", healthHandler.HandleReady).Methods(http.MethodGet)
	s.router.HandleFunc("/live", healthHandler.HandleLive).Methods(http.MethodGet)

	s.router.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/streams", s.handleListStreams).Methods(http.MethodGet)
	api.HandleFunc("/streams/{id}", s.handleGetStream).Methods(http.MethodGet)
	api.HandleFunc("/streams/{id}", s.handleDisconnectStream).Methods(http.MethodDelete)

	if s.config.DebugEndpoints {
		s.setupDebugEndpoints()
	}

	// The api subrouter reports its own 404s and 405s.
	for _, r := range []*mux.Router{s.router, api} {
		r.NotFoundHandler = http.HandlerFunc(s.errorHandler.HandleNotFound)
		r.MethodNotAllowedHandler = http.HandlerFunc(s.errorHandler.HandleMethodNotAllowed)
	}
}

func (s *Server) setupDebugEndpoints() {
	s.logger.Info("Enabling debug endpoints")

	debug := s.router.PathPrefix("/debug/pprof").Subrouter()
	debug.HandleFunc("/cmdline", pprof.Cmdline)
	debug.HandleFunc("/profile", pprof.Profile)
	debug.HandleFunc("/symbol", pprof.Symbol)
	debug.HandleFunc("/trace", pprof.Trace)
	debug.PathPrefix("/").HandlerFunc(pprof.Index)
}
