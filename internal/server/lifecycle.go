package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rsclarke/tallyview/internal/logging"
)

// ServerConfig describes one listener.
type ServerConfig struct {
	Addr              string
	Handler           http.Handler
	TLSConfig         *tls.Config
	Logger            *zap.Logger
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

// DefaultServerConfig returns a ServerConfig with conservative timeouts.
func DefaultServerConfig(addr string, handler http.Handler, logger *zap.Logger) ServerConfig {
	return ServerConfig{
		Addr:              addr,
		Handler:           handler,
		Logger:            logger,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

// ManagedServer is an http.Server whose listener is bound synchronously, so
// that address conflicts surface from Start rather than from a goroutine.
type ManagedServer struct {
	name   string
	server *http.Server
	logger *zap.Logger

	ln    net.Listener
	errCh chan error
}

// NewManagedServer creates a ManagedServer. TLS is served when
// cfg.TLSConfig is set.
func NewManagedServer(name string, cfg ServerConfig) *ManagedServer {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	errLog, _ := zap.NewStdLogAt(logger, zapcore.ErrorLevel)

	return &ManagedServer{
		name:   name,
		logger: logger,
		errCh:  make(chan error, 1),
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           cfg.Handler,
			TLSConfig:         cfg.TLSConfig,
			ErrorLog:          errLog,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
	}
}

// Name returns the server's name.
func (m *ManagedServer) Name() string { return m.name }

// Addr returns the bound address, or the configured one before Start.
func (m *ManagedServer) Addr() string {
	if m.ln != nil {
		return m.ln.Addr().String()
	}
	return m.server.Addr
}

// Err delivers the error that stopped the server, if any. It is closed once
// the server has stopped.
func (m *ManagedServer) Err() <-chan error { return m.errCh }

// Start binds the listener and serves in the background.
func (m *ManagedServer) Start() error {
	if m.ln != nil {
		return fmt.Errorf("%s: already started", m.name)
	}
	ln, err := net.Listen("tcp", m.server.Addr)
	if err != nil {
		return fmt.Errorf("%s failed to start: %w", m.name, err)
	}
	useTLS := m.server.TLSConfig != nil
	m.ln = ln

	m.logger.Info("server listening",
		zap.String("server", m.name),
		logging.Addr(ln.Addr().String()),
		zap.Bool("tls", useTLS))

	go func() {
		defer close(m.errCh)
		var err error
		if useTLS {
			err = m.server.ServeTLS(ln, "", "")
		} else {
			err = m.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("server stopped", zap.String("server", m.name), zap.Error(err))
			m.errCh <- err
		}
	}()
	return nil
}

// Shutdown gracefully stops a started server.
func (m *ManagedServer) Shutdown(ctx context.Context) {
	if m.ln == nil {
		return
	}
	if err := m.server.Shutdown(ctx); err != nil {
		m.logger.Warn("shutdown error", zap.String("server", m.name), zap.Error(err))
	}
}

// Group starts and stops a set of servers together.
type Group struct {
	servers []*ManagedServer
}

// Add registers a server with the group.
func (g *Group) Add(s *ManagedServer) {
	g.servers = append(g.servers, s)
}

// Start starts every server that is not yet running. If one fails to bind,
// the ones started by this call are shut down again.
func (g *Group) Start() error {
	var started []*ManagedServer
	for _, s := range g.servers {
		if s.ln != nil {
			continue
		}
		if err := s.Start(); err != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdownAll(ctx, started)
			return err
		}
		started = append(started, s)
	}
	return nil
}

// Wait blocks until ctx is done or a server stops with an error.
func (g *Group) Wait(ctx context.Context) error {
	errs := make(chan error, len(g.servers))
	for _, s := range g.servers {
		go func(s *ManagedServer) {
			if err, ok := <-s.Err(); ok && err != nil {
				errs <- fmt.Errorf("%s: %w", s.name, err)
			}
		}(s)
	}
	select {
	case <-ctx.Done():
		return nil
	case err := <-errs:
		return err
	}
}

// Shutdown stops every server concurrently.
func (g *Group) Shutdown(ctx context.Context) {
	shutdownAll(ctx, g.servers)
}

func shutdownAll(ctx context.Context, servers []*ManagedServer) {
	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func(s *ManagedServer) {
			defer wg.Done()
			s.Shutdown(ctx)
		}(s)
	}
	wg.Wait()
}
