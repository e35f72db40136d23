// Package server implements the TCP endpoint for field devices: one request
// per connection, dispatched by action to the device registry, the
// telemetry store, or the file transfer engine.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/palmlab/telemetry-hub/internal/events"
	"github.com/palmlab/telemetry-hub/internal/registry"
	"github.com/palmlab/telemetry-hub/internal/session"
)

// Server accepts device connections and runs one handler goroutine per
// connection, so a stalled peer never delays the others.
type Server struct {
	addr        string
	readTimeout time.Duration
	destDir     string

	registry  *registry.DeviceRegistry
	telemetry *registry.TelemetryStore
	bus       *events.Bus
	monitor   *events.HeartbeatMonitor
	launcher  session.Launcher
	logger    zerolog.Logger

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
}

// NewServer wires a server to its collaborators. launcher may be
// session.NopLauncher{} when no orchestration hook is configured.
func NewServer(
	addr string,
	readTimeout time.Duration,
	destDir string,
	deviceRegistry *registry.DeviceRegistry,
	telemetryStore *registry.TelemetryStore,
	bus *events.Bus,
	monitor *events.HeartbeatMonitor,
	launcher session.Launcher,
	logger zerolog.Logger,
) *Server {
	return &Server{
		addr:        addr,
		readTimeout: readTimeout,
		destDir:     destDir,
		registry:    deviceRegistry,
		telemetry:   telemetryStore,
		bus:         bus,
		monitor:     monitor,
		launcher:    launcher,
		logger:      logger,
	}
}

// Start binds the listening socket and launches the accept loop. A bind
// failure or an unusable destination directory is fatal; after a successful
// start no single connection's failure terminates the server.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		s.logger.Warn().Msg("Server is already running")
		return errors.New("server is already running")
	}

	if err := os.MkdirAll(s.destDir, 0o755); err != nil {
		return fmt.Errorf("cannot create destination directory %s: %w", s.destDir, err)
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("cannot bind %s: %w", s.addr, err)
	}
	s.listener = listener

	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("Server listening")
	return nil
}

// Stop closes the listener and waits for in-flight handlers to finish.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil {
		s.logger.Warn().Msg("Server is not running")
		return errors.New("server is not running")
	}

	s.cancel()
	s.listener.Close()
	s.wg.Wait()

	s.ctx = nil
	s.cancel = nil

	s.logger.Info().Msg("Server stopped")
	return nil
}

// Addr returns the bound listen address, useful when port 0 was configured.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			s.logger.Error().Err(err).Msg("Accept failed")
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}
