// Package server exposes scenes over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/zeusync/crdtsync/internal/core/observability/log"
	"github.com/zeusync/crdtsync/internal/core/scene"
	"github.com/zeusync/crdtsync/internal/core/storage"
)

// Config holds server configuration
type Config struct {
	Addr string
	// ReadLimit bounds a single inbound WebSocket frame.
	ReadLimit    int64
	WriteTimeout time.Duration
	// SendQueue is the number of frames buffered per peer before it is dropped.
	SendQueue int
	// Token, when set, is required on every request except /health.
	Token string
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:8080",
		ReadLimit:    1024 * 1024,
		WriteTimeout: 10 * time.Second,
		SendQueue:    256,
	}
}

// SnapshotLister reports what the snapshot store holds.
type SnapshotLister interface {
	List(ctx context.Context) ([]storage.SnapshotRecord, error)
	Statistics(ctx context.Context) (storage.Statistics, error)
}

type Option func(*Server)

// WithSnapshots enables GET /snapshots.
func WithSnapshots(snapshots SnapshotLister) Option {
	return func(s *Server) {
		s.snapshots = snapshots
	}
}

// Server serves the scenes of a hub.
type Server struct {
	config    Config
	hub       *scene.Hub
	rooms     *rooms
	snapshots SnapshotLister
	logger    log.Log

	httpServer *http.Server
	listener   net.Listener
	running    atomic.Bool
	closed     atomic.Bool
}

func New(cfg Config, hub *scene.Hub, logger log.Log, opts ...Option) *Server {
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = DefaultConfig().SendQueue
	}
	s := &Server{
		config: cfg,
		hub:    hub,
		rooms:  newRooms(),
		logger: logger.With(log.String("component", "server")),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(_ context.Context) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		s.running.Store(false)
		s.logger.Error("Failed to create listener", log.Err(err))
		return err
	}
	s.listener = ln

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Serve failed", log.Err(err))
		}
	}()

	s.logger.Info("Server listening", log.String("addr", ln.Addr().String()))
	return nil
}

// Addr is the bound listener address, empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops accepting requests, disconnects every peer and waits for the
// in-flight handlers until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return ErrServerNotRunning
	}
	s.closed.Store(true)

	s.logger.Info("Stopping server")
	started := time.Now()
	err := s.httpServer.Shutdown(ctx)
	s.rooms.closeAll()
	s.logger.Info("Server stopped", log.Duration("elapsed", time.Since(started)))
	return err
}
