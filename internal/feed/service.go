package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/depotops/feedmux/internal/connection"
	"github.com/depotops/feedmux/internal/telemetry"
)

// ErrServiceClosed is returned when registering on a closed service.
var ErrServiceClosed = errors.New("feed service closed")

// Service is the consumer-facing surface: one shared connection, one
// registry, one dispatcher. Consumers register topic interest and receive
// parsed events through their callbacks; the service opens the connection
// lazily on the first registration.
type Service interface {
	// Register adds a consumer for the given topics. Callbacks run on the
	// dispatch goroutine; a slow callback delays later deliveries. The
	// returned func tears the consumer down synchronously and is safe to
	// call more than once. It must not be called from one of the
	// consumer's own callbacks.
	Register(topics []string, callbacks Callbacks) (func(), error)

	// Close tears down dispatch and the shared connection.
	Close(ctx context.Context) error

	// Stats returns statistics from every layer.
	Stats() ServiceStats
}

// ServiceStats aggregates per-component statistics.
type ServiceStats struct {
	Connection connection.ManagerStats
	Dispatch   DispatcherStats
	Registry   RegistryStats
}

// service is the internal implementation.
type service struct {
	registry   *Registry
	manager    connection.Manager
	dispatcher Dispatcher
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	opened bool
	closed bool
}

// NewService wires up a registry, a connection manager, and a dispatcher.
// The connection is not dialed until the first Register call.
func NewService(cfg connection.ManagerConfig, collector telemetry.Collector, logger *slog.Logger) Service {
	if collector == nil {
		collector = telemetry.Noop()
	}
	if logger == nil {
		logger = slog.Default()
	}

	registry := NewRegistry(collector, logger)
	manager := connection.NewManager(cfg, registry, collector, logger)
	registry.SetSender(manager)
	dispatcher := NewDispatcher(registry, manager.Frames(), manager.States(), collector, logger)

	ctx, cancel := context.WithCancel(context.Background())

	return &service{
		registry:   registry,
		manager:    manager,
		dispatcher: dispatcher,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Register adds a consumer, opening the shared connection on first use.
func (s *service) Register(topics []string, callbacks Callbacks) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrServiceClosed
	}
	if !s.opened {
		if err := s.open(); err != nil {
			s.mu.Unlock()
			return nil, err
		}
		s.opened = true
	}
	s.mu.Unlock()

	h := NewHandle(topics, callbacks)
	if err := s.registry.Register(h); err != nil {
		return nil, err
	}

	return func() { s.registry.Deregister(h) }, nil
}

// open starts the dispatcher and dials the connection. Caller holds s.mu.
func (s *service) open() error {
	if err := s.dispatcher.Start(s.ctx); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}
	if err := s.manager.Open(s.ctx); err != nil {
		s.dispatcher.Stop(context.Background())
		return fmt.Errorf("open connection: %w", err)
	}

	s.logger.Info("feed service opened")
	return nil
}

// Close tears down the connection and the dispatch loop. Registered
// handles stop receiving callbacks once the dispatcher drains; consumers
// still hold their deregister funcs, which stay safe to call.
func (s *service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	opened := s.opened
	s.mu.Unlock()

	var err error
	if opened {
		// Closing the manager closes its channels, which lets the
		// dispatch loop drain and exit on its own.
		err = s.manager.Close(ctx)
		if stopErr := s.dispatcher.Stop(ctx); stopErr != nil && err == nil {
			err = stopErr
		}
	} else {
		err = s.manager.Close(ctx)
	}
	s.cancel()

	s.logger.Info("feed service closed")
	return err
}

// Stats returns statistics from every layer.
func (s *service) Stats() ServiceStats {
	return ServiceStats{
		Connection: s.manager.Stats(),
		Dispatch:   s.dispatcher.Stats(),
		Registry:   s.registry.Stats(),
	}
}
