package core

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/go-i2p/packettunnel/lib/actor"
	"github.com/go-i2p/packettunnel/lib/errors"
	"github.com/go-i2p/packettunnel/lib/resilience"
	"github.com/go-i2p/packettunnel/lib/tunnelstate"
)

// ServiceState represents the lifecycle of the service itself, as opposed
// to the tunnel state it drives.
type ServiceState int

const (
	// ServiceInitial is the state before Start is called.
	ServiceInitial ServiceState = iota
	// ServiceStarting means the actor is being created and started.
	ServiceStarting
	// ServiceRunning means the actor is driving the tunnel.
	ServiceRunning
	// ServiceStopping means the tunnel is being torn down.
	ServiceStopping
	// ServiceStopped means the service has stopped.
	ServiceStopped
)

func (s ServiceState) String() string {
	switch s {
	case ServiceInitial:
		return "initial"
	case ServiceStarting:
		return "starting"
	case ServiceRunning:
		return "running"
	case ServiceStopping:
		return "stopping"
	case ServiceStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Service wires a tunnel actor to its configuration. It starts the actor,
// forwards actor events to a callback and writes a state snapshot to the
// data directory when it stops.
type Service struct {
	mu       sync.RWMutex
	config   *Config
	base     *slog.Logger
	logger   *slog.Logger
	selector actor.RelaySelector
	state    ServiceState

	actor *actor.Actor
	// done signals that the event loop has finished
	done chan struct{}

	startedAt time.Time

	onEvent func(actor.Event)
}

// NewService creates a service with the given configuration. selector is
// guarded by a circuit breaker configured from the [relays] section. The
// tunnel is not started until Start is called.
func NewService(cfg *Config, selector actor.RelaySelector, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", errors.ErrInvalidInput)
	}
	if selector == nil {
		return nil, fmt.Errorf("%w: relay selector is required", errors.ErrInvalidInput)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		config:   cfg,
		base:     logger,
		logger:   logger.With("component", "service"),
		selector: actor.NewGuardedSelector(selector, resilience.NewCircuitBreaker("relay_selector", cfg.BreakerConfig())),
		state:    ServiceInitial,
		done:     make(chan struct{}),
	}, nil
}

// Start creates the actor and starts the tunnel with currentKey as the
// device key. A relay selection failure leaves the service running with
// the tunnel blocked; the error is still returned.
func (s *Service) Start(ctx context.Context, currentKey wgtypes.Key) error {
	s.mu.Lock()
	if s.state != ServiceInitial && s.state != ServiceStopped {
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot start service in state %s", errors.ErrInvalidState, s.state)
	}
	s.state = ServiceStarting
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("starting service",
		"data_dir", s.config.Tunnel.DataDir,
		"post_quantum", s.config.Tunnel.PostQuantum,
		"daita", s.config.Tunnel.Daita,
		"multihop", s.config.Tunnel.Multihop,
	)

	if err := s.config.EnsureDataDir(); err != nil {
		s.setState(ServiceStopped)
		return fmt.Errorf("creating data directory: %w", err)
	}

	a, err := actor.New(s.config.ActorConfig(s.base), s.selector)
	if err != nil {
		s.setState(ServiceStopped)
		return fmt.Errorf("creating actor: %w", err)
	}

	s.mu.Lock()
	s.actor = a
	s.state = ServiceRunning
	s.startedAt = time.Now()
	done := s.done
	s.mu.Unlock()

	go s.run(a, done)

	if err := a.Start(ctx, s.config.StartOptions(currentKey)); err != nil {
		s.logger.Warn("tunnel blocked on start", "error", err)
		return err
	}
	s.logger.Info("service started")
	return nil
}

// run forwards actor events until the actor is closed.
func (s *Service) run(a *actor.Actor, done chan struct{}) {
	defer close(done)
	for ev := range a.Events() {
		s.mu.RLock()
		callback := s.onEvent
		s.mu.RUnlock()
		if callback != nil {
			callback(ev)
		}
	}
}

// Stop tears the tunnel down, writes the final state snapshot and closes
// the actor. It blocks until the event loop has drained or ctx is done.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != ServiceRunning {
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot stop service in state %s", errors.ErrInvalidState, s.state)
	}
	s.state = ServiceStopping
	a := s.actor
	done := s.done
	s.mu.Unlock()

	s.logger.Info("stopping service")

	var errs []error
	if err := a.Stop(); err != nil {
		errs = append(errs, err)
	}
	if _, ok := a.State().(tunnelstate.Disconnecting); ok {
		if err := a.MarkDisconnected(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.writeSnapshot(a.State()); err != nil {
		errs = append(errs, err)
	}
	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}

	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	s.setState(ServiceStopped)
	s.logger.Info("service stopped")
	return errors.Join(errs...)
}

func (s *Service) writeSnapshot(state tunnelstate.State) error {
	data, err := tunnelstate.MarshalState(state)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := os.WriteFile(s.config.SnapshotPath(), data, 0600); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

func (s *Service) setState(state ServiceState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// State returns the service lifecycle state.
func (s *Service) State() ServiceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Actor returns the tunnel actor, or nil before Start.
func (s *Service) Actor() *actor.Actor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actor
}

// Config returns the service configuration.
func (s *Service) Config() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Done returns a channel that is closed when the event loop has finished.
func (s *Service) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done
}

// Uptime returns how long the service has been running.
// Returns zero if not running.
func (s *Service) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startedAt.IsZero() || s.state != ServiceRunning {
		return 0
	}
	return time.Since(s.startedAt)
}

// SetOnEvent sets a callback for actor events. The callback runs on the
// event loop goroutine.
func (s *Service) SetOnEvent(callback func(actor.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvent = callback
}
