// Package actor drives one tunnel through its lifecycle.
//
// An Actor owns a single tunnelstate.State and is its only writer. Every
// operation takes the actor lock, computes the next state with the pure
// functions of package tunnelstate, replaces the held value and emits an
// event. Relay selection is the exception: it runs without the lock and its
// result is dropped if the state moved on in the meantime. Blocked states whose reason allows it are restarted automatically
// on a rate-limited timer, and key rotations fall back to the current key
// when they are not confirmed in time.
package actor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"golang.org/x/time/rate"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/go-i2p/packettunnel/lib/errors"
	"github.com/go-i2p/packettunnel/lib/metrics"
	"github.com/go-i2p/packettunnel/lib/tunnelstate"
)

// StartOptions describes the tunnel Start should bring up.
type StartOptions struct {
	// Constraints are passed to the relay selector on every selection and
	// recorded in the blocking data when the tunnel is blocked.
	Constraints tunnelstate.RelayConstraints
	// CurrentKey is the device key in use, recorded when blocked.
	CurrentKey  wgtypes.Key
	PostQuantum bool
	Daita       bool
}

// Actor is the single-writer owner of a tunnel state.
type Actor struct {
	mu       sync.Mutex
	config   Config
	logger   *slog.Logger
	selector RelaySelector

	state tunnelstate.State
	// generation counts transitions between variants. Relay selection runs
	// without the lock and only commits if no transition happened meanwhile.
	generation      uint64
	options         StartOptions
	reachability    tunnelstate.NetworkReachability
	lastKeyRotation time.Time

	events *eventEmitter

	restartLimiter     *rate.Limiter
	restartReservation *rate.Reservation
	restartTimer       *time.Timer
	restartSeq         uint64

	rotationTimer   *time.Timer
	pendingRotation tunnelstate.RotationHandle

	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// New creates an actor in the Initial state.
func New(cfg Config, selector RelaySelector) (*Actor, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if selector == nil {
		return nil, fmt.Errorf("%w: relay selector is required", errors.ErrInvalidInput)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Actor{
		config:         cfg,
		logger:         cfg.Logger.With("component", "actor"),
		selector:       selector,
		state:          tunnelstate.Initial{},
		events:         newEventEmitter(cfg.EventBufferSize),
		restartLimiter: newRestartLimiter(cfg),
		ctx:            ctx,
		cancel:         cancel,
	}
	metrics.CurrentState.Set(int64(tunnelstate.KindInitial))
	metrics.RecordStartTime()
	return a, nil
}

// State returns a copy of the current state.
func (a *Actor) State() tunnelstate.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return tunnelstate.Clone(a.state)
}

// Events returns the event channel. It is closed by Close.
func (a *Actor) Events() <-chan Event {
	return a.events.channel()
}

// DroppedEvents returns how many events were dropped because the consumer
// did not keep up.
func (a *Actor) DroppedEvents() uint64 {
	return a.events.droppedEvents()
}

// Start selects relays and enters Connecting. It is only valid from Initial
// and Disconnected. A selection failure blocks the tunnel and is returned.
// The selection runs without the actor lock; if another transition happens
// meanwhile Start fails with errors.ErrInvalidTransition.
func (a *Actor) Start(ctx context.Context, opts StartOptions) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return errors.ErrTunnelClosed
	}
	switch a.state.(type) {
	case tunnelstate.Initial, tunnelstate.Disconnected:
	default:
		err := a.invalidTransitionLocked("start")
		a.mu.Unlock()
		return err
	}
	generation := a.generation
	from := a.state.Name()
	a.mu.Unlock()

	opts.Constraints = opts.Constraints.Clone()
	relays, err := a.selectRelays(ctx, opts.Constraints.Clone(), 0, from)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return errors.ErrTunnelClosed
	}
	if a.generation != generation {
		return a.supersededLocked("start")
	}
	a.options = opts
	if err != nil {
		a.blockLocked(reasonForError(err))
		return err
	}

	next := tunnelstate.Connecting{Data: a.newConnectionData(relays, tunnelstate.UseCurrent(), 0)}
	a.setStateLocked(next, "started connecting")
	a.events.emit(Event{
		Type:    EventStarted,
		State:   tunnelstate.Clone(next),
		Message: "started connecting to " + relays.Exit.Hostname,
	})
	return nil
}

// Reconnect moves the tunnel to the target TargetForReconnect picks for the
// current state. Disconnecting and Disconnected reject the request with
// errors.ErrReconnectRejected.
func (a *Actor) Reconnect(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return errors.ErrTunnelClosed
	}
	plan, err := a.planReconnectLocked()
	a.mu.Unlock()
	if err != nil {
		return err
	}
	return a.reconnect(ctx, plan)
}

// reconnectPlan is what a reconnect decided under the lock before relays
// are selected without it.
type reconnectPlan struct {
	target      tunnelstate.ReconnectTarget
	attempt     uint32
	reuseRelays bool
	constraints tunnelstate.RelayConstraints
	from        string
	generation  uint64
}

func (a *Actor) planReconnectLocked() (reconnectPlan, error) {
	metrics.ReconnectsRequested.Inc()

	target, ok := tunnelstate.TargetForReconnect(a.state)
	if !ok {
		metrics.ReconnectsRejected.Inc()
		err := oops.
			In("actor").
			With("state", a.state.Name()).
			Wrapf(errors.ErrReconnectRejected, "reconnect from %s", a.state.Name())
		a.logger.Warn("reconnect rejected", "state", tunnelstate.LogFormat(a.state))
		a.events.emit(Event{
			Type:    EventReconnectRejected,
			State:   tunnelstate.Clone(a.state),
			Error:   err,
			Message: "reconnect rejected",
		})
		return reconnectPlan{}, err
	}

	a.stopRestartLocked()

	current, _ := tunnelstate.ConnectionDataOf(a.state)
	plan := reconnectPlan{
		target:      target,
		constraints: a.options.Constraints.Clone(),
		from:        a.state.Name(),
		generation:  a.generation,
	}
	switch target {
	case tunnelstate.TargetConnecting:
		switch a.state.(type) {
		case tunnelstate.Connecting, tunnelstate.NegotiatingEphemeralPeer:
			plan.attempt = current.ConnectionAttemptCount + 1
		}
	case tunnelstate.TargetReconnecting:
		if _, ok := a.state.(tunnelstate.Reconnecting); ok {
			plan.attempt = current.ConnectionAttemptCount + 1
		}
		// An established tunnel keeps its relays; every other source
		// selects again so repeated failures rotate through candidates.
		_, plan.reuseRelays = a.state.(tunnelstate.Connected)
	}
	return plan, nil
}

func (a *Actor) reconnect(ctx context.Context, plan reconnectPlan) error {
	var (
		relays tunnelstate.SelectedRelays
		err    error
	)
	if !plan.reuseRelays {
		relays, err = a.selectRelays(ctx, plan.constraints, plan.attempt, plan.from)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return errors.ErrTunnelClosed
	}
	if a.generation != plan.generation {
		return a.supersededLocked("reconnect")
	}
	if err != nil {
		a.blockLocked(reasonForError(err))
		return err
	}
	if plan.reuseRelays {
		current, _ := tunnelstate.ConnectionDataOf(a.state)
		relays = current.SelectedRelays
	}

	// The key policy is read again: a rotation may have started while the
	// relays were being selected.
	policy, ok := tunnelstate.KeyPolicyOf(a.state)
	if !ok {
		policy = tunnelstate.UseCurrent()
	}

	switch plan.target {
	case tunnelstate.TargetConnecting:
		a.setStateLocked(tunnelstate.Connecting{Data: a.newConnectionData(relays, policy, plan.attempt)}, "reconnect restarted connecting")
	case tunnelstate.TargetReconnecting:
		a.setStateLocked(tunnelstate.Reconnecting{Data: a.newConnectionData(relays, policy, plan.attempt)}, "reconnecting")
	}
	return nil
}

// NegotiateEphemeralPeer records an in-flight ephemeral peer exchange using
// privateKey. Valid from Connecting and Reconnecting.
func (a *Actor) NegotiateEphemeralPeer(privateKey wgtypes.Key) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return errors.ErrTunnelClosed
	}

	var data tunnelstate.ConnectionData
	switch s := a.state.(type) {
	case tunnelstate.Connecting:
		data = s.Data
	case tunnelstate.Reconnecting:
		data = s.Data
	default:
		return a.invalidTransitionLocked("negotiate ephemeral peer")
	}

	next := tunnelstate.NegotiatingEphemeralPeer{Data: data, PrivateKey: privateKey}
	a.setStateLocked(next, "negotiating ephemeral peer")
	return nil
}

// MarkConnected records a completed handshake. Valid from Connecting,
// Reconnecting and NegotiatingEphemeralPeer.
func (a *Actor) MarkConnected() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return errors.ErrTunnelClosed
	}

	var data tunnelstate.ConnectionData
	switch s := a.state.(type) {
	case tunnelstate.Connecting:
		data = s.Data
	case tunnelstate.Reconnecting:
		data = s.Data
	case tunnelstate.NegotiatingEphemeralPeer:
		data = s.Data
	default:
		return a.invalidTransitionLocked("mark connected")
	}

	a.setStateLocked(tunnelstate.Connected{Data: data}, "connected")
	return nil
}

// UpdateRelays swaps the selected relays of the current connection without
// changing the state variant.
func (a *Actor) UpdateRelays(relays tunnelstate.SelectedRelays) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return errors.ErrTunnelClosed
	}
	if relays.Exit.Hostname == "" {
		return fmt.Errorf("%w: exit relay is required", errors.ErrInvalidInput)
	}

	data, ok := tunnelstate.ConnectionDataOf(a.state)
	if _, tearingDown := a.state.(tunnelstate.Disconnecting); !ok || tearingDown {
		return a.invalidTransitionLocked("update relays")
	}

	data.SelectedRelays = relays
	a.updateStateLocked(tunnelstate.ReplacingConnectionData(a.state, data), "relays updated")
	return nil
}

// SetNetworkReachability records the host's reachability. It is applied to
// whichever payload the current state carries and remembered for states
// entered later.
func (a *Actor) SetNetworkReachability(reachability tunnelstate.NetworkReachability) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return errors.ErrTunnelClosed
	}

	a.reachability = reachability
	next := tunnelstate.MutateAssociatedData(a.state, func(data tunnelstate.AssociatedData) {
		data.SetNetworkReachability(reachability)
	})
	if !tunnelstate.Equal(next, a.state) {
		a.updateStateLocked(next, "network reachability changed")
	}
	return nil
}

// Block enters the Error state with reason. If the reason allows it an
// automatic restart is scheduled. Blocking a tunnel that is being torn down
// is an invalid transition.
func (a *Actor) Block(reason tunnelstate.BlockedStateReason) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return errors.ErrTunnelClosed
	}
	if !reason.Valid() {
		return fmt.Errorf("%w: %s", errors.ErrInvalidInput, reason)
	}
	switch a.state.(type) {
	case tunnelstate.Disconnecting, tunnelstate.Disconnected:
		return a.invalidTransitionLocked("block")
	}

	a.blockLocked(reason)
	return nil
}

func (a *Actor) blockLocked(reason tunnelstate.BlockedStateReason) {
	prior, ok := tunnelstate.PriorStateOf(a.state)
	if !ok {
		prior = tunnelstate.Initial{}
	}
	policy, ok := tunnelstate.KeyPolicyOf(a.state)
	if !ok {
		policy = tunnelstate.UseCurrent()
	}

	a.stopRestartLocked()

	next := tunnelstate.Error{Data: tunnelstate.BlockingData{
		Reason:           reason,
		RelayConstraints: a.options.Constraints.Clone(),
		CurrentKey:       a.options.CurrentKey,
		KeyPolicy:        policy,
		Reachability:     a.reachability,
		LastKeyRotation:  a.lastKeyRotation,
		PriorState:       prior,
	}}
	a.setStateLocked(next, "tunnel blocked")

	restart := tunnelstate.ShouldRestartAutomatically(reason)
	metrics.BlockedStates.Inc(reason.String())
	a.logger.Warn("tunnel blocked", "reason", reason.String(), "auto_restart", restart)
	a.events.emit(Event{
		Type:    EventBlocked,
		State:   tunnelstate.Clone(next),
		Message: "blocked: " + reason.String(),
		Data:    reason,
	})

	if restart {
		a.scheduleRestartLocked()
	}
}

// Stop begins tearing the tunnel down. States with a connection enter
// Disconnecting; Initial and Error go straight to Disconnected. Stopping a
// tunnel that is already being torn down does nothing.
func (a *Actor) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return errors.ErrTunnelClosed
	}

	switch a.state.(type) {
	case tunnelstate.Disconnecting, tunnelstate.Disconnected:
		return nil
	}

	a.stopTimersLocked()
	if data, ok := tunnelstate.ConnectionDataOf(a.state); ok {
		a.setStateLocked(tunnelstate.Disconnecting{Data: data}, "disconnecting")
		return nil
	}
	a.setStateLocked(tunnelstate.Disconnected{}, "disconnected")
	return nil
}

// MarkDisconnected completes a teardown started by Stop.
func (a *Actor) MarkDisconnected() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return errors.ErrTunnelClosed
	}
	if _, ok := a.state.(tunnelstate.Disconnecting); !ok {
		return a.invalidTransitionLocked("mark disconnected")
	}

	a.setStateLocked(tunnelstate.Disconnected{}, "disconnected")
	return nil
}

// NextRetryDelay returns the backoff before the next connection attempt,
// keyed on the current connection attempt count.
func (a *Actor) NextRetryDelay() time.Duration {
	a.mu.Lock()
	data, _ := tunnelstate.ConnectionDataOf(a.state)
	cfg := a.config
	a.mu.Unlock()

	delay := calculateBackoff(cfg, data.ConnectionAttemptCount)
	metrics.RetryDelaySeconds.Observe(delay.Seconds())
	return delay
}

// Close stops all timers and closes the event channel. The state is left
// as it is. Close is idempotent.
func (a *Actor) Close() error {
	// Cancel first so relay selections in flight give up.
	a.cancel()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	a.stopTimersLocked()
	a.events.close()
	a.logger.Info("actor closed", "state", tunnelstate.LogFormat(a.state))
	return nil
}

// setStateLocked moves to another variant, or to a fresh connection
// attempt, and invalidates relay selections in flight.
func (a *Actor) setStateLocked(next tunnelstate.State, message string) {
	a.generation++
	a.publishStateLocked(next, message)
}

// updateStateLocked replaces the payload of the current variant. Relay
// selections in flight stay valid.
func (a *Actor) updateStateLocked(next tunnelstate.State, message string) {
	a.publishStateLocked(next, message)
}

func (a *Actor) publishStateLocked(next tunnelstate.State, message string) {
	prev := a.state
	a.state = next

	metrics.StateTransitions.Inc(next.Kind().String())
	metrics.CurrentState.Set(int64(next.Kind()))

	a.logger.Info(message, "from", prev.Name(), "state", tunnelstate.LogFormat(next))
	a.events.emit(Event{
		Type:     EventStateChanged,
		State:    tunnelstate.Clone(next),
		Previous: tunnelstate.Clone(prev),
		Message:  message,
	})
}

// selectRelays asks the selector for relays without holding the actor lock.
// Close cancels the selection through the actor context.
func (a *Actor) selectRelays(ctx context.Context, constraints tunnelstate.RelayConstraints, attempt uint32, from string) (tunnelstate.SelectedRelays, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(a.ctx, cancel)
	defer stop()

	relays, err := a.selector.SelectRelays(ctx, constraints, attempt)
	if err == nil && relays.Exit.Hostname == "" {
		err = errors.ErrNoRelays
	}
	if err != nil {
		return tunnelstate.SelectedRelays{}, oops.
			In("actor").
			With("state", from, "attempt", attempt).
			Wrapf(err, "select relays")
	}
	return relays, nil
}

func (a *Actor) newConnectionData(relays tunnelstate.SelectedRelays, policy tunnelstate.KeyPolicy, attempt uint32) tunnelstate.ConnectionData {
	return tunnelstate.ConnectionData{
		SelectedRelays:         relays,
		KeyPolicy:              policy,
		Reachability:           a.reachability,
		ConnectionAttemptCount: attempt,
		IsPostQuantum:          a.options.PostQuantum,
		IsDaitaEnabled:         a.options.Daita,
	}
}

func (a *Actor) supersededLocked(op string) error {
	return oops.
		In("actor").
		With("state", a.state.Name(), "operation", op).
		Wrapf(errors.ErrInvalidTransition, "%s superseded by a transition to %s", op, a.state.Name())
}

func (a *Actor) invalidTransitionLocked(op string) error {
	return oops.
		In("actor").
		With("state", a.state.Name(), "operation", op).
		Wrapf(errors.ErrInvalidTransition, "%s from %s", op, a.state.Name())
}

func (a *Actor) stopTimersLocked() {
	a.stopRestartLocked()
	a.stopRotationLocked()
}
