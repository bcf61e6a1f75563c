package actor

import (
	"time"

	"github.com/samber/oops"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/go-i2p/packettunnel/lib/errors"
	"github.com/go-i2p/packettunnel/lib/metrics"
	"github.com/go-i2p/packettunnel/lib/tunnelstate"
)

// StartKeyRotation keeps traffic on priorKey while a new device key is
// pushed. The returned handle confirms the rotation; if it is not confirmed
// within KeyRotationTimeout the policy falls back to the current key.
// Starting a new rotation supersedes a pending one.
func (a *Actor) StartKeyRotation(priorKey wgtypes.Key) (tunnelstate.RotationHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return tunnelstate.RotationHandle{}, errors.ErrTunnelClosed
	}
	_, hasPolicy := tunnelstate.KeyPolicyOf(a.state)
	if _, tearingDown := a.state.(tunnelstate.Disconnecting); !hasPolicy || tearingDown {
		return tunnelstate.RotationHandle{}, a.invalidTransitionLocked("start key rotation")
	}

	a.stopRotationLocked()

	handle := tunnelstate.NewRotationHandle()
	now := time.Now()
	next := tunnelstate.SetKeyPolicy(a.state, tunnelstate.UsePrior(priorKey, handle))
	if blocked, ok := next.(tunnelstate.Error); ok {
		blocked.Data.LastKeyRotation = now
		next = blocked
	}

	a.lastKeyRotation = now
	a.pendingRotation = handle
	a.rotationTimer = time.AfterFunc(a.config.KeyRotationTimeout, func() { a.expireKeyRotation(handle) })

	a.updateStateLocked(next, "key rotation started")
	metrics.KeyRotationsStarted.Inc()
	a.events.emit(Event{
		Type:    EventKeyRotationStarted,
		State:   tunnelstate.Clone(next),
		Message: "key rotation started",
		Data:    handle,
	})
	return handle, nil
}

// ConfirmKeyRotation switches traffic to the current key. handle must be
// the one returned by the pending StartKeyRotation.
func (a *Actor) ConfirmKeyRotation(handle tunnelstate.RotationHandle) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return errors.ErrTunnelClosed
	}
	if handle.IsZero() || handle != a.pendingRotation {
		return oops.
			In("actor").
			With("handle", handle.String()).
			Wrapf(errors.ErrUnknownRotation, "confirm key rotation")
	}

	a.stopRotationLocked()
	a.useCurrentKeyLocked("key rotation confirmed")
	metrics.KeyRotationsConfirmed.Inc()
	a.events.emit(Event{
		Type:    EventKeyRotationConfirmed,
		State:   tunnelstate.Clone(a.state),
		Message: "key rotation confirmed",
		Data:    handle,
	})
	return nil
}

func (a *Actor) expireKeyRotation(handle tunnelstate.RotationHandle) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || handle != a.pendingRotation {
		return
	}
	a.rotationTimer = nil
	a.pendingRotation = tunnelstate.RotationHandle{}

	a.logger.Warn("key rotation timed out", "handle", handle.String())
	a.useCurrentKeyLocked("key rotation timed out")
	metrics.KeyRotationsTimedOut.Inc()
	a.events.emit(Event{
		Type:  EventKeyRotationTimedOut,
		State: tunnelstate.Clone(a.state),
		Error: oops.
			In("actor").
			With("handle", handle.String(), "timeout", a.config.KeyRotationTimeout).
			Wrapf(errors.ErrTimeout, "key rotation not confirmed"),
		Message: "key rotation timed out",
		Data:    handle,
	})
}

func (a *Actor) useCurrentKeyLocked(message string) {
	next := tunnelstate.SetKeyPolicy(a.state, tunnelstate.UseCurrent())
	if !tunnelstate.Equal(next, a.state) {
		a.updateStateLocked(next, message)
	}
}

func (a *Actor) stopRotationLocked() {
	if a.rotationTimer != nil {
		a.rotationTimer.Stop()
		a.rotationTimer = nil
	}
	a.pendingRotation = tunnelstate.RotationHandle{}
}
