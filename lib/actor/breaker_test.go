package actor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-i2p/packettunnel/lib/errors"
	"github.com/go-i2p/packettunnel/lib/resilience"
	"github.com/go-i2p/packettunnel/lib/tunnelstate"
)

func newGuarded(sel RelaySelector, failures int) *GuardedSelector {
	return NewGuardedSelector(sel, resilience.NewCircuitBreaker("test-selector", resilience.CircuitBreakerConfig{
		FailureThreshold: failures,
		OpenTimeout:      time.Minute,
	}))
}

func TestGuardedSelectorPassesThrough(t *testing.T) {
	sel := &fakeSelector{relays: testRelays()}
	g := newGuarded(sel, 2)

	got, err := g.SelectRelays(context.Background(), tunnelstate.RelayConstraints{}, 1)
	require.NoError(t, err)
	assert.Equal(t, "se-got-wg-002", got.Exit.Hostname)
	assert.Equal(t, []uint32{1}, sel.calls())
}

func TestGuardedSelectorOpensOnOutage(t *testing.T) {
	sel := &fakeSelector{relays: testRelays(), err: errors.ErrTimeout}
	g := newGuarded(sel, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := g.SelectRelays(ctx, tunnelstate.RelayConstraints{}, 0)
		assert.ErrorIs(t, err, errors.ErrTimeout)
	}
	assert.Equal(t, resilience.CircuitOpen, g.Breaker().State())

	_, err := g.SelectRelays(ctx, tunnelstate.RelayConstraints{}, 0)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Len(t, sel.calls(), 2, "open circuit must not reach the selector")
	assert.Equal(t, tunnelstate.ReasonUnknown, reasonForError(err))
}

func TestGuardedSelectorIgnoresConstraintFailures(t *testing.T) {
	sel := &fakeSelector{relays: testRelays(), err: errors.ErrNoRelays}
	g := newGuarded(sel, 1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := g.SelectRelays(ctx, tunnelstate.RelayConstraints{}, 0)
		assert.ErrorIs(t, err, errors.ErrNoRelays)
	}

	sel.setErr(&BlockedError{Reason: tunnelstate.ReasonMultihopEntryEqualsExit})
	_, err := g.SelectRelays(ctx, tunnelstate.RelayConstraints{}, 0)
	assert.Equal(t, tunnelstate.ReasonMultihopEntryEqualsExit, reasonForError(err))

	assert.Equal(t, resilience.CircuitClosed, g.Breaker().State())
	assert.Len(t, sel.calls(), 4)
}
