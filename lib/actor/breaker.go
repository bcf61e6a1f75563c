package actor

import (
	"context"

	"github.com/go-i2p/packettunnel/lib/errors"
	"github.com/go-i2p/packettunnel/lib/resilience"
	"github.com/go-i2p/packettunnel/lib/tunnelstate"
)

// GuardedSelector wraps a RelaySelector with a circuit breaker. Once the
// selector keeps failing, selections fail fast with resilience.ErrCircuitOpen
// until the breaker lets a probe through.
//
// A selection that finds no relay for the constraints is an answer, not an
// outage, and does not count against the circuit.
type GuardedSelector struct {
	selector RelaySelector
	breaker  *resilience.CircuitBreaker
}

// NewGuardedSelector returns selector guarded by breaker.
func NewGuardedSelector(selector RelaySelector, breaker *resilience.CircuitBreaker) *GuardedSelector {
	return &GuardedSelector{selector: selector, breaker: breaker}
}

// Breaker returns the circuit breaker guarding the selector.
func (g *GuardedSelector) Breaker() *resilience.CircuitBreaker {
	return g.breaker
}

// SelectRelays implements RelaySelector.
func (g *GuardedSelector) SelectRelays(ctx context.Context, c tunnelstate.RelayConstraints, attempt uint32) (tunnelstate.SelectedRelays, error) {
	var (
		relays tunnelstate.SelectedRelays
		answer error
	)
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		r, err := g.selector.SelectRelays(ctx, c, attempt)
		if err != nil && isConstraintFailure(err) {
			answer = err
			return nil
		}
		relays = r
		return err
	})
	if err != nil {
		return tunnelstate.SelectedRelays{}, err
	}
	if answer != nil {
		return tunnelstate.SelectedRelays{}, answer
	}
	return relays, nil
}

func isConstraintFailure(err error) bool {
	var blocked *BlockedError
	return errors.As(err, &blocked) || errors.Is(err, errors.ErrNoRelays)
}
