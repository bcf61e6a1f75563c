package actor

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/go-i2p/packettunnel/lib/errors"
	"github.com/go-i2p/packettunnel/lib/tunnelstate"
	"github.com/go-i2p/packettunnel/lib/validation"
)

// RelaySelector picks the relays for a connection attempt. attempt is the
// connection attempt count the selection is for, so implementations can
// rotate through candidates on repeated failures.
type RelaySelector interface {
	SelectRelays(ctx context.Context, constraints tunnelstate.RelayConstraints, attempt uint32) (tunnelstate.SelectedRelays, error)
}

// BlockedError is returned by collaborators that know which blocked state
// reason a failure maps to.
type BlockedError struct {
	Reason tunnelstate.BlockedStateReason
	Err    error
}

func (e *BlockedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("blocked (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("blocked (%s)", e.Reason)
}

func (e *BlockedError) Unwrap() error {
	return e.Err
}

// reasonForError maps a collaborator failure to the reason the tunnel is
// blocked with.
func reasonForError(err error) tunnelstate.BlockedStateReason {
	var blocked *BlockedError
	if errors.As(err, &blocked) && blocked.Reason.Valid() {
		return blocked.Reason
	}
	if errors.Is(err, errors.ErrNoRelays) {
		return tunnelstate.ReasonNoRelaysSatisfyingConstraints
	}
	return tunnelstate.ReasonUnknown
}

// StaticRelaySelector selects from a fixed relay list. Exit relays are
// filtered by Locations and Port, entry relays by EntryLocations. A relay is
// in a location when its hostname starts with the location followed by a
// dash, so "se-got-wg-001" is in "se" and "se-got".
type StaticRelaySelector struct {
	Relays []tunnelstate.Relay
}

// NewStaticRelaySelector checks relays and returns a selector over them.
// Hostnames must be well formed and unique, and every relay needs an
// endpoint.
func NewStaticRelaySelector(relays []tunnelstate.Relay) (*StaticRelaySelector, error) {
	seen := make(map[string]struct{}, len(relays))
	for i, r := range relays {
		field := fmt.Sprintf("relays[%d]", i)
		if err := validation.All(
			func() error { return validation.RelayHostname(field+".hostname", r.Hostname) },
			func() error { return validation.Endpoint(field+".endpoint", r.Endpoint) },
		); err != nil {
			return nil, fmt.Errorf("%w: %w", errors.ErrInvalidInput, err)
		}
		if _, dup := seen[r.Hostname]; dup {
			return nil, fmt.Errorf("%w: %s: duplicate hostname %q", errors.ErrInvalidInput, field, r.Hostname)
		}
		seen[r.Hostname] = struct{}{}
	}
	return &StaticRelaySelector{Relays: slices.Clone(relays)}, nil
}

// SelectRelays implements RelaySelector. Repeated attempts cycle through the
// matching relays.
func (s *StaticRelaySelector) SelectRelays(ctx context.Context, c tunnelstate.RelayConstraints, attempt uint32) (tunnelstate.SelectedRelays, error) {
	if err := ctx.Err(); err != nil {
		return tunnelstate.SelectedRelays{}, err
	}

	exits := s.matching(c.Locations, c.Port)
	if len(exits) == 0 {
		return tunnelstate.SelectedRelays{}, errors.ErrNoRelays
	}
	exit := exits[int(attempt)%len(exits)]
	selected := tunnelstate.SelectedRelays{Exit: exit}

	if !c.Multihop {
		return selected, nil
	}

	entries := slices.DeleteFunc(s.matching(c.EntryLocations, c.Port), func(r tunnelstate.Relay) bool {
		return r.Hostname == exit.Hostname
	})
	if len(entries) == 0 {
		return tunnelstate.SelectedRelays{}, &BlockedError{
			Reason: tunnelstate.ReasonMultihopEntryEqualsExit,
			Err:    errors.ErrNoRelays,
		}
	}
	entry := entries[int(attempt)%len(entries)]
	selected.Entry = &entry
	return selected, nil
}

func (s *StaticRelaySelector) matching(locations []string, port uint16) []tunnelstate.Relay {
	var out []tunnelstate.Relay
	for _, r := range s.Relays {
		if port != 0 && r.Endpoint.Port() != port {
			continue
		}
		if len(locations) > 0 && !slices.ContainsFunc(locations, func(loc string) bool {
			return relayInLocation(r.Hostname, loc)
		}) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func relayInLocation(hostname, location string) bool {
	return hostname == location || strings.HasPrefix(hostname, location+"-")
}
