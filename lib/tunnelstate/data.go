package tunnelstate

import (
	"fmt"
	"net/netip"
	"slices"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// NetworkReachability is the host's view of whether the network is usable.
type NetworkReachability uint8

const (
	// ReachabilityUndetermined means no path update has arrived yet.
	ReachabilityUndetermined NetworkReachability = iota
	// ReachabilityReachable means at least one interface can reach the network.
	ReachabilityReachable
	// ReachabilityUnreachable means the network is known to be down.
	ReachabilityUnreachable
)

func (r NetworkReachability) String() string {
	switch r {
	case ReachabilityReachable:
		return "reachable"
	case ReachabilityUnreachable:
		return "unreachable"
	case ReachabilityUndetermined:
		return "undetermined"
	default:
		return fmt.Sprintf("NetworkReachability(%d)", uint8(r))
	}
}

// Relay describes a relay the tunnel connects through.
type Relay struct {
	Hostname  string
	Endpoint  netip.AddrPort
	PublicKey wgtypes.Key
}

// SelectedRelays holds the relays picked for the current connection
// attempt. Entry is nil unless multihop is active.
type SelectedRelays struct {
	Entry *Relay
	Exit  Relay
}

// IsMultihop reports whether traffic goes through an entry relay first.
func (s SelectedRelays) IsMultihop() bool {
	return s.Entry != nil
}

// Equal compares relays by value.
func (s SelectedRelays) Equal(other SelectedRelays) bool {
	if (s.Entry == nil) != (other.Entry == nil) {
		return false
	}
	if s.Entry != nil && *s.Entry != *other.Entry {
		return false
	}
	return s.Exit == other.Exit
}

func (s SelectedRelays) clone() SelectedRelays {
	if s.Entry != nil {
		entry := *s.Entry
		s.Entry = &entry
	}
	return s
}

// ConnectionData is carried by every state that owns a live or pending
// connection.
type ConnectionData struct {
	SelectedRelays SelectedRelays
	KeyPolicy      KeyPolicy
	Reachability   NetworkReachability
	// ConnectionAttemptCount grows with each reconnect attempt and feeds
	// the retry backoff.
	ConnectionAttemptCount uint32
	IsPostQuantum          bool
	IsDaitaEnabled         bool
}

// Equal compares two payloads field by field using KeyPolicy equality.
func (d ConnectionData) Equal(other ConnectionData) bool {
	return d.SelectedRelays.Equal(other.SelectedRelays) &&
		d.KeyPolicy.Equal(other.KeyPolicy) &&
		d.Reachability == other.Reachability &&
		d.ConnectionAttemptCount == other.ConnectionAttemptCount &&
		d.IsPostQuantum == other.IsPostQuantum &&
		d.IsDaitaEnabled == other.IsDaitaEnabled
}

func (d ConnectionData) clone() ConnectionData {
	d.SelectedRelays = d.SelectedRelays.clone()
	return d
}

// RelayConstraints are the user's relay preferences at the time the tunnel
// was blocked. Empty slices and a zero Port mean "any".
type RelayConstraints struct {
	Locations      []string
	EntryLocations []string
	Providers      []string
	Port           uint16
	Multihop       bool
}

// Equal compares constraints by value.
func (c RelayConstraints) Equal(other RelayConstraints) bool {
	return slices.Equal(c.Locations, other.Locations) &&
		slices.Equal(c.EntryLocations, other.EntryLocations) &&
		slices.Equal(c.Providers, other.Providers) &&
		c.Port == other.Port &&
		c.Multihop == other.Multihop
}

// Clone returns a copy that shares no slices with c.
func (c RelayConstraints) Clone() RelayConstraints {
	c.Locations = slices.Clone(c.Locations)
	c.EntryLocations = slices.Clone(c.EntryLocations)
	c.Providers = slices.Clone(c.Providers)
	return c
}

// BlockingData is carried by the Error state.
type BlockingData struct {
	Reason           BlockedStateReason
	RelayConstraints RelayConstraints
	// CurrentKey is the zero key when no key could be read.
	CurrentKey   wgtypes.Key
	KeyPolicy    KeyPolicy
	Reachability NetworkReachability
	// LastKeyRotation is the zero time when no rotation happened yet.
	LastKeyRotation time.Time
	PriorState      PriorState
}

// Equal compares two payloads field by field, prior state included.
func (b BlockingData) Equal(other BlockingData) bool {
	return b.Reason == other.Reason &&
		b.RelayConstraints.Equal(other.RelayConstraints) &&
		b.CurrentKey == other.CurrentKey &&
		b.KeyPolicy.Equal(other.KeyPolicy) &&
		b.Reachability == other.Reachability &&
		b.LastKeyRotation.Equal(other.LastKeyRotation) &&
		priorStatesEqual(b.PriorState, other.PriorState)
}

func (b BlockingData) clone() BlockingData {
	b.RelayConstraints = b.RelayConstraints.Clone()
	if b.PriorState != nil {
		b.PriorState = b.PriorState.clonePrior()
	}
	return b
}

func priorStatesEqual(a, b PriorState) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return Equal(a, b)
}

// AssociatedData is the capability shared by ConnectionData and
// BlockingData. Modifiers passed to MutateAssociatedData only see this
// interface, so they cannot be handed the wrong kind of payload.
type AssociatedData interface {
	KeyPolicy() KeyPolicy
	SetKeyPolicy(KeyPolicy)
	NetworkReachability() NetworkReachability
	SetNetworkReachability(NetworkReachability)
}

type connectionDataRef struct{ d *ConnectionData }

func (r connectionDataRef) KeyPolicy() KeyPolicy                         { return r.d.KeyPolicy }
func (r connectionDataRef) SetKeyPolicy(p KeyPolicy)                     { r.d.KeyPolicy = p }
func (r connectionDataRef) NetworkReachability() NetworkReachability     { return r.d.Reachability }
func (r connectionDataRef) SetNetworkReachability(n NetworkReachability) { r.d.Reachability = n }

type blockingDataRef struct{ b *BlockingData }

func (r blockingDataRef) KeyPolicy() KeyPolicy                         { return r.b.KeyPolicy }
func (r blockingDataRef) SetKeyPolicy(p KeyPolicy)                     { r.b.KeyPolicy = p }
func (r blockingDataRef) NetworkReachability() NetworkReachability     { return r.b.Reachability }
func (r blockingDataRef) SetNetworkReachability(n NetworkReachability) { r.b.Reachability = n }
