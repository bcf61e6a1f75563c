package tunnelstate

import (
	"fmt"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// Kind is the variant tag of a State.
type Kind uint8

const (
	KindInitial Kind = iota
	KindConnecting
	KindConnected
	KindReconnecting
	KindNegotiatingEphemeralPeer
	KindDisconnecting
	KindDisconnected
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindInitial:
		return "initial"
	case KindConnecting:
		return "connecting"
	case KindConnected:
		return "connected"
	case KindReconnecting:
		return "reconnecting"
	case KindNegotiatingEphemeralPeer:
		return "negotiating_ephemeral_peer"
	case KindDisconnecting:
		return "disconnecting"
	case KindDisconnected:
		return "disconnected"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// State is one variant of the tunnel lifecycle. The interface is sealed;
// the variants are Initial, Connecting, Connected, Reconnecting,
// NegotiatingEphemeralPeer, Disconnecting, Disconnected and Error.
type State interface {
	// Kind returns the variant tag.
	Kind() Kind
	// Name returns the human readable state name used in diagnostics.
	Name() string

	reconnectTarget() (ReconnectTarget, bool)
	connectionData() (ConnectionData, bool)
	withConnectionData(ConnectionData) State
	mutateAssociatedData(func(AssociatedData)) State
	logFormat() string
	equal(State) bool
}

// PriorState is the subset of states an Error can remember as the state the
// tunnel occupied right before the failure.
type PriorState interface {
	State
	clonePrior() PriorState
}

// Initial is a fresh tunnel that never attempted a connection.
type Initial struct{}

// Connecting is the first connection attempt after a start or a restart.
type Connecting struct {
	Data ConnectionData
}

// Connected is an established tunnel.
type Connected struct {
	Data ConnectionData
}

// Reconnecting is a tunnel re-establishing a connection it previously had.
type Reconnecting struct {
	Data ConnectionData
}

// NegotiatingEphemeralPeer is an in-flight ephemeral key exchange for a
// post-quantum and/or DAITA peer. PrivateKey is the candidate being
// negotiated, separate from the key policy's current key.
type NegotiatingEphemeralPeer struct {
	Data       ConnectionData
	PrivateKey wgtypes.Key
}

// Disconnecting is a tunnel being torn down.
type Disconnecting struct {
	Data ConnectionData
}

// Disconnected is a fully torn down tunnel.
type Disconnected struct{}

// Error is a tunnel blocked by a failure.
type Error struct {
	Data BlockingData
}

func (Initial) Kind() Kind                  { return KindInitial }
func (Connecting) Kind() Kind               { return KindConnecting }
func (Connected) Kind() Kind                { return KindConnected }
func (Reconnecting) Kind() Kind             { return KindReconnecting }
func (NegotiatingEphemeralPeer) Kind() Kind { return KindNegotiatingEphemeralPeer }
func (Disconnecting) Kind() Kind            { return KindDisconnecting }
func (Disconnected) Kind() Kind             { return KindDisconnected }
func (Error) Kind() Kind                    { return KindError }

func (Initial) Name() string       { return "Initial" }
func (Connecting) Name() string    { return "Connecting" }
func (Connected) Name() string     { return "Connected" }
func (Reconnecting) Name() string  { return "Reconnecting" }
func (Disconnecting) Name() string { return "Disconnecting" }
func (Disconnected) Name() string  { return "Disconnected" }
func (Error) Name() string         { return "Error" }

// Name depends on which kinds of ephemeral peer are being negotiated.
func (s NegotiatingEphemeralPeer) Name() string {
	switch {
	case s.Data.IsPostQuantum && s.Data.IsDaitaEnabled:
		return "Negotiating Post Quantum Key with Daita"
	case s.Data.IsPostQuantum:
		return "Negotiating Post Quantum Key"
	case s.Data.IsDaitaEnabled:
		return "Negotiating Daita peer without Post Quantum Key"
	default:
		// Typically the exit hop of a multihop tunnel.
		return "Negotiating ephemeral peer without Post Quantum Key or Daita"
	}
}

func (s Initial) clonePrior() PriorState      { return s }
func (s Connecting) clonePrior() PriorState   { return Connecting{Data: s.Data.clone()} }
func (s Connected) clonePrior() PriorState    { return Connected{Data: s.Data.clone()} }
func (s Reconnecting) clonePrior() PriorState { return Reconnecting{Data: s.Data.clone()} }

func (Initial) connectionData() (ConnectionData, bool)        { return ConnectionData{}, false }
func (s Connecting) connectionData() (ConnectionData, bool)   { return s.Data.clone(), true }
func (s Connected) connectionData() (ConnectionData, bool)    { return s.Data.clone(), true }
func (s Reconnecting) connectionData() (ConnectionData, bool) { return s.Data.clone(), true }
func (s NegotiatingEphemeralPeer) connectionData() (ConnectionData, bool) {
	return s.Data.clone(), true
}
func (s Disconnecting) connectionData() (ConnectionData, bool) { return s.Data.clone(), true }
func (Disconnected) connectionData() (ConnectionData, bool)    { return ConnectionData{}, false }
func (Error) connectionData() (ConnectionData, bool)           { return ConnectionData{}, false }

func (s Initial) withConnectionData(ConnectionData) State       { return s }
func (Connecting) withConnectionData(d ConnectionData) State    { return Connecting{Data: d.clone()} }
func (Connected) withConnectionData(d ConnectionData) State     { return Connected{Data: d.clone()} }
func (Reconnecting) withConnectionData(d ConnectionData) State  { return Reconnecting{Data: d.clone()} }
func (Disconnecting) withConnectionData(d ConnectionData) State { return Disconnecting{Data: d.clone()} }
func (s Disconnected) withConnectionData(ConnectionData) State  { return s }
func (s Error) withConnectionData(ConnectionData) State         { return s }
func (s NegotiatingEphemeralPeer) withConnectionData(d ConnectionData) State {
	return NegotiatingEphemeralPeer{Data: d.clone(), PrivateKey: s.PrivateKey}
}

func mutateConnectionData(d ConnectionData, modifier func(AssociatedData)) ConnectionData {
	d = d.clone()
	modifier(connectionDataRef{d: &d})
	return d
}

func (s Initial) mutateAssociatedData(func(AssociatedData)) State { return s }
func (s Connecting) mutateAssociatedData(m func(AssociatedData)) State {
	return Connecting{Data: mutateConnectionData(s.Data, m)}
}
func (s Connected) mutateAssociatedData(m func(AssociatedData)) State {
	return Connected{Data: mutateConnectionData(s.Data, m)}
}
func (s Reconnecting) mutateAssociatedData(m func(AssociatedData)) State {
	return Reconnecting{Data: mutateConnectionData(s.Data, m)}
}
func (s NegotiatingEphemeralPeer) mutateAssociatedData(m func(AssociatedData)) State {
	return NegotiatingEphemeralPeer{Data: mutateConnectionData(s.Data, m), PrivateKey: s.PrivateKey}
}
func (s Disconnecting) mutateAssociatedData(m func(AssociatedData)) State {
	return Disconnecting{Data: mutateConnectionData(s.Data, m)}
}
func (s Disconnected) mutateAssociatedData(func(AssociatedData)) State { return s }
func (s Error) mutateAssociatedData(m func(AssociatedData)) State {
	b := s.Data.clone()
	m(blockingDataRef{b: &b})
	return Error{Data: b}
}

func (s Initial) equal(other State) bool {
	_, ok := other.(Initial)
	return ok
}

func (s Connecting) equal(other State) bool {
	o, ok := other.(Connecting)
	return ok && s.Data.Equal(o.Data)
}

func (s Connected) equal(other State) bool {
	o, ok := other.(Connected)
	return ok && s.Data.Equal(o.Data)
}

func (s Reconnecting) equal(other State) bool {
	o, ok := other.(Reconnecting)
	return ok && s.Data.Equal(o.Data)
}

func (s NegotiatingEphemeralPeer) equal(other State) bool {
	o, ok := other.(NegotiatingEphemeralPeer)
	return ok && s.PrivateKey == o.PrivateKey && s.Data.Equal(o.Data)
}

func (s Disconnecting) equal(other State) bool {
	o, ok := other.(Disconnecting)
	return ok && s.Data.Equal(o.Data)
}

func (s Disconnected) equal(other State) bool {
	_, ok := other.(Disconnected)
	return ok
}

func (s Error) equal(other State) bool {
	o, ok := other.(Error)
	return ok && s.Data.Equal(o.Data)
}

// Equal reports whether a and b are the same variant with equal payloads.
// Key policies compare without their rotation handles.
func Equal(a, b State) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.equal(b)
}

// PriorStateOf narrows s to the state an Error should remember. An
// in-flight ephemeral negotiation counts as Connecting, an Error yields its
// own prior state, and teardown states have no valid prior state.
func PriorStateOf(s State) (PriorState, bool) {
	switch s := s.(type) {
	case Initial:
		return s, true
	case Connecting:
		return s.clonePrior(), true
	case Connected:
		return s.clonePrior(), true
	case Reconnecting:
		return s.clonePrior(), true
	case NegotiatingEphemeralPeer:
		return Connecting{Data: s.Data.clone()}, true
	case Error:
		if s.Data.PriorState == nil {
			return Initial{}, true
		}
		return s.Data.PriorState.clonePrior(), true
	default:
		return nil, false
	}
}
