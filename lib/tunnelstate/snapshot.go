package tunnelstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// ErrInvalidSnapshot is returned when a snapshot cannot be decoded into a
// valid State.
var ErrInvalidSnapshot = errors.New("invalid state snapshot")

type stateJSON struct {
	State      string              `json:"state"`
	Connection *connectionDataJSON `json:"connection,omitempty"`
	PrivateKey string              `json:"private_key,omitempty"`
	Blocking   *blockingDataJSON   `json:"blocking,omitempty"`
}

type relayJSON struct {
	Hostname  string `json:"hostname"`
	Endpoint  string `json:"endpoint,omitempty"`
	PublicKey string `json:"public_key,omitempty"`
}

type keyPolicyJSON struct {
	Mode           string `json:"mode"`
	PriorKey       string `json:"prior_key,omitempty"`
	RotationHandle string `json:"rotation_handle,omitempty"`
}

type connectionDataJSON struct {
	Entry          *relayJSON    `json:"entry,omitempty"`
	Exit           relayJSON     `json:"exit"`
	KeyPolicy      keyPolicyJSON `json:"key_policy"`
	Reachability   string        `json:"reachability"`
	Attempt        uint32        `json:"attempt"`
	IsPostQuantum  bool          `json:"post_quantum"`
	IsDaitaEnabled bool          `json:"daita"`
}

type constraintsJSON struct {
	Locations      []string `json:"locations,omitempty"`
	EntryLocations []string `json:"entry_locations,omitempty"`
	Providers      []string `json:"providers,omitempty"`
	Port           uint16   `json:"port,omitempty"`
	Multihop       bool     `json:"multihop,omitempty"`
}

type blockingDataJSON struct {
	Reason           string          `json:"reason"`
	RelayConstraints constraintsJSON `json:"relay_constraints"`
	CurrentKey       string          `json:"current_key,omitempty"`
	KeyPolicy        keyPolicyJSON   `json:"key_policy"`
	Reachability     string          `json:"reachability"`
	LastKeyRotation  *time.Time      `json:"last_key_rotation,omitempty"`
	PriorState       *stateJSON      `json:"prior_state,omitempty"`
}

// MarshalState encodes s as a tagged JSON document.
func MarshalState(s State) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil state", ErrInvalidSnapshot)
	}
	doc, err := encodeState(s)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(doc, "", "  ")
}

// UnmarshalState decodes a document produced by MarshalState.
func UnmarshalState(data []byte) (State, error) {
	var doc stateJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	return decodeState(&doc)
}

func encodeState(s State) (*stateJSON, error) {
	doc := &stateJSON{State: s.Kind().String()}
	if d, ok := s.connectionData(); ok {
		doc.Connection = encodeConnectionData(d)
	}
	switch s := s.(type) {
	case NegotiatingEphemeralPeer:
		doc.PrivateKey = encodeKey(s.PrivateKey)
	case Error:
		b, err := encodeBlockingData(s.Data)
		if err != nil {
			return nil, err
		}
		doc.Blocking = b
	}
	return doc, nil
}

func decodeState(doc *stateJSON) (State, error) {
	var data ConnectionData
	needsConnection := false
	switch doc.State {
	case KindConnecting.String(), KindConnected.String(), KindReconnecting.String(),
		KindNegotiatingEphemeralPeer.String(), KindDisconnecting.String():
		needsConnection = true
	}
	if needsConnection {
		if doc.Connection == nil {
			return nil, fmt.Errorf("%w: %s requires connection data", ErrInvalidSnapshot, doc.State)
		}
		d, err := decodeConnectionData(doc.Connection)
		if err != nil {
			return nil, err
		}
		data = d
	}

	switch doc.State {
	case KindInitial.String():
		return Initial{}, nil
	case KindConnecting.String():
		return Connecting{Data: data}, nil
	case KindConnected.String():
		return Connected{Data: data}, nil
	case KindReconnecting.String():
		return Reconnecting{Data: data}, nil
	case KindNegotiatingEphemeralPeer.String():
		key, err := decodeKey(doc.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("%w: private key: %v", ErrInvalidSnapshot, err)
		}
		return NegotiatingEphemeralPeer{Data: data, PrivateKey: key}, nil
	case KindDisconnecting.String():
		return Disconnecting{Data: data}, nil
	case KindDisconnected.String():
		return Disconnected{}, nil
	case KindError.String():
		if doc.Blocking == nil {
			return nil, fmt.Errorf("%w: error requires blocking data", ErrInvalidSnapshot)
		}
		b, err := decodeBlockingData(doc.Blocking)
		if err != nil {
			return nil, err
		}
		return Error{Data: b}, nil
	default:
		return nil, fmt.Errorf("%w: unknown state %q", ErrInvalidSnapshot, doc.State)
	}
}

func encodeKey(k wgtypes.Key) string {
	if k == (wgtypes.Key{}) {
		return ""
	}
	return k.String()
}

func decodeKey(s string) (wgtypes.Key, error) {
	if s == "" {
		return wgtypes.Key{}, nil
	}
	return wgtypes.ParseKey(s)
}

func encodeRelay(r Relay) relayJSON {
	out := relayJSON{Hostname: r.Hostname, PublicKey: encodeKey(r.PublicKey)}
	if r.Endpoint.IsValid() {
		out.Endpoint = r.Endpoint.String()
	}
	return out
}

func decodeRelay(r relayJSON) (Relay, error) {
	out := Relay{Hostname: r.Hostname}
	if r.Endpoint != "" {
		ep, err := netip.ParseAddrPort(r.Endpoint)
		if err != nil {
			return Relay{}, fmt.Errorf("%w: relay %s endpoint: %v", ErrInvalidSnapshot, r.Hostname, err)
		}
		out.Endpoint = ep
	}
	key, err := decodeKey(r.PublicKey)
	if err != nil {
		return Relay{}, fmt.Errorf("%w: relay %s public key: %v", ErrInvalidSnapshot, r.Hostname, err)
	}
	out.PublicKey = key
	return out, nil
}

func encodeKeyPolicy(p KeyPolicy) keyPolicyJSON {
	key, handle, ok := p.Prior()
	if !ok {
		return keyPolicyJSON{Mode: "current"}
	}
	out := keyPolicyJSON{Mode: "prior", PriorKey: encodeKey(key)}
	if !handle.IsZero() {
		out.RotationHandle = handle.String()
	}
	return out
}

func decodeKeyPolicy(p keyPolicyJSON) (KeyPolicy, error) {
	switch p.Mode {
	case "", "current":
		return UseCurrent(), nil
	case "prior":
		key, err := decodeKey(p.PriorKey)
		if err != nil {
			return KeyPolicy{}, fmt.Errorf("%w: prior key: %v", ErrInvalidSnapshot, err)
		}
		var handle RotationHandle
		if p.RotationHandle != "" {
			if handle, err = ParseRotationHandle(p.RotationHandle); err != nil {
				return KeyPolicy{}, fmt.Errorf("%w: rotation handle: %v", ErrInvalidSnapshot, err)
			}
		}
		return UsePrior(key, handle), nil
	default:
		return KeyPolicy{}, fmt.Errorf("%w: unknown key policy %q", ErrInvalidSnapshot, p.Mode)
	}
}

func decodeReachability(s string) (NetworkReachability, error) {
	switch s {
	case "", ReachabilityUndetermined.String():
		return ReachabilityUndetermined, nil
	case ReachabilityReachable.String():
		return ReachabilityReachable, nil
	case ReachabilityUnreachable.String():
		return ReachabilityUnreachable, nil
	default:
		return 0, fmt.Errorf("%w: unknown reachability %q", ErrInvalidSnapshot, s)
	}
}

func encodeConnectionData(d ConnectionData) *connectionDataJSON {
	out := &connectionDataJSON{
		Exit:           encodeRelay(d.SelectedRelays.Exit),
		KeyPolicy:      encodeKeyPolicy(d.KeyPolicy),
		Reachability:   d.Reachability.String(),
		Attempt:        d.ConnectionAttemptCount,
		IsPostQuantum:  d.IsPostQuantum,
		IsDaitaEnabled: d.IsDaitaEnabled,
	}
	if d.SelectedRelays.Entry != nil {
		entry := encodeRelay(*d.SelectedRelays.Entry)
		out.Entry = &entry
	}
	return out
}

func decodeConnectionData(in *connectionDataJSON) (ConnectionData, error) {
	exit, err := decodeRelay(in.Exit)
	if err != nil {
		return ConnectionData{}, err
	}
	if exit.Hostname == "" {
		return ConnectionData{}, fmt.Errorf("%w: exit relay is required", ErrInvalidSnapshot)
	}
	out := ConnectionData{
		SelectedRelays:         SelectedRelays{Exit: exit},
		ConnectionAttemptCount: in.Attempt,
		IsPostQuantum:          in.IsPostQuantum,
		IsDaitaEnabled:         in.IsDaitaEnabled,
	}
	if in.Entry != nil {
		entry, err := decodeRelay(*in.Entry)
		if err != nil {
			return ConnectionData{}, err
		}
		out.SelectedRelays.Entry = &entry
	}
	if out.KeyPolicy, err = decodeKeyPolicy(in.KeyPolicy); err != nil {
		return ConnectionData{}, err
	}
	if out.Reachability, err = decodeReachability(in.Reachability); err != nil {
		return ConnectionData{}, err
	}
	return out, nil
}

func encodeBlockingData(b BlockingData) (*blockingDataJSON, error) {
	if !b.Reason.Valid() {
		return nil, fmt.Errorf("%w: invalid reason %d", ErrInvalidSnapshot, uint8(b.Reason))
	}
	out := &blockingDataJSON{
		Reason: b.Reason.String(),
		RelayConstraints: constraintsJSON{
			Locations:      b.RelayConstraints.Locations,
			EntryLocations: b.RelayConstraints.EntryLocations,
			Providers:      b.RelayConstraints.Providers,
			Port:           b.RelayConstraints.Port,
			Multihop:       b.RelayConstraints.Multihop,
		},
		CurrentKey:   encodeKey(b.CurrentKey),
		KeyPolicy:    encodeKeyPolicy(b.KeyPolicy),
		Reachability: b.Reachability.String(),
	}
	if !b.LastKeyRotation.IsZero() {
		t := b.LastKeyRotation.UTC()
		out.LastKeyRotation = &t
	}
	if b.PriorState != nil {
		prior, err := encodeState(b.PriorState)
		if err != nil {
			return nil, err
		}
		out.PriorState = prior
	}
	return out, nil
}

func decodeBlockingData(in *blockingDataJSON) (BlockingData, error) {
	reason, err := ParseBlockedStateReason(in.Reason)
	if err != nil {
		return BlockingData{}, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	out := BlockingData{
		Reason: reason,
		RelayConstraints: RelayConstraints{
			Locations:      in.RelayConstraints.Locations,
			EntryLocations: in.RelayConstraints.EntryLocations,
			Providers:      in.RelayConstraints.Providers,
			Port:           in.RelayConstraints.Port,
			Multihop:       in.RelayConstraints.Multihop,
		},
	}
	if out.CurrentKey, err = decodeKey(in.CurrentKey); err != nil {
		return BlockingData{}, fmt.Errorf("%w: current key: %v", ErrInvalidSnapshot, err)
	}
	if out.KeyPolicy, err = decodeKeyPolicy(in.KeyPolicy); err != nil {
		return BlockingData{}, err
	}
	if out.Reachability, err = decodeReachability(in.Reachability); err != nil {
		return BlockingData{}, err
	}
	if in.LastKeyRotation != nil {
		out.LastKeyRotation = *in.LastKeyRotation
	}

	out.PriorState = Initial{}
	if in.PriorState != nil {
		prior, err := decodeState(in.PriorState)
		if err != nil {
			return BlockingData{}, err
		}
		narrowed, ok := prior.(PriorState)
		if !ok {
			return BlockingData{}, fmt.Errorf("%w: %s cannot be the prior state of an error",
				ErrInvalidSnapshot, prior.Kind())
		}
		out.PriorState = narrowed
	}
	return out, nil
}
