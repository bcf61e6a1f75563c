package tunnelstate

import "fmt"

// BlockedStateReason explains why the tunnel entered the Error state.
type BlockedStateReason uint8

const (
	ReasonDeviceLocked BlockedStateReason = iota
	ReasonTunnelAdapter
	ReasonNoRelaysSatisfyingConstraints
	ReasonNoRelaysSatisfyingFilterConstraints
	ReasonMultihopEntryEqualsExit
	ReasonNoRelaysSatisfyingObfuscationSettings
	ReasonNoRelaysSatisfyingDaitaConstraints
	ReasonReadSettings
	ReasonInvalidAccount
	ReasonAccountExpired
	ReasonDeviceRevoked
	ReasonUnknown
	ReasonDeviceLoggedOut
	ReasonOutdatedSchema
	ReasonInvalidRelayPublicKey
	ReasonNoRelaysSatisfyingPortConstraints

	numBlockedStateReasons
)

type reasonInfo struct {
	name        string
	autoRestart bool
}

// blockedStateReasons is the single source of truth for every reason. The
// compile-time check below breaks the build when a reason is added without
// a row here.
//
// Only deviceLocked (keychain and filesystem stay locked after boot until the
// first unlock) and tunnelAdapter (adapter faults clear on re-initialisation)
// restart automatically.
var blockedStateReasons = [...]reasonInfo{
	ReasonDeviceLocked:                          {"deviceLocked", true},
	ReasonTunnelAdapter:                         {"tunnelAdapter", true},
	ReasonNoRelaysSatisfyingConstraints:         {"noRelaysSatisfyingConstraints", false},
	ReasonNoRelaysSatisfyingFilterConstraints:   {"noRelaysSatisfyingFilterConstraints", false},
	ReasonMultihopEntryEqualsExit:               {"multihopEntryEqualsExit", false},
	ReasonNoRelaysSatisfyingObfuscationSettings: {"noRelaysSatisfyingObfuscationSettings", false},
	ReasonNoRelaysSatisfyingDaitaConstraints:    {"noRelaysSatisfyingDaitaConstraints", false},
	ReasonReadSettings:                          {"readSettings", false},
	ReasonInvalidAccount:                        {"invalidAccount", false},
	ReasonAccountExpired:                        {"accountExpired", false},
	ReasonDeviceRevoked:                         {"deviceRevoked", false},
	ReasonUnknown:                               {"unknown", false},
	ReasonDeviceLoggedOut:                       {"deviceLoggedOut", false},
	ReasonOutdatedSchema:                        {"outdatedSchema", false},
	ReasonInvalidRelayPublicKey:                 {"invalidRelayPublicKey", false},
	ReasonNoRelaysSatisfyingPortConstraints:     {"noRelaysSatisfyingPortConstraints", false},
}

func _() {
	var x [1]struct{}
	_ = x[int(numBlockedStateReasons)-len(blockedStateReasons)]
}

// AllBlockedStateReasons returns every reason in declaration order.
func AllBlockedStateReasons() []BlockedStateReason {
	reasons := make([]BlockedStateReason, 0, numBlockedStateReasons)
	for r := BlockedStateReason(0); r < numBlockedStateReasons; r++ {
		reasons = append(reasons, r)
	}
	return reasons
}

// Valid reports whether r is one of the declared reasons.
func (r BlockedStateReason) Valid() bool {
	return r < numBlockedStateReasons
}

func (r BlockedStateReason) String() string {
	if !r.Valid() {
		return fmt.Sprintf("BlockedStateReason(%d)", uint8(r))
	}
	return blockedStateReasons[r].name
}

// ShouldRestartAutomatically reports whether the tunnel should retry on a
// periodic schedule. Only environmental causes that clear without user
// action qualify; everything else needs a settings or account change and
// must be surfaced instead.
func (r BlockedStateReason) ShouldRestartAutomatically() bool {
	if !r.Valid() {
		return false
	}
	return blockedStateReasons[r].autoRestart
}

// ShouldRestartAutomatically is the function form of the method of the same name.
func ShouldRestartAutomatically(reason BlockedStateReason) bool {
	return reason.ShouldRestartAutomatically()
}

// MarshalText implements encoding.TextMarshaler.
func (r BlockedStateReason) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid blocked state reason %d", uint8(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *BlockedStateReason) UnmarshalText(text []byte) error {
	reason, err := ParseBlockedStateReason(string(text))
	if err != nil {
		return err
	}
	*r = reason
	return nil
}

// ParseBlockedStateReason maps a reason name back to its value.
func ParseBlockedStateReason(name string) (BlockedStateReason, error) {
	for i, info := range blockedStateReasons {
		if info.name == name {
			return BlockedStateReason(i), nil
		}
	}
	return ReasonUnknown, fmt.Errorf("unknown blocked state reason %q", name)
}
