package tunnelstate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldRestartAutomatically(t *testing.T) {
	want := map[BlockedStateReason]bool{
		ReasonDeviceLocked:                          true,
		ReasonTunnelAdapter:                         true,
		ReasonNoRelaysSatisfyingConstraints:         false,
		ReasonNoRelaysSatisfyingFilterConstraints:   false,
		ReasonMultihopEntryEqualsExit:               false,
		ReasonNoRelaysSatisfyingObfuscationSettings: false,
		ReasonNoRelaysSatisfyingDaitaConstraints:    false,
		ReasonReadSettings:                          false,
		ReasonInvalidAccount:                        false,
		ReasonAccountExpired:                        false,
		ReasonDeviceRevoked:                         false,
		ReasonUnknown:                               false,
		ReasonDeviceLoggedOut:                       false,
		ReasonOutdatedSchema:                        false,
		ReasonInvalidRelayPublicKey:                 false,
		ReasonNoRelaysSatisfyingPortConstraints:     false,
	}

	all := AllBlockedStateReasons()
	require.Len(t, all, len(want), "every reason needs an expectation")

	for _, reason := range all {
		t.Run(reason.String(), func(t *testing.T) {
			expected, ok := want[reason]
			require.True(t, ok, "missing expectation for %s", reason)
			assert.Equal(t, expected, ShouldRestartAutomatically(reason))
		})
	}
}

func TestBlockedStateReasonNames(t *testing.T) {
	seen := make(map[string]bool)
	for _, reason := range AllBlockedStateReasons() {
		name := reason.String()
		assert.NotEmpty(t, name)
		assert.False(t, seen[name], "duplicate name %q", name)
		seen[name] = true

		parsed, err := ParseBlockedStateReason(name)
		require.NoError(t, err)
		assert.Equal(t, reason, parsed)
	}
}

func TestBlockedStateReasonInvalid(t *testing.T) {
	invalid := numBlockedStateReasons
	assert.False(t, invalid.Valid())
	assert.False(t, invalid.ShouldRestartAutomatically())
	assert.Equal(t, "BlockedStateReason(16)", invalid.String())

	_, err := invalid.MarshalText()
	assert.Error(t, err)

	_, err = ParseBlockedStateReason("keyboardNotFound")
	assert.Error(t, err)
}

func TestBlockedStateReasonJSON(t *testing.T) {
	type wrapper struct {
		Reason BlockedStateReason `json:"reason"`
	}

	data, err := json.Marshal(wrapper{Reason: ReasonOutdatedSchema})
	require.NoError(t, err)
	assert.JSONEq(t, `{"reason":"outdatedSchema"}`, string(data))

	var decoded wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"reason":"deviceRevoked"}`), &decoded))
	assert.Equal(t, ReasonDeviceRevoked, decoded.Reason)
}
