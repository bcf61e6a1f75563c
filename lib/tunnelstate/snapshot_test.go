package tunnelstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	d := testConnectionData(t)
	d.SelectedRelays.Entry = &Relay{Hostname: "se-sto-wg-002", PublicKey: testKey(t).PublicKey()}
	d.KeyPolicy = UsePrior(testKey(t), NewRotationHandle())
	d.IsPostQuantum = true

	blocking := testBlockingData(Reconnecting{Data: d}, ReasonDeviceLocked)
	blocking.CurrentKey = testKey(t)
	blocking.RelayConstraints = RelayConstraints{
		Locations:      []string{"se-got"},
		EntryLocations: []string{"se-sto"},
		Port:           51820,
		Multihop:       true,
	}

	states := []State{
		Initial{},
		Connecting{Data: d},
		Connected{Data: d},
		Reconnecting{Data: d},
		NegotiatingEphemeralPeer{Data: d, PrivateKey: testKey(t)},
		Disconnecting{Data: d},
		Disconnected{},
		Error{Data: blocking},
	}

	for _, s := range states {
		t.Run(s.Kind().String(), func(t *testing.T) {
			data, err := MarshalState(s)
			require.NoError(t, err)

			decoded, err := UnmarshalState(data)
			require.NoError(t, err)
			assert.True(t, Equal(s, decoded), "decoded %s from %s", LogFormat(decoded), data)
		})
	}
}

func TestSnapshotKeepsRotationHandle(t *testing.T) {
	handle := NewRotationHandle()
	s := Connected{Data: testConnectionData(t)}
	s.Data.KeyPolicy = UsePrior(testKey(t), handle)

	data, err := MarshalState(s)
	require.NoError(t, err)
	decoded, err := UnmarshalState(data)
	require.NoError(t, err)

	policy, ok := KeyPolicyOf(decoded)
	require.True(t, ok)
	_, got, ok := policy.Prior()
	require.True(t, ok)
	assert.Equal(t, handle, got)
}

func TestUnmarshalStateErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `nope`},
		{"unknown state", `{"state":"sleeping"}`},
		{"connected without data", `{"state":"connected"}`},
		{"connected without exit", `{"state":"connected","connection":{"exit":{"hostname":""}}}`},
		{"bad endpoint", `{"state":"connecting","connection":{"exit":{"hostname":"a","endpoint":"nowhere"}}}`},
		{"bad key policy", `{"state":"connecting","connection":{"exit":{"hostname":"a"},"key_policy":{"mode":"future"}}}`},
		{"bad reachability", `{"state":"connecting","connection":{"exit":{"hostname":"a"},"reachability":"maybe"}}`},
		{"error without data", `{"state":"error"}`},
		{"error with unknown reason", `{"state":"error","blocking":{"reason":"sunspots"}}`},
		{"nested error", `{"state":"error","blocking":{"reason":"unknown","prior_state":{"state":"error","blocking":{"reason":"unknown"}}}}`},
		{"disconnected prior", `{"state":"error","blocking":{"reason":"unknown","prior_state":{"state":"disconnected"}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalState([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidSnapshot)
		})
	}
}

func TestUnmarshalStateErrorDefaultsPriorToInitial(t *testing.T) {
	s, err := UnmarshalState([]byte(`{"state":"error","blocking":{"reason":"tunnelAdapter"}}`))
	require.NoError(t, err)

	b, ok := BlockedDataOf(s)
	require.True(t, ok)
	assert.Equal(t, KindInitial, b.PriorState.Kind())
	assert.Equal(t, ReasonTunnelAdapter, b.Reason)
}
