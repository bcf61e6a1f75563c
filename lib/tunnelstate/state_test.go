package tunnelstate

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

func testKey(t *testing.T) wgtypes.Key {
	t.Helper()
	key, err := wgtypes.GeneratePrivateKey()
	require.NoError(t, err)
	return key
}

func testConnectionData(t *testing.T) ConnectionData {
	t.Helper()
	return ConnectionData{
		SelectedRelays: SelectedRelays{
			Exit: Relay{
				Hostname:  "se-got-wg-001",
				Endpoint:  netip.MustParseAddrPort("185.213.154.68:51820"),
				PublicKey: testKey(t).PublicKey(),
			},
		},
		Reachability:           ReachabilityReachable,
		ConnectionAttemptCount: 2,
	}
}

func testBlockingData(prior PriorState, reason BlockedStateReason) BlockingData {
	return BlockingData{
		Reason:           reason,
		RelayConstraints: RelayConstraints{Locations: []string{"se"}},
		Reachability:     ReachabilityReachable,
		LastKeyRotation:  time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
		PriorState:       prior,
	}
}

// allStates returns one value of every variant, keyed by a test name.
func allStates(t *testing.T) map[string]State {
	t.Helper()
	d := testConnectionData(t)
	return map[string]State{
		"initial":       Initial{},
		"connecting":    Connecting{Data: d},
		"connected":     Connected{Data: d},
		"reconnecting":  Reconnecting{Data: d},
		"negotiating":   NegotiatingEphemeralPeer{Data: d, PrivateKey: testKey(t)},
		"disconnecting": Disconnecting{Data: d},
		"disconnected":  Disconnected{},
		"error":         Error{Data: testBlockingData(Connected{Data: d}, ReasonTunnelAdapter)},
	}
}

func TestTargetForReconnect(t *testing.T) {
	d := testConnectionData(t)

	tests := []struct {
		name   string
		state  State
		want   ReconnectTarget
		wantOK bool
	}{
		{"initial", Initial{}, TargetConnecting, true},
		{"connecting", Connecting{Data: d}, TargetConnecting, true},
		{"negotiating", NegotiatingEphemeralPeer{Data: d, PrivateKey: testKey(t)}, TargetConnecting, true},
		{"connected", Connected{Data: d}, TargetReconnecting, true},
		{"reconnecting", Reconnecting{Data: d}, TargetReconnecting, true},
		{"error after initial", Error{Data: testBlockingData(Initial{}, ReasonAccountExpired)}, TargetConnecting, true},
		{"error after connecting", Error{Data: testBlockingData(Connecting{Data: d}, ReasonAccountExpired)}, TargetConnecting, true},
		{"error after connected", Error{Data: testBlockingData(Connected{Data: d}, ReasonAccountExpired)}, TargetReconnecting, true},
		{"error after reconnecting", Error{Data: testBlockingData(Reconnecting{Data: d}, ReasonAccountExpired)}, TargetReconnecting, true},
		{"error without prior state", Error{}, TargetConnecting, true},
		{"disconnecting", Disconnecting{Data: d}, 0, false},
		{"disconnected", Disconnected{}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := TargetForReconnect(tt.state)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConnectionDataOf(t *testing.T) {
	for name, s := range allStates(t) {
		t.Run(name, func(t *testing.T) {
			_, ok := ConnectionDataOf(s)
			switch s.(type) {
			case Connecting, Connected, Reconnecting, NegotiatingEphemeralPeer, Disconnecting:
				assert.True(t, ok)
			default:
				assert.False(t, ok)
			}

			_, blocked := BlockedDataOf(s)
			_, isError := s.(Error)
			assert.Equal(t, isError, blocked)

			_, hasData := AssociatedDataOf(s)
			assert.Equal(t, ok || blocked, hasData)
		})
	}
}

func TestReplacingConnectionData(t *testing.T) {
	d := testConnectionData(t)
	replacement := testConnectionData(t)
	replacement.SelectedRelays.Exit.Hostname = "de-fra-wg-101"
	replacement.ConnectionAttemptCount = 7

	t.Run("swaps data and keeps variant", func(t *testing.T) {
		for _, s := range []State{Connecting{Data: d}, Connected{Data: d}, Reconnecting{Data: d}, Disconnecting{Data: d}} {
			got := ReplacingConnectionData(s, replacement)
			assert.Equal(t, s.Kind(), got.Kind())
			data, ok := ConnectionDataOf(got)
			require.True(t, ok)
			assert.True(t, data.Equal(replacement))
		}
	})

	t.Run("negotiating keeps private key", func(t *testing.T) {
		key := testKey(t)
		got := ReplacingConnectionData(NegotiatingEphemeralPeer{Data: d, PrivateKey: key}, replacement)
		neg, ok := got.(NegotiatingEphemeralPeer)
		require.True(t, ok)
		assert.Equal(t, key, neg.PrivateKey)
		assert.True(t, neg.Data.Equal(replacement))
	})

	t.Run("no-op without connection data", func(t *testing.T) {
		errState := Error{Data: testBlockingData(Initial{}, ReasonReadSettings)}
		for _, s := range []State{Initial{}, Disconnected{}, errState} {
			got := ReplacingConnectionData(s, replacement)
			assert.True(t, Equal(s, got), "state %s changed", s.Name())
		}
	})
}

func TestMutateAssociatedData_NoOp(t *testing.T) {
	for _, s := range []State{Initial{}, Disconnected{}} {
		called := false
		got := MutateAssociatedData(s, func(AssociatedData) { called = true })
		assert.False(t, called)
		assert.Equal(t, s, got)
	}
}

func TestMutateAssociatedData_KeepsVariant(t *testing.T) {
	for name, s := range allStates(t) {
		t.Run(name, func(t *testing.T) {
			got := MutateAssociatedData(s, func(data AssociatedData) {
				data.SetNetworkReachability(ReachabilityUnreachable)
			})
			assert.Equal(t, s.Kind(), got.Kind())

			data, ok := AssociatedDataOf(got)
			if !ok {
				return
			}
			assert.Equal(t, ReachabilityUnreachable, data.NetworkReachability())
		})
	}
}

func TestMutateAssociatedData_DoesNotAliasInput(t *testing.T) {
	d := testConnectionData(t)
	entry := Relay{Hostname: "se-sto-wg-002"}
	d.SelectedRelays.Entry = &entry
	original := Connected{Data: d}

	_ = MutateKeyPolicy(original, func(p *KeyPolicy) { *p = UsePrior(testKey(t), NewRotationHandle()) })

	assert.False(t, original.Data.KeyPolicy.IsUsePrior())
	assert.Equal(t, "se-sto-wg-002", original.Data.SelectedRelays.Entry.Hostname)

	// Replacing with data that shares an entry pointer must not leak it.
	replaced := ReplacingConnectionData(original, d).(Connected)
	replaced.Data.SelectedRelays.Entry.Hostname = "changed"
	assert.Equal(t, "se-sto-wg-002", entry.Hostname)
}

func TestMutateKeyPolicy_RoundTrip(t *testing.T) {
	policy := UsePrior(testKey(t), NewRotationHandle())

	for name, s := range allStates(t) {
		t.Run(name, func(t *testing.T) {
			got := SetKeyPolicy(s, policy)

			read, ok := KeyPolicyOf(got)
			if _, hasData := AssociatedDataOf(s); !hasData {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.True(t, read.Equal(policy))
		})
	}
}

func TestMutateKeyPolicy_ErrorKeepsBlockingData(t *testing.T) {
	blocking := testBlockingData(Reconnecting{Data: testConnectionData(t)}, ReasonDeviceLocked)
	s := Error{Data: blocking}

	got := MutateKeyPolicy(s, func(p *KeyPolicy) { *p = UsePrior(testKey(t), NewRotationHandle()) })

	b, ok := BlockedDataOf(got)
	require.True(t, ok)
	assert.True(t, b.KeyPolicy.IsUsePrior())
	assert.Equal(t, ReasonDeviceLocked, b.Reason)
	assert.True(t, Equal(blocking.PriorState, b.PriorState))
	assert.True(t, blocking.LastKeyRotation.Equal(b.LastKeyRotation))
}

func TestPriorStateOf(t *testing.T) {
	d := testConnectionData(t)

	tests := []struct {
		name     string
		state    State
		wantKind Kind
		wantOK   bool
	}{
		{"initial", Initial{}, KindInitial, true},
		{"connecting", Connecting{Data: d}, KindConnecting, true},
		{"connected", Connected{Data: d}, KindConnected, true},
		{"reconnecting", Reconnecting{Data: d}, KindReconnecting, true},
		{"negotiating counts as connecting", NegotiatingEphemeralPeer{Data: d}, KindConnecting, true},
		{"error yields its prior state", Error{Data: testBlockingData(Connected{Data: d}, ReasonUnknown)}, KindConnected, true},
		{"disconnecting", Disconnecting{Data: d}, 0, false},
		{"disconnected", Disconnected{}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prior, ok := PriorStateOf(tt.state)
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantKind, prior.Kind())
			}
		})
	}
}

func TestNegotiatingEphemeralPeerName(t *testing.T) {
	tests := []struct {
		pq, daita bool
		want      string
	}{
		{true, true, "Negotiating Post Quantum Key with Daita"},
		{true, false, "Negotiating Post Quantum Key"},
		{false, true, "Negotiating Daita peer without Post Quantum Key"},
		{false, false, "Negotiating ephemeral peer without Post Quantum Key or Daita"},
	}
	for _, tt := range tests {
		s := NegotiatingEphemeralPeer{Data: ConnectionData{IsPostQuantum: tt.pq, IsDaitaEnabled: tt.daita}}
		assert.Equal(t, tt.want, s.Name())
	}
}

func TestLogFormat(t *testing.T) {
	d := testConnectionData(t)

	assert.Equal(t,
		"Connected to entry: omitted, exit: se-got-wg-001, key: current, net: reachable, attempt: 2",
		LogFormat(Connected{Data: d}))

	multihop := d
	multihop.SelectedRelays.Entry = &Relay{Hostname: "se-sto-wg-002"}
	multihop.KeyPolicy = UsePrior(testKey(t), NewRotationHandle())
	assert.Equal(t,
		"Reconnecting to entry: se-sto-wg-002, exit: se-got-wg-001, key: prior, net: reachable, attempt: 2",
		LogFormat(Reconnecting{Data: multihop}))

	assert.Equal(t, "Error: accountExpired",
		LogFormat(Error{Data: testBlockingData(Initial{}, ReasonAccountExpired)}))
	assert.Equal(t, "Initial", LogFormat(Initial{}))
	assert.Equal(t, "Disconnecting", LogFormat(Disconnecting{Data: d}))
	assert.Equal(t, "Disconnected", LogFormat(Disconnected{}))
}

func TestEqual(t *testing.T) {
	d := testConnectionData(t)
	key := testKey(t)

	a := Connected{Data: d}
	b := Connected{Data: d}
	b.Data.KeyPolicy = UseCurrent()
	assert.True(t, Equal(a, b))

	withPriorA := SetKeyPolicy(a, UsePrior(key, NewRotationHandle()))
	withPriorB := SetKeyPolicy(a, UsePrior(key, NewRotationHandle()))
	assert.True(t, Equal(withPriorA, withPriorB), "rotation handle must not affect equality")

	assert.False(t, Equal(Connected{Data: d}, Reconnecting{Data: d}))
	assert.False(t, Equal(Initial{}, nil))
	assert.True(t, Equal(nil, nil))

	e1 := Error{Data: testBlockingData(Connected{Data: d}, ReasonUnknown)}
	e2 := Error{Data: testBlockingData(Connecting{Data: d}, ReasonUnknown)}
	assert.False(t, Equal(e1, e2), "prior state takes part in equality")
}

func TestScenarios(t *testing.T) {
	d := testConnectionData(t)

	target, ok := TargetForReconnect(Connecting{Data: d})
	assert.True(t, ok)
	assert.Equal(t, TargetConnecting, target)

	target, ok = TargetForReconnect(Connected{Data: d})
	assert.True(t, ok)
	assert.Equal(t, TargetReconnecting, target)

	target, ok = TargetForReconnect(Error{Data: BlockingData{PriorState: Connected{Data: d}}})
	assert.True(t, ok)
	assert.Equal(t, TargetReconnecting, target)

	target, ok = TargetForReconnect(Error{Data: BlockingData{PriorState: Initial{}}})
	assert.True(t, ok)
	assert.Equal(t, TargetConnecting, target)

	_, ok = TargetForReconnect(Disconnected{})
	assert.False(t, ok)

	assert.True(t, ShouldRestartAutomatically(ReasonTunnelAdapter))
	assert.False(t, ShouldRestartAutomatically(ReasonAccountExpired))
}

func TestClone(t *testing.T) {
	d := testConnectionData(t)
	d.SelectedRelays.Entry = &Relay{Hostname: "se-sto-wg-002"}
	original := Connected{Data: d}

	cloned := Clone(original)
	require.True(t, Equal(original, cloned))

	c := cloned.(Connected)
	c.Data.SelectedRelays.Entry.Hostname = "changed"
	assert.Equal(t, "se-sto-wg-002", original.Data.SelectedRelays.Entry.Hostname)

	assert.Nil(t, Clone(nil))
	assert.Equal(t, Disconnected{}, Clone(Disconnected{}))
}
